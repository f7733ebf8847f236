package space

import (
	"context"
	"log/slog"
	"sync"
)

// Dialer establishes a connection to a space backend.
type Dialer func(ctx context.Context) (Space, error)

// Handle is the process-wide entry point to the space. It dials on first use
// and hands the same Space to every caller afterwards. A failed dial is not
// retried: the error is kept and returned from every later Get, so a space
// that is unreachable at startup fails fast.
//
// Handles are constructed explicitly and injected; there is no package-level
// instance.
type Handle struct {
	dial Dialer

	mu     sync.Mutex
	space  Space
	err    error
	dialed bool
}

// NewHandle returns a handle that dials lazily with d.
func NewHandle(d Dialer) *Handle {
	return &Handle{dial: d}
}

// Static wraps an existing space, mostly for tests.
func Static(s Space) *Handle {
	return &Handle{space: s, dialed: true}
}

// Get returns the shared space, dialing it on first use.
func (h *Handle) Get(ctx context.Context) (Space, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dialed {
		h.dialed = true
		h.space, h.err = h.dial(ctx)
		if h.err != nil {
			h.err = Unavailable("dial", h.err)
			slog.ErrorContext(ctx, "Failed to connect to coordination space", "error", h.err)
		}
	}
	return h.space, h.err
}

// Close closes the underlying space if it was ever dialed successfully.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.space == nil {
		return nil
	}
	err := h.space.Close()
	h.space = nil
	h.err = ErrClosed
	return err
}
