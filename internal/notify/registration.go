package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nfrund/topicspace/internal/space"
)

// State is the lifecycle position of a Registration.
type State int

const (
	StateUnregistered State = iota
	StateRegistered
	StateRenewing
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistered:
		return "registered"
	case StateRenewing:
		return "renewing"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Registration is a live subscription. It moves from Registered to
// Cancelled on Cancel or when its lease runs out, passing through Renewing
// while a renewal is in flight.
type Registration struct {
	class  Class
	logger *slog.Logger

	mu     sync.Mutex
	state  State
	lease  space.Lease
	timer  *time.Timer
	done   chan struct{}
	closed bool
}

// Class returns the event class this registration reports.
func (r *Registration) Class() Class { return r.class }

// State returns the current lifecycle state.
func (r *Registration) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Expiration returns when the lease runs out unless renewed.
func (r *Registration) Expiration() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lease == nil {
		return time.Time{}
	}
	return r.lease.Expiration()
}

// Done is closed once the registration is cancelled or expired.
func (r *Registration) Done() <-chan struct{} {
	return r.done
}

// Renew extends the lease by d. A lease the space no longer knows ends the
// registration and reports ErrUnknownLease.
func (r *Registration) Renew(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	if r.state != StateRegistered {
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("cannot renew a %s registration: %w", state, space.ErrUnknownLease)
	}
	r.state = StateRenewing
	lease := r.lease
	r.mu.Unlock()

	err := lease.Renew(ctx, d)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRenewing {
		// Cancelled while renewing.
		return nil
	}
	switch {
	case err == nil:
		r.state = StateRegistered
		r.armLocked(lease.Expiration())
		return nil
	case errors.Is(err, space.ErrUnknownLease):
		r.finishLocked()
		return err
	default:
		// The old lease still stands, and it may have run out while the
		// renewal was in flight.
		expires := lease.Expiration()
		if !expires.IsZero() && !time.Now().Before(expires) {
			r.logger.Debug("Registration lease expired during failed renewal", "class", r.class)
			r.finishLocked()
		} else {
			r.state = StateRegistered
			r.armLocked(expires)
		}
		return fmt.Errorf("failed to renew registration: %w", err)
	}
}

// Cancel ends the registration. It is best-effort: failures are logged and
// the registration is considered cancelled regardless.
func (r *Registration) Cancel(ctx context.Context) {
	r.mu.Lock()
	if r.state == StateCancelled || r.state == StateUnregistered {
		r.mu.Unlock()
		return
	}
	lease := r.lease
	r.finishLocked()
	r.mu.Unlock()

	if err := lease.Cancel(ctx); err != nil && !errors.Is(err, space.ErrUnknownLease) {
		r.logger.WarnContext(ctx, "Failed to cancel registration lease", "class", r.class, "registration", lease.ID(), "error", err)
	}
}

// armLocked schedules the local end of the registration at the lease
// expiry. Unbounded leases never expire.
func (r *Registration) armLocked(expires time.Time) {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if expires.IsZero() {
		return
	}
	r.timer = time.AfterFunc(time.Until(expires), func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.state == StateRegistered {
			r.logger.Debug("Registration lease expired", "class", r.class)
			r.finishLocked()
		}
	})
}

func (r *Registration) finishLocked() {
	r.state = StateCancelled
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if !r.closed {
		r.closed = true
		close(r.done)
	}
}
