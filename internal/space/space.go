package space

import (
	"context"
	"time"
)

// Forever requests an unbounded lease. Any non-positive lease duration is
// treated the same way.
const Forever time.Duration = -1

// NoWait makes Read and Take return immediately when nothing matches.
const NoWait time.Duration = 0

// Tuple is a stored entry. Keys are the matchable fields; Payload carries the
// full encoded value. ID is assigned by the space on write.
type Tuple struct {
	ID      string            `json:"id"`
	Kind    string            `json:"kind"`
	Keys    map[string]string `json:"keys"`
	Payload []byte            `json:"payload"`
}

// Template is a partial tuple: keys that are missing or empty match anything.
type Template struct {
	Kind string
	Keys map[string]string
}

// Matches reports whether t satisfies the template.
func (tmpl Template) Matches(t Tuple) bool {
	if tmpl.Kind != t.Kind {
		return false
	}
	for k, v := range tmpl.Keys {
		if v == "" {
			continue
		}
		if t.Keys[k] != v {
			return false
		}
	}
	return true
}

// EventKind selects which transitions a registration is told about.
type EventKind int

const (
	// EventWritten fires when a matching tuple becomes visible: a plain write,
	// a committed transactional write, or an aborted take that restores it.
	EventWritten EventKind = 1 << iota
	// EventTaken fires when a matching tuple is removed by a take.
	EventTaken
)

func (k EventKind) String() string {
	switch k {
	case EventWritten:
		return "written"
	case EventTaken:
		return "taken"
	case EventWritten | EventTaken:
		return "written|taken"
	default:
		return "none"
	}
}

// Event is delivered to a Listener for each matching transition.
type Event struct {
	Kind         EventKind `json:"kind"`
	Tuple        Tuple     `json:"tuple"`
	Registration string    `json:"registration"`
}

// Listener receives events on a goroutine owned by the space. It may run
// concurrently with the caller's own space operations.
type Listener func(ctx context.Context, ev Event)

// Lease bounds the lifetime of a tuple or an event registration.
type Lease interface {
	ID() string
	// Expiration returns the zero time for unbounded leases.
	Expiration() time.Time
	// Renew extends the lease by d from now. Unknown or expired leases fail
	// with ErrUnknownLease.
	Renew(ctx context.Context, d time.Duration) error
	// Cancel ends the lease immediately, removing the tuple or registration.
	Cancel(ctx context.Context) error
}

// Transaction groups operations that commit or abort together.
type Transaction interface {
	ID() string
	Deadline() time.Time
	Commit(ctx context.Context) error
	Abort(ctx context.Context) error
}

// Cursor walks a point-in-time snapshot of matching tuples.
type Cursor interface {
	// Next returns nil, nil once the snapshot is exhausted.
	Next(ctx context.Context) (*Tuple, error)
	Close() error
}

// Space is the coordination-space protocol. A nil Transaction means the
// operation stands alone. Read and Take return nil, nil when nothing matched
// within the timeout; errors are reserved for failures.
type Space interface {
	Write(ctx context.Context, t Tuple, txn Transaction, lease time.Duration) (Lease, error)
	Read(ctx context.Context, tmpl Template, txn Transaction, timeout time.Duration) (*Tuple, error)
	Take(ctx context.Context, tmpl Template, txn Transaction, timeout time.Duration) (*Tuple, error)
	Contents(ctx context.Context, tmpl Template, txn Transaction) (Cursor, error)
	Notify(ctx context.Context, tmpl Template, kinds EventKind, listener Listener, lease time.Duration) (Lease, error)
	NewTransaction(ctx context.Context, timeout time.Duration) (Transaction, error)
	Close() error
}

// ExpiresAt converts a lease duration into an absolute expiry. The zero time
// means the lease never expires.
func ExpiresAt(now time.Time, d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return now.Add(d)
}

// Expired reports whether an expiry computed by ExpiresAt has passed.
func Expired(expires, now time.Time) bool {
	return !expires.IsZero() && !now.Before(expires)
}
