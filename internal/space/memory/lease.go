package memory

import (
	"context"
	"time"

	"github.com/nfrund/topicspace/internal/space"
)

// entryLease controls the lifetime of one written tuple.
type entryLease struct {
	space *Space
	id    string
}

var _ space.Lease = (*entryLease)(nil)

func (l *entryLease) ID() string { return l.id }

func (l *entryLease) Expiration() time.Time {
	l.space.mu.Lock()
	defer l.space.mu.Unlock()
	if e, ok := l.space.entries[l.id]; ok {
		return e.expires
	}
	return time.Time{}
}

func (l *entryLease) Renew(ctx context.Context, d time.Duration) error {
	s := l.space
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.liveEntryLocked(l.id)
	if !ok {
		return space.NewSpaceError("renew", "", space.ErrUnknownLease)
	}
	e.expires = space.ExpiresAt(s.now(), d)
	return nil
}

// Cancel removes the tuple. Cancelling is not a take and fires no event.
func (l *entryLease) Cancel(ctx context.Context) error {
	s := l.space
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.liveEntryLocked(l.id)
	if !ok {
		return space.NewSpaceError("cancel", "", space.ErrUnknownLease)
	}
	delete(s.entries, e.tuple.ID)
	return nil
}

func (s *Space) liveEntryLocked(id string) (*entry, bool) {
	if s.closed {
		return nil, false
	}
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	if space.Expired(e.expires, s.now()) {
		delete(s.entries, id)
		return nil, false
	}
	return e, true
}
