package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nfrund/topicspace/internal/pubsub"
	"github.com/nfrund/topicspace/internal/space"
)

// registration is one event subscription. It listens on the bus topic for its
// template's kind and filters by key and event kind itself.
type registration struct {
	space    *Space
	id       string
	tmpl     space.Template
	kinds    space.EventKind
	listener space.Listener
	expires  time.Time
	timer    *time.Timer
	cancel   context.CancelFunc
	active   bool
}

var _ space.Lease = (*registration)(nil)

// Notify implements space.Space. Delivery starts with the next matching
// transition and stops when the lease expires or is cancelled.
func (s *Space) Notify(ctx context.Context, tmpl space.Template, kinds space.EventKind, listener space.Listener, lease time.Duration) (space.Lease, error) {
	if tmpl.Kind == "" || listener == nil || kinds == 0 {
		return nil, space.NewSpaceError("notify", tmpl.Kind, space.ErrInvalidTuple)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	r := &registration{
		space:    s,
		id:       uuid.NewString(),
		tmpl:     space.Template{Kind: tmpl.Kind, Keys: copyKeys(tmpl.Keys)},
		kinds:    kinds,
		listener: listener,
		cancel:   cancel,
		active:   true,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil, space.NewSpaceError("notify", tmpl.Kind, space.ErrClosed)
	}
	r.expires = space.ExpiresAt(s.now(), lease)
	if lease > 0 {
		r.timer = time.AfterFunc(lease, r.expire)
	}
	s.regs[r.id] = r
	s.mu.Unlock()

	if err := pubsub.Subscribe(subCtx, s.bus, eventTopic(tmpl.Kind), r.handle); err != nil {
		s.mu.Lock()
		r.stopLocked()
		s.mu.Unlock()
		return nil, space.Unavailable("notify", err)
	}

	s.logger.DebugContext(ctx, "Event registration created", "registration", r.id, "kind", tmpl.Kind, "events", kinds.String())
	return r, nil
}

func (r *registration) handle(ctx context.Context, ev space.Event) error {
	r.space.mu.Lock()
	live := r.active && !space.Expired(r.expires, r.space.now())
	r.space.mu.Unlock()

	if !live || ev.Kind&r.kinds == 0 || !r.tmpl.Matches(ev.Tuple) {
		return nil
	}

	ev.Registration = r.id
	r.listener(ctx, ev)
	return nil
}

func (r *registration) expire() {
	r.space.mu.Lock()
	defer r.space.mu.Unlock()
	if r.active && space.Expired(r.expires, r.space.now()) {
		r.space.logger.Debug("Event registration lease expired", "registration", r.id)
		r.stopLocked()
	}
}

func (r *registration) stopLocked() {
	if !r.active {
		return
	}
	r.active = false
	if r.timer != nil {
		r.timer.Stop()
	}
	r.cancel()
	delete(r.space.regs, r.id)
}

func (r *registration) ID() string { return r.id }

func (r *registration) Expiration() time.Time {
	r.space.mu.Lock()
	defer r.space.mu.Unlock()
	return r.expires
}

func (r *registration) Renew(ctx context.Context, d time.Duration) error {
	s := r.space
	s.mu.Lock()
	defer s.mu.Unlock()

	if !r.active || space.Expired(r.expires, s.now()) {
		return space.NewSpaceError("renew", r.tmpl.Kind, space.ErrUnknownLease)
	}
	r.expires = space.ExpiresAt(s.now(), d)
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if d > 0 {
		r.timer = time.AfterFunc(d, r.expire)
	}
	return nil
}

func (r *registration) Cancel(ctx context.Context) error {
	s := r.space
	s.mu.Lock()
	defer s.mu.Unlock()

	if !r.active {
		return space.NewSpaceError("cancel", r.tmpl.Kind, space.ErrUnknownLease)
	}
	r.stopLocked()
	return nil
}
