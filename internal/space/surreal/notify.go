package surreal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/nfrund/topicspace/internal/space"
)

type liveAction int

const (
	liveCreate liveAction = iota
	liveUpdate
	liveDelete
)

// classify maps a live notification onto a space event. Create and update
// notifications only count when the statement marked the record as written;
// deletes count as takes unless they discard a pending write, an expired
// tuple or a cancelled lease.
func classify(action liveAction, rec record, now time.Time) (space.EventKind, bool) {
	switch action {
	case liveCreate, liveUpdate:
		if rec.Ev == evWritten && rec.Txn == "" {
			return space.EventWritten, true
		}
	case liveDelete:
		if rec.Ev == evCancelled || rec.TxnOp == opWrite || rec.expired(now) {
			return 0, false
		}
		return space.EventTaken, true
	}
	return 0, false
}

type registration struct {
	space    *Space
	id       string
	tmpl     space.Template
	kinds    space.EventKind
	listener space.Listener
	liveID   string
	cancel   context.CancelFunc

	mu      sync.Mutex
	expires time.Time
	timer   *time.Timer
	active  bool
}

// Notify implements space.Space. Each registration owns one LIVE SELECT on
// the template's kind; key filtering happens on this side.
func (s *Space) Notify(ctx context.Context, tmpl space.Template, kinds space.EventKind, listener space.Listener, lease time.Duration) (space.Lease, error) {
	if tmpl.Kind == "" || listener == nil || kinds&(space.EventWritten|space.EventTaken) == 0 {
		return nil, space.NewSpaceError("notify", tmpl.Kind, space.ErrInvalidTuple)
	}
	if _, err := s.txn(nil); err != nil {
		return nil, space.NewSpaceError("notify", tmpl.Kind, err)
	}

	results, err := surrealdb.Query[any](ctx, s.db, "LIVE SELECT * FROM "+table+" WHERE kind = $kind", map[string]any{"kind": tmpl.Kind})
	if err != nil {
		return nil, s.fail("notify", tmpl.Kind, fmt.Errorf("failed to execute live query: %w", err))
	}
	if results == nil || len(*results) == 0 {
		return nil, space.NewSpaceError("notify", tmpl.Kind, fmt.Errorf("live query returned no results"))
	}
	if status := (*results)[0].Status; status != "OK" {
		return nil, space.NewSpaceError("notify", tmpl.Kind, fmt.Errorf("live query failed with status: %s", status))
	}
	liveID, err := liveQueryID((*results)[0].Result)
	if err != nil {
		return nil, space.NewSpaceError("notify", tmpl.Kind, err)
	}

	notifications, err := s.db.LiveNotifications(liveID)
	if err != nil {
		s.kill(ctx, liveID)
		return nil, space.NewSpaceError("notify", tmpl.Kind, fmt.Errorf("failed to get notification channel: %w", err))
	}

	regCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &registration{
		space:    s,
		id:       uuid.NewString(),
		tmpl:     tmpl,
		kinds:    kinds,
		listener: listener,
		liveID:   liveID,
		cancel:   cancel,
		expires:  space.ExpiresAt(s.now(), lease),
		active:   true,
	}
	if lease > 0 {
		r.timer = time.AfterFunc(lease, func() {
			stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			r.stop(stopCtx)
		})
	}

	s.mu.Lock()
	s.regs[r.id] = r
	s.mu.Unlock()

	go r.listen(regCtx, notifications)

	s.logger.DebugContext(ctx, "Registered for space events", "registration", r.id, "kind", tmpl.Kind, "live_query", liveID)
	return r, nil
}

func (r *registration) listen(ctx context.Context, notifications <-chan connection.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notifications:
			if !ok {
				return
			}

			var action liveAction
			switch n.Action {
			case connection.CreateAction:
				action = liveCreate
			case connection.UpdateAction:
				action = liveUpdate
			case connection.DeleteAction:
				action = liveDelete
			default:
				continue
			}

			rec, err := decodeResult(n.Result)
			if err != nil {
				r.space.logger.WarnContext(ctx, "Dropping undecodable live notification", "registration", r.id, "error", err)
				continue
			}
			kind, ok := classify(action, rec, r.space.now())
			if !ok || r.kinds&kind == 0 || !r.tmpl.Matches(rec.tuple()) || !r.live() {
				continue
			}
			r.listener(ctx, space.Event{Kind: kind, Tuple: rec.tuple(), Registration: r.id})
		}
	}
}

func (r *registration) ID() string { return r.id }

func (r *registration) Expiration() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expires
}

// Renew implements space.Lease.
func (r *registration) Renew(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active {
		return space.NewSpaceError("renew", r.tmpl.Kind, space.ErrUnknownLease)
	}
	r.expires = space.ExpiresAt(r.space.now(), d)
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if d > 0 {
		r.timer = time.AfterFunc(d, func() {
			stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			r.stop(stopCtx)
		})
	}
	return nil
}

// Cancel implements space.Lease.
func (r *registration) Cancel(ctx context.Context) error {
	if !r.stop(ctx) {
		return space.NewSpaceError("cancel", r.tmpl.Kind, space.ErrUnknownLease)
	}
	return nil
}

func (r *registration) live() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// stop ends the registration once and kills its live query. It reports
// whether this call did the stopping.
func (r *registration) stop(ctx context.Context) bool {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return false
	}
	r.active = false
	if r.timer != nil {
		r.timer.Stop()
	}
	r.mu.Unlock()

	r.cancel()

	s := r.space
	s.mu.Lock()
	delete(s.regs, r.id)
	s.mu.Unlock()

	if err := s.db.CloseLiveNotifications(r.liveID); err != nil {
		s.logger.WarnContext(ctx, "Failed to close live notifications", "live_query", r.liveID, "error", err)
	}
	s.kill(ctx, r.liveID)
	return true
}

func (s *Space) kill(ctx context.Context, liveID string) {
	if _, err := surrealdb.Query[any](ctx, s.db, "KILL $liveQueryID", map[string]any{"liveQueryID": liveID}); err != nil {
		s.logger.WarnContext(ctx, "Failed to kill live query", "live_query", liveID, "error", err)
	}
}

// liveQueryID extracts the query id from a LIVE SELECT result. Depending on
// the server it arrives as a string, a UUID or a map holding either.
func liveQueryID(result any) (string, error) {
	var id string
	switch v := result.(type) {
	case string:
		id = v
	case models.UUID:
		id = v.String()
	case map[string]any:
		switch inner := v["id"].(type) {
		case string:
			id = inner
		case models.UUID:
			id = inner.String()
		}
	default:
		return "", fmt.Errorf("unexpected live query result type: %T", result)
	}
	if id == "" {
		return "", fmt.Errorf("live query returned empty id")
	}
	return id, nil
}
