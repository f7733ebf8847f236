// Package memory implements space.Space inside the process. It keeps the
// full tuple space semantics, leases and transactions included, so it can
// stand in for a shared space in tests and single-node deployments.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nfrund/topicspace/internal/pubsub"
	"github.com/nfrund/topicspace/internal/space"
)

type entry struct {
	tuple   space.Tuple
	seq     uint64
	expires time.Time
	writer  string // transaction holding an uncommitted write
	taker   string // transaction holding an uncommitted take
}

// Space is an in-process coordination space.
type Space struct {
	mu       sync.Mutex
	entries  map[string]*entry
	txns     map[string]*transaction
	regs     map[string]*registration
	seq      uint64
	changed  chan struct{}
	closed   bool
	bus      pubsub.Bus
	ownsBus  bool
	logger   *slog.Logger
	now      func() time.Time
	eventBuf []space.Event
}

var _ space.Space = (*Space)(nil)

// Option is a function that configures a Space.
type Option func(*Space)

// WithBus sends events through an existing bus instead of a private one.
// The caller keeps ownership and must close it.
func WithBus(b pubsub.Bus) Option {
	return func(s *Space) {
		s.bus = b
		s.ownsBus = false
	}
}

// WithLogger sets the logger used for delivery problems.
func WithLogger(l *slog.Logger) Option {
	return func(s *Space) {
		s.logger = l
	}
}

// New creates an empty space.
func New(opts ...Option) *Space {
	s := &Space{
		entries: make(map[string]*entry),
		txns:    make(map[string]*transaction),
		regs:    make(map[string]*registration),
		changed: make(chan struct{}),
		logger:  slog.Default().With("component", "space.memory"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bus == nil {
		s.bus = pubsub.NewWatermillBridge(nil)
		s.ownsBus = true
	}
	return s
}

// Write implements space.Space.
func (s *Space) Write(ctx context.Context, t space.Tuple, txn space.Transaction, lease time.Duration) (space.Lease, error) {
	if t.Kind == "" {
		return nil, space.NewSpaceError("write", "", space.ErrInvalidTuple)
	}

	s.mu.Lock()
	tx, err := s.txnLocked(txn)
	if err != nil {
		s.mu.Unlock()
		return nil, space.NewSpaceError("write", t.Kind, err)
	}

	t.ID = uuid.NewString()
	t.Keys = copyKeys(t.Keys)
	s.seq++
	e := &entry{
		tuple:   t,
		seq:     s.seq,
		expires: space.ExpiresAt(s.now(), lease),
	}
	if tx != nil {
		e.writer = tx.id
	} else {
		s.queueLocked(space.EventWritten, t)
	}
	s.entries[t.ID] = e
	s.signalLocked()
	events := s.drainLocked()
	s.mu.Unlock()

	s.publish(ctx, events)
	return &entryLease{space: s, id: t.ID}, nil
}

// Read implements space.Space.
func (s *Space) Read(ctx context.Context, tmpl space.Template, txn space.Transaction, timeout time.Duration) (*space.Tuple, error) {
	return s.wait(ctx, "read", tmpl, txn, timeout, func(e *entry, tx *transaction) (*space.Tuple, []space.Event) {
		t := cloneTuple(e.tuple)
		return &t, nil
	})
}

// Take implements space.Space.
func (s *Space) Take(ctx context.Context, tmpl space.Template, txn space.Transaction, timeout time.Duration) (*space.Tuple, error) {
	t, err := s.wait(ctx, "take", tmpl, txn, timeout, func(e *entry, tx *transaction) (*space.Tuple, []space.Event) {
		t := cloneTuple(e.tuple)
		switch {
		case tx == nil:
			delete(s.entries, e.tuple.ID)
			s.queueLocked(space.EventTaken, e.tuple)
		case e.writer == tx.id:
			// Taking our own uncommitted write: nobody else ever saw it.
			delete(s.entries, e.tuple.ID)
		default:
			e.taker = tx.id
		}
		return &t, s.drainLocked()
	})
	return t, err
}

type matchFn func(e *entry, tx *transaction) (*space.Tuple, []space.Event)

// wait polls for a visible match, blocking on the change signal until
// timeout. onMatch runs under the lock.
func (s *Space) wait(ctx context.Context, op string, tmpl space.Template, txn space.Transaction, timeout time.Duration, onMatch matchFn) (*space.Tuple, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		s.mu.Lock()
		tx, err := s.txnLocked(txn)
		if err != nil {
			s.mu.Unlock()
			return nil, space.NewSpaceError(op, tmpl.Kind, err)
		}
		if e := s.firstVisibleLocked(tmpl, tx); e != nil {
			t, events := onMatch(e, tx)
			s.mu.Unlock()
			s.publish(ctx, events)
			return t, nil
		}
		changed := s.changed
		s.mu.Unlock()

		if deadline == nil {
			return nil, nil
		}
		select {
		case <-changed:
		case <-deadline:
			return nil, nil
		case <-ctx.Done():
			return nil, space.NewSpaceError(op, tmpl.Kind, ctx.Err())
		}
	}
}

// Contents implements space.Space. The cursor walks a snapshot taken now.
func (s *Space) Contents(ctx context.Context, tmpl space.Template, txn space.Transaction) (space.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.txnLocked(txn)
	if err != nil {
		return nil, space.NewSpaceError("contents", tmpl.Kind, err)
	}

	var matches []*entry
	now := s.now()
	for _, e := range s.entries {
		if s.visible(e, tmpl, tx, now) {
			matches = append(matches, e)
		}
	}
	sortBySeq(matches)

	snapshot := make([]space.Tuple, len(matches))
	for i, e := range matches {
		snapshot[i] = cloneTuple(e.tuple)
	}
	return &cursor{tuples: snapshot}, nil
}

// Close implements space.Space.
func (s *Space) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, r := range s.regs {
		r.stopLocked()
	}
	for _, tx := range s.txns {
		tx.timer.Stop()
	}
	s.signalLocked()
	s.mu.Unlock()

	if s.ownsBus {
		return s.bus.Close()
	}
	return nil
}

func (s *Space) firstVisibleLocked(tmpl space.Template, tx *transaction) *entry {
	now := s.now()
	var best *entry
	for id, e := range s.entries {
		if space.Expired(e.expires, now) {
			delete(s.entries, id)
			continue
		}
		if s.visible(e, tmpl, tx, now) && (best == nil || e.seq < best.seq) {
			best = e
		}
	}
	return best
}

func (s *Space) visible(e *entry, tmpl space.Template, tx *transaction, now time.Time) bool {
	if space.Expired(e.expires, now) || e.taker != "" {
		return false
	}
	if e.writer != "" && (tx == nil || e.writer != tx.id) {
		return false
	}
	return tmpl.Matches(e.tuple)
}

func (s *Space) txnLocked(txn space.Transaction) (*transaction, error) {
	if s.closed {
		return nil, space.ErrClosed
	}
	if txn == nil {
		return nil, nil
	}
	tx, ok := txn.(*transaction)
	if !ok || tx.space != s {
		return nil, space.ErrForeignTransaction
	}
	if tx.state != txnActive {
		return nil, space.ErrTransactionExpired
	}
	return tx, nil
}

// signalLocked wakes every waiter so it can re-check for matches.
func (s *Space) signalLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Space) queueLocked(kind space.EventKind, t space.Tuple) {
	s.eventBuf = append(s.eventBuf, space.Event{Kind: kind, Tuple: cloneTuple(t)})
}

func (s *Space) drainLocked() []space.Event {
	events := s.eventBuf
	s.eventBuf = nil
	return events
}

func copyKeys(keys map[string]string) map[string]string {
	out := make(map[string]string, len(keys))
	for k, v := range keys {
		out[k] = v
	}
	return out
}

func cloneTuple(t space.Tuple) space.Tuple {
	t.Keys = copyKeys(t.Keys)
	t.Payload = append([]byte(nil), t.Payload...)
	return t
}

type cursor struct {
	tuples []space.Tuple
}

func (c *cursor) Next(ctx context.Context) (*space.Tuple, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(c.tuples) == 0 {
		return nil, nil
	}
	t := c.tuples[0]
	c.tuples = c.tuples[1:]
	return &t, nil
}

func (c *cursor) Close() error {
	c.tuples = nil
	return nil
}

// eventTopic is the typed bus topic carrying events for one tuple kind.
func eventTopic(kind string) pubsub.Event[space.Event] {
	return pubsub.NewEvent[space.Event]("space." + kind)
}

func (s *Space) publish(ctx context.Context, evs []space.Event) {
	for _, ev := range evs {
		meta := map[string]string{"event": ev.Kind.String()}
		if err := pubsub.Publish(ctx, s.bus, eventTopic(ev.Tuple.Kind), ev, meta); err != nil {
			s.logger.WarnContext(ctx, "Failed to publish space event", "kind", ev.Tuple.Kind, "event", ev.Kind.String(), "error", err)
		}
	}
}
