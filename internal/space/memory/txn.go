package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/nfrund/topicspace/internal/space"
)

type txnState int

const (
	txnActive txnState = iota
	txnCommitted
	txnAborted
)

type transaction struct {
	space    *Space
	id       string
	deadline time.Time
	state    txnState
	timer    *time.Timer
}

var _ space.Transaction = (*transaction)(nil)

// NewTransaction implements space.Space. The transaction aborts itself when
// timeout elapses; a non-positive timeout is rejected.
func (s *Space) NewTransaction(ctx context.Context, timeout time.Duration) (space.Transaction, error) {
	if timeout <= 0 {
		return nil, space.NewSpaceError("transaction", "", space.ErrTransactionExpired)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, space.NewSpaceError("transaction", "", space.ErrClosed)
	}

	tx := &transaction{
		space:    s,
		id:       uuid.NewString(),
		deadline: s.now().Add(timeout),
	}
	tx.timer = time.AfterFunc(timeout, func() {
		if _, ok := s.finish(context.Background(), tx, txnAborted); ok {
			s.logger.Debug("Transaction timed out and was aborted", "txn", tx.id)
		}
	})
	s.txns[tx.id] = tx
	return tx, nil
}

func (tx *transaction) ID() string          { return tx.id }
func (tx *transaction) Deadline() time.Time { return tx.deadline }

func (tx *transaction) Commit(ctx context.Context) error {
	if state, ok := tx.space.finish(ctx, tx, txnCommitted); !ok || state != txnCommitted {
		return space.NewSpaceError("commit", "", space.ErrTransactionExpired)
	}
	return nil
}

func (tx *transaction) Abort(ctx context.Context) error {
	if _, ok := tx.space.finish(ctx, tx, txnAborted); !ok {
		return space.NewSpaceError("abort", "", space.ErrTransactionExpired)
	}
	return nil
}

// finish resolves every pending write and take held by tx and reports the
// final state. ok is false if tx was no longer active. A commit attempted
// after the deadline is turned into an abort.
func (s *Space) finish(ctx context.Context, tx *transaction, outcome txnState) (txnState, bool) {
	s.mu.Lock()
	if tx.state != txnActive {
		s.mu.Unlock()
		return tx.state, false
	}
	if outcome == txnCommitted && !s.now().Before(tx.deadline) {
		outcome = txnAborted
	}
	tx.state = outcome
	tx.timer.Stop()
	delete(s.txns, tx.id)

	// Resolve in write order so events come out in a stable order.
	var held []*entry
	for _, e := range s.entries {
		if e.writer == tx.id || e.taker == tx.id {
			held = append(held, e)
		}
	}
	sortBySeq(held)

	for _, e := range held {
		switch {
		case e.writer == tx.id && outcome == txnCommitted:
			e.writer = ""
			s.queueLocked(space.EventWritten, e.tuple)
		case e.writer == tx.id:
			delete(s.entries, e.tuple.ID)
		case outcome == txnCommitted:
			delete(s.entries, e.tuple.ID)
			s.queueLocked(space.EventTaken, e.tuple)
		default:
			// Aborted take: the tuple becomes available again.
			e.taker = ""
			s.queueLocked(space.EventWritten, e.tuple)
		}
	}
	s.signalLocked()
	events := s.drainLocked()
	s.mu.Unlock()

	s.publish(ctx, events)
	return outcome, true
}

func sortBySeq(entries []*entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
}
