package surreal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nfrund/topicspace/internal/space"
)

const commitSQL = `
BEGIN TRANSACTION;
DELETE tuple WHERE txn = $txn AND txn_op = 'take';
UPDATE tuple SET txn = '', txn_op = '', txn_expires = 0, ev = 'written' WHERE txn = $txn AND txn_op = 'write';
COMMIT TRANSACTION;`

const abortSQL = `
BEGIN TRANSACTION;
DELETE tuple WHERE txn = $txn AND txn_op = 'write';
UPDATE tuple SET txn = '', txn_op = '', txn_expires = 0, ev = 'written' WHERE txn = $txn AND txn_op = 'take';
COMMIT TRANSACTION;`

// transaction lives on the client. The server only sees its id stamped on
// the records it holds, together with the deadline after which other clients
// ignore those holds.
type transaction struct {
	space    *Space
	id       string
	deadline time.Time
	timer    *time.Timer
}

// NewTransaction implements space.Space.
func (s *Space) NewTransaction(ctx context.Context, timeout time.Duration) (space.Transaction, error) {
	if timeout <= 0 {
		return nil, space.NewSpaceError("transaction", "", fmt.Errorf("timeout must be positive, got %s", timeout))
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
		abortCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tx.finish(abortCtx, false); err == nil {
			s.logger.DebugContext(abortCtx, "Transaction timed out and was aborted", "txn", tx.id)
		}
	})
	s.txns[tx.id] = tx
	return tx, nil
}

func (tx *transaction) ID() string          { return tx.id }
func (tx *transaction) Deadline() time.Time { return tx.deadline }

// Commit implements space.Transaction. A commit that arrives after the
// deadline aborts instead and reports ErrTransactionExpired.
func (tx *transaction) Commit(ctx context.Context) error {
	if !tx.space.now().Before(tx.deadline) {
		_ = tx.finish(ctx, false)
		return space.NewSpaceError("commit", "", space.ErrTransactionExpired)
	}
	if err := tx.finish(ctx, true); err != nil {
		return space.NewSpaceError("commit", "", err)
	}
	return nil
}

// Abort implements space.Transaction.
func (tx *transaction) Abort(ctx context.Context) error {
	if err := tx.finish(ctx, false); err != nil {
		return space.NewSpaceError("abort", "", err)
	}
	return nil
}

// finish removes the transaction from the live set exactly once and applies
// its outcome to the records it holds.
func (tx *transaction) finish(ctx context.Context, commit bool) error {
	s := tx.space

	s.mu.Lock()
	if _, live := s.txns[tx.id]; !live {
		s.mu.Unlock()
		return space.ErrTransactionExpired
	}
	delete(s.txns, tx.id)
	tx.timer.Stop()
	s.mu.Unlock()

	sql := abortSQL
	if commit {
		sql = commitSQL
	}
	if err := execAll(ctx, s.db, sql, map[string]any{"txn": tx.id}); err != nil {
		if isConnectionError(err) {
			return fmt.Errorf("%w: %w", space.ErrUnavailable, err)
		}
		return err
	}
	return nil
}
