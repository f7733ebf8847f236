package space

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// WithTransaction runs fn inside a transaction bounded by timeout. The
// transaction commits when fn returns nil and aborts when fn returns an error
// or panics; the error (or panic) is passed on to the caller unchanged.
// Failure to create the transaction is returned as is, never swallowed.
func WithTransaction(ctx context.Context, s Space, timeout time.Duration, fn func(txn Transaction) error) (err error) {
	txn, err := s.NewTransaction(ctx, timeout)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		// Abort with a fresh context: ctx may be the reason we are here.
		abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if abortErr := txn.Abort(abortCtx); abortErr != nil && !errors.Is(abortErr, ErrTransactionExpired) {
			slog.WarnContext(ctx, "Failed to abort transaction", "txn", txn.ID(), "error", abortErr)
		}
	}()

	if err := fn(txn); err != nil {
		return err
	}

	if err := txn.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction %s: %w", txn.ID(), err)
	}
	committed = true
	return nil
}
