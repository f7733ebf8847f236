// Package surreal implements space.Space on top of SurrealDB so several
// processes can share one coordination space. Tuples live in a single table;
// transactional state is kept on the records themselves and every commit or
// abort runs as one SurrealDB transaction. Event registrations are LIVE
// SELECT queries.
package surreal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/nfrund/topicspace/internal/config"
	"github.com/nfrund/topicspace/internal/space"
)

const (
	defaultPollInterval = 50 * time.Millisecond
	reapInterval        = time.Second
	takeCandidates      = 8
)

// Space is a coordination space backed by SurrealDB.
type Space struct {
	db     *surrealdb.DB
	poll   time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	txns   map[string]*transaction
	regs   map[string]*registration
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

var _ space.Space = (*Space)(nil)

// Dial connects to SurrealDB, signs in, selects the namespace and database,
// and applies the schema.
func Dial(ctx context.Context, cfg config.Provider) (*Space, error) {
	dbURL := cfg.GetDBURL()
	logger := slog.Default().With("component", "space.surreal")

	logger.DebugContext(ctx, "Connecting to coordination space", "db_url", redactDBURL(dbURL))

	db, err := surrealdb.FromEndpointURLString(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", redactDBURL(dbURL), err)
	}

	if cfg.GetDBUser() != "" {
		auth := &surrealdb.Auth{
			Username: cfg.GetDBUser(),
			Password: cfg.GetDBPass(),
		}
		if _, err := db.SignIn(ctx, auth); err != nil {
			_ = db.Close(ctx)
			return nil, fmt.Errorf("failed to sign in: %w", err)
		}
	}

	if err := db.Use(ctx, cfg.GetDBNs(), cfg.GetDBDb()); err != nil {
		_ = db.Close(ctx)
		return nil, fmt.Errorf("failed to use namespace/db: %w", err)
	}

	if _, err := surrealdb.Query[any](ctx, db, schema, nil); err != nil {
		_ = db.Close(ctx)
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := newSpace(db, cfg.GetPollInterval(), logger)
	logger.InfoContext(ctx, "Coordination space connected",
		"db_url", redactDBURL(dbURL),
		"namespace", cfg.GetDBNs(),
		"database", cfg.GetDBDb(),
	)
	return s, nil
}

func newSpace(db *surrealdb.DB, poll time.Duration, logger *slog.Logger) *Space {
	if poll <= 0 {
		poll = defaultPollInterval
	}
	s := &Space{
		db:     db,
		poll:   poll,
		logger: logger,
		now:    time.Now,
		txns:   make(map[string]*transaction),
		regs:   make(map[string]*registration),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.reap()
	return s
}

// Write implements space.Space.
func (s *Space) Write(ctx context.Context, t space.Tuple, txn space.Transaction, lease time.Duration) (space.Lease, error) {
	if t.Kind == "" {
		return nil, space.NewSpaceError("write", "", space.ErrInvalidTuple)
	}
	if err := validateKeys(t.Keys); err != nil {
		return nil, space.NewSpaceError("write", t.Kind, err)
	}
	tx, err := s.txn(txn)
	if err != nil {
		return nil, space.NewSpaceError("write", t.Kind, err)
	}

	now := s.now()
	rec := record{
		TID:       uuid.NewString(),
		Kind:      t.Kind,
		Keys:      t.Keys,
		Payload:   string(t.Payload),
		Seq:       now.UnixNano(),
		ExpiresAt: millis(space.ExpiresAt(now, lease)),
		Ev:        evWritten,
	}
	if rec.Keys == nil {
		rec.Keys = map[string]string{}
	}
	if tx != nil {
		rec.Txn = tx.id
		rec.TxnOp = opWrite
		rec.TxnExpires = millis(tx.deadline)
		rec.Ev = evNone
	}

	params := map[string]any{
		"rid": models.NewRecordID(table, rec.TID),
		"rec": rec,
	}
	if _, err := exec[record](ctx, s.db, "CREATE $rid CONTENT $rec", params); err != nil {
		return nil, s.fail("write", t.Kind, err)
	}

	return &entryLease{space: s, tid: rec.TID, expires: fromMillis(rec.ExpiresAt)}, nil
}

// Read implements space.Space.
func (s *Space) Read(ctx context.Context, tmpl space.Template, txn space.Transaction, timeout time.Duration) (*space.Tuple, error) {
	return s.wait(ctx, "read", tmpl, txn, timeout, s.readOnce)
}

// Take implements space.Space.
func (s *Space) Take(ctx context.Context, tmpl space.Template, txn space.Transaction, timeout time.Duration) (*space.Tuple, error) {
	return s.wait(ctx, "take", tmpl, txn, timeout, s.takeOnce)
}

type attemptFn func(ctx context.Context, tmpl space.Template, tx *transaction) (*space.Tuple, error)

// wait polls until attempt finds a tuple, the timeout lapses or ctx ends.
func (s *Space) wait(ctx context.Context, op string, tmpl space.Template, txn space.Transaction, timeout time.Duration, attempt attemptFn) (*space.Tuple, error) {
	if tmpl.Kind == "" {
		return nil, space.NewSpaceError(op, "", space.ErrInvalidTuple)
	}
	tx, err := s.txn(txn)
	if err != nil {
		return nil, space.NewSpaceError(op, tmpl.Kind, err)
	}

	deadline := s.now().Add(timeout)
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		t, err := attempt(ctx, tmpl, tx)
		if err != nil {
			return nil, s.fail(op, tmpl.Kind, err)
		}
		if t != nil {
			return t, nil
		}
		if timeout <= 0 || !s.now().Before(deadline) {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.done:
			return nil, space.NewSpaceError(op, tmpl.Kind, space.ErrClosed)
		case <-ticker.C:
		}
	}
}

func (s *Space) readOnce(ctx context.Context, tmpl space.Template, tx *transaction) (*space.Tuple, error) {
	recs, err := s.selectVisible(ctx, tmpl, tx, 1)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	t := recs[0].tuple()
	return &t, nil
}

// takeOnce claims the first visible candidate. Claims are conditional on the
// record still being visible, so a lost race just moves on to the next one.
func (s *Space) takeOnce(ctx context.Context, tmpl space.Template, tx *transaction) (*space.Tuple, error) {
	recs, err := s.selectVisible(ctx, tmpl, tx, takeCandidates)
	if err != nil {
		return nil, err
	}

	txnID := txnIDOf(tx)
	for _, rec := range recs {
		where, params, err := matchQuery(tmpl, txnID, s.now())
		if err != nil {
			return nil, err
		}
		params["rid"] = models.NewRecordID(table, rec.TID)

		var sql string
		switch {
		case tx == nil:
			sql = "DELETE $rid WHERE " + where + " RETURN BEFORE"
		case rec.Txn == txnID && rec.TxnOp == opWrite:
			// Taking our own pending write just discards it.
			sql = "DELETE $rid WHERE " + where + " RETURN BEFORE"
		default:
			params["txn_expires"] = millis(tx.deadline)
			sql = "UPDATE $rid SET txn = $txn, txn_op = 'take', txn_expires = $txn_expires, ev = '' WHERE " + where + " RETURN BEFORE"
		}

		claimed, err := exec[record](ctx, s.db, sql, params)
		if err != nil {
			return nil, err
		}
		if len(claimed) > 0 {
			t := claimed[0].tuple()
			return &t, nil
		}
	}
	return nil, nil
}

func (s *Space) selectVisible(ctx context.Context, tmpl space.Template, tx *transaction, limit int) ([]record, error) {
	where, params, err := matchQuery(tmpl, txnIDOf(tx), s.now())
	if err != nil {
		return nil, err
	}
	sql := "SELECT * FROM " + table + " WHERE " + where + " ORDER BY seq"
	if limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", limit)
	}
	return exec[record](ctx, s.db, sql, params)
}

// Contents implements space.Space.
func (s *Space) Contents(ctx context.Context, tmpl space.Template, txn space.Transaction) (space.Cursor, error) {
	if tmpl.Kind == "" {
		return nil, space.NewSpaceError("contents", "", space.ErrInvalidTuple)
	}
	tx, err := s.txn(txn)
	if err != nil {
		return nil, space.NewSpaceError("contents", tmpl.Kind, err)
	}
	recs, err := s.selectVisible(ctx, tmpl, tx, 0)
	if err != nil {
		return nil, s.fail("contents", tmpl.Kind, err)
	}

	tuples := make([]space.Tuple, 0, len(recs))
	for _, rec := range recs {
		tuples = append(tuples, rec.tuple())
	}
	return &cursor{tuples: tuples}, nil
}

// Close stops registrations and the reaper, aborts live transactions and
// closes the connection.
func (s *Space) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	regs := make([]*registration, 0, len(s.regs))
	for _, r := range s.regs {
		regs = append(regs, r)
	}
	txns := make([]*transaction, 0, len(s.txns))
	for _, tx := range s.txns {
		txns = append(txns, tx)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, r := range regs {
		r.stop(ctx)
	}
	for _, tx := range txns {
		if err := tx.finish(ctx, false); err != nil && !errors.Is(err, space.ErrTransactionExpired) {
			s.logger.WarnContext(ctx, "Failed to abort transaction on close", "txn", tx.id, "error", err)
		}
	}
	s.wg.Wait()
	return s.db.Close(ctx)
}

// txn resolves a caller's transaction to one of ours.
func (s *Space) txn(txn space.Transaction) (*transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

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
	if _, live := s.txns[tx.id]; !live || !s.now().Before(tx.deadline) {
		return nil, space.ErrTransactionExpired
	}
	return tx, nil
}

func txnIDOf(tx *transaction) string {
	if tx == nil {
		return ""
	}
	return tx.id
}

// reap deletes expired tuples and pending writes of lapsed transactions, and
// releases take locks those transactions still hold.
func (s *Space) reap() {
	defer s.wg.Done()
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	const sql = `
BEGIN TRANSACTION;
DELETE tuple WHERE expires_at != 0 AND expires_at <= $now;
DELETE tuple WHERE txn_op = 'write' AND txn_expires <= $now;
UPDATE tuple SET txn = '', txn_op = '', txn_expires = 0, ev = 'written' WHERE txn_op = 'take' AND txn_expires <= $now;
COMMIT TRANSACTION;`

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), reapInterval)
			if err := execAll(ctx, s.db, sql, map[string]any{"now": millis(s.now())}); err != nil {
				s.logger.WarnContext(ctx, "Failed to reap expired tuples", "error", err)
			}
			cancel()
		}
	}
}

// fail wraps a driver error, mapping transport failures to ErrUnavailable.
func (s *Space) fail(op, kind string, err error) error {
	if errors.Is(err, space.ErrInvalidTuple) || errors.Is(err, context.Canceled) {
		return space.NewSpaceError(op, kind, err)
	}
	if isConnectionError(err) {
		return space.NewSpaceError(op, kind, fmt.Errorf("%w: %w", space.ErrUnavailable, err))
	}
	return space.NewSpaceError(op, kind, err)
}

// exec runs a single statement and returns its rows.
func exec[T any](ctx context.Context, db *surrealdb.DB, sql string, params map[string]any) ([]T, error) {
	results, err := surrealdb.Query[[]T](ctx, db, sql, params)
	if err != nil {
		return nil, err
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	res := (*results)[0]
	if res.Status != "OK" {
		return nil, fmt.Errorf("query failed with status: %s", res.Status)
	}
	return res.Result, nil
}

// execAll runs a multi-statement query and fails if any statement did.
func execAll(ctx context.Context, db *surrealdb.DB, sql string, params map[string]any) error {
	results, err := surrealdb.Query[any](ctx, db, sql, params)
	if err != nil {
		return err
	}
	if results == nil {
		return nil
	}
	for i, res := range *results {
		if res.Status != "OK" {
			return fmt.Errorf("statement %d failed with status: %s", i, res.Status)
		}
	}
	return nil
}

// isConnectionError checks if an error is likely due to a lost or failed connection.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "unexpected eof") ||
		strings.Contains(msg, "use of closed network connection")
}

// redactDBURL returns dbURL with any password replaced.
func redactDBURL(dbURL string) string {
	parsed, err := url.Parse(dbURL)
	if err != nil {
		return "invalid-url"
	}
	return parsed.Redacted()
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
