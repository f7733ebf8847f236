package surreal

import (
	"context"
	"time"

	"github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/nfrund/topicspace/internal/space"
)

const liveClause = "(expires_at = 0 OR expires_at > $now)"

type entryLease struct {
	space   *Space
	tid     string
	expires time.Time
}

func (l *entryLease) ID() string            { return l.tid }
func (l *entryLease) Expiration() time.Time { return l.expires }

// Renew implements space.Lease.
func (l *entryLease) Renew(ctx context.Context, d time.Duration) error {
	now := l.space.now()
	expires := space.ExpiresAt(now, d)
	params := map[string]any{
		"rid":     models.NewRecordID(table, l.tid),
		"now":     millis(now),
		"expires": millis(expires),
	}

	updated, err := exec[record](ctx, l.space.db,
		"UPDATE $rid SET expires_at = $expires, ev = '' WHERE "+liveClause+" RETURN AFTER", params)
	if err != nil {
		return l.space.fail("renew", "", err)
	}
	if len(updated) == 0 {
		return space.NewSpaceError("renew", "", space.ErrUnknownLease)
	}
	l.expires = expires
	return nil
}

// Cancel implements space.Lease. The record is marked first so watchers do
// not mistake its removal for a take.
func (l *entryLease) Cancel(ctx context.Context) error {
	params := map[string]any{
		"rid": models.NewRecordID(table, l.tid),
		"now": millis(l.space.now()),
	}

	marked, err := exec[record](ctx, l.space.db,
		"UPDATE $rid SET ev = 'cancelled' WHERE "+liveClause+" RETURN AFTER", params)
	if err != nil {
		return l.space.fail("cancel", "", err)
	}
	if len(marked) == 0 {
		return space.NewSpaceError("cancel", "", space.ErrUnknownLease)
	}

	if _, err := exec[record](ctx, l.space.db, "DELETE $rid", params); err != nil {
		return l.space.fail("cancel", "", err)
	}
	return nil
}
