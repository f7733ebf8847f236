// Package presence tracks which users are in which topics. Membership lives
// in the coordination space as one entry per (topic, user); leaving drops a
// short-lived breadcrumb so open room views can react to that specific user.
package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nfrund/topicspace/internal/domain"
	"github.com/nfrund/topicspace/internal/space"
)

// DefaultBreadcrumbLease bounds how long an unconsumed breadcrumb survives.
const DefaultBreadcrumbLease = time.Second

// Tracker adds and removes membership entries.
type Tracker struct {
	handle          *space.Handle
	breadcrumbLease time.Duration
	logger          *slog.Logger
}

// Option is a function that configures a Tracker.
type Option func(*Tracker)

// WithBreadcrumbLease sets the lease of removal breadcrumbs. Non-positive
// values are ignored; breadcrumbs must always expire.
func WithBreadcrumbLease(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.breadcrumbLease = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = l
	}
}

// NewTracker creates a tracker on the space behind h.
func NewTracker(h *space.Handle, opts ...Option) *Tracker {
	t := &Tracker{
		handle:          h,
		breadcrumbLease: DefaultBreadcrumbLease,
		logger:          slog.Default().With("service", "presence"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// checkUser rejects users without a full identity, whose membership
// templates would match every user.
func checkUser(u domain.User) error {
	if !u.Identified() {
		return fmt.Errorf("%w: user needs an id and a base name", domain.ErrValidation)
	}
	return nil
}

// Join records u as a member of the topic. Joining twice is a no-op.
//
// The check and the write are separate operations, so two concurrent joins
// of the same pair can both write; Leave removes every duplicate.
func (t *Tracker) Join(ctx context.Context, topicID uuid.UUID, u domain.User) error {
	if err := checkUser(u); err != nil {
		return err
	}
	s, err := t.handle.Get(ctx)
	if err != nil {
		return err
	}

	m := domain.Membership{TopicID: topicID, User: u.Public()}
	existing, err := space.Read(ctx, s, m, nil, space.NoWait)
	if err != nil {
		return fmt.Errorf("failed to check membership: %w", err)
	}
	if existing != nil {
		return nil
	}

	if _, err := space.Write(ctx, s, m, nil, space.Forever); err != nil {
		return fmt.Errorf("failed to write membership: %w", err)
	}
	t.logger.DebugContext(ctx, "User joined topic", "topic_id", topicID, "user_id", u.ID)
	return nil
}

// IsMember reports whether u currently has a membership entry in the topic.
func (t *Tracker) IsMember(ctx context.Context, topicID uuid.UUID, u domain.User) (bool, error) {
	if err := checkUser(u); err != nil {
		return false, err
	}
	s, err := t.handle.Get(ctx)
	if err != nil {
		return false, err
	}
	m, err := space.Read(ctx, s, domain.Membership{TopicID: topicID, User: u.Public()}, nil, space.NoWait)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return m != nil, nil
}

// Leave takes every membership entry for (topic, u) and reports whether any
// existed. When one did, a removal breadcrumb is written unless one is
// already pending; breadcrumb failures are logged and never returned.
func (t *Tracker) Leave(ctx context.Context, topicID uuid.UUID, u domain.User) (bool, error) {
	if err := checkUser(u); err != nil {
		return false, err
	}
	s, err := t.handle.Get(ctx)
	if err != nil {
		return false, err
	}

	removed, err := takeAll(ctx, s, domain.Membership{TopicID: topicID, User: u})
	if err != nil {
		return removed > 0, fmt.Errorf("failed to remove membership: %w", err)
	}
	if removed == 0 {
		return false, nil
	}

	t.dropBreadcrumb(ctx, s, topicID, u)
	t.logger.DebugContext(ctx, "User left topic", "topic_id", topicID, "user_id", u.ID, "entries", removed)
	return true, nil
}

// LeaveAll removes u from every topic it is in. It is how stale presence
// from an unclean disconnect is cleared on the next login. Every topic is
// attempted; failures are joined into the returned error.
func (t *Tracker) LeaveAll(ctx context.Context, u domain.User) error {
	if err := checkUser(u); err != nil {
		return err
	}
	s, err := t.handle.Get(ctx)
	if err != nil {
		return err
	}

	memberships, err := space.FindAllAs(ctx, s, domain.Membership{User: u}, nil)
	if err != nil {
		return fmt.Errorf("failed to list memberships: %w", err)
	}

	seen := make(map[uuid.UUID]struct{}, len(memberships))
	var errs []error
	for _, m := range memberships {
		if _, dup := seen[m.TopicID]; dup {
			continue
		}
		seen[m.TopicID] = struct{}{}
		if _, err := t.Leave(ctx, m.TopicID, u); err != nil {
			errs = append(errs, fmt.Errorf("topic %s: %w", m.TopicID, err))
		}
	}
	return errors.Join(errs...)
}

// Members lists the current memberships of a topic.
func (t *Tracker) Members(ctx context.Context, topicID uuid.UUID) ([]domain.Membership, error) {
	s, err := t.handle.Get(ctx)
	if err != nil {
		return nil, err
	}
	return space.FindAllAs(ctx, s, domain.Membership{TopicID: topicID}, nil)
}

// RemoveAll takes every membership of a topic, for use once the topic is
// gone. No breadcrumbs are written.
func (t *Tracker) RemoveAll(ctx context.Context, topicID uuid.UUID) (int, error) {
	s, err := t.handle.Get(ctx)
	if err != nil {
		return 0, err
	}
	return takeAll(ctx, s, domain.Membership{TopicID: topicID})
}

// Removed lists the pending removal breadcrumbs of a topic.
func (t *Tracker) Removed(ctx context.Context, topicID uuid.UUID) ([]domain.MembershipRemoved, error) {
	s, err := t.handle.Get(ctx)
	if err != nil {
		return nil, err
	}
	return space.FindAllAs(ctx, s, domain.MembershipRemoved{TopicID: topicID}, nil)
}

func (t *Tracker) dropBreadcrumb(ctx context.Context, s space.Space, topicID uuid.UUID, u domain.User) {
	crumb := domain.MembershipRemoved{TopicID: topicID, User: u.Public()}

	pending, err := space.Read(ctx, s, crumb, nil, space.NoWait)
	if err != nil {
		t.logger.WarnContext(ctx, "Failed to check removal breadcrumb", "topic_id", topicID, "user_id", u.ID, "error", err)
		return
	}
	if pending != nil {
		return
	}

	if _, err := space.Write(ctx, s, crumb, nil, t.breadcrumbLease); err != nil {
		t.logger.WarnContext(ctx, "Failed to write removal breadcrumb", "topic_id", topicID, "user_id", u.ID, "error", err)
	}
}

// takeAll takes matching memberships until none remain.
func takeAll(ctx context.Context, s space.Space, tmpl domain.Membership) (int, error) {
	n := 0
	for {
		m, err := space.Take(ctx, s, tmpl, nil, space.NoWait)
		if err != nil {
			return n, err
		}
		if m == nil {
			return n, nil
		}
		n++
	}
}
