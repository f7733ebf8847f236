package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/nfrund/topicspace/internal/domain"
	"github.com/nfrund/topicspace/internal/notify"
)

// Session is one logged-in user with live topic streams.
type Session struct {
	User    domain.User
	Added   <-chan domain.Topic
	Removed <-chan domain.Topic

	service *Service
	regs    []*notify.Registration
}

// Login starts a session for u. Any presence left behind by an earlier
// session that ended uncleanly is cleared first; a failure there is logged
// and does not prevent the login.
func (s *Service) Login(ctx context.Context, u domain.User) (*Session, error) {
	if !u.Identified() {
		return nil, fmt.Errorf("%w: login requires a user with an id and a base name", domain.ErrValidation)
	}

	if err := s.presence.LeaveAll(ctx, u); err != nil {
		s.logger.WarnContext(ctx, "Failed to clear stale presence on login", "user_id", u.ID, "error", err)
	}

	// The streams outlive the login request.
	streamCtx := context.WithoutCancel(ctx)

	added, addedReg, err := s.subscriber.Topics(streamCtx, notify.TopicAdded)
	if err != nil {
		return nil, fmt.Errorf("failed to watch added topics: %w", err)
	}
	removed, removedReg, err := s.subscriber.Topics(streamCtx, notify.TopicRemoved)
	if err != nil {
		addedReg.Cancel(ctx)
		return nil, fmt.Errorf("failed to watch removed topics: %w", err)
	}

	s.logger.InfoContext(ctx, "User logged in", "user_id", u.ID, "name", u.Name)
	return &Session{
		User:    u.Public(),
		Added:   added,
		Removed: removed,
		service: s,
		regs:    []*notify.Registration{addedReg, removedReg},
	}, nil
}

// Logout cancels the session's registrations and removes the user from
// every topic. Both steps are best-effort so a space hiccup cannot keep a
// user from logging out.
func (sess *Session) Logout(ctx context.Context) {
	for _, r := range sess.regs {
		r.Cancel(ctx)
	}
	if err := sess.service.presence.LeaveAll(ctx, sess.User); err != nil {
		sess.service.logger.WarnContext(ctx, "Failed to leave topics on logout", "user_id", sess.User.ID, "error", err)
	}
	sess.service.logger.InfoContext(ctx, "User logged out", "user_id", sess.User.ID)
}

// Renew extends every registration of the session by the subscriber's
// lease. Registrations that already ended are reported in the error.
func (sess *Session) Renew(ctx context.Context) error {
	var errs []error
	for _, r := range sess.regs {
		if err := r.Renew(ctx, sess.service.NotifyLease()); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Class(), err))
		}
	}
	return errors.Join(errs...)
}
