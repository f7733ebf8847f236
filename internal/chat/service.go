// Package chat is the surface the transport layers talk to. It composes the
// topic registry, presence tracker, notification subscriber and message
// store into the operations a chat client needs.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nfrund/topicspace/internal/domain"
	"github.com/nfrund/topicspace/internal/messages"
	"github.com/nfrund/topicspace/internal/notify"
	"github.com/nfrund/topicspace/internal/presence"
	"github.com/nfrund/topicspace/internal/topics"
)

// Dependencies holds all the services that the chat Service requires to operate.
type Dependencies struct {
	Topics     *topics.Registry
	Presence   *presence.Tracker
	Subscriber *notify.Subscriber
	Messages   *messages.Store
}

// Service implements the chat operations.
type Service struct {
	topics     *topics.Registry
	presence   *presence.Tracker
	subscriber *notify.Subscriber
	messages   *messages.Store
	logger     *slog.Logger
}

// New creates a Service from its dependencies.
func New(deps Dependencies) *Service {
	return &Service{
		topics:     deps.Topics,
		presence:   deps.Presence,
		subscriber: deps.Subscriber,
		messages:   deps.Messages,
		logger:     slog.Default().With("service", "chat"),
	}
}

// ListTopics returns every live topic.
func (s *Service) ListTopics(ctx context.Context) ([]domain.Topic, error) {
	return s.topics.List(ctx)
}

// GetTopic returns the topic with the given id or ErrNotFound.
func (s *Service) GetTopic(ctx context.Context, id uuid.UUID) (domain.Topic, error) {
	t, err := s.topics.GetByID(ctx, id)
	if err != nil {
		return domain.Topic{}, err
	}
	if t == nil {
		return domain.Topic{}, fmt.Errorf("%w: topic %s", domain.ErrNotFound, id)
	}
	return *t, nil
}

// CreateTopic creates a topic named name owned by owner.
func (s *Service) CreateTopic(ctx context.Context, name string, owner domain.User) (domain.Topic, error) {
	t := domain.NewTopic(name, owner)
	if err := s.topics.Create(ctx, t); err != nil {
		return domain.Topic{}, err
	}
	return t, nil
}

// DeleteTopic deletes the topic with the given id on behalf of requester.
// Ownership is checked against the stored topic, not anything the caller
// supplies.
func (s *Service) DeleteTopic(ctx context.Context, topicID uuid.UUID, requester domain.User) error {
	t, err := s.GetTopic(ctx, topicID)
	if err != nil {
		return err
	}
	return s.topics.Delete(ctx, t, requester)
}

// JoinTopic adds u to the topic. It fails with ErrNotFound when the topic
// does not exist and ErrAlreadyJoined when u is already a member.
func (s *Service) JoinTopic(ctx context.Context, topicID uuid.UUID, u domain.User) (domain.Topic, error) {
	t, err := s.GetTopic(ctx, topicID)
	if err != nil {
		return domain.Topic{}, err
	}

	members, err := s.presence.Members(ctx, topicID)
	if err != nil {
		return domain.Topic{}, err
	}
	for _, m := range members {
		if m.User.Equal(u) {
			return domain.Topic{}, fmt.Errorf("%w: %s in %q", domain.ErrAlreadyJoined, u.Name, t.Name)
		}
	}

	if err := s.presence.Join(ctx, topicID, u); err != nil {
		return domain.Topic{}, err
	}
	return t, nil
}

// LeaveTopic removes u from the topic. Leaving a topic u is not in is a
// no-op.
func (s *Service) LeaveTopic(ctx context.Context, topicID uuid.UUID, u domain.User) error {
	_, err := s.presence.Leave(ctx, topicID, u)
	return err
}

// LeaveAllTopics removes u from every topic.
func (s *Service) LeaveAllTopics(ctx context.Context, u domain.User) error {
	return s.presence.LeaveAll(ctx, u)
}

// Members lists the users currently in a topic.
func (s *Service) Members(ctx context.Context, topicID uuid.UUID) ([]domain.User, error) {
	ms, err := s.topics.Members(ctx, topicID)
	if err != nil {
		return nil, err
	}
	users := make([]domain.User, 0, len(ms))
	for _, m := range ms {
		users = append(users, m.User)
	}
	return users, nil
}

// PostMessage stores a message from author in an existing topic.
func (s *Service) PostMessage(ctx context.Context, topicID uuid.UUID, author domain.User, body string) (domain.Message, error) {
	if _, err := s.GetTopic(ctx, topicID); err != nil {
		return domain.Message{}, err
	}
	m := domain.NewMessage(topicID, author, body)
	if err := s.messages.Post(ctx, m); err != nil {
		return domain.Message{}, err
	}
	return m, nil
}

// Messages lists a topic's messages, oldest first.
func (s *Service) Messages(ctx context.Context, topicID uuid.UUID) ([]domain.Message, error) {
	return s.messages.List(ctx, topicID)
}

// Watch streams topic events of one class until ctx ends.
func (s *Service) Watch(ctx context.Context, class notify.Class) (<-chan domain.Topic, *notify.Registration, error) {
	return s.subscriber.Topics(ctx, class)
}

// NotifyLease is the lease every registration is granted and renewed by.
func (s *Service) NotifyLease() time.Duration {
	return s.subscriber.Lease()
}

// MemberRemovals registers handler for removal breadcrumbs.
func (s *Service) MemberRemovals(ctx context.Context, handler notify.Handler) (*notify.Registration, error) {
	return s.subscriber.Register(ctx, notify.MemberRemoved, handler)
}
