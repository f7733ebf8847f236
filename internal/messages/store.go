// Package messages stores chat messages as space entries. The coordination
// layer only ever asks it to drop a deleted topic's messages.
package messages

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/nfrund/topicspace/internal/domain"
	"github.com/nfrund/topicspace/internal/space"
)

// Registry is the part of the message store the topic registry depends on.
type Registry interface {
	DeleteAllTopicMessages(ctx context.Context, topicID uuid.UUID) (int, error)
}

// Store is a space-backed message registry.
type Store struct {
	handle *space.Handle
	logger *slog.Logger
}

var _ Registry = (*Store)(nil)

// NewStore creates a store on the space behind h.
func NewStore(h *space.Handle) *Store {
	return &Store{
		handle: h,
		logger: slog.Default().With("service", "messages"),
	}
}

// Post validates and stores m with an unbounded lease.
func (s *Store) Post(ctx context.Context, m domain.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	sp, err := s.handle.Get(ctx)
	if err != nil {
		return err
	}
	if _, err := space.Write(ctx, sp, m, nil, space.Forever); err != nil {
		return fmt.Errorf("failed to store message: %w", err)
	}
	return nil
}

// List returns a topic's messages, oldest first.
func (s *Store) List(ctx context.Context, topicID uuid.UUID) ([]domain.Message, error) {
	sp, err := s.handle.Get(ctx)
	if err != nil {
		return nil, err
	}
	msgs, err := space.FindAllAs(ctx, sp, domain.Message{TopicID: topicID}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].SentAt.Before(msgs[j].SentAt)
	})
	return msgs, nil
}

// DeleteAllTopicMessages takes every message of a topic and returns how
// many were removed.
func (s *Store) DeleteAllTopicMessages(ctx context.Context, topicID uuid.UUID) (int, error) {
	sp, err := s.handle.Get(ctx)
	if err != nil {
		return 0, err
	}

	tmpl := domain.Message{TopicID: topicID}
	n := 0
	for {
		m, err := space.Take(ctx, sp, tmpl, nil, space.NoWait)
		if err != nil {
			return n, fmt.Errorf("failed to delete messages: %w", err)
		}
		if m == nil {
			break
		}
		n++
	}
	s.logger.DebugContext(ctx, "Deleted topic messages", "topic_id", topicID, "count", n)
	return n, nil
}
