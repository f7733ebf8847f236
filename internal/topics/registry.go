// Package topics keeps the registry of live topics in the coordination
// space. Topic base names and ids are unique among live topics; deleting a
// topic cascades to its memberships and messages.
package topics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nfrund/topicspace/internal/domain"
	"github.com/nfrund/topicspace/internal/messages"
	"github.com/nfrund/topicspace/internal/space"
)

const (
	DefaultCreateTimeout = 3 * time.Second
	DefaultLookupTimeout = time.Second
)

// Presence is what the registry needs from the presence tracker.
type Presence interface {
	Members(ctx context.Context, topicID uuid.UUID) ([]domain.Membership, error)
	RemoveAll(ctx context.Context, topicID uuid.UUID) (int, error)
}

// Registry creates, looks up and deletes topics.
type Registry struct {
	handle        *space.Handle
	presence      Presence
	messages      messages.Registry
	createTimeout time.Duration
	lookupTimeout time.Duration
	logger        *slog.Logger
}

// Option is a function that configures a Registry.
type Option func(*Registry)

// WithCreateTimeout bounds the transaction that creates a topic.
func WithCreateTimeout(d time.Duration) Option {
	return func(r *Registry) {
		r.createTimeout = d
	}
}

// WithLookupTimeout sets how long single-topic lookups wait for a match.
func WithLookupTimeout(d time.Duration) Option {
	return func(r *Registry) {
		r.lookupTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// NewRegistry creates a registry on the space behind h.
func NewRegistry(h *space.Handle, presence Presence, msgs messages.Registry, opts ...Option) *Registry {
	r := &Registry{
		handle:        h,
		presence:      presence,
		messages:      msgs,
		createTimeout: DefaultCreateTimeout,
		lookupTimeout: DefaultLookupTimeout,
		logger:        slog.Default().With("service", "topics"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create stores t if no live topic shares its base name or id.
//
// Both checks and the write run in one transaction, but the checks are
// plain reads: a concurrent creator can pass the same checks before this
// transaction commits. That window is accepted; List drops duplicate ids.
func (r *Registry) Create(ctx context.Context, t domain.Topic) error {
	if err := t.Validate(); err != nil {
		return err
	}
	t.Owner = t.Owner.Public()

	s, err := r.handle.Get(ctx)
	if err != nil {
		return err
	}

	err = space.WithTransaction(ctx, s, r.createTimeout, func(txn space.Transaction) error {
		byName, err := space.Read(ctx, s, domain.Topic{BaseName: t.BaseName}, txn, space.NoWait)
		if err != nil {
			return fmt.Errorf("failed to check topic name: %w", err)
		}
		if byName != nil {
			return fmt.Errorf("%w: name %q is taken by %q", domain.ErrDuplicateEntry, t.Name, byName.Name)
		}

		byID, err := space.Read(ctx, s, domain.TopicByID(t.ID), txn, space.NoWait)
		if err != nil {
			return fmt.Errorf("failed to check topic id: %w", err)
		}
		if byID != nil {
			return fmt.Errorf("%w: id %s", domain.ErrDuplicateEntry, t.ID)
		}

		if _, err := space.Write(ctx, s, t, txn, space.Forever); err != nil {
			return fmt.Errorf("failed to write topic: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "Topic created", "topic_id", t.ID, "name", t.Name, "owner", t.Owner.ID)
	return nil
}

// GetByID returns the live topic with the given id, or nil when none
// appears within the lookup timeout.
func (r *Registry) GetByID(ctx context.Context, id uuid.UUID) (*domain.Topic, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	return r.lookup(ctx, domain.TopicByID(id))
}

// GetByName returns the live topic whose base name matches name after
// normalization, or nil when there is none.
func (r *Registry) GetByName(ctx context.Context, name string) (*domain.Topic, error) {
	tmpl := domain.TopicByName(name)
	if tmpl.BaseName == "" {
		return nil, nil
	}
	return r.lookup(ctx, tmpl)
}

func (r *Registry) lookup(ctx context.Context, tmpl domain.Topic) (*domain.Topic, error) {
	s, err := r.handle.Get(ctx)
	if err != nil {
		return nil, err
	}
	t, err := space.Read(ctx, s, tmpl, nil, r.lookupTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to look up topic: %w", err)
	}
	return t, nil
}

// List returns a snapshot of all live topics. A topic that slipped in twice
// through a create race is reported once.
func (r *Registry) List(ctx context.Context) ([]domain.Topic, error) {
	s, err := r.handle.Get(ctx)
	if err != nil {
		return nil, err
	}
	all, err := space.FindAllAs(ctx, s, domain.Topic{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}

	seen := make(map[uuid.UUID]struct{}, len(all))
	out := make([]domain.Topic, 0, len(all))
	for _, t := range all {
		if _, dup := seen[t.ID]; dup {
			continue
		}
		seen[t.ID] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}

// Delete removes t on behalf of requester, who must own it. Once the topic
// entry is taken, its memberships and messages are removed best-effort:
// cascade failures are logged and do not bring the topic back.
func (r *Registry) Delete(ctx context.Context, t domain.Topic, requester domain.User) error {
	if !t.OwnedBy(requester) {
		return fmt.Errorf("%w: %s may not delete %q", domain.ErrAccessDenied, requester.Name, t.Name)
	}

	s, err := r.handle.Get(ctx)
	if err != nil {
		return err
	}

	taken, err := space.Take(ctx, s, domain.TopicByID(t.ID), nil, r.lookupTimeout)
	if err != nil {
		return fmt.Errorf("failed to delete topic: %w", err)
	}
	if taken == nil {
		return fmt.Errorf("%w: topic %s", domain.ErrNotFound, t.ID)
	}
	r.logger.InfoContext(ctx, "Topic deleted", "topic_id", t.ID, "name", t.Name)

	r.cascade(ctx, t.ID)
	return nil
}

func (r *Registry) cascade(ctx context.Context, topicID uuid.UUID) {
	if r.presence != nil {
		if n, err := r.presence.RemoveAll(ctx, topicID); err != nil {
			r.logger.WarnContext(ctx, "Failed to remove memberships of deleted topic", "topic_id", topicID, "removed", n, "error", err)
		}
	}
	if r.messages != nil {
		if n, err := r.messages.DeleteAllTopicMessages(ctx, topicID); err != nil {
			r.logger.WarnContext(ctx, "Failed to delete messages of deleted topic", "topic_id", topicID, "removed", n, "error", err)
		}
	}
}

// Members lists the memberships of a topic.
func (r *Registry) Members(ctx context.Context, topicID uuid.UUID) ([]domain.Membership, error) {
	if r.presence == nil {
		return nil, errors.New("topics: no presence tracker configured")
	}
	return r.presence.Members(ctx, topicID)
}
