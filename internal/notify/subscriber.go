// Package notify turns space events into topic notifications. Each
// registration is bound to a finite lease: it is not renewed automatically,
// so a session that disappears without cancelling simply stops receiving
// events once the lease runs out.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nfrund/topicspace/internal/domain"
	"github.com/nfrund/topicspace/internal/space"
)

const (
	DefaultLease  = 10 * time.Minute
	DefaultBuffer = 64
)

// Class selects which changes a registration reports.
type Class int

const (
	// TopicAdded fires when a topic entry is written.
	TopicAdded Class = iota + 1
	// TopicRemoved fires when a topic entry is taken.
	TopicRemoved
	// MemberRemoved fires when a removal breadcrumb is written.
	MemberRemoved
)

func (c Class) String() string {
	switch c {
	case TopicAdded:
		return "topic.added"
	case TopicRemoved:
		return "topic.removed"
	case MemberRemoved:
		return "member.removed"
	default:
		return "unknown"
	}
}

func (c Class) template() (space.Template, space.EventKind, error) {
	switch c {
	case TopicAdded:
		return space.TemplateOf(domain.Topic{}), space.EventWritten, nil
	case TopicRemoved:
		return space.TemplateOf(domain.Topic{}), space.EventTaken, nil
	case MemberRemoved:
		return space.TemplateOf(domain.MembershipRemoved{}), space.EventWritten, nil
	default:
		return space.Template{}, 0, fmt.Errorf("unknown event class %d", c)
	}
}

// Event is one notification. Topic is set for topic classes, Removal for
// MemberRemoved.
type Event struct {
	Class   Class                    `json:"class"`
	Topic   domain.Topic             `json:"topic"`
	Removal domain.MembershipRemoved `json:"removal"`
}

// Handler receives events on a goroutine owned by the space. Events may be
// duplicated or missed, and arrive in no particular order across topics.
type Handler func(ctx context.Context, ev Event)

// Subscriber registers lease-bound event subscriptions.
type Subscriber struct {
	handle *space.Handle
	lease  time.Duration
	buffer int
	logger *slog.Logger
}

// Option is a function that configures a Subscriber.
type Option func(*Subscriber)

// WithLease sets the lease requested for new registrations.
func WithLease(d time.Duration) Option {
	return func(s *Subscriber) {
		if d > 0 {
			s.lease = d
		}
	}
}

// WithBuffer sets the channel size used by Topics.
func WithBuffer(n int) Option {
	return func(s *Subscriber) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Subscriber) {
		s.logger = l
	}
}

// NewSubscriber creates a subscriber on the space behind h.
func NewSubscriber(h *space.Handle, opts ...Option) *Subscriber {
	s := &Subscriber{
		handle: h,
		lease:  DefaultLease,
		buffer: DefaultBuffer,
		logger: slog.Default().With("service", "notify"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register asks the space to call handler for every future change of the
// given class, for as long as the registration's lease lasts.
func (s *Subscriber) Register(ctx context.Context, class Class, handler Handler) (*Registration, error) {
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}
	tmpl, kinds, err := class.template()
	if err != nil {
		return nil, err
	}

	sp, err := s.handle.Get(ctx)
	if err != nil {
		return nil, err
	}

	r := &Registration{
		class:  class,
		logger: s.logger,
		done:   make(chan struct{}),
	}

	lease, err := sp.Notify(ctx, tmpl, kinds, func(ctx context.Context, ev space.Event) {
		out, err := decode(class, ev.Tuple)
		if err != nil {
			s.logger.WarnContext(ctx, "Dropping undecodable event", "class", class, "error", err)
			return
		}
		handler(ctx, out)
	}, s.lease)
	if err != nil {
		return nil, fmt.Errorf("failed to register for %s events: %w", class, err)
	}

	r.mu.Lock()
	r.lease = lease
	r.state = StateRegistered
	r.armLocked(lease.Expiration())
	r.mu.Unlock()

	s.logger.DebugContext(ctx, "Registered for events", "class", class, "registration", lease.ID(), "expires", lease.Expiration())
	return r, nil
}

// Topics registers for a topic class and returns the events as a stream.
// The channel is closed when the registration is cancelled or expires, or
// when ctx ends (which cancels the registration). Events that arrive while
// the buffer is full are dropped and logged.
func (s *Subscriber) Topics(ctx context.Context, class Class) (<-chan domain.Topic, *Registration, error) {
	if class != TopicAdded && class != TopicRemoved {
		return nil, nil, fmt.Errorf("%s does not carry topics", class)
	}

	st := &stream{ch: make(chan domain.Topic, s.buffer)}
	r, err := s.Register(ctx, class, func(ctx context.Context, ev Event) {
		if !st.send(ev.Topic) {
			s.logger.WarnContext(ctx, "Dropping topic event for slow consumer", "class", class, "topic_id", ev.Topic.ID)
		}
	})
	if err != nil {
		return nil, nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
			r.Cancel(context.WithoutCancel(ctx))
		case <-r.Done():
		}
		st.close()
	}()
	return st.ch, r, nil
}

func decode(class Class, t space.Tuple) (Event, error) {
	ev := Event{Class: class}
	var err error
	switch class {
	case TopicAdded, TopicRemoved:
		ev.Topic, err = space.Decode[domain.Topic](t)
	case MemberRemoved:
		ev.Removal, err = space.Decode[domain.MembershipRemoved](t)
	}
	return ev, err
}

type stream struct {
	mu     sync.Mutex
	ch     chan domain.Topic
	closed bool
}

func (s *stream) send(t domain.Topic) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- t:
		return true
	default:
		return false
	}
}

func (s *stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Lease returns the lease duration requested for registrations.
func (s *Subscriber) Lease() time.Duration {
	return s.lease
}
