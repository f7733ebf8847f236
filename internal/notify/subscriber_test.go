package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/topicspace/internal/domain"
	"github.com/nfrund/topicspace/internal/space"
	"github.com/nfrund/topicspace/internal/space/memory"
	"github.com/nfrund/topicspace/internal/testutils"
)

func setup(t *testing.T, opts ...Option) (*Subscriber, space.Space) {
	t.Helper()
	s := memory.New()
	h := space.Static(s)
	t.Cleanup(func() { _ = h.Close() })
	return NewSubscriber(h, opts...), s
}

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) handle(ctx context.Context, ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *collector) at(i int) Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[i]
}

func TestRegisterTopicAddedAndRemoved(t *testing.T) {
	ctx := context.Background()
	sub, s := setup(t)

	added := &collector{}
	removed := &collector{}
	ra, err := sub.Register(ctx, TopicAdded, added.handle)
	require.NoError(t, err)
	rr, err := sub.Register(ctx, TopicRemoved, removed.handle)
	require.NoError(t, err)
	assert.Equal(t, StateRegistered, ra.State())
	assert.Equal(t, TopicRemoved, rr.Class())

	topic := domain.NewTopic("Dev Chat", testutils.NewTestUser("Alice"))
	_, err = space.Write(ctx, s, topic, nil, space.Forever)
	require.NoError(t, err)
	_, err = space.Take(ctx, s, domain.TopicByID(topic.ID), nil, space.NoWait)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return added.len() == 1 && removed.len() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, topic.ID, added.at(0).Topic.ID)
	assert.Equal(t, TopicAdded, added.at(0).Class)
	assert.Equal(t, topic.ID, removed.at(0).Topic.ID)
}

func TestRegisterMemberRemoved(t *testing.T) {
	ctx := context.Background()
	sub, s := setup(t)

	got := &collector{}
	_, err := sub.Register(ctx, MemberRemoved, got.handle)
	require.NoError(t, err)

	crumb := domain.MembershipRemoved{TopicID: uuid.New(), User: testutils.NewTestUser("Bob").Public()}
	_, err = space.Write(ctx, s, crumb, nil, time.Second)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return got.len() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, crumb.TopicID, got.at(0).Removal.TopicID)
}

func TestRegisterRejectsBadArguments(t *testing.T) {
	sub, _ := setup(t)
	_, err := sub.Register(context.Background(), Class(99), func(context.Context, Event) {})
	assert.Error(t, err)
	_, err = sub.Register(context.Background(), TopicAdded, nil)
	assert.Error(t, err)
	_, _, err = sub.Topics(context.Background(), MemberRemoved)
	assert.Error(t, err)
}

func TestCancelIsIdempotent(t *testing.T) {
	ctx := context.Background()
	sub, s := setup(t)

	got := &collector{}
	r, err := sub.Register(ctx, TopicAdded, got.handle)
	require.NoError(t, err)

	r.Cancel(ctx)
	r.Cancel(ctx)
	assert.Equal(t, StateCancelled, r.State())
	select {
	case <-r.Done():
	default:
		t.Fatal("done not closed after cancel")
	}

	_, err = space.Write(ctx, s, domain.NewTopic("Late", testutils.NewTestUser("Alice")), nil, space.Forever)
	require.NoError(t, err)
	assert.Never(t, func() bool { return got.len() > 0 }, 100*time.Millisecond, 10*time.Millisecond)

	assert.ErrorIs(t, r.Renew(ctx, time.Minute), space.ErrUnknownLease)
}

// brokenLease fails every call.
type brokenLease struct{}

func (brokenLease) ID() string            { return "broken" }
func (brokenLease) Expiration() time.Time { return time.Time{} }
func (brokenLease) Renew(context.Context, time.Duration) error {
	return space.Unavailable("renew", errors.New("connection refused"))
}
func (brokenLease) Cancel(context.Context) error {
	return space.Unavailable("cancel", errors.New("connection refused"))
}

func TestCancelSwallowsLeaseFailures(t *testing.T) {
	r := &Registration{
		class:  TopicAdded,
		logger: testLogger(),
		state:  StateRegistered,
		lease:  brokenLease{},
		done:   make(chan struct{}),
	}
	r.Cancel(context.Background())
	assert.Equal(t, StateCancelled, r.State())
}

func TestRenewFailureKeepsRegistration(t *testing.T) {
	r := &Registration{
		class:  TopicAdded,
		logger: testLogger(),
		state:  StateRegistered,
		lease:  brokenLease{},
		done:   make(chan struct{}),
	}
	err := r.Renew(context.Background(), time.Minute)
	assert.ErrorIs(t, err, space.ErrUnavailable)
	assert.Equal(t, StateRegistered, r.State())
}

// slowLease expires at a fixed time and fails renewals after a delay.
type slowLease struct {
	expires time.Time
	delay   time.Duration
}

func (l slowLease) ID() string            { return "slow" }
func (l slowLease) Expiration() time.Time { return l.expires }
func (l slowLease) Renew(context.Context, time.Duration) error {
	time.Sleep(l.delay)
	return space.Unavailable("renew", errors.New("connection reset"))
}
func (l slowLease) Cancel(context.Context) error { return nil }

func TestLeaseExpiresDuringFailedRenewal(t *testing.T) {
	lease := slowLease{expires: time.Now().Add(50 * time.Millisecond), delay: 150 * time.Millisecond}
	r := &Registration{
		class:  TopicAdded,
		logger: testLogger(),
		state:  StateRegistered,
		lease:  lease,
		done:   make(chan struct{}),
	}
	r.mu.Lock()
	r.armLocked(lease.expires)
	r.mu.Unlock()

	err := r.Renew(context.Background(), time.Minute)
	assert.ErrorIs(t, err, space.ErrUnavailable)

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("registration outlived its lease")
	}
	assert.Equal(t, StateCancelled, r.State())
}

func TestFailedRenewalRearmsExpiry(t *testing.T) {
	lease := slowLease{expires: time.Now().Add(150 * time.Millisecond), delay: 10 * time.Millisecond}
	r := &Registration{
		class:  TopicAdded,
		logger: testLogger(),
		state:  StateRegistered,
		lease:  lease,
		done:   make(chan struct{}),
	}

	err := r.Renew(context.Background(), time.Minute)
	assert.ErrorIs(t, err, space.ErrUnavailable)
	assert.Equal(t, StateRegistered, r.State())

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("registration did not end at the old lease expiry")
	}
	assert.Equal(t, StateCancelled, r.State())
}

func TestLeaseExpiryEndsRegistration(t *testing.T) {
	ctx := context.Background()
	sub, _ := setup(t, WithLease(40*time.Millisecond))

	r, err := sub.Register(ctx, TopicAdded, func(context.Context, Event) {})
	require.NoError(t, err)

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("registration did not expire")
	}
	assert.Equal(t, StateCancelled, r.State())
	assert.ErrorIs(t, r.Renew(ctx, time.Minute), space.ErrUnknownLease)
}

func TestRenewExtendsLease(t *testing.T) {
	ctx := context.Background()
	sub, s := setup(t, WithLease(50*time.Millisecond))

	got := &collector{}
	r, err := sub.Register(ctx, TopicAdded, got.handle)
	require.NoError(t, err)
	before := r.Expiration()

	require.NoError(t, r.Renew(ctx, time.Minute))
	assert.True(t, r.Expiration().After(before))
	assert.Equal(t, StateRegistered, r.State())

	time.Sleep(80 * time.Millisecond)
	_, err = space.Write(ctx, s, domain.NewTopic("Still here", testutils.NewTestUser("Alice")), nil, space.Forever)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return got.len() == 1 }, time.Second, 10*time.Millisecond)
}

func TestTopicsStream(t *testing.T) {
	ctx := context.Background()
	sub, s := setup(t)

	ch, r, err := sub.Topics(ctx, TopicAdded)
	require.NoError(t, err)

	alice := testutils.NewTestUser("Alice")
	for _, name := range []string{"one", "two"} {
		_, err := space.Write(ctx, s, domain.NewTopic(name, alice), nil, space.Forever)
		require.NoError(t, err)
	}

	names := map[string]bool{}
	for len(names) < 2 {
		select {
		case tp := <-ch:
			names[tp.Name] = true
		case <-time.After(time.Second):
			t.Fatalf("timed out, got %v", names)
		}
	}

	r.Cancel(ctx)
	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("stream not closed")
	}
}

func TestTopicsStreamEndsWithContext(t *testing.T) {
	sub, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())

	ch, r, err := sub.Topics(ctx, TopicRemoved)
	require.NoError(t, err)
	cancel()

	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("stream not closed")
	}
	assert.Equal(t, StateCancelled, r.State())
}

func TestTopicsStreamDropsWhenFull(t *testing.T) {
	ctx := context.Background()
	sub, s := setup(t, WithBuffer(1))

	ch, r, err := sub.Topics(ctx, TopicAdded)
	require.NoError(t, err)
	defer r.Cancel(ctx)

	alice := testutils.NewTestUser("Alice")
	for _, name := range []string{"one", "two", "three"} {
		_, err := space.Write(ctx, s, domain.NewTopic(name, alice), nil, space.Forever)
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool { return len(ch) == 1 }, time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool { return len(ch) > 1 }, 100*time.Millisecond, 10*time.Millisecond)
}
