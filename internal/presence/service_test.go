package presence

import (
	"context"
	"errors"
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

func newTracker(t *testing.T, s space.Space, opts ...Option) *Tracker {
	t.Helper()
	h := space.Static(s)
	t.Cleanup(func() { _ = h.Close() })
	return NewTracker(h, opts...)
}

// crumbFailingSpace refuses to store breadcrumbs.
type crumbFailingSpace struct {
	space.Space
}

func (f crumbFailingSpace) Write(ctx context.Context, t space.Tuple, txn space.Transaction, lease time.Duration) (space.Lease, error) {
	if t.Kind == domain.KindMembershipRemoved {
		return nil, space.Unavailable("write", errors.New("connection refused"))
	}
	return f.Space.Write(ctx, t, txn, lease)
}

func TestJoinIsIdempotent(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(t, memory.New())
	topicID := uuid.New()
	bob := testutils.NewTestUser("Bob")

	require.NoError(t, tr.Join(ctx, topicID, bob))
	require.NoError(t, tr.Join(ctx, topicID, bob))

	members, err := tr.Members(ctx, topicID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.True(t, members[0].User.Equal(bob))
	assert.Empty(t, members[0].User.Password, "credentials are not stored with memberships")

	in, err := tr.IsMember(ctx, topicID, bob)
	require.NoError(t, err)
	assert.True(t, in)
}

func TestLeaveWritesOneBreadcrumb(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(t, memory.New(), WithBreadcrumbLease(time.Minute))
	topicID := uuid.New()
	bob := testutils.NewTestUser("Bob")

	require.NoError(t, tr.Join(ctx, topicID, bob))

	removed, err := tr.Leave(ctx, topicID, bob)
	require.NoError(t, err)
	assert.True(t, removed)

	members, err := tr.Members(ctx, topicID)
	require.NoError(t, err)
	assert.Empty(t, members)

	crumbs, err := tr.Removed(ctx, topicID)
	require.NoError(t, err)
	require.Len(t, crumbs, 1)
	assert.Equal(t, bob.ID, crumbs[0].User.ID)

	// Leaving again is a no-op: no error and no second breadcrumb.
	removed, err = tr.Leave(ctx, topicID, bob)
	require.NoError(t, err)
	assert.False(t, removed)

	crumbs, err = tr.Removed(ctx, topicID)
	require.NoError(t, err)
	assert.Len(t, crumbs, 1)
}

func TestLeaveRemovesDuplicates(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	tr := newTracker(t, s, WithBreadcrumbLease(time.Minute))
	topicID := uuid.New()
	bob := testutils.NewTestUser("Bob")

	// Simulate two racing joins that both passed the existence check.
	for i := 0; i < 2; i++ {
		_, err := space.Write(ctx, s, domain.Membership{TopicID: topicID, User: bob}, nil, space.Forever)
		require.NoError(t, err)
	}

	removed, err := tr.Leave(ctx, topicID, bob)
	require.NoError(t, err)
	assert.True(t, removed)

	members, err := tr.Members(ctx, topicID)
	require.NoError(t, err)
	assert.Empty(t, members)

	crumbs, err := tr.Removed(ctx, topicID)
	require.NoError(t, err)
	assert.Len(t, crumbs, 1)
}

func TestPendingBreadcrumbSuppressesDuplicate(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(t, memory.New(), WithBreadcrumbLease(time.Minute))
	topicID := uuid.New()
	bob := testutils.NewTestUser("Bob")

	for i := 0; i < 2; i++ {
		require.NoError(t, tr.Join(ctx, topicID, bob))
		_, err := tr.Leave(ctx, topicID, bob)
		require.NoError(t, err)
	}

	crumbs, err := tr.Removed(ctx, topicID)
	require.NoError(t, err)
	assert.Len(t, crumbs, 1)
}

func TestBreadcrumbExpires(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(t, memory.New(), WithBreadcrumbLease(30*time.Millisecond))
	topicID := uuid.New()
	bob := testutils.NewTestUser("Bob")

	require.NoError(t, tr.Join(ctx, topicID, bob))
	_, err := tr.Leave(ctx, topicID, bob)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		crumbs, err := tr.Removed(ctx, topicID)
		return err == nil && len(crumbs) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestBreadcrumbFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(t, crumbFailingSpace{Space: memory.New()})
	topicID := uuid.New()
	bob := testutils.NewTestUser("Bob")

	require.NoError(t, tr.Join(ctx, topicID, bob))

	removed, err := tr.Leave(ctx, topicID, bob)
	require.NoError(t, err)
	assert.True(t, removed)

	members, err := tr.Members(ctx, topicID)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestLeaveAll(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(t, memory.New(), WithBreadcrumbLease(time.Minute))
	bob := testutils.NewTestUser("Bob")
	alice := testutils.NewTestUser("Alice")
	topics := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	for _, id := range topics {
		require.NoError(t, tr.Join(ctx, id, bob))
	}
	require.NoError(t, tr.Join(ctx, topics[0], alice))

	require.NoError(t, tr.LeaveAll(ctx, bob))

	for _, id := range topics {
		in, err := tr.IsMember(ctx, id, bob)
		require.NoError(t, err)
		assert.False(t, in)

		crumbs, err := tr.Removed(ctx, id)
		require.NoError(t, err)
		assert.Len(t, crumbs, 1)
	}

	in, err := tr.IsMember(ctx, topics[0], alice)
	require.NoError(t, err)
	assert.True(t, in, "other users are untouched")

	// No memberships left: a no-op.
	require.NoError(t, tr.LeaveAll(ctx, bob))
}

func TestLeaveAllMatchesIdAndBaseName(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(t, memory.New())
	topicID := uuid.New()
	bob := testutils.NewTestUser("Bob")
	impostor := domain.User{ID: bob.ID, Name: "Robert", BaseName: domain.BaseName("Robert")}

	require.NoError(t, tr.Join(ctx, topicID, bob))
	require.NoError(t, tr.LeaveAll(ctx, impostor))

	in, err := tr.IsMember(ctx, topicID, bob)
	require.NoError(t, err)
	assert.True(t, in)
}

func TestRejectsUnidentifiedUsers(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(t, memory.New())
	topicID := uuid.New()
	alice := testutils.NewTestUser("Alice")
	bob := testutils.NewTestUser("Bob")
	require.NoError(t, tr.Join(ctx, topicID, alice))
	require.NoError(t, tr.Join(ctx, topicID, bob))

	for name, u := range map[string]domain.User{
		"zero":         {},
		"no id":        {Name: "Alice", BaseName: alice.BaseName},
		"no base name": {ID: alice.ID, Name: "!!!"},
	} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, tr.LeaveAll(ctx, u), domain.ErrValidation)
			_, err := tr.Leave(ctx, topicID, u)
			assert.ErrorIs(t, err, domain.ErrValidation)
			assert.ErrorIs(t, tr.Join(ctx, topicID, u), domain.ErrValidation)
			_, err = tr.IsMember(ctx, topicID, u)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}

	members, err := tr.Members(ctx, topicID)
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestRemoveAll(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(t, memory.New())
	topicID := uuid.New()
	other := uuid.New()

	for _, name := range []string{"Alice", "Bob", "Carol"} {
		require.NoError(t, tr.Join(ctx, topicID, testutils.NewTestUser(name)))
	}
	dave := testutils.NewTestUser("Dave")
	require.NoError(t, tr.Join(ctx, other, dave))

	n, err := tr.RemoveAll(ctx, topicID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	members, err := tr.Members(ctx, topicID)
	require.NoError(t, err)
	assert.Empty(t, members)

	crumbs, err := tr.Removed(ctx, topicID)
	require.NoError(t, err)
	assert.Empty(t, crumbs)

	members, err = tr.Members(ctx, other)
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestUnavailableSpace(t *testing.T) {
	h := space.NewHandle(func(ctx context.Context) (space.Space, error) {
		return nil, errors.New("connection refused")
	})
	tr := NewTracker(h)

	err := tr.Join(context.Background(), uuid.New(), testutils.NewTestUser("Bob"))
	assert.ErrorIs(t, err, space.ErrUnavailable)
}
