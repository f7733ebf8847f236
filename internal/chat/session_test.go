package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/topicspace/internal/domain"
	"github.com/nfrund/topicspace/internal/notify"
	"github.com/nfrund/topicspace/internal/testutils"
)

func receive(t *testing.T, ch <-chan domain.Topic) domain.Topic {
	t.Helper()
	select {
	case tp, ok := <-ch:
		require.True(t, ok, "stream closed")
		return tp
	case <-time.After(time.Second):
		t.Fatal("no event")
		return domain.Topic{}
	}
}

func TestSessionStreams(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	alice := testutils.NewTestUser("Alice")

	sess, err := svc.Login(ctx, alice)
	require.NoError(t, err)
	defer sess.Logout(ctx)

	topic, err := svc.CreateTopic(ctx, "Dev Chat", alice)
	require.NoError(t, err)
	assert.Equal(t, topic.ID, receive(t, sess.Added).ID)

	require.NoError(t, svc.DeleteTopic(ctx, topic.ID, alice))
	assert.Equal(t, topic.ID, receive(t, sess.Removed).ID)

	require.NoError(t, sess.Renew(ctx))
}

func TestLoginClearsStalePresence(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	alice := testutils.NewTestUser("Alice")
	bob := testutils.NewTestUser("Bob")

	topic, err := svc.CreateTopic(ctx, "Dev Chat", alice)
	require.NoError(t, err)

	// Bob joined and then crashed without logging out.
	_, err = svc.JoinTopic(ctx, topic.ID, bob)
	require.NoError(t, err)

	sess, err := svc.Login(ctx, bob)
	require.NoError(t, err)
	defer sess.Logout(ctx)

	members, err := svc.Members(ctx, topic.ID)
	require.NoError(t, err)
	assert.Empty(t, members)

	_, err = svc.JoinTopic(ctx, topic.ID, bob)
	assert.NoError(t, err, "no longer reported as already joined")
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	alice := testutils.NewTestUser("Alice")

	topic, err := svc.CreateTopic(ctx, "Dev Chat", alice)
	require.NoError(t, err)

	sess, err := svc.Login(ctx, alice)
	require.NoError(t, err)
	_, err = svc.JoinTopic(ctx, topic.ID, alice)
	require.NoError(t, err)

	sess.Logout(ctx)
	sess.Logout(ctx)

	members, err := svc.Members(ctx, topic.ID)
	require.NoError(t, err)
	assert.Empty(t, members)

	for _, r := range sess.regs {
		assert.Equal(t, notify.StateCancelled, r.State())
	}
	select {
	case _, ok := <-sess.Added:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("stream not closed after logout")
	}
}

func TestLoginRequiresUser(t *testing.T) {
	svc := newService(t)
	_, err := svc.Login(context.Background(), domain.User{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
