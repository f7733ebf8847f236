package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/topicspace/internal/app"
	"github.com/nfrund/topicspace/internal/config"
	"github.com/nfrund/topicspace/internal/domain"
	"github.com/nfrund/topicspace/internal/testutils"
)

func newTestApp(t *testing.T) *app.App {
	t.Helper()
	cfg := config.Default()
	cfg.LookupTimeout = 20 * time.Millisecond
	a := app.New(cfg)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

// syncBuffer lets the watch command write while the test reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func run(ctx context.Context, a *app.App, args ...string) (string, error) {
	root, _ := newRoot(func() *app.App { return a })
	var out syncBuffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(context.Background(), newTestApp(t), "version")
	require.NoError(t, err)
	assert.Equal(t, "topicspace v"+version+"\n", out)
}

func TestTopicsCommands(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)
	alice := testutils.NewTestUser("Alice")
	bob := testutils.NewTestUser("Bob")

	out, err := run(ctx, a, "topics", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No topics found")

	out, err = run(ctx, a, "topics", "create", "Dev Chat", "--user", alice.Name, "--user-id", alice.ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, `Created topic "Dev Chat"`)

	_, err = run(ctx, a, "topics", "create", "dev-chat", "--user", bob.Name)
	assert.ErrorIs(t, err, domain.ErrDuplicateEntry)

	out, err = run(ctx, a, "topics", "list", "--format", "json")
	require.NoError(t, err)
	var listed struct {
		Topics []domain.Topic `json:"topics"`
		Count  int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Equal(t, 1, listed.Count)
	topicID := listed.Topics[0].ID.String()

	out, err = run(ctx, a, "topics", "list")
	require.NoError(t, err)
	assert.Contains(t, out, topicID)
	assert.Contains(t, out, "Alice")

	out, err = run(ctx, a, "topics", "join", topicID, "--user", bob.Name, "--user-id", bob.ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, `Bob (`+bob.ID.String()+`) joined "Dev Chat"`)

	_, err = run(ctx, a, "topics", "join", topicID, "--user", bob.Name, "--user-id", bob.ID.String())
	assert.ErrorIs(t, err, domain.ErrAlreadyJoined)

	_, err = run(ctx, a, "topics", "delete", topicID, "--user", bob.Name, "--user-id", bob.ID.String())
	assert.ErrorIs(t, err, domain.ErrAccessDenied)

	out, err = run(ctx, a, "topics", "delete", topicID, "--user", alice.Name, "--user-id", alice.ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted topic "+topicID)

	_, err = run(ctx, a, "topics", "delete", topicID, "--user", alice.Name, "--user-id", alice.ID.String())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTopicsArgumentErrors(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)

	_, err := run(ctx, a, "topics", "create", "Dev Chat")
	assert.ErrorContains(t, err, `required flag(s) "user" not set`)

	_, err = run(ctx, a, "topics", "join", "not-a-uuid", "--user", "Bob")
	assert.ErrorContains(t, err, "invalid topic id")

	_, err = run(ctx, a, "topics", "create", "Dev Chat", "--user", "Bob", "--user-id", "nope")
	assert.ErrorContains(t, err, "invalid --user-id")

	_, err = run(ctx, a, "topics", "list", "--format", "yaml")
	assert.ErrorContains(t, err, "unsupported output format")
}

func TestWatch(t *testing.T) {
	a := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())

	root, _ := newRoot(func() *app.App { return a })
	var out syncBuffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"watch"})

	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Watching topics")
	}, 2*time.Second, 10*time.Millisecond)

	svc, err := a.Chat()
	require.NoError(t, err)
	topic, err := svc.CreateTopic(context.Background(), "Dev Chat", testutils.NewTestUser("Alice"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "topic.added\t"+topic.ID.String()+"\tDev Chat")
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}
