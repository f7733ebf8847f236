// Package spacetest holds behaviour checks every space.Space backend must
// pass. Backends call Run from their own tests with a factory for a fresh,
// empty space.
package spacetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/topicspace/internal/space"
)

// Factory returns a space that is closed by the caller's cleanup.
type Factory func(t *testing.T) space.Space

// Run exercises the protocol against spaces produced by newSpace. Every
// subtest uses its own kind so backends that share storage between
// subtests do not see each other's tuples.
func Run(t *testing.T, newSpace Factory) {
	t.Run("WriteReadTake", func(t *testing.T) { testWriteReadTake(t, newSpace(t)) })
	t.Run("TransactionalVisibility", func(t *testing.T) { testTransactionalVisibility(t, newSpace(t)) })
	t.Run("AbortRestoresTake", func(t *testing.T) { testAbortRestoresTake(t, newSpace(t)) })
	t.Run("ExclusiveTake", func(t *testing.T) { testExclusiveTake(t, newSpace(t)) })
	t.Run("LeaseCancel", func(t *testing.T) { testLeaseCancel(t, newSpace(t)) })
	t.Run("NotifyWrittenAndTaken", func(t *testing.T) { testNotify(t, newSpace(t)) })
}

func kind() string {
	return "k_" + uuid.NewString()[:8]
}

func tuple(k string, keys map[string]string) space.Tuple {
	return space.Tuple{Kind: k, Keys: keys, Payload: []byte(`{"v":1}`)}
}

func testWriteReadTake(t *testing.T, s space.Space) {
	ctx := context.Background()
	k := kind()

	_, err := s.Write(ctx, tuple(k, map[string]string{"id": "1", "name": "A"}), nil, space.Forever)
	require.NoError(t, err)
	_, err = s.Write(ctx, tuple(k, map[string]string{"id": "2", "name": "B"}), nil, space.Forever)
	require.NoError(t, err)

	got, err := s.Read(ctx, space.Template{Kind: k, Keys: map[string]string{"name": "B"}}, nil, space.NoWait)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "2", got.Keys["id"])
	assert.JSONEq(t, `{"v":1}`, string(got.Payload))

	taken, err := s.Take(ctx, space.Template{Kind: k, Keys: map[string]string{"id": "1"}}, nil, space.NoWait)
	require.NoError(t, err)
	require.NotNil(t, taken)

	gone, err := s.Read(ctx, space.Template{Kind: k, Keys: map[string]string{"id": "1"}}, nil, space.NoWait)
	require.NoError(t, err)
	assert.Nil(t, gone)

	cur, err := s.Contents(ctx, space.Template{Kind: k}, nil)
	require.NoError(t, err)
	defer cur.Close()
	var n int
	for {
		tp, err := cur.Next(ctx)
		require.NoError(t, err)
		if tp == nil {
			break
		}
		n++
	}
	assert.Equal(t, 1, n)
}

func testTransactionalVisibility(t *testing.T, s space.Space) {
	ctx := context.Background()
	k := kind()

	txn, err := s.NewTransaction(ctx, 5*time.Second)
	require.NoError(t, err)
	_, err = s.Write(ctx, tuple(k, nil), txn, space.Forever)
	require.NoError(t, err)

	inside, err := s.Read(ctx, space.Template{Kind: k}, txn, space.NoWait)
	require.NoError(t, err)
	assert.NotNil(t, inside)

	outside, err := s.Read(ctx, space.Template{Kind: k}, nil, space.NoWait)
	require.NoError(t, err)
	assert.Nil(t, outside)

	require.NoError(t, txn.Commit(ctx))

	outside, err = s.Read(ctx, space.Template{Kind: k}, nil, space.NoWait)
	require.NoError(t, err)
	assert.NotNil(t, outside)
}

func testAbortRestoresTake(t *testing.T, s space.Space) {
	ctx := context.Background()
	k := kind()

	_, err := s.Write(ctx, tuple(k, nil), nil, space.Forever)
	require.NoError(t, err)

	txn, err := s.NewTransaction(ctx, 5*time.Second)
	require.NoError(t, err)
	taken, err := s.Take(ctx, space.Template{Kind: k}, txn, space.NoWait)
	require.NoError(t, err)
	require.NotNil(t, taken)

	hidden, err := s.Read(ctx, space.Template{Kind: k}, nil, space.NoWait)
	require.NoError(t, err)
	assert.Nil(t, hidden)

	require.NoError(t, txn.Abort(ctx))

	back, err := s.Read(ctx, space.Template{Kind: k}, nil, space.NoWait)
	require.NoError(t, err)
	require.NotNil(t, back)
	assert.Equal(t, taken.ID, back.ID)
}

func testExclusiveTake(t *testing.T, s space.Space) {
	ctx := context.Background()
	k := kind()

	_, err := s.Write(ctx, tuple(k, nil), nil, space.Forever)
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := s.Take(ctx, space.Template{Kind: k}, nil, space.NoWait)
			assert.NoError(t, err)
			if got != nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func testLeaseCancel(t *testing.T, s space.Space) {
	ctx := context.Background()
	k := kind()

	lease, err := s.Write(ctx, tuple(k, nil), nil, time.Minute)
	require.NoError(t, err)
	require.NoError(t, lease.Renew(ctx, time.Minute))
	require.NoError(t, lease.Cancel(ctx))

	got, err := s.Read(ctx, space.Template{Kind: k}, nil, space.NoWait)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.ErrorIs(t, lease.Cancel(ctx), space.ErrUnknownLease)
}

func testNotify(t *testing.T, s space.Space) {
	ctx := context.Background()
	k := kind()

	var (
		mu     sync.Mutex
		events []space.EventKind
	)
	lease, err := s.Notify(ctx, space.Template{Kind: k}, space.EventWritten|space.EventTaken, func(_ context.Context, ev space.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev.Kind)
	}, time.Minute)
	require.NoError(t, err)
	defer lease.Cancel(ctx)

	_, err = s.Write(ctx, tuple(k, nil), nil, space.Forever)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	}, 5*time.Second, 20*time.Millisecond)

	_, err = s.Take(ctx, space.Template{Kind: k}, nil, space.NoWait)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 2
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []space.EventKind{space.EventWritten, space.EventTaken}, events)
}
