package surreal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/nfrund/topicspace/internal/space"
	"github.com/nfrund/topicspace/internal/space/spacetest"
	"github.com/nfrund/topicspace/internal/testutils"
)

func TestMatchQuery(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)

	where, params, err := matchQuery(space.Template{
		Kind: "membership",
		Keys: map[string]string{"user_id": "u1", "topic_id": "t1", "user_base": ""},
	}, "tx1", now)
	require.NoError(t, err)

	assert.Contains(t, where, "AND keys.topic_id = $k0")
	assert.Contains(t, where, "AND keys.user_id = $k1")
	assert.NotContains(t, where, "user_base", "empty keys are wildcards")
	assert.Equal(t, "t1", params["k0"])
	assert.Equal(t, "u1", params["k1"])
	assert.Equal(t, "membership", params["kind"])
	assert.Equal(t, "tx1", params["txn"])
	assert.Equal(t, int64(1_700_000_000_000), params["now"])
}

func TestMatchQueryRejectsUnsafeKeys(t *testing.T) {
	tests := []struct {
		name string
		tmpl space.Template
	}{
		{"no kind", space.Template{}},
		{"injection", space.Template{Kind: "topic", Keys: map[string]string{"id = 1 OR true; --": "x"}}},
		{"upper case", space.Template{Kind: "topic", Keys: map[string]string{"ID": "x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := matchQuery(tt.tmpl, "", time.Now())
			assert.ErrorIs(t, err, space.ErrInvalidTuple)
		})
	}
}

func TestClassify(t *testing.T) {
	now := time.UnixMilli(10_000)

	tests := []struct {
		name   string
		action liveAction
		rec    record
		want   space.EventKind
		ok     bool
	}{
		{"plain write", liveCreate, record{Ev: evWritten}, space.EventWritten, true},
		{"pending write", liveCreate, record{Txn: "tx", TxnOp: opWrite}, 0, false},
		{"commit of write", liveUpdate, record{Ev: evWritten}, space.EventWritten, true},
		{"take lock", liveUpdate, record{Txn: "tx", TxnOp: opTake}, 0, false},
		{"lease renewal", liveUpdate, record{Ev: evNone}, 0, false},
		{"cancel mark", liveUpdate, record{Ev: evCancelled}, 0, false},
		{"take", liveDelete, record{Ev: evWritten}, space.EventTaken, true},
		{"committed take", liveDelete, record{Txn: "tx", TxnOp: opTake}, space.EventTaken, true},
		{"discarded pending write", liveDelete, record{Txn: "tx", TxnOp: opWrite}, 0, false},
		{"cancelled lease", liveDelete, record{Ev: evCancelled}, 0, false},
		{"expired", liveDelete, record{Ev: evWritten, ExpiresAt: 9_000}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := classify(tt.action, tt.rec, now)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeResult(t *testing.T) {
	raw := map[any]any{
		"id":   "tuple:abc",
		"tid":  "abc",
		"kind": "topic",
		"keys": map[any]any{"id": "t1"},
		"ev":   "written",
		"seq":  uint64(42),
	}
	rec, err := decodeResult(raw)
	require.NoError(t, err)
	assert.Equal(t, "abc", rec.TID)
	assert.Equal(t, "t1", rec.Keys["id"])
	assert.Equal(t, int64(42), rec.Seq)
	assert.Equal(t, evWritten, rec.Ev)
}

func TestLiveQueryID(t *testing.T) {
	u := models.UUID{}
	_, err := liveQueryID(u)
	assert.NoError(t, err)

	id, err := liveQueryID("0189-abc")
	require.NoError(t, err)
	assert.Equal(t, "0189-abc", id)

	id, err = liveQueryID(map[string]any{"id": "xyz"})
	require.NoError(t, err)
	assert.Equal(t, "xyz", id)

	_, err = liveQueryID(42)
	assert.Error(t, err)
	_, err = liveQueryID("")
	assert.Error(t, err)
}

func TestRedactDBURL(t *testing.T) {
	assert.Equal(t, "ws://root:xxxxx@localhost:8000/rpc", redactDBURL("ws://root:secret@localhost:8000/rpc"))
	assert.Equal(t, "invalid-url", redactDBURL("://bad"))
}

func TestConformance(t *testing.T) {
	cfg := testutils.SurrealConfigForTests(t)

	spacetest.Run(t, func(t *testing.T) space.Space {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s, err := Dial(ctx, cfg)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
