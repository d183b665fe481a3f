package snapshot

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeContract runs the behavior every Store implementation shares.
func storeContract(t *testing.T, store Store) {
	ctx := context.Background()

	_, err := store.Get(ctx, "S1")
	assert.True(t, IsNotFound(err))
	assert.True(t, IsNotFound(store.SetCollaboration(ctx, "S1", true)))

	rec := &Record{
		ID:           "S1",
		ClassID:      "math-7b",
		ControllerID: "teacher-1",
		Title:        "Fractions",
		Content:      json.RawMessage(`{"objects":[{"id":"p1"}]}`),
	}
	require.NoError(t, store.Upsert(ctx, rec))

	got, err := store.Get(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, "math-7b", got.ClassID)
	assert.Equal(t, "teacher-1", got.ControllerID)
	assert.JSONEq(t, `{"objects":[{"id":"p1"}]}`, string(got.Content))
	assert.False(t, got.CollaborationEnabled)
	assert.False(t, got.UpdatedAt.IsZero())

	require.NoError(t, store.SetCollaboration(ctx, "S1", true))
	got, err = store.Get(ctx, "S1")
	require.NoError(t, err)
	assert.True(t, got.CollaborationEnabled)
	assert.JSONEq(t, `{"objects":[{"id":"p1"}]}`, string(got.Content))

	// last write wins
	rec.Content = json.RawMessage(`{"objects":[]}`)
	rec.CollaborationEnabled = false
	require.NoError(t, store.Upsert(ctx, rec))
	got, err = store.Get(ctx, "S1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"objects":[]}`, string(got.Content))
	assert.False(t, got.CollaborationEnabled)

	assert.Error(t, store.Upsert(ctx, &Record{}))
	assert.Error(t, store.Upsert(ctx, &Record{ID: "S2", Content: json.RawMessage(`{broken`)}))
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	require.NoError(t, store.Upsert(ctx, &Record{ID: "S1", Content: json.RawMessage(`{"a":1}`)}))

	got, _ := store.Get(ctx, "S1")
	got.Content[2] = 'b'

	again, _ := store.Get(ctx, "S1")
	assert.JSONEq(t, `{"a":1}`, string(again.Content))
	assert.Equal(t, 2026, again.UpdatedAt.Year())
	assert.Equal(t, 1, store.Len())
}

func TestSQLStoreSqlite(t *testing.T) {
	ctx := context.Background()

	store, err := OpenSQL(ctx, "sqlite3", ":memory:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx))

	storeContract(t, store)
}
