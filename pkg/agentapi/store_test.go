package agentapi_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomware/agentkit/pkg/agentapi"
	"github.com/loomware/agentkit/pkg/conductor"
)

func testSnapshot() *agentapi.Snapshot {
	return &agentapi.Snapshot{
		Conversation: []byte(`[]`),
		PluginStates: map[string][]byte{},
		SystemPrompt: "you are a test agent",
		Mode:         conductor.ModeInteractive,
	}
}

func TestMemoryStoreSaveLoadExistsDelete(t *testing.T) {
	store := agentapi.NewMemoryStore()
	ctx := context.Background()

	ok, err := store.Exists(ctx, "sess-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Save(ctx, "sess-1", testSnapshot()))

	ok, err = store.Exists(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, ok)

	snap, ok, err := store.Load(ctx, "sess-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "you are a test agent", snap.SystemPrompt)

	require.NoError(t, store.Delete(ctx, "sess-1"))
	_, ok, err = store.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStoreSaveLoadExistsDelete(t *testing.T) {
	store, err := agentapi.NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := store.Exists(ctx, "sess-2")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Save(ctx, "sess-2", testSnapshot()))

	snap, ok, err := store.Load(ctx, "sess-2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, conductor.ModeInteractive, snap.Mode)

	require.NoError(t, store.Delete(ctx, "sess-2"))
	ok, err = store.Exists(ctx, "sess-2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStoreDeleteMissingIsNotAnError(t *testing.T) {
	store, err := agentapi.NewFileStore(t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, store.Delete(context.Background(), "never-existed"))
}
