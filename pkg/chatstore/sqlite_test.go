package chatstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/minstrel/pkg/conversation"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleSession(id, title string) conversation.Session {
	user := conversation.NewMessage(conversation.RoleUser,
		conversation.NewTextBlock("what is in this picture?"),
		conversation.NewImageBlock([]byte{0x89, 'P', 'N', 'G'}, "image/png"))
	reply := conversation.NewMessage(conversation.RoleAssistant,
		conversation.NewTextBlock("a cat"))
	return conversation.Session{
		ID:        id,
		Title:     title,
		CreatedAt: time.Now().Truncate(time.Millisecond),
		Messages:  []conversation.Message{user, reply},
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := sampleSession("s1", "Cat Pictures")
	require.NoError(t, store.SaveSession(ctx, sess))

	loaded, err := store.LoadSessions(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	got := loaded[0]
	assert.Equal(t, "s1", got.ID)
	assert.Equal(t, "Cat Pictures", got.Title)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, conversation.RoleUser, got.Messages[0].Role)
	assert.Equal(t, "what is in this picture?", got.Messages[0].TextContent())
	require.Len(t, got.Messages[0].Blocks, 2)
	assert.Equal(t, conversation.BlockImage, got.Messages[0].Blocks[1].Kind)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, got.Messages[0].Blocks[1].Data)
	assert.Equal(t, conversation.RoleAssistant, got.Messages[1].Role)
}

func TestSQLiteStoreSaveReplacesMessages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := sampleSession("s1", "First")
	require.NoError(t, store.SaveSession(ctx, sess))

	sess.Title = "Renamed"
	sess.Messages = nil
	require.NoError(t, store.SaveSession(ctx, sess))

	loaded, err := store.LoadSessions(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "Renamed", loaded[0].Title)
	assert.Empty(t, loaded[0].Messages)
}

func TestSQLiteStorePreservesTruncatedFlag(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := sampleSession("s1", "Stopped")
	partial := conversation.NewMessage(conversation.RoleAssistant, conversation.NewTextBlock("a ca"))
	partial.Truncated = true
	sess.Messages = append(sess.Messages, partial)
	require.NoError(t, store.SaveSession(ctx, sess))

	loaded, err := store.LoadSessions(ctx)
	require.NoError(t, err)
	require.Len(t, loaded[0].Messages, 3)
	assert.True(t, loaded[0].Messages[2].Truncated)
	assert.False(t, loaded[0].Messages[1].Truncated)
}

func TestSQLiteStoreDeleteAndOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := sampleSession("a", "Oldest")
	first.CreatedAt = time.Now().Add(-time.Hour)
	second := sampleSession("b", "Newest")
	require.NoError(t, store.SaveSession(ctx, first))
	require.NoError(t, store.SaveSession(ctx, second))

	loaded, err := store.LoadSessions(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "a", loaded[0].ID)
	assert.Equal(t, "b", loaded[1].ID)

	require.NoError(t, store.DeleteSession(ctx, "a"))
	loaded, err = store.LoadSessions(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "b", loaded[0].ID)

	require.NoError(t, store.DeleteSession(ctx, "no-such-session"))
}

func TestSQLiteStoreRejectsEmptyDSN(t *testing.T) {
	_, err := NewSQLiteStore("  ")
	require.Error(t, err)
}
