package conversation

import (
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CreateAndList(t *testing.T) {
	r := NewRegistry()

	a := r.Create()
	b := r.Create()

	require.NotEmpty(t, a.ID)
	require.NotEqual(t, a.ID, b.ID)
	require.Equal(t, DefaultTitle, a.Title)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, b.ID, list[1].ID)
}

func TestRegistry_UnknownSession(t *testing.T) {
	r := NewRegistry()

	require.ErrorIs(t, r.Rename("nope", "x"), ErrSessionNotFound)
	require.ErrorIs(t, r.Delete("nope"), ErrSessionNotFound)
	require.ErrorIs(t, r.Clear("nope"), ErrSessionNotFound)
	require.ErrorIs(t, r.Append("nope", NewMessage(RoleUser)), ErrSessionNotFound)
	_, err := r.History("nope")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRegistry_RenameKeepsPosition(t *testing.T) {
	r := NewRegistry()
	a := r.Create()
	b := r.Create()
	c := r.Create()

	require.NoError(t, r.Rename(b.ID, "Trip planning"))

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, "Trip planning", list[1].Title)
	assert.Equal(t, DefaultTitle, list[0].Title)
	assert.Equal(t, DefaultTitle, list[2].Title)
	assert.Equal(t, c.ID, list[2].ID)
}

func TestRegistry_RenameRejectsEmpty(t *testing.T) {
	r := NewRegistry()
	a := r.Create()
	require.Error(t, r.Rename(a.ID, "   "))
}

func TestRegistry_RenameCapsTitleOnRuneBoundary(t *testing.T) {
	r := NewRegistry()
	a := r.Create()

	// 1 + 50*3 bytes; the byte cap lands inside a rune
	long := "a" + strings.Repeat("€", 50)
	require.NoError(t, r.Rename(a.ID, long))

	sess, err := r.Get(a.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(sess.Title), maxTitleLen)
	assert.True(t, utf8.ValidString(sess.Title))
	assert.True(t, strings.HasPrefix(long, sess.Title))
}

func TestRegistry_AppendAndHistory(t *testing.T) {
	r := NewRegistry()
	a := r.Create()

	require.NoError(t, r.Append(a.ID, NewMessage(RoleUser, NewTextBlock("hello"))))
	require.NoError(t, r.Append(a.ID, NewMessage(RoleAssistant, NewTextBlock("hi there"))))

	hist, err := r.History(a.ID)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, RoleUser, hist[0].Role)
	assert.Equal(t, "hello", hist[0].TextContent())
	assert.Equal(t, RoleAssistant, hist[1].Role)

	// history is a snapshot; mutating it does not leak into the registry
	hist[0].Blocks = nil
	again, err := r.History(a.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", again[0].TextContent())
}

func TestRegistry_ClearKeepsIdentity(t *testing.T) {
	r := NewRegistry()
	a := r.Create()
	require.NoError(t, r.Rename(a.ID, "kept"))
	require.NoError(t, r.Append(a.ID, NewMessage(RoleUser, NewTextBlock("x"))))

	require.NoError(t, r.Clear(a.ID))

	hist, err := r.History(a.ID)
	require.NoError(t, err)
	assert.Empty(t, hist)

	list := r.List()
	require.Len(t, list, 1)
	assert.Equal(t, "kept", list[0].Title)
}

func TestRegistry_DeleteRemovesFromList(t *testing.T) {
	r := NewRegistry()
	a := r.Create()
	b := r.Create()

	require.NoError(t, r.Delete(a.ID))

	list := r.List()
	require.Len(t, list, 1)
	assert.Equal(t, b.ID, list[0].ID)
	assert.False(t, r.Exists(a.ID))

	_, err := r.History(a.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRegistry_Restore(t *testing.T) {
	r := NewRegistry()
	sess := Session{ID: "restored", Title: "old chat", Messages: []Message{
		NewMessage(RoleUser, NewTextBlock("q")),
		{Role: RoleAssistant, Blocks: []ContentBlock{NewTextBlock("partial")}, Truncated: true},
	}}
	require.NoError(t, r.Restore(sess))

	hist, err := r.History("restored")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.True(t, hist[1].Truncated)

	require.Error(t, r.Restore(sess), "duplicate id must be rejected")
	require.Error(t, r.Restore(Session{}), "empty id must be rejected")
}

func TestRegistry_ChangeHooks(t *testing.T) {
	r := NewRegistry()
	var mu sync.Mutex
	var changes []string
	var deleted []string
	r.OnChange(func(s Session) {
		mu.Lock()
		changes = append(changes, s.ID)
		mu.Unlock()
	})
	r.OnDelete(func(id string) {
		mu.Lock()
		deleted = append(deleted, id)
		mu.Unlock()
	})

	a := r.Create()
	require.NoError(t, r.Append(a.ID, NewMessage(RoleUser, NewTextBlock("x"))))
	require.NoError(t, r.Delete(a.ID))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{a.ID, a.ID}, changes)
	assert.Equal(t, []string{a.ID}, deleted)
}

func TestRegistry_ConcurrentSessionsDoNotInterfere(t *testing.T) {
	r := NewRegistry()
	a := r.Create()
	b := r.Create()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			require.NoError(t, r.Append(a.ID, NewMessage(RoleUser, NewTextBlock("a"))))
		}()
		go func() {
			defer wg.Done()
			require.NoError(t, r.Append(b.ID, NewMessage(RoleUser, NewTextBlock("b"))))
		}()
	}
	wg.Wait()

	ha, err := r.History(a.ID)
	require.NoError(t, err)
	hb, err := r.History(b.ID)
	require.NoError(t, err)
	assert.Len(t, ha, 50)
	assert.Len(t, hb, 50)
}

func TestRegistry_WrappedNotFoundUnwraps(t *testing.T) {
	r := NewRegistry()
	err := r.Rename("ghost", "t")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionNotFound))
	assert.Contains(t, err.Error(), "ghost")
}
