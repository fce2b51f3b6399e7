package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/go-go-golems/minstrel/pkg/conversation"
)

func TestHistoryToContent_Roles(t *testing.T) {
	history := []conversation.Message{
		conversation.NewMessage(conversation.RoleSystem, conversation.NewTextBlock("be brief")),
		conversation.NewMessage(conversation.RoleUser, conversation.NewTextBlock("hi")),
		conversation.NewMessage(conversation.RoleAssistant, conversation.NewTextBlock("hello")),
	}

	content := historyToContent(history)
	require.Len(t, content, 3)
	assert.Equal(t, llms.ChatMessageTypeSystem, content[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, content[1].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, content[2].Role)
}

func TestHistoryToContent_MultiModalParts(t *testing.T) {
	msg := conversation.NewMessage(conversation.RoleUser,
		conversation.NewTextBlock("what is in this picture?"),
		conversation.NewImageBlock([]byte{1, 2}, "image/png"),
		conversation.NewAudioBlock([]byte{3, 4}, "audio/wav"),
		conversation.NewFileBlock("notes.txt", "some notes"),
	)

	content := historyToContent([]conversation.Message{msg})
	require.Len(t, content, 1)
	require.Len(t, content[0].Parts, 4)

	assert.Equal(t, llms.TextPart("what is in this picture?"), content[0].Parts[0])

	img, ok := content[0].Parts[1].(llms.BinaryContent)
	require.True(t, ok)
	assert.Equal(t, "image/png", img.MIMEType)
	assert.Equal(t, []byte{1, 2}, img.Data)

	audio, ok := content[0].Parts[2].(llms.BinaryContent)
	require.True(t, ok)
	assert.Equal(t, "audio/wav", audio.MIMEType)

	file, ok := content[0].Parts[3].(llms.TextContent)
	require.True(t, ok)
	assert.Contains(t, file.Text, "notes.txt")
	assert.Contains(t, file.Text, "some notes")
}

func TestHistoryToContent_SkipsEmptyMessages(t *testing.T) {
	content := historyToContent([]conversation.Message{
		{Role: conversation.RoleUser},
		conversation.NewMessage(conversation.RoleUser, conversation.NewTextBlock("x")),
	})
	require.Len(t, content, 1)
}
