package conversation

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// BlockKind tags a ContentBlock variant. The set is closed; code interpreting
// blocks switches exhaustively over these values.
type BlockKind string

const (
	BlockText  BlockKind = "text"
	BlockImage BlockKind = "image"
	BlockAudio BlockKind = "audio"
	BlockFile  BlockKind = "file"
)

// ContentBlock is one typed unit of message content. Which fields are
// meaningful depends on Kind:
//
//   - BlockText:  Text
//   - BlockImage: Data, MIME
//   - BlockAudio: Data, MIME
//   - BlockFile:  Name, Text (the decoded file contents)
//
// A block carries everything needed to rebuild the backend's native input
// format without reference to the originating upload.
type ContentBlock struct {
	Kind BlockKind `json:"kind"`
	Text string    `json:"text,omitempty"`
	Name string    `json:"name,omitempty"`
	Data []byte    `json:"data,omitempty"`
	MIME string    `json:"mime,omitempty"`
}

func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Kind: BlockText, Text: text}
}

func NewImageBlock(data []byte, mime string) ContentBlock {
	return ContentBlock{Kind: BlockImage, Data: data, MIME: mime}
}

func NewAudioBlock(data []byte, mime string) ContentBlock {
	return ContentBlock{Kind: BlockAudio, Data: data, MIME: mime}
}

func NewFileBlock(name, text string) ContentBlock {
	return ContentBlock{Kind: BlockFile, Name: name, Text: text}
}

// Message is a single entry in a session's history. Messages are never
// mutated after creation except to set Truncated when cancellation ended
// generation early.
type Message struct {
	Role      Role           `json:"role"`
	Blocks    []ContentBlock `json:"blocks"`
	CreatedAt time.Time      `json:"createdAt"`
	Truncated bool           `json:"truncated,omitempty"`
}

// NewMessage stamps a message with the current time.
func NewMessage(role Role, blocks ...ContentBlock) Message {
	return Message{Role: role, Blocks: blocks, CreatedAt: time.Now()}
}

// TextContent concatenates the textual parts of the message (text blocks and
// decoded file blocks) in order.
func (m Message) TextContent() string {
	out := ""
	for _, b := range m.Blocks {
		switch b.Kind {
		case BlockText, BlockFile:
			out += b.Text
		case BlockImage, BlockAudio:
			// binary payloads have no textual projection
		}
	}
	return out
}

// Session is a named conversation with an ordered message history.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	Messages  []Message `json:"messages"`
}

// Summary is the listing projection of a session.
type Summary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}
