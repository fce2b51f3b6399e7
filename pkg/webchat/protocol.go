package webchat

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/go-go-golems/minstrel/pkg/attachment"
	"github.com/go-go-golems/minstrel/pkg/conversation"
	"github.com/go-go-golems/minstrel/pkg/engine"
)

// Inbound command types.
const (
	cmdNewChat     = "new_chat"
	cmdUserMessage = "user_message"
	cmdStop        = "stop"
	cmdRename      = "rename"
	cmdDelete      = "delete"
	cmdClear       = "clear"
	cmdListChats   = "list_chats"
	cmdSelectModel = "select_model"
	cmdAttach      = "attach"
)

// Outbound frame types.
const (
	frameChatList    = "chat_list"
	frameChatCreated = "chat_created"
	frameDelta       = "delta"
	frameDone        = "done"
	frameCancelled   = "cancelled"
	frameError       = "error"
	frameAck         = "ack"
)

// Error kinds reported in error frames.
const (
	kindValidation      = "validation"
	kindSessionNotFound = "session_not_found"
	kindGeneration      = "generation"
	kindBusy            = "busy"
	kindInternal        = "internal"
)

// ServerFrame is the single outbound message shape; which fields are set
// depends on Type. Stream frames (delta/done/cancelled/error) are also what
// the bridge publishes on the session topic, so the reader can forward the
// payload bytes untouched.
type ServerFrame struct {
	Type        string                 `json:"type"`
	SessionID   string                 `json:"sessionId,omitempty"`
	Title       string                 `json:"title,omitempty"`
	Text        string                 `json:"text,omitempty"`
	FinalText   string                 `json:"finalText,omitempty"`
	PartialText string                 `json:"partialText,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Kind        string                 `json:"kind,omitempty"`
	Of          string                 `json:"of,omitempty"`
	ModelID     string                 `json:"modelId,omitempty"`
	Sessions    []conversation.Summary `json:"sessions,omitempty"`
}

func (f ServerFrame) encode() []byte {
	b, _ := json.Marshal(f)
	return b
}

// terminal reports whether the frame ends a generation.
func (f ServerFrame) terminal() bool {
	switch f.Type {
	case frameDone, frameCancelled, frameError:
		return true
	}
	return false
}

func errorFrame(sessionID, kind, message string) ServerFrame {
	return ServerFrame{Type: frameError, SessionID: sessionID, Kind: kind, Message: message}
}

func ackFrame(of, sessionID string) ServerFrame {
	return ServerFrame{Type: frameAck, Of: of, SessionID: sessionID}
}

// WireBlock is the inline representation of one content block. Binary
// payloads travel base64-encoded in Data; data URLs are accepted too.
type WireBlock struct {
	Kind string `json:"kind"`
	Text string `json:"text,omitempty"`
	Name string `json:"name,omitempty"`
	MIME string `json:"mime,omitempty"`
	Data string `json:"data,omitempty"`
}

// WireSearch is the search toggle as sent by the client.
type WireSearch struct {
	Enabled     bool   `json:"enabled"`
	ContextSize string `json:"contextSize,omitempty"`
}

// WireParams is the sampling configuration as sent by the client.
type WireParams struct {
	Temperature *float64    `json:"temperature,omitempty"`
	TopP        *float64    `json:"topP,omitempty"`
	MaxTokens   *int        `json:"maxTokens,omitempty"`
	Search      *WireSearch `json:"search,omitempty"`
}

// ClientCommand is one inbound protocol message.
type ClientCommand struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Title     string      `json:"title,omitempty"`
	ModelID   string      `json:"modelId,omitempty"`
	Content   []WireBlock `json:"content,omitempty"`
	Params    *WireParams `json:"params,omitempty"`
}

var knownCommands = map[string]struct{}{
	cmdNewChat: {}, cmdUserMessage: {}, cmdStop: {}, cmdRename: {},
	cmdDelete: {}, cmdClear: {}, cmdListChats: {}, cmdSelectModel: {},
	cmdAttach: {},
}

// parseCommand decodes and structurally validates one inbound message.
func parseCommand(data []byte) (ClientCommand, error) {
	var cmd ClientCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return ClientCommand{}, errors.Wrap(err, "malformed command")
	}
	if _, ok := knownCommands[cmd.Type]; !ok {
		return ClientCommand{}, errors.Errorf("unknown command type %q", cmd.Type)
	}
	switch cmd.Type {
	case cmdUserMessage:
		if cmd.SessionID == "" {
			return ClientCommand{}, errors.New("user_message requires sessionId")
		}
		if len(cmd.Content) == 0 {
			return ClientCommand{}, errors.New("user_message requires content")
		}
	case cmdStop, cmdDelete, cmdClear, cmdAttach:
		if cmd.SessionID == "" {
			return ClientCommand{}, errors.Errorf("%s requires sessionId", cmd.Type)
		}
	case cmdRename:
		if cmd.SessionID == "" {
			return ClientCommand{}, errors.New("rename requires sessionId")
		}
		if strings.TrimSpace(cmd.Title) == "" {
			return ClientCommand{}, errors.New("rename requires a non-empty title")
		}
	case cmdSelectModel:
		if cmd.ModelID == "" {
			return ClientCommand{}, errors.New("select_model requires modelId")
		}
	}
	return cmd, nil
}

// toEngineParams validates the sampling configuration at the protocol
// boundary. Search defaults to disabled/medium; an unrecognized context size
// is rejected rather than silently coerced.
func (p *WireParams) toEngineParams() (engine.Params, error) {
	out := engine.Params{Search: engine.DefaultSearchConfig()}
	if p == nil {
		return out, nil
	}
	out.Temperature = p.Temperature
	out.TopP = p.TopP
	out.MaxTokens = p.MaxTokens
	if p.Search != nil {
		out.Search.Enabled = p.Search.Enabled
		if p.Search.ContextSize != "" {
			switch p.Search.ContextSize {
			case engine.SearchContextLow, engine.SearchContextMedium, engine.SearchContextHigh:
				out.Search.ContextSize = p.Search.ContextSize
			default:
				return engine.Params{}, errors.Errorf("invalid search context size %q", p.Search.ContextSize)
			}
		}
	}
	return out, nil
}

// decodeContent runs every wire block through the attachment encoder,
// producing normalized content blocks or the first validation failure.
func decodeContent(enc *attachment.Encoder, blocks []WireBlock) ([]conversation.ContentBlock, error) {
	out := make([]conversation.ContentBlock, 0, len(blocks))
	for _, wb := range blocks {
		switch wb.Kind {
		case string(conversation.BlockText):
			out = append(out, conversation.NewTextBlock(wb.Text))
		case string(conversation.BlockImage), string(conversation.BlockAudio), string(conversation.BlockFile):
			data, embeddedMIME, err := attachment.DecodePayload(wb.Data)
			if err != nil {
				return nil, err
			}
			mime := wb.MIME
			if embeddedMIME != "" {
				mime = embeddedMIME
			}
			block, err := enc.Encode(wb.Name, mime, data)
			if err != nil {
				return nil, err
			}
			out = append(out, block)
		default:
			return nil, errors.Errorf("unknown content block kind %q", wb.Kind)
		}
	}
	return out, nil
}
