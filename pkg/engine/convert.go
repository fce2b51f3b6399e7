package engine

import (
	"github.com/tmc/langchaingo/llms"

	"github.com/go-go-golems/minstrel/pkg/conversation"
)

// historyToContent rebuilds the backend's native multi-modal input from a
// message history. Every block kind is mapped; binary payloads travel as
// typed binary parts so the provider can base64 them into its wire format.
func historyToContent(history []conversation.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(history))
	for _, msg := range history {
		mc := llms.MessageContent{Role: roleToMessageType(msg.Role)}
		for _, b := range msg.Blocks {
			switch b.Kind {
			case conversation.BlockText:
				mc.Parts = append(mc.Parts, llms.TextPart(b.Text))
			case conversation.BlockFile:
				mc.Parts = append(mc.Parts, llms.TextPart(fileBlockText(b)))
			case conversation.BlockImage:
				mc.Parts = append(mc.Parts, llms.BinaryPart(b.MIME, b.Data))
			case conversation.BlockAudio:
				mc.Parts = append(mc.Parts, llms.BinaryPart(b.MIME, b.Data))
			}
		}
		if len(mc.Parts) == 0 {
			continue
		}
		out = append(out, mc)
	}
	return out
}

func fileBlockText(b conversation.ContentBlock) string {
	if b.Name == "" {
		return b.Text
	}
	return "File `" + b.Name + "`:\n\n" + b.Text
}

func roleToMessageType(r conversation.Role) llms.ChatMessageType {
	switch r {
	case conversation.RoleAssistant:
		return llms.ChatMessageTypeAI
	case conversation.RoleSystem:
		return llms.ChatMessageTypeSystem
	case conversation.RoleUser:
		return llms.ChatMessageTypeHuman
	default:
		return llms.ChatMessageTypeHuman
	}
}
