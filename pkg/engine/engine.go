// Package engine is the boundary to the generative inference backend. The
// backend itself (model loading, sampling, batching) lives outside this
// process; this package only knows how to ask it for a streamed completion
// and how to enumerate its selectable models.
package engine

import (
	"context"

	"github.com/go-go-golems/minstrel/pkg/conversation"
)

// SearchContextSize values recognized in a search configuration.
const (
	SearchContextLow    = "low"
	SearchContextMedium = "medium"
	SearchContextHigh   = "high"
)

// SearchConfig enables backend web search for a generation.
type SearchConfig struct {
	Enabled     bool   `json:"enabled"`
	ContextSize string `json:"contextSize"`
}

// DefaultSearchConfig is disabled with a medium context size.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{Enabled: false, ContextSize: SearchContextMedium}
}

// Params is the sampling configuration for one generation.
type Params struct {
	Temperature *float64     `json:"temperature,omitempty"`
	TopP        *float64     `json:"topP,omitempty"`
	MaxTokens   *int         `json:"maxTokens,omitempty"`
	Search      SearchConfig `json:"search"`
}

// Request carries everything the backend needs to produce a reply: the model
// to use, the full message history to replay, and sampling parameters.
type Request struct {
	Model   string
	History []conversation.Message
	Params  Params
}

// DeltaFunc receives one incremental unit of generated text. Returning an
// error stops consumption of further backend output.
type DeltaFunc func(delta string) error

// Engine produces a streamed completion. Implementations must deliver deltas
// in production order, honor ctx cancellation between units of output, and
// return the full concatenated text on natural completion.
type Engine interface {
	Stream(ctx context.Context, req Request, onDelta DeltaFunc) (string, error)
}
