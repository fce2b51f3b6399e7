package engine

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIEngine talks to any OpenAI-compatible completion endpoint.
type OpenAIEngine struct {
	llm llms.Model
}

// NewOpenAIEngine builds an engine for the given base URL (e.g.
// "http://localhost:1234/v1"). The token may be empty for local backends.
func NewOpenAIEngine(baseURL, token, defaultModel string) (*OpenAIEngine, error) {
	opts := []openai.Option{
		openai.WithBaseURL(baseURL),
		openai.WithModel(defaultModel),
	}
	if token != "" {
		opts = append(opts, openai.WithToken(token))
	} else {
		// the client insists on a token even for keyless local backends
		opts = append(opts, openai.WithToken("unused"))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "openai engine init")
	}
	return &OpenAIEngine{llm: llm}, nil
}

// Stream implements Engine. Deltas are forwarded from the provider's
// streaming callback; an error from onDelta aborts the request.
func (e *OpenAIEngine) Stream(ctx context.Context, req Request, onDelta DeltaFunc) (string, error) {
	content := historyToContent(req.History)
	if len(content) == 0 {
		return "", errors.New("empty request history")
	}

	callOpts := []llms.CallOption{
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			return onDelta(string(chunk))
		}),
	}
	if req.Model != "" {
		callOpts = append(callOpts, llms.WithModel(req.Model))
	}
	if req.Params.Temperature != nil {
		callOpts = append(callOpts, llms.WithTemperature(*req.Params.Temperature))
	}
	if req.Params.TopP != nil {
		callOpts = append(callOpts, llms.WithTopP(*req.Params.TopP))
	}
	if req.Params.MaxTokens != nil {
		callOpts = append(callOpts, llms.WithMaxTokens(*req.Params.MaxTokens))
	}
	if req.Params.Search.Enabled {
		callOpts = append(callOpts, llms.WithMetadata(map[string]any{
			"web_search_options": map[string]any{
				"search_context_size": req.Params.Search.ContextSize,
			},
		}))
	}

	resp, err := e.llm.GenerateContent(ctx, content, callOpts...)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("backend returned no choices")
	}
	choice := resp.Choices[0]
	log.Debug().
		Str("component", "engine").
		Str("model", req.Model).
		Str("stop_reason", choice.StopReason).
		Int("text_len", len(choice.Content)).
		Msg("generation complete")
	return choice.Content, nil
}
