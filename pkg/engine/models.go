package engine

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ModelInfo describes one selectable backend model.
type ModelInfo struct {
	ID string `json:"id"`
}

// Catalog lists the models an OpenAI-compatible backend exposes, caching the
// result for a configurable TTL so the list endpoint is not hammered on every
// page load.
type Catalog struct {
	baseURL string
	apiKey  string
	client  *http.Client
	ttl     time.Duration

	mu        sync.Mutex
	cached    []ModelInfo
	fetchedAt time.Time
}

func NewCatalog(baseURL, apiKey string, ttl time.Duration) *Catalog {
	return &Catalog{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
		ttl:     ttl,
	}
}

// List returns the backend's model identifiers, served from cache while the
// TTL holds.
func (c *Catalog) List(ctx context.Context) ([]ModelInfo, error) {
	c.mu.Lock()
	if c.cached != nil && time.Since(c.fetchedAt) < c.ttl {
		out := make([]ModelInfo, len(c.cached))
		copy(out, c.cached)
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, errors.Wrap(err, "build models request")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch models")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("models endpoint returned %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read models response")
	}

	var parsed struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errors.Wrap(err, "parse models response")
	}

	models := make([]ModelInfo, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		models = append(models, ModelInfo{ID: m.ID})
	}
	log.Debug().Str("component", "engine").Int("count", len(models)).Msg("refreshed model catalog")

	c.mu.Lock()
	c.cached = models
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	out := make([]ModelInfo, len(models))
	copy(out, models)
	return out, nil
}

// Switcher guards the currently selected model id.
type Switcher struct {
	mu      sync.RWMutex
	current string
}

func NewSwitcher(initial string) *Switcher {
	return &Switcher{current: initial}
}

func (s *Switcher) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Switcher) Select(id string) {
	s.mu.Lock()
	s.current = id
	s.mu.Unlock()
	log.Info().Str("component", "engine").Str("model", id).Msg("model selected")
}
