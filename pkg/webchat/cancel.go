package webchat

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// CancelToken is a revocable signal checked cooperatively by the generation
// loop. It also carries a context so the backend call's transport is torn
// down promptly once the token fires.
type CancelToken struct {
	ctx    context.Context
	cancel context.CancelFunc
	fired  atomic.Bool
}

// Signalled reports whether stop was requested.
func (t *CancelToken) Signalled() bool {
	return t.fired.Load()
}

// Context is cancelled when the token is signalled or the parent ends.
func (t *CancelToken) Context() context.Context {
	return t.ctx
}

func (t *CancelToken) signal() {
	t.fired.Store(true)
	t.cancel()
}

// CancelController maps each active generation to its token. At most one
// token may be registered per session; signalling a session with no token is
// a no-op, covering the race where the generation completed between the user
// pressing stop and the signal arriving.
type CancelController struct {
	mu     sync.Mutex
	tokens map[string]*CancelToken
}

func NewCancelController() *CancelController {
	return &CancelController{tokens: map[string]*CancelToken{}}
}

// Register creates the session's token. Registering while one exists is an
// error; the bridge avoids it by claiming the active-generation slot first.
func (c *CancelController) Register(parent context.Context, sessionID string) (*CancelToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tokens[sessionID]; ok {
		return nil, errors.Errorf("cancel token already registered for session %s", sessionID)
	}
	ctx, cancel := context.WithCancel(parent)
	t := &CancelToken{ctx: ctx, cancel: cancel}
	c.tokens[sessionID] = t
	return t, nil
}

// Signal requests cancellation of the session's active generation, if any.
func (c *CancelController) Signal(sessionID string) {
	c.mu.Lock()
	t := c.tokens[sessionID]
	c.mu.Unlock()
	if t == nil {
		log.Debug().Str("session_id", sessionID).Msg("stop for session with no active generation, ignoring")
		return
	}
	t.signal()
}

// Deregister removes the session's token and releases its context.
func (c *CancelController) Deregister(sessionID string) {
	c.mu.Lock()
	t := c.tokens[sessionID]
	delete(c.tokens, sessionID)
	c.mu.Unlock()
	if t != nil {
		t.cancel()
	}
}

// Active reports whether a token is registered for the session.
func (c *CancelController) Active(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.tokens[sessionID]
	return ok
}
