package webchat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/minstrel/pkg/conversation"
	"github.com/go-go-golems/minstrel/pkg/engine"
)

// ErrGenerationActive is returned when a generation is started on a session
// that already has one in flight. Callers must stop the active one first.
var ErrGenerationActive = errors.New("generation already active for session")

// errStopRequested aborts backend consumption when the cancel token fires.
var errStopRequested = errors.New("stop requested")

// topicForSession names the stream topic carrying one session's generation
// events.
func topicForSession(sessionID string) string { return "chat:" + sessionID }

// Bridge turns a session's history plus a new user message into a backend
// call, consumes its output incrementally and republishes deltas on the
// session topic. It owns the at-most-one-active-generation-per-session
// invariant and the cooperative cancellation check.
type Bridge struct {
	baseCtx context.Context
	reg     *conversation.Registry
	cancels *CancelController
	eng     engine.Engine
	pub     message.Publisher

	mu     sync.Mutex
	active map[string]*claim
}

// claim is a reserved generation slot. Reserving is separate from running so
// callers can append the user message after the slot is held; a second
// sender is rejected before it touches the history.
type claim struct {
	runID string
	tok   *CancelToken
}

func NewBridge(baseCtx context.Context, reg *conversation.Registry, cancels *CancelController, eng engine.Engine, pub message.Publisher) *Bridge {
	return &Bridge{
		baseCtx: baseCtx,
		reg:     reg,
		cancels: cancels,
		eng:     eng,
		pub:     pub,
		active:  map[string]*claim{},
	}
}

// Claim reserves the session's generation slot and registers its
// cancellation token, without starting any work. The slot is claimed before
// the token is registered, so the controller never sees a duplicate
// registration. A held claim must be consumed by Start or given back with
// Release.
func (b *Bridge) Claim(sessionID string) (string, error) {
	b.mu.Lock()
	if _, busy := b.active[sessionID]; busy {
		b.mu.Unlock()
		return "", errors.Wrapf(ErrGenerationActive, "session %s", sessionID)
	}
	cl := &claim{runID: uuid.NewString()}
	b.active[sessionID] = cl
	b.mu.Unlock()

	tok, err := b.cancels.Register(b.baseCtx, sessionID)
	if err != nil {
		b.clearActive(sessionID)
		return "", err
	}
	b.mu.Lock()
	cl.tok = tok
	b.mu.Unlock()
	return cl.runID, nil
}

// Release gives back a claimed slot without running. Used when preparing the
// request fails after the slot was taken.
func (b *Bridge) Release(sessionID string) {
	b.cancels.Deregister(sessionID)
	b.clearActive(sessionID)
}

// Start launches the generation for a previously claimed session and returns
// its run id.
func (b *Bridge) Start(sessionID string, req engine.Request) (string, error) {
	b.mu.Lock()
	cl, ok := b.active[sessionID]
	b.mu.Unlock()
	if !ok || cl.tok == nil {
		return "", errors.Errorf("no claimed generation slot for session %s", sessionID)
	}

	log.Info().
		Str("component", "bridge").
		Str("session_id", sessionID).
		Str("run_id", cl.runID).
		Str("model", req.Model).
		Int("history_len", len(req.History)).
		Msg("starting generation")

	go b.run(sessionID, cl.runID, req, cl.tok)
	return cl.runID, nil
}

// Stop requests cancellation of the session's in-flight generation.
// Idempotent; stopping a session with nothing in flight is a no-op.
func (b *Bridge) Stop(sessionID string) {
	b.cancels.Signal(sessionID)
}

// Active reports whether the session has a generation in flight.
func (b *Bridge) Active(sessionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.active[sessionID]
	return ok
}

func (b *Bridge) clearActive(sessionID string) {
	b.mu.Lock()
	delete(b.active, sessionID)
	b.mu.Unlock()
}

func (b *Bridge) run(sessionID, runID string, req engine.Request, tok *CancelToken) {
	started := time.Now()
	var buf strings.Builder

	publish := func(f ServerFrame) {
		msg := message.NewMessage(watermill.NewUUID(), f.encode())
		if err := b.pub.Publish(topicForSession(sessionID), msg); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to publish stream frame")
		}
	}

	_, err := b.eng.Stream(tok.Context(), req, func(delta string) error {
		if tok.Signalled() {
			return errStopRequested
		}
		buf.WriteString(delta)
		publish(ServerFrame{Type: frameDelta, SessionID: sessionID, Text: delta})
		return nil
	})

	switch {
	case err == nil:
		final := buf.String()
		b.persistAssistant(sessionID, final, false)
		publish(ServerFrame{Type: frameDone, SessionID: sessionID, FinalText: final})
		log.Info().
			Str("component", "bridge").
			Str("session_id", sessionID).
			Str("run_id", runID).
			Dur("elapsed", time.Since(started)).
			Int("text_len", len(final)).
			Msg("generation complete")

	case errors.Is(err, errStopRequested) || tok.Signalled():
		partial := buf.String()
		b.persistAssistant(sessionID, partial, true)
		publish(ServerFrame{Type: frameCancelled, SessionID: sessionID, PartialText: partial})
		log.Info().
			Str("component", "bridge").
			Str("session_id", sessionID).
			Str("run_id", runID).
			Dur("elapsed", time.Since(started)).
			Int("partial_len", len(partial)).
			Msg("generation cancelled")

	default:
		// partial text from a failed run is not a deliberate truncation; discard it
		publish(errorFrame(sessionID, kindGeneration, err.Error()))
		log.Error().
			Err(err).
			Str("component", "bridge").
			Str("session_id", sessionID).
			Str("run_id", runID).
			Msg("generation failed")
	}

	b.cancels.Deregister(sessionID)
	b.clearActive(sessionID)
}

// persistAssistant appends the assembled reply to the session before the
// terminal frame goes out, so the reply is recorded even when no connection
// is attached. The session may have been deleted mid-run; that is not an
// error.
func (b *Bridge) persistAssistant(sessionID, text string, truncated bool) {
	msg := conversation.NewMessage(conversation.RoleAssistant, conversation.NewTextBlock(text))
	msg.Truncated = truncated
	if err := b.reg.Append(sessionID, msg); err != nil {
		if errors.Is(err, conversation.ErrSessionNotFound) {
			log.Debug().Str("session_id", sessionID).Msg("session deleted during generation, dropping reply")
			return
		}
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to persist assistant reply")
	}
}
