package webchat

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/minstrel/pkg/attachment"
	"github.com/go-go-golems/minstrel/pkg/conversation"
	"github.com/go-go-golems/minstrel/pkg/engine"
)

// ModelLister enumerates the models the backend serves.
type ModelLister interface {
	List(ctx context.Context) ([]engine.ModelInfo, error)
}

// Options configure a Server.
type Options struct {
	Addr        string
	Engine      engine.Engine
	Catalog     ModelLister
	Switcher    *engine.Switcher
	Registry    *conversation.Registry
	Limits      attachment.Limits
	DeltaBuffer int64
}

// sessionStream is the fan-out side of one session: the subscriber reading
// the session's topic plus the pool of connections watching it.
type sessionStream struct {
	pool   *connectionPool
	cancel context.CancelFunc
}

// Server ties the registry, the bridge and the websocket connections
// together. Stream frames travel bridge -> pub/sub topic -> per-session
// reader -> connection pool, so a session's output reaches every attached
// connection, not just the one that started the generation.
type Server struct {
	baseCtx context.Context

	reg      *conversation.Registry
	cancels  *CancelController
	bridge   *Bridge
	eng      engine.Engine
	enc      *attachment.Encoder
	catalog  ModelLister
	switcher *engine.Switcher

	pubsub *gochannel.GoChannel

	mu      sync.Mutex
	streams map[string]*sessionStream

	mux        *http.ServeMux
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

func NewServer(ctx context.Context, opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if opts.Registry == nil {
		opts.Registry = conversation.NewRegistry()
	}
	if opts.Switcher == nil {
		opts.Switcher = engine.NewSwitcher("")
	}
	if opts.DeltaBuffer <= 0 {
		opts.DeltaBuffer = 64
	}

	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: opts.DeltaBuffer,
	}, newWatermillLogger(log.Logger))

	s := &Server{
		baseCtx:  ctx,
		reg:      opts.Registry,
		cancels:  NewCancelController(),
		eng:      opts.Engine,
		enc:      attachment.NewEncoder(opts.Limits),
		catalog:  opts.Catalog,
		switcher: opts.Switcher,
		pubsub:   pubsub,
		streams:  map[string]*sessionStream{},
		mux:      http.NewServeMux(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.bridge = NewBridge(ctx, s.reg, s.cancels, s.eng, pubsub)

	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("/models", s.handleModels)
	s.httpServer = &http.Server{Addr: opts.Addr, Handler: s.mux}

	// sessions restored from a store need their streams before any
	// connection attaches
	for _, sum := range s.reg.List() {
		s.ensureStream(sum.ID)
	}

	return s, nil
}

// Handler exposes the HTTP mux, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &client{srv: s, conn: conn}
	log.Debug().Str("component", "ws").Str("remote", r.RemoteAddr).Msg("connection opened")
	go c.readLoop()
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		http.Error(w, "no model catalog configured", http.StatusNotImplemented)
		return
	}
	models, err := s.catalog.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"models":  models,
		"current": s.switcher.Current(),
	}); err != nil {
		log.Debug().Err(err).Msg("failed to encode model list")
	}
}

// ensureStream starts the per-session reader if it is not already running.
func (s *Server) ensureStream(sessionID string) *sessionStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.streams[sessionID]; ok {
		return st
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	msgs, err := s.pubsub.Subscribe(ctx, topicForSession(sessionID))
	if err != nil {
		cancel()
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to subscribe to session stream")
		return nil
	}

	st := &sessionStream{
		pool:   newConnectionPool(sessionID),
		cancel: cancel,
	}
	s.streams[sessionID] = st
	go s.readStream(sessionID, st, msgs)
	return st
}

func (s *Server) readStream(sessionID string, st *sessionStream, msgs <-chan *message.Message) {
	for msg := range msgs {
		var f ServerFrame
		if err := json.Unmarshal(msg.Payload, &f); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("dropping malformed stream frame")
			msg.Ack()
			continue
		}
		st.pool.broadcast(f, msg.Payload)
		msg.Ack()
	}
	log.Debug().Str("session_id", sessionID).Msg("session stream closed")
}

func (s *Server) dropStream(sessionID string) {
	s.mu.Lock()
	st, ok := s.streams[sessionID]
	if ok {
		delete(s.streams, sessionID)
	}
	s.mu.Unlock()
	if ok {
		st.cancel()
	}
}

// attachClient moves a connection to sessionID's pool, detaching it from its
// previous session first. A connection watches at most one session.
func (s *Server) attachClient(c *client, sessionID string) {
	c.mu.Lock()
	prev := c.attached
	c.attached = sessionID
	c.mu.Unlock()
	if prev == sessionID {
		return
	}
	if prev != "" {
		s.mu.Lock()
		prevStream, ok := s.streams[prev]
		s.mu.Unlock()
		if ok {
			prevStream.pool.detach(c)
		}
	}
	if st := s.ensureStream(sessionID); st != nil {
		st.pool.attach(c)
	}
}

// detachClient removes a closed connection from its pool. Generations it
// started keep running; their replies land in the registry either way.
func (s *Server) detachClient(c *client) {
	c.mu.Lock()
	attached := c.attached
	c.attached = ""
	c.streaming = ""
	c.mu.Unlock()
	if attached == "" {
		return
	}
	s.mu.Lock()
	st, ok := s.streams[attached]
	s.mu.Unlock()
	if ok {
		st.pool.detach(c)
	}
}

// deleteSession stops any running generation, removes the session and tears
// down its stream, in that order.
func (s *Server) deleteSession(sessionID string) error {
	s.bridge.Stop(sessionID)
	if err := s.reg.Delete(sessionID); err != nil {
		return err
	}
	s.dropStream(sessionID)
	return nil
}

// Run serves until ctx is cancelled or a signal arrives, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info().Str("addr", s.httpServer.Addr).Msg("starting web chat server")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down web chat server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "http shutdown")
		}
		return s.pubsub.Close()
	})
	return eg.Wait()
}
