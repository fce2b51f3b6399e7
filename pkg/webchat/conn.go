package webchat

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/minstrel/pkg/conversation"
	"github.com/go-go-golems/minstrel/pkg/engine"
)

// client is one websocket connection and its protocol state machine. A
// connection is Idle until it starts a generation, Streaming until that
// generation's terminal frame is delivered, then Idle again.
// Session-management commands work in either state.
type client struct {
	srv  *Server
	conn *websocket.Conn

	// gorilla allows one concurrent writer; both the read loop (acks,
	// errors) and the session reader (stream frames) write here.
	writeMu sync.Mutex

	mu        sync.Mutex
	attached  string // session whose stream frames this connection receives
	streaming string // session with a generation started by this connection, "" when Idle
}

func (c *client) send(f ServerFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, f.encode())
}

// deliver forwards a stream frame from the session reader. A terminal frame
// for the session this connection started returns it to Idle.
func (c *client) deliver(f ServerFrame, raw []byte) error {
	c.writeMu.Lock()
	err := c.conn.WriteMessage(websocket.TextMessage, raw)
	c.writeMu.Unlock()
	if f.terminal() {
		c.mu.Lock()
		if c.streaming == f.SessionID {
			c.streaming = ""
		}
		c.mu.Unlock()
	}
	return err
}

func (c *client) sendError(sessionID, kind, message string) {
	if err := c.send(errorFrame(sessionID, kind, message)); err != nil {
		log.Debug().Err(err).Msg("failed to send error frame")
	}
}

// readLoop consumes inbound commands until the connection closes. Closing
// while Streaming deliberately does not cancel the generation; it finishes in
// the background and its reply is persisted regardless.
func (c *client) readLoop() {
	defer func() {
		c.srv.detachClient(c)
		_ = c.conn.Close()
		log.Debug().Str("component", "ws").Msg("connection closed")
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handle(data)
	}
}

func (c *client) handle(data []byte) {
	cmd, err := parseCommand(data)
	if err != nil {
		c.sendError("", kindValidation, err.Error())
		return
	}

	switch cmd.Type {
	case cmdNewChat:
		c.handleNewChat()
	case cmdListChats:
		c.handleListChats()
	case cmdRename:
		c.handleRegistryOp(cmd, func() error { return c.srv.reg.Rename(cmd.SessionID, cmd.Title) })
	case cmdClear:
		c.handleRegistryOp(cmd, func() error { return c.srv.reg.Clear(cmd.SessionID) })
	case cmdDelete:
		c.handleDelete(cmd)
	case cmdStop:
		c.handleStop(cmd)
	case cmdAttach:
		c.handleAttach(cmd)
	case cmdSelectModel:
		c.handleSelectModel(cmd)
	case cmdUserMessage:
		c.handleUserMessage(cmd)
	}
}

func (c *client) handleNewChat() {
	sum := c.srv.reg.Create()
	c.srv.ensureStream(sum.ID)
	if err := c.send(ServerFrame{Type: frameChatCreated, SessionID: sum.ID, Title: sum.Title}); err != nil {
		log.Debug().Err(err).Msg("failed to send chat_created")
	}
}

func (c *client) handleListChats() {
	if err := c.send(ServerFrame{Type: frameChatList, Sessions: c.srv.reg.List()}); err != nil {
		log.Debug().Err(err).Msg("failed to send chat_list")
	}
}

func (c *client) handleRegistryOp(cmd ClientCommand, op func() error) {
	if err := op(); err != nil {
		c.sendError(cmd.SessionID, registryErrorKind(err), err.Error())
		return
	}
	_ = c.send(ackFrame(cmd.Type, cmd.SessionID))
}

func (c *client) handleDelete(cmd ClientCommand) {
	if err := c.srv.deleteSession(cmd.SessionID); err != nil {
		c.sendError(cmd.SessionID, registryErrorKind(err), err.Error())
		return
	}
	c.mu.Lock()
	if c.streaming == cmd.SessionID {
		c.streaming = ""
	}
	if c.attached == cmd.SessionID {
		c.attached = ""
	}
	c.mu.Unlock()
	_ = c.send(ackFrame(cmdDelete, cmd.SessionID))
}

func (c *client) handleStop(cmd ClientCommand) {
	if !c.srv.reg.Exists(cmd.SessionID) {
		c.sendError(cmd.SessionID, kindSessionNotFound, "unknown session "+cmd.SessionID)
		return
	}
	// no state change here; the bridge's terminal frame moves us back to Idle.
	// Stop after completion is a no-op, not an error.
	c.srv.bridge.Stop(cmd.SessionID)
	_ = c.send(ackFrame(cmdStop, cmd.SessionID))
}

func (c *client) handleAttach(cmd ClientCommand) {
	if !c.srv.reg.Exists(cmd.SessionID) {
		c.sendError(cmd.SessionID, kindSessionNotFound, "unknown session "+cmd.SessionID)
		return
	}
	c.srv.attachClient(c, cmd.SessionID)
	_ = c.send(ackFrame(cmdAttach, cmd.SessionID))
}

func (c *client) handleSelectModel(cmd ClientCommand) {
	if c.srv.catalog == nil {
		c.sendError("", kindInternal, "no model catalog configured")
		return
	}
	models, err := c.srv.catalog.List(c.srv.baseCtx)
	if err != nil {
		c.sendError("", kindInternal, errors.Wrap(err, "list models").Error())
		return
	}
	for _, m := range models {
		if m.ID == cmd.ModelID {
			c.srv.switcher.Select(cmd.ModelID)
			_ = c.send(ServerFrame{Type: frameAck, Of: cmdSelectModel, ModelID: cmd.ModelID})
			return
		}
	}
	c.sendError("", kindValidation, "unknown model "+cmd.ModelID)
}

func (c *client) handleUserMessage(cmd ClientCommand) {
	sessionID := cmd.SessionID
	if !c.srv.reg.Exists(sessionID) {
		c.sendError(sessionID, kindSessionNotFound, "unknown session "+sessionID)
		return
	}

	// the streaming marker survives a missed terminal frame (the connection
	// may have attached elsewhere before its run ended), so it only counts
	// as busy while the bridge still has that run in flight
	c.mu.Lock()
	busySession := c.streaming
	c.mu.Unlock()
	if busySession != "" {
		if c.srv.bridge.Active(busySession) {
			c.sendError(sessionID, kindBusy, "connection is already streaming session "+busySession)
			return
		}
		c.mu.Lock()
		if c.streaming == busySession {
			c.streaming = ""
		}
		c.mu.Unlock()
	}

	params, err := cmd.Params.toEngineParams()
	if err != nil {
		c.sendError(sessionID, kindValidation, err.Error())
		return
	}

	// attachments are validated before the session is touched; a rejected
	// upload leaves the history unchanged and no backend call is made
	blocks, err := decodeContent(c.srv.enc, cmd.Content)
	if err != nil {
		c.sendError(sessionID, kindValidation, err.Error())
		return
	}

	// the generation slot is claimed before the append so that a racing
	// sender is turned away without leaving an orphaned user message
	if _, err := c.srv.bridge.Claim(sessionID); err != nil {
		kind := kindInternal
		if errors.Is(err, ErrGenerationActive) {
			kind = kindBusy
		}
		c.sendError(sessionID, kind, err.Error())
		return
	}

	if err := c.srv.reg.Append(sessionID, conversation.NewMessage(conversation.RoleUser, blocks...)); err != nil {
		c.srv.bridge.Release(sessionID)
		c.sendError(sessionID, registryErrorKind(err), err.Error())
		return
	}

	history, err := c.srv.reg.History(sessionID)
	if err != nil {
		c.srv.bridge.Release(sessionID)
		c.sendError(sessionID, registryErrorKind(err), err.Error())
		return
	}

	c.srv.attachClient(c, sessionID)

	c.mu.Lock()
	c.streaming = sessionID
	c.mu.Unlock()

	req := engine.Request{
		Model:   c.srv.switcher.Current(),
		History: history,
		Params:  params,
	}
	if _, err := c.srv.bridge.Start(sessionID, req); err != nil {
		c.srv.bridge.Release(sessionID)
		c.mu.Lock()
		c.streaming = ""
		c.mu.Unlock()
		c.sendError(sessionID, kindInternal, err.Error())
	}
}

func registryErrorKind(err error) string {
	if errors.Is(err, conversation.ErrSessionNotFound) {
		return kindSessionNotFound
	}
	return kindValidation
}
