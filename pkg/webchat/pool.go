package webchat

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// connectionPool tracks which websocket clients are currently viewing a
// session. Broadcasting goes through each client's serialized writer; a
// client whose transport fails is dropped from the pool.
type connectionPool struct {
	sessionID string
	mu        sync.Mutex
	clients   map[*client]struct{}
}

func newConnectionPool(sessionID string) *connectionPool {
	return &connectionPool{sessionID: sessionID, clients: map[*client]struct{}{}}
}

func (p *connectionPool) attach(c *client) {
	p.mu.Lock()
	p.clients[c] = struct{}{}
	p.mu.Unlock()
}

// detach removes the client without closing its connection; the client may
// re-attach to another session's pool.
func (p *connectionPool) detach(c *client) {
	p.mu.Lock()
	delete(p.clients, c)
	p.mu.Unlock()
}

// broadcast delivers one stream frame to every attached client, in the order
// frames arrive from the session reader.
func (p *connectionPool) broadcast(f ServerFrame, raw []byte) {
	p.mu.Lock()
	targets := make([]*client, 0, len(p.clients))
	for c := range p.clients {
		targets = append(targets, c)
	}
	p.mu.Unlock()

	for _, c := range targets {
		if err := c.deliver(f, raw); err != nil {
			log.Warn().Err(err).Str("session_id", p.sessionID).Msg("ws delivery failed, dropping connection from pool")
			p.detach(c)
		}
	}
}

func (p *connectionPool) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}
