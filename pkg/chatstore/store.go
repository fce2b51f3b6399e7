package chatstore

import (
	"context"

	"github.com/go-go-golems/minstrel/pkg/conversation"
)

// Store archives chat sessions across restarts. The registry stays the
// source of truth while the process runs; the store is written through on
// every change and read once at startup.
type Store interface {
	SaveSession(ctx context.Context, session conversation.Session) error
	DeleteSession(ctx context.Context, sessionID string) error
	LoadSessions(ctx context.Context) ([]conversation.Session, error)
	Close() error
}
