package conversation

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultTitle is assigned to freshly created sessions.
const DefaultTitle = "New Chat"

// maxTitleLen caps user-provided titles.
const maxTitleLen = 120

// Registry owns all chat sessions. The registry map is guarded by an RWMutex
// used only for lookup, insert and delete; every mutation of a session's
// contents is serialized on that session's own mutex, so operations on two
// different sessions never block each other.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string // session ids in creation order

	hookMu   sync.Mutex
	onChange func(Session)
	onDelete func(string)
}

type entry struct {
	mu   sync.Mutex
	sess Session
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]*entry{}}
}

// OnChange registers a callback invoked with a snapshot of the session after
// every mutation. Used to mirror registry state into an archive store; the
// registry itself never depends on it.
func (r *Registry) OnChange(fn func(Session)) {
	r.hookMu.Lock()
	r.onChange = fn
	r.hookMu.Unlock()
}

// OnDelete registers a callback invoked with the session id after deletion.
func (r *Registry) OnDelete(fn func(string)) {
	r.hookMu.Lock()
	r.onDelete = fn
	r.hookMu.Unlock()
}

func (r *Registry) notifyChange(snap Session) {
	r.hookMu.Lock()
	fn := r.onChange
	r.hookMu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

func (r *Registry) notifyDelete(id string) {
	r.hookMu.Lock()
	fn := r.onDelete
	r.hookMu.Unlock()
	if fn != nil {
		fn(id)
	}
}

// Create registers a new session with a fresh id and the default title.
func (r *Registry) Create() Summary {
	sess := Session{
		ID:        uuid.NewString(),
		Title:     DefaultTitle,
		CreatedAt: time.Now(),
	}
	r.mu.Lock()
	r.entries[sess.ID] = &entry{sess: sess}
	r.order = append(r.order, sess.ID)
	r.mu.Unlock()
	log.Debug().Str("session_id", sess.ID).Msg("session created")
	r.notifyChange(sess)
	return Summary{ID: sess.ID, Title: sess.Title, CreatedAt: sess.CreatedAt}
}

// Restore re-registers a previously archived session, keeping its id, title
// and history. Sessions are restored in the order given.
func (r *Registry) Restore(sess Session) error {
	if strings.TrimSpace(sess.ID) == "" {
		return errors.New("restore: empty session id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[sess.ID]; ok {
		return errors.Errorf("restore: session %s already exists", sess.ID)
	}
	if sess.Title == "" {
		sess.Title = DefaultTitle
	}
	r.entries[sess.ID] = &entry{sess: sess}
	r.order = append(r.order, sess.ID)
	return nil
}

// List returns all sessions in creation order.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Summary, 0, len(r.order))
	for _, id := range r.order {
		e, ok := r.entries[id]
		if !ok {
			continue
		}
		e.mu.Lock()
		out = append(out, Summary{ID: e.sess.ID, Title: e.sess.Title, CreatedAt: e.sess.CreatedAt})
		e.mu.Unlock()
	}
	return out
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrSessionNotFound, "session %s", id)
	}
	return e, nil
}

// Rename updates the session title. Titles are trimmed and capped; an empty
// result is rejected.
func (r *Registry) Rename(id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return errors.New("rename: empty title")
	}
	if len(title) > maxTitleLen {
		cut := maxTitleLen
		for cut > 0 && !utf8.RuneStart(title[cut]) {
			cut--
		}
		title = title[:cut]
	}
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.sess.Title = title
	snap := e.snapshotLocked()
	e.mu.Unlock()
	r.notifyChange(snap)
	return nil
}

// Delete removes the session. Callers that may have an active generation for
// the session must cancel it before deleting.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	_, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return errors.Wrapf(ErrSessionNotFound, "session %s", id)
	}
	delete(r.entries, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	log.Debug().Str("session_id", id).Msg("session deleted")
	r.notifyDelete(id)
	return nil
}

// Clear empties the session history atomically, keeping id and title.
func (r *Registry) Clear(id string) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.sess.Messages = nil
	snap := e.snapshotLocked()
	e.mu.Unlock()
	r.notifyChange(snap)
	return nil
}

// Append adds a message to the end of the session history.
func (r *Registry) Append(id string, msg Message) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.sess.Messages = append(e.sess.Messages, msg)
	snap := e.snapshotLocked()
	e.mu.Unlock()
	r.notifyChange(snap)
	return nil
}

// History returns a consistent snapshot of the session's messages. The
// returned slice is a copy; a partially appended message is never observed.
func (r *Registry) History(id string) ([]Message, error) {
	e, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Message, len(e.sess.Messages))
	copy(out, e.sess.Messages)
	return out, nil
}

// Get returns a snapshot of the whole session record.
func (r *Registry) Get(id string) (Session, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked(), nil
}

// Exists reports whether the session id is known.
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

func (e *entry) snapshotLocked() Session {
	snap := e.sess
	snap.Messages = make([]Message, len(e.sess.Messages))
	copy(snap.Messages, e.sess.Messages)
	return snap
}
