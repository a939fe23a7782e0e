// Package registry tracks the server's live shell sessions by id.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zhubert/tether/logger"
	"github.com/zhubert/tether/shell"
)

// ErrDuplicateID is returned by Create when the requested id is taken.
var ErrDuplicateID = errors.New("session id already exists")

// ErrNotFound is returned when no session has the given id.
var ErrNotFound = errors.New("session not found")

// Registry owns the id → session map. Creation reserves the id before the
// subprocess spawns, so two concurrent Creates with the same id cannot both
// succeed, and a failed spawn releases the reservation with no side effects.
// Reservations live in a separate pending set: Get and List never observe a
// session whose subprocess hasn't started yet.
type Registry struct {
	defaultShell string
	closeGrace   time.Duration

	mu       sync.Mutex
	sessions map[string]*shell.Session
	pending  map[string]struct{}
}

// New returns an empty registry. defaultShell is used for sessions created
// without an explicit shell ("" means auto-detect per platform); closeGrace
// is how long Close waits for a graceful shell exit before force-killing.
func New(defaultShell string, closeGrace time.Duration) *Registry {
	return &Registry{
		defaultShell: defaultShell,
		closeGrace:   closeGrace,
		sessions:     make(map[string]*shell.Session),
		pending:      make(map[string]struct{}),
	}
}

// Create spawns a new session. An empty id gets a generated one; an id that
// collides with a live session is rejected without spawning anything.
func (r *Registry) Create(id, shellPath, cwd string, env map[string]string) (*shell.Session, error) {
	if id == "" {
		id = shell.GenerateID()
	}
	if shellPath == "" {
		shellPath = r.defaultShell
	}

	sess := shell.New(shell.Options{
		ID:         id,
		Shell:      shellPath,
		Cwd:        cwd,
		Env:        env,
		CloseGrace: r.closeGrace,
	}, logger.WithComponent("session"))

	// Reserve the id before spawning so a concurrent Create with the same id
	// fails fast instead of racing the spawn. The reservation is a
	// placeholder, not the session itself: exposing a not-yet-started
	// session would let a concurrent List classify it as dead and prune it.
	r.mu.Lock()
	_, taken := r.sessions[id]
	if !taken {
		_, taken = r.pending[id]
	}
	if taken {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	r.pending[id] = struct{}{}
	r.mu.Unlock()

	err := sess.Start()

	r.mu.Lock()
	delete(r.pending, id)
	if err == nil {
		r.sessions[id] = sess
	}
	r.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*shell.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sess, nil
}

// Close terminates the session with the given id and removes it.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	sess.Close()
	return nil
}

// List returns a snapshot of every live session, ordered by id. Sessions
// whose shell has died are pruned as a side effect, so the listing reflects
// reality even when shells exit on their own.
func (r *Registry) List() []shell.Info {
	r.mu.Lock()
	var dead []*shell.Session
	infos := make([]shell.Info, 0, len(r.sessions))
	for id, sess := range r.sessions {
		if !sess.Alive() {
			delete(r.sessions, id)
			dead = append(dead, sess)
			continue
		}
		infos = append(infos, sess.Info())
	}
	r.mu.Unlock()

	// Release transcripts of pruned sessions outside the lock.
	for _, sess := range dead {
		sess.Close()
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].SessionID < infos[j].SessionID })
	return infos
}

// CloseAll terminates every session. Used at server shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*shell.Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.sessions = make(map[string]*shell.Session)
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}
}

// Count returns the number of tracked sessions, dead or alive.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
