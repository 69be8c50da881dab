// Package registry tracks live, authenticated realtime connections. A
// Session is the in-memory pairing of a connection handle with the email it
// claimed at handshake; nothing here is persisted. The registry owns the
// connection map so the rest of the system never touches global state.
package registry

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ShehabShan/TaskGuru-server/internal/events"
)

// ErrUnauthorized rejects a handshake that carries no identity claim.
var ErrUnauthorized = errors.New("unauthorized")

// ErrSlowConsumer is returned by a Conn whose outbound buffer is full.
// The fanout treats it as a signal to cut the connection.
var ErrSlowConsumer = errors.New("slow consumer")

// State is a session's position in its lifecycle. Disconnected is terminal.
type State string

const (
	StateConnecting    State = "connecting"
	StateAuthenticated State = "authenticated"
	StateActive        State = "active"
	StateDisconnected  State = "disconnected"
)

// Conn is the transport handle a session wraps. Push must not block: it
// either enqueues the event or fails immediately (ErrSlowConsumer when the
// buffer is full, any other error when the connection is gone).
type Conn interface {
	Push(e events.ChangeEvent) error
	Close() error
}

// Session is one authenticated live connection. Multiple sessions may share
// an email; each connection is its own session.
type Session struct {
	ID          string
	Email       string
	ConnectedAt time.Time

	mu       sync.Mutex
	state    State
	lastSeen time.Time
	conn     Conn
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Touch records liveness, typically from a pong.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Push forwards an event to the session's connection. Pushes to a session
// that already left Active are silently dropped; there is no redelivery.
func (s *Session) Push(e events.ChangeEvent) error {
	s.mu.Lock()
	st, conn := s.state, s.conn
	s.mu.Unlock()
	if st != StateActive {
		return nil
	}
	return conn.Push(e)
}

// Close closes the underlying connection. Safe on any state.
func (s *Session) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Registry is the set of active sessions, keyed by connection handle.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *slog.Logger
}

func New(logger *slog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

// Handshake runs a connection through the admission state machine:
// Connecting, then Authenticated once the claim checks out, then Active
// when the session is registered. A connection without an identity claim
// goes straight to Disconnected and is never admitted.
func (r *Registry) Handshake(conn Conn, email string) (*Session, error) {
	s := &Session{
		ID:          uuid.NewString(),
		ConnectedAt: time.Now(),
		state:       StateConnecting,
		conn:        conn,
	}
	if strings.TrimSpace(email) == "" {
		s.setState(StateDisconnected)
		return nil, ErrUnauthorized
	}
	s.Email = email
	s.setState(StateAuthenticated)

	// Flip to Active before publishing the session so a broadcast that
	// snapshots the map right away never sees a non-Active session.
	s.setState(StateActive)
	s.Touch()
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	r.logger.Debug("registry: session active", "session", s.ID, "email", email)
	return s, nil
}

// Remove drops the session from the registry and marks it Disconnected.
// Idempotent: removing a session twice, or one that was never admitted,
// is a no-op.
func (r *Registry) Remove(s *Session) {
	if s == nil {
		return
	}
	r.mu.Lock()
	_, present := r.sessions[s.ID]
	delete(r.sessions, s.ID)
	r.mu.Unlock()

	s.setState(StateDisconnected)
	if present {
		r.logger.Debug("registry: session removed", "session", s.ID, "email", s.Email)
	}
}

// Active returns a snapshot of the currently registered sessions.
func (r *Registry) Active() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Count reports how many sessions are active right now.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll removes every session and closes its connection. Used at
// shutdown; pending deliveries are abandoned.
func (r *Registry) CloseAll() {
	for _, s := range r.Active() {
		r.Remove(s)
		s.Close()
	}
}
