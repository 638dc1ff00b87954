// Package realtime maps authenticated users to their live push connection
// and delivers events with best-effort, at-most-once semantics.
package realtime

import "sync"

// EventNewNotification is the only event type the server currently pushes.
const EventNewNotification = "NEW_NOTIFICATION"

// Event is one self-contained frame sent to a client.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

const sessionBufferSize = 16

// Session is the process-local binding between one user and one connection.
// The transport drains Events and writes them to the wire.
type Session struct {
	userID int64
	stream chan Event
}

// Events exposes the session's outbound frame stream.
func (s *Session) Events() <-chan Event {
	return s.stream
}

// Registry holds at most one live session per user id. It is safe for
// concurrent register, unregister and push across connection lifecycles.
type Registry struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[int64]*Session)}
}

// Register binds userID to a new session, silently superseding any prior
// registration for the same user. The superseded connection is not closed
// here; it simply stops receiving events and drains naturally.
func (r *Registry) Register(userID int64) *Session {
	session := &Session{
		userID: userID,
		stream: make(chan Event, sessionBufferSize),
	}
	r.mu.Lock()
	r.sessions[userID] = session
	r.mu.Unlock()
	return session
}

// Unregister removes the binding only if session is still the current one
// for the user. A late unregister from a superseded connection must never
// clobber a newer registration.
func (r *Registry) Unregister(userID int64, session *Session) {
	r.mu.Lock()
	if current, ok := r.sessions[userID]; ok && current == session {
		delete(r.sessions, userID)
	}
	r.mu.Unlock()
}

// Push offers an event to the user's session, if any. The send never blocks:
// with no session, or a session whose buffer is full, the event is dropped.
// The durable notification record is the source of truth for missed events.
func (r *Registry) Push(userID int64, event Event) {
	r.mu.RLock()
	session := r.sessions[userID]
	r.mu.RUnlock()
	if session == nil {
		return
	}
	select {
	case session.stream <- event:
	default:
	}
}

// Connected reports whether a session is currently registered for userID.
func (r *Registry) Connected(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[userID]
	return ok
}
