package core

import (
	"sync"

	"github.com/google/uuid"
)

// SessionState tracks where a connection is in its lifecycle.
type SessionState int

const (
	// StateConnected is the initial state after accept.
	StateConnected SessionState = iota
	// StateAuthenticating is the transient state while credentials are checked.
	StateAuthenticating
	// StateAuthenticated means the session is bound to a user.
	StateAuthenticated
	// StateInRoom means the session is a member of exactly one room.
	StateInRoom
	// StateClosed is terminal; reachable from any state.
	StateClosed
)

// outboundBuffer bounds the per-connection write queue. A consumer that
// falls this far behind starts losing frames instead of blocking the hub.
const outboundBuffer = 64

// Session is the server-side state for one live connection. Identity
// (a persisted User) is attached after authentication; room membership is
// mutated only by the hub goroutine. Sessions are never persisted.
type Session struct {
	ID string

	mu       sync.Mutex
	state    SessionState
	userID   int64
	userName string
	roomID   int64

	out       chan string
	done      chan struct{}
	closeOnce sync.Once
}

// NewSession constructs a session in the Connected state.
func NewSession() *Session {
	return &Session{
		ID:   uuid.NewString(),
		out:  make(chan string, outboundBuffer),
		done: make(chan struct{}),
	}
}

// Send queues a line for delivery to this connection. Delivery is FIFO and
// best effort: a full queue or a closed session drops the line and returns
// false.
func (s *Session) Send(line string) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- line:
		return true
	default:
		return false
	}
}

// Out is drained by the connection's writer goroutine.
func (s *Session) Out() <-chan string {
	return s.out
}

// Done is closed when the session is closed. The transport watches it to
// interrupt this session's pending read without touching any other session.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close transitions to Closed and wakes the transport. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		close(s.done)
	})
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState moves the session to the given state. Closed is sticky.
func (s *Session) SetState(st SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.state = st
}

// BindUser attaches an authenticated identity and enters Authenticated.
func (s *Session) BindUser(userID int64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.userID = userID
	s.userName = name
	s.state = StateAuthenticated
}

// UserID returns the bound user id, or 0 when unauthenticated.
func (s *Session) UserID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// UserName returns the bound display name.
func (s *Session) UserName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userName
}

// Authenticated reports whether a user is bound and the session is live.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID != 0 && (s.state == StateAuthenticated || s.state == StateInRoom)
}

// RoomID returns the current room id, or 0 when roomless.
func (s *Session) RoomID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// EnterRoom records membership and moves to InRoom. It fails on a closed
// session so membership and roomID always commit together.
func (s *Session) EnterRoom(roomID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	s.roomID = roomID
	s.state = StateInRoom
	return true
}

// LeaveRoom clears membership and falls back to Authenticated.
func (s *Session) LeaveRoom() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomID = 0
	if s.state == StateInRoom {
		s.state = StateAuthenticated
	}
}
