package auth

import (
	"sync"

	"github.com/goccy/go-json"
)

type State string

const (
	StatePending   State = "pending"
	StateResolved  State = "resolved"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Session is one QR authentication attempt against an issuer. It starts Pending and moves to
// exactly one of the terminal states; terminal states are final and a session is never reused.
type Session struct {
	// ID is the correlation token the issuer node tracks the challenge under
	ID string
	// QRPayload is the opaque challenge document to render for the out-of-band wallet
	QRPayload json.RawMessage

	mu      sync.Mutex
	state   State
	subject string
}

func newSession(id string, qrPayload json.RawMessage) *Session {
	return &Session{ID: id, QRPayload: qrPayload, state: StatePending}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SubjectID returns the authenticated subject identifier, empty unless the session resolved.
func (s *Session) SubjectID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subject
}

// transition moves the session into a terminal state. It reports false when the session has
// already terminated, which is how the poller guarantees a single terminal callback.
func (s *Session) transition(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePending {
		return false
	}
	s.state = to
	return true
}

func (s *Session) resolve(subject string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePending {
		return false
	}
	s.state = StateResolved
	s.subject = subject
	return true
}
