package session

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPhaseMismatch  = errors.New("session phase mismatch")
	ErrAlreadyStarted = errors.New("session already started")
)

// Session owns the transcript and phase of one conversation. All mutation
// happens under mu; callers never see the live slice.
type Session struct {
	mu             sync.Mutex
	id             string
	userID         string
	status         Status
	phase          Phase
	lastError      string
	turn           uint64
	transcript     []ChatMessage
	startedAt      time.Time
	lastActivityAt time.Time
}

// New constructs a detached session. Manager.Create is the usual entry point.
func New(userID string) *Session {
	now := time.Now().UTC()
	return &Session{
		id:             uuid.NewString(),
		userID:         userID,
		status:         StatusActive,
		phase:          PhaseIdle,
		startedAt:      now,
		lastActivityAt: now,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Transition moves from one phase to another only if the session is
// currently in from.
func (s *Session) Transition(from, to Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != from {
		return ErrPhaseMismatch
	}
	s.phase = to
	s.lastActivityAt = time.Now().UTC()
	return nil
}

// TransitionIf is Transition scoped to a turn.
func (s *Session) TransitionIf(turn uint64, from, to Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turn != turn || s.phase != from {
		return ErrPhaseMismatch
	}
	s.phase = to
	s.lastActivityAt = time.Now().UTC()
	return nil
}

// Turn identifies the current turn. It changes whenever a turn is abandoned.
func (s *Session) Turn() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turn
}

// AbandonTurn returns the session to idle and invalidates the current turn
// so late continuations are discarded. When allowed is non-empty the session
// must be in one of those phases. It returns the phase it left.
func (s *Session) AbandonTurn(allowed ...Phase) (Phase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.phase
	if len(allowed) > 0 && !slices.Contains(allowed, prev) {
		return prev, ErrPhaseMismatch
	}
	s.turn++
	s.phase = PhaseIdle
	s.lastActivityAt = time.Now().UTC()
	return prev, nil
}

// Append adds a message to the transcript and returns it.
func (s *Session) Append(role Role, text string) ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(role, text)
}

// AppendIf appends only while the session is still in phase want of turn.
// It lets a continuation drop its result when the turn was cancelled.
func (s *Session) AppendIf(turn uint64, want Phase, role Role, text string) (ChatMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turn != turn || s.phase != want {
		return ChatMessage{}, false
	}
	return s.appendLocked(role, text), true
}

// Greet appends the opening assistant message and moves to phase to. It only
// succeeds on an idle session with an empty transcript.
func (s *Session) Greet(text string, to Phase) (ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.transcript) > 0 || s.phase != PhaseIdle {
		return ChatMessage{}, ErrAlreadyStarted
	}
	msg := s.appendLocked(RoleAssistant, text)
	s.phase = to
	return msg, nil
}

func (s *Session) appendLocked(role Role, text string) ChatMessage {
	now := time.Now().UTC()
	msg := ChatMessage{
		ID:        uuid.NewString(),
		Seq:       len(s.transcript) + 1,
		Text:      text,
		Role:      role,
		Timestamp: now,
	}
	s.transcript = append(s.transcript, msg)
	s.lastActivityAt = now
	return msg
}

func (s *Session) Transcript() []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChatMessage, len(s.transcript))
	copy(out, s.transcript)
	return out
}

func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transcript)
}

func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

func (s *Session) SetLastError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = msg
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivityAt = time.Now().UTC()
	s.mu.Unlock()
}

func (s *Session) end() {
	s.mu.Lock()
	s.status = StatusEnded
	s.lastActivityAt = time.Now().UTC()
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivityAt)
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Snapshot{
		ID:             s.id,
		UserID:         s.userID,
		Status:         s.status,
		Phase:          s.phase,
		LastError:      s.lastError,
		Transcript:     make([]ChatMessage, len(s.transcript)),
		StartedAt:      s.startedAt,
		LastActivityAt: s.lastActivityAt,
	}
	copy(out.Transcript, s.transcript)
	return out
}
