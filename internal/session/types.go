package session

import "time"

// CreateRequest defines payload for creating a new conversation.
type CreateRequest struct {
	UserID string `json:"user_id"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string    `json:"session_id"`
	UserID          string    `json:"user_id"`
	Status          Status    `json:"status"`
	Phase           Phase     `json:"phase"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}

// Phase is the current step within a turn. Exactly one phase holds at a time.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseRecording       Phase = "recording"
	PhaseTranscribing    Phase = "transcribing"
	PhaseGeneratingReply Phase = "generating_reply"
	PhaseSpeaking        Phase = "speaking"
)

func (p Phase) Valid() bool {
	switch p {
	case PhaseIdle, PhaseRecording, PhaseTranscribing, PhaseGeneratingReply, PhaseSpeaking:
		return true
	default:
		return false
	}
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one immutable transcript entry. Seq is the append order.
type ChatMessage struct {
	ID        string    `json:"id"`
	Seq       int       `json:"seq"`
	Text      string    `json:"text"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a point-in-time copy of a session suitable for rendering.
type Snapshot struct {
	ID             string        `json:"session_id"`
	UserID         string        `json:"user_id"`
	Status         Status        `json:"status"`
	Phase          Phase         `json:"phase"`
	LastError      string        `json:"last_error,omitempty"`
	Transcript     []ChatMessage `json:"transcript"`
	StartedAt      time.Time     `json:"started_at"`
	LastActivityAt time.Time     `json:"last_activity_at"`
}
