package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientAudioChunk MessageType = "client_audio_chunk"
	TypeClientControl    MessageType = "client_control"

	TypeTranscriptMessage MessageType = "transcript_message"
	TypePhaseChanged      MessageType = "phase_changed"
	TypeStatusEvent       MessageType = "status_event"
	TypeSpeakRequest      MessageType = "speak_request"
	TypeSpeakCancel       MessageType = "speak_cancel"
	TypeCaptureRequest    MessageType = "capture_request"
	TypeCaptureRelease    MessageType = "capture_release"
	TypeBreathingState    MessageType = "breathing_state"
	TypeErrorEvent        MessageType = "error_event"
)

// Client control actions.
const (
	ActionStartSession    = "start_session"
	ActionBeginCapture    = "begin_capture"
	ActionEndCapture      = "end_capture"
	ActionStopSpeaking    = "stop_speaking"
	ActionCancelTurn      = "cancel_turn"
	ActionCaptureAck      = "capture_ack"
	ActionSpeechDone      = "speech_done"
	ActionSpeechError     = "speech_error"
	ActionBreathingToggle = "breathing_toggle"
	ActionBreathingReset  = "breathing_reset"
)

var (
	ErrUnsupportedType   = errors.New("unsupported message type")
	ErrUnsupportedAction = errors.New("unsupported control action")
)

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	CaptureID   string      `json:"capture_id,omitempty"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	TSMs        int64       `json:"ts_ms,omitempty"`
}

type ClientControl struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Action      string      `json:"action"`
	CaptureID   string      `json:"capture_id,omitempty"`
	Granted     *bool       `json:"granted,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	UtteranceID string      `json:"utterance_id,omitempty"`
	Detail      string      `json:"detail,omitempty"`
	TSMs        int64       `json:"ts_ms,omitempty"`
}

type TranscriptMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	MessageID string      `json:"message_id"`
	Seq       int         `json:"seq"`
	Role      string      `json:"role"`
	Text      string      `json:"text"`
	TSMs      int64       `json:"ts_ms"`
}

type PhaseChanged struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	From      string      `json:"from"`
	Phase     string      `json:"phase"`
}

// StatusEvent carries the transient status line. An empty Status clears it.
type StatusEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Status    string      `json:"status"`
	Kind      string      `json:"kind,omitempty"`
	Retryable bool        `json:"retryable,omitempty"`
}

type SpeakRequest struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	UtteranceID string      `json:"utterance_id"`
	Text        string      `json:"text"`
	Rate        float64     `json:"rate"`
	Pitch       float64     `json:"pitch"`
	Volume      float64     `json:"volume"`
	Voice       string      `json:"voice,omitempty"`
	VoiceHints  []string    `json:"voice_hints,omitempty"`
}

type SpeakCancel struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	UtteranceID string      `json:"utterance_id"`
}

type CaptureRequest struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	CaptureID  string      `json:"capture_id"`
	SampleRate int         `json:"sample_rate"`
}

type CaptureRelease struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	CaptureID string      `json:"capture_id"`
}

type BreathingState struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Phase     string      `json:"phase"`
	Label     string      `json:"label"`
	Remaining int         `json:"remaining"`
	Cycle     int         `json:"cycle"`
	Active    bool        `json:"active"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_audio_chunk")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Action = strings.TrimSpace(msg.Action)
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		if err := validateControl(msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

func validateControl(msg ClientControl) error {
	switch msg.Action {
	case ActionStartSession, ActionBeginCapture, ActionEndCapture, ActionStopSpeaking,
		ActionCancelTurn, ActionBreathingToggle, ActionBreathingReset:
		return nil
	case ActionCaptureAck:
		if msg.CaptureID == "" || msg.Granted == nil {
			return errors.New("capture_ack requires capture_id and granted")
		}
		return nil
	case ActionSpeechDone, ActionSpeechError:
		if msg.UtteranceID == "" {
			return fmt.Errorf("%s requires utterance_id", msg.Action)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedAction, msg.Action)
	}
}
