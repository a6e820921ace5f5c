package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageAudioChunk(t *testing.T) {
	raw := []byte(`{"type":"client_audio_chunk","session_id":"s1","capture_id":"c1","seq":1,"pcm16_base64":"AQID","sample_rate":16000,"ts_ms":123}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	audio, ok := msg.(ClientAudioChunk)
	if !ok {
		t.Fatalf("message type = %T, want ClientAudioChunk", msg)
	}
	if audio.SessionID != "s1" || audio.CaptureID != "c1" || audio.SampleRate != 16000 {
		t.Fatalf("unexpected audio chunk: %+v", audio)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageControl(t *testing.T) {
	raw := []byte(`{"type":"client_control","session_id":"s1","action":" end_capture ","ts_ms":456}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	control, ok := msg.(ClientControl)
	if !ok {
		t.Fatalf("message type = %T, want ClientControl", msg)
	}
	if control.Action != ActionEndCapture {
		t.Fatalf("Action = %q, want %q", control.Action, ActionEndCapture)
	}
	if control.TSMs != 456 {
		t.Fatalf("TSMs = %d, want %d", control.TSMs, 456)
	}
}

func TestParseClientMessageCaptureAck(t *testing.T) {
	raw := []byte(`{"type":"client_control","session_id":"s1","action":"capture_ack","capture_id":"c1","granted":false,"reason":"permission_denied"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	control := msg.(ClientControl)
	if control.Granted == nil || *control.Granted {
		t.Fatalf("Granted = %v, want false", control.Granted)
	}
	if control.Reason != "permission_denied" {
		t.Fatalf("Reason = %q", control.Reason)
	}
}

func TestParseClientMessageRejectsInvalidControls(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing session", `{"type":"client_control","action":"begin_capture"}`},
		{"missing action", `{"type":"client_control","session_id":"s1"}`},
		{"ack without granted", `{"type":"client_control","session_id":"s1","action":"capture_ack","capture_id":"c1"}`},
		{"ack without capture", `{"type":"client_control","session_id":"s1","action":"capture_ack","granted":true}`},
		{"speech done without utterance", `{"type":"client_control","session_id":"s1","action":"speech_done"}`},
		{"unknown action", `{"type":"client_control","session_id":"s1","action":"approve_task_step"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseClientMessage([]byte(tt.raw)); err == nil {
				t.Fatalf("ParseClientMessage() error = nil, want error")
			}
		})
	}

	_, err := ParseClientMessage([]byte(`{"type":"client_control","session_id":"s1","action":"dance"}`))
	if !errors.Is(err, ErrUnsupportedAction) {
		t.Fatalf("error = %v, want ErrUnsupportedAction", err)
	}
}

func TestParseClientMessageRejectsInvalidAudioChunk(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"client_audio_chunk","session_id":"","pcm16_base64":"","sample_rate":0}`))
	if err == nil {
		t.Fatalf("ParseClientMessage() error = nil, want error")
	}
}

func TestParseClientMessageRejectsBadJSON(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{`)); err == nil {
		t.Fatalf("ParseClientMessage() error = nil, want error")
	}
}
