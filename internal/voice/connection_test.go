package voice

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/ent0n29/serene/internal/capture"
	"github.com/ent0n29/serene/internal/observability"
	"github.com/ent0n29/serene/internal/protocol"
	"github.com/ent0n29/serene/internal/session"
)

type clipRecorder struct {
	fakeTranscriber
	clips chan capture.Clip
}

func (r *clipRecorder) Transcribe(ctx context.Context, clip capture.Clip) (string, error) {
	r.clips <- clip
	return r.fakeTranscriber.Transcribe(ctx, clip)
}

// expect reads outbound until a message of type T satisfying match arrives.
func expect[T any](t *testing.T, outbound <-chan any, match func(T) bool) T {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case raw := <-outbound:
			if msg, ok := raw.(T); ok && (match == nil || match(msg)) {
				return msg
			}
		case <-timeout:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func control(sessionID, action string) protocol.ClientControl {
	return protocol.ClientControl{Type: protocol.TypeClientControl, SessionID: sessionID, Action: action}
}

func phaseIs(p session.Phase) func(protocol.PhaseChanged) bool {
	return func(m protocol.PhaseChanged) bool { return m.Phase == string(p) }
}

func TestRunConnectionDrivesBrowserTurn(t *testing.T) {
	stt := &clipRecorder{
		fakeTranscriber: fakeTranscriber{text: "I can't sleep and I'm so stressed"},
		clips:           make(chan capture.Clip, 1),
	}
	gen := &fakeGenerator{reply: "That sounds exhausting."}
	orch := NewOrchestrator(Config{
		Transcriber: stt,
		Generator:   gen,
		Metrics:     observability.NewMetrics("serene_test"),
		Connection: ConnectionConfig{
			Capture:           capture.StreamConfig{SampleRate: 16000, AckTimeout: time.Second},
			BreathingInterval: time.Hour,
		},
	})
	sess := session.New("u1")
	id := sess.ID()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inbound := make(chan any, 16)
	outbound := make(chan any, 256)
	done := make(chan error, 1)
	go func() { done <- orch.RunConnection(ctx, sess, inbound, outbound) }()

	expect(t, outbound, phaseIs(session.PhaseIdle))
	expect[protocol.BreathingState](t, outbound, nil)

	inbound <- control(id, protocol.ActionStartSession)
	greeting := expect(t, outbound, func(m protocol.TranscriptMessage) bool { return m.Seq == 1 })
	if greeting.Text != Greeting || greeting.Role != string(session.RoleAssistant) {
		t.Fatalf("greeting = %+v", greeting)
	}
	speak := expect[protocol.SpeakRequest](t, outbound, nil)
	if speak.Rate != 0.8 || speak.Volume != 0.8 || len(speak.VoiceHints) == 0 {
		t.Fatalf("speak request profile = %+v", speak)
	}

	done1 := control(id, protocol.ActionSpeechDone)
	done1.UtteranceID = speak.UtteranceID
	inbound <- done1
	expect(t, outbound, phaseIs(session.PhaseIdle))

	inbound <- control(id, protocol.ActionBeginCapture)
	req := expect[protocol.CaptureRequest](t, outbound, nil)
	if req.SampleRate != 16000 || req.CaptureID == "" {
		t.Fatalf("capture request = %+v", req)
	}

	granted := true
	ack := control(id, protocol.ActionCaptureAck)
	ack.CaptureID = req.CaptureID
	ack.Granted = &granted
	inbound <- ack
	inbound <- protocol.ClientAudioChunk{
		Type:        protocol.TypeClientAudioChunk,
		SessionID:   id,
		CaptureID:   req.CaptureID,
		PCM16Base64: base64.StdEncoding.EncodeToString(make([]byte, 3200)),
		SampleRate:  16000,
	}
	inbound <- control(id, protocol.ActionEndCapture)

	select {
	case clip := <-stt.clips:
		if clip.ContentType != "audio/wav" || len(clip.Data) <= 3200 {
			t.Fatalf("clip = %s, %d bytes", clip.ContentType, len(clip.Data))
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("transcriber never received a clip")
	}

	expect(t, outbound, func(m protocol.CaptureRelease) bool { return m.CaptureID == req.CaptureID })
	user := expect(t, outbound, func(m protocol.TranscriptMessage) bool { return m.Seq == 2 })
	if user.Role != string(session.RoleUser) || user.Text != "I can't sleep and I'm so stressed" {
		t.Fatalf("user message = %+v", user)
	}
	reply := expect(t, outbound, func(m protocol.TranscriptMessage) bool { return m.Seq == 3 })
	if reply.Text != "That sounds exhausting." {
		t.Fatalf("reply message = %+v", reply)
	}
	speak = expect[protocol.SpeakRequest](t, outbound, nil)
	if speak.Text != "That sounds exhausting." {
		t.Fatalf("speak text = %q", speak.Text)
	}

	inbound <- control(id, protocol.ActionStopSpeaking)
	expect(t, outbound, phaseIs(session.PhaseIdle))
	expect(t, outbound, func(m protocol.SpeakCancel) bool { return m.UtteranceID == speak.UtteranceID })

	inbound <- control(id, protocol.ActionBreathingToggle)
	if st := expect(t, outbound, func(m protocol.BreathingState) bool { return m.Active }); st.Label != "Breathe In" {
		t.Fatalf("breathing state = %+v", st)
	}

	close(inbound)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunConnection() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("RunConnection() did not return after inbound closed")
	}
}

func TestRunConnectionPermissionDenied(t *testing.T) {
	orch := NewOrchestrator(Config{
		Transcriber: &fakeTranscriber{text: "hi"},
		Generator:   &fakeGenerator{reply: "hello"},
		Metrics:     observability.NewMetrics("serene_test"),
		Connection:  ConnectionConfig{BreathingInterval: time.Hour},
	})
	sess := session.New("u1")
	id := sess.ID()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inbound := make(chan any, 8)
	outbound := make(chan any, 128)
	go func() { _ = orch.RunConnection(ctx, sess, inbound, outbound) }()

	inbound <- control(id, protocol.ActionBeginCapture)
	req := expect[protocol.CaptureRequest](t, outbound, nil)

	denied := false
	ack := control(id, protocol.ActionCaptureAck)
	ack.CaptureID = req.CaptureID
	ack.Granted = &denied
	ack.Reason = capture.AckPermissionDenied
	inbound <- ack

	expect(t, outbound, func(m protocol.PhaseChanged) bool {
		return m.From == string(session.PhaseRecording) && m.Phase == string(session.PhaseIdle)
	})
	status := expect(t, outbound, func(m protocol.StatusEvent) bool { return m.Kind != "" })
	if status.Kind != "permission_denied" {
		t.Fatalf("status = %+v", status)
	}
	if got := sess.Phase(); got != session.PhaseIdle {
		t.Fatalf("phase = %q, want idle", got)
	}
}

func TestRunConnectionReportsInvalidPhaseAndMismatch(t *testing.T) {
	orch := NewOrchestrator(Config{
		Metrics:    observability.NewMetrics("serene_test"),
		Connection: ConnectionConfig{BreathingInterval: time.Hour},
	})
	sess := session.New("u1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inbound := make(chan any, 8)
	outbound := make(chan any, 128)
	go func() { _ = orch.RunConnection(ctx, sess, inbound, outbound) }()

	inbound <- control(sess.ID(), protocol.ActionEndCapture)
	if evt := expect[protocol.ErrorEvent](t, outbound, nil); evt.Code != "invalid_phase" {
		t.Fatalf("error event = %+v", evt)
	}

	inbound <- control("someone-else", protocol.ActionBeginCapture)
	if evt := expect[protocol.ErrorEvent](t, outbound, nil); evt.Code != "session_mismatch" {
		t.Fatalf("error event = %+v", evt)
	}
	if got := sess.Phase(); got != session.PhaseIdle {
		t.Fatalf("phase = %q, want idle", got)
	}
}
