package voice

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ent0n29/serene/internal/audio"
	"github.com/ent0n29/serene/internal/breathing"
	"github.com/ent0n29/serene/internal/capture"
	"github.com/ent0n29/serene/internal/protocol"
	"github.com/ent0n29/serene/internal/reliability"
	"github.com/ent0n29/serene/internal/session"
	"github.com/ent0n29/serene/internal/speech"
)

// ConnectionConfig configures conversations driven over a websocket.
type ConnectionConfig struct {
	Capture           capture.StreamConfig
	Profile           speech.Profile
	BreathingInterval time.Duration
	// CriticalSendTimeout bounds how long a state event may wait for the
	// writer. Breathing ticks are dropped instead of waiting.
	CriticalSendTimeout time.Duration
}

func (c ConnectionConfig) withDefaults() ConnectionConfig {
	if c.BreathingInterval <= 0 {
		c.BreathingInterval = time.Second
	}
	if c.CriticalSendTimeout <= 0 {
		c.CriticalSendTimeout = 600 * time.Millisecond
	}
	if c.Profile.Rate == 0 {
		c.Profile = speech.CalmProfile()
	}
	return c
}

// RunConnection drives one conversation for a websocket connection until
// ctx is done or inbound is closed. The client owns the microphone and the
// speech engine; capture and speech are relayed through outbound.
func (o *Orchestrator) RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	link := &clientLink{
		o:         o,
		ctx:       ctx,
		sessionID: s.ID(),
		outbound:  outbound,
	}
	device := capture.NewStreamDevice(link, o.conn.Capture)
	speaker := speech.NewBrowserSpeaker(link, o.conn.Profile)
	conv := NewConversation(s, capture.NewController(device), speaker, link)
	exercise := breathing.New()

	var wg sync.WaitGroup
	defer func() {
		cancel()
		o.Close(conv)
		wg.Wait()
	}()

	// Replay state so a reconnecting client can render the conversation.
	snap := s.Snapshot()
	for _, msg := range snap.Transcript {
		link.MessageAppended(msg)
	}
	link.send(protocol.PhaseChanged{
		Type:      protocol.TypePhaseChanged,
		SessionID: link.sessionID,
		From:      string(snap.Phase),
		Phase:     string(snap.Phase),
	}, true)
	link.breathing(exercise.Snapshot())

	wg.Add(1)
	go func() {
		defer wg.Done()
		exercise.Run(ctx, o.conn.BreathingInterval, link.breathing)
	}()

	run := func(action string, op func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := op(ctx); err != nil {
				link.operationFailed(action, err)
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-inbound:
			if !ok {
				return nil
			}
			switch msg := raw.(type) {
			case protocol.ClientAudioChunk:
				if msg.SessionID != link.sessionID {
					link.mismatch(msg.SessionID)
					continue
				}
				pcm, err := audio.DecodePCM16Base64(msg.PCM16Base64)
				if err != nil {
					link.errorEvent("invalid_audio_chunk", "capture", err.Error(), false)
					continue
				}
				if err := device.Push(msg.CaptureID, pcm); err != nil {
					o.log.Debug("audio chunk dropped", "session_id", link.sessionID, "err", err)
				}
			case protocol.ClientControl:
				if msg.SessionID != link.sessionID {
					link.mismatch(msg.SessionID)
					continue
				}
				switch msg.Action {
				case protocol.ActionStartSession:
					run(msg.Action, func(ctx context.Context) error { return o.StartSession(ctx, conv) })
				case protocol.ActionBeginCapture:
					run(msg.Action, func(ctx context.Context) error { return o.BeginCapture(ctx, conv) })
				case protocol.ActionEndCapture:
					run(msg.Action, func(ctx context.Context) error { return o.EndCapture(ctx, conv) })
				case protocol.ActionStopSpeaking:
					run(msg.Action, func(context.Context) error { return o.StopSpeaking(conv) })
				case protocol.ActionCancelTurn:
					run(msg.Action, func(context.Context) error { return o.CancelTurn(conv) })
				case protocol.ActionCaptureAck:
					granted := msg.Granted != nil && *msg.Granted
					if !device.Ack(msg.CaptureID, granted, msg.Reason) {
						o.log.Debug("stale capture ack", "session_id", link.sessionID, "capture_id", msg.CaptureID)
					}
				case protocol.ActionSpeechDone:
					speaker.Complete(msg.UtteranceID, false, "")
				case protocol.ActionSpeechError:
					speaker.Complete(msg.UtteranceID, true, msg.Detail)
				case protocol.ActionBreathingToggle:
					link.breathing(exercise.Toggle())
				case protocol.ActionBreathingReset:
					link.breathing(exercise.Reset())
				}
			}
		}
	}
}

// clientLink is the server side of one websocket client. It relays capture
// and speech requests to the client and reports conversation events.
type clientLink struct {
	o         *Orchestrator
	ctx       context.Context
	sessionID string
	outbound  chan<- any
}

func (l *clientLink) RequestCapture(captureID string, sampleRate int) error {
	return l.sendErr(protocol.CaptureRequest{
		Type:       protocol.TypeCaptureRequest,
		SessionID:  l.sessionID,
		CaptureID:  captureID,
		SampleRate: sampleRate,
	})
}

func (l *clientLink) ReleaseCapture(captureID string) error {
	return l.sendErr(protocol.CaptureRelease{
		Type:      protocol.TypeCaptureRelease,
		SessionID: l.sessionID,
		CaptureID: captureID,
	})
}

func (l *clientLink) SpeakRequest(utteranceID, text string, p speech.Profile) error {
	return l.sendErr(protocol.SpeakRequest{
		Type:        protocol.TypeSpeakRequest,
		SessionID:   l.sessionID,
		UtteranceID: utteranceID,
		Text:        text,
		Rate:        p.Rate,
		Pitch:       p.Pitch,
		Volume:      p.Volume,
		Voice:       p.Voice,
		VoiceHints:  p.VoiceHints,
	})
}

func (l *clientLink) SpeakCancel(utteranceID string) error {
	return l.sendErr(protocol.SpeakCancel{
		Type:        protocol.TypeSpeakCancel,
		SessionID:   l.sessionID,
		UtteranceID: utteranceID,
	})
}

func (l *clientLink) MessageAppended(msg session.ChatMessage) {
	l.send(protocol.TranscriptMessage{
		Type:      protocol.TypeTranscriptMessage,
		SessionID: l.sessionID,
		MessageID: msg.ID,
		Seq:       msg.Seq,
		Role:      string(msg.Role),
		Text:      msg.Text,
		TSMs:      msg.Timestamp.UnixMilli(),
	}, true)
}

func (l *clientLink) PhaseChanged(from, to session.Phase) {
	l.send(protocol.PhaseChanged{
		Type:      protocol.TypePhaseChanged,
		SessionID: l.sessionID,
		From:      string(from),
		Phase:     string(to),
	}, true)
}

func (l *clientLink) StatusChanged(status string, kind reliability.Kind) {
	l.send(protocol.StatusEvent{
		Type:      protocol.TypeStatusEvent,
		SessionID: l.sessionID,
		Status:    status,
		Kind:      string(kind),
		Retryable: kind.Retryable(),
	}, true)
}

func (l *clientLink) breathing(st breathing.State) {
	l.send(protocol.BreathingState{
		Type:      protocol.TypeBreathingState,
		SessionID: l.sessionID,
		Phase:     string(st.Phase),
		Label:     st.Label,
		Remaining: st.Remaining,
		Cycle:     st.Cycle,
		Active:    st.Active,
	}, false)
}

func (l *clientLink) operationFailed(action string, err error) {
	switch {
	case errors.Is(err, ErrInvalidPhase), errors.Is(err, session.ErrAlreadyStarted):
		l.errorEvent("invalid_phase", "orchestrator", action+": "+err.Error(), false)
	case reliability.KindOf(err) != "":
		// Already surfaced through the transcript or status line.
	default:
		l.errorEvent("operation_failed", "orchestrator", action+": "+err.Error(), reliability.Retryable(err))
	}
}

func (l *clientLink) mismatch(got string) {
	l.errorEvent("session_mismatch", "gateway", "message for session "+got, false)
}

func (l *clientLink) errorEvent(code, source, detail string, retryable bool) {
	l.send(protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: l.sessionID,
		Code:      code,
		Source:    source,
		Retryable: retryable,
		Detail:    detail,
	}, true)
}

var errOutboundTimeout = errors.New("outbound queue full")

func (l *clientLink) sendErr(msg any) error {
	if !l.send(msg, true) {
		if err := l.ctx.Err(); err != nil {
			return err
		}
		return errOutboundTimeout
	}
	return nil
}

// send queues msg for the writer. Critical messages wait up to the
// configured timeout; others are dropped when the queue is full.
func (l *clientLink) send(msg any, critical bool) bool {
	metrics := l.o.metrics
	msgType := outboundType(msg)
	if !critical {
		select {
		case l.outbound <- msg:
			metrics.WSMessages.WithLabelValues("outbound_queued", msgType).Inc()
			return true
		default:
			metrics.SessionEvents.WithLabelValues("outbound_drop").Inc()
			return false
		}
	}

	timer := time.NewTimer(l.o.conn.CriticalSendTimeout)
	defer timer.Stop()
	select {
	case l.outbound <- msg:
		metrics.WSMessages.WithLabelValues("outbound_queued", msgType).Inc()
		return true
	case <-l.ctx.Done():
		return false
	case <-timer.C:
		metrics.SessionEvents.WithLabelValues("outbound_timeout_critical").Inc()
		return false
	}
}

func outboundType(msg any) string {
	switch m := msg.(type) {
	case protocol.TranscriptMessage:
		return string(m.Type)
	case protocol.PhaseChanged:
		return string(m.Type)
	case protocol.StatusEvent:
		return string(m.Type)
	case protocol.SpeakRequest:
		return string(m.Type)
	case protocol.SpeakCancel:
		return string(m.Type)
	case protocol.CaptureRequest:
		return string(m.Type)
	case protocol.CaptureRelease:
		return string(m.Type)
	case protocol.BreathingState:
		return string(m.Type)
	case protocol.ErrorEvent:
		return string(m.Type)
	default:
		return "unknown"
	}
}
