// Package voice runs conversation turns: capture, transcription, reply
// generation and speech, with the phase machine that keeps them in order.
package voice

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/ent0n29/serene/internal/capture"
	"github.com/ent0n29/serene/internal/memory"
	"github.com/ent0n29/serene/internal/observability"
	"github.com/ent0n29/serene/internal/policy"
	"github.com/ent0n29/serene/internal/reliability"
	"github.com/ent0n29/serene/internal/reply"
	"github.com/ent0n29/serene/internal/session"
	"github.com/ent0n29/serene/internal/speech"
	"github.com/ent0n29/serene/internal/transcribe"
)

// Greeting opens every conversation.
const Greeting = "Hello, I'm Serene, your AI therapy companion. I'm here to listen and provide a safe space for you to share your thoughts and feelings. How are you doing today?"

const (
	inputSaveTimeout = 2 * time.Second
	logPreviewRunes  = 80
)

// ErrInvalidPhase rejects an operation that is not valid in the current
// phase. The conversation is left unchanged.
var ErrInvalidPhase = errors.New("operation not valid in current phase")

type Config struct {
	Transcriber transcribe.Transcriber
	Generator   reply.Generator
	// ReplyProvider labels generator errors in metrics.
	ReplyProvider string
	Inputs        *memory.InputLog
	Metrics       *observability.Metrics
	Logger        *slog.Logger
	Connection    ConnectionConfig
}

// Orchestrator holds the dependencies shared by every conversation. All
// per-conversation state lives in Conversation and its session.
type Orchestrator struct {
	transcriber   transcribe.Transcriber
	generator     reply.Generator
	replyProvider string
	inputs        *memory.InputLog
	metrics       *observability.Metrics
	log           *slog.Logger
	conn          ConnectionConfig
}

func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewMetrics("serene")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if strings.TrimSpace(cfg.ReplyProvider) == "" {
		cfg.ReplyProvider = "reply"
	}
	return &Orchestrator{
		transcriber:   cfg.Transcriber,
		generator:     cfg.Generator,
		replyProvider: cfg.ReplyProvider,
		inputs:        cfg.Inputs,
		metrics:       cfg.Metrics,
		log:           cfg.Logger,
		conn:          cfg.Connection.withDefaults(),
	}
}

// StartSession greets the user and speaks the greeting. It is only valid on
// a fresh conversation.
func (o *Orchestrator) StartSession(ctx context.Context, c *Conversation) error {
	c.events.Lock()
	msg, err := c.Session.Greet(Greeting, session.PhaseSpeaking)
	if err != nil {
		c.events.Unlock()
		return err
	}
	turn := c.Session.Turn()
	c.Observer.MessageAppended(msg)
	o.phaseChangedLocked(c, session.PhaseIdle, session.PhaseSpeaking)
	c.events.Unlock()

	o.metrics.SessionEvents.WithLabelValues("started").Inc()
	o.speak(ctx, c, turn, msg.Text)
	return nil
}

// BeginCapture starts recording. Acquisition failures are shown as status
// text and return the conversation to idle.
func (o *Orchestrator) BeginCapture(ctx context.Context, c *Conversation) error {
	c.events.Lock()
	if err := c.Session.Transition(session.PhaseIdle, session.PhaseRecording); err != nil {
		c.events.Unlock()
		return ErrInvalidPhase
	}
	o.phaseChangedLocked(c, session.PhaseIdle, session.PhaseRecording)
	turn := c.Session.Turn()
	acquired := c.beginAcquire()
	c.events.Unlock()
	defer close(acquired)

	o.setStatus(c, "", "")

	if err := c.Capture.RequestStart(ctx); err != nil {
		o.metrics.ProviderErrors.WithLabelValues("capture", kindLabel(err)).Inc()
		// A stop may already have moved the turn on to transcribing.
		o.failTurn(c, turn, err, session.PhaseRecording, session.PhaseTranscribing)
		return err
	}
	if c.Session.Turn() != turn {
		// The turn was abandoned while the device was being acquired.
		c.Capture.Abort()
		return reliability.New(reliability.KindCancelled, "")
	}
	return nil
}

// EndCapture stops recording and runs the rest of the turn: transcription,
// then reply generation, then speech. It returns once the reply has started
// playing or the turn has failed.
func (o *Orchestrator) EndCapture(ctx context.Context, c *Conversation) error {
	turn, err := o.enter(c, session.PhaseRecording, session.PhaseTranscribing)
	if err != nil {
		return err
	}
	turnStarted := time.Now()

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.setCancel(turn, cancel)
	defer c.clearCancel(turn)

	if err := c.awaitAcquire(callCtx); err != nil {
		return o.discarded(c, "capture")
	}
	clip, err := c.Capture.RequestStop(callCtx)
	if err != nil {
		if errors.Is(err, capture.ErrNotRecording) {
			err = reliability.Wrap(reliability.KindNothingCaptured, "", err)
		}
		o.failTurn(c, turn, err, session.PhaseTranscribing)
		return err
	}

	text, err := o.transcribe(callCtx, clip)
	if err != nil {
		o.failTurn(c, turn, err, session.PhaseTranscribing)
		return err
	}

	c.events.Lock()
	msg, ok := c.Session.AppendIf(turn, session.PhaseTranscribing, session.RoleUser, text)
	if !ok {
		c.events.Unlock()
		return o.discarded(c, "transcript")
	}
	c.Observer.MessageAppended(msg)
	if err := c.Session.TransitionIf(turn, session.PhaseTranscribing, session.PhaseGeneratingReply); err != nil {
		c.events.Unlock()
		return o.discarded(c, "transcript")
	}
	o.phaseChangedLocked(c, session.PhaseTranscribing, session.PhaseGeneratingReply)
	c.events.Unlock()

	o.saveInputBestEffort(c.Session.ID(), text)
	return o.respond(callCtx, c, turn, msg, turnStarted)
}

func (o *Orchestrator) transcribe(ctx context.Context, clip capture.Clip) (string, error) {
	if o.transcriber == nil {
		return "", reliability.New(reliability.KindUnconfigured, "")
	}
	started := time.Now()
	text, err := o.transcriber.Transcribe(ctx, clip)
	o.metrics.ObserveStage(observability.StageTranscription, time.Since(started))
	if err != nil {
		o.metrics.ProviderErrors.WithLabelValues("transcription", kindLabel(err)).Inc()
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", reliability.New(reliability.KindNoSpeechDetected, "")
	}
	return text, nil
}

// respond is the reply step. The generator sees the transcript that
// preceded the utterance plus the utterance itself.
func (o *Orchestrator) respond(ctx context.Context, c *Conversation, turn uint64, utterance session.ChatMessage, turnStarted time.Time) error {
	transcript := c.Session.Transcript()
	history := transcript[:min(max(utterance.Seq-1, 0), len(transcript))]

	var (
		text string
		err  error
	)
	started := time.Now()
	if o.generator == nil {
		err = reliability.New(reliability.KindUnconfigured, "")
	} else {
		text, err = o.generator.Reply(ctx, history, utterance.Text)
	}
	o.metrics.ObserveStage(observability.StageReply, time.Since(started))

	if err != nil {
		o.metrics.ProviderErrors.WithLabelValues(o.replyProvider, kindLabel(err)).Inc()
		c.events.Lock()
		defer c.events.Unlock()
		msg, ok := c.Session.AppendIf(turn, session.PhaseGeneratingReply, session.RoleAssistant, reliability.Message(err))
		if !ok {
			return o.discarded(c, "reply")
		}
		c.Observer.MessageAppended(msg)
		if c.Session.TransitionIf(turn, session.PhaseGeneratingReply, session.PhaseIdle) == nil {
			o.phaseChangedLocked(c, session.PhaseGeneratingReply, session.PhaseIdle)
		}
		c.Session.SetLastError(msg.Text)
		o.metrics.TurnOutcomes.WithLabelValues("reply_failed").Inc()
		o.log.Warn("reply generation failed", "session_id", c.Session.ID(), "kind", reliability.KindOf(err), "err", err)
		return err
	}

	c.events.Lock()
	msg, ok := c.Session.AppendIf(turn, session.PhaseGeneratingReply, session.RoleAssistant, text)
	if !ok {
		c.events.Unlock()
		return o.discarded(c, "reply")
	}
	c.Observer.MessageAppended(msg)
	if err := c.Session.TransitionIf(turn, session.PhaseGeneratingReply, session.PhaseSpeaking); err != nil {
		c.events.Unlock()
		return o.discarded(c, "reply")
	}
	o.phaseChangedLocked(c, session.PhaseGeneratingReply, session.PhaseSpeaking)
	c.events.Unlock()

	o.metrics.ObserveStage(observability.StageTurnTotal, time.Since(turnStarted))
	o.metrics.TurnOutcomes.WithLabelValues("replied").Inc()
	o.speak(ctx, c, turn, text)
	return nil
}

// speak starts playback of text for turn. Playback outlives the request
// that produced it, so the caller's cancellation is detached.
func (o *Orchestrator) speak(ctx context.Context, c *Conversation, turn uint64, text string) {
	p, err := c.Speaker.Speak(context.WithoutCancel(ctx), text)
	if err != nil {
		o.log.Warn("speech failed to start", "session_id", c.Session.ID(), "err", err)
		o.speechFinished(c, turn)
		return
	}
	c.setPlayback(p)
	started := time.Now()
	speech.OnDone(p, func(outcome speech.Outcome, err error) {
		o.metrics.ObserveStage(observability.StageSpeech, time.Since(started))
		if err != nil {
			// A failed utterance still ends the speaking phase.
			o.log.Warn("speech playback failed", "session_id", c.Session.ID(), "err", err)
		}
		if c.takePlayback(p) {
			o.speechFinished(c, turn)
		}
	})
}

func (o *Orchestrator) speechFinished(c *Conversation, turn uint64) {
	c.events.Lock()
	defer c.events.Unlock()
	if c.Session.TransitionIf(turn, session.PhaseSpeaking, session.PhaseIdle) == nil {
		o.phaseChangedLocked(c, session.PhaseSpeaking, session.PhaseIdle)
	}
}

// OnSpeechDone returns the conversation to idle regardless of its phase.
// Anything still running for the current turn is abandoned.
func (o *Orchestrator) OnSpeechDone(c *Conversation) {
	c.events.Lock()
	prev, _ := c.Session.AbandonTurn()
	c.dropPlayback()
	o.phaseChangedLocked(c, prev, session.PhaseIdle)
	c.events.Unlock()
	o.releaseAbandoned(c, prev)
}

// StopSpeaking halts playback. Only valid while speaking.
func (o *Orchestrator) StopSpeaking(c *Conversation) error {
	c.events.Lock()
	prev, err := c.Session.AbandonTurn(session.PhaseSpeaking)
	if err != nil {
		c.events.Unlock()
		return ErrInvalidPhase
	}
	c.dropPlayback()
	o.phaseChangedLocked(c, prev, session.PhaseIdle)
	c.events.Unlock()

	c.Speaker.Stop()
	o.metrics.ObserveIndicator("speech_stopped")
	return nil
}

// CancelTurn abandons a turn that is recording, transcribing or waiting for
// a reply. Results that arrive afterwards are discarded.
func (o *Orchestrator) CancelTurn(c *Conversation) error {
	c.events.Lock()
	prev, err := c.Session.AbandonTurn(session.PhaseRecording, session.PhaseTranscribing, session.PhaseGeneratingReply)
	if err != nil {
		c.events.Unlock()
		return ErrInvalidPhase
	}
	o.phaseChangedLocked(c, prev, session.PhaseIdle)
	c.events.Unlock()

	o.releaseAbandoned(c, prev)
	o.setStatus(c, reliability.DefaultMessage(reliability.KindCancelled), reliability.KindCancelled)
	o.metrics.TurnOutcomes.WithLabelValues(string(reliability.KindCancelled)).Inc()
	o.metrics.ObserveIndicator("turn_cancelled")
	return nil
}

// Close abandons whatever the conversation is doing. Used when its
// transport goes away.
func (o *Orchestrator) Close(c *Conversation) {
	c.events.Lock()
	prev, _ := c.Session.AbandonTurn()
	c.dropPlayback()
	o.phaseChangedLocked(c, prev, session.PhaseIdle)
	c.events.Unlock()
	o.releaseAbandoned(c, prev)
	c.Speaker.Stop()
}

func (o *Orchestrator) releaseAbandoned(c *Conversation, prev session.Phase) {
	switch prev {
	case session.PhaseRecording:
		c.Capture.Abort()
	case session.PhaseTranscribing, session.PhaseGeneratingReply:
		c.cancelInFlight()
	case session.PhaseSpeaking:
		c.Speaker.Stop()
	}
}

// enter performs the compare-and-swap that opens a step and returns the
// turn it belongs to.
func (o *Orchestrator) enter(c *Conversation, from, to session.Phase) (uint64, error) {
	c.events.Lock()
	defer c.events.Unlock()
	if err := c.Session.Transition(from, to); err != nil {
		return 0, ErrInvalidPhase
	}
	o.phaseChangedLocked(c, from, to)
	return c.Session.Turn(), nil
}

// failTurn ends turn with err shown as status text. It does nothing if the
// turn has already moved on or is in none of the from phases.
func (o *Orchestrator) failTurn(c *Conversation, turn uint64, err error, from ...session.Phase) {
	c.events.Lock()
	cur := c.Session.Phase()
	if !slices.Contains(from, cur) || c.Session.TransitionIf(turn, cur, session.PhaseIdle) != nil {
		c.events.Unlock()
		return
	}
	o.phaseChangedLocked(c, cur, session.PhaseIdle)
	msg := reliability.Message(err)
	c.Session.SetLastError(msg)
	c.Observer.StatusChanged(msg, reliability.KindOf(err))
	c.events.Unlock()

	o.metrics.TurnOutcomes.WithLabelValues(kindLabel(err)).Inc()
	o.log.Info("turn ended without reply", "session_id", c.Session.ID(), "phase", cur, "kind", kindLabel(err), "err", err)
}

func (o *Orchestrator) discarded(c *Conversation, what string) error {
	o.metrics.SessionEvents.WithLabelValues("late_" + what + "_discarded").Inc()
	o.log.Debug("discarded result of abandoned turn", "session_id", c.Session.ID(), "result", what)
	return reliability.New(reliability.KindCancelled, "")
}

func (o *Orchestrator) setStatus(c *Conversation, status string, kind reliability.Kind) {
	c.events.Lock()
	defer c.events.Unlock()
	c.Session.SetLastError(status)
	c.Observer.StatusChanged(status, kind)
}

func (o *Orchestrator) phaseChangedLocked(c *Conversation, from, to session.Phase) {
	if from == to {
		return
	}
	o.metrics.PhaseTransitions.WithLabelValues(string(from), string(to)).Inc()
	c.Observer.PhaseChanged(from, to)
}

// saveInputBestEffort persists a transcribed utterance. Failures are logged
// and never affect the turn.
func (o *Orchestrator) saveInputBestEffort(sessionID, text string) {
	if o.inputs == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), inputSaveTimeout)
		defer cancel()
		if _, err := o.inputs.Save(ctx, text); err != nil {
			o.metrics.SessionEvents.WithLabelValues("input_save_failed").Inc()
			o.log.Warn("failed to save input", "session_id", sessionID, "text", policy.Preview(text, logPreviewRunes), "err", err)
			return
		}
		o.log.Debug("saved input", "session_id", sessionID, "text", policy.Preview(text, logPreviewRunes))
	}()
}

func kindLabel(err error) string {
	if kind := reliability.KindOf(err); kind != "" {
		return string(kind)
	}
	return "unknown"
}
