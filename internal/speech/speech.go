// Package speech speaks replies aloud with a calm delivery profile.
package speech

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Speaker plays text aloud. Speak cancels any utterance already in flight.
type Speaker interface {
	Speak(ctx context.Context, text string) (*Playback, error)
	Stop()
}

type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeCompleted
	OutcomeFailed
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "pending"
	}
}

// Playback is the completion signal of one utterance. Done closes exactly
// once; cancellation is reported as its own outcome.
type Playback struct {
	id   string
	text string
	done chan struct{}

	once    sync.Once
	mu      sync.Mutex
	outcome Outcome
	err     error
}

func NewPlayback(text string) *Playback {
	return &Playback{
		id:   uuid.NewString(),
		text: text,
		done: make(chan struct{}),
	}
}

func (p *Playback) ID() string            { return p.id }
func (p *Playback) Text() string          { return p.text }
func (p *Playback) Done() <-chan struct{} { return p.done }

func (p *Playback) Outcome() Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outcome
}

func (p *Playback) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Finish records the outcome. Only the first call has an effect.
func (p *Playback) Finish(outcome Outcome, err error) bool {
	finished := false
	p.once.Do(func() {
		p.mu.Lock()
		p.outcome = outcome
		p.err = err
		p.mu.Unlock()
		close(p.done)
		finished = true
	})
	return finished
}

// Wait blocks until the playback ends or ctx is done.
func (p *Playback) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-ctx.Done():
		return OutcomePending, ctx.Err()
	case <-p.done:
		return p.Outcome(), p.Err()
	}
}

// OnDone calls fn once when p completes or fails. It is never called for a
// cancelled playback.
func OnDone(p *Playback, fn func(Outcome, error)) {
	go func() {
		<-p.Done()
		if o := p.Outcome(); o != OutcomeCancelled {
			fn(o, p.Err())
		}
	}()
}

// Profile is the delivery configuration applied to every utterance.
// Rate, Pitch and Volume are relative to the engine's neutral setting.
type Profile struct {
	Rate       float64  `json:"rate"`
	Pitch      float64  `json:"pitch"`
	Volume     float64  `json:"volume"`
	Voice      string   `json:"voice,omitempty"`
	VoiceHints []string `json:"voice_hints,omitempty"`
}

// CalmProfile is the slow, soft default delivery.
func CalmProfile() Profile {
	return Profile{
		Rate:       0.8,
		Pitch:      1.0,
		Volume:     0.8,
		VoiceHints: []string{"female", "woman", "samantha", "alex"},
	}
}

// PickVoice returns the first catalog voice whose name contains one of the
// hints, or "" when none matches.
func PickVoice(catalog []string, hints []string) string {
	for _, name := range catalog {
		lower := strings.ToLower(name)
		for _, h := range hints {
			h = strings.ToLower(strings.TrimSpace(h))
			if h != "" && strings.Contains(lower, h) {
				return name
			}
		}
	}
	return ""
}

// Silent completes every utterance immediately without producing sound.
type Silent struct{}

func (Silent) Speak(_ context.Context, text string) (*Playback, error) {
	p := NewPlayback(text)
	p.Finish(OutcomeCompleted, nil)
	return p, nil
}

func (Silent) Stop() {}
