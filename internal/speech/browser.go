package speech

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// BrowserSignaler forwards speech requests to a client that owns the
// platform speech engine.
type BrowserSignaler interface {
	SpeakRequest(utteranceID, text string, profile Profile) error
	SpeakCancel(utteranceID string) error
}

// BrowserSpeaker delegates playback to the remote client and completes when
// the client reports the utterance finished.
type BrowserSpeaker struct {
	signal  BrowserSignaler
	profile Profile

	mu      sync.Mutex
	current *Playback
}

func NewBrowserSpeaker(signal BrowserSignaler, profile Profile) *BrowserSpeaker {
	return &BrowserSpeaker{signal: signal, profile: profile}
}

func (s *BrowserSpeaker) Speak(ctx context.Context, text string) (*Playback, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.Stop()

	p := NewPlayback(Sanitize(text))
	if p.Text() == "" {
		p.Finish(OutcomeCompleted, nil)
		return p, nil
	}

	s.mu.Lock()
	s.current = p
	s.mu.Unlock()

	if err := s.signal.SpeakRequest(p.ID(), p.Text(), s.profile); err != nil {
		s.clear(p)
		p.Finish(OutcomeFailed, err)
		return nil, fmt.Errorf("send speak request: %w", err)
	}
	return p, nil
}

// Complete resolves the utterance the client finished. Reports for an
// utterance that is no longer current are ignored.
func (s *BrowserSpeaker) Complete(utteranceID string, failed bool, detail string) bool {
	s.mu.Lock()
	p := s.current
	if p == nil || p.ID() != utteranceID {
		s.mu.Unlock()
		return false
	}
	s.current = nil
	s.mu.Unlock()

	if failed {
		if detail == "" {
			detail = "speech synthesis failed"
		}
		return p.Finish(OutcomeFailed, errors.New(detail))
	}
	return p.Finish(OutcomeCompleted, nil)
}

func (s *BrowserSpeaker) Stop() {
	s.mu.Lock()
	p := s.current
	s.current = nil
	s.mu.Unlock()
	if p == nil {
		return
	}
	if p.Finish(OutcomeCancelled, nil) {
		_ = s.signal.SpeakCancel(p.ID())
	}
}

func (s *BrowserSpeaker) clear(p *Playback) {
	s.mu.Lock()
	if s.current == p {
		s.current = nil
	}
	s.mu.Unlock()
}
