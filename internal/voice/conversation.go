package voice

import (
	"context"
	"sync"

	"github.com/ent0n29/serene/internal/capture"
	"github.com/ent0n29/serene/internal/reliability"
	"github.com/ent0n29/serene/internal/session"
	"github.com/ent0n29/serene/internal/speech"
)

// Observer receives the user-visible effects of a turn. Callbacks run while
// the conversation's event lock is held, so they must not call back into
// the orchestrator.
type Observer interface {
	MessageAppended(msg session.ChatMessage)
	PhaseChanged(from, to session.Phase)
	StatusChanged(status string, kind reliability.Kind)
}

type nopObserver struct{}

func (nopObserver) MessageAppended(session.ChatMessage)       {}
func (nopObserver) PhaseChanged(session.Phase, session.Phase) {}
func (nopObserver) StatusChanged(string, reliability.Kind)    {}

// Conversation binds a session to the capture device, speaker and observer
// that serve it.
type Conversation struct {
	Session  *session.Session
	Capture  *capture.Controller
	Speaker  speech.Speaker
	Observer Observer

	// events serializes state changes with their notifications so observers
	// see them in the order they happened.
	events sync.Mutex

	mu         sync.Mutex
	cancelTurn uint64
	cancel     context.CancelFunc
	playback   *speech.Playback
	acquiring  chan struct{}
}

func NewConversation(s *session.Session, c *capture.Controller, sp speech.Speaker, obs Observer) *Conversation {
	if obs == nil {
		obs = nopObserver{}
	}
	if sp == nil {
		sp = speech.Silent{}
	}
	if c == nil {
		c = capture.NewController(nil)
	}
	return &Conversation{Session: s, Capture: c, Speaker: sp, Observer: obs}
}

func (c *Conversation) setCancel(turn uint64, cancel context.CancelFunc) {
	c.mu.Lock()
	c.cancelTurn = turn
	c.cancel = cancel
	c.mu.Unlock()
}

func (c *Conversation) clearCancel(turn uint64) {
	c.mu.Lock()
	if c.cancelTurn == turn {
		c.cancel = nil
	}
	c.mu.Unlock()
}

// cancelInFlight aborts the network call of the current turn, if any.
func (c *Conversation) cancelInFlight() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// beginAcquire marks a capture acquisition in progress. The returned
// channel must be closed when acquisition ends.
func (c *Conversation) beginAcquire() chan struct{} {
	ch := make(chan struct{})
	c.mu.Lock()
	c.acquiring = ch
	c.mu.Unlock()
	return ch
}

// awaitAcquire waits for an acquisition started by BeginCapture, so a quick
// stop does not overtake the device grant.
func (c *Conversation) awaitAcquire(ctx context.Context) error {
	c.mu.Lock()
	ch := c.acquiring
	c.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conversation) setPlayback(p *speech.Playback) {
	c.mu.Lock()
	c.playback = p
	c.mu.Unlock()
}

// takePlayback clears p if it is still the current playback.
func (c *Conversation) takePlayback(p *speech.Playback) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.playback != p {
		return false
	}
	c.playback = nil
	return true
}

func (c *Conversation) dropPlayback() {
	c.mu.Lock()
	c.playback = nil
	c.mu.Unlock()
}
