// Package breathing runs the paced breathing exercise: breathe in for four
// seconds, hold for four, breathe out for six.
package breathing

import (
	"context"
	"sync"
	"time"
)

type Phase string

const (
	PhaseInhale Phase = "inhale"
	PhaseHold   Phase = "hold"
	PhaseExhale Phase = "exhale"
)

// Seconds is the length of each phase.
func (p Phase) Seconds() int {
	switch p {
	case PhaseHold:
		return 4
	case PhaseExhale:
		return 6
	default:
		return 4
	}
}

func (p Phase) Label() string {
	switch p {
	case PhaseHold:
		return "Hold"
	case PhaseExhale:
		return "Breathe Out"
	default:
		return "Breathe In"
	}
}

func (p Phase) next() Phase {
	switch p {
	case PhaseInhale:
		return PhaseHold
	case PhaseHold:
		return PhaseExhale
	default:
		return PhaseInhale
	}
}

type State struct {
	Phase     Phase  `json:"phase"`
	Label     string `json:"label"`
	Remaining int    `json:"remaining"`
	Cycle     int    `json:"cycle"`
	Active    bool   `json:"active"`
}

// Exercise is the breathing state machine. Tick advances it by one second.
type Exercise struct {
	mu        sync.Mutex
	phase     Phase
	remaining int
	cycle     int
	active    bool
}

func New() *Exercise {
	return &Exercise{phase: PhaseInhale, remaining: PhaseInhale.Seconds()}
}

// Toggle starts or pauses the exercise and returns the new state.
func (e *Exercise) Toggle() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = !e.active
	return e.snapshotLocked()
}

func (e *Exercise) Reset() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.phase = PhaseInhale
	e.remaining = PhaseInhale.Seconds()
	e.cycle = 0
	e.active = false
	return e.snapshotLocked()
}

// Tick advances one second while active. A cycle completes when exhale
// ends.
func (e *Exercise) Tick() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		return e.snapshotLocked()
	}
	if e.remaining > 1 {
		e.remaining--
		return e.snapshotLocked()
	}
	if e.phase == PhaseExhale {
		e.cycle++
	}
	e.phase = e.phase.next()
	e.remaining = e.phase.Seconds()
	return e.snapshotLocked()
}

func (e *Exercise) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Exercise) snapshotLocked() State {
	return State{
		Phase:     e.phase,
		Label:     e.phase.Label(),
		Remaining: e.remaining,
		Cycle:     e.cycle,
		Active:    e.active,
	}
}

// Run ticks every interval until ctx is done, reporting each state change
// while the exercise is active.
func (e *Exercise) Run(ctx context.Context, interval time.Duration, onTick func(State)) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := e.Tick()
			if st.Active && onTick != nil {
				onTick(st)
			}
		}
	}
}
