package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ent0n29/serene/internal/breathing"
	"github.com/ent0n29/serene/internal/memory"
	"github.com/ent0n29/serene/internal/reliability"
	"github.com/ent0n29/serene/internal/session"
)

type command int

const (
	cmdUnknown command = iota
	cmdTalk
	cmdStop
	cmdCancel
	cmdBreathe
	cmdReset
	cmdHistory
	cmdHelp
	cmdQuit
)

func parseCommand(line string) command {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "", "t", "talk":
		return cmdTalk
	case "s", "stop":
		return cmdStop
	case "c", "cancel":
		return cmdCancel
	case "b", "breathe":
		return cmdBreathe
	case "r", "reset":
		return cmdReset
	case "h", "history":
		return cmdHistory
	case "?", "help":
		return cmdHelp
	case "q", "quit", "exit":
		return cmdQuit
	default:
		return cmdUnknown
	}
}

// terminal renders conversation events as lines of text.
type terminal struct {
	mu        sync.Mutex
	out       io.Writer
	lastBreath breathing.Phase
}

func (t *terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

func (t *terminal) MessageAppended(msg session.ChatMessage) {
	who := "you"
	if msg.Role == session.RoleAssistant {
		who = "serene"
	}
	t.printf("[%s] %s: %s\n", msg.Timestamp.Local().Format("15:04"), who, msg.Text)
}

func (t *terminal) PhaseChanged(_, to session.Phase) {
	switch to {
	case session.PhaseRecording:
		t.printf("... listening, press Enter to stop\n")
	case session.PhaseTranscribing:
		t.printf("... transcribing\n")
	case session.PhaseGeneratingReply:
		t.printf("... thinking\n")
	}
}

func (t *terminal) StatusChanged(status string, _ reliability.Kind) {
	if status != "" {
		t.printf("! %s\n", status)
	}
}

func (t *terminal) breathing(st breathing.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !st.Active {
		if t.lastBreath != "" {
			fmt.Fprintln(t.out, "~ breathing paused")
		}
		t.lastBreath = ""
		return
	}
	if st.Phase == t.lastBreath {
		return
	}
	t.lastBreath = st.Phase
	fmt.Fprintf(t.out, "~ %s (%ds, cycle %d)\n", st.Label, st.Remaining, st.Cycle)
}

func (t *terminal) history(records []memory.InputRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(records) == 0 {
		fmt.Fprintln(t.out, "no saved input yet")
		return
	}
	for _, r := range records {
		fmt.Fprintf(t.out, "  %s  %s\n", r.Timestamp.Local().Format("2006-01-02 15:04"), r.Text)
	}
}

func (t *terminal) help() {
	t.printf("Enter: talk / send   s: stop speaking   c: cancel   b: breathing   r: reset breathing   h: history   q: quit\n")
}
