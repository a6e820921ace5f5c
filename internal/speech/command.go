package speech

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

const (
	EngineEspeak = "espeak"
	EngineSay    = "say"

	// neutralWPM is the default speaking rate of both engines.
	neutralWPM = 175
)

// CommandSpeaker speaks through a host text-to-speech program.
type CommandSpeaker struct {
	build func(text string) *exec.Cmd

	mu      sync.Mutex
	current *running
}

type running struct {
	cmd       *exec.Cmd
	playback  *Playback
	cancelled bool
}

// NewCommandSpeaker builds a speaker for espeak-ng or macOS say. When the
// profile names no voice, the catalog is searched with the profile hints.
func NewCommandSpeaker(ctx context.Context, engine string, profile Profile) (*CommandSpeaker, error) {
	engine = strings.ToLower(strings.TrimSpace(engine))
	switch engine {
	case EngineEspeak:
		bin, err := lookPath("espeak-ng", "espeak")
		if err != nil {
			return nil, err
		}
		if profile.Voice == "" {
			if voices, err := listVoices(ctx, bin, "--voices"); err == nil {
				profile.Voice = PickVoice(parseEspeakVoices(voices), profile.VoiceHints)
			}
		}
		args := EspeakArgs(profile)
		return newCommandSpeaker(func(text string) *exec.Cmd {
			cmd := exec.Command(bin, args...)
			cmd.Stdin = strings.NewReader(text)
			return cmd
		}), nil
	case EngineSay:
		bin, err := lookPath("say")
		if err != nil {
			return nil, err
		}
		if profile.Voice == "" {
			if voices, err := listVoices(ctx, bin, "-v", "?"); err == nil {
				profile.Voice = PickVoice(parseSayVoices(voices), profile.VoiceHints)
			}
		}
		args := SayArgs(profile)
		return newCommandSpeaker(func(text string) *exec.Cmd {
			cmd := exec.Command(bin, args...)
			cmd.Stdin = strings.NewReader(text)
			return cmd
		}), nil
	default:
		return nil, fmt.Errorf("unsupported speech engine %q", engine)
	}
}

func newCommandSpeaker(build func(text string) *exec.Cmd) *CommandSpeaker {
	return &CommandSpeaker{build: build}
}

func (s *CommandSpeaker) Speak(ctx context.Context, text string) (*Playback, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.Stop()

	p := NewPlayback(Sanitize(text))
	if p.Text() == "" {
		p.Finish(OutcomeCompleted, nil)
		return p, nil
	}

	cmd := s.build(p.Text())
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		p.Finish(OutcomeFailed, err)
		return nil, fmt.Errorf("start %s: %w", cmd.Path, err)
	}

	r := &running{cmd: cmd, playback: p}
	s.mu.Lock()
	s.current = r
	s.mu.Unlock()

	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		cancelled := r.cancelled
		if s.current == r {
			s.current = nil
		}
		s.mu.Unlock()

		switch {
		case cancelled:
			p.Finish(OutcomeCancelled, nil)
		case err != nil:
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				err = fmt.Errorf("%w: %s", err, msg)
			}
			p.Finish(OutcomeFailed, err)
		default:
			p.Finish(OutcomeCompleted, nil)
		}
	}()
	return p, nil
}

func (s *CommandSpeaker) Stop() {
	s.mu.Lock()
	r := s.current
	s.current = nil
	if r != nil {
		r.cancelled = true
	}
	s.mu.Unlock()
	if r != nil && r.cmd.Process != nil {
		_ = r.cmd.Process.Kill()
	}
}

// EspeakArgs maps a profile onto espeak-ng flags. Text is read from stdin.
func EspeakArgs(p Profile) []string {
	args := []string{
		"-s", strconv.Itoa(scale(neutralWPM, p.Rate)),
		"-a", strconv.Itoa(scale(100, p.Volume)),
		"-p", strconv.Itoa(min(99, scale(50, p.Pitch))),
	}
	if p.Voice != "" {
		args = append(args, "-v", p.Voice)
	}
	return append(args, "--stdin")
}

// SayArgs maps a profile onto macOS say flags. say has no volume or pitch
// flags. Text is read from stdin.
func SayArgs(p Profile) []string {
	args := []string{"-r", strconv.Itoa(scale(neutralWPM, p.Rate))}
	if p.Voice != "" {
		args = append(args, "-v", p.Voice)
	}
	return append(args, "-f", "-")
}

func scale(neutral int, factor float64) int {
	if factor <= 0 {
		factor = 1
	}
	return int(math.Round(float64(neutral) * factor))
}

func lookPath(names ...string) (string, error) {
	for _, name := range names {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("speech engine not found: %s", strings.Join(names, ", "))
}

func listVoices(ctx context.Context, bin string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, bin, args...).Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

var sayVoiceLine = regexp.MustCompile(`^(.+?)\s{2,}\S+\s+#`)

// parseSayVoices reads `say -v ?` output.
func parseSayVoices(out string) []string {
	var names []string
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		if m := sayVoiceLine.FindStringSubmatch(sc.Text()); m != nil {
			names = append(names, strings.TrimSpace(m[1]))
		}
	}
	return names
}

// parseEspeakVoices reads `espeak-ng --voices` output. The voice name is the
// fourth column.
func parseEspeakVoices(out string) []string {
	var names []string
	sc := bufio.NewScanner(strings.NewReader(out))
	header := true
	for sc.Scan() {
		if header {
			header = false
			continue
		}
		fields := strings.Fields(sc.Text())
		if len(fields) >= 4 {
			names = append(names, fields[3])
		}
	}
	return names
}

var errNoEngine = errors.New("no speech engine configured")

// New selects a speaker for a host engine name. "none" speaks nothing.
func New(ctx context.Context, engine string, profile Profile) (Speaker, error) {
	switch strings.ToLower(strings.TrimSpace(engine)) {
	case "", "none":
		return Silent{}, nil
	case EngineEspeak, EngineSay:
		return NewCommandSpeaker(ctx, engine, profile)
	default:
		return nil, fmt.Errorf("%w: %q", errNoEngine, engine)
	}
}
