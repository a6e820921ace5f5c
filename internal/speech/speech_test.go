package speech

import (
	"context"
	"os/exec"
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestSanitize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "drops emoji and markdown markers",
			in:   "Sure 😊 **let's** do this / now.",
			want: "Sure let's do this now.",
		},
		{
			name: "keeps markdown link label and removes url",
			in:   "Read [the guide](https://example.com/guide) first.",
			want: "Read the guide first.",
		},
		{
			name: "removes code blocks",
			in:   "```\nbreathe()\n```\nJust breathe.",
			want: "Just breathe.",
		},
		{
			name: "collapses whitespace",
			in:   "  Take   your\n\ntime.  ",
			want: "Take your time.",
		},
		{
			name: "list items become sentences",
			in:   "A few ideas:\n1. Go for a short walk\n2) Drink some water\n- Write it down!",
			want: "A few ideas: Go for a short walk. Drink some water. Write it down!",
		},
		{
			name: "drops stage directions and speaker labels",
			in:   "Therapist: *takes a slow breath* I hear you. (pauses) [gently] You are not alone.",
			want: "I hear you. You are not alone.",
		},
		{
			name: "heading becomes a sentence",
			in:   "## Grounding exercise\nName five things you can see.",
			want: "Grounding exercise. Name five things you can see.",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Sanitize(tc.in); got != tc.want {
				t.Fatalf("Sanitize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestPickVoice(t *testing.T) {
	catalog := []string{"Daniel", "Karen", "Samantha", "Alex"}
	if got := PickVoice(catalog, CalmProfile().VoiceHints); got != "Samantha" {
		t.Fatalf("PickVoice() = %q, want Samantha", got)
	}
	if got := PickVoice([]string{"en-us", "Google UK English Female"}, CalmProfile().VoiceHints); got != "Google UK English Female" {
		t.Fatalf("PickVoice() = %q", got)
	}
	if got := PickVoice([]string{"Daniel"}, CalmProfile().VoiceHints); got != "" {
		t.Fatalf("PickVoice() = %q, want empty", got)
	}
}

func TestPlaybackFinishOnce(t *testing.T) {
	p := NewPlayback("hi")
	if !p.Finish(OutcomeCompleted, nil) {
		t.Fatalf("first Finish() should win")
	}
	if p.Finish(OutcomeCancelled, nil) {
		t.Fatalf("second Finish() should be ignored")
	}
	o, err := p.Wait(context.Background())
	if o != OutcomeCompleted || err != nil {
		t.Fatalf("Wait() = %v, %v", o, err)
	}
}

func TestOnDoneSkipsCancelled(t *testing.T) {
	var mu sync.Mutex
	var calls []Outcome
	record := func(o Outcome, _ error) {
		mu.Lock()
		calls = append(calls, o)
		mu.Unlock()
	}

	cancelled := NewPlayback("a")
	OnDone(cancelled, record)
	cancelled.Finish(OutcomeCancelled, nil)

	failed := NewPlayback("b")
	OnDone(failed, record)
	failed.Finish(OutcomeFailed, nil)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(calls)
		mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(calls, []Outcome{OutcomeFailed}) {
		t.Fatalf("calls = %v, want [failed]", calls)
	}
}

type fakeSignaler struct {
	mu        sync.Mutex
	requested []string
	cancelled []string
	profile   Profile
}

func (f *fakeSignaler) SpeakRequest(id, _ string, p Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, id)
	f.profile = p
	return nil
}

func (f *fakeSignaler) SpeakCancel(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return nil
}

func TestBrowserSpeakerLifecycle(t *testing.T) {
	sig := &fakeSignaler{}
	s := NewBrowserSpeaker(sig, CalmProfile())

	first, err := s.Speak(context.Background(), "Hello there")
	if err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	if sig.profile.Rate != 0.8 || sig.profile.Volume != 0.8 {
		t.Fatalf("profile = %+v", sig.profile)
	}

	second, err := s.Speak(context.Background(), "Second")
	if err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	if first.Outcome() != OutcomeCancelled {
		t.Fatalf("first outcome = %v, want cancelled", first.Outcome())
	}
	if len(sig.cancelled) != 1 || sig.cancelled[0] != first.ID() {
		t.Fatalf("cancelled = %v", sig.cancelled)
	}

	if s.Complete(first.ID(), false, "") {
		t.Fatalf("Complete() for a stale utterance should be ignored")
	}
	if !s.Complete(second.ID(), true, "synthesis-failed") {
		t.Fatalf("Complete() should resolve the current utterance")
	}
	if second.Outcome() != OutcomeFailed || second.Err() == nil {
		t.Fatalf("second outcome = %v err = %v", second.Outcome(), second.Err())
	}
}

func TestSilentCompletesImmediately(t *testing.T) {
	p, err := Silent{}.Speak(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	if p.Outcome() != OutcomeCompleted {
		t.Fatalf("Outcome() = %v", p.Outcome())
	}
}

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available", name)
	}
}

func TestCommandSpeakerOutcomes(t *testing.T) {
	requireBinary(t, "sh")

	ok := newCommandSpeaker(func(string) *exec.Cmd { return exec.Command("sh", "-c", "cat >/dev/null") })
	p, err := ok.Speak(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	if o, _ := waitOutcome(t, p); o != OutcomeCompleted {
		t.Fatalf("outcome = %v, want completed", o)
	}

	bad := newCommandSpeaker(func(string) *exec.Cmd { return exec.Command("sh", "-c", "exit 3") })
	p, err = bad.Speak(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	if o, err := waitOutcome(t, p); o != OutcomeFailed || err == nil {
		t.Fatalf("outcome = %v err = %v, want failed", o, err)
	}
}

func TestCommandSpeakerStopCancels(t *testing.T) {
	requireBinary(t, "sleep")

	s := newCommandSpeaker(func(string) *exec.Cmd { return exec.Command("sleep", "5") })
	p, err := s.Speak(context.Background(), "a long reply")
	if err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	s.Stop()
	if o, _ := waitOutcome(t, p); o != OutcomeCancelled {
		t.Fatalf("outcome = %v, want cancelled", o)
	}
}

func waitOutcome(t *testing.T, p *Playback) (Outcome, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	o, err := p.Wait(ctx)
	if ctx.Err() != nil {
		t.Fatalf("playback did not finish")
	}
	return o, err
}

func TestEngineArgs(t *testing.T) {
	p := CalmProfile()
	p.Voice = "en-us+f3"
	want := []string{"-s", "140", "-a", "80", "-p", "50", "-v", "en-us+f3", "--stdin"}
	if got := EspeakArgs(p); !reflect.DeepEqual(got, want) {
		t.Fatalf("EspeakArgs() = %v, want %v", got, want)
	}
	p.Voice = "Samantha"
	want = []string{"-r", "140", "-v", "Samantha", "-f", "-"}
	if got := SayArgs(p); !reflect.DeepEqual(got, want) {
		t.Fatalf("SayArgs() = %v, want %v", got, want)
	}
}

func TestParseVoiceCatalogs(t *testing.T) {
	say := "Alex                en_US    # Most people recognize me by my voice.\n" +
		"Bad News            en_US    # The light you see at the end of the tunnel\n" +
		"Samantha            en_US    # Hello, my name is Samantha.\n"
	if got := parseSayVoices(say); !reflect.DeepEqual(got, []string{"Alex", "Bad News", "Samantha"}) {
		t.Fatalf("parseSayVoices() = %v", got)
	}

	espeak := "Pty Language       Age/Gender VoiceName          File                 Other Languages\n" +
		" 5  en-gb           --/M      English_(Great_Britain) gmw/en\n" +
		" 2  en-us           --/M      English_(America)  gmw/en-US\n"
	if got := parseEspeakVoices(espeak); !reflect.DeepEqual(got, []string{"English_(Great_Britain)", "English_(America)"}) {
		t.Fatalf("parseEspeakVoices() = %v", got)
	}
}

func TestNewSpeakerNone(t *testing.T) {
	s, err := New(context.Background(), "none", CalmProfile())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := s.(Silent); !ok {
		t.Fatalf("New(none) = %T, want Silent", s)
	}
	if _, err := New(context.Background(), "bogus", CalmProfile()); err == nil {
		t.Fatalf("expected error for unknown engine")
	}
}
