// Command serene-local runs a conversation in the terminal with the host
// microphone and a local speech engine.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/spf13/pflag"

	"github.com/ent0n29/serene/internal/app"
	"github.com/ent0n29/serene/internal/breathing"
	"github.com/ent0n29/serene/internal/capture"
	"github.com/ent0n29/serene/internal/capture/mic"
	"github.com/ent0n29/serene/internal/config"
	"github.com/ent0n29/serene/internal/notify"
	"github.com/ent0n29/serene/internal/reliability"
	"github.com/ent0n29/serene/internal/session"
	"github.com/ent0n29/serene/internal/speech"
	"github.com/ent0n29/serene/internal/voice"
)

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	logLevel := cli.StringP("log", "l", "", "Log level (overrides APP_LOG_LEVEL)")
	engine := cli.String("engine", "", "Speech engine: espeak, say or none (overrides SPEECH_ENGINE)")
	noChime := cli.Bool("no-chime", false, "Do not play the listening chime")
	cli.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *engine != "" {
		cfg.SpeechEngine = *engine
	}
	logger := app.NewLogger(os.Stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, !*noChime, os.Stdin, os.Stdout); err != nil {
		logger.Error("serene-local", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, chime bool, in io.Reader, out io.Writer) error {
	core, err := app.NewCore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer core.Close()
	logger.Info("providers ready", "detail", core.Detail, "history", core.HistoryBackend)

	speaker, err := speech.New(ctx, cfg.SpeechEngine, app.SpeechProfile(cfg))
	if err != nil {
		logger.Warn("speech engine unavailable, replies will be text only", "engine", cfg.SpeechEngine, "err", err)
		speaker = speech.Silent{}
	}

	term := &terminal{out: out}
	device := mic.New(cfg.CaptureSampleRate, cfg.CaptureMaxDuration)
	conv := voice.NewConversation(session.New("local"), capture.NewController(device), speaker, term)
	orch := core.Orchestrator
	defer orch.Close(conv)

	var bell *notify.Chime
	if chime {
		bell = notify.NewChime(cfg.ChimeFile)
	}

	exercise := breathing.New()
	go exercise.Run(ctx, time.Second, term.breathing)

	do := func(name string, op func() error) {
		go func() {
			if err := op(); err != nil {
				if reliability.KindOf(err) != "" {
					logger.Debug(name, "err", err)
					return
				}
				term.printf("! %s: %v\n", name, err)
			}
		}()
	}

	term.help()
	do("start", func() error { return orch.StartSession(ctx, conv) })

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = l
		}

		switch parseCommand(line) {
		case cmdTalk:
			switch conv.Session.Phase() {
			case session.PhaseIdle:
				do("begin capture", func() error {
					if bell != nil {
						chimeCtx, cancel := context.WithTimeout(ctx, time.Second)
						if err := bell.Play(chimeCtx); err != nil {
							logger.Debug("chime", "err", err)
						}
						cancel()
					}
					return orch.BeginCapture(ctx, conv)
				})
			case session.PhaseRecording:
				do("end capture", func() error { return orch.EndCapture(ctx, conv) })
			default:
				term.printf("(busy: %s)\n", conv.Session.Phase())
			}
		case cmdStop:
			do("stop speaking", func() error { return orch.StopSpeaking(conv) })
		case cmdCancel:
			do("cancel", func() error { return orch.CancelTurn(conv) })
		case cmdBreathe:
			term.breathing(exercise.Toggle())
		case cmdReset:
			term.breathing(exercise.Reset())
		case cmdHistory:
			history, err := core.Inputs.History(ctx)
			if err != nil {
				term.printf("! history: %v\n", err)
				continue
			}
			term.history(history)
		case cmdHelp:
			term.help()
		case cmdQuit:
			return nil
		default:
			term.printf("unknown command %q, type ? for help\n", line)
		}
	}
}
