package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ent0n29/serene/internal/capture"
	"github.com/ent0n29/serene/internal/config"
	"github.com/ent0n29/serene/internal/httpapi"
	"github.com/ent0n29/serene/internal/memory"
	"github.com/ent0n29/serene/internal/observability"
	"github.com/ent0n29/serene/internal/session"
	"github.com/ent0n29/serene/internal/voice"
)

// Core is the provider and storage wiring shared by the server and the
// terminal companion.
type Core struct {
	Config         config.Config
	Orchestrator   *voice.Orchestrator
	Metrics        *observability.Metrics
	Inputs         *memory.InputLog
	ReplyMode      string
	HistoryBackend string
	Detail         string

	store memory.Store
}

func (c *Core) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

// NewCore opens the input history store and builds the orchestrator.
func NewCore(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Core, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, backend, err := memory.NewStore(ctx, cfg.DatabaseURL, cfg.HistoryFile)
	if err != nil {
		return nil, fmt.Errorf("input history store init failed: %w", err)
	}

	setup, err := resolveProviders(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	inputs := memory.NewInputLog(store, cfg.HistoryLimit)
	orchestrator := voice.NewOrchestrator(voice.Config{
		Transcriber:   setup.transcriber,
		Generator:     setup.generator,
		ReplyProvider: setup.replyMode,
		Inputs:        inputs,
		Metrics:       metrics,
		Logger:        logger,
		Connection: voice.ConnectionConfig{
			Capture: capture.StreamConfig{
				SampleRate:  cfg.CaptureSampleRate,
				AckTimeout:  cfg.CaptureAckTimeout,
				MaxDuration: cfg.CaptureMaxDuration,
			},
			Profile:           SpeechProfile(cfg),
			BreathingInterval: time.Second,
		},
	})

	return &Core{
		Config:         cfg,
		Orchestrator:   orchestrator,
		Metrics:        metrics,
		Inputs:         inputs,
		ReplyMode:      setup.replyMode,
		HistoryBackend: backend,
		Detail:         setup.detail,
		store:          store,
	}, nil
}

type BuildResult struct {
	*Core
	API      *httpapi.Server
	Sessions *session.Manager

	// Cleanup should be called on shutdown to release the history store.
	Cleanup func() error
}

// Build wires the HTTP server around a Core.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	core, err := NewCore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	metrics := core.Metrics

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	api := httpapi.New(cfg, sessions, core.Orchestrator, metrics, core.Inputs, httpapi.Backends{
		ReplyMode:      core.ReplyMode,
		HistoryBackend: core.HistoryBackend,
	})

	return &BuildResult{
		Core:     core,
		API:      api,
		Sessions: sessions,
		Cleanup:  core.Close,
	}, nil
}
