package app

import (
	"fmt"
	"strings"

	"github.com/ent0n29/serene/internal/config"
	"github.com/ent0n29/serene/internal/httpc"
	"github.com/ent0n29/serene/internal/reply"
	"github.com/ent0n29/serene/internal/speech"
	"github.com/ent0n29/serene/internal/transcribe"
)

type providerSetup struct {
	transcriber transcribe.Transcriber
	generator   reply.Generator
	replyMode   string
	detail      string
}

// resolveProviders builds the transcription and reply clients. Both share
// one outbound HTTP client per timeout so a SOCKS proxy applies to every
// remote call.
func resolveProviders(cfg config.Config) (providerSetup, error) {
	sttHTTP, err := httpc.New(cfg.HTTPSocksProxy, cfg.TranscribeTimeout)
	if err != nil {
		return providerSetup{}, fmt.Errorf("transcription http client: %w", err)
	}
	replyHTTP, err := httpc.New(cfg.HTTPSocksProxy, cfg.ReplyTimeout)
	if err != nil {
		return providerSetup{}, fmt.Errorf("reply http client: %w", err)
	}

	stt := transcribe.NewClient(transcribe.Config{
		APIKey:   cfg.DeepgramAPIKey,
		BaseURL:  cfg.DeepgramBaseURL,
		Model:    cfg.DeepgramModel,
		Language: cfg.DeepgramLanguage,
		Timeout:  cfg.TranscribeTimeout,
	}, sttHTTP)

	gen, mode, err := reply.NewGenerator(reply.Config{
		Mode:        cfg.ReplyMode,
		APIKey:      cfg.GroqAPIKey,
		BaseURL:     cfg.GroqBaseURL,
		Model:       cfg.GroqModel,
		MaxTokens:   cfg.ReplyMaxTokens,
		Temperature: &cfg.ReplyTemperature,
		HTTPClient:  replyHTTP,
	})
	if err != nil {
		return providerSetup{}, fmt.Errorf("reply generator init failed: %w", err)
	}

	sttDetail := "deepgram"
	if !stt.Configured() {
		sttDetail = "deepgram (no key)"
	}
	return providerSetup{
		transcriber: stt,
		generator:   gen,
		replyMode:   mode,
		detail:      fmt.Sprintf("%s + %s replies", sttDetail, mode),
	}, nil
}

// SpeechProfile applies the configured delivery overrides to the calm
// default profile.
func SpeechProfile(cfg config.Config) speech.Profile {
	p := speech.CalmProfile()
	if cfg.SpeechRate > 0 {
		p.Rate = cfg.SpeechRate
	}
	if cfg.SpeechPitch > 0 {
		p.Pitch = cfg.SpeechPitch
	}
	if cfg.SpeechVolume > 0 {
		p.Volume = cfg.SpeechVolume
	}
	p.Voice = strings.TrimSpace(cfg.SpeechVoice)
	return p
}
