// Package reply produces the companion's answer to a user utterance.
package reply

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ent0n29/serene/internal/session"
)

// Generator produces a reply given the transcript preceding the utterance
// and the utterance itself.
type Generator interface {
	Reply(ctx context.Context, history []session.ChatMessage, utterance string) (string, error)
}

const (
	ModeAuto   = "auto"
	ModeRules  = "rules"
	ModeRemote = "remote"
)

// Config controls generator construction.
type Config struct {
	Mode        string
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	// Temperature is sent as given, zero included. Nil uses DefaultTemperature.
	Temperature *float64
	HTTPClient  *http.Client
}

// NewGenerator selects a strategy. Auto uses the remote model when a key is
// configured and the local rule engine otherwise.
func NewGenerator(cfg Config) (Generator, string, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = ModeAuto
	}

	switch mode {
	case ModeAuto:
		if strings.TrimSpace(cfg.APIKey) != "" {
			return NewRemoteGenerator(cfg), ModeRemote, nil
		}
		return NewRuleGenerator(nil), ModeRules, nil
	case ModeRules:
		return NewRuleGenerator(nil), ModeRules, nil
	case ModeRemote:
		return NewRemoteGenerator(cfg), ModeRemote, nil
	default:
		return nil, "", fmt.Errorf("unsupported reply mode %q", cfg.Mode)
	}
}
