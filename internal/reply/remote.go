package reply

import (
	"context"
	"errors"
	"net/http"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/ent0n29/serene/internal/reliability"
	"github.com/ent0n29/serene/internal/session"
)

const (
	DefaultRemoteBaseURL = "https://api.groq.com/openai/v1/"
	DefaultRemoteModel   = "llama3-70b-8192"
	DefaultMaxTokens     = 150
	DefaultTemperature   = 0.7

	// FallbackReply is returned when the completion carries no text.
	FallbackReply = "Sorry, I couldn't generate a response."
)

// RemoteGenerator sends the latest utterance to an OpenAI-compatible chat
// completion endpoint as a single user message.
type RemoteGenerator struct {
	apiKey      string
	model       string
	maxTokens   int64
	temperature float64
	client      openai.Client
}

func NewRemoteGenerator(cfg Config) *RemoteGenerator {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = DefaultRemoteBaseURL
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultRemoteModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	temperature := DefaultTemperature
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}

	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithBaseURL(base),
		option.WithMaxRetries(0),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &RemoteGenerator{
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		maxTokens:   int64(maxTokens),
		temperature: temperature,
		client:      openai.NewClient(opts...),
	}
}

func (g *RemoteGenerator) Reply(ctx context.Context, _ []session.ChatMessage, utterance string) (string, error) {
	if g.apiKey == "" {
		return "", reliability.New(reliability.KindUnconfigured,
			"Groq API key is not configured. Please set GROQ_API_KEY in your environment variables.")
	}

	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(utterance),
		},
		MaxTokens:   openai.Int(g.maxTokens),
		Temperature: openai.Float(g.temperature),
	})
	if err != nil {
		return "", classifyCompletionError(err)
	}

	if len(resp.Choices) == 0 {
		return FallbackReply, nil
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return FallbackReply, nil
	}
	return text, nil
}

func classifyCompletionError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return reliability.Wrap(reliability.KindUnauthorized, "Invalid Groq API key. Please check your configuration.", err)
		case http.StatusTooManyRequests:
			return reliability.Wrap(reliability.KindRateLimited, "", err)
		default:
			return reliability.Wrap(reliability.KindGeneratorFailure, "", err)
		}
	}
	return reliability.ClassifyTransport(err, "")
}
