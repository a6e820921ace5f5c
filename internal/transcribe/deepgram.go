// Package transcribe turns captured clips into text through Deepgram's
// pre-recorded listen endpoint.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ent0n29/serene/internal/capture"
	"github.com/ent0n29/serene/internal/reliability"
)

const (
	DefaultBaseURL = "https://api.deepgram.com"

	// PlaceholderKey is the value shipped in example env files.
	PlaceholderKey = "your_deepgram_api_key_here"
)

// Transcriber converts a clip to text or a typed failure.
type Transcriber interface {
	Transcribe(ctx context.Context, clip capture.Clip) (string, error)
}

type Config struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
	Timeout  time.Duration
}

type Client struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

func NewClient(cfg Config, client *http.Client) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	q := url.Values{}
	if m := strings.TrimSpace(cfg.Model); m != "" {
		q.Set("model", m)
	}
	if lang := strings.TrimSpace(cfg.Language); lang != "" {
		q.Set("language", lang)
	}
	q.Set("smart_format", "true")

	return &Client{
		apiKey:   strings.TrimSpace(cfg.APIKey),
		endpoint: base + "/v1/listen?" + q.Encode(),
		client:   client,
	}
}

// Configured reports whether a usable credential is present.
func Configured(apiKey string) bool {
	apiKey = strings.TrimSpace(apiKey)
	return apiKey != "" && apiKey != PlaceholderKey
}

func (c *Client) Configured() bool { return Configured(c.apiKey) }

type listenResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func (c *Client) Transcribe(ctx context.Context, clip capture.Clip) (string, error) {
	if !c.Configured() {
		return "", reliability.New(reliability.KindUnconfigured,
			"Deepgram API key is not configured. Please set DEEPGRAM_API_KEY.")
	}
	if len(clip.Data) == 0 {
		return "", reliability.New(reliability.KindNothingCaptured, "")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(clip.Data))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	contentType := clip.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)

	res, err := c.client.Do(req)
	if err != nil {
		return "", reliability.ClassifyTransport(err, "")
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", statusError(res.StatusCode, res.Status, body)
	}

	var out listenResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", reliability.Wrap(reliability.KindServiceError, "Deepgram returned an unreadable response.", err)
	}

	text := ""
	if len(out.Results.Channels) > 0 && len(out.Results.Channels[0].Alternatives) > 0 {
		text = strings.TrimSpace(out.Results.Channels[0].Alternatives[0].Transcript)
	}
	if text == "" {
		return "", reliability.New(reliability.KindNoSpeechDetected,
			"No speech detected in the audio. Please try speaking more clearly.")
	}
	return text, nil
}

func statusError(code int, status string, body []byte) error {
	cause := fmt.Errorf("deepgram status %d: %s", code, strings.TrimSpace(string(body)))
	kind := reliability.KindForStatus(code)
	switch kind {
	case reliability.KindUnauthorized:
		return reliability.Wrap(kind, "Invalid Deepgram API key. Please check your API key configuration.", cause)
	case reliability.KindRateLimited:
		return reliability.Wrap(kind, "Deepgram API rate limit exceeded. Please try again in a moment.", cause)
	case reliability.KindMalformedAudio:
		return reliability.Wrap(kind, "Invalid audio format. Please try recording again.", cause)
	default:
		return reliability.Wrap(kind, "Deepgram API error: "+status, cause)
	}
}
