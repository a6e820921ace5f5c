package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the companion.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	LogLevel                 string

	AllowAnyOrigin bool

	DeepgramAPIKey    string
	DeepgramBaseURL   string
	DeepgramModel     string
	DeepgramLanguage  string
	TranscribeTimeout time.Duration

	ReplyMode        string
	GroqAPIKey       string
	GroqBaseURL      string
	GroqModel        string
	ReplyMaxTokens   int
	ReplyTemperature float64
	ReplyTimeout     time.Duration

	SpeechEngine string
	SpeechVoice  string
	SpeechRate   float64
	SpeechPitch  float64
	SpeechVolume float64

	DatabaseURL  string
	HistoryFile  string
	HistoryLimit int

	HTTPSocksProxy string

	CaptureSampleRate  int
	CaptureAckTimeout  time.Duration
	CaptureMaxDuration time.Duration

	ChimeFile string
}

// LoadEnvFile loads KEY=value pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadEnvFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "serene"),
		LogLevel:         strings.ToLower(envOrDefault("APP_LOG_LEVEL", "info")),

		// The VITE_ names are what the browser build used; keep reading them.
		DeepgramAPIKey:   firstEnv("DEEPGRAM_API_KEY", "VITE_DEEPGRAM_API_KEY"),
		DeepgramBaseURL:  envOrDefault("DEEPGRAM_BASE_URL", "https://api.deepgram.com"),
		DeepgramModel:    trimmedEnv("DEEPGRAM_MODEL"),
		DeepgramLanguage: trimmedEnv("DEEPGRAM_LANGUAGE"),

		ReplyMode:   strings.ToLower(envOrDefault("REPLY_MODE", "auto")),
		GroqAPIKey:  firstEnv("GROQ_API_KEY", "VITE_GROQ_API_KEY"),
		GroqBaseURL: envOrDefault("GROQ_BASE_URL", "https://api.groq.com/openai/v1/"),
		GroqModel:   envOrDefault("GROQ_MODEL", "llama3-70b-8192"),

		SpeechEngine: strings.ToLower(envOrDefault("SPEECH_ENGINE", "espeak")),
		SpeechVoice:  trimmedEnv("SPEECH_VOICE"),

		DatabaseURL: trimmedEnv("DATABASE_URL"),
		HistoryFile: trimmedEnv("HISTORY_FILE"),

		HTTPSocksProxy: trimmedEnv("HTTP_SOCKS_PROXY"),
		ChimeFile:      trimmedEnv("CHIME_FILE"),

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 10 * time.Minute,
		TranscribeTimeout:        60 * time.Second,
		ReplyTimeout:             30 * time.Second,
		ReplyMaxTokens:           150,
		ReplyTemperature:         0.7,
		SpeechRate:               0.8,
		SpeechPitch:              1.0,
		SpeechVolume:             0.8,
		HistoryLimit:             50,
		CaptureSampleRate:        16000,
		CaptureAckTimeout:        30 * time.Second,
		CaptureMaxDuration:       2 * time.Minute,
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"APP_SESSION_INACTIVITY_TIMEOUT", &cfg.SessionInactivityTimeout},
		{"DEEPGRAM_TIMEOUT", &cfg.TranscribeTimeout},
		{"REPLY_TIMEOUT", &cfg.ReplyTimeout},
		{"CAPTURE_ACK_TIMEOUT", &cfg.CaptureAckTimeout},
		{"CAPTURE_MAX_DURATION", &cfg.CaptureMaxDuration},
	}
	for _, d := range durations {
		if *d.dst, err = durationFromEnv(d.key, *d.dst); err != nil {
			return Config{}, err
		}
	}
	if cfg.ReplyMaxTokens, err = intFromEnv("REPLY_MAX_TOKENS", cfg.ReplyMaxTokens); err != nil {
		return Config{}, err
	}
	if cfg.HistoryLimit, err = intFromEnv("HISTORY_LIMIT", cfg.HistoryLimit); err != nil {
		return Config{}, err
	}
	if cfg.CaptureSampleRate, err = intFromEnv("CAPTURE_SAMPLE_RATE", cfg.CaptureSampleRate); err != nil {
		return Config{}, err
	}
	if cfg.ReplyTemperature, err = floatFromEnv("REPLY_TEMPERATURE", cfg.ReplyTemperature); err != nil {
		return Config{}, err
	}
	if cfg.SpeechRate, err = floatFromEnv("SPEECH_RATE", cfg.SpeechRate); err != nil {
		return Config{}, err
	}
	if cfg.SpeechPitch, err = floatFromEnv("SPEECH_PITCH", cfg.SpeechPitch); err != nil {
		return Config{}, err
	}
	if cfg.SpeechVolume, err = floatFromEnv("SPEECH_VOLUME", cfg.SpeechVolume); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.SessionInactivityTimeout < 5*time.Second {
		return fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	switch c.ReplyMode {
	case "auto", "rules", "remote":
	default:
		return fmt.Errorf("REPLY_MODE must be one of auto, rules, remote")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("APP_LOG_LEVEL must be one of debug, info, warn, error")
	}
	if c.ReplyMaxTokens <= 0 {
		return fmt.Errorf("REPLY_MAX_TOKENS must be positive")
	}
	if c.ReplyTemperature < 0 || c.ReplyTemperature > 2 {
		return fmt.Errorf("REPLY_TEMPERATURE must be between 0 and 2")
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("HISTORY_LIMIT must be positive")
	}
	if c.CaptureSampleRate < 8000 || c.CaptureSampleRate > 48000 {
		return fmt.Errorf("CAPTURE_SAMPLE_RATE must be between 8000 and 48000")
	}
	if c.CaptureMaxDuration < time.Second {
		return fmt.Errorf("CAPTURE_MAX_DURATION must be at least 1s")
	}
	for key, v := range map[string]float64{
		"SPEECH_RATE":   c.SpeechRate,
		"SPEECH_PITCH":  c.SpeechPitch,
		"SPEECH_VOLUME": c.SpeechVolume,
	} {
		if v <= 0 || v > 2 {
			return fmt.Errorf("%s must be in (0, 2]", key)
		}
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := trimmedEnv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// firstEnv returns the first non-empty value among keys.
func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := trimmedEnv(k); v != "" {
			return v
		}
	}
	return ""
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
