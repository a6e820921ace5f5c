package httpapi

import (
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/ent0n29/serene/internal/memory"
	"github.com/ent0n29/serene/internal/reply"
	"github.com/ent0n29/serene/internal/speech"
)

type statusCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type statusResponse struct {
	ReplyMode      string        `json:"reply_mode"`
	HistoryBackend string        `json:"history_backend"`
	SpeechEngine   string        `json:"speech_engine"`
	Checks         []statusCheck `json:"checks"`
}

// lookPath is swapped in tests.
var lookPath = exec.LookPath

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	checks := make([]statusCheck, 0, 6)
	checks = append(checks, s.transcriptionCheck())
	checks = append(checks, s.replyCheck())
	checks = append(checks, statusCheck{
		ID:     "browser_speech",
		Status: "ok",
		Label:  "Browser speech",
		Detail: "speech synthesis runs in the browser",
	})
	checks = append(checks, s.hostSpeechCheck())
	checks = append(checks, s.historyCheck())
	if proxy := strings.TrimSpace(s.cfg.HTTPSocksProxy); proxy != "" {
		checks = append(checks, proxyCheck(proxy))
	}

	respondJSON(w, http.StatusOK, statusResponse{
		ReplyMode:      s.backends.ReplyMode,
		HistoryBackend: s.backends.HistoryBackend,
		SpeechEngine:   s.cfg.SpeechEngine,
		Checks:         checks,
	})
}

func (s *Server) transcriptionCheck() statusCheck {
	if strings.TrimSpace(s.cfg.DeepgramAPIKey) == "" {
		return statusCheck{
			ID:     "transcription",
			Status: "error",
			Label:  "Transcription",
			Detail: "Deepgram API key missing",
			Fix:    "Set DEEPGRAM_API_KEY.",
		}
	}
	detail := "deepgram"
	if s.cfg.DeepgramModel != "" {
		detail += " (" + s.cfg.DeepgramModel + ")"
	}
	return statusCheck{ID: "transcription", Status: "ok", Label: "Transcription", Detail: detail}
}

func (s *Server) replyCheck() statusCheck {
	mode := s.backends.ReplyMode
	keySet := strings.TrimSpace(s.cfg.GroqAPIKey) != ""
	switch {
	case mode == reply.ModeRemote && !keySet:
		return statusCheck{
			ID:     "reply",
			Status: "error",
			Label:  "Reply generator",
			Detail: "remote mode without API key",
			Fix:    "Set GROQ_API_KEY or REPLY_MODE=rules.",
		}
	case mode == reply.ModeRemote:
		return statusCheck{ID: "reply", Status: "ok", Label: "Reply generator", Detail: "remote (" + s.cfg.GroqModel + ")"}
	case strings.EqualFold(s.cfg.ReplyMode, reply.ModeAuto):
		return statusCheck{
			ID:     "reply",
			Status: "warn",
			Label:  "Reply generator",
			Detail: "local rules fallback",
			Fix:    "Set GROQ_API_KEY for model-generated replies.",
		}
	default:
		return statusCheck{ID: "reply", Status: "ok", Label: "Reply generator", Detail: "local rules"}
	}
}

func (s *Server) hostSpeechCheck() statusCheck {
	engine := strings.ToLower(strings.TrimSpace(s.cfg.SpeechEngine))
	var candidates []string
	switch engine {
	case speech.EngineEspeak:
		candidates = []string{"espeak-ng", "espeak"}
	case speech.EngineSay:
		candidates = []string{"say"}
	default:
		return statusCheck{ID: "host_speech", Status: "ok", Label: "Terminal speech", Detail: "disabled"}
	}
	for _, bin := range candidates {
		if p, err := lookPath(bin); err == nil && strings.TrimSpace(p) != "" {
			return statusCheck{ID: "host_speech", Status: "ok", Label: "Terminal speech", Detail: p}
		}
	}
	return statusCheck{
		ID:     "host_speech",
		Status: "warn",
		Label:  "Terminal speech",
		Detail: engine + " not found on PATH",
		Fix:    "Install " + candidates[0] + " or set SPEECH_ENGINE=none.",
	}
}

func (s *Server) historyCheck() statusCheck {
	switch s.backends.HistoryBackend {
	case memory.BackendPostgres:
		return statusCheck{ID: "history", Status: "ok", Label: "Input history", Detail: "postgres"}
	case memory.BackendFile:
		return statusCheck{ID: "history", Status: "ok", Label: "Input history", Detail: "file " + s.cfg.HistoryFile}
	default:
		return statusCheck{
			ID:     "history",
			Status: "warn",
			Label:  "Input history",
			Detail: "in-memory only",
			Fix:    "Set DATABASE_URL or HISTORY_FILE to keep history across restarts.",
		}
	}
}

func proxyCheck(addr string) statusCheck {
	c, err := net.DialTimeout("tcp", addr, 250*time.Millisecond)
	if err != nil {
		return statusCheck{
			ID:     "socks_proxy",
			Status: "warn",
			Label:  "SOCKS proxy",
			Detail: fmt.Sprintf("%s unreachable", addr),
			Fix:    "Start the proxy or unset HTTP_SOCKS_PROXY.",
		}
	}
	_ = c.Close()
	return statusCheck{ID: "socks_proxy", Status: "ok", Label: "SOCKS proxy", Detail: addr}
}
