package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/serene/internal/config"
	"github.com/ent0n29/serene/internal/memory"
	"github.com/ent0n29/serene/internal/observability"
	"github.com/ent0n29/serene/internal/protocol"
	"github.com/ent0n29/serene/internal/session"
)

// echoOrchestrator answers every client control with a status event naming
// the action.
type echoOrchestrator struct{}

func (echoOrchestrator) RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-inbound:
			if !ok {
				return nil
			}
			ctrl, ok := raw.(protocol.ClientControl)
			if !ok {
				continue
			}
			select {
			case outbound <- protocol.StatusEvent{Type: protocol.TypeStatusEvent, SessionID: s.ID(), Status: ctrl.Action}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func newTestServer(t *testing.T, orch Orchestrator, inputs *memory.InputLog, backends Backends) (*httptest.Server, *observability.Metrics) {
	t.Helper()
	cfg := config.Config{
		SessionInactivityTimeout: 2 * time.Minute,
		GroqModel:                "llama3-70b-8192",
		SpeechEngine:             "none",
	}
	metrics := observability.NewMetrics("test_httpapi")
	srv := New(cfg, session.NewManager(cfg.SessionInactivityTimeout), orch, metrics, inputs, backends)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, metrics
}

func createSession(t *testing.T, baseURL string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"user_id": "user-1"})
	res, err := http.Post(baseURL+"/v1/session", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create session request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	var created session.CreateResponse
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.SessionID == "" || created.Phase != session.PhaseIdle {
		t.Fatalf("unexpected create response: %+v", created)
	}
	if created.InactivityTTLMS != (2 * time.Minute).Milliseconds() {
		t.Fatalf("InactivityTTLMS = %d", created.InactivityTTLMS)
	}
	return created.SessionID
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	res, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s error = %v", url, err)
	}
	defer res.Body.Close()
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return res.StatusCode
}

func TestCreateGetAndEndSession(t *testing.T) {
	ts, _ := newTestServer(t, nil, nil, Backends{})
	id := createSession(t, ts.URL)

	var snap session.Snapshot
	if code := getJSON(t, ts.URL+"/v1/session/"+id, &snap); code != http.StatusOK {
		t.Fatalf("get status = %d", code)
	}
	if snap.ID != id || snap.Phase != session.PhaseIdle || len(snap.Transcript) != 0 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	endRes, err := http.Post(ts.URL+"/v1/session/"+id+"/end", "application/json", nil)
	if err != nil {
		t.Fatalf("end session request error = %v", err)
	}
	defer endRes.Body.Close()
	if endRes.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d, want %d", endRes.StatusCode, http.StatusOK)
	}
	var ended session.Snapshot
	if err := json.NewDecoder(endRes.Body).Decode(&ended); err != nil {
		t.Fatalf("decode end response: %v", err)
	}
	if ended.Status != session.StatusEnded {
		t.Fatalf("status = %q, want ended", ended.Status)
	}

	if code := getJSON(t, ts.URL+"/v1/session/missing", nil); code != http.StatusNotFound {
		t.Fatalf("unknown session status = %d, want 404", code)
	}
}

func TestUIRoutes(t *testing.T) {
	ts, _ := newTestServer(t, nil, nil, Backends{})

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	for _, path := range []string{"/", "/ui"} {
		res, err := client.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusTemporaryRedirect || res.Header.Get("Location") != "/ui/" {
			t.Fatalf("GET %s = %d %q", path, res.StatusCode, res.Header.Get("Location"))
		}
	}

	uiRes, err := http.Get(ts.URL + "/ui/")
	if err != nil {
		t.Fatalf("GET /ui/ error = %v", err)
	}
	defer uiRes.Body.Close()
	if uiRes.StatusCode != http.StatusOK {
		t.Fatalf("GET /ui/ status = %d, want %d", uiRes.StatusCode, http.StatusOK)
	}
	var body bytes.Buffer
	if _, err := body.ReadFrom(uiRes.Body); err != nil {
		t.Fatalf("reading /ui/ body failed: %v", err)
	}
	for _, want := range []string{`id="pulse"`, `id="transcript"`, "speechSynthesis"} {
		if !strings.Contains(body.String(), want) {
			t.Fatalf("GET /ui/ body missing %q", want)
		}
	}
}

func TestReadyRequiresOrchestrator(t *testing.T) {
	ts, _ := newTestServer(t, nil, nil, Backends{})
	if code := getJSON(t, ts.URL+"/readyz", nil); code != http.StatusServiceUnavailable {
		t.Fatalf("readyz = %d, want 503", code)
	}

	ready, _ := newTestServer(t, echoOrchestrator{}, nil, Backends{ReplyMode: "rules"})
	var payload map[string]any
	if code := getJSON(t, ready.URL+"/readyz", &payload); code != http.StatusOK {
		t.Fatalf("readyz = %d, want 200", code)
	}
	if payload["reply_mode"] != "rules" {
		t.Fatalf("reply_mode = %v", payload["reply_mode"])
	}
}

func TestStatusReportsProviderChecks(t *testing.T) {
	orig := lookPath
	lookPath = func(string) (string, error) { return "", errors.New("not found") }
	t.Cleanup(func() { lookPath = orig })

	ts, _ := newTestServer(t, nil, nil, Backends{ReplyMode: "rules", HistoryBackend: memory.BackendInMemory})

	var payload statusResponse
	if code := getJSON(t, ts.URL+"/v1/status", &payload); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if payload.ReplyMode != "rules" || payload.HistoryBackend != memory.BackendInMemory {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	got := map[string]string{}
	for _, c := range payload.Checks {
		got[c.ID] = c.Status
	}
	want := map[string]string{
		"transcription":  "error",
		"reply":          "ok",
		"browser_speech": "ok",
		"host_speech":    "ok",
		"history":        "warn",
	}
	for id, status := range want {
		if got[id] != status {
			t.Fatalf("check %s = %q, want %q (all: %v)", id, got[id], status, got)
		}
	}
}

func TestInputsEndpoint(t *testing.T) {
	log := memory.NewInputLog(memory.NewInMemoryStore(), 5)
	if _, err := log.Save(context.Background(), "I feel anxious"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := log.Save(context.Background(), "work is overwhelming"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	ts, _ := newTestServer(t, nil, log, Backends{})

	var payload inputsResponse
	if code := getJSON(t, ts.URL+"/v1/inputs", &payload); code != http.StatusOK {
		t.Fatalf("inputs status = %d", code)
	}
	if payload.Current == nil || payload.Current.Text != "work is overwhelming" {
		t.Fatalf("current = %+v", payload.Current)
	}
	if len(payload.History) != 2 || payload.History[1].Text != "I feel anxious" || payload.Limit != 5 {
		t.Fatalf("history = %+v limit=%d", payload.History, payload.Limit)
	}

	empty, _ := newTestServer(t, nil, nil, Backends{})
	var none inputsResponse
	getJSON(t, empty.URL+"/v1/inputs", &none)
	if none.Current != nil || len(none.History) != 0 {
		t.Fatalf("expected empty inputs, got %+v", none)
	}
}

func TestPerfLatencyAndReset(t *testing.T) {
	ts, metrics := newTestServer(t, nil, nil, Backends{})
	metrics.ObserveStage(observability.StageTranscription, 400*time.Millisecond)

	var snap observability.TurnStageSnapshot
	getJSON(t, ts.URL+"/v1/perf/latency", &snap)
	if len(snap.Stages) != 1 || snap.Stages[0].Stage != observability.StageTranscription {
		t.Fatalf("stages = %+v", snap.Stages)
	}

	res, err := http.Post(ts.URL+"/v1/perf/latency/reset", "application/json", nil)
	if err != nil {
		t.Fatalf("reset error = %v", err)
	}
	defer res.Body.Close()
	var after observability.TurnStageSnapshot
	if err := json.NewDecoder(res.Body).Decode(&after); err != nil {
		t.Fatalf("decode reset response: %v", err)
	}
	if len(after.Stages) != 0 {
		t.Fatalf("stages after reset = %+v", after.Stages)
	}
}

func TestSessionWebSocketRelaysMessages(t *testing.T) {
	ts, _ := newTestServer(t, echoOrchestrator{}, nil, Backends{})
	id := createSession(t, ts.URL)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/session/ws?session_id=" + id
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"client_control","session_id":"`+id+`","action":"begin_capture"}`)); err != nil {
		t.Fatalf("write error = %v", err)
	}
	var status protocol.StatusEvent
	if err := conn.ReadJSON(&status); err != nil {
		t.Fatalf("read error = %v", err)
	}
	if status.Type != protocol.TypeStatusEvent || status.Status != protocol.ActionBeginCapture {
		t.Fatalf("unexpected event: %+v", status)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"nonsense"}`)); err != nil {
		t.Fatalf("write error = %v", err)
	}
	var evt protocol.ErrorEvent
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read error = %v", err)
	}
	if evt.Code != "invalid_client_message" {
		t.Fatalf("unexpected error event: %+v", evt)
	}
}

func TestSessionWebSocketRejectsBadRequests(t *testing.T) {
	ts, _ := newTestServer(t, echoOrchestrator{}, nil, Backends{})

	if code := getJSON(t, ts.URL+"/v1/session/ws", nil); code != http.StatusBadRequest {
		t.Fatalf("missing session_id = %d, want 400", code)
	}
	if code := getJSON(t, ts.URL+"/v1/session/ws?session_id=missing", nil); code != http.StatusNotFound {
		t.Fatalf("unknown session = %d, want 404", code)
	}

	id := createSession(t, ts.URL)
	res, err := http.Post(ts.URL+"/v1/session/"+id+"/end", "application/json", nil)
	if err != nil {
		t.Fatalf("end error = %v", err)
	}
	res.Body.Close()
	if code := getJSON(t, ts.URL+"/v1/session/ws?session_id="+id, nil); code != http.StatusConflict {
		t.Fatalf("ended session = %d, want 409", code)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/session/ws?session_id=" + createSession(t, ts.URL)
	header := http.Header{"Origin": []string{"https://evil.example"}}
	if _, _, err := websocket.DefaultDialer.Dial(wsURL, header); err == nil {
		t.Fatalf("cross-origin dial should be rejected")
	}
}
