package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/voicecoach/internal/config"
	"github.com/ent0n29/voicecoach/internal/observability"
	"github.com/ent0n29/voicecoach/internal/persona"
	"github.com/ent0n29/voicecoach/internal/protocol"
	"github.com/ent0n29/voicecoach/internal/report"
	"github.com/ent0n29/voicecoach/internal/session"
)

// echoOrchestrator records inbound messages and answers control frames the
// way the real connection loop would.
type echoOrchestrator struct {
	mu       sync.Mutex
	received []any
	finished chan string
}

func newEchoOrchestrator() *echoOrchestrator {
	return &echoOrchestrator{finished: make(chan string, 4)}
}

func (o *echoOrchestrator) RunConnection(ctx context.Context, s *session.Session, inbound <-chan any) error {
	defer func() { o.finished <- s.ID }()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			o.mu.Lock()
			o.received = append(o.received, msg)
			o.mu.Unlock()
			switch m := msg.(type) {
			case protocol.SelectCoach:
				s.Outbound() <- protocol.NewCoachSetup(m.Coach.Name)
			case protocol.ErrorEvent:
				s.Outbound() <- m
			case protocol.AudioFrame:
				s.Outbound() <- protocol.Partial{Partial: fmt.Sprintf("%d bytes", len(m.PCM))}
			}
		}
	}
}

func (o *echoOrchestrator) messages() []any {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]any(nil), o.received...)
}

func newTestServer(t *testing.T, cfg config.Config) (*httptest.Server, *echoOrchestrator) {
	t.Helper()
	ts, orch, _ := newTestServerWithReports(t, cfg)
	return ts, orch
}

func newTestServerWithReports(t *testing.T, cfg config.Config) (*httptest.Server, *echoOrchestrator, *report.InMemoryStore) {
	t.Helper()
	metrics := observability.NewMetrics(fmt.Sprintf("voicecoach_test_httpapi_%d", time.Now().UnixNano()))
	registry := session.NewRegistry(persona.DefaultVoice("", ""))
	orch := newEchoOrchestrator()
	store := report.NewInMemoryStore()
	reports := report.NewService(report.HeuristicAnalyzer{}, store)
	ts := httptest.NewServer(New(cfg, registry, orch, reports, metrics).Router())
	t.Cleanup(ts.Close)
	return ts, orch, store
}

func dial(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, res, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial(%s) error = %v", path, err)
	}
	if res.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("Dial(%s) status = %d, want %d", path, res.StatusCode, http.StatusSwitchingProtocols)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return frame
}

func TestPlainRoutes(t *testing.T) {
	ts, _ := newTestServer(t, config.Config{VoiceProvider: config.VoiceProviderMock})

	res, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET / error = %v", err)
	}
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("GET / status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if string(body) != banner {
		t.Fatalf("GET / body = %q, want %q", body, banner)
	}

	for _, path := range []string{"/healthz", "/readyz", "/debug/latency", "/metrics"} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want %d", path, res.StatusCode, http.StatusOK)
		}
	}
}

func TestLatencySnapshot(t *testing.T) {
	ts, _ := newTestServer(t, config.Config{})

	res, err := http.Get(ts.URL + "/debug/latency")
	if err != nil {
		t.Fatalf("GET /debug/latency error = %v", err)
	}
	defer res.Body.Close()
	var snap observability.StageSnapshot
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		t.Fatalf("decode latency snapshot: %v", err)
	}
	if snap.WindowSize != 256 {
		t.Fatalf("window_size = %d, want 256", snap.WindowSize)
	}
}

func TestWebSocketRoutesFrames(t *testing.T) {
	ts, orch := newTestServer(t, config.Config{})
	conn := dial(t, ts, "/ws")

	selectCoach := `{"type":"selectCoach","coach":{"_id":"c1","name":"Ava","prompt":"p","initialAIResponse":"hi"},"userId":"u1"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(selectCoach)); err != nil {
		t.Fatalf("write selectCoach: %v", err)
	}
	frame := readFrame(t, conn)
	if frame["type"] != "coachSetup" || frame["coach"] != "Ava" {
		t.Fatalf("coach setup frame = %+v", frame)
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	frame = readFrame(t, conn)
	if frame["partial"] != "4 bytes" {
		t.Fatalf("audio echo frame = %+v, want partial of 4 bytes", frame)
	}

	msgs := orch.messages()
	if len(msgs) != 2 {
		t.Fatalf("received %d messages, want 2", len(msgs))
	}
	if got, ok := msgs[0].(protocol.SelectCoach); !ok || got.UserID != "u1" {
		t.Fatalf("first message = %#v, want selectCoach for u1", msgs[0])
	}
	if _, ok := msgs[1].(protocol.AudioFrame); !ok {
		t.Fatalf("second message = %T, want protocol.AudioFrame", msgs[1])
	}
}

func TestInvalidControlMessageKeepsConnection(t *testing.T) {
	ts, _ := newTestServer(t, config.Config{})
	conn := dial(t, ts, "/")

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance"}`)); err != nil {
		t.Fatalf("write invalid message: %v", err)
	}
	frame := readFrame(t, conn)
	got, _ := frame["error"].(string)
	want := "Invalid message: " + protocol.ErrUnsupportedType.Error()
	if got != want {
		t.Fatalf("error = %q, want %q", got, want)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":`)); err != nil {
		t.Fatalf("write malformed message: %v", err)
	}
	frame = readFrame(t, conn)
	if got, _ := frame["error"].(string); !strings.HasPrefix(got, "Invalid message: ") {
		t.Fatalf("error = %q, want Invalid message prefix", got)
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{9, 9}); err != nil {
		t.Fatalf("write audio after error: %v", err)
	}
	frame = readFrame(t, conn)
	if frame["partial"] != "2 bytes" {
		t.Fatalf("frame after error = %+v, want audio echo", frame)
	}
}

func TestDisconnectEndsConnectionLoop(t *testing.T) {
	ts, orch := newTestServer(t, config.Config{})
	conn := dial(t, ts, "/ws")

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()

	select {
	case id := <-orch.finished:
		if id == "" {
			t.Fatalf("finished session id is empty")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("connection loop did not finish after disconnect")
	}
}

func TestOriginCheck(t *testing.T) {
	tests := []struct {
		name       string
		allowAny   bool
		origin     string
		wantStatus int
	}{
		{name: "cross origin rejected", origin: "http://evil.example", wantStatus: http.StatusForbidden},
		{name: "cross origin allowed when configured", allowAny: true, origin: "http://evil.example", wantStatus: http.StatusSwitchingProtocols},
		{name: "non-http scheme rejected", origin: "file://local", wantStatus: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, _ := newTestServer(t, config.Config{AllowAnyOrigin: tt.allowAny})
			url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
			header := http.Header{"Origin": []string{tt.origin}}
			conn, res, err := websocket.DefaultDialer.Dial(url, header)
			if conn != nil {
				defer conn.Close()
			}
			if res == nil {
				t.Fatalf("Dial() error = %v, no response", err)
			}
			if res.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.wantStatus)
			}
		})
	}

	t.Run("same origin allowed", func(t *testing.T) {
		ts, _ := newTestServer(t, config.Config{})
		url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
		conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{ts.URL}})
		if err != nil {
			t.Fatalf("Dial() same origin error = %v", err)
		}
		conn.Close()
	})
}

func TestGetReport(t *testing.T) {
	ts, _, store := newTestServerWithReports(t, config.Config{})
	rec := report.Record{
		ID:      "rec-1",
		UserID:  "u1",
		CoachID: "c1",
		Type:    report.TypeTherapy,
		Report:  json.RawMessage(`{"overallScore":40}`),
	}
	if err := store.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	res, err := http.Get(ts.URL + "/api/reports/rec-1")
	if err != nil {
		t.Fatalf("GET report error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("GET report status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var got report.Record
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if got.ID != "rec-1" || got.UserID != "u1" || got.Type != report.TypeTherapy {
		t.Fatalf("report = %+v, want rec-1 for u1", got)
	}

	missing, err := http.Get(ts.URL + "/api/reports/nope")
	if err != nil {
		t.Fatalf("GET missing report error = %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("GET missing report status = %d, want %d", missing.StatusCode, http.StatusNotFound)
	}
}
