package stt

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newAssemblyAIServer(t *testing.T, handle func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func nextEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatalf("events channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return Event{}
}

func TestAssemblyAIStreamsAudioAndTurns(t *testing.T) {
	gotAuth := make(chan string, 1)
	gotQuery := make(chan string, 1)
	gotAudio := make(chan []byte, 1)
	gotTerminate := make(chan struct{}, 1)

	srv := newAssemblyAIServer(t, func(conn *websocket.Conn, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		gotQuery <- r.URL.RawQuery
		_ = conn.WriteJSON(map[string]any{"type": "Begin", "id": "s1"})

		mt, data, err := conn.ReadMessage()
		if err != nil || mt != websocket.BinaryMessage {
			return
		}
		gotAudio <- data
		_ = conn.WriteJSON(map[string]any{"type": "Turn", "transcript": "I feel", "end_of_turn": false})
		_ = conn.WriteJSON(map[string]any{"type": "Turn", "transcript": "I feel anxious", "end_of_turn": true})

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if strings.Contains(string(data), "Terminate") {
				gotTerminate <- struct{}{}
				return
			}
		}
	})

	p := NewAssemblyAIProvider(AssemblyAIConfig{APIKey: "key", WSURL: wsURL(srv), SampleRate: 16000})
	stream, err := p.Open(context.Background())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := stream.Send([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if auth := <-gotAuth; auth != "key" {
		t.Fatalf("Authorization = %q, want %q", auth, "key")
	}
	if q := <-gotQuery; !strings.Contains(q, "sample_rate=16000") || !strings.Contains(q, "encoding=pcm_s16le") {
		t.Fatalf("query = %q", q)
	}
	if audio := <-gotAudio; len(audio) != 4 {
		t.Fatalf("audio len = %d, want 4", len(audio))
	}

	partial := nextEvent(t, stream.Events())
	if partial.Type != EventTurn || partial.Final || partial.Text != "I feel" {
		t.Fatalf("partial = %+v", partial)
	}
	final := nextEvent(t, stream.Events())
	if !final.Final || final.Text != "I feel anxious" {
		t.Fatalf("final = %+v", final)
	}

	if err := stream.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	select {
	case <-gotTerminate:
	case <-time.After(2 * time.Second):
		t.Fatalf("server never saw Terminate")
	}
	if err := stream.Send([]byte{1}); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("Send() after close error = %v, want ErrStreamClosed", err)
	}
}

func TestAssemblyAIReportsUpstreamError(t *testing.T) {
	srv := newAssemblyAIServer(t, func(conn *websocket.Conn, _ *http.Request) {
		_ = conn.WriteJSON(map[string]any{"type": "Error", "error": "quota exceeded"})
		_, _, _ = conn.ReadMessage()
	})

	stream, err := NewAssemblyAIProvider(AssemblyAIConfig{APIKey: "key", WSURL: wsURL(srv)}).Open(context.Background())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer stream.Close()

	ev := nextEvent(t, stream.Events())
	if ev.Type != EventError || ev.Detail != "quota exceeded" {
		t.Fatalf("event = %+v, want upstream error", ev)
	}
}

func TestAssemblyAIOpenFailureIsServiceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewAssemblyAIProvider(AssemblyAIConfig{WSURL: wsURL(srv)}).Open(context.Background())
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("Open() error = %v, want ErrServiceUnavailable", err)
	}
}

func TestMockStreamReportsSimulatedFinals(t *testing.T) {
	s := NewMockStream(2)
	_ = s.Send([]byte{1})
	_ = s.Send([]byte{1})

	if ev := nextEvent(t, s.Events()); ev.Final {
		t.Fatalf("first event = %+v, want partial", ev)
	}
	if ev := nextEvent(t, s.Events()); !ev.Final || ev.Text != "simulated voice input 1" {
		t.Fatalf("second event = %+v, want final", ev)
	}
	_ = s.Close()
	if err := s.Send([]byte{1}); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("Send() after close error = %v, want ErrStreamClosed", err)
	}
}
