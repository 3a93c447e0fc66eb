package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var errMockClosed = errors.New("mock synthesis connection closed")

// NewMockDialer returns a Dialer for an in-process synthesis service. Each
// request is answered with one audio frame carrying the text bytes and a
// final frame; clear requests are acknowledged silently.
func NewMockDialer() Dialer {
	return func(context.Context) (Conn, error) {
		return newMockConn(), nil
	}
}

type mockConn struct {
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

func newMockConn() *mockConn {
	return &mockConn{frames: make(chan []byte, 128), done: make(chan struct{})}
}

func (c *mockConn) WriteJSON(v any) error {
	select {
	case <-c.done:
		return errMockClosed
	default:
	}
	req, ok := v.(requestFrame)
	if !ok || strings.TrimSpace(req.Text) == "" {
		return nil
	}
	audio, _ := json.Marshal(inboundFrame{
		ContextID: req.ContextID,
		Audio:     base64.StdEncoding.EncodeToString([]byte(req.Text)),
	})
	final, _ := json.Marshal(inboundFrame{ContextID: req.ContextID, IsFinal: true})
	for _, frame := range [][]byte{audio, final} {
		select {
		case c.frames <- frame:
		case <-c.done:
			return errMockClosed
		}
	}
	return nil
}

func (c *mockConn) SetWriteDeadline(time.Time) error { return nil }

func (c *mockConn) ReadMessage() (int, []byte, error) {
	select {
	case frame := <-c.frames:
		return websocket.TextMessage, frame, nil
	case <-c.done:
		return 0, nil, errMockClosed
	}
}

func (c *mockConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}
