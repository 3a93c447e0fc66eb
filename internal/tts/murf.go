package tts

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/voicecoach/internal/reliability"
)

const murfDefaultURL = "wss://api.murf.ai/v1/speech/stream-input"

type MurfConfig struct {
	APIKey     string
	WSURL      string
	SampleRate int
	Format     string
}

// Conn is the subset of a websocket connection the multiplexer needs.
// *websocket.Conn satisfies it.
type Conn interface {
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Dialer opens a new connection to the synthesis service.
type Dialer func(ctx context.Context) (Conn, error)

// NewMurfDialer returns a Dialer for Murf's stream-input websocket.
func NewMurfDialer(cfg MurfConfig) Dialer {
	if strings.TrimSpace(cfg.WSURL) == "" {
		cfg.WSURL = murfDefaultURL
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44100
	}
	if strings.TrimSpace(cfg.Format) == "" {
		cfg.Format = "MP3"
	}
	return func(ctx context.Context) (Conn, error) {
		u, err := url.Parse(cfg.WSURL)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		q.Set("api-key", cfg.APIKey)
		q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
		q.Set("channel_type", "MONO")
		q.Set("format", cfg.Format)
		u.RawQuery = q.Encode()

		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("dial murf websocket: %w", reliability.WithStatus(err, resp))
		}
		return conn, nil
	}
}
