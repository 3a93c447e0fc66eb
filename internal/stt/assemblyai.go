package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/voicecoach/internal/reliability"
)

const (
	assemblyAIDefaultURL  = "wss://streaming.assemblyai.com/v3/ws"
	assemblyAIEncoding    = "pcm_s16le"
	assemblyAIWriteWait   = 5 * time.Second
	assemblyAIAudioQueue  = 128
	assemblyAIEventBuffer = 128
)

type AssemblyAIConfig struct {
	APIKey     string
	WSURL      string
	SampleRate int
}

type AssemblyAIProvider struct {
	cfg    AssemblyAIConfig
	dialer *websocket.Dialer
}

func NewAssemblyAIProvider(cfg AssemblyAIConfig) *AssemblyAIProvider {
	if strings.TrimSpace(cfg.WSURL) == "" {
		cfg.WSURL = assemblyAIDefaultURL
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	return &AssemblyAIProvider{cfg: cfg, dialer: websocket.DefaultDialer}
}

func (p *AssemblyAIProvider) Open(ctx context.Context) (Stream, error) {
	u, err := url.Parse(p.cfg.WSURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(p.cfg.SampleRate))
	q.Set("encoding", assemblyAIEncoding)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", p.cfg.APIKey)

	conn, resp, err := p.dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, fmt.Errorf("%w: dial assemblyai: %w", ErrServiceUnavailable, reliability.WithStatus(err, resp))
	}

	s := &assemblyAIStream{
		conn:   conn,
		audio:  make(chan []byte, assemblyAIAudioQueue),
		events: make(chan Event, assemblyAIEventBuffer),
		done:   make(chan struct{}),
	}
	go s.writeLoop()
	go s.readLoop()
	return s, nil
}

type assemblyAIStream struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	audio     chan []byte
	events    chan Event
	done      chan struct{}
}

type assemblyAIMessage struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	EndOfTurn  bool   `json:"end_of_turn"`
	Error      string `json:"error"`
}

func (s *assemblyAIStream) Send(frame []byte) error {
	select {
	case <-s.done:
		return ErrStreamClosed
	default:
	}
	select {
	case s.audio <- frame:
		return nil
	default:
		return ErrBackpressure
	}
}

func (s *assemblyAIStream) Events() <-chan Event { return s.events }

func (s *assemblyAIStream) Close() error {
	var retErr error
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(assemblyAIWriteWait))
		_ = s.conn.WriteJSON(map[string]string{"type": "Terminate"})
		s.writeMu.Unlock()
		retErr = s.conn.Close()
	})
	return retErr
}

func (s *assemblyAIStream) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.audio:
			s.writeMu.Lock()
			_ = s.conn.SetWriteDeadline(time.Now().Add(assemblyAIWriteWait))
			err := s.conn.WriteMessage(websocket.BinaryMessage, frame)
			s.writeMu.Unlock()
			if err != nil {
				s.emit(Event{Type: EventError, Code: "write_failed", Detail: err.Error()})
				_ = s.Close()
				return
			}
		}
	}
}

func (s *assemblyAIStream) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure) {
					s.emit(Event{Type: EventError, Code: "connection_closed", Detail: err.Error()})
				}
				_ = s.Close()
			}
			return
		}

		var msg assemblyAIMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("assemblyai: skipping malformed message", "error", err)
			continue
		}
		switch msg.Type {
		case "Turn":
			s.emit(Event{Type: EventTurn, Text: msg.Transcript, Final: msg.EndOfTurn})
		case "Begin", "Termination":
			// session bookkeeping only
		default:
			if msg.Error != "" {
				s.emit(Event{Type: EventError, Code: "upstream_error", Detail: msg.Error})
			}
		}
	}
}

func (s *assemblyAIStream) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}
