// Package tts multiplexes speech synthesis for every connection over a
// single shared streaming connection to the synthesis service.
package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ent0n29/voicecoach/internal/observability"
	"github.com/ent0n29/voicecoach/internal/persona"
	"github.com/ent0n29/voicecoach/internal/protocol"
)

const (
	dialTimeout  = 10 * time.Second
	writeTimeout = 5 * time.Second
)

var (
	ErrNotConnected = errors.New("synthesis service not connected")
	ErrWriteFailed  = errors.New("synthesis request write failed")
	ErrUnknownOwner = errors.New("unknown synthesis owner")
	ErrClosed       = errors.New("multiplexer closed")
)

// Owner is the connection a synthesis context reports back to. Deliver must
// not block: it is called from the shared read loop.
type Owner interface {
	SwapSynthesisContext(next string) (prev string)
	ClearSynthesisContext(id string) bool
	Deliver(msg any)
}

// Directory resolves connection ids to live owners.
type Directory interface {
	Lookup(ownerID string) (Owner, bool)
}

type synthContext struct {
	id          string
	owner       string
	conn        Conn
	chunks      [][]byte
	requestedAt time.Time
	gotAudio    bool
}

// Multiplexer owns the shared synthesis connection. Writes are serialized by
// writeMu; the read loop demultiplexes frames by context id.
type Multiplexer struct {
	dial    Dialer
	dir     Directory
	metrics *observability.Metrics
	group   singleflight.Group

	writeMu sync.Mutex

	mu       sync.Mutex
	conn     Conn
	contexts map[string]*synthContext
	counters map[string]uint64
	closed   bool
}

func NewMultiplexer(dial Dialer, dir Directory, metrics *observability.Metrics) *Multiplexer {
	return &Multiplexer{
		dial:     dial,
		dir:      dir,
		metrics:  metrics,
		contexts: make(map[string]*synthContext),
		counters: make(map[string]uint64),
	}
}

type voiceConfigFrame struct {
	VoiceID   string `json:"voiceId"`
	Style     string `json:"style"`
	Rate      int    `json:"rate"`
	Pitch     int    `json:"pitch"`
	Variation int    `json:"variation"`
}

type requestFrame struct {
	ContextID   string           `json:"context_id"`
	VoiceConfig voiceConfigFrame `json:"voice_config"`
	Text        string           `json:"text"`
	End         bool             `json:"end"`
}

type clearFrame struct {
	ContextID string `json:"context_id"`
	Clear     bool   `json:"clear"`
}

type inboundFrame struct {
	ContextID string          `json:"context_id"`
	Audio     string          `json:"audio"`
	IsFinal   bool            `json:"is_final"`
	Final     bool            `json:"final"`
	Error     json.RawMessage `json:"error"`
}

// Synthesize requests speech for text on behalf of ownerID and returns the new
// context id. Any synthesis still active for the owner is cancelled first.
// A failed write is reported to the owner before the error is returned.
func (m *Multiplexer) Synthesize(ctx context.Context, ownerID, text string, voice persona.Voice) (string, error) {
	owner, ok := m.dir.Lookup(ownerID)
	if !ok {
		return "", ErrUnknownOwner
	}
	conn, err := m.connect(ctx)
	if err != nil {
		return "", err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	m.counters[ownerID]++
	contextID := fmt.Sprintf("%s_turn_%d", ownerID, m.counters[ownerID])
	m.mu.Unlock()

	if prev := owner.SwapSynthesisContext(contextID); prev != "" {
		m.forget(prev)
		if err := m.writeLocked(conn, clearFrame{ContextID: prev, Clear: true}); err != nil {
			slog.Warn("tts: could not clear previous context", "context_id", prev, "error", err)
		}
	}

	m.mu.Lock()
	m.contexts[contextID] = &synthContext{id: contextID, owner: ownerID, conn: conn, requestedAt: time.Now()}
	m.updateInFlightLocked()
	m.mu.Unlock()

	req := requestFrame{
		ContextID: contextID,
		VoiceConfig: voiceConfigFrame{
			VoiceID:   voice.VoiceID,
			Style:     voice.Style,
			Rate:      voice.Rate,
			Pitch:     voice.Pitch,
			Variation: voice.Variation,
		},
		Text: strings.TrimSpace(text),
		End:  true,
	}
	if err := m.writeLocked(conn, req); err != nil {
		m.forget(contextID)
		owner.ClearSynthesisContext(contextID)
		owner.Deliver(protocol.ErrorEvent{Error: "Failed to send TTS request: " + err.Error()})
		m.providerError("write_failed")
		m.discard(conn)
		return contextID, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	slog.Debug("tts: request sent", "owner", ownerID, "context_id", contextID, "voice", voice.VoiceID)
	return contextID, nil
}

// Cancel stops any synthesis in flight for ownerID. It never dials: with no
// open connection there is nothing to clear upstream.
func (m *Multiplexer) Cancel(ownerID string) {
	if owner, ok := m.dir.Lookup(ownerID); ok {
		owner.SwapSynthesisContext("")
	}

	m.mu.Lock()
	var ids []string
	for id, sc := range m.contexts {
		if sc.owner == ownerID {
			ids = append(ids, id)
			delete(m.contexts, id)
		}
	}
	m.updateInFlightLocked()
	conn := m.conn
	m.mu.Unlock()

	if conn == nil || len(ids) == 0 {
		return
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	for _, id := range ids {
		if err := m.writeLocked(conn, clearFrame{ContextID: id, Clear: true}); err != nil {
			slog.Warn("tts: could not clear context", "context_id", id, "error", err)
			return
		}
	}
}

// Release cancels the owner's synthesis and forgets its context counter.
func (m *Multiplexer) Release(ownerID string) {
	m.Cancel(ownerID)
	m.mu.Lock()
	delete(m.counters, ownerID)
	m.mu.Unlock()
}

// Pending returns how many contexts await completion.
func (m *Multiplexer) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.contexts)
}

func (m *Multiplexer) Close() error {
	m.mu.Lock()
	m.closed = true
	conn := m.conn
	m.conn = nil
	m.contexts = make(map[string]*synthContext)
	m.updateInFlightLocked()
	m.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (m *Multiplexer) connect(ctx context.Context) (Conn, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if c := m.conn; c != nil {
		m.mu.Unlock()
		return c, nil
	}
	m.mu.Unlock()

	v, err, _ := m.group.Do("dial", func() (any, error) {
		m.mu.Lock()
		if c := m.conn; c != nil {
			m.mu.Unlock()
			return c, nil
		}
		m.mu.Unlock()

		// Concurrent callers share this dial, so it must not die with the
		// first caller's request.
		dialCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dialTimeout)
		defer cancel()
		c, err := m.dial(dialCtx)
		if err != nil {
			m.providerError("dial_failed")
			return nil, fmt.Errorf("%w: %w", ErrNotConnected, err)
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			_ = c.Close()
			return nil, ErrClosed
		}
		m.conn = c
		m.mu.Unlock()

		slog.Info("tts: synthesis connection open")
		go m.readLoop(c)
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Conn), nil
}

func (m *Multiplexer) writeLocked(conn Conn, frame any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(frame)
}

func (m *Multiplexer) forget(contextID string) {
	m.mu.Lock()
	delete(m.contexts, contextID)
	m.updateInFlightLocked()
	m.mu.Unlock()
}

// discard drops a broken connection so the next request dials again.
func (m *Multiplexer) discard(conn Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
	_ = conn.Close()
}

func (m *Multiplexer) readLoop(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleConnLoss(conn, err)
			return
		}
		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Debug("tts: skipping malformed frame", "error", err)
			continue
		}
		m.dispatch(frame)
	}
}

func (m *Multiplexer) dispatch(frame inboundFrame) {
	errText := frameError(frame.Error)
	final := frame.IsFinal || frame.Final

	m.mu.Lock()
	sc, ok := m.contexts[frame.ContextID]
	if !ok {
		m.mu.Unlock()
		// Cancelled or finished contexts can still receive in-flight frames.
		m.sessionEvent("tts_late_frame_dropped")
		return
	}
	firstAudio := false
	var latency time.Duration
	if frame.Audio != "" {
		if decoded, err := base64.StdEncoding.DecodeString(frame.Audio); err == nil {
			sc.chunks = append(sc.chunks, decoded)
		}
		if !sc.gotAudio {
			sc.gotAudio = true
			firstAudio = true
			latency = time.Since(sc.requestedAt)
		}
	}
	if final || errText != "" {
		delete(m.contexts, frame.ContextID)
		m.updateInFlightLocked()
	}
	ownerID := sc.owner
	chunks := len(sc.chunks)
	m.mu.Unlock()

	owner, ok := m.dir.Lookup(ownerID)
	if !ok {
		return
	}
	if frame.Audio != "" {
		if firstAudio && m.metrics != nil {
			m.metrics.ObserveFirstAudioLatency(latency)
		}
		owner.Deliver(protocol.AudioChunk{TTSAudioChunk: frame.Audio, ContextID: frame.ContextID})
	}
	if final {
		owner.ClearSynthesisContext(frame.ContextID)
		owner.Deliver(protocol.AudioDone{TTSDone: true, ContextID: frame.ContextID})
		slog.Debug("tts: context complete", "context_id", frame.ContextID, "chunks", chunks)
	}
	if errText != "" {
		owner.ClearSynthesisContext(frame.ContextID)
		owner.Deliver(protocol.ErrorEvent{Error: "TTS error: " + errText})
		m.providerError("upstream_error")
	}
}

// handleConnLoss fails every context that was issued on conn.
func (m *Multiplexer) handleConnLoss(conn Conn, cause error) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	closed := m.closed
	var lost []*synthContext
	for id, sc := range m.contexts {
		if sc.conn == conn {
			lost = append(lost, sc)
			delete(m.contexts, id)
		}
	}
	m.updateInFlightLocked()
	m.mu.Unlock()
	_ = conn.Close()

	if closed {
		return
	}
	slog.Warn("tts: synthesis connection lost", "error", cause, "pending", len(lost))
	if len(lost) > 0 {
		m.providerError("connection_lost")
	}
	for _, sc := range lost {
		owner, ok := m.dir.Lookup(sc.owner)
		if !ok {
			continue
		}
		owner.ClearSynthesisContext(sc.id)
		owner.Deliver(protocol.ErrorEvent{Error: "TTS error: connection closed"})
	}
}

func (m *Multiplexer) updateInFlightLocked() {
	if m.metrics != nil {
		m.metrics.SynthesisInFlight.Set(float64(len(m.contexts)))
	}
}

func (m *Multiplexer) providerError(code string) {
	if m.metrics != nil {
		m.metrics.ObserveProviderError("tts", code)
	}
}

func (m *Multiplexer) sessionEvent(event string) {
	if m.metrics != nil {
		m.metrics.SessionEvents.WithLabelValues(event).Inc()
	}
}

func frameError(raw json.RawMessage) string {
	switch string(raw) {
	case "", "null", "false", `""`:
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
