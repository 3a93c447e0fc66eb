package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/voicecoach/internal/dialogue"
	"github.com/ent0n29/voicecoach/internal/observability"
	"github.com/ent0n29/voicecoach/internal/persona"
	"github.com/ent0n29/voicecoach/internal/protocol"
	"github.com/ent0n29/voicecoach/internal/report"
	"github.com/ent0n29/voicecoach/internal/session"
	"github.com/ent0n29/voicecoach/internal/stt"
)

const waitTimeout = 2 * time.Second

type fakeSTT struct {
	err error

	mu      sync.Mutex
	streams []*stt.MockStream
}

func (f *fakeSTT) Open(context.Context) (stt.Stream, error) {
	if f.err != nil {
		return nil, f.err
	}
	s := stt.NewMockStream(0)
	f.mu.Lock()
	f.streams = append(f.streams, s)
	f.mu.Unlock()
	return s, nil
}

func (f *fakeSTT) opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams)
}

func (f *fakeSTT) stream(i int) *stt.MockStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[i]
}

type synthCall struct {
	owner string
	text  string
	voice persona.Voice
}

type fakeSynth struct {
	err error

	mu       sync.Mutex
	calls    []synthCall
	cancels  []string
	releases []string
}

func (f *fakeSynth) Synthesize(_ context.Context, ownerID, text string, voice persona.Voice) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, synthCall{owner: ownerID, text: text, voice: voice})
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("%s_turn_%d", ownerID, len(f.calls)), nil
}

func (f *fakeSynth) Cancel(ownerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, ownerID)
}

func (f *fakeSynth) Release(ownerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases = append(f.releases, ownerID)
}

func (f *fakeSynth) snapshot() (calls []synthCall, cancels, releases []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]synthCall(nil), f.calls...), append([]string(nil), f.cancels...), append([]string(nil), f.releases...)
}

type fakeHandoff struct {
	id  string
	err error

	mu   sync.Mutex
	reqs []report.Request
}

func (f *fakeHandoff) SaveSession(_ context.Context, req report.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.id, f.err
}

func (f *fakeHandoff) requests() []report.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]report.Request(nil), f.reqs...)
}

// blockingDialogue streams "a" for the utterance "first" and then waits for
// cancellation; any other utterance gets "b".
type blockingDialogue struct{}

func (blockingDialogue) Open(context.Context, string) (dialogue.Conversation, error) {
	return blockingConversation{}, nil
}

type blockingConversation struct{}

func (blockingConversation) Generate(ctx context.Context, text string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if text == "first" {
			if !yield("a", nil) {
				return
			}
			<-ctx.Done()
			yield("", ctx.Err())
			return
		}
		yield("b", nil)
	}
}

type env struct {
	t        *testing.T
	registry *session.Registry
	orch     *Orchestrator
	stt      *fakeSTT
	synth    *fakeSynth
	handoff  *fakeHandoff
	dialogue dialogue.Provider
	metrics  *observability.Metrics
}

type envOption func(*env)

func withDialogue(p dialogue.Provider) envOption { return func(e *env) { e.dialogue = p } }

func newEnv(t *testing.T, opts ...envOption) *env {
	t.Helper()
	e := &env{
		t:        t,
		registry: session.NewRegistry(persona.DefaultVoice("", "")),
		stt:      &fakeSTT{},
		synth:    &fakeSynth{},
		handoff:  &fakeHandoff{id: "record-1"},
		dialogue: &dialogue.MockProvider{Reply: func(_, _ string) ([]string, error) {
			return []string{"It's", " okay", " to feel that way."}, nil
		}},
		metrics: observability.NewMetrics(fmt.Sprintf("voicecoach_test_voice_%d", time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.orch = NewOrchestrator(e.registry, e.stt, e.dialogue, e.synth, e.handoff, e.metrics, Config{ReportTimeout: time.Second})
	return e
}

// useSynthesizer swaps the fake for s. Call it before connecting clients.
func (e *env) useSynthesizer(s Synthesizer) {
	e.orch.synth = s
}

type client struct {
	t       *testing.T
	sess    *session.Session
	inbound chan any
	out     chan any
	done    chan error
	cancel  context.CancelFunc
	stream  *stt.MockStream
}

// connect starts a connection loop and waits for its transcription stream.
func (e *env) connect() *client {
	e.t.Helper()
	before := e.stt.opened()
	out := make(chan any, 64)
	c := &client{
		t:       e.t,
		sess:    e.registry.Create(out),
		inbound: make(chan any, 16),
		out:     out,
		done:    make(chan error, 1),
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	e.t.Cleanup(cancel)
	go func() { c.done <- e.orch.RunConnection(ctx, c.sess, c.inbound) }()

	if e.stt.err == nil {
		eventually(e.t, func() bool { return e.stt.opened() > before })
		c.stream = e.stt.stream(before)
	}
	return c
}

func (c *client) send(msg any) {
	c.t.Helper()
	select {
	case c.inbound <- msg:
	case <-time.After(waitTimeout):
		c.t.Fatalf("timed out queueing %T", msg)
	}
}

func (c *client) emit(ev stt.Event) {
	c.t.Helper()
	if err := c.stream.Emit(ev); err != nil {
		c.t.Fatalf("Emit(%+v) error = %v", ev, err)
	}
}

func (c *client) next() any {
	c.t.Helper()
	select {
	case msg := <-c.out:
		return msg
	case <-time.After(waitTimeout):
		c.t.Fatalf("timed out waiting for outbound message")
		return nil
	}
}

// disconnect closes the inbound queue and waits for the loop to finish.
func (c *client) disconnect() {
	c.t.Helper()
	close(c.inbound)
	select {
	case err := <-c.done:
		if err != nil {
			c.t.Fatalf("RunConnection() error = %v", err)
		}
	case <-time.After(waitTimeout):
		c.t.Fatalf("timed out waiting for connection teardown")
	}
}

func expect[T any](c *client) T {
	c.t.Helper()
	msg := c.next()
	got, ok := msg.(T)
	if !ok {
		var zero T
		c.t.Fatalf("outbound = %T (%+v), want %T", msg, msg, zero)
	}
	return got
}

func expectError(c *client, want string) {
	c.t.Helper()
	got := expect[protocol.ErrorEvent](c)
	if got.Error != want {
		c.t.Fatalf("error = %q, want %q", got.Error, want)
	}
}

// expectQuiet proves nothing else was queued by round-tripping a partial.
func expectQuiet(c *client, marker string) {
	c.t.Helper()
	c.emit(stt.Event{Type: stt.EventTurn, Text: marker})
	got := expect[protocol.Partial](c)
	if got.Partial != marker {
		c.t.Fatalf("partial = %q, want %q", got.Partial, marker)
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", waitTimeout)
}

func intPtr(v int) *int { return &v }

func testCoach() *persona.Persona {
	return &persona.Persona{
		ID:                "coach-1",
		Name:              "Ava",
		Prompt:            "You are a calm public speaking coach.",
		InitialAIResponse: "Hi, I'm Ava. What would you like to work on?",
		VoiceSettings:     &persona.VoiceSettings{VoiceID: "en-US-natalie", Rate: intPtr(-5)},
	}
}

// selectAndStart brings c into an active session and drains the opening
// messages.
func selectAndStart(c *client) {
	c.t.Helper()
	c.send(protocol.SelectCoach{Type: protocol.TypeSelectCoach, Coach: testCoach(), UserID: "user-7"})
	expect[protocol.CoachSetup](c)
	c.send(protocol.StartSession{Type: protocol.TypeStartSession, CoachType: "communication-coach"})
	expect[protocol.InitialMessage](c)
	expect[protocol.ReplyDone](c)
}

// pipeConn is an in-memory synthesis connection.
type pipeConn struct {
	writes chan []byte
	reads  chan []byte
	closed chan struct{}
	once   sync.Once
}

func newPipeConn() *pipeConn {
	return &pipeConn{writes: make(chan []byte, 16), reads: make(chan []byte, 16), closed: make(chan struct{})}
}

func (p *pipeConn) WriteJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case p.writes <- b:
		return nil
	case <-p.closed:
		return io.ErrClosedPipe
	}
}

func (p *pipeConn) SetWriteDeadline(time.Time) error { return nil }

func (p *pipeConn) ReadMessage() (int, []byte, error) {
	select {
	case b := <-p.reads:
		return websocket.TextMessage, b, nil
	case <-p.closed:
		return 0, nil, io.EOF
	}
}

func (p *pipeConn) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *pipeConn) nextWrite(t *testing.T) map[string]any {
	t.Helper()
	select {
	case b := <-p.writes:
		var frame map[string]any
		if err := json.Unmarshal(b, &frame); err != nil {
			t.Fatalf("decode written frame: %v", err)
		}
		return frame
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for synthesis frame")
		return nil
	}
}
