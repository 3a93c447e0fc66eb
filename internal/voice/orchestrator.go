// Package voice runs the per-connection coaching loop: it ties transcription,
// dialogue and synthesis together for one client connection.
package voice

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ent0n29/voicecoach/internal/dialogue"
	"github.com/ent0n29/voicecoach/internal/observability"
	"github.com/ent0n29/voicecoach/internal/persona"
	"github.com/ent0n29/voicecoach/internal/policy"
	"github.com/ent0n29/voicecoach/internal/protocol"
	"github.com/ent0n29/voicecoach/internal/reliability"
	"github.com/ent0n29/voicecoach/internal/report"
	"github.com/ent0n29/voicecoach/internal/session"
	"github.com/ent0n29/voicecoach/internal/stt"
	"github.com/ent0n29/voicecoach/internal/tts"
)

// Client-facing error texts.
const (
	msgIncompleteCoach  = "Coach configuration is incomplete (missing prompt or initial response)"
	msgNoCoach          = "No coach selected"
	msgSelectCoachFirst = "Please select a coach first before starting conversation."
	msgSTTInitFailed    = "Failed to initialize transcription service"
	msgTTSUnavailable   = "TTS service unavailable, but you can continue with text"
)

const (
	criticalSendTimeout  = 600 * time.Millisecond
	defaultReportTimeout = 60 * time.Second
	replyQueueSize       = 64
)

// Synthesizer is the slice of the synthesis multiplexer the loop drives.
type Synthesizer interface {
	Synthesize(ctx context.Context, ownerID, text string, voice persona.Voice) (string, error)
	Cancel(ownerID string)
	Release(ownerID string)
}

type Config struct {
	ReportTimeout time.Duration
}

type Orchestrator struct {
	registry      *session.Registry
	stt           stt.Provider
	dialogue      dialogue.Provider
	synth         Synthesizer
	reports       report.Handoff
	metrics       *observability.Metrics
	reportTimeout time.Duration
	now           func() time.Time
}

func NewOrchestrator(
	registry *session.Registry,
	sttProvider stt.Provider,
	dialogueProvider dialogue.Provider,
	synth Synthesizer,
	reports report.Handoff,
	metrics *observability.Metrics,
	cfg Config,
) *Orchestrator {
	timeout := cfg.ReportTimeout
	if timeout <= 0 {
		timeout = defaultReportTimeout
	}
	return &Orchestrator{
		registry:      registry,
		stt:           sttProvider,
		dialogue:      dialogueProvider,
		synth:         synth,
		reports:       reports,
		metrics:       metrics,
		reportTimeout: timeout,
		now:           time.Now,
	}
}

type sttResult struct {
	stream stt.Stream
	err    error
}

type replyEvent struct {
	gen      uint64
	fragment string
	err      error
	done     bool
}

// connection is the loop-owned state of one client connection. Only the
// RunConnection goroutine touches it.
type connection struct {
	o    *Orchestrator
	s    *session.Session
	out  chan<- any
	done chan struct{}

	sttPending <-chan sttResult
	stream     stt.Stream
	sttEvents  <-chan stt.Event

	conv        dialogue.Conversation
	replies     chan replyEvent
	gen         uint64
	cancelGen   context.CancelFunc
	reply       strings.Builder
	turnStarted time.Time
	firstChunk  bool
}

// RunConnection drives s until inbound is closed or ctx ends. It owns the
// session's transcription stream and dialogue, and tears the session down on
// return.
func (o *Orchestrator) RunConnection(ctx context.Context, s *session.Session, inbound <-chan any) error {
	c := &connection{
		o:       o,
		s:       s,
		out:     s.Outbound(),
		done:    make(chan struct{}),
		replies: make(chan replyEvent, replyQueueSize),
	}
	o.metrics.ActiveSessions.Inc()
	o.sessionEvent("connected")
	slog.Info("connection opened", "session_id", s.ID)

	pending := make(chan sttResult, 1)
	c.sttPending = pending
	go func() {
		stream, err := o.stt.Open(ctx)
		pending <- sttResult{stream: stream, err: err}
	}()

	defer c.teardown(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			c.handleInbound(ctx, msg)
		case res := <-c.sttPending:
			c.attachTranscription(res)
		case ev, ok := <-c.sttEvents:
			if !ok {
				c.sttEvents = nil
				continue
			}
			c.handleTranscript(ctx, ev)
		case ev := <-c.replies:
			c.handleReply(ctx, ev)
		}
	}
}

func (c *connection) handleInbound(ctx context.Context, msg any) {
	switch m := msg.(type) {
	case protocol.AudioFrame:
		c.forwardAudio(m.PCM)
	case protocol.SelectCoach:
		c.selectCoach(ctx, m)
	case protocol.StartSession:
		c.startSession(ctx, m)
	case protocol.EndSession:
		c.endSession(ctx)
	case protocol.UpdateVoiceConfig:
		if err := c.s.UpdateVoice(m.VoiceConfig); err != nil {
			slog.Debug("voice update ignored", "session_id", c.s.ID, "error", err)
		}
	case protocol.ErrorEvent:
		c.o.send(c.out, m)
	default:
		slog.Warn("unhandled inbound message", "session_id", c.s.ID, "type", protocol.EventName(msg))
	}
}

func (c *connection) attachTranscription(res sttResult) {
	c.sttPending = nil
	if res.err != nil {
		c.o.providerError("stt", res.err)
		slog.Error("transcription open failed", "session_id", c.s.ID, "error", policy.ForLog(res.err.Error()))
		c.o.send(c.out, protocol.ErrorEvent{Error: msgSTTInitFailed})
		return
	}
	c.stream = res.stream
	c.sttEvents = res.stream.Events()
	slog.Debug("transcription stream ready", "session_id", c.s.ID)
}

func (c *connection) forwardAudio(pcm []byte) {
	if c.stream == nil {
		c.o.sessionEvent("audio_dropped_no_stt")
		return
	}
	switch err := c.stream.Send(pcm); {
	case err == nil:
	case errors.Is(err, stt.ErrBackpressure):
		c.o.sessionEvent("audio_dropped_backpressure")
	default:
		c.o.sessionEvent("audio_dropped_closed")
	}
}

func (c *connection) selectCoach(ctx context.Context, m protocol.SelectCoach) {
	if m.Coach == nil || m.Coach.Validate() != nil {
		c.o.send(c.out, protocol.ErrorEvent{Error: msgIncompleteCoach})
		return
	}
	conv, err := c.o.dialogue.Open(ctx, m.Coach.Prompt)
	if err != nil {
		c.o.providerError("dialogue", err)
		c.o.send(c.out, protocol.ErrorEvent{Error: "Failed to initialize coach: " + err.Error()})
		return
	}
	if err := c.s.SelectCoach(*m.Coach, m.UserID); err != nil {
		slog.Debug("coach selection rejected", "session_id", c.s.ID, "error", err)
		return
	}
	c.cancelGeneration()
	c.conv = conv
	c.o.sessionEvent("coach_selected")
	slog.Info("coach selected", "session_id", c.s.ID, "coach", m.Coach.Name)
	c.o.send(c.out, protocol.NewCoachSetup(m.Coach.Name))
}

func (c *connection) startSession(ctx context.Context, m protocol.StartSession) {
	initial, started, err := c.s.Begin(c.o.now().UTC(), m.VoiceConfig, m.CoachType)
	switch {
	case errors.Is(err, session.ErrNoCoach):
		c.o.send(c.out, protocol.ErrorEvent{Error: msgNoCoach})
		return
	case err != nil:
		return
	case !started:
		return
	}
	c.o.sessionEvent("session_started")
	slog.Info("coaching session started", "session_id", c.s.ID, "coach_type", m.CoachType)
	c.o.send(c.out, protocol.NewInitialMessage(initial))
	c.o.send(c.out, protocol.ReplyDone{GeminiDone: true})
	c.synthesize(ctx, initial)
}

func (c *connection) endSession(ctx context.Context) {
	c.cancelGeneration()
	c.o.synth.Cancel(c.s.ID)
	snap := c.s.End()
	id := c.o.handoff(ctx, snap)
	c.o.sessionEvent("session_ended")
	c.o.send(c.out, protocol.NewSessionEnded(id))
}

func (c *connection) handleTranscript(ctx context.Context, ev stt.Event) {
	if ev.Type == stt.EventError {
		c.o.metrics.ObserveProviderError("stt", orDefault(ev.Code, "upstream_error"))
		c.o.send(c.out, protocol.ErrorEvent{Error: "STT error: " + ev.Detail})
		return
	}
	if !ev.Final {
		if c.s.AcceptPartial(ev.Text) {
			c.o.send(c.out, protocol.Partial{Partial: ev.Text})
		}
		return
	}

	entry, outcome := c.s.AcceptFinal(ev.Text, c.o.now().UTC())
	switch outcome {
	case session.FinalIgnored:
	case session.FinalNoCoach:
		c.o.send(c.out, protocol.ErrorEvent{Error: msgSelectCoachFirst})
	case session.FinalInactive:
		c.o.sessionEvent("final_dropped_inactive")
		slog.Debug("final transcript outside active session", "session_id", c.s.ID)
	case session.FinalAccepted:
		slog.Debug("user turn accepted", "session_id", c.s.ID, "text", policy.ForLog(entry.Text))
		c.o.send(c.out, protocol.UserTranscript{User: entry.Text})
		c.startGeneration(ctx, entry.Text)
	}
}

// startGeneration supersedes any reply still streaming and asks the dialogue
// for a new one. Fragments are tagged with the generation they belong to.
func (c *connection) startGeneration(ctx context.Context, text string) {
	c.cancelGeneration()
	if c.conv == nil {
		return
	}
	gen := c.gen
	genCtx, cancel := context.WithCancel(ctx)
	c.cancelGen = cancel
	c.reply.Reset()
	c.turnStarted = c.o.now()
	c.firstChunk = false

	conv := c.conv
	go func() {
		defer cancel()
		for fragment, err := range conv.Generate(genCtx, text) {
			if err != nil {
				c.post(replyEvent{gen: gen, err: err})
				return
			}
			if !c.post(replyEvent{gen: gen, fragment: fragment}) {
				return
			}
		}
		c.post(replyEvent{gen: gen, done: true})
	}()
}

func (c *connection) post(ev replyEvent) bool {
	select {
	case c.replies <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *connection) cancelGeneration() {
	if c.cancelGen != nil {
		c.cancelGen()
		c.cancelGen = nil
	}
	c.gen++
}

func (c *connection) handleReply(ctx context.Context, ev replyEvent) {
	if ev.gen != c.gen {
		return
	}
	if ev.err != nil {
		c.cancelGen = nil
		if errors.Is(ev.err, context.Canceled) {
			return
		}
		c.o.providerError("dialogue", ev.err)
		slog.Warn("dialogue generation failed", "session_id", c.s.ID, "error", policy.ForLog(ev.err.Error()))
		c.o.send(c.out, protocol.ErrorEvent{Error: "Gemini error: " + ev.err.Error()})
		return
	}
	if ev.done {
		c.cancelGen = nil
		c.o.metrics.ObserveStage(observability.StageFinalToReplyDone, c.o.now().Sub(c.turnStarted))
		c.o.send(c.out, protocol.ReplyDone{GeminiDone: true})
		entry, ok := c.s.AppendReply(c.reply.String(), c.o.now().UTC())
		if !ok {
			return
		}
		c.synthesize(ctx, entry.Text)
		return
	}
	if !c.firstChunk {
		c.firstChunk = true
		c.o.metrics.ObserveStage(observability.StageFinalToFirstChunk, c.o.now().Sub(c.turnStarted))
	}
	c.reply.WriteString(ev.fragment)
	c.o.send(c.out, protocol.ReplyChunk{GeminiChunk: ev.fragment})
}

func (c *connection) synthesize(ctx context.Context, text string) {
	text = speakableText(text)
	if text == "" {
		return
	}
	_, err := c.o.synth.Synthesize(ctx, c.s.ID, text, c.s.Voice())
	switch {
	case err == nil:
	case errors.Is(err, tts.ErrWriteFailed):
		// The multiplexer already told the client.
	case errors.Is(err, tts.ErrNotConnected):
		slog.Warn("synthesis unavailable", "session_id", c.s.ID, "error", policy.ForLog(err.Error()))
		c.o.send(c.out, protocol.ErrorEvent{Error: msgTTSUnavailable})
	default:
		slog.Warn("synthesis request failed", "session_id", c.s.ID, "error", policy.ForLog(err.Error()))
	}
}

// teardown runs once the loop exits: the session is closed, its synthesis and
// transcription released, and a finished transcript handed off best effort.
func (c *connection) teardown(ctx context.Context) {
	close(c.done)
	c.cancelGeneration()
	snap := c.s.Close()
	c.o.synth.Release(c.s.ID)

	if c.stream != nil {
		_ = c.stream.Close()
	} else if pending := c.sttPending; pending != nil {
		go func() {
			if res := <-pending; res.stream != nil {
				_ = res.stream.Close()
			}
		}()
	}

	c.o.registry.Remove(c.s.ID)
	c.o.metrics.ActiveSessions.Dec()
	c.o.sessionEvent("disconnected")

	if id := c.o.handoff(context.WithoutCancel(ctx), snap); id != "" {
		slog.Info("session stored on disconnect", "session_id", c.s.ID, "record_id", id)
	}
	slog.Info("connection closed", "session_id", c.s.ID)
}

// handoff passes a finished transcript to the report collaborator and returns
// the stored record id, or "" when there was nothing to report or it failed.
func (o *Orchestrator) handoff(ctx context.Context, snap session.Snapshot) string {
	if o.reports == nil || !snap.Reportable() {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, o.reportTimeout)
	defer cancel()

	started := time.Now()
	id, err := o.reports.SaveSession(ctx, report.Request{
		UserID:      snap.UserID,
		CoachID:     snap.Persona.ID,
		SessionType: snap.CoachType,
		Persona:     *snap.Persona,
		Transcript:  snap.Transcript,
		StartedAt:   snap.StartedAt,
	})
	if err != nil {
		o.metrics.ObserveReportHandoff(time.Since(started), "error")
		slog.Error("report handoff failed", "session_id", snap.ID, "coach_type", snap.CoachType, "error", err)
		return ""
	}
	o.metrics.ObserveReportHandoff(time.Since(started), "ok")
	return id
}

// send queues msg for the client. Critical events wait briefly for room;
// live captions and audio chunks are dropped when the queue is full.
func (o *Orchestrator) send(outbound chan<- any, msg any) {
	name := protocol.EventName(msg)
	if !protocol.Critical(msg) {
		select {
		case outbound <- msg:
			o.metrics.ObserveOutboundMessage(name, "delivered")
		default:
			o.metrics.ObserveOutboundMessage(name, "dropped")
			o.sessionEvent("outbound_drop")
		}
		return
	}

	timer := time.NewTimer(criticalSendTimeout)
	defer timer.Stop()
	select {
	case outbound <- msg:
		o.metrics.ObserveOutboundMessage(name, "delivered")
	case <-timer.C:
		o.metrics.ObserveOutboundMessage(name, "timeout")
		o.sessionEvent("outbound_timeout_critical")
	}
}

func (o *Orchestrator) sessionEvent(event string) {
	o.metrics.SessionEvents.WithLabelValues(event).Inc()
}

func (o *Orchestrator) providerError(provider string, err error) {
	o.metrics.ObserveProviderError(provider, reliability.Classify(err))
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
