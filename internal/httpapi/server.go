package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/voicecoach/internal/config"
	"github.com/ent0n29/voicecoach/internal/observability"
	"github.com/ent0n29/voicecoach/internal/protocol"
	"github.com/ent0n29/voicecoach/internal/report"
	"github.com/ent0n29/voicecoach/internal/session"
)

const (
	banner = "Voice coach backend running"

	inboundQueueSize  = 256
	outboundQueueSize = 256
	readLimit         = 2 << 20
	readTimeout       = 120 * time.Second
	writeTimeout      = 10 * time.Second
	pingInterval      = 30 * time.Second
)

type Orchestrator interface {
	RunConnection(ctx context.Context, s *session.Session, inbound <-chan any) error
}

// Reports looks up stored session records.
type Reports interface {
	Session(ctx context.Context, id string) (report.Record, error)
}

type Server struct {
	cfg          config.Config
	registry     *session.Registry
	orchestrator Orchestrator
	reports      Reports
	metrics      *observability.Metrics
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, registry *session.Registry, orchestrator Orchestrator, reports Reports, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:          cfg,
		registry:     registry,
		orchestrator: orchestrator,
		reports:      reports,
		metrics:      metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only connect from the same origin unless
				// APP_ALLOW_ANY_ORIGIN is set.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			s.handleWS(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(banner))
	})
	r.Get("/ws", s.handleWS)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/debug/latency", s.handleLatency)
	r.Get("/api/reports/{id}", s.handleGetReport)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"voiceProvider": s.cfg.VoiceProvider,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.orchestrator == nil || s.registry == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "orchestrator not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ready",
		"activeSessions": s.registry.ActiveCount(),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil || s.registry == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "orchestrator not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, inboundQueueSize)
	outbound := make(chan any, outboundQueueSize)
	sess := s.registry.Create(outbound)
	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(inbound)
		return s.readLoop(gctx, conn, inbound)
	})
	g.Go(func() error {
		return s.writeLoop(gctx, conn, outbound)
	})
	g.Go(func() error {
		// Unblocks ReadMessage once either side is finished.
		<-gctx.Done()
		_ = conn.Close()
		return nil
	})

	if err := s.orchestrator.RunConnection(ctx, sess, inbound); err != nil {
		slog.Error("connection loop failed", "session_id", sess.ID, "error", err)
	}
	cancel()
	if err := g.Wait(); err != nil && !isNormalClose(err) {
		slog.Debug("websocket closed", "session_id", sess.ID, "error", err)
	}
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

// readLoop parses every frame into inbound. Audio is dropped when the queue
// is full; control messages wait for room.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, inbound chan<- any) error {
	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		msg, err := protocol.ParseFrame(data)
		if err != nil {
			s.metrics.WSMessages.WithLabelValues("inbound", "invalid").Inc()
			msg = protocol.ErrorEvent{Error: "Invalid message: " + err.Error()}
		} else {
			s.metrics.WSMessages.WithLabelValues("inbound", inboundType(msg)).Inc()
		}

		if _, ok := msg.(protocol.AudioFrame); ok {
			select {
			case inbound <- msg:
			default:
				s.metrics.SessionEvents.WithLabelValues("inbound_audio_drop").Inc()
			}
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case inbound <- msg:
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, outbound <-chan any) error {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				s.metrics.WSWriteErrors.WithLabelValues("ping").Inc()
				return err
			}
		case msg := <-outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				s.metrics.WSWriteErrors.WithLabelValues("write_json").Inc()
				return err
			}
			s.metrics.WSMessages.WithLabelValues("outbound", protocol.EventName(msg)).Inc()
		}
	}
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "report store not configured")
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_report_id", "missing report id")
		return
	}
	rec, err := s.reports.Session(r.Context(), id)
	if errors.Is(err, report.ErrNotFound) {
		respondError(w, http.StatusNotFound, "report_not_found", err.Error())
		return
	}
	if err != nil {
		slog.Error("report lookup failed", "id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "report_lookup_failed", "could not load report")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func inboundType(msg any) string {
	switch m := msg.(type) {
	case protocol.AudioFrame:
		return "audio"
	case protocol.SelectCoach:
		return string(m.Type)
	case protocol.StartSession:
		return string(m.Type)
	case protocol.EndSession:
		return string(m.Type)
	case protocol.UpdateVoiceConfig:
		return string(m.Type)
	default:
		return "unknown"
	}
}

func isNormalClose(err error) bool {
	return errors.Is(err, websocket.ErrCloseSent) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
