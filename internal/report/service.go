package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Service analyzes finished sessions and stores the result.
type Service struct {
	analyzer Analyzer
	store    Store
	now      func() time.Time
}

func NewService(analyzer Analyzer, store Store) *Service {
	if analyzer == nil {
		analyzer = HeuristicAnalyzer{}
	}
	return &Service{analyzer: analyzer, store: store, now: time.Now}
}

// SaveSession analyzes req and persists it. Analysis failures degrade to the
// fallback report; only an unsupported type or a store failure is an error.
func (s *Service) SaveSession(ctx context.Context, req Request) (string, error) {
	typ, err := ParseSessionType(req.SessionType)
	if err != nil {
		return "", err
	}

	end := s.now().UTC()
	start := req.StartedAt.UTC()
	duration := max(0, int(end.Sub(start)/time.Second))

	rep, err := s.analyzer.Analyze(ctx, typ, req)
	if err != nil {
		slog.Warn("report analysis failed; storing fallback", "type", typ, "user_id", req.UserID, "error", err)
		rep = Fallback(typ)
	}
	raw, err := json.Marshal(rep)
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}

	rec := Record{
		ID:              uuid.NewString(),
		UserID:          req.UserID,
		CoachID:         req.CoachID,
		Type:            typ,
		StartTime:       start,
		EndTime:         end,
		DurationSeconds: duration,
		Transcript:      slices.Clone(req.Transcript),
		Report:          raw,
	}
	if err := s.store.Save(ctx, rec); err != nil {
		return "", err
	}
	slog.Info("session report stored", "session_record_id", rec.ID, "type", typ, "duration_seconds", duration, "turns", len(rec.Transcript))
	return rec.ID, nil
}

// Session returns a stored session record.
func (s *Service) Session(ctx context.Context, id string) (Record, error) {
	return s.store.Get(ctx, id)
}
