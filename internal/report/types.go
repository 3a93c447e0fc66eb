// Package report turns a finished coaching session into a scored report and
// persists it.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ent0n29/voicecoach/internal/persona"
	"github.com/ent0n29/voicecoach/internal/session"
)

type SessionType string

const (
	TypeCommunication SessionType = "communication-coach"
	TypeTherapy       SessionType = "therapy"
)

var (
	ErrUnsupportedType = errors.New("unsupported coach type")
	ErrNotFound        = errors.New("session record not found")
)

func ParseSessionType(v string) (SessionType, error) {
	switch SessionType(v) {
	case TypeCommunication, TypeTherapy:
		return SessionType(v), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, v)
	}
}

// Request is everything the orchestrator knows about a finished session.
type Request struct {
	UserID      string
	CoachID     string
	SessionType string
	Persona     persona.Persona
	Transcript  []session.TranscriptEntry
	StartedAt   time.Time
}

// Record is a persisted session with its report.
type Record struct {
	ID              string                    `json:"id"`
	UserID          string                    `json:"userId"`
	CoachID         string                    `json:"coachId"`
	Type            SessionType               `json:"type"`
	StartTime       time.Time                 `json:"startTime"`
	EndTime         time.Time                 `json:"endTime"`
	DurationSeconds int                       `json:"durationInSeconds"`
	Transcript      []session.TranscriptEntry `json:"conversationHistory"`
	Report          json.RawMessage           `json:"report"`
}

// Handoff accepts a finished session and returns the id of its stored record.
type Handoff interface {
	SaveSession(ctx context.Context, req Request) (string, error)
}

type Store interface {
	Save(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (Record, error)
	Close() error
}

// Analyzer scores a transcript. The returned value is marshalled as the
// record's report.
type Analyzer interface {
	Analyze(ctx context.Context, typ SessionType, req Request) (any, error)
}
