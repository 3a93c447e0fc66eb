package session

import (
	"time"

	"github.com/ent0n29/voicecoach/internal/persona"
)

// State is the orchestration state of one connection.
type State string

const (
	StateIdle          State = "idle"
	StateCoachSelected State = "coach_selected"
	StateActive        State = "session_active"
	StateClosed        State = "closed"
)

type Speaker string

const (
	SpeakerUser Speaker = "user"
	SpeakerAI   Speaker = "ai"
)

// TranscriptEntry is one line of the session transcript.
type TranscriptEntry struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// FinalOutcome tells the orchestrator what to do with a final transcript turn.
type FinalOutcome int

const (
	FinalAccepted FinalOutcome = iota
	// FinalIgnored covers empty text and stuttered repeats of the previous final.
	FinalIgnored
	FinalNoCoach
	FinalInactive
)

// Snapshot is a consistent copy of a session's state.
type Snapshot struct {
	ID                 string
	UserID             string
	CoachType          string
	State              State
	Persona            *persona.Persona
	Voice              persona.Voice
	Transcript         []TranscriptEntry
	StartedAt          time.Time
	ActiveContextID    string
	InitialMessageSent bool
}

// Reportable reports whether the snapshot carries enough data for a session report.
func (s Snapshot) Reportable() bool {
	return len(s.Transcript) > 0 && s.Persona != nil && !s.StartedAt.IsZero()
}
