package session

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/voicecoach/internal/persona"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrNoCoach  = errors.New("no coach selected")
	ErrClosed   = errors.New("session closed")
)

// Session is the live state of one transport connection. All fields are
// guarded by mu; the outbound queue is owned exclusively by this session.
type Session struct {
	ID        string
	CreatedAt time.Time

	outbound chan<- any

	mu                 sync.Mutex
	state              State
	userID             string
	coachType          string
	persona            *persona.Persona
	voice              persona.Voice
	transcript         []TranscriptEntry
	startedAt          time.Time
	activeContextID    string
	initialMessageSent bool
	lastPartial        string
	lastFinal          string
}

// Outbound returns the queue drained by the connection writer.
func (s *Session) Outbound() chan<- any { return s.outbound }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Voice() persona.Voice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voice
}

// SelectCoach installs p as the active coach. The caller must already have
// opened a dialogue seeded with p's prompt.
func (s *Session) SelectCoach(p persona.Persona, userID string) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrClosed
	}
	if id := strings.TrimSpace(userID); id != "" {
		s.userID = id
	}
	s.voice = s.voice.Merge(p.VoiceSettings)
	cp := p
	s.persona = &cp
	s.initialMessageSent = false
	s.state = StateCoachSelected
	return nil
}

// Begin starts a coaching session and returns the coach's opening line.
// started is false when the opening line was already sent for this session.
func (s *Session) Begin(now time.Time, voice *persona.VoiceSettings, coachType string) (initial string, started bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return "", false, ErrClosed
	}
	s.voice = s.voice.Merge(voice)
	if ct := strings.TrimSpace(coachType); ct != "" {
		s.coachType = ct
	}
	if s.persona == nil {
		return "", false, ErrNoCoach
	}
	if s.initialMessageSent {
		return "", false, nil
	}

	initial = s.persona.InitialAIResponse
	s.startedAt = now
	s.transcript = []TranscriptEntry{{Speaker: SpeakerAI, Text: initial, Timestamp: now}}
	s.initialMessageSent = true
	s.state = StateActive
	return initial, true, nil
}

// AcceptPartial reports whether text is a new live caption.
func (s *Session) AcceptPartial(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed || text == s.lastPartial {
		return false
	}
	s.lastPartial = text
	return true
}

// AcceptFinal applies a final transcript turn and appends it to the
// transcript when the session can act on it.
func (s *Session) AcceptFinal(text string, now time.Time) (TranscriptEntry, FinalOutcome) {
	text = strings.TrimSpace(text)
	s.mu.Lock()
	defer s.mu.Unlock()
	if text == "" || text == s.lastFinal || s.state == StateClosed {
		return TranscriptEntry{}, FinalIgnored
	}
	if s.persona == nil {
		return TranscriptEntry{}, FinalNoCoach
	}
	if s.state != StateActive {
		return TranscriptEntry{}, FinalInactive
	}
	s.lastFinal = text
	entry := TranscriptEntry{Speaker: SpeakerUser, Text: text, Timestamp: now}
	s.transcript = append(s.transcript, entry)
	return entry, FinalAccepted
}

// AppendReply records a completed coach reply. It is a no-op outside an
// active session.
func (s *Session) AppendReply(text string, now time.Time) (TranscriptEntry, bool) {
	text = strings.TrimSpace(text)
	s.mu.Lock()
	defer s.mu.Unlock()
	if text == "" || s.state != StateActive {
		return TranscriptEntry{}, false
	}
	entry := TranscriptEntry{Speaker: SpeakerAI, Text: text, Timestamp: now}
	s.transcript = append(s.transcript, entry)
	return entry, true
}

// UpdateVoice merges patch into the current voice (last write wins per field).
func (s *Session) UpdateVoice(patch *persona.VoiceSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrClosed
	}
	s.voice = s.voice.Merge(patch)
	return nil
}

// SwapSynthesisContext makes next the active synthesis context and returns
// the one it replaces.
func (s *Session) SwapSynthesisContext(next string) (prev string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev = s.activeContextID
	s.activeContextID = next
	return prev
}

// ClearSynthesisContext clears the active marker only if it still equals id.
func (s *Session) ClearSynthesisContext(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" || s.activeContextID != id {
		return false
	}
	s.activeContextID = ""
	return true
}

func (s *Session) ActiveContextID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeContextID
}

// End finishes the coaching session and returns what was recorded. The coach
// stays selected so a new session can start right away.
func (s *Session) End() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshotLocked()
	s.resetSessionLocked()
	if s.state != StateClosed {
		if s.persona != nil {
			s.state = StateCoachSelected
		} else {
			s.state = StateIdle
		}
	}
	return snap
}

// Close moves the session to its terminal state and returns the last snapshot.
func (s *Session) Close() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshotLocked()
	s.resetSessionLocked()
	s.state = StateClosed
	return snap
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) resetSessionLocked() {
	s.startedAt = time.Time{}
	s.transcript = nil
	s.initialMessageSent = false
	s.lastFinal = ""
	s.lastPartial = ""
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:                 s.ID,
		UserID:             s.userID,
		CoachType:          s.coachType,
		State:              s.state,
		Voice:              s.voice,
		StartedAt:          s.startedAt,
		ActiveContextID:    s.activeContextID,
		InitialMessageSent: s.initialMessageSent,
	}
	if s.persona != nil {
		p := *s.persona
		snap.Persona = &p
	}
	if len(s.transcript) > 0 {
		snap.Transcript = make([]TranscriptEntry, len(s.transcript))
		copy(snap.Transcript, s.transcript)
	}
	return snap
}
