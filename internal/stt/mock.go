package stt

import (
	"context"
	"fmt"
	"sync"
)

// MockProvider is a local fallback used when no transcription key is
// configured. Every FinalEvery frames it reports a simulated final turn.
type MockProvider struct {
	FinalEvery int
}

func NewMockProvider() *MockProvider { return &MockProvider{FinalEvery: 50} }

func (p *MockProvider) Open(_ context.Context) (Stream, error) {
	every := p.FinalEvery
	if every <= 0 {
		every = 50
	}
	return NewMockStream(every), nil
}

// MockStream is an in-process Stream. Tests can drive it with Emit.
type MockStream struct {
	mu         sync.Mutex
	events     chan Event
	closed     bool
	frames     int
	turns      int
	finalEvery int
}

func NewMockStream(finalEvery int) *MockStream {
	return &MockStream{events: make(chan Event, 64), finalEvery: finalEvery}
}

func (s *MockStream) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	if len(frame) == 0 {
		return nil
	}
	s.frames++
	if s.finalEvery <= 0 {
		return nil
	}
	if s.frames%s.finalEvery == 0 {
		s.turns++
		return s.emitLocked(Event{Type: EventTurn, Text: fmt.Sprintf("simulated voice input %d", s.turns), Final: true})
	}
	return s.emitLocked(Event{Type: EventTurn, Text: "..."})
}

// Emit injects an event as if it came from the service.
func (s *MockStream) Emit(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	return s.emitLocked(ev)
}

// Frames returns how many non-empty frames were sent.
func (s *MockStream) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func (s *MockStream) Events() <-chan Event { return s.events }

func (s *MockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}

func (s *MockStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *MockStream) emitLocked(ev Event) error {
	select {
	case s.events <- ev:
		return nil
	default:
		return ErrBackpressure
	}
}
