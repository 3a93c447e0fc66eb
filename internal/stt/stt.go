// Package stt adapts streaming speech-to-text services into a per-connection
// stream of typed transcript events.
package stt

import (
	"context"
	"errors"
)

var (
	ErrServiceUnavailable = errors.New("transcription service unavailable")
	ErrStreamClosed       = errors.New("transcription stream closed")
	ErrBackpressure       = errors.New("transcription stream queue full")
)

type EventType string

const (
	EventTurn  EventType = "turn"
	EventError EventType = "error"
)

// Event is one transcription result or failure. Final marks the end of a
// user turn; otherwise Text is a partial caption.
type Event struct {
	Type   EventType
	Text   string
	Final  bool
	Code   string
	Detail string
}

// Stream is an open transcription channel for one connection. Send is
// fire-and-forget: frames are dropped rather than queued without bound.
// Events is closed when the stream ends.
type Stream interface {
	Send(frame []byte) error
	Events() <-chan Event
	Close() error
}

type Provider interface {
	Open(ctx context.Context) (Stream, error)
}
