// Package transcribe defines the Streaming Session contract for live
// transcription backends.
//
// A [Session] owns one duplex connection to a remote transcription service.
// Callers construct it through a [Provider] with a single [TranscriptHandler],
// call [Session.Connect], push encoded audio chunks with [Session.SendAudio],
// and finally call [Session.Disconnect]. The lifecycle is:
//
//	unconnected → connecting → open → closed
//	                  ↘         ↘
//	                   errored   errored
//
// Both closed and errored are terminal: a new Session must be constructed to
// reconnect. SendAudio outside the open state is a silent no-op so that
// frames arriving during setup or teardown never surface as errors.
//
// Failures are surfaced on [Session.Errors] and matched with [errors.Is]
// against [ErrConnectionFailure], [ErrMalformedMessage], and [ErrRemote].
// No implementation retries on its own; retry policy belongs to the caller.
package transcribe

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy. Implementations wrap these so callers can classify.
var (
	// ErrConnectionFailure reports that the connection could not be opened
	// or dropped unexpectedly. The session is errored afterwards.
	ErrConnectionFailure = errors.New("transcribe: connection failure")

	// ErrMalformedMessage reports an inbound message that could not be
	// parsed. The session keeps processing subsequent messages.
	ErrMalformedMessage = errors.New("transcribe: malformed message")

	// ErrRemote reports an error object sent by the remote service. It is
	// not fatal on its own.
	ErrRemote = errors.New("transcribe: remote error")

	// ErrInvalidState is returned by Connect when the session is not in the
	// unconnected state.
	ErrInvalidState = errors.New("transcribe: invalid session state")
)

// State is the connection state of a [Session].
type State int

const (
	StateUnconnected State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateErrored
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is closed or errored.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateErrored
}

// Event is one increment of recognized text delivered by the remote service.
type Event struct {
	// Text is the recognized text as delivered; it is never empty.
	Text string

	// ReceivedAt is the local time the message carrying Text was read.
	ReceivedAt time.Time
}

// TranscriptHandler receives transcript events. It is invoked synchronously
// from the session's receive loop, one event at a time and in the order the
// remote service delivered them. Handlers must not block for long; a slow
// handler delays processing of subsequent messages.
type TranscriptHandler func(Event)

// Session is one logical connection to a live transcription service.
// All methods are safe for concurrent use.
type Session interface {
	// Connect opens the connection and sends the setup message before
	// returning. On failure the session becomes errored, the error is
	// reported on Errors, and it is also returned.
	Connect(ctx context.Context) error

	// SendAudio transmits one encoded chunk (base64 PCM16 mono) when the
	// session is open. In any other state it does nothing.
	SendAudio(chunk string)

	// Disconnect closes the connection if open and releases it. It is
	// idempotent and never fails when called before Connect or twice.
	Disconnect() error

	// State returns the current connection state.
	State() State

	// Errors returns the channel on which failures are reported. It is
	// buffered; if the caller does not drain it, excess reports are dropped.
	// The channel is never closed.
	Errors() <-chan error
}

// Provider constructs sessions for a specific backend.
type Provider interface {
	// NewSession returns an unconnected session that delivers transcripts to
	// handler. handler may be nil, in which case transcripts are discarded.
	NewSession(handler TranscriptHandler) Session
}
