// Package mock provides test doubles for the transcribe package interfaces.
//
// Use Provider to capture the TranscriptHandler a caller registers, and
// Session to drive transcripts and failures by hand while inspecting which
// audio chunks were sent.
//
// Example:
//
//	p := &mock.Provider{}
//	sess := p.NewSession(handler).(*mock.Session)
//	_ = sess.Connect(ctx)
//	sess.Emit("hello")
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/ocepa/pkg/provider/transcribe"
)

// Provider is a mock implementation of transcribe.Provider.
type Provider struct {
	mu sync.Mutex

	// ConnectErr, if non-nil, is assigned to every new Session's ConnectErr.
	ConnectErr error

	// Sessions records every session returned by NewSession, in order.
	Sessions []*Session
}

// NewSession records and returns a new mock Session bound to handler.
func (p *Provider) NewSession(handler transcribe.TranscriptHandler) transcribe.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &Session{
		ConnectErr: p.ConnectErr,
		handler:    handler,
		errs:       make(chan error, 16),
	}
	p.Sessions = append(p.Sessions, s)
	return s
}

// Last returns the most recently created session, or nil.
func (p *Provider) Last() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Sessions) == 0 {
		return nil
	}
	return p.Sessions[len(p.Sessions)-1]
}

var _ transcribe.Provider = (*Provider)(nil)

// Session is a mock implementation of transcribe.Session. It follows the same
// state machine as a real session so callers can be tested against it.
type Session struct {
	mu sync.Mutex

	// ConnectErr, if non-nil, makes Connect fail: the session becomes errored
	// and the error is reported on Errors.
	ConnectErr error

	// ConnectCalls counts calls to Connect.
	ConnectCalls int

	// DisconnectCalls counts calls to Disconnect.
	DisconnectCalls int

	// Sent records every chunk accepted by SendAudio while open.
	Sent []string

	// Ignored counts SendAudio calls made outside the open state.
	Ignored int

	// Calls records the order of lifecycle calls ("connect", "disconnect").
	Calls []string

	state   transcribe.State
	handler transcribe.TranscriptHandler
	errs    chan error
}

// Connect moves the session to open, or to errored if ConnectErr is set.
func (s *Session) Connect(_ context.Context) error {
	s.mu.Lock()
	s.ConnectCalls++
	s.Calls = append(s.Calls, "connect")
	if s.state != transcribe.StateUnconnected {
		s.mu.Unlock()
		return transcribe.ErrInvalidState
	}
	if s.ConnectErr != nil {
		s.state = transcribe.StateErrored
		err := s.ConnectErr
		s.mu.Unlock()
		s.Report(err)
		return err
	}
	s.state = transcribe.StateOpen
	s.mu.Unlock()
	return nil
}

// SendAudio records chunk when open.
func (s *Session) SendAudio(chunk string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != transcribe.StateOpen {
		s.Ignored++
		return
	}
	s.Sent = append(s.Sent, chunk)
}

// Disconnect moves a non-terminal session to closed. Idempotent.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DisconnectCalls++
	s.Calls = append(s.Calls, "disconnect")
	if !s.state.Terminal() {
		s.state = transcribe.StateClosed
	}
	return nil
}

// State returns the current state.
func (s *Session) State() transcribe.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Errors returns the error report channel.
func (s *Session) Errors() <-chan error { return s.errs }

// Emit delivers text to the registered handler synchronously.
func (s *Session) Emit(text string) {
	if s.handler != nil {
		s.handler(transcribe.Event{Text: text, ReceivedAt: time.Now()})
	}
}

// Report pushes err onto the error channel without blocking.
func (s *Session) Report(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

// Fail moves the session to errored and reports err, simulating a dropped
// connection.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = transcribe.StateErrored
	s.mu.Unlock()
	s.Report(err)
}

// SentChunks returns a copy of the chunks accepted so far.
func (s *Session) SentChunks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.Sent...)
}

// CallOrder returns a copy of the recorded lifecycle calls.
func (s *Session) CallOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.Calls...)
}

var _ transcribe.Session = (*Session)(nil)
