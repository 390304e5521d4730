// Package gemini implements the transcribe.Provider interface for Google's
// Gemini Multimodal Live API.
//
// Each session holds one WebSocket connection to the Live endpoint. Right
// after the connection opens a single setup message declares the model and
// the text response modality; afterwards every captured frame is sent as a
// realtime-input envelope carrying base64 PCM16. Inbound messages are
// scanned for the input transcription field, which is handed to the
// session's TranscriptHandler.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/ocepa/pkg/provider/transcribe"
	"github.com/coder/websocket"
)

// Compile-time assertions that Provider and session satisfy the transcribe interfaces.
var _ transcribe.Provider = (*Provider)(nil)
var _ transcribe.Session = (*session)(nil)

const (
	defaultModel    = "gemini-2.0-flash-exp"
	defaultBaseURL  = "wss://generativelanguage.googleapis.com/ws"
	endpointPath    = "google.ai.generativelanguage.v1alpha.GenerativeService.MultimodalLive"
	audioMIMEType   = "audio/pcm"
	defaultErrorCap = 16

	defaultKeepalive = 20 * time.Second
	keepaliveTimeout = 5 * time.Second
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Gemini model used for sessions. A "models/" prefix is
// added when missing.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithPendingFrames makes sessions queue up to n chunks sent while the
// connection is still being set up and flush them right after the setup
// message. The default (0) drops those chunks.
func WithPendingFrames(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.pendingFrames = n
		}
	}
}

// WithErrorBuffer sets the capacity of each session's error channel.
func WithErrorBuffer(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.errorCap = n
		}
	}
}

// WithKeepalive sets the WebSocket ping interval. Zero or negative disables
// keepalive pings.
func WithKeepalive(d time.Duration) Option {
	return func(p *Provider) { p.keepalive = d }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements transcribe.Provider for the Gemini Live API.
type Provider struct {
	apiKey        string
	model         string
	baseURL       string
	pendingFrames int
	errorCap      int
	keepalive     time.Duration
}

// New creates a new Gemini Live Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:    apiKey,
		model:     defaultModel,
		baseURL:   defaultBaseURL,
		errorCap:  defaultErrorCap,
		keepalive: defaultKeepalive,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Model returns the fully qualified model name sent in the setup message.
func (p *Provider) Model() string {
	if strings.HasPrefix(p.model, "models/") {
		return p.model
	}
	return "models/" + p.model
}

// NewSession returns an unconnected session. handler may be nil.
func (p *Provider) NewSession(handler transcribe.TranscriptHandler) transcribe.Session {
	return &session{
		url:          p.endpoint(),
		model:        p.Model(),
		handler:      handler,
		pendingLimit: p.pendingFrames,
		keepalive:    p.keepalive,
		errs:         make(chan error, p.errorCap),
		state:        transcribe.StateUnconnected,
	}
}

func (p *Provider) endpoint() string {
	return fmt.Sprintf("%s/%s?key=%s", p.baseURL, endpointPath, url.QueryEscape(p.apiKey))
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model            string           `json:"model"`
	GenerationConfig generationConfig `json:"generation_config"`
}

type generationConfig struct {
	ResponseModalities []string `json:"response_modalities"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtime_input"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"media_chunks"`
}

type mediaChunk struct {
	Data     string `json:"data"` // base64-encoded PCM16 LE
	MIMEType string `json:"mime_type"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

// serverMessage accepts both the snake_case field names used by the
// v1alpha endpoint and the camelCase names of later API revisions.
type serverMessage struct {
	SetupComplete      *json.RawMessage `json:"setup_complete,omitempty"`
	SetupCompleteCamel *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent      *serverContent   `json:"server_content,omitempty"`
	ServerContentCamel *serverContent   `json:"serverContent,omitempty"`
	Error              *remoteError     `json:"error,omitempty"`
}

type serverContent struct {
	InputTranscription      *transcription `json:"input_transcription,omitempty"`
	InputTranscriptionCamel *transcription `json:"inputTranscription,omitempty"`
}

type remoteError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

// transcription decodes either a bare string or an object with a text field.
type transcription struct {
	Text string
}

func (t *transcription) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &t.Text)
	}
	var obj struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	t.Text = obj.Text
	return nil
}

// inputTranscription returns the transcription text carried by msg, if any.
func (msg *serverMessage) inputTranscription() string {
	for _, sc := range []*serverContent{msg.ServerContent, msg.ServerContentCamel} {
		if sc == nil {
			continue
		}
		for _, tr := range []*transcription{sc.InputTranscription, sc.InputTranscriptionCamel} {
			if tr != nil && tr.Text != "" {
				return tr.Text
			}
		}
	}
	return ""
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	url          string
	model        string
	handler      transcribe.TranscriptHandler
	pendingLimit int
	keepalive    time.Duration
	errs         chan error

	// sendMu serialises audio writes and the connecting → open transition so
	// that queued chunks are flushed before any later chunk.
	sendMu sync.Mutex

	mu      sync.Mutex
	state   transcribe.State
	conn    *websocket.Conn
	ctx     context.Context
	cancel  context.CancelFunc
	pending []string
}

// Connect dials the Live endpoint and sends the setup message.
func (s *session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != transcribe.StateUnconnected {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("gemini: connect in state %s: %w", st, transcribe.ErrInvalidState)
	}
	s.state = transcribe.StateConnecting
	s.mu.Unlock()

	start := time.Now()
	conn, _, err := websocket.Dial(ctx, s.url, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return s.fail(fmt.Errorf("gemini: dial: %w", err))
	}
	// Transcription messages are small, but protect against unbounded frames.
	conn.SetReadLimit(1 << 20)

	sessCtx, sessCancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.state != transcribe.StateConnecting {
		// Disconnected while dialing.
		s.mu.Unlock()
		sessCancel()
		conn.Close(websocket.StatusNormalClosure, "session closed")
		return fmt.Errorf("gemini: disconnected during connect: %w", transcribe.ErrInvalidState)
	}
	s.conn = conn
	s.ctx = sessCtx
	s.cancel = sessCancel
	s.mu.Unlock()

	setup := setupMessage{
		Setup: setupConfig{
			Model: s.model,
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"text"},
			},
		},
	}
	if err := writeJSON(ctx, conn, setup); err != nil {
		return s.fail(fmt.Errorf("gemini: setup: %w", err))
	}

	s.sendMu.Lock()
	s.mu.Lock()
	if s.state != transcribe.StateConnecting {
		s.mu.Unlock()
		s.sendMu.Unlock()
		return fmt.Errorf("gemini: disconnected during connect: %w", transcribe.ErrInvalidState)
	}
	s.state = transcribe.StateOpen
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	go s.receiveLoop(sessCtx, conn)
	if s.keepalive > 0 {
		go s.keepaliveLoop(sessCtx, conn)
	}

	for _, chunk := range pending {
		if err := writeJSON(sessCtx, conn, audioMessage(chunk)); err != nil {
			s.sendMu.Unlock()
			return s.fail(fmt.Errorf("gemini: flush pending audio: %w", err))
		}
	}
	s.sendMu.Unlock()

	slog.Debug("gemini live connected",
		"model", s.model,
		"flushed", len(pending),
		"elapsed", time.Since(start),
	)
	return nil
}

// SendAudio transmits chunk when open. While connecting it queues the chunk
// if a pending buffer is configured; otherwise the call is a no-op.
func (s *session) SendAudio(chunk string) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	switch s.state {
	case transcribe.StateOpen:
		conn, ctx := s.conn, s.ctx
		s.mu.Unlock()
		if err := writeJSON(ctx, conn, audioMessage(chunk)); err != nil {
			_ = s.fail(fmt.Errorf("gemini: send audio: %w", err))
		}
	case transcribe.StateConnecting:
		if len(s.pending) < s.pendingLimit {
			s.pending = append(s.pending, chunk)
		}
		s.mu.Unlock()
	default:
		s.mu.Unlock()
	}
}

// Disconnect closes the connection if open. Idempotent.
func (s *session) Disconnect() error {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return nil
	}
	s.state = transcribe.StateClosed
	conn, cancel := s.conn, s.cancel
	s.conn, s.cancel, s.pending = nil, nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel() // unblocks receiveLoop and keepaliveLoop
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "session closed")
	}
	return nil
}

// State returns the current connection state.
func (s *session) State() transcribe.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Errors returns the error report channel.
func (s *session) Errors() <-chan error { return s.errs }

// receiveLoop reads messages until the connection ends. It is the only
// goroutine that invokes the transcript handler.
func (s *session) receiveLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			// If the session context was cancelled, we disconnected on purpose.
			if ctx.Err() != nil {
				return
			}
			_ = s.fail(fmt.Errorf("gemini: read: %w", err))
			return
		}
		if typ != websocket.MessageText && typ != websocket.MessageBinary {
			continue
		}
		s.handleMessage(data)
	}
}

func (s *session) handleMessage(data []byte) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.report(fmt.Errorf("gemini: %w: %w", transcribe.ErrMalformedMessage, err))
		return
	}

	if msg.SetupComplete != nil || msg.SetupCompleteCamel != nil {
		slog.Debug("gemini live setup complete", "model", s.model)
	}

	if msg.Error != nil {
		text := msg.Error.Message
		if text == "" {
			text = "unknown error"
		}
		s.report(fmt.Errorf("gemini: %w: %s (code %d)", transcribe.ErrRemote, text, msg.Error.Code))
	}

	if text := msg.inputTranscription(); text != "" && s.handler != nil {
		s.handler(transcribe.Event{Text: text, ReceivedAt: time.Now()})
	}
}

// keepaliveLoop sends WebSocket pings to keep the Live connection alive.
func (s *session) keepaliveLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, keepaliveTimeout)
			if err := conn.Ping(pingCtx); err != nil && ctx.Err() == nil {
				slog.Debug("gemini live ping failed", "err", err)
			}
			cancel()
		}
	}
}

// fail moves a live session to errored, releases the connection, reports a
// connection failure, and returns the reported error. Sessions that are
// already closed or errored are left untouched.
func (s *session) fail(cause error) error {
	err := fmt.Errorf("%w: %w", transcribe.ErrConnectionFailure, cause)

	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return err
	}
	s.state = transcribe.StateErrored
	conn, cancel := s.conn, s.cancel
	s.conn, s.cancel, s.pending = nil, nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusInternalError, "session failed")
	}
	s.report(err)
	return err
}

// report delivers err on the error channel without blocking.
func (s *session) report(err error) {
	select {
	case s.errs <- err:
	default:
		slog.Warn("gemini: error channel full, dropping report", "err", err)
	}
}

func audioMessage(chunk string) realtimeInputMessage {
	return realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{{Data: chunk, MIMEType: audioMIMEType}},
		},
	}
}

// writeJSON marshals v and writes it as a text WebSocket message.
func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
