package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/ocepa/internal/insight"
	"github.com/MrWong99/ocepa/internal/lecture"
	"github.com/MrWong99/ocepa/internal/observe"
	"github.com/MrWong99/ocepa/pkg/capture"
	"github.com/MrWong99/ocepa/pkg/provider/transcribe"
)

// defaultClassifyQueue bounds the transcript lines waiting for classification.
const defaultClassifyQueue = 64

// ErrSessionStopped is returned by Start on a LiveSession that was stopped.
var ErrSessionStopped = errors.New("app: live session stopped")

// EventType names the kind of a live [Event].
type EventType string

const (
	EventTranscript EventType = "transcript"
	EventNote       EventType = "note"
	EventError      EventType = "error"
	EventSaved      EventType = "saved"
)

// Event is pushed to the live session's observer as the lecture progresses.
// Its JSON form is what the live WebSocket endpoint sends to clients.
type Event struct {
	Type     EventType `json:"type"`
	Text     string    `json:"text,omitempty"`
	Category string    `json:"category,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// EventHandler observes live session events. It is called from the session's
// internal goroutines and must not block.
type EventHandler func(Event)

// LiveConfig holds the collaborators of a [LiveSession].
type LiveConfig struct {
	// Lecture is the record being captured. Its existing transcript and notes
	// are kept and extended.
	Lecture lecture.Lecture

	Store      lecture.Store
	Provider   transcribe.Provider
	Device     capture.Device
	Classifier insight.Classifier
	Summarizer insight.Summarizer

	// ProviderName labels provider error metrics. Default: "gemini-live".
	ProviderName string

	// Metrics is optional.
	Metrics *observe.Metrics

	// RecorderOptions are passed to [capture.NewRecorder].
	RecorderOptions []capture.Option

	// OnEvent is optional.
	OnEvent EventHandler

	// OnStopped is called once, after the first Stop has finished saving.
	OnStopped func()

	// QueueSize bounds the classification backlog. Default: 64.
	QueueSize int
}

// LiveSession runs one lecture capture: a [capture.Recorder] feeding a
// transcription session, whose transcript lines are accumulated, classified
// into notes in the background, and persisted on Stop.
//
// A LiveSession runs once. All methods are safe for concurrent use.
type LiveSession struct {
	cfg LiveConfig
	log *slog.Logger

	mu         sync.Mutex
	started    bool
	stopped    bool
	transcript []string
	notes      []lecture.Note
	session    transcribe.Session
	recorder   *capture.Recorder

	queue      chan string
	workerDone chan struct{}
	quit       chan struct{}
	forwarders sync.WaitGroup

	ended   chan struct{}
	endOnce sync.Once

	stopOnce sync.Once
	saveMu   sync.Mutex
	saveErr  error
}

// NewLiveSession returns an idle LiveSession. Call Start to begin capturing.
func NewLiveSession(cfg LiveConfig) *LiveSession {
	if cfg.Classifier == nil {
		cfg.Classifier = insight.Nop
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "gemini-live"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultClassifyQueue
	}
	return &LiveSession{
		cfg:        cfg,
		log:        slog.With("lecture_id", cfg.Lecture.ID),
		transcript: slices.Clone(cfg.Lecture.Transcript),
		notes:      slices.Clone(cfg.Lecture.Notes),
		queue:      make(chan string, cfg.QueueSize),
		workerDone: make(chan struct{}),
		quit:       make(chan struct{}),
		ended:      make(chan struct{}),
	}
}

// LectureID returns the ID of the lecture being captured.
func (ls *LiveSession) LectureID() string { return ls.cfg.Lecture.ID }

// Start opens the capture device and then connects the transcription
// session. Frames captured before the session is open are dropped (or queued
// when the provider buffers pending frames). Device errors wrap
// [capture.ErrPermissionDenied] or [capture.ErrUnavailable]; connection
// errors wrap [transcribe.ErrConnectionFailure]. A failed Start leaves the
// session stopped without saving; construct a new one to retry.
func (ls *LiveSession) Start(ctx context.Context) error {
	ls.mu.Lock()
	if ls.stopped {
		ls.mu.Unlock()
		return ErrSessionStopped
	}
	if ls.started {
		ls.mu.Unlock()
		return capture.ErrAlreadyStarted
	}
	ls.started = true
	session := ls.cfg.Provider.NewSession(ls.onTranscript)
	recorder := capture.NewRecorder(ls.cfg.Device, session, ls.recorderOptions()...)
	ls.session, ls.recorder = session, recorder
	ls.mu.Unlock()

	ls.forwarders.Add(1)
	go ls.forwardErrors(session.Errors())
	go ls.classifyLoop()

	if err := recorder.Start(ctx); err != nil {
		ls.abort(recorder)
		return fmt.Errorf("app: start capture: %w", err)
	}

	start := time.Now()
	err := session.Connect(ctx)
	if ls.cfg.Metrics != nil {
		ls.cfg.Metrics.ConnectDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		ls.abort(recorder)
		return fmt.Errorf("app: connect transcription: %w", err)
	}

	go func() {
		select {
		case <-recorder.Done():
			ls.end()
		case <-ls.quit:
		}
	}()

	ls.log.Info("live session started", "transcript_lines", len(ls.cfg.Lecture.Transcript))
	return nil
}

func (ls *LiveSession) recorderOptions() []capture.Option {
	opts := slices.Clone(ls.cfg.RecorderOptions)
	if ls.cfg.Metrics != nil {
		opts = append(opts, capture.WithFrameHook(ls.cfg.Metrics.FrameHook()))
	}
	return opts
}

// abort tears down a session whose Start failed.
func (ls *LiveSession) abort(recorder *capture.Recorder) {
	ls.stopOnce.Do(func() {
		if err := recorder.Stop(); err != nil {
			ls.log.Warn("live session: stop after failed start", "err", err)
		}
		ls.shutdownWorkers(context.Background())
		ls.end()
	})
}

// Stop ends capture (capture, then stream, then session), waits for pending
// classifications, and saves the lecture. Once stopped, later calls return
// the result of the most recent save. A failed save keeps the accumulated
// transcript and notes; call [LiveSession.Save] to retry.
func (ls *LiveSession) Stop(ctx context.Context) error {
	ls.stopOnce.Do(func() {
		ls.mu.Lock()
		recorder, started := ls.recorder, ls.started
		ls.mu.Unlock()

		if !started {
			ls.shutdownWorkers(ctx)
			ls.end()
			return
		}

		if err := recorder.Stop(); err != nil {
			ls.log.Warn("live session: stop capture", "err", err)
		}
		ls.shutdownWorkers(ctx)
		ls.end()

		if err := ls.Save(ctx); err != nil {
			ls.emit(Event{Type: EventError, Message: err.Error()})
		} else {
			ls.emit(Event{Type: EventSaved})
		}
		st := recorder.Stats()
		ls.log.Info("live session stopped",
			"transcript_lines", len(ls.Transcript()),
			"frames_sent", st.Sent,
			"frames_dropped", st.Dropped,
		)
		if ls.cfg.OnStopped != nil {
			ls.cfg.OnStopped()
		}
	})
	return ls.lastSaveErr()
}

// shutdownWorkers stops accepting transcript lines, drains the classifier
// queue (bounded by ctx), and stops the error forwarder.
func (ls *LiveSession) shutdownWorkers(ctx context.Context) {
	ls.mu.Lock()
	alreadyStopped := ls.stopped
	ls.stopped = true
	if !alreadyStopped {
		close(ls.queue)
	}
	started := ls.started
	ls.mu.Unlock()

	if started {
		select {
		case <-ls.workerDone:
		case <-ctx.Done():
			ls.log.Warn("live session: classifier did not drain before deadline", "err", ctx.Err())
		}
	}
	select {
	case <-ls.quit:
	default:
		close(ls.quit)
	}
	ls.forwarders.Wait()
}

// Save writes the accumulated transcript and notes to the store, along with
// a summary when the summarizer produces one. An existing summary is left
// untouched otherwise. Failures wrap [lecture.ErrPersistence].
func (ls *LiveSession) Save(ctx context.Context) error {
	ls.saveMu.Lock()
	defer ls.saveMu.Unlock()

	transcript, notes := ls.Transcript(), ls.Notes()
	ctx, span := observe.StartLectureSpan(ctx, "lecture.save", ls.cfg.Lecture.ID,
		attribute.Int("lecture.transcript_lines", len(transcript)),
		attribute.Int("lecture.notes", len(notes)),
	)
	defer span.End()

	update := lecture.Update{Transcript: &transcript, Notes: &notes}
	if ls.cfg.Summarizer != nil {
		summary, err := ls.cfg.Summarizer.Summarize(ctx, transcript)
		switch {
		case err != nil:
			ls.log.Warn("live session: summarize failed, saving without summary", "err", err)
			ls.recordProviderError(ctx, "insight", err)
		case summary != "":
			update.Summary = &summary
		}
	}

	_, err := ls.cfg.Store.Update(ctx, ls.cfg.Lecture.ID, update)
	if err != nil {
		if !errors.Is(err, lecture.ErrPersistence) {
			err = fmt.Errorf("%w: %w", lecture.ErrPersistence, err)
		}
		err = fmt.Errorf("app: save lecture %s: %w", ls.cfg.Lecture.ID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		ls.log.Error("live session: save failed", "err", err)
	} else {
		ls.log.Info("lecture saved", "transcript_lines", len(transcript), "notes", len(notes))
	}
	ls.saveErr = err
	return err
}

func (ls *LiveSession) lastSaveErr() error {
	ls.saveMu.Lock()
	defer ls.saveMu.Unlock()
	return ls.saveErr
}

// Done is closed when the session ends on its own (the capture input ended
// or the transcription connection failed) or when Stop is called. The caller
// still has to call Stop to persist.
func (ls *LiveSession) Done() <-chan struct{} { return ls.ended }

func (ls *LiveSession) end() { ls.endOnce.Do(func() { close(ls.ended) }) }

// Transcript returns a copy of the transcript lines so far.
func (ls *LiveSession) Transcript() []string {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return slices.Clone(ls.transcript)
}

// Notes returns a copy of the notes so far.
func (ls *LiveSession) Notes() []lecture.Note {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return slices.Clone(ls.notes)
}

// State returns the transcription session state, or unconnected before Start.
func (ls *LiveSession) State() transcribe.State {
	ls.mu.Lock()
	session := ls.session
	ls.mu.Unlock()
	if session == nil {
		return transcribe.StateUnconnected
	}
	return session.State()
}

// Stats returns the recorder's frame counters.
func (ls *LiveSession) Stats() capture.Stats {
	ls.mu.Lock()
	recorder := ls.recorder
	ls.mu.Unlock()
	if recorder == nil {
		return capture.Stats{}
	}
	return recorder.Stats()
}

// ── Transcript handling ──────────────────────────────────────────────────────

// onTranscript runs on the transcription session's receive goroutine. The
// transcript event is emitted before the line is queued, so observers see a
// line before any note derived from it.
func (ls *LiveSession) onTranscript(ev transcribe.Event) {
	ls.mu.Lock()
	if ls.stopped {
		ls.mu.Unlock()
		return
	}
	ls.transcript = append(ls.transcript, ev.Text)
	ls.mu.Unlock()

	if ls.cfg.Metrics != nil {
		ls.cfg.Metrics.TranscriptEvents.Add(context.Background(), 1)
	}
	ls.emit(Event{Type: EventTranscript, Text: ev.Text})

	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.stopped {
		return
	}
	select {
	case ls.queue <- ev.Text:
	default:
		ls.log.Warn("live session: classifier backlog full, line not classified")
	}
}

// classifyLoop is the only goroutine that classifies, so notes are appended
// in transcript order.
func (ls *LiveSession) classifyLoop() {
	defer close(ls.workerDone)
	for line := range ls.queue {
		notes, err := ls.cfg.Classifier.Classify(context.Background(), line)
		if err != nil {
			ls.log.Warn("live session: classify failed, line skipped", "err", err)
			ls.recordProviderError(context.Background(), "insight", err)
			continue
		}
		if len(notes) == 0 {
			continue
		}
		ls.mu.Lock()
		ls.notes = append(ls.notes, notes...)
		ls.mu.Unlock()
		for _, n := range notes {
			ls.emit(Event{Type: EventNote, Category: n.Category, Text: n.Text})
		}
	}
}

func (ls *LiveSession) forwardErrors(errs <-chan error) {
	defer ls.forwarders.Done()
	for {
		select {
		case <-ls.quit:
			return
		case err := <-errs:
			ls.log.Warn("live session: transcription error", "err", err)
			ls.recordProviderError(context.Background(), ls.cfg.ProviderName, err)
			ls.emit(Event{Type: EventError, Message: err.Error()})
			if errors.Is(err, transcribe.ErrConnectionFailure) {
				ls.end()
			}
		}
	}
}

func (ls *LiveSession) recordProviderError(ctx context.Context, provider string, err error) {
	if ls.cfg.Metrics != nil {
		ls.cfg.Metrics.RecordProviderError(ctx, provider, observe.ErrorKind(err))
	}
}

func (ls *LiveSession) emit(ev Event) {
	if ls.cfg.OnEvent != nil {
		ls.cfg.OnEvent(ev)
	}
}
