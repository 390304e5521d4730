// Package app wires the Ocepa subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates the lecture store, the
// transcription provider and the insight pipeline from the config, Sessions
// exposes the live capture sessions, and Shutdown stops and saves every live
// session before closing the store.
//
// For testing, inject implementations via functional options (WithStore,
// WithTranscriber, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/ocepa/internal/config"
	"github.com/MrWong99/ocepa/internal/insight"
	"github.com/MrWong99/ocepa/internal/lecture"
	"github.com/MrWong99/ocepa/internal/lecture/postgres"
	"github.com/MrWong99/ocepa/internal/observe"
	"github.com/MrWong99/ocepa/internal/resilience"
	"github.com/MrWong99/ocepa/pkg/audio"
	"github.com/MrWong99/ocepa/pkg/capture"
	"github.com/MrWong99/ocepa/pkg/provider/transcribe"
	"github.com/MrWong99/ocepa/pkg/provider/transcribe/gemini"
)

// App owns all subsystem lifetimes of the lecture-capture service.
type App struct {
	cfg *config.Config

	// Subsystems, initialised in New and torn down in Shutdown.
	store       lecture.Store
	transcriber transcribe.Provider
	classifier  insight.Classifier
	summarizer  insight.Summarizer
	metrics     *observe.Metrics
	sessions    *SessionManager

	// injectedInsights disables ReloadInsights for test doubles.
	injectedInsights bool

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a lecture store instead of creating one from config.
func WithStore(s lecture.Store) Option {
	return func(a *App) { a.store = s }
}

// WithTranscriber injects a transcription provider instead of Gemini Live.
func WithTranscriber(p transcribe.Provider) Option {
	return func(a *App) { a.transcriber = p }
}

// WithClassifier injects a note classifier instead of building one from
// config.
func WithClassifier(c insight.Classifier) Option {
	return func(a *App) { a.classifier, a.injectedInsights = c, true }
}

// WithSummarizer injects a summarizer. It is still guarded by
// insights.summary_min_lines.
func WithSummarizer(s insight.Summarizer) Option {
	return func(a *App) { a.summarizer, a.injectedInsights = s, true }
}

// WithMetrics records into m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. cfg must already
// have defaults applied (as [config.Load] does).
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Lecture store ─────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Transcription provider ────────────────────────────────────────
	if a.transcriber == nil {
		a.transcriber = NewTranscriber(cfg.Transcription)
	}

	// ── 3. Insights ──────────────────────────────────────────────────────
	if err := a.initInsights(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init insights: %w", err)
	}

	// ── 4. Live sessions ─────────────────────────────────────────────────
	a.sessions = NewSessionManager(SessionManagerConfig{
		Store:           a.store,
		Provider:        a.transcriber,
		ProviderName:    cfg.Transcription.Provider,
		Classifier:      a.classifier,
		Summarizer:      insight.Guarded(a.summarizer, cfg.Insights.SummaryMinLines),
		Metrics:         a.metrics,
		RecorderOptions: RecorderOptions(cfg.Capture),
	})

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore connects to PostgreSQL when a DSN is configured and falls back
// to the in-memory store otherwise. Either way the store is timed.
func (a *App) initStore(ctx context.Context) error {
	if a.store == nil {
		if dsn := a.cfg.Storage.PostgresDSN; dsn != "" {
			pg, err := postgres.NewStore(ctx, dsn)
			if err != nil {
				return err
			}
			a.closers = append(a.closers, func() error { pg.Close(); return nil })
			a.store = pg
			slog.Info("lecture store: postgres")
		} else {
			a.store = lecture.NewMemStore()
			slog.Warn("storage.postgres_dsn is empty; lectures are kept in memory only")
		}
	}
	a.store = lecture.WithTiming(a.store, a.metrics.StoreTiming())
	return nil
}

func (a *App) initInsights() error {
	if a.classifier == nil {
		c, err := NewClassifier(a.cfg.Insights)
		if err != nil {
			return err
		}
		a.classifier = c
	}
	if a.summarizer == nil {
		s, err := NewSummarizer(a.cfg.Insights)
		if err != nil {
			return err
		}
		a.summarizer = s
	}
	return nil
}

// NewTranscriber creates the Gemini Live provider described by cfg.
func NewTranscriber(cfg config.TranscriptionConfig) transcribe.Provider {
	var opts []gemini.Option
	if cfg.Model != "" {
		opts = append(opts, gemini.WithModel(cfg.Model))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, gemini.WithBaseURL(cfg.BaseURL))
	}
	if cfg.PendingFrames > 0 {
		opts = append(opts, gemini.WithPendingFrames(cfg.PendingFrames))
	}
	return gemini.New(cfg.APIKey, opts...)
}

// RecorderOptions translates the capture config into recorder options.
func RecorderOptions(cfg config.CaptureConfig) []capture.Option {
	var opts []capture.Option
	if cfg.SampleRate > 0 {
		opts = append(opts, capture.WithFormat(audio.Format{SampleRate: cfg.SampleRate, Channels: 1}))
	}
	if cfg.FrameSize > 0 {
		opts = append(opts, capture.WithFrameSize(cfg.FrameSize))
	}
	return opts
}

// NewClassifier builds the note classifier selected by cfg.
func NewClassifier(cfg config.InsightsConfig) (insight.Classifier, error) {
	switch cfg.Classifier {
	case config.ClassifierNone:
		return insight.Nop, nil
	case config.ClassifierLLM:
		llm, err := newCompleter(cfg)
		if err != nil {
			return nil, err
		}
		var categories []string
		for _, r := range cfg.Keywords {
			categories = append(categories, r.Category)
		}
		return insight.NewLLMClassifier(llm, categories), nil
	case config.ClassifierKeyword, "":
		var rules []insight.Rule
		for _, r := range cfg.Keywords {
			rules = append(rules, insight.Rule{Category: r.Category, Terms: r.Terms})
		}
		var opts []insight.KeywordOption
		if cfg.PhoneticThreshold != 0 {
			opts = append(opts, insight.WithPhoneticThreshold(cfg.PhoneticThreshold))
		}
		return insight.NewKeywordClassifier(rules, opts...), nil
	default:
		return nil, fmt.Errorf("unknown classifier %q", cfg.Classifier)
	}
}

// NewSummarizer builds the summarizer selected by cfg. The result is not yet
// guarded by the minimum transcript length.
func NewSummarizer(cfg config.InsightsConfig) (insight.Summarizer, error) {
	switch cfg.Summarizer {
	case config.SummarizerNone:
		return nil, nil
	case config.SummarizerLLM:
		llm, err := newCompleter(cfg)
		if err != nil {
			return nil, err
		}
		return insight.NewLLMSummarizer(llm), nil
	case config.SummarizerExtractive, "":
		return insight.ExtractiveSummarizer{}, nil
	default:
		return nil, fmt.Errorf("unknown summarizer %q", cfg.Summarizer)
	}
}

// newCompleter puts the primary LLM and its fallbacks behind circuit
// breakers.
func newCompleter(cfg config.InsightsConfig) (*resilience.Completer, error) {
	var backends []resilience.Backend
	for i, llmCfg := range append([]config.LLMConfig{cfg.LLM}, cfg.LLMFallbacks...) {
		llm, err := newAnyLLM(llmCfg)
		if err != nil {
			if i > 0 {
				return nil, fmt.Errorf("llm fallback %d: %w", i-1, err)
			}
			return nil, err
		}
		backends = append(backends, resilience.Backend{
			Name:      llmCfg.Provider + "/" + llmCfg.Model,
			Completer: llm,
		})
	}
	return resilience.NewCompleter(resilience.BreakerConfig{}, backends...), nil
}

func newAnyLLM(cfg config.LLMConfig) (*insight.AnyLLM, error) {
	var opts []anyllmlib.Option
	if cfg.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
	}
	return insight.NewAnyLLM(cfg.Provider, cfg.Model, opts...)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Store returns the (timed) lecture store.
func (a *App) Store() lecture.Store { return a.store }

// Sessions returns the live session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Metrics returns the metrics the App records into.
func (a *App) Metrics() *observe.Metrics { return a.metrics }

// ReloadInsights rebuilds the classifier and summarizer from cfg for live
// sessions started afterwards. Injected test doubles are kept.
func (a *App) ReloadInsights(cfg config.InsightsConfig) error {
	if a.injectedInsights {
		return nil
	}
	c, err := NewClassifier(cfg)
	if err != nil {
		return fmt.Errorf("app: reload insights: %w", err)
	}
	s, err := NewSummarizer(cfg)
	if err != nil {
		return fmt.Errorf("app: reload insights: %w", err)
	}
	a.sessions.SetInsights(c, insight.Guarded(s, cfg.SummaryMinLines))
	slog.Info("insights reloaded", "classifier", cfg.Classifier, "summarizer", cfg.Summarizer)
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops and saves every live session, then closes the store. Save
// errors are returned; Shutdown is idempotent.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		if err := a.sessions.StopAll(ctx); err != nil {
			slog.Error("app: saving live sessions on shutdown", "err", err)
			a.stopErr = err
		}
		a.closeAll()
		slog.Info("app shut down")
	})
	return a.stopErr
}

func (a *App) closeAll() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			slog.Warn("app: closer error", "err", err)
		}
	}
	a.closers = nil
}
