package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/ocepa/internal/insight"
	"github.com/MrWong99/ocepa/internal/lecture"
	"github.com/MrWong99/ocepa/internal/observe"
	"github.com/MrWong99/ocepa/pkg/capture"
	"github.com/MrWong99/ocepa/pkg/provider/transcribe"
)

// ErrSessionActive is returned by [SessionManager.Start] when the lecture
// already has a live session.
var ErrSessionActive = errors.New("app: lecture already has a live session")

// ErrNoSession is returned when no live session exists for a lecture.
var ErrNoSession = errors.New("app: no live session for lecture")

// SessionInfo holds metadata about a live session.
type SessionInfo struct {
	// LectureID identifies the lecture being captured.
	LectureID string

	// StartedAt is when the session was started.
	StartedAt time.Time
}

// SessionManager owns the live sessions of a process, at most one per
// lecture. All exported methods are safe for concurrent use.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*managed

	store        lecture.Store
	provider     transcribe.Provider
	providerName string
	metrics      *observe.Metrics
	recorderOpts []capture.Option

	insightsMu sync.RWMutex
	classifier insight.Classifier
	summarizer insight.Summarizer
}

type managed struct {
	session *LiveSession
	info    SessionInfo
	counted bool // guarded by SessionManager.mu
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Store        lecture.Store
	Provider     transcribe.Provider
	ProviderName string
	Classifier   insight.Classifier
	Summarizer   insight.Summarizer

	// Metrics is optional.
	Metrics *observe.Metrics

	// RecorderOptions configure the capture format of every session.
	RecorderOptions []capture.Option
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	return &SessionManager{
		sessions:     make(map[string]*managed),
		store:        cfg.Store,
		provider:     cfg.Provider,
		providerName: cfg.ProviderName,
		metrics:      cfg.Metrics,
		recorderOpts: slices.Clone(cfg.RecorderOptions),
		classifier:   cfg.Classifier,
		summarizer:   cfg.Summarizer,
	}
}

// SetInsights replaces the classifier and summarizer used by sessions
// started from now on. Running sessions keep theirs.
func (sm *SessionManager) SetInsights(c insight.Classifier, s insight.Summarizer) {
	sm.insightsMu.Lock()
	defer sm.insightsMu.Unlock()
	sm.classifier, sm.summarizer = c, s
}

func (sm *SessionManager) insights() (insight.Classifier, insight.Summarizer) {
	sm.insightsMu.RLock()
	defer sm.insightsMu.RUnlock()
	return sm.classifier, sm.summarizer
}

// Start loads the lecture, then starts a live session capturing from device
// and registers it. onEvent may be nil. The session is unregistered when it
// is stopped, either through [SessionManager.Stop] or directly.
func (sm *SessionManager) Start(ctx context.Context, lectureID string, device capture.Device, onEvent EventHandler) (*LiveSession, error) {
	lec, err := sm.store.Get(ctx, lectureID)
	if err != nil {
		return nil, fmt.Errorf("app: load lecture: %w", err)
	}

	sm.mu.Lock()
	if _, ok := sm.sessions[lectureID]; ok {
		sm.mu.Unlock()
		return nil, fmt.Errorf("%w (id=%s)", ErrSessionActive, lectureID)
	}
	classifier, summarizer := sm.insights()
	m := &managed{info: SessionInfo{LectureID: lectureID, StartedAt: time.Now().UTC()}}
	m.session = NewLiveSession(LiveConfig{
		Lecture:         lec,
		Store:           sm.store,
		Provider:        sm.provider,
		ProviderName:    sm.providerName,
		Device:          device,
		Classifier:      classifier,
		Summarizer:      summarizer,
		Metrics:         sm.metrics,
		RecorderOptions: sm.recorderOpts,
		OnEvent:         onEvent,
		OnStopped:       func() { sm.remove(lectureID, m) },
	})
	// Reserve the slot so a concurrent Start for the same lecture fails fast.
	sm.sessions[lectureID] = m
	sm.mu.Unlock()

	if err := m.session.Start(ctx); err != nil {
		sm.remove(lectureID, m)
		return nil, err
	}
	sm.mu.Lock()
	if sm.sessions[lectureID] == m {
		m.counted = true
		if sm.metrics != nil {
			sm.metrics.ActiveSessions.Add(ctx, 1)
		}
	}
	sm.mu.Unlock()
	slog.Info("live session registered", "lecture_id", lectureID)
	return m.session, nil
}

// remove unregisters m if it is still the session registered for lectureID.
func (sm *SessionManager) remove(lectureID string, m *managed) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.sessions[lectureID] != m {
		return
	}
	delete(sm.sessions, lectureID)
	if m.counted && sm.metrics != nil {
		sm.metrics.ActiveSessions.Add(context.Background(), -1)
	}
}

// Stop stops and saves the live session of a lecture. It returns
// [ErrNoSession] when none is registered, or the save error.
func (sm *SessionManager) Stop(ctx context.Context, lectureID string) error {
	ls := sm.Get(lectureID)
	if ls == nil {
		return fmt.Errorf("%w (id=%s)", ErrNoSession, lectureID)
	}
	return ls.Stop(ctx)
}

// StopAll stops every live session and returns the joined save errors.
func (sm *SessionManager) StopAll(ctx context.Context) error {
	sm.mu.Lock()
	sessions := make([]*LiveSession, 0, len(sm.sessions))
	for _, m := range sm.sessions {
		sessions = append(sessions, m.session)
	}
	sm.mu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, ls := range sessions {
		wg.Go(func() {
			if err := ls.Stop(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Get returns the live session of a lecture, or nil.
func (sm *SessionManager) Get(lectureID string) *LiveSession {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if m, ok := sm.sessions[lectureID]; ok {
		return m.session
	}
	return nil
}

// IsActive reports whether the lecture has a live session.
func (sm *SessionManager) IsActive(lectureID string) bool {
	return sm.Get(lectureID) != nil
}

// Active returns metadata about all live sessions, oldest first.
func (sm *SessionManager) Active() []SessionInfo {
	sm.mu.Lock()
	out := make([]SessionInfo, 0, len(sm.sessions))
	for _, m := range sm.sessions {
		out = append(out, m.info)
	}
	sm.mu.Unlock()

	slices.SortFunc(out, func(a, b SessionInfo) int {
		return cmp.Or(a.StartedAt.Compare(b.StartedAt), strings.Compare(a.LectureID, b.LectureID))
	})
	return out
}
