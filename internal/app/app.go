// Package app wires the camera, the inference transport and the
// aggregator into listening sessions.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ayusman/fingerspell/internal/aggregator"
	"github.com/ayusman/fingerspell/internal/capture"
	"github.com/ayusman/fingerspell/internal/logging"
	"github.com/ayusman/fingerspell/internal/store"
)

var (
	// ErrAlreadyRunning is returned by Start while a session is active.
	ErrAlreadyRunning = errors.New("session already running")
	// ErrNotRunning is returned by buffer actions outside a session.
	ErrNotRunning = errors.New("no session running")
)

// Config holds configuration options for the application.
type Config struct {
	// Store records finished sessions. Optional.
	Store  *store.Store
	Source capture.Source

	InferenceURL     string
	HandshakeTimeout time.Duration
	FrameInterval    time.Duration
	Policy           aggregator.Policy

	Logger *slog.Logger
	// Now is the clock fed to the aggregator. Defaults to time.Now.
	Now func() time.Time
}

// Status describes the application for health checks.
type Status struct {
	Running   bool      `json:"running"`
	Connected bool      `json:"connected"`
	SessionID string    `json:"session_id,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
	Sent      uint64    `json:"frames_sent"`
	Dropped   uint64    `json:"frames_dropped"`
}

// App owns at most one running session at a time.
type App struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	session  *session
	starting bool
	// last keeps the previous session's aggregator on screen until the
	// next session starts.
	last *aggregator.Aggregator

	listenersMu     sync.RWMutex
	listeners       []func(aggregator.Snapshot)
	runningHandlers []func(running bool)
}

// New creates a new App instance with the given configuration.
func New(config Config) *App {
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &App{
		config: config,
		logger: logging.OrDiscard(config.Logger).With("component", "app"),
		now:    now,
	}
}

// OnChange registers fn to receive a snapshot after every visible change.
// fn runs on the goroutine that caused the change and must not call back
// into App.
func (a *App) OnChange(fn func(aggregator.Snapshot)) {
	a.listenersMu.Lock()
	defer a.listenersMu.Unlock()
	a.listeners = append(a.listeners, fn)
}

// OnRunningChange registers fn to learn when a session starts or stops.
// fn runs without App's lock held.
func (a *App) OnRunningChange(fn func(running bool)) {
	a.listenersMu.Lock()
	defer a.listenersMu.Unlock()
	a.runningHandlers = append(a.runningHandlers, fn)
}

func (a *App) notifyRunning(running bool) {
	a.listenersMu.RLock()
	handlers := append([]func(bool){}, a.runningHandlers...)
	a.listenersMu.RUnlock()
	for _, fn := range handlers {
		fn(running)
	}
}

func (a *App) notify(snap aggregator.Snapshot, _ []aggregator.Effect) {
	a.listenersMu.RLock()
	defer a.listenersMu.RUnlock()
	for _, fn := range a.listeners {
		fn(snap)
	}
}

// Start opens the camera, connects to the inference service and begins a
// new session with an empty buffer. If the service cannot be reached the
// transport error is shown and the error returned. The dial runs without
// App's lock held.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.session != nil || a.starting {
		a.mu.Unlock()
		return ErrAlreadyRunning
	}
	a.starting = true
	agg := aggregator.New(a.config.Policy)
	agg.SetObserver(a.notify)
	a.last = agg
	a.mu.Unlock()

	sess, err := startSession(ctx, a.config, agg, a.now, a.logger)

	a.mu.Lock()
	a.starting = false
	if err != nil {
		a.mu.Unlock()
		return err
	}
	a.session = sess
	a.mu.Unlock()

	a.logger.Info("session started", "session_id", sess.id)
	a.notifyRunning(true)
	return nil
}

// Stop ends the running session and records it. Calling Stop with no
// session running is a no-op, including while a Start is still dialing.
func (a *App) Stop() error {
	a.mu.Lock()
	sess := a.session
	if sess == nil {
		a.mu.Unlock()
		return nil
	}
	a.session = nil

	errs := []error{sess.stop()}
	record := sess.record(a.now())

	if a.config.Store != nil {
		if err := a.config.Store.Sessions().Create(record); err != nil {
			errs = append(errs, fmt.Errorf("record session: %w", err))
		}
	}
	a.mu.Unlock()

	a.logger.Info("session stopped",
		"session_id", record.ID,
		"duration", record.Duration().Round(time.Millisecond),
		"commits", record.Commits,
		"recognition_errors", record.RecognitionErrors,
		"disconnects", record.Disconnects,
	)
	a.notifyRunning(false)
	return errors.Join(errs...)
}

// Running reports whether a session is active.
func (a *App) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session != nil
}

// Snapshot returns the current view, or the final view of the previous
// session when none is running.
func (a *App) Snapshot() aggregator.Snapshot {
	a.mu.Lock()
	agg := a.last
	a.mu.Unlock()

	if agg == nil {
		return aggregator.Snapshot{}
	}
	return agg.Snapshot()
}

// Reset clears the buffer of the running session.
func (a *App) Reset() error {
	agg, err := a.active()
	if err != nil {
		return err
	}
	agg.Reset()
	return nil
}

// AppendSpace appends a space to the buffer of the running session.
func (a *App) AppendSpace() error {
	agg, err := a.active()
	if err != nil {
		return err
	}
	agg.AppendSpace()
	return nil
}

func (a *App) active() (*aggregator.Aggregator, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return nil, ErrNotRunning
	}
	return a.session.agg, nil
}

// LatestFrame returns the last frame captured by the running session.
func (a *App) LatestFrame() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return nil
	}
	return a.session.emitter.Latest()
}

// Status returns the running state for health checks.
func (a *App) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session == nil {
		return Status{}
	}
	stats := a.session.emitter.Stats()
	return Status{
		Running:   true,
		Connected: a.session.client.Connected(),
		SessionID: a.session.id,
		StartedAt: a.session.startedAt,
		Sent:      stats.Sent,
		Dropped:   stats.Dropped,
	}
}
