package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/fingerspell/internal/aggregator"
	"github.com/ayusman/fingerspell/internal/capture"
	"github.com/ayusman/fingerspell/internal/store"
	"github.com/ayusman/fingerspell/internal/transport"
)

// session is one listening run: an open camera, a live transport and the
// two goroutines moving data between them and the aggregator.
type session struct {
	id           string
	startedAt    time.Time
	inferenceURL string

	source  capture.Source
	client  *transport.Client
	emitter *capture.Emitter
	agg     *aggregator.Aggregator
	now     func() time.Time
	logger  *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func startSession(ctx context.Context, cfg Config, agg *aggregator.Aggregator, now func() time.Time, logger *slog.Logger) (*session, error) {
	if cfg.Source == nil {
		return nil, errors.New("no frame source configured")
	}

	id := uuid.NewString()
	logger = logger.With("session_id", id)

	if err := cfg.Source.Open(); err != nil {
		return nil, fmt.Errorf("open camera: %w", err)
	}

	client, err := transport.Dial(ctx, transport.Config{
		URL:              cfg.InferenceURL,
		HandshakeTimeout: cfg.HandshakeTimeout,
		Logger:           logger,
	})
	if err != nil {
		if cerr := cfg.Source.Close(); cerr != nil {
			logger.Warn("close camera after failed dial", "error", cerr)
		}
		t := now()
		agg.Handle(aggregator.Disconnected{Reason: transport.DialReason(err), ReceivedAt: t}, t)
		return nil, fmt.Errorf("connect to inference service: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:           id,
		startedAt:    now(),
		inferenceURL: cfg.InferenceURL,
		source:       cfg.Source,
		client:       client,
		emitter:      capture.NewEmitter(cfg.Source, client, cfg.FrameInterval, logger),
		agg:          agg,
		now:          now,
		logger:       logger,
		cancel:       cancel,
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.emitter.Run(runCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.consume()
	}()

	return s, nil
}

// consume applies transport events to the aggregator in arrival order
// until the transport closes its event channel.
func (s *session) consume() {
	for ev := range s.client.Events() {
		if d, ok := ev.(aggregator.Disconnected); ok {
			s.logger.Warn("inference service disconnected", "reason", d.Reason)
		}
		s.agg.Handle(ev, s.now())
	}
}

func (s *session) stop() error {
	s.cancel()

	var errs []error
	if err := s.client.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close transport: %w", err))
	}
	s.wg.Wait()

	if err := s.source.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close camera: %w", err))
	}
	return errors.Join(errs...)
}

func (s *session) record(endedAt time.Time) *store.Session {
	stats := s.agg.Stats()
	if endedAt.Before(s.startedAt) {
		endedAt = s.startedAt
	}
	return &store.Session{
		ID:                s.id,
		StartedAt:         s.startedAt,
		EndedAt:           endedAt,
		Transcript:        s.agg.Snapshot().Buffer,
		Commits:           stats.Commits,
		RecognitionErrors: stats.RecognitionErrors,
		Disconnects:       stats.Disconnects,
		InferenceURL:      s.inferenceURL,
	}
}
