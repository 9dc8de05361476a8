package capture

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ayusman/fingerspell/internal/logging"
)

// MinInterval is the shortest allowed period between two frames.
const MinInterval = 100 * time.Millisecond

// FrameSink receives encoded frames. Frames are only offered while the
// sink reports itself connected.
type FrameSink interface {
	Connected() bool
	SendFrame(jpeg []byte) error
}

// EmitterStats counts what happened to each tick.
type EmitterStats struct {
	Sent    uint64
	Dropped uint64
	Failed  uint64
}

// Emitter pulls a frame from a FrameSource on a fixed period and pushes
// it to a FrameSink.
type Emitter struct {
	source   FrameSource
	sink     FrameSink
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	latest []byte
	stats  EmitterStats
}

// NewEmitter creates an Emitter. Intervals below MinInterval are raised
// to MinInterval.
func NewEmitter(source FrameSource, sink FrameSink, interval time.Duration, logger *slog.Logger) *Emitter {
	if interval < MinInterval {
		interval = MinInterval
	}
	return &Emitter{
		source:   source,
		sink:     sink,
		interval: interval,
		logger:   logging.OrDiscard(logger).With("component", "emitter"),
	}
}

// Interval returns the effective frame period.
func (e *Emitter) Interval() time.Duration { return e.interval }

// Run ticks until ctx is done.
func (e *Emitter) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

// tick reads one frame even while the sink is down so the preview keeps
// moving; only the send is dropped.
func (e *Emitter) tick() {
	frame, err := e.source.Next()
	if err != nil {
		e.logger.Debug("frame read failed", "error", err)
		e.count(func(s *EmitterStats) { s.Failed++ })
		return
	}

	e.mu.Lock()
	e.latest = frame
	e.mu.Unlock()

	if !e.sink.Connected() {
		e.count(func(s *EmitterStats) { s.Dropped++ })
		return
	}

	if err := e.sink.SendFrame(frame); err != nil {
		e.logger.Debug("frame send failed", "error", err)
		e.count(func(s *EmitterStats) { s.Dropped++ })
		return
	}
	e.count(func(s *EmitterStats) { s.Sent++ })
}

func (e *Emitter) count(fn func(*EmitterStats)) {
	e.mu.Lock()
	fn(&e.stats)
	e.mu.Unlock()
}

// Latest returns the most recently captured frame, or nil.
func (e *Emitter) Latest() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latest
}

// Stats returns a copy of the counters.
func (e *Emitter) Stats() EmitterStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}
