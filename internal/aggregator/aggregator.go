package aggregator

import (
	"sync"
	"sync/atomic"
	"time"
)

// changes numbers every visible change in the process, across aggregators,
// so a later session's snapshots always order after an earlier one's.
var changes atomic.Uint64

// Snapshot is the read-only view of an aggregator handed to renderers.
type Snapshot struct {
	Display   string    `json:"display"`
	Gesture   string    `json:"gesture"`
	Error     string    `json:"error,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Buffer    string    `json:"buffer"`
	// Seq grows with every change. A larger Seq is a newer snapshot.
	Seq uint64 `json:"seq"`
}

// Stats counts what happened during a session.
type Stats struct {
	Commits           int
	RecognitionErrors int
	Disconnects       int
}

// Observer is notified after every transition that produced effects.
// It runs while the aggregator lock is held so notifications arrive in
// transition order; it must not call back into the Aggregator.
type Observer func(snap Snapshot, effects []Effect)

// Aggregator serializes events through Policy.Transition, one at a time.
type Aggregator struct {
	mu       sync.Mutex
	policy   Policy
	state    State
	seq      uint64
	stats    Stats
	observer Observer
}

// New creates an Aggregator with empty state.
func New(policy Policy) *Aggregator {
	return &Aggregator{policy: policy.normalized(), seq: changes.Add(1)}
}

// SetObserver installs fn as the change observer. Passing nil removes it.
func (a *Aggregator) SetObserver(fn Observer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observer = fn
}

// Handle applies ev at time now and returns the resulting effects.
func (a *Aggregator) Handle(ev Event, now time.Time) []Effect {
	a.mu.Lock()
	defer a.mu.Unlock()

	next, effects := a.policy.Transition(a.state, ev, now)
	a.state = next

	for _, e := range effects {
		switch e.Kind {
		case Committed:
			a.stats.Commits++
		case ErrorRaised:
			if next.Display.ErrorKind == ErrorTransport {
				a.stats.Disconnects++
			} else {
				a.stats.RecognitionErrors++
			}
		}
	}

	if len(effects) > 0 {
		a.seq = changes.Add(1)
		if a.observer != nil {
			a.observer(a.snapshot(), effects)
		}
	}
	return effects
}

// Reset clears the committed buffer. Cooldown timers are left alone.
func (a *Aggregator) Reset() {
	a.Handle(ResetRequested{}, time.Time{})
}

// AppendSpace appends a space and lets the next letter commit even if it
// repeats the one before the space.
func (a *Aggregator) AppendSpace() {
	a.Handle(SpaceRequested{}, time.Time{})
}

// State returns a copy of the full state, including debounce bookkeeping.
func (a *Aggregator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Snapshot returns the renderable view of the current state.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot()
}

// Stats returns the session counters.
func (a *Aggregator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

func (a *Aggregator) snapshot() Snapshot {
	s := a.state
	return Snapshot{
		Display:   s.Display.Render(),
		Gesture:   s.Window.LastDisplaySymbol,
		Error:     s.Display.ErrorText,
		ErrorKind: s.Display.ErrorKind,
		Buffer:    s.Buffer,
		Seq:       a.seq,
	}
}
