// Package aggregator turns the noisy per-frame gesture stream coming back
// from the inference service into a debounced display string and a
// committed text buffer.
package aggregator

import "time"

// Event is anything that can drive a state transition. Stream events come
// from the transport; ResetRequested and SpaceRequested come from the user.
type Event interface {
	isEvent()
}

// Recognized is a successful classification of one frame.
type Recognized struct {
	Symbol     string
	ReceivedAt time.Time
}

// Failed is an explicit error reported by the inference service,
// e.g. a frame that could not be decoded.
type Failed struct {
	Message    string
	ReceivedAt time.Time
}

// Disconnected reports that the transport to the inference service was lost
// or could not be established.
type Disconnected struct {
	Reason     string
	ReceivedAt time.Time
}

// ResetRequested clears the committed buffer.
type ResetRequested struct{}

// SpaceRequested appends a space to the committed buffer.
type SpaceRequested struct{}

func (Recognized) isEvent()     {}
func (Failed) isEvent()         {}
func (Disconnected) isEvent()   {}
func (ResetRequested) isEvent() {}
func (SpaceRequested) isEvent() {}

// EffectKind identifies an observable change produced by a transition.
type EffectKind int

const (
	// DisplayUpdated means the gesture text was (re)assigned.
	DisplayUpdated EffectKind = iota
	// Committed means a letter was appended to the buffer.
	Committed
	// SpaceAppended means a space was appended to the buffer.
	SpaceAppended
	// BufferCleared means the buffer was emptied.
	BufferCleared
	// ErrorRaised means an error banner is now shown.
	ErrorRaised
	// ErrorCleared means a previously shown error banner was removed.
	ErrorCleared
)

func (k EffectKind) String() string {
	switch k {
	case DisplayUpdated:
		return "display_updated"
	case Committed:
		return "committed"
	case SpaceAppended:
		return "space_appended"
	case BufferCleared:
		return "buffer_cleared"
	case ErrorRaised:
		return "error_raised"
	case ErrorCleared:
		return "error_cleared"
	default:
		return "unknown"
	}
}

// Effect describes one change made by a transition. Value carries the
// symbol for DisplayUpdated/Committed and the message for ErrorRaised.
type Effect struct {
	Kind  EffectKind
	Value string
}
