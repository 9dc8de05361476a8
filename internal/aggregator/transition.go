package aggregator

import (
	"fmt"
	"time"
)

// noCommit is the sentinel stored in LastCommittedSymbol after a space, so
// the next letter is never treated as an immediate repeat.
const noCommit = ""

// Transition applies ev to s under the default policy.
func Transition(s State, ev Event, now time.Time) (State, []Effect) {
	return DefaultPolicy().Transition(s, ev, now)
}

// Transition applies ev to s at time now and returns the new state together
// with the effects that became visible. It never reads a clock and never
// mutates s.
func (p Policy) Transition(s State, ev Event, now time.Time) (State, []Effect) {
	p = p.normalized()

	switch e := ev.(type) {
	case Recognized:
		return p.recognized(s, e.Symbol, now)

	case Failed:
		msg := e.Message
		if msg == "" {
			msg = "recognition failed"
		}
		return raiseError(s, ErrorRecognition, msg)

	case Disconnected:
		msg := "inference service disconnected"
		if e.Reason != "" {
			msg = fmt.Sprintf("%s: %s", msg, e.Reason)
		}
		return raiseError(s, ErrorTransport, msg)

	case ResetRequested:
		s.Buffer = ""
		return s, []Effect{{Kind: BufferCleared}}

	case SpaceRequested:
		s.Buffer += " "
		s.Window.LastCommittedSymbol = noCommit
		return s, []Effect{{Kind: SpaceAppended}}
	}

	return s, nil
}

func (p Policy) recognized(s State, symbol string, now time.Time) (State, []Effect) {
	if symbol == "" {
		return s, nil
	}

	var effects []Effect
	w := &s.Window

	// Display: any change shows immediately; an unchanged symbol is
	// reassigned once the refresh window has elapsed.
	if symbol != w.LastDisplaySymbol || now.Sub(w.LastDisplayTime) > p.DisplayRefresh {
		s.Display.Text = "Gesture: " + symbol
		w.LastDisplaySymbol = symbol
		w.LastDisplayTime = now
		effects = append(effects, Effect{Kind: DisplayUpdated, Value: symbol})
	}

	// Commit: only an immediate repeat inside the cooldown is held back.
	if p.shouldCommit(*w, symbol, now) {
		s.Buffer += symbol
		w.LastCommittedSymbol = symbol
		w.LastCommitTime = now
		effects = append(effects, Effect{Kind: Committed, Value: symbol})
	}

	if s.Display.ErrorText != "" {
		s.Display.ErrorText = ""
		s.Display.ErrorKind = ErrorNone
		effects = append(effects, Effect{Kind: ErrorCleared})
	}

	return s, effects
}

func (p Policy) shouldCommit(w Window, symbol string, now time.Time) bool {
	if !IsCommittable(symbol) {
		return false
	}
	if symbol != w.LastCommittedSymbol {
		return true
	}
	return now.Sub(w.LastCommitTime) > p.CommitCooldown
}

func raiseError(s State, kind ErrorKind, msg string) (State, []Effect) {
	s.Display.ErrorText = msg
	s.Display.ErrorKind = kind
	return s, []Effect{{Kind: ErrorRaised, Value: msg}}
}
