package aggregator

import "time"

// Default policy windows.
const (
	// DisplayRefresh is how long an unchanged gesture may sit on screen
	// before the display text is reassigned.
	DisplayRefresh = 500 * time.Millisecond
	// CommitCooldown is how long the same letter is held back from being
	// committed again. Kept longer than the 100ms frame period so a held
	// pose does not spam the buffer.
	CommitCooldown = 700 * time.Millisecond
)

// ErrorKind distinguishes the two error banners the display can show.
type ErrorKind string

const (
	ErrorNone        ErrorKind = ""
	ErrorRecognition ErrorKind = "recognition"
	ErrorTransport   ErrorKind = "transport"
)

// Display is what the view shows for the current prediction.
type Display struct {
	Text      string
	ErrorText string
	ErrorKind ErrorKind
}

// Render returns the single string the view should show. Error text takes
// precedence over the gesture text without erasing it.
func (d Display) Render() string {
	if d.ErrorText != "" {
		return "Error: " + d.ErrorText
	}
	return d.Text
}

// Window holds the debounce bookkeeping for both policies.
type Window struct {
	LastDisplaySymbol   string
	LastDisplayTime     time.Time
	LastCommittedSymbol string
	LastCommitTime      time.Time
}

// State is the complete aggregator state for one session.
type State struct {
	Display Display
	// Buffer only ever grows by appends, or is cleared in full.
	Buffer string
	Window Window
}

// Policy holds the two independent debounce windows.
type Policy struct {
	DisplayRefresh time.Duration
	CommitCooldown time.Duration
}

// DefaultPolicy returns the 500ms display / 700ms commit policy.
func DefaultPolicy() Policy {
	return Policy{
		DisplayRefresh: DisplayRefresh,
		CommitCooldown: CommitCooldown,
	}
}

// normalized fills zero windows with the defaults.
func (p Policy) normalized() Policy {
	if p.DisplayRefresh <= 0 {
		p.DisplayRefresh = DisplayRefresh
	}
	if p.CommitCooldown <= 0 {
		p.CommitCooldown = CommitCooldown
	}
	return p
}

// IsCommittable reports whether a recognized symbol may enter the buffer:
// exactly one uppercase letter A-Z. Status tokens such as
// "No hand detected" only ever reach the display.
func IsCommittable(symbol string) bool {
	return len(symbol) == 1 && symbol[0] >= 'A' && symbol[0] <= 'Z'
}
