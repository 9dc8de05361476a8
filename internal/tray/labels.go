package tray

import (
	"github.com/ayusman/fingerspell/internal/aggregator"
)

// maxTitleRunes keeps menu items readable in the menu bar.
const maxTitleRunes = 32

func listenTitle(listening bool) string {
	if listening {
		return "● Listening (click to stop)"
	}
	return "○ Start Listening"
}

func displayTitle(snap aggregator.Snapshot) string {
	if snap.Display == "" {
		return "Gesture: none"
	}
	return truncate(snap.Display)
}

// bufferTitle shows the tail of the buffer, which is the part being typed.
func bufferTitle(buffer string) string {
	if buffer == "" {
		return "Text: (empty)"
	}
	r := []rune(buffer)
	if len(r) > maxTitleRunes {
		return "Text: …" + string(r[len(r)-maxTitleRunes+1:])
	}
	return "Text: " + buffer
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxTitleRunes {
		return s
	}
	return string(r[:maxTitleRunes-1]) + "…"
}
