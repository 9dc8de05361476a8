// Package tray provides the system tray menu for fingerspell.
package tray

import (
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/fingerspell/internal/aggregator"
)

// Tray represents the system tray application.
type Tray struct {
	onListen func(listen bool)
	onSpace  func()
	onReset  func()
	onOpen   func()
	onQuit   func()
	mu       sync.RWMutex

	listening bool
	last      aggregator.Snapshot

	// Menu items stored for later updates
	menuListen  *systray.MenuItem
	menuDisplay *systray.MenuItem
	menuBuffer  *systray.MenuItem
}

// New creates a new Tray instance. It starts out not listening.
func New() *Tray {
	return &Tray{}
}

// OnListen sets the callback for the Start/Stop Listening item. It
// receives the requested state.
func (t *Tray) OnListen(fn func(listen bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onListen = fn
}

// OnSpace sets the callback for the Add Space item.
func (t *Tray) OnSpace(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSpace = fn
}

// OnReset sets the callback for the Clear Text item.
func (t *Tray) OnReset(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onReset = fn
}

// OnOpen sets the callback for the Open in Browser item.
func (t *Tray) OnOpen(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpen = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until Quit is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit removes the tray icon and makes Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle("Fingerspell")
	systray.SetTooltip("Fingerspell sign-language transcription")

	t.mu.Lock()
	t.menuListen = systray.AddMenuItem(listenTitle(t.listening), "Start or stop the camera session")
	systray.AddSeparator()

	t.menuDisplay = systray.AddMenuItem(displayTitle(t.last), "Current gesture")
	t.menuDisplay.Disable()
	t.menuBuffer = systray.AddMenuItem(bufferTitle(t.last.Buffer), "Committed text")
	t.menuBuffer.Disable()
	t.mu.Unlock()

	menuSpace := systray.AddMenuItem("Add Space", "Append a space to the text")
	menuReset := systray.AddMenuItem("Clear Text", "Clear the committed text")
	systray.AddSeparator()

	menuOpen := systray.AddMenuItem("Open in Browser...", "Open the live view")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit Fingerspell")

	go func() {
		for {
			select {
			case <-t.menuListen.ClickedCh:
				t.handleListen()
			case <-menuSpace.ClickedCh:
				t.fire(func() func() { return t.onSpace })
			case <-menuReset.ClickedCh:
				t.fire(func() func() { return t.onReset })
			case <-menuOpen.ClickedCh:
				t.fire(func() func() { return t.onOpen })
			case <-menuQuit.ClickedCh:
				t.fire(func() func() { return t.onQuit })
				systray.Quit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

// handleListen flips the requested listening state. The menu title is
// updated by SetListening once the application reports back.
func (t *Tray) handleListen() {
	t.mu.RLock()
	want := !t.listening
	callback := t.onListen
	t.mu.RUnlock()

	if callback != nil {
		callback(want)
	}
}

func (t *Tray) fire(get func() func()) {
	t.mu.RLock()
	callback := get()
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// SetListening updates the Start/Stop item to match the application.
func (t *Tray) SetListening(listening bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.listening = listening
	if t.menuListen != nil {
		t.menuListen.SetTitle(listenTitle(listening))
	}
}

// Update shows snap in the menu. It is safe to call before Run.
func (t *Tray) Update(snap aggregator.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.last = snap
	if t.menuDisplay != nil {
		t.menuDisplay.SetTitle(displayTitle(snap))
	}
	if t.menuBuffer != nil {
		t.menuBuffer.SetTitle(bufferTitle(snap.Buffer))
	}
}

// Listening returns the last state passed to SetListening.
func (t *Tray) Listening() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.listening
}
