package app

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ayusman/fingerspell/internal/aggregator"
	"github.com/ayusman/fingerspell/internal/inferencetest"
	"github.com/ayusman/fingerspell/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newScriptedApp(t *testing.T, script string) (*App, *inferencetest.Server, *inferencetest.Source, *store.Store) {
	t.Helper()

	replies, err := inferencetest.LoadScript(script)
	if err != nil {
		t.Fatalf("LoadScript() error = %v", err)
	}
	srv := inferencetest.NewServer(replies)
	t.Cleanup(srv.Close)

	src := &inferencetest.Source{}
	s := newTestStore(t)
	a := New(Config{
		Store:            s,
		Source:           src,
		InferenceURL:     srv.WSURL(),
		HandshakeTimeout: time.Second,
		FrameInterval:    100 * time.Millisecond,
		Policy:           aggregator.DefaultPolicy(),
	})
	t.Cleanup(func() { a.Stop() })
	return a, srv, src, s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestApp_SpellsScriptedStream(t *testing.T) {
	a, srv, src, s := newScriptedApp(t, "spell_abc")

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !a.Running() || !src.IsOpen() {
		t.Fatal("session should be running with the camera open")
	}

	waitFor(t, "buffer ABC", func() bool { return a.Snapshot().Buffer == "ABC" })
	waitFor(t, "all frames answered", func() bool { return srv.Frames() >= 5 })

	snap := a.Snapshot()
	if snap.Display != "Gesture: C" {
		t.Errorf("Display = %q, want %q", snap.Display, "Gesture: C")
	}

	status := a.Status()
	if !status.Running || !status.Connected || status.SessionID == "" {
		t.Errorf("Status() = %+v", status)
	}
	if status.Sent == 0 {
		t.Error("Status().Sent = 0 after frames were answered")
	}
	if a.LatestFrame() == nil {
		t.Error("LatestFrame() = nil during a session")
	}

	if err := a.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if a.Running() || src.IsOpen() {
		t.Error("Stop() should end the session and close the camera")
	}

	sessions, err := s.Sessions().List(0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("recorded %d sessions, want 1", len(sessions))
	}
	rec := sessions[0]
	if rec.ID != status.SessionID {
		t.Errorf("recorded id %q, want %q", rec.ID, status.SessionID)
	}
	if rec.Transcript != "ABC" || rec.Commits != 3 {
		t.Errorf("recorded transcript %q with %d commits", rec.Transcript, rec.Commits)
	}

	// the final view stays readable after the session ends
	if got := a.Snapshot().Buffer; got != "ABC" {
		t.Errorf("Snapshot().Buffer after Stop = %q", got)
	}
}

func TestApp_RecognitionErrorKeepsBuffer(t *testing.T) {
	a, _, _, s := newScriptedApp(t, "recognition_error")

	var mu sync.Mutex
	var sawError bool
	a.OnChange(func(snap aggregator.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if snap.ErrorKind == aggregator.ErrorRecognition && snap.Buffer == "H" {
			sawError = true
		}
	})

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "buffer HI", func() bool { return a.Snapshot().Buffer == "HI" })

	mu.Lock()
	if !sawError {
		t.Error("listener never saw the recognition error over buffer H")
	}
	mu.Unlock()

	if snap := a.Snapshot(); snap.Error != "" {
		t.Errorf("error %q should be cleared by the next gesture", snap.Error)
	}

	a.Stop()
	rec, err := s.Sessions().List(1)
	if err != nil || len(rec) != 1 {
		t.Fatalf("List() = %v, %v", rec, err)
	}
	if rec[0].RecognitionErrors != 1 {
		t.Errorf("RecognitionErrors = %d, want 1", rec[0].RecognitionErrors)
	}
}

func TestApp_ResultFieldService(t *testing.T) {
	a, _, _, _ := newScriptedApp(t, "result_field")

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "buffer OK", func() bool { return a.Snapshot().Buffer == "OK" })
}

func TestApp_UserActions(t *testing.T) {
	a, _, _, _ := newScriptedApp(t, "spell_abc")

	if err := a.Reset(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Reset() before Start = %v, want ErrNotRunning", err)
	}
	if err := a.AppendSpace(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("AppendSpace() before Start = %v, want ErrNotRunning", err)
	}

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := a.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() = %v, want ErrAlreadyRunning", err)
	}

	waitFor(t, "buffer ABC", func() bool { return a.Snapshot().Buffer == "ABC" })

	if err := a.AppendSpace(); err != nil {
		t.Fatalf("AppendSpace() error = %v", err)
	}
	if got := a.Snapshot().Buffer; got != "ABC " {
		t.Errorf("Buffer after space = %q", got)
	}
	if err := a.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if got := a.Snapshot().Buffer; got != "" {
		t.Errorf("Buffer after reset = %q", got)
	}
}

func TestApp_ServerDisconnect(t *testing.T) {
	a, srv, _, s := newScriptedApp(t, "spell_abc")

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "buffer ABC", func() bool { return a.Snapshot().Buffer == "ABC" })

	srv.Disconnect("model reloading")

	waitFor(t, "transport banner", func() bool {
		return a.Snapshot().ErrorKind == aggregator.ErrorTransport
	})
	snap := a.Snapshot()
	if snap.Buffer != "ABC" {
		t.Errorf("Buffer after disconnect = %q, want ABC", snap.Buffer)
	}
	if !strings.HasPrefix(snap.Display, "Error: inference service disconnected") {
		t.Errorf("Display = %q", snap.Display)
	}
	if a.Status().Connected {
		t.Error("Status().Connected = true after disconnect")
	}
	// still a session until the user stops it
	if !a.Running() {
		t.Error("Running() = false after disconnect")
	}

	a.Stop()
	rec, err := s.Sessions().List(1)
	if err != nil || len(rec) != 1 {
		t.Fatalf("List() = %v, %v", rec, err)
	}
	if rec[0].Disconnects != 1 {
		t.Errorf("Disconnects = %d, want 1", rec[0].Disconnects)
	}
}

func TestApp_StartUnreachable(t *testing.T) {
	srv := inferencetest.NewServer(nil)
	url := srv.WSURL()
	srv.Close()

	src := &inferencetest.Source{}
	a := New(Config{
		Source:           src,
		InferenceURL:     url,
		HandshakeTimeout: 500 * time.Millisecond,
	})

	if err := a.Start(context.Background()); err == nil {
		t.Fatal("Start() against a closed server should fail")
	}
	if a.Running() {
		t.Error("Running() = true after failed Start")
	}
	if opens, closes := src.Counts(); opens != 1 || closes != 1 {
		t.Errorf("camera opened %d and closed %d times, want 1/1", opens, closes)
	}

	snap := a.Snapshot()
	if snap.ErrorKind != aggregator.ErrorTransport {
		t.Errorf("ErrorKind = %q, want transport", snap.ErrorKind)
	}
	if err := a.Stop(); err != nil {
		t.Errorf("Stop() with nothing running = %v", err)
	}
}

func TestApp_StartCameraFailure(t *testing.T) {
	src := &inferencetest.Source{OpenErr: errors.New("device busy")}
	a := New(Config{Source: src, InferenceURL: "ws://127.0.0.1:1/ws"})

	err := a.Start(context.Background())
	if err == nil || !errors.Is(err, src.OpenErr) {
		t.Fatalf("Start() = %v, want wrapped camera error", err)
	}
	if a.Running() {
		t.Error("Running() = true after failed Start")
	}
}

func TestApp_StartsFreshEachSession(t *testing.T) {
	a, _, _, s := newScriptedApp(t, "spell_abc")

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "buffer ABC", func() bool { return a.Snapshot().Buffer == "ABC" })
	a.Stop()

	// the scripted server has no replies left, so nothing is committed
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if got := a.Snapshot().Buffer; got != "" {
		t.Errorf("new session Buffer = %q, want empty", got)
	}
	a.Stop()

	sessions, err := s.Sessions().List(0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(sessions) != 2 {
		t.Errorf("recorded %d sessions, want 2", len(sessions))
	}
}

func TestApp_StartDoesNotBlockReads(t *testing.T) {
	stall, err := inferencetest.NewStall()
	if err != nil {
		t.Fatalf("NewStall() error = %v", err)
	}
	defer stall.Close()

	a := New(Config{
		Source:           &inferencetest.Source{},
		InferenceURL:     stall.WSURL(),
		HandshakeTimeout: 2 * time.Second,
	})

	started := make(chan error, 1)
	go func() { started <- a.Start(context.Background()) }()

	select {
	case <-stall.Accepted():
	case <-time.After(2 * time.Second):
		t.Fatal("Start never reached the inference service")
	}

	// reads and user actions answer while the handshake hangs
	done := make(chan struct{})
	go func() {
		a.Snapshot()
		a.Status()
		a.LatestFrame()
		a.AppendSpace()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("state reads blocked behind a pending dial")
	}

	if err := a.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() while dialing = %v, want ErrAlreadyRunning", err)
	}
	if a.Running() {
		t.Error("Running() = true before the dial finished")
	}

	select {
	case err := <-started:
		if err == nil {
			t.Fatal("Start() against a silent service should fail")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after the handshake timeout")
	}
	if got := a.Snapshot().Error; !strings.Contains(got, "handshake timed out") {
		t.Errorf("Error = %q, want the handshake timeout", got)
	}
}

func TestApp_DialFailureReason(t *testing.T) {
	srv := inferencetest.NewServer(nil)
	url := srv.WSURL()
	srv.Close()

	a := New(Config{
		Source:           &inferencetest.Source{},
		InferenceURL:     url,
		HandshakeTimeout: 500 * time.Millisecond,
	})
	if err := a.Start(context.Background()); err == nil {
		t.Fatal("Start() against a closed server should fail")
	}

	want := "Error: inference service disconnected: connect: connection refused"
	if got := a.Snapshot().Display; got != want {
		t.Errorf("Display = %q, want %q", got, want)
	}
}

func TestApp_OnRunningChange(t *testing.T) {
	a, _, _, _ := newScriptedApp(t, "spell_abc")

	var mu sync.Mutex
	var seen []bool
	a.OnRunningChange(func(running bool) {
		mu.Lock()
		seen = append(seen, running)
		mu.Unlock()
	})

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := a.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start() = %v", err)
	}
	a.Stop()
	a.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || !seen[0] || seen[1] {
		t.Errorf("running changes = %v, want [true false]", seen)
	}
}
