package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSource struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *fakeSource) Next() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return []byte{0xFF, 0xD8, byte(s.calls)}, nil
}

type fakeSink struct {
	mu        sync.Mutex
	connected bool
	err       error
	frames    [][]byte
}

func (s *fakeSink) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSink) SendFrame(jpeg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, jpeg)
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func TestNewEmitter_ClampsInterval(t *testing.T) {
	e := NewEmitter(&fakeSource{}, &fakeSink{}, 10*time.Millisecond, nil)
	if e.Interval() != MinInterval {
		t.Errorf("Interval() = %v, want %v", e.Interval(), MinInterval)
	}

	e = NewEmitter(&fakeSource{}, &fakeSink{}, 250*time.Millisecond, nil)
	if e.Interval() != 250*time.Millisecond {
		t.Errorf("Interval() = %v, want 250ms", e.Interval())
	}
}

func TestEmitter_Tick(t *testing.T) {
	src := &fakeSource{}
	sink := &fakeSink{}
	e := NewEmitter(src, sink, MinInterval, nil)

	// disconnected: the frame is captured for the preview but not sent
	e.tick()
	if src.calls != 1 || sink.count() != 0 {
		t.Errorf("disconnected tick read %d frames and sent %d, want 1 and 0", src.calls, sink.count())
	}
	if latest := e.Latest(); len(latest) != 3 || latest[2] != 1 {
		t.Errorf("Latest() = %v, want the first frame", latest)
	}

	sink.connected = true
	e.tick()
	e.tick()
	if sink.count() != 2 {
		t.Errorf("sent %d frames, want 2", sink.count())
	}
	if latest := e.Latest(); len(latest) != 3 || latest[2] != 3 {
		t.Errorf("Latest() = %v, want the third frame", latest)
	}

	sink.err = errors.New("write: broken pipe")
	e.tick()

	src.err = errors.New("camera unplugged")
	e.tick()

	want := EmitterStats{Sent: 2, Dropped: 2, Failed: 1}
	if got := e.Stats(); got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}
}

func TestEmitter_PreviewContinuesAfterDisconnect(t *testing.T) {
	src := &fakeSource{}
	sink := &fakeSink{connected: true}
	e := NewEmitter(src, sink, MinInterval, nil)

	e.tick()
	sink.mu.Lock()
	sink.connected = false
	sink.mu.Unlock()

	for i := 0; i < 3; i++ {
		e.tick()
	}

	if latest := e.Latest(); len(latest) != 3 || latest[2] != 4 {
		t.Errorf("Latest() = %v, want the fourth frame", latest)
	}
	if sink.count() != 1 {
		t.Errorf("sent %d frames, want 1", sink.count())
	}
	if got := e.Stats(); got.Sent != 1 || got.Dropped != 3 {
		t.Errorf("Stats() = %+v, want 1 sent and 3 dropped", got)
	}
}

func TestEmitter_RunStopsOnCancel(t *testing.T) {
	sink := &fakeSink{connected: true}
	e := NewEmitter(&fakeSource{}, sink, MinInterval, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if sink.count() < 2 {
		t.Errorf("sent %d frames in 2s, want at least 2", sink.count())
	}
}
