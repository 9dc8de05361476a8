package server

import (
	"bytes"
	"fmt"
	"net/http"
	"time"
)

// FrameProvider exposes the most recent camera frame as JPEG.
type FrameProvider interface {
	LatestFrame() []byte
}

// StreamHandler serves the live session's frames as MJPEG.
type StreamHandler struct {
	frames   FrameProvider
	interval time.Duration
}

// NewStreamHandler creates a new StreamHandler reading from frames.
func NewStreamHandler(frames FrameProvider) *StreamHandler {
	return &StreamHandler{frames: frames, interval: 100 * time.Millisecond}
}

// ServeHTTP streams MJPEG frames until the client goes away. Frames are
// only written when they change.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var last []byte
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		frame := h.frames.LatestFrame()
		if len(frame) == 0 || bytes.Equal(frame, last) {
			continue
		}
		last = frame

		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(frame))
		if _, err := w.Write(frame); err != nil {
			return
		}
		fmt.Fprintf(w, "\r\n")

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}
