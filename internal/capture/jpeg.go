package capture

import (
	"fmt"

	"gocv.io/x/gocv"
)

// DefaultJPEGQuality matches the 0.8 quality the browser client used.
const DefaultJPEGQuality = 80

// FrameSource yields encoded JPEG frames.
type FrameSource interface {
	Next() ([]byte, error)
}

// Source is a FrameSource with a device lifecycle.
type Source interface {
	FrameSource
	Open() error
	Close() error
}

// JPEGSource encodes frames from a Camera as JPEG.
type JPEGSource struct {
	camera  Camera
	quality int
}

// NewJPEGSource wraps camera. Out of range qualities fall back to
// DefaultJPEGQuality.
func NewJPEGSource(camera Camera, quality int) *JPEGSource {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &JPEGSource{camera: camera, quality: quality}
}

func (s *JPEGSource) Open() error  { return s.camera.Open() }
func (s *JPEGSource) Close() error { return s.camera.Close() }

// Quality returns the JPEG quality in use.
func (s *JPEGSource) Quality() int { return s.quality }

// Next reads one frame and returns its JPEG encoding.
func (s *JPEGSource) Next() ([]byte, error) {
	frame, err := s.camera.ReadFrame()
	if err != nil {
		return nil, err
	}
	defer frame.Close()

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, *frame, []int{gocv.IMWriteJpegQuality, s.quality})
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	// GetBytes aliases native memory released by buf.Close.
	data := buf.GetBytes()
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}
