// Package protocol defines the JSON messages exchanged with the inference
// service: outbound JPEG frames and inbound predictions.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayusman/fingerspell/internal/aggregator"
)

// FrameEvent is the event name carried by outbound frame messages.
const FrameEvent = "frame"

// ErrEmptyFrame is returned when a frame message has no image data.
var ErrEmptyFrame = errors.New("frame has no image data")

// FrameMessage is one encoded still image sent to the inference service.
type FrameMessage struct {
	Event string `json:"event"`
	Data  string `json:"data"` // base64 JPEG, no data-URL prefix
}

// EncodeFrame wraps a JPEG payload in a frame message.
func EncodeFrame(jpeg []byte) ([]byte, error) {
	if len(jpeg) == 0 {
		return nil, ErrEmptyFrame
	}
	return json.Marshal(FrameMessage{
		Event: FrameEvent,
		Data:  base64.StdEncoding.EncodeToString(jpeg),
	})
}

// DecodeFrame extracts the JPEG payload from a frame message. A leading
// data-URL prefix ("data:image/jpeg;base64,") is tolerated.
func DecodeFrame(data []byte) ([]byte, error) {
	var msg FrameMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("parse frame: %w", err)
	}
	if msg.Event != FrameEvent {
		return nil, fmt.Errorf("unexpected event %q", msg.Event)
	}

	payload := msg.Data
	if i := strings.IndexByte(payload, ','); i >= 0 {
		payload = payload[i+1:]
	}
	if payload == "" {
		return nil, ErrEmptyFrame
	}

	jpeg, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return jpeg, nil
}

// Prediction is the inbound message from the inference service.
//
// Error is usually a message string. Some services send "error": true and
// put the message in Result instead; both forms are accepted. Result also
// doubles as the label for services that do not use the gesture field.
type Prediction struct {
	Gesture   string          `json:"gesture,omitempty"`
	Error     json.RawMessage `json:"error,omitempty"`
	Result    string          `json:"result,omitempty"`
	Timestamp *float64        `json:"timestamp,omitempty"`
}

// ParsePrediction decodes a raw inbound message.
func ParsePrediction(data []byte) (Prediction, error) {
	var p Prediction
	if err := json.Unmarshal(data, &p); err != nil {
		return Prediction{}, fmt.Errorf("parse prediction: %w", err)
	}
	return p, nil
}

// ErrorMessage returns the error carried by p, if any.
func (p Prediction) ErrorMessage() (string, bool) {
	raw := strings.TrimSpace(string(p.Error))
	if raw == "" || raw == "null" || raw == "false" {
		return "", false
	}

	var msg string
	if err := json.Unmarshal(p.Error, &msg); err == nil {
		if msg == "" {
			return "", false
		}
		return msg, true
	}

	if raw == "true" {
		if p.Result != "" {
			return p.Result, true
		}
		return "recognition failed", true
	}

	return raw, true
}

// Label returns the recognized symbol carried by p, if any.
func (p Prediction) Label() (string, bool) {
	if p.Gesture != "" {
		return p.Gesture, true
	}
	if p.Result != "" {
		return p.Result, true
	}
	return "", false
}

// Event converts p into an aggregator event stamped with receivedAt.
// It reports false when p carries neither a gesture nor an error, which
// callers treat as a no-op. An error takes precedence over a gesture.
func (p Prediction) Event(receivedAt time.Time) (aggregator.Event, bool) {
	if msg, ok := p.ErrorMessage(); ok {
		return aggregator.Failed{Message: msg, ReceivedAt: receivedAt}, true
	}
	if label, ok := p.Label(); ok {
		return aggregator.Recognized{Symbol: label, ReceivedAt: receivedAt}, true
	}
	return nil, false
}
