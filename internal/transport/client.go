// Package transport is the websocket link to the inference service. It
// sends frame messages and turns inbound predictions into aggregator
// events.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/fingerspell/internal/aggregator"
	"github.com/ayusman/fingerspell/internal/logging"
	"github.com/ayusman/fingerspell/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	eventBuffer = 64
)

// ErrNotConnected is returned by SendFrame once the link is down.
var ErrNotConnected = errors.New("transport: not connected")

// Config describes how to reach the inference service.
type Config struct {
	URL              string
	HandshakeTimeout time.Duration
	Header           http.Header
	Logger           *slog.Logger
}

// Client is one websocket session with the inference service.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger

	events    chan aggregator.Event
	done      chan struct{}
	connected atomic.Bool

	writeMu   sync.Mutex
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial connects to cfg.URL and starts the read and keepalive loops.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}

	conn, _, err := dialer.DialContext(ctx, cfg.URL, cfg.Header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}

	c := &Client{
		conn:   conn,
		logger: logging.OrDiscard(cfg.Logger).With("component", "transport"),
		events: make(chan aggregator.Event, eventBuffer),
		done:   make(chan struct{}),
	}
	c.connected.Store(true)

	c.wg.Add(2)
	go c.readPump()
	go c.pingLoop()

	c.logger.Info("connected to inference service", "url", cfg.URL)
	return c, nil
}

// DialReason shortens a Dial error to the part a user can act on, such as
// "connect: connection refused" or "handshake timed out".
func DialReason(err error) string {
	if err == nil {
		return ""
	}

	var netErr net.Error
	var opErr *net.OpError
	switch {
	case errors.Is(err, websocket.ErrBadHandshake):
		return "bad handshake"
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return "handshake timed out"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.As(err, &opErr) && opErr.Err != nil:
		return opErr.Err.Error()
	}
	return err.Error()
}

// Events delivers stream events in arrival order. The channel is closed
// after the connection ends; a Disconnected event precedes the close when
// the connection dropped without Close being called.
func (c *Client) Events() <-chan aggregator.Event {
	return c.events
}

// Connected reports whether frames can currently be sent.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// SendFrame sends one JPEG frame.
func (c *Client) SendFrame(jpeg []byte) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	msg, err := protocol.EncodeFrame(jpeg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

// Close ends the session. It is safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		close(c.done)

		c.writeMu.Lock()
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()

		err = c.conn.Close()
	})
	c.wg.Wait()
	return err
}

func (c *Client) readPump() {
	defer c.wg.Done()
	defer close(c.events)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		p, err := protocol.ParsePrediction(data)
		if err != nil {
			c.logger.Warn("ignoring malformed prediction", "error", err)
			continue
		}
		ev, ok := p.Event(time.Now())
		if !ok {
			continue
		}
		if p.Timestamp != nil {
			c.logger.Debug("prediction", "service_ts", *p.Timestamp, "gesture", p.Gesture)
		}
		if !c.emit(ev) {
			return
		}
	}
}

func (c *Client) handleReadError(err error) {
	wasConnected := c.connected.Swap(false)
	select {
	case <-c.done:
		return
	default:
	}
	if !wasConnected {
		return
	}

	reason := err.Error()
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		reason = closeErr.Text
		if reason == "" {
			reason = fmt.Sprintf("closed with code %d", closeErr.Code)
		}
	}
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.Warn("inference connection lost", "error", err)
	} else {
		c.logger.Info("inference connection closed", "reason", reason)
	}
	c.emit(aggregator.Disconnected{Reason: reason, ReceivedAt: time.Now()})
}

func (c *Client) emit(ev aggregator.Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *Client) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}
