// Package inferencetest provides a scripted stand-in for the inference
// service and a canned frame source, for tests that exercise a whole
// listening session.
package inferencetest

import (
	"bufio"
	"bytes"
	"embed"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/fingerspell/internal/protocol"
)

//go:embed scripts/*.jsonl
var scriptsFS embed.FS

// LoadScript returns the replies in scripts/<name>.jsonl. Blank lines and
// lines starting with '#' are skipped.
func LoadScript(name string) ([]string, error) {
	data, err := scriptsFS.ReadFile("scripts/" + name + ".jsonl")
	if err != nil {
		return nil, fmt.Errorf("load script %s: %w", name, err)
	}

	var replies []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		replies = append(replies, line)
	}
	return replies, sc.Err()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server answers the n-th frame it receives with the n-th scripted reply
// and stays silent once the script runs out.
type Server struct {
	*httptest.Server

	mu      sync.Mutex
	replies []string
	next    int
	frames  int
	conns   map[*websocket.Conn]bool
}

// NewServer starts a Server playing replies.
func NewServer(replies []string) *Server {
	s := &Server{
		replies: replies,
		conns:   make(map[*websocket.Conn]bool),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// WSURL returns the websocket URL of the server.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http")
}

// Frames returns how many valid frames have been received.
func (s *Server) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Disconnect closes every open connection with a going-away close frame.
func (s *Server) Disconnect(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
	for conn := range s.conns {
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
		delete(s.conns, conn)
	}
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns[conn] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if _, err := protocol.DecodeFrame(msg); err != nil {
			continue
		}

		s.mu.Lock()
		s.frames++
		var reply string
		if s.next < len(s.replies) {
			reply = s.replies[s.next]
			s.next++
		}
		var werr error
		if reply != "" {
			werr = conn.WriteMessage(websocket.TextMessage, []byte(reply))
		}
		s.mu.Unlock()

		if werr != nil {
			return
		}
	}
}

// JPEG is a minimal payload that starts with the JPEG magic bytes.
var JPEG = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0xFF, 0xD9}

// Source is a capture source that returns JPEG on every read.
type Source struct {
	mu      sync.Mutex
	open    bool
	opens   int
	closes  int
	OpenErr error
}

func (s *Source) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OpenErr != nil {
		return s.OpenErr
	}
	s.open = true
	s.opens++
	return nil
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	s.closes++
	return nil
}

func (s *Source) Next() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, fmt.Errorf("source closed")
	}
	return JPEG, nil
}

// IsOpen reports whether the source is currently open.
func (s *Source) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Counts returns how many times Open and Close succeeded.
func (s *Source) Counts() (opens, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens, s.closes
}

// Stall accepts TCP connections and never answers, so a websocket
// handshake against it hangs until the dialer gives up.
type Stall struct {
	ln       net.Listener
	accepted chan struct{}

	mu    sync.Mutex
	conns []net.Conn
}

// NewStall listens on a loopback port.
func NewStall() (*Stall, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Stall{ln: ln, accepted: make(chan struct{}, 16)}
	go s.accept()
	return s, nil
}

func (s *Stall) accept() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		select {
		case s.accepted <- struct{}{}:
		default:
		}
	}
}

// WSURL returns a websocket URL pointing at the listener.
func (s *Stall) WSURL() string {
	return "ws://" + s.ln.Addr().String() + "/ws"
}

// Accepted receives once per accepted connection.
func (s *Stall) Accepted() <-chan struct{} {
	return s.accepted
}

// Close stops listening and drops every held connection.
func (s *Stall) Close() {
	s.ln.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}
