package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/fingerspell/internal/aggregator"
	"github.com/ayusman/fingerspell/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	clientBuffer = 32
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// EventsHandler pushes a snapshot to every connected browser after each
// change to the aggregator.
type EventsHandler struct {
	current func() aggregator.Snapshot
	logger  *slog.Logger

	mu      sync.Mutex
	clients map[*eventsClient]bool
	closed  bool
}

type eventsClient struct {
	conn *websocket.Conn
	send chan outbound
	once sync.Once
}

type outbound struct {
	seq uint64
	msg []byte
}

func (c *eventsClient) close() {
	c.once.Do(func() { close(c.send) })
}

// NewEventsHandler creates an EventsHandler. current supplies the snapshot
// sent to a client when it connects.
func NewEventsHandler(current func() aggregator.Snapshot, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		current: current,
		logger:  logging.OrDiscard(logger).With("component", "events"),
		clients: make(map[*eventsClient]bool),
	}
}

// Broadcast queues snap for every client. A client whose queue is full is
// dropped rather than stalling the caller.
func (h *EventsHandler) Broadcast(snap aggregator.Snapshot) {
	msg, err := json.Marshal(snap)
	if err != nil {
		h.logger.Error("encode snapshot", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- outbound{seq: snap.Seq, msg: msg}:
		default:
			h.logger.Warn("dropping slow events client", "remote", c.conn.RemoteAddr().String())
			delete(h.clients, c)
			c.close()
		}
	}
}

// Clients returns the number of connected clients.
func (h *EventsHandler) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *EventsHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade error", "error", err)
		return
	}

	c := &eventsClient{conn: conn, send: make(chan outbound, clientBuffer)}

	// Register before reading the greeting so no change can fall between
	// the two. writePump drops whichever of them turns out older.
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = true
	h.mu.Unlock()

	h.greet(c)

	go h.writePump(c)
	h.readPump(c)
}

// greet queues the current snapshot for c. current is called outside h.mu
// because it takes the aggregator lock, which is held while broadcasting.
func (h *EventsHandler) greet(c *eventsClient) {
	snap := h.current()
	msg, err := json.Marshal(snap)
	if err != nil {
		h.logger.Error("encode snapshot", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c] {
		return
	}
	select {
	case c.send <- outbound{seq: snap.Seq, msg: msg}:
	default:
		delete(h.clients, c)
		c.close()
	}
}

// readPump discards inbound messages and notices when the client leaves.
func (h *EventsHandler) readPump(c *eventsClient) {
	defer func() {
		h.mu.Lock()
		if h.clients[c] {
			delete(h.clients, c)
			c.close()
		}
		h.mu.Unlock()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *EventsHandler) writePump(c *eventsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	var last uint64
	for {
		select {
		case out, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if out.seq < last {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, out.msg); err != nil {
				return
			}
			last = out.seq
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
