package app

import (
	"context"
	"encoding/json"
	"kaswatch/internal/feed"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	hubSendBuffer   = 64
	hubWriteTimeout = 10 * time.Second
	hubPongWait     = 60 * time.Second
	hubPingInterval = 30 * time.Second
)

// Publisher hands one payload to the feed under a method tag.
type Publisher interface {
	Publish(ctx context.Context, method string, payload any) error
}

// ensure Hub can stand in for the redis bus
var _ Publisher = (*Hub)(nil)

// Hub serves the feed websocket and fans every envelope out to the
// connected clients. The last rates envelope is replayed to new clients so
// their chart has a starting point.
type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	clients     map[*hubClient]struct{}
	latestRates []byte

	broadcasts uint64
	dropped    uint64
	served     uint64
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

// HubStats counts hub activity.
type HubStats struct {
	Clients    int    `json:"clients"`
	Served     uint64 `json:"served"`
	Broadcasts uint64 `json:"broadcasts"`
	Dropped    uint64 `json:"dropped"`
	HasRates   bool   `json:"has_rates"`
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*hubClient]struct{}),
	}
}

// Publish encodes payload into an envelope and broadcasts it.
func (h *Hub) Publish(_ context.Context, method string, payload any) error {
	msg, err := feed.EncodeEnvelope(method, payload)
	if err != nil {
		return err
	}
	h.Broadcast(msg)
	return nil
}

// SetLatestRates replaces the rates envelope replayed to new clients.
func (h *Hub) SetLatestRates(sample feed.RateSample) error {
	msg, err := feed.EncodeEnvelope(feed.MethodRates, sample)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.latestRates = msg
	h.mu.Unlock()
	return nil
}

// Broadcast sends an encoded envelope to every client. A client whose
// buffer is full is disconnected.
func (h *Hub) Broadcast(msg []byte) {
	var env feed.Envelope
	if err := json.Unmarshal(msg, &env); err == nil && env.Method == feed.MethodRates {
		h.mu.Lock()
		h.latestRates = msg
		h.mu.Unlock()
	}

	atomic.AddUint64(&h.broadcasts, 1)

	h.mu.RLock()
	var slow []*hubClient
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		atomic.AddUint64(&h.dropped, 1)
		h.logger.Warn("dropping slow feed client", zap.String("remote", c.conn.RemoteAddr().String()))
		h.remove(c)
	}
}

// Pump broadcasts every envelope read from msgs until ctx is done or msgs
// is closed.
func (h *Hub) Pump(ctx context.Context, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				h.logger.Info("hub pump stopping: input closed")
				return
			}
			h.Broadcast(msg)
		}
	}
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		h.logger.Error("feed websocket upgrade failed", zap.Error(err))
		return
	}

	c := &hubClient{
		conn: conn,
		send: make(chan []byte, hubSendBuffer),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	if h.latestRates != nil {
		c.send <- h.latestRates
	}
	h.mu.Unlock()

	atomic.AddUint64(&h.served, 1)
	h.logger.Debug("feed client connected", zap.String("remote", conn.RemoteAddr().String()))

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop discards inbound frames and unregisters the client once the
// connection fails.
func (h *Hub) readLoop(c *hubClient) {
	defer h.remove(c)

	_ = c.conn.SetReadDeadline(time.Now().Add(hubPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(hubPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *hubClient) {
	ticker := time.NewTicker(hubPingInterval)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

func (h *Hub) remove(c *hubClient) {
	c.once.Do(func() {
		h.mu.Lock()
		delete(h.clients, c)
		close(c.send)
		h.mu.Unlock()
	})
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	all := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()

	for _, c := range all {
		h.remove(c)
	}
}

// Stats returns the hub counters.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	n := len(h.clients)
	hasRates := h.latestRates != nil
	h.mu.RUnlock()

	return HubStats{
		Clients:    n,
		Served:     atomic.LoadUint64(&h.served),
		Broadcasts: atomic.LoadUint64(&h.broadcasts),
		Dropped:    atomic.LoadUint64(&h.dropped),
		HasRates:   hasRates,
	}
}
