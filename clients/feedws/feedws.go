package feedws

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Endpoint describes where the feed is served.
type Endpoint struct {
	UseSecure bool
	Host      string
	Path      string
}

// URL returns the websocket URL for the endpoint.
func (e Endpoint) URL() string {
	scheme := "ws"
	if e.UseSecure {
		scheme = "wss"
	}
	path := e.Path
	if path == "" {
		path = "/ws"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := url.URL{Scheme: scheme, Host: e.Host, Path: path}
	return u.String()
}

// FeedClient reads text frames from the kaswatch feed and forwards them on a
// channel in delivery order.
type FeedClient struct {
	logger *zap.Logger

	url          string
	dialer       *websocket.Dialer
	pingInterval time.Duration

	connMu  sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn

	msgCh   chan []byte
	errCh   chan error
	closeCh chan struct{}

	msgCount        uint64
	dropCount       uint64
	lastMsgUnixNano int64
}

func NewFeedClient(logger *zap.Logger, endpoint Endpoint) *FeedClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &FeedClient{
		logger:       logger,
		url:          endpoint.URL(),
		dialer:       websocket.DefaultDialer,
		pingInterval: 30 * time.Second,

		msgCh:   make(chan []byte, 1024),
		errCh:   make(chan error, 64),
		closeCh: make(chan struct{}),
	}
}

// URL returns the endpoint the client dials.
func (c *FeedClient) URL() string {
	return c.url
}

// Connect dials the feed and starts the read and ping loops. The connection
// is closed when ctx is done.
func (c *FeedClient) Connect(ctx context.Context) error {
	c.connMu.Lock()
	alreadyConnected := c.conn != nil
	c.connMu.Unlock()
	if alreadyConnected {
		return fmt.Errorf("already connected")
	}

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial feed ws: %w", err)
	}

	c.logger.Info("feed ws dialed", zap.String("url", c.url))

	conn.SetCloseHandler(func(code int, text string) error {
		c.logger.Warn(
			"feed ws close frame received",
			zap.Int("code", code),
			zap.String("reason", text),
		)
		return nil
	})

	c.connMu.Lock()
	c.conn = conn
	closeCh := c.closeCh
	c.connMu.Unlock()

	go c.readLoop(closeCh)
	go c.pingLoop(closeCh)

	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-closeCh:
		}
	}()

	return nil
}

func (c *FeedClient) Messages() <-chan []byte {
	return c.msgCh
}

func (c *FeedClient) Errors() <-chan error {
	return c.errCh
}

// Connected reports whether a connection is currently open.
func (c *FeedClient) Connected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn != nil
}

type WSStats struct {
	MessageCount  uint64
	DroppedCount  uint64
	LastMessageAt time.Time
}

func (c *FeedClient) Stats() WSStats {
	n := atomic.LoadUint64(&c.msgCount)
	dropped := atomic.LoadUint64(&c.dropCount)
	ns := atomic.LoadInt64(&c.lastMsgUnixNano)

	var t time.Time
	if ns > 0 {
		t = time.Unix(0, ns)
	}

	return WSStats{
		MessageCount:  n,
		DroppedCount:  dropped,
		LastMessageAt: t,
	}
}

func (c *FeedClient) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	select {
	case <-c.closeCh:
	default:
		close(c.closeCh)
	}

	// Fresh channel so the client can be connected again.
	c.closeCh = make(chan struct{})

	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}

	return err
}

func (c *FeedClient) pingLoop(closeCh <-chan struct{}) {
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			c.connMu.Lock()
			conn := c.conn
			c.connMu.Unlock()

			if conn != nil {
				c.writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				c.writeMu.Unlock()
				if err != nil {
					c.logger.Warn("feed ws ping failed", zap.Error(err))
				}
			}

		case <-closeCh:
			return
		}
	}
}

func (c *FeedClient) readLoop(closeCh <-chan struct{}) {
	c.logger.Info("feed ws read loop started")

	for {
		select {
		case <-closeCh:
			c.logger.Info("feed ws read loop exiting: closeCh signaled")
			return
		default:
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			c.logger.Info("feed ws read loop exiting: conn is nil")
			return
		}

		msgType, b, err := conn.ReadMessage()
		if err != nil {
			c.logger.Warn("feed ws read loop exiting: read error", zap.Error(err))
			select {
			case c.errCh <- err:
			default:
			}
			_ = c.Close()
			return
		}

		if msgType != websocket.TextMessage {
			continue
		}

		atomic.AddUint64(&c.msgCount, 1)
		atomic.StoreInt64(&c.lastMsgUnixNano, time.Now().UnixNano())

		c.forward(b)
	}
}

func (c *FeedClient) forward(b []byte) {
	if len(bytes.TrimSpace(b)) == 0 {
		return
	}
	select {
	case c.msgCh <- b:
	default:
		atomic.AddUint64(&c.dropCount, 1)
		c.logger.Warn("dropping feed message: msgCh full", zap.Int("bytes", len(b)))
	}
}
