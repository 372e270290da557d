package webui

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// BroadcasterConfig holds the WebSocket timings.
type BroadcasterConfig struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
	BufferSize     int
}

func DefaultBroadcasterConfig() BroadcasterConfig {
	return BroadcasterConfig{
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 512,
		BufferSize:     64,
	}
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	remote string
}

// Broadcaster pushes messages to every connected browser. A single hub
// goroutine owns the client set; each client has its own write pump.
type Broadcaster struct {
	cfg      BroadcasterConfig
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}

	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}
	stopOnce   sync.Once
}

func NewBroadcaster(cfg BroadcasterConfig, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		cfg:    cfg,
		logger: logger.Named("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, cfg.BufferSize),
		done:       make(chan struct{}),
	}
}

// Start runs the hub until ctx is done, then disconnects every client.
func (b *Broadcaster) Start(ctx context.Context) {
	defer b.stopOnce.Do(func() { close(b.done) })

	for {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			for c := range b.clients {
				close(c.send)
				delete(b.clients, c)
			}
			b.mu.Unlock()
			b.logger.Debug("Broadcaster stopped")
			return

		case c := <-b.register:
			b.mu.Lock()
			b.clients[c] = struct{}{}
			n := len(b.clients)
			b.mu.Unlock()
			b.logger.Debug("Client connected", zap.String("remote_addr", c.remote), zap.Int("clients", n))

		case c := <-b.unregister:
			b.drop(c)

		case data := <-b.broadcast:
			b.mu.RLock()
			var slow []*client
			for c := range b.clients {
				select {
				case c.send <- data:
				default:
					slow = append(slow, c)
				}
			}
			b.mu.RUnlock()
			for _, c := range slow {
				b.logger.Warn("Client send buffer full, disconnecting", zap.String("remote_addr", c.remote))
				b.drop(c)
			}
		}
	}
}

func (b *Broadcaster) drop(c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
		b.logger.Debug("Client disconnected", zap.String("remote_addr", c.remote), zap.Int("clients", len(b.clients)))
	}
}

// HandleConnection upgrades the request and registers the client.
func (b *Broadcaster) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("WebSocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, b.cfg.BufferSize), remote: r.RemoteAddr}
	select {
	case b.register <- c:
	case <-b.done:
		conn.Close()
		return
	}

	go b.writePump(c)
	go b.readPump(c)
}

// Broadcast queues msg for every client. It never blocks; when the queue is
// full the message is dropped.
func (b *Broadcaster) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("Failed to encode WebSocket message", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	select {
	case b.broadcast <- data:
	default:
		b.logger.Warn("Broadcast queue full, dropping message", zap.String("type", msg.Type))
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// readPump discards client messages and keeps the read deadline fresh.
func (b *Broadcaster) readPump(c *client) {
	defer func() {
		select {
		case b.unregister <- c:
		case <-b.done:
		}
	}()

	c.conn.SetReadLimit(b.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(b.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(b.cfg.PongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				b.logger.Debug("Unexpected WebSocket close", zap.Error(err))
			}
			return
		}
	}
}

func (b *Broadcaster) writePump(c *client) {
	ticker := time.NewTicker(b.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
