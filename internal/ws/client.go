package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type ClientConfig struct {
	SendBuffer     int
	MaxMessageSize int64
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		SendBuffer:     256,
		MaxMessageSize: 64 * 1024,
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
	}
}

// Client is one live connection. Outbound frames go through a bounded
// buffer; when it is full the oldest frame is displaced.
type Client struct {
	ID     string
	UserID int
	Info   ConnInfo

	conn *websocket.Conn
	cfg  ClientConfig

	mu     sync.Mutex
	send   chan []byte
	closed bool

	roomsMu sync.Mutex
	rooms   map[RoomID]struct{}
	dropped bool
}

// NewClient wraps conn. A nil conn yields a detached client whose frames are
// read from Outbound.
func NewClient(info ConnInfo, conn *websocket.Conn, cfg ClientConfig) *Client {
	def := DefaultClientConfig()
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	return &Client{
		ID:     info.ConnID,
		UserID: info.UserID,
		Info:   info,
		conn:   conn,
		cfg:    cfg,
		send:   make(chan []byte, cfg.SendBuffer),
		rooms:  make(map[RoomID]struct{}),
	}
}

// Enqueue never blocks. It reports whether the frame was queued and how many
// older frames were displaced to make room.
func (c *Client) Enqueue(frame []byte) (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, 0
	}

	displaced := 0
	for {
		select {
		case c.send <- frame:
			return true, displaced
		default:
		}
		select {
		case <-c.send:
			displaced++
		default:
		}
	}
}

// Outbound exposes the buffer for detached clients.
func (c *Client) Outbound() <-chan []byte {
	return c.send
}

// Close stops accepting frames and lets WritePump finish. Safe to call twice.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// CloseTransport closes the underlying socket, which ends ReadPump.
func (c *Client) CloseTransport() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// ReadPump blocks reading frames and hands each to handle. It returns the
// error that ended the session.
func (c *Client) ReadPump(handle func(data []byte)) error {
	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		handle(data)
	}
}

// WritePump drains the buffer to the socket and sends keepalive pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) roomList() []RoomID {
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()
	list := make([]RoomID, 0, len(c.rooms))
	for room := range c.rooms {
		list = append(list, room)
	}
	return list
}
