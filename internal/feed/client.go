package feed

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dgnsrekt/daq-receiver/internal/wire"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum control frame size accepted from a receiver.
	maxMessageSize = 64 * 1024

	// Send buffer size per client.
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client is one connected receiver. Subscription fields are guarded by
// the hub's mutex.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	connID     string
	name       string
	experiment string
	logger     *zap.Logger
	evicting   atomic.Bool

	sub         *wire.Subscribe
	messages    bool
	transitions map[uint32]int64
}

// HandleFeed upgrades a request on /feed to a feed connection.
// Query parameters: experiment, client.
func (h *Hub) HandleFeed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := q.Get("client")
	if name == "" {
		http.Error(w, "missing client", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:         h,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		connID:      uuid.New().String(),
		name:        name,
		experiment:  q.Get("experiment"),
		logger:      h.logger,
		transitions: make(map[uint32]int64),
	}

	if !h.add(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// wantsEvent reports whether ev matches the client's subscription.
// Caller must hold the hub's read lock.
func (c *Client) wantsEvent(ev *wire.Event) bool {
	if c.sub == nil || c.sub.Stream != ev.Stream {
		return false
	}
	return c.sub.EventID < 0 || c.sub.EventID == ev.EventID
}

// readPump reads control frames from the websocket connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error",
					zap.String("connID", c.connID),
					zap.Error(err),
				)
			}
			break
		}
		c.handleMessage(message)
	}
}

// writePump writes frames to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "feed closed"))
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				c.logger.Debug("websocket write error",
					zap.String("connID", c.connID),
					zap.Error(err),
				)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage applies a control frame from the receiver.
func (c *Client) handleMessage(data []byte) {
	f, err := c.hub.codec.Decode(data)
	if err != nil {
		c.logger.Debug("failed to decode control frame",
			zap.String("connID", c.connID),
			zap.Error(err),
		)
		return
	}

	switch m := f.(type) {
	case *wire.Subscribe:
		c.hub.subscribe(c, m)
	case *wire.RegisterMessages:
		c.hub.registerMessages(c)
	case *wire.RegisterTransition:
		c.hub.registerTransition(c, m)
	default:
		c.logger.Debug("unexpected frame from receiver",
			zap.String("connID", c.connID),
			zap.String("type", f.TypeURL()),
		)
	}
}
