// Package feed implements the push side of the acquisition middleware: a
// websocket hub that fans records out to subscribed receivers, and a
// generator that produces synthetic runs.
package feed

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dgnsrekt/daq-receiver/internal/wire"
)

// Hub manages feed connections and their subscriptions.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	codec      *wire.Codec
	logger     *zap.Logger

	dropped      atomic.Uint64
	disconnected atomic.Uint64
}

// NewHub creates a new Hub.
func NewHub(codec *wire.Codec, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		codec:      codec,
		logger:     logger,
	}
}

// Run processes hub events. Call this in a goroutine.
// Returns when context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("feed hub shutting down")
			h.shutdown()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("feed client registered",
				zap.String("connID", client.connID),
				zap.String("client", client.name),
				zap.String("experiment", client.experiment),
			)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("feed client unregistered", zap.String("connID", client.connID))
		}
	}
}

// shutdown closes all client connections.
func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

func (h *Hub) add(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Subscribers returns how many clients are subscribed to stream.
func (h *Hub) Subscribers(stream string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for c := range h.clients {
		if c.sub != nil && c.sub.Stream == stream {
			n++
		}
	}
	return n
}

// TransitionListeners returns how many clients registered for kind.
func (h *Hub) TransitionListeners(kind uint32) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for c := range h.clients {
		if _, ok := c.transitions[kind]; ok {
			n++
		}
	}
	return n
}

// Dropped returns how many event frames were skipped for non-blocking
// clients that could not keep up.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Disconnected returns how many slow clients were disconnected.
func (h *Hub) Disconnected() uint64 {
	return h.disconnected.Load()
}

func (h *Hub) subscribe(c *Client, sub *wire.Subscribe) {
	h.mu.Lock()
	c.sub = sub
	h.mu.Unlock()

	h.logger.Debug("feed client subscribed",
		zap.String("connID", c.connID),
		zap.String("stream", sub.Stream),
		zap.Int64("eventID", sub.EventID),
		zap.Uint32("mode", sub.Mode),
	)
}

func (h *Hub) registerMessages(c *Client) {
	h.mu.Lock()
	c.messages = true
	h.mu.Unlock()
}

func (h *Hub) registerTransition(c *Client, reg *wire.RegisterTransition) {
	h.mu.Lock()
	c.transitions[reg.Kind] = reg.Priority
	h.mu.Unlock()

	h.logger.Debug("feed client registered transition",
		zap.String("connID", c.connID),
		zap.Uint32("kind", reg.Kind),
		zap.Int64("priority", reg.Priority),
	)
}

// PublishEvent sends ev to every client subscribed to its stream and
// event id.
func (h *Hub) PublishEvent(ev *wire.Event) error {
	payload, err := h.codec.Encode(ev)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if !c.wantsEvent(ev) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			if c.sub.Mode == wire.ModeNonBlocking {
				h.dropped.Add(1)
				continue
			}
			h.dropSlow(c)
		}
	}
	return nil
}

// PublishMessage sends a message to every client registered for messages.
func (h *Hub) PublishMessage(msg *wire.Message) error {
	return h.publish(msg, func(c *Client) bool { return c.messages })
}

// PublishTransition sends tr to every client registered for its kind.
func (h *Hub) PublishTransition(tr *wire.Transition) error {
	return h.publish(tr, func(c *Client) bool {
		_, ok := c.transitions[tr.Kind]
		return ok
	})
}

func (h *Hub) publish(f wire.Frame, match func(*Client) bool) error {
	payload, err := h.codec.Encode(f)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if !match(c) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			h.dropSlow(c)
		}
	}
	return nil
}

// dropSlow schedules a disconnect for a client whose send buffer is full.
// Caller must hold h.mu.
func (h *Hub) dropSlow(c *Client) {
	if !c.evicting.CompareAndSwap(false, true) {
		return
	}
	h.disconnected.Add(1)
	h.logger.Warn("feed client too slow, disconnecting", zap.String("connID", c.connID))
	go h.remove(c)
}
