// Package wsfeed connects a receiver to a feed server over websocket.
//
// A read pump goroutine decodes incoming frames into a bounded channel.
// Poll drains that channel on the caller's goroutine and invokes the
// registered callbacks there, so the receiver keeps its single-producer
// guarantee.
package wsfeed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dgnsrekt/daq-receiver/internal/receiver"
	"github.com/dgnsrekt/daq-receiver/internal/wire"
)

// Environment variables consulted when the receiver config leaves host or
// experiment empty.
const (
	EnvHost       = "DAQ_HOST"
	EnvExperiment = "DAQ_EXPERIMENT"
)

const (
	defaultFrameBuffer = 1024
	writeWait          = 10 * time.Second
	closeWait          = time.Second
)

// ErrNotConnected is returned by calls that need an open session.
var ErrNotConnected = errors.New("wsfeed: not connected")

type subscription struct {
	eventID int
	fn      receiver.EventFunc
}

type transitionHandler struct {
	priority int
	fn       receiver.TransitionFunc
}

// Adapter is a receiver.Adapter backed by a feed server connection.
type Adapter struct {
	codec       *wire.Codec
	dialer      *websocket.Dialer
	scheme      string
	frameBuffer int
	logger      *zap.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn
	frames  chan wire.Frame
	quit    chan struct{}
	dead    chan struct{}
	readErr error

	// Callback state is only touched by the goroutine driving the
	// receiver: the controller's worker, or Disconnect after it exits.
	streams     map[receiver.StreamHandle]string
	nextHandle  receiver.StreamHandle
	subs        map[receiver.StreamHandle]subscription
	onMessage   receiver.MessageFunc
	transitions map[receiver.TransitionKind][]transitionHandler
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the adapter's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithTLS dials wss instead of ws.
func WithTLS() Option {
	return func(a *Adapter) { a.scheme = "wss" }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(a *Adapter) {
		if d != nil {
			a.dialer = d
		}
	}
}

// WithFrameBuffer sets how many decoded frames may wait for Poll.
func WithFrameBuffer(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.frameBuffer = n
		}
	}
}

// New creates a disconnected adapter.
func New(codec *wire.Codec, opts ...Option) *Adapter {
	a := &Adapter{
		codec:       codec,
		dialer:      websocket.DefaultDialer,
		scheme:      "ws",
		frameBuffer: defaultFrameBuffer,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.reset()
	return a
}

func (a *Adapter) reset() {
	a.streams = make(map[receiver.StreamHandle]string)
	a.nextHandle = 1
	a.subs = make(map[receiver.StreamHandle]subscription)
	a.onMessage = nil
	a.transitions = make(map[receiver.TransitionKind][]transitionHandler)
}

// Environment reads DAQ_HOST and DAQ_EXPERIMENT.
func (a *Adapter) Environment() (string, string) {
	return os.Getenv(EnvHost), os.Getenv(EnvExperiment)
}

// Connect dials ws://host/feed and starts the read pump.
func (a *Adapter) Connect(ctx context.Context, host, experiment, client string) error {
	if host == "" {
		return errors.New("wsfeed: host is required")
	}
	if a.conn != nil {
		return errors.New("wsfeed: already connected")
	}

	u := url.URL{
		Scheme:   a.scheme,
		Host:     host,
		Path:     "/feed",
		RawQuery: url.Values{"experiment": {experiment}, "client": {client}}.Encode(),
	}

	conn, resp, err := a.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", u.Redacted(), err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}

	a.conn = conn
	a.frames = make(chan wire.Frame, a.frameBuffer)
	a.quit = make(chan struct{})
	a.dead = make(chan struct{})
	a.readErr = nil
	go a.readPump(conn, a.frames, a.quit, a.dead)

	a.logger.Info("connected to feed",
		zap.String("host", host),
		zap.String("experiment", experiment),
		zap.String("client", client),
	)
	return nil
}

// readPump decodes frames until the connection fails.
func (a *Adapter) readPump(conn *websocket.Conn, frames chan<- wire.Frame, quit <-chan struct{}, dead chan<- struct{}) {
	defer close(dead)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			a.readErr = err
			return
		}
		f, err := a.codec.Decode(data)
		if err != nil {
			a.logger.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}
		select {
		case frames <- f:
		case <-quit:
			return
		}
	}
}

func (a *Adapter) write(f wire.Frame) error {
	if a.conn == nil {
		return ErrNotConnected
	}
	data, err := a.codec.Encode(f)
	if err != nil {
		return err
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	a.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := a.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", f.TypeURL(), err)
	}
	return nil
}

func (a *Adapter) OpenStream(name string, sizeHint int) (receiver.StreamHandle, error) {
	if a.conn == nil {
		return 0, ErrNotConnected
	}
	h := a.nextHandle
	a.nextHandle++
	a.streams[h] = name
	a.logger.Debug("stream opened", zap.String("stream", name), zap.Int("sizeHint", sizeHint))
	return h, nil
}

// ConfigureCache only validates the handle; the feed has no read cache.
func (a *Adapter) ConfigureCache(h receiver.StreamHandle, size int) error {
	if _, ok := a.streams[h]; !ok {
		return fmt.Errorf("wsfeed: unknown stream handle %d", h)
	}
	return nil
}

func (a *Adapter) Subscribe(h receiver.StreamHandle, eventID int, mode receiver.Mode, fn receiver.EventFunc) (receiver.RequestID, error) {
	name, ok := a.streams[h]
	if !ok {
		return 0, fmt.Errorf("wsfeed: unknown stream handle %d", h)
	}

	wireMode := wire.ModeAll
	if mode == receiver.ModeNonBlocking {
		wireMode = wire.ModeNonBlocking
	}
	if err := a.write(&wire.Subscribe{Stream: name, EventID: int64(eventID), Mode: wireMode}); err != nil {
		return 0, err
	}

	a.subs[h] = subscription{eventID: eventID, fn: fn}
	return receiver.RequestID(h), nil
}

func (a *Adapter) RegisterMessageCallback(fn receiver.MessageFunc) error {
	if err := a.write(&wire.RegisterMessages{}); err != nil {
		return err
	}
	a.onMessage = fn
	return nil
}

func (a *Adapter) RegisterTransitionCallback(kind receiver.TransitionKind, fn receiver.TransitionFunc, priority int) error {
	if err := a.write(&wire.RegisterTransition{Kind: uint32(kind), Priority: int64(priority)}); err != nil {
		return err
	}
	handlers := append(a.transitions[kind], transitionHandler{priority: priority, fn: fn})
	sort.SliceStable(handlers, func(i, j int) bool { return handlers[i].priority < handlers[j].priority })
	a.transitions[kind] = handlers
	return nil
}

// Poll waits up to timeout for the first frame, then dispatches every
// frame already queued, up to the buffer size. A lost connection is
// reported as receiver.ErrShutdown once queued frames are delivered.
func (a *Adapter) Poll(timeout time.Duration) error {
	if a.conn == nil {
		return ErrNotConnected
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-a.frames:
		a.dispatch(f)
	case <-a.dead:
		a.drain(a.frameBuffer)
		return fmt.Errorf("%w: %v", receiver.ErrShutdown, a.readErr)
	case <-timer.C:
		return nil
	}

	a.drain(a.frameBuffer - 1)
	return nil
}

func (a *Adapter) drain(limit int) {
	for i := 0; i < limit; i++ {
		select {
		case f := <-a.frames:
			a.dispatch(f)
		default:
			return
		}
	}
}

func (a *Adapter) dispatch(f wire.Frame) {
	switch m := f.(type) {
	case *wire.Event:
		ev := receiver.RawEvent{
			EventID:      int(m.EventID),
			TriggerMask:  int(m.TriggerMask),
			Serial:       int(m.Serial),
			ProducerTime: m.ProducerTime,
			Data:         m.Data,
		}
		for h, name := range a.streams {
			sub, ok := a.subs[h]
			if !ok || name != m.Stream {
				continue
			}
			if sub.eventID == receiver.EventIDAll || sub.eventID == ev.EventID {
				sub.fn(h, ev)
			}
		}

	case *wire.Message:
		if a.onMessage != nil {
			a.onMessage(receiver.RawMessage{Payload: m.Payload})
		}

	case *wire.Transition:
		tr := receiver.RawTransition{
			Kind: receiver.TransitionKind(m.Kind),
			Run:  int(m.Run),
			Text: m.Text,
		}
		for _, t := range a.transitions[tr.Kind] {
			if err := t.fn(tr); err != nil {
				a.logger.Warn("transition callback failed",
					zap.Stringer("kind", tr.Kind),
					zap.Int("run", tr.Run),
					zap.Error(err),
				)
			}
		}

	default:
		a.logger.Debug("ignoring unexpected frame", zap.String("type", f.TypeURL()))
	}
}

func (a *Adapter) CloseStream(h receiver.StreamHandle) error {
	if _, ok := a.streams[h]; !ok {
		return fmt.Errorf("wsfeed: unknown stream handle %d", h)
	}
	delete(a.streams, h)
	delete(a.subs, h)
	return nil
}

// Disconnect closes the connection and waits for the read pump to exit.
func (a *Adapter) Disconnect() error {
	if a.conn == nil {
		return nil
	}

	a.writeMu.Lock()
	err := a.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	a.writeMu.Unlock()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		a.logger.Debug("close handshake failed", zap.Error(err))
	}

	select {
	case <-a.dead:
	case <-time.After(closeWait):
	}
	close(a.quit)
	cerr := a.conn.Close()
	<-a.dead

	a.conn = nil
	a.reset()
	a.logger.Info("disconnected from feed")
	if cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		return fmt.Errorf("close connection: %w", cerr)
	}
	return nil
}

var _ receiver.Adapter = (*Adapter)(nil)
