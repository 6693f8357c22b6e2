package receiver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/daq-receiver/internal/buffer"
	"github.com/dgnsrekt/daq-receiver/internal/sequence"
)

// State is the lifecycle phase of a Controller.
type State int32

const (
	StateCreated State = iota
	StateInitialized
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver sets the telemetry sink.
func WithObserver(obs Observer) Option {
	return func(c *Controller) {
		if obs != nil {
			c.observer = obs
		}
	}
}

// WithClock sets the time source used to stamp ingested records.
func WithClock(clock func() time.Time) Option {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithMismatchLogRate limits how often serial mismatches are logged.
// Counters are unaffected.
func WithMismatchLogRate(every time.Duration, burst int) Option {
	return func(c *Controller) {
		c.mismatchLog = rate.NewLimiter(rate.Every(every), burst)
	}
}

// stores bundles the per-configuration buffers so Init can swap them
// atomically while readers hold the previous set.
type stores struct {
	events      *buffer.Stream[RawEvent]
	messages    *buffer.Stream[RawMessage]
	transitions *buffer.Stream[RawTransition]
	tracker     *sequence.Tracker
}

func newStores(cfg Config, clock func() time.Time) *stores {
	return &stores{
		events:      buffer.New[RawEvent](cfg.BufferSize, buffer.WithClock(clock)),
		messages:    buffer.New[RawMessage](cfg.BufferSize, buffer.WithClock(clock)),
		transitions: buffer.New[RawTransition](cfg.BufferSize, buffer.WithClock(clock)),
		tracker:     sequence.New(cfg.SequenceSlots),
	}
}

// Controller owns one middleware stream: a worker goroutine that polls the
// adapter, and the buffers its callbacks fill. Retrieval methods are safe
// to call from any goroutine at any time.
type Controller struct {
	adapter     Adapter
	logger      *zap.Logger
	observer    Observer
	clock       func() time.Time
	mismatchLog *rate.Limiter

	// mu serialises Init, Start and Stop.
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	cfg    atomic.Pointer[Config]
	stores atomic.Pointer[stores]
	name   atomic.Pointer[string]

	state     atomic.Int32
	running   atomic.Bool
	listening atomic.Bool
	status    atomic.Int32

	errMu   sync.RWMutex
	lastErr error

	eventsIn      atomic.Uint64
	messagesIn    atomic.Uint64
	transitionsIn atomic.Uint64
	dropped       atomic.Uint64
	eventBytes    atomic.Uint64
}

// New creates a controller in StateCreated with DefaultConfig.
func New(adapter Adapter, opts ...Option) *Controller {
	c := &Controller{
		adapter:     adapter,
		logger:      zap.NewNop(),
		observer:    NopObserver{},
		clock:       time.Now,
		mismatchLog: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	cfg := DefaultConfig()
	c.cfg.Store(&cfg)
	c.stores.Store(newStores(cfg, c.clock))
	name := cfg.Stream
	c.name.Store(&name)
	return c
}

// Init replaces the configuration. It is only accepted before the first
// Start; afterwards it returns ErrAlreadyStarted and changes nothing.
// Empty host and experiment are resolved through the adapter.
func (c *Controller) Init(cfg Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st := c.State(); st != StateCreated && st != StateInitialized {
		return fmt.Errorf("init in state %s: %w", st, ErrAlreadyStarted)
	}

	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid receiver config: %w", err)
	}

	if cfg.Host == "" || cfg.Experiment == "" {
		host, exp := c.adapter.Environment()
		if cfg.Host == "" {
			cfg.Host = host
		}
		if cfg.Experiment == "" {
			cfg.Experiment = exp
		}
	}

	cfg.Transitions = append([]TransitionRegistration(nil), cfg.Transitions...)
	c.cfg.Store(&cfg)
	c.stores.Store(newStores(cfg, c.clock))
	name := cfg.Stream
	c.name.Store(&name)
	c.state.Store(int32(StateInitialized))

	c.logger.Info("receiver initialized",
		zap.String("stream", cfg.Stream),
		zap.String("host", cfg.Host),
		zap.String("experiment", cfg.Experiment),
		zap.String("client", cfg.Client),
		zap.Int("eventID", cfg.EventID),
		zap.Stringer("mode", cfg.Mode),
		zap.Int("bufferSize", cfg.BufferSize),
		zap.Duration("pollTimeout", cfg.PollTimeout),
		zap.Int("transitions", len(cfg.Transitions)),
	)
	return nil
}

// Start spawns the worker goroutine and returns immediately.
// It does nothing if the controller is already running.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running.Load() {
		return
	}

	cfg := c.Config()

	c.running.Store(true)
	c.listening.Store(true)
	c.state.Store(int32(StateRunning))
	c.setStatus(StatusOK, nil)
	c.observer.Listening(cfg.Stream, true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done

	go func() {
		defer close(done)
		c.run(ctx, cfg)
	}()

	c.logger.Debug("receiver worker started", zap.String("stream", cfg.Stream))
}

// Stop clears the running flag, waits for the worker to observe it and
// disconnects from the middleware. Shutdown takes at most one poll
// timeout. It does nothing if the controller is not running.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running.Load() {
		return
	}

	c.running.Store(false)
	c.cancel()
	<-c.done

	if err := c.adapter.Disconnect(); err != nil {
		c.logger.Warn("disconnect failed", zap.String("stream", c.Name()), zap.Error(err))
	}

	c.state.Store(int32(StateStopped))
	c.logger.Info("receiver stopped", zap.String("stream", c.Name()))
}

func (c *Controller) run(ctx context.Context, cfg Config) {
	a := c.adapter
	st := c.stores.Load()

	fail := func(step string, status Status, err error) {
		serr := &StartupError{Step: step, Status: status, Err: err}
		c.setStatus(status, serr)
		c.listening.Store(false)
		c.observer.Listening(cfg.Stream, false)
		c.state.Store(int32(StateStopped))
		c.logger.Error("receiver startup failed",
			zap.String("stream", cfg.Stream),
			zap.String("step", step),
			zap.Stringer("status", status),
			zap.Error(err),
		)
	}

	if err := a.Connect(ctx, cfg.Host, cfg.Experiment, cfg.Client); err != nil {
		fail("connect", StatusConnectFailed, err)
		return
	}

	h, err := a.OpenStream(cfg.Stream, cfg.StreamSizeHint)
	if err != nil {
		fail("open stream", StatusOpenFailed, err)
		return
	}

	abort := func(step string, status Status, err error) {
		fail(step, status, err)
		if cerr := a.CloseStream(h); cerr != nil {
			c.logger.Debug("close stream after failed startup", zap.Error(cerr))
		}
	}

	if err := a.ConfigureCache(h, cfg.CacheSize); err != nil {
		abort("configure cache", StatusCacheFailed, err)
		return
	}

	onEvent := func(got StreamHandle, ev RawEvent) {
		c.ingestEvent(st, cfg, h, got, ev)
	}
	if _, err := a.Subscribe(h, cfg.EventID, cfg.Mode, onEvent); err != nil {
		abort("subscribe", StatusSubscribeFailed, err)
		return
	}

	if err := a.RegisterMessageCallback(func(msg RawMessage) {
		c.ingestMessage(st, cfg, msg)
	}); err != nil {
		abort("register message callback", StatusMessageRegisterFailed, err)
		return
	}

	for _, reg := range cfg.Transitions {
		kind := reg.Kind
		fn := func(tr RawTransition) error {
			if tr.Kind == 0 {
				tr.Kind = kind
			}
			return c.ingestTransition(st, cfg, tr)
		}
		if err := a.RegisterTransitionCallback(reg.Kind, fn, reg.Priority); err != nil {
			abort("register transition "+reg.Kind.String(), StatusTransitionRegisterFailed, err)
			return
		}
	}

	c.logger.Info("receiver listening",
		zap.String("stream", cfg.Stream),
		zap.String("host", cfg.Host),
		zap.String("experiment", cfg.Experiment),
	)

	c.pollLoop(ctx, cfg)

	if err := a.CloseStream(h); err != nil {
		c.logger.Warn("close stream failed", zap.String("stream", cfg.Stream), zap.Error(err))
	}
	c.listening.Store(false)
	c.observer.Listening(cfg.Stream, false)
}

func (c *Controller) pollLoop(ctx context.Context, cfg Config) {
	for c.running.Load() {
		err := c.adapter.Poll(cfg.PollTimeout)
		switch {
		case err == nil:
			c.setStatus(StatusOK, nil)

		case errors.Is(err, ErrShutdown), errors.Is(err, ErrAbort):
			status := StatusShutdown
			if errors.Is(err, ErrAbort) {
				status = StatusAbort
			}
			c.setStatus(status, err)
			c.state.Store(int32(StateStopped))
			c.logger.Info("middleware ended session",
				zap.String("stream", cfg.Stream),
				zap.Stringer("status", status),
			)
			return

		default:
			c.setStatus(StatusPollFailed, err)
			c.logger.Warn("poll failed", zap.String("stream", cfg.Stream), zap.Error(err))
			// An adapter that fails fast must not spin the worker.
			select {
			case <-ctx.Done():
			case <-time.After(cfg.PollTimeout):
			}
		}
	}
}

func (c *Controller) ingestEvent(st *stores, cfg Config, owned, got StreamHandle, ev RawEvent) {
	if got != owned {
		c.dropped.Add(1)
		c.observer.Dropped(cfg.Stream, CategoryEvent)
		c.logger.Warn("event for unknown stream dropped",
			zap.String("stream", cfg.Stream),
			zap.Int("handle", int(got)),
			zap.Int("eventID", ev.EventID),
		)
		return
	}

	size := ev.Size() + EventHeaderSize
	c.eventBytes.Add(uint64(size))

	if cfg.Mode == ModeAll {
		if res := st.tracker.Check(ev.EventID, ev.Serial); res.Mismatch {
			c.observer.Mismatch(cfg.Stream, res.Slot)
			if c.mismatchLog.Allow() {
				c.logger.Error("serial number mismatch",
					zap.String("stream", cfg.Stream),
					zap.Int("expected", res.Expected),
					zap.Int("actual", res.Actual),
					zap.Int("eventID", ev.EventID),
					zap.Int("slot", res.Slot),
					zap.Int("size", ev.Size()),
					zap.Uint64("mismatches", st.tracker.Mismatches()),
				)
			}
		}
	}

	evicted := st.events.Push(ev)
	c.eventsIn.Add(1)
	c.record(cfg.Stream, CategoryEvent, size, evicted, st.events.Len(), st.events.Cap())
}

func (c *Controller) ingestMessage(st *stores, cfg Config, msg RawMessage) {
	evicted := st.messages.Push(msg)
	c.messagesIn.Add(1)
	c.record(cfg.Stream, CategoryMessage, len(msg.Payload), evicted, st.messages.Len(), st.messages.Cap())
}

func (c *Controller) ingestTransition(st *stores, cfg Config, tr RawTransition) error {
	tr.Text = truncateText(tr.Text, MaxTransitionText)

	evicted := st.transitions.Push(tr)
	c.transitionsIn.Add(1)
	c.record(cfg.Stream, CategoryTransition, len(tr.Text), evicted, st.transitions.Len(), st.transitions.Cap())

	c.logger.Info("run transition",
		zap.String("stream", cfg.Stream),
		zap.Stringer("kind", tr.Kind),
		zap.Int("run", tr.Run),
	)
	return nil
}

func (c *Controller) record(stream string, cat Category, bytes int, evicted bool, length, capacity int) {
	c.observer.Ingested(stream, cat, bytes)
	if evicted {
		c.observer.Evicted(stream, cat)
	}
	c.observer.Buffered(stream, cat, length, capacity)
}

func (c *Controller) setStatus(s Status, err error) {
	c.status.Store(int32(s))
	c.errMu.Lock()
	c.lastErr = err
	c.errMu.Unlock()
}

// State returns the current lifecycle phase.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// IsRunning reports whether Start has been called without a matching Stop,
// regardless of whether startup succeeded.
func (c *Controller) IsRunning() bool {
	return c.running.Load()
}

// IsListening reports whether the worker is between a successful startup
// and the end of its poll loop.
func (c *Controller) IsListening() bool {
	return c.listening.Load()
}

// LastStatus returns the last middleware status observed.
func (c *Controller) LastStatus() Status {
	return Status(c.status.Load())
}

// LastError returns the error behind LastStatus, if any.
func (c *Controller) LastError() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()
	return c.lastErr
}

// Config returns a copy of the active configuration. It never waits on
// Init, Start or Stop.
func (c *Controller) Config() Config {
	cfg := *c.cfg.Load()
	if len(cfg.Transitions) > 0 {
		cfg.Transitions = append([]TransitionRegistration(nil), cfg.Transitions...)
	}
	return cfg
}

// Name returns the stream name the controller is configured for.
func (c *Controller) Name() string {
	return *c.name.Load()
}
