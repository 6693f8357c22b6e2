package feed

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/daq-receiver/internal/wire"
)

// Middleware transition numbering.
const (
	transitionStart uint32 = 1
	transitionStop  uint32 = 2
)

// GeneratorConfig controls the synthetic runs a Generator produces.
type GeneratorConfig struct {
	Stream       string
	Rate         float64 // events per second
	Burst        int
	EventIDs     int // ids 0..EventIDs-1 are used round-robin
	PayloadSize  int
	RunLength    int // events per run; 0 runs forever
	RunGap       time.Duration
	MessageEvery int // one message every n events; 0 disables
	GapEvery     int // skip a serial every n events; 0 disables
	FirstRun     int
}

// DefaultGeneratorConfig returns a modest single-stream setup.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Stream:       "SYSTEM",
		Rate:         100,
		Burst:        10,
		EventIDs:     4,
		PayloadSize:  256,
		RunLength:    1000,
		RunGap:       2 * time.Second,
		MessageEvery: 250,
		FirstRun:     1,
	}
}

// Validate checks the generator settings.
func (c GeneratorConfig) Validate() error {
	var errs []error
	if c.Stream == "" {
		errs = append(errs, errors.New("stream is required"))
	}
	if c.Rate <= 0 {
		errs = append(errs, fmt.Errorf("rate must be positive, got %v", c.Rate))
	}
	if c.Burst < 1 {
		errs = append(errs, fmt.Errorf("burst must be >= 1, got %d", c.Burst))
	}
	if c.EventIDs < 1 {
		errs = append(errs, fmt.Errorf("event ids must be >= 1, got %d", c.EventIDs))
	}
	if c.PayloadSize < 0 {
		errs = append(errs, fmt.Errorf("payload size must be >= 0, got %d", c.PayloadSize))
	}
	return errors.Join(errs...)
}

// Generator publishes synthetic runs to a Hub: a start transition, a
// paced sequence of events with per-id serial numbers and periodic
// messages, then a stop transition.
type Generator struct {
	hub     *Hub
	cfg     GeneratorConfig
	limiter *rate.Limiter
	serials []int64
	run     int64
	logger  *zap.Logger
}

// NewGenerator creates a Generator publishing to hub.
func NewGenerator(hub *Hub, cfg GeneratorConfig, logger *zap.Logger) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid generator config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		hub:     hub,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		serials: make([]int64, cfg.EventIDs),
		run:     int64(cfg.FirstRun),
		logger:  logger,
	}, nil
}

// Run produces runs until ctx is cancelled.
func (g *Generator) Run(ctx context.Context) {
	g.logger.Info("generator started",
		zap.String("stream", g.cfg.Stream),
		zap.Float64("rate", g.cfg.Rate),
		zap.Int("runLength", g.cfg.RunLength),
	)

	for {
		if err := g.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				g.logger.Info("generator stopping")
				return
			}
			g.logger.Warn("run failed", zap.Int64("run", g.run), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			g.logger.Info("generator stopping")
			return
		case <-time.After(g.cfg.RunGap):
		}
		g.run++
	}
}

func (g *Generator) runOnce(ctx context.Context) error {
	run := g.run
	if err := g.hub.PublishTransition(&wire.Transition{
		Kind: transitionStart,
		Run:  run,
		Text: fmt.Sprintf("Run %d started", run),
	}); err != nil {
		return fmt.Errorf("publish start: %w", err)
	}
	g.logger.Info("run started", zap.Int64("run", run))

	var count int
	for g.cfg.RunLength == 0 || count < g.cfg.RunLength {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := g.hub.PublishEvent(g.nextEvent(count)); err != nil {
			return fmt.Errorf("publish event: %w", err)
		}
		count++

		if g.cfg.MessageEvery > 0 && count%g.cfg.MessageEvery == 0 {
			msg := fmt.Sprintf("[generator] run %d: %d events sent", run, count)
			if err := g.hub.PublishMessage(&wire.Message{Payload: []byte(msg)}); err != nil {
				return fmt.Errorf("publish message: %w", err)
			}
		}
	}

	if err := g.hub.PublishTransition(&wire.Transition{
		Kind: transitionStop,
		Run:  run,
		Text: fmt.Sprintf("Run %d stopped after %d events", run, count),
	}); err != nil {
		return fmt.Errorf("publish stop: %w", err)
	}
	g.logger.Info("run stopped", zap.Int64("run", run), zap.Int("events", count))
	return nil
}

// nextEvent builds the n-th event of the current run.
func (g *Generator) nextEvent(n int) *wire.Event {
	id := n % g.cfg.EventIDs
	g.serials[id]++
	if g.cfg.GapEvery > 0 && n > 0 && n%g.cfg.GapEvery == 0 {
		g.serials[id]++
	}

	data := make([]byte, g.cfg.PayloadSize)
	if len(data) >= 8 {
		binary.LittleEndian.PutUint64(data, uint64(n))
		for i := 8; i < len(data); i++ {
			data[i] = byte(rand.IntN(256))
		}
	}

	return &wire.Event{
		Stream:       g.cfg.Stream,
		EventID:      int64(id),
		TriggerMask:  1 << uint(id),
		Serial:       g.serials[id],
		ProducerTime: uint32(time.Now().Unix()),
		Data:         data,
	}
}
