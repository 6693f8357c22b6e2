package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/daq-receiver/internal/receiver"
)

type watchState struct {
	failureSent bool
	since       time.Time
}

// Watcher polls the receivers in a registry through their retrieval API
// and forwards startup failures and new transitions to a Notifier.
type Watcher struct {
	notifier Notifier
	registry *receiver.Registry
	interval time.Duration
	logger   *zap.Logger
	state    map[string]*watchState
}

// NewWatcher creates a Watcher. It is not safe for concurrent use; call
// Run or Check from one goroutine.
func NewWatcher(n Notifier, registry *receiver.Registry, interval time.Duration, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		notifier: n,
		registry: registry,
		interval: interval,
		logger:   logger,
		state:    make(map[string]*watchState),
	}
}

// Run checks every interval until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}

// Check inspects every receiver once.
func (w *Watcher) Check(ctx context.Context) {
	w.registry.Each(func(c *receiver.Controller) {
		name := c.Name()
		st, ok := w.state[name]
		if !ok {
			st = &watchState{}
			w.state[name] = st
		}

		w.checkStartup(ctx, c, st)
		w.checkTransitions(ctx, c, st)
	})
}

func (w *Watcher) checkStartup(ctx context.Context, c *receiver.Controller, st *watchState) {
	if c.IsListening() {
		st.failureSent = false
		return
	}

	var serr *receiver.StartupError
	if st.failureSent || !errors.As(c.LastError(), &serr) {
		return
	}

	if err := w.notifier.SendStartupFailure(ctx, c.Stats(), c.LastError()); err != nil {
		w.logger.Warn("startup failure notification failed", zap.String("stream", c.Name()), zap.Error(err))
		return
	}
	st.failureSent = true
}

func (w *Watcher) checkTransitions(ctx context.Context, c *receiver.Controller, st *watchState) {
	for _, rec := range c.Transitions(receiver.Since(st.since)) {
		if err := w.notifier.SendTransition(ctx, c.Name(), rec); err != nil {
			w.logger.Warn("transition notification failed",
				zap.String("stream", c.Name()),
				zap.Int("run", rec.Payload.Run),
				zap.Error(err),
			)
			return
		}
		st.since = rec.Timestamp
	}
}
