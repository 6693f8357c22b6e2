package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/daq-receiver/internal/adapter/sim"
	"github.com/dgnsrekt/daq-receiver/internal/adapter/wsfeed"
	"github.com/dgnsrekt/daq-receiver/internal/metrics"
	"github.com/dgnsrekt/daq-receiver/internal/notify"
	"github.com/dgnsrekt/daq-receiver/internal/receiver"
	"github.com/dgnsrekt/daq-receiver/internal/server"
	"github.com/dgnsrekt/daq-receiver/internal/wire"
)

func serveCmd() *cobra.Command {
	var adapterType string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start one receiver per configured stream and the query API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if adapterType != "" {
				cfg.Adapter.Type = adapterType
			}
			return serve(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&adapterType, "adapter", "", "override adapter type (wsfeed or sim)")

	return cmd
}

func serve(ctx context.Context) error {
	codec, err := wire.NewCodec()
	if err != nil {
		return fmt.Errorf("creating codec: %w", err)
	}
	defer codec.Close()

	promReg := metrics.NewRegistry()
	observer, err := metrics.NewObserver(promReg)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	rcs, err := cfg.ReceiverConfigs()
	if err != nil {
		return err
	}

	registry := receiver.NewRegistry()
	var sims []*sim.Adapter
	for _, rc := range rcs {
		var adapter receiver.Adapter
		switch cfg.Adapter.Type {
		case "sim":
			a := sim.New()
			sims = append(sims, a)
			adapter = a
		case "wsfeed":
			opts := []wsfeed.Option{
				wsfeed.WithLogger(logger.Named("wsfeed").With(zap.String("stream", rc.Stream))),
				wsfeed.WithFrameBuffer(cfg.Adapter.FrameBuffer),
			}
			if cfg.Adapter.TLS {
				opts = append(opts, wsfeed.WithTLS())
			}
			adapter = wsfeed.New(codec, opts...)
		default:
			return fmt.Errorf("unknown adapter type %q", cfg.Adapter.Type)
		}

		c := receiver.New(adapter,
			receiver.WithLogger(logger.Named("receiver")),
			receiver.WithObserver(observer),
		)
		if err := c.Init(rc); err != nil {
			return fmt.Errorf("stream %s: %w", rc.Stream, err)
		}
		if err := registry.Add(c); err != nil {
			return err
		}
	}

	if err := promReg.Register(metrics.NewCollector(registry)); err != nil {
		return fmt.Errorf("registering collector: %w", err)
	}

	logger.Info("starting receivers",
		zap.Strings("streams", registry.Names()),
		zap.String("adapter", cfg.Adapter.Type),
	)
	registry.StartAll()
	defer registry.StopAll()

	for _, a := range sims {
		go simulate(ctx, a, 100*time.Millisecond)
	}

	if cfg.Notify.Enabled {
		notifier := notify.New(&cfg.Notify, logger)
		watcher := notify.NewWatcher(notifier, registry, cfg.Notify.Interval, logger.Named("notify"))
		go watcher.Run(ctx)
		logger.Info("notifications enabled",
			zap.String("server", cfg.Notify.Server),
			zap.String("topic", cfg.Notify.Topic),
		)
	}

	srv := server.NewServer(registry, cfg.Server, logger.Named("server"))
	router, err := server.NewRouter(srv, promReg, logger)
	if err != nil {
		return fmt.Errorf("creating router: %w", err)
	}

	// Setup HTTP server
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// simulate drives a sim adapter with one run of synthetic events so the
// query API can be tried without a feed.
func simulate(ctx context.Context, a *sim.Adapter, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	const eventIDs = 4
	var serials [eventIDs]int

	for n := 0; ; n++ {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n == 0 {
				a.EmitTransition(receiver.RawTransition{Kind: receiver.TransitionStart, Run: 1, Text: "simulated run"})
				continue
			}
			id := n % eventIDs
			serials[id]++
			a.EmitEvent(receiver.RawEvent{
				EventID:      id,
				TriggerMask:  1 << id,
				Serial:       serials[id],
				ProducerTime: uint32(now.Unix()),
				Data:         []byte(now.Format(time.RFC3339Nano)),
			})
			if n%100 == 0 {
				a.EmitMessage(fmt.Appendf(nil, "checkpoint after %d events", n))
			}
		}
	}
}
