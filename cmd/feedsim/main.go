package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dgnsrekt/daq-receiver/internal/config"
	"github.com/dgnsrekt/daq-receiver/internal/feed"
	"github.com/dgnsrekt/daq-receiver/internal/wire"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Load config
	cfg, err := config.LoadFeedConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	// Setup logger
	zapConfig := zap.NewDevelopmentConfig()
	if level, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		zapConfig.Level = zap.NewAtomicLevelAt(level)
	}
	logger, err := zapConfig.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	gen := cfg.Generator
	logger.Info("configuration loaded",
		zap.String("port", cfg.Port),
		zap.String("stream", gen.Stream),
		zap.Float64("rate", gen.Rate),
		zap.Int("eventIDs", gen.EventIDs),
		zap.Int("payloadSize", gen.PayloadSize),
		zap.Int("runLength", gen.RunLength),
		zap.Duration("runGap", gen.RunGap),
		zap.Int("gapEvery", gen.GapEvery),
	)

	codec, err := wire.NewCodec()
	if err != nil {
		logger.Error("failed to create codec", zap.Error(err))
		return 1
	}
	defer codec.Close()

	// Create context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	hub := feed.NewHub(codec, logger.Named("hub"))
	go hub.Run(ctx)

	generator, err := feed.NewGenerator(hub, gen, logger.Named("generator"))
	if err != nil {
		logger.Error("failed to create generator", zap.Error(err))
		return 1
	}
	go generator.Run(ctx)

	// Setup HTTP server
	httpServer := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     hub.Routes(),
		ReadTimeout: 30 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting feed server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			cancel()
		}
	}()

	// Wait for interrupt
	<-ctx.Done()

	logger.Info("shutting down feed server...",
		zap.Uint64("dropped", hub.Dropped()),
		zap.Uint64("disconnected", hub.Disconnected()),
	)

	// Graceful HTTP server shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return 1
	}

	logger.Info("feed server stopped")
	return 0
}
