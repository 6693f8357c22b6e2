package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dgnsrekt/daq-receiver/internal/feed"
)

// FeedConfig configures the feed simulator. It is read from the
// environment only.
type FeedConfig struct {
	Port      string
	LogLevel  string
	Generator feed.GeneratorConfig
}

// Addr returns the listen address.
func (c *FeedConfig) Addr() string {
	return ":" + c.Port
}

func LoadFeedConfig() (*FeedConfig, error) {
	def := feed.DefaultGeneratorConfig()

	gen := feed.GeneratorConfig{
		Stream:   getEnvOrDefault("FEED_STREAM", def.Stream),
		FirstRun: def.FirstRun,
	}

	var err error
	if gen.Rate, err = envFloat("FEED_RATE", def.Rate); err != nil {
		return nil, err
	}
	if gen.Burst, err = envInt("FEED_BURST", def.Burst); err != nil {
		return nil, err
	}
	if gen.EventIDs, err = envInt("FEED_EVENT_IDS", def.EventIDs); err != nil {
		return nil, err
	}
	if gen.PayloadSize, err = envInt("FEED_PAYLOAD_SIZE", def.PayloadSize); err != nil {
		return nil, err
	}
	if gen.RunLength, err = envInt("FEED_RUN_LENGTH", def.RunLength); err != nil {
		return nil, err
	}
	if gen.MessageEvery, err = envInt("FEED_MESSAGE_EVERY", def.MessageEvery); err != nil {
		return nil, err
	}
	if gen.GapEvery, err = envInt("FEED_GAP_EVERY", def.GapEvery); err != nil {
		return nil, err
	}

	// Parse run gap
	runGapStr := getEnvOrDefault("FEED_RUN_GAP", def.RunGap.String())
	gen.RunGap, err = time.ParseDuration(runGapStr)
	if err != nil {
		return nil, fmt.Errorf("invalid FEED_RUN_GAP: %s", runGapStr)
	}

	cfg := &FeedConfig{
		Port:      getEnvOrDefault("PORT", "8090"),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		Generator: gen,
	}

	// Validate
	if err := cfg.Generator.Validate(); err != nil {
		return nil, fmt.Errorf("invalid feed generator: %w", err)
	}

	return cfg, nil
}

func envInt(key string, defaultVal int) (int, error) {
	s := getEnvOrDefault(key, strconv.Itoa(defaultVal))
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", key, s)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	s := getEnvOrDefault(key, strconv.FormatFloat(defaultVal, 'g', -1, 64))
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", key, s)
	}
	return f, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
