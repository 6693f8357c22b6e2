package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dgnsrekt/daq-receiver/internal/notify"
	"github.com/dgnsrekt/daq-receiver/internal/receiver"
)

type Config struct {
	Receiver ReceiverConfig `mapstructure:"receiver"`
	Streams  []StreamConfig `mapstructure:"streams"`
	Adapter  AdapterConfig  `mapstructure:"adapter"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Notify   notify.Config  `mapstructure:"notify"`
}

// ReceiverConfig holds settings shared by every stream.
type ReceiverConfig struct {
	Host           string             `mapstructure:"host"`
	Experiment     string             `mapstructure:"experiment"`
	Client         string             `mapstructure:"client"`
	EventID        int                `mapstructure:"event_id"`
	Mode           string             `mapstructure:"mode"`
	BufferSize     int                `mapstructure:"buffer_size"`
	PollTimeout    time.Duration      `mapstructure:"poll_timeout"`
	StreamSizeHint int                `mapstructure:"stream_size_hint"`
	CacheSize      int                `mapstructure:"cache_size"`
	SequenceSlots  int                `mapstructure:"sequence_slots"`
	Transitions    []TransitionConfig `mapstructure:"transitions"`
}

type TransitionConfig struct {
	Kind     string `mapstructure:"kind"`
	Priority int    `mapstructure:"priority"`
}

// StreamConfig names one stream to receive. Zero fields inherit from
// ReceiverConfig.
type StreamConfig struct {
	Name       string `mapstructure:"name"`
	BufferSize int    `mapstructure:"buffer_size"`
	EventID    *int   `mapstructure:"event_id"`
	Mode       string `mapstructure:"mode"`
}

type AdapterConfig struct {
	Type        string `mapstructure:"type"` // "wsfeed" or "sim"
	TLS         bool   `mapstructure:"tls"`
	FrameBuffer int    `mapstructure:"frame_buffer"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	TailInterval time.Duration `mapstructure:"tail_interval"`
	MaxLimit     int           `mapstructure:"max_limit"`
}

// Addr returns host:port for net/http.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LoggingConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Directory  string `mapstructure:"directory"`
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("receiver.client", receiver.DefaultClient)
	v.SetDefault("receiver.event_id", receiver.EventIDAll)
	v.SetDefault("receiver.mode", receiver.ModeAll.String())
	v.SetDefault("receiver.buffer_size", receiver.DefaultBufferSize)
	v.SetDefault("receiver.poll_timeout", receiver.DefaultPollTimeout)
	v.SetDefault("receiver.stream_size_hint", receiver.DefaultStreamSizeHint)
	v.SetDefault("receiver.cache_size", receiver.DefaultCacheSize)
	v.SetDefault("receiver.sequence_slots", 10)
	v.SetDefault("receiver.transitions", defaultTransitions())
	v.SetDefault("adapter.type", "wsfeed")
	v.SetDefault("adapter.frame_buffer", 1024)
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.tail_interval", time.Second)
	v.SetDefault("server.max_limit", 10000)
	v.SetDefault("logging.enabled", false)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("logging.compress", true)
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.server", "https://ntfy.sh")
	v.SetDefault("notify.priority", "default")
	v.SetDefault("notify.tags", "satellite")
	v.SetDefault("notify.interval", 5*time.Second)

	// Environment variable support
	v.SetEnvPrefix("DAQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Explicitly bind nested keys to env vars
	_ = v.BindEnv("receiver.host", "DAQ_RECEIVER_HOST")
	_ = v.BindEnv("receiver.experiment", "DAQ_RECEIVER_EXPERIMENT")
	_ = v.BindEnv("notify.topic", "NTFY_TOPIC")
	_ = v.BindEnv("notify.token", "NTFY_TOKEN")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("receiver")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func defaultTransitions() []map[string]any {
	regs := receiver.DefaultTransitions()
	out := make([]map[string]any, len(regs))
	for i, r := range regs {
		out[i] = map[string]any{"kind": r.Kind.String(), "priority": r.Priority}
	}
	return out
}

// StreamNames returns the configured stream names, or the default stream
// when none are listed.
func (c *Config) StreamNames() []string {
	if len(c.Streams) == 0 {
		return []string{receiver.DefaultStream}
	}
	names := make([]string, len(c.Streams))
	for i, s := range c.Streams {
		names[i] = s.Name
	}
	return names
}

// ReceiverConfigs expands the shared receiver settings into one
// receiver.Config per stream.
func (c *Config) ReceiverConfigs() ([]receiver.Config, error) {
	base, err := c.Receiver.toReceiver()
	if err != nil {
		return nil, err
	}

	streams := c.Streams
	if len(streams) == 0 {
		streams = []StreamConfig{{Name: receiver.DefaultStream}}
	}

	out := make([]receiver.Config, 0, len(streams))
	for _, s := range streams {
		rc := base
		rc.Stream = s.Name
		rc.Transitions = append([]receiver.TransitionRegistration(nil), base.Transitions...)
		if s.BufferSize > 0 {
			rc.BufferSize = s.BufferSize
		}
		if s.EventID != nil {
			rc.EventID = *s.EventID
		}
		if s.Mode != "" {
			m, err := ParseMode(s.Mode)
			if err != nil {
				return nil, fmt.Errorf("stream %s: %w", s.Name, err)
			}
			rc.Mode = m
		}
		out = append(out, rc)
	}
	return out, nil
}

func (r ReceiverConfig) toReceiver() (receiver.Config, error) {
	mode, err := ParseMode(r.Mode)
	if err != nil {
		return receiver.Config{}, err
	}

	regs := make([]receiver.TransitionRegistration, 0, len(r.Transitions))
	for _, t := range r.Transitions {
		kind, err := receiver.ParseTransitionKind(t.Kind)
		if err != nil {
			return receiver.Config{}, err
		}
		regs = append(regs, receiver.TransitionRegistration{Kind: kind, Priority: t.Priority})
	}

	return receiver.Config{
		Host:           r.Host,
		Experiment:     r.Experiment,
		Client:         r.Client,
		EventID:        r.EventID,
		Mode:           mode,
		BufferSize:     r.BufferSize,
		PollTimeout:    r.PollTimeout,
		StreamSizeHint: r.StreamSizeHint,
		CacheSize:      r.CacheSize,
		SequenceSlots:  r.SequenceSlots,
		Transitions:    regs,
	}, nil
}

// ParseMode maps "all" or "nonblocking" to a receiver.Mode.
func ParseMode(s string) (receiver.Mode, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "_", "")) {
	case "", "all":
		return receiver.ModeAll, nil
	case "nonblocking":
		return receiver.ModeNonBlocking, nil
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}
