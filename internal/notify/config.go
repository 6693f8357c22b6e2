package notify

import (
	"errors"
	"fmt"
	"time"
)

// Config holds ntfy notification configuration.
type Config struct {
	Enabled  bool          `mapstructure:"enabled"`  // Whether notifications are enabled
	Server   string        `mapstructure:"server"`   // ntfy server URL (default: https://ntfy.sh)
	Topic    string        `mapstructure:"topic"`    // Topic name (required if enabled)
	Priority string        `mapstructure:"priority"` // Message priority: min, low, default, high, urgent
	Tags     string        `mapstructure:"tags"`     // Comma-separated emoji tags (e.g., "satellite")
	Token    string        `mapstructure:"token"`    // Optional access token for private topics
	Interval time.Duration `mapstructure:"interval"` // How often the watcher polls receivers
}

// Validate checks configuration is valid when enabled.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Topic == "" {
		return errors.New("notify.topic is required when notifications are enabled (or set NTFY_TOPIC)")
	}

	validPriorities := map[string]bool{
		"min": true, "low": true, "default": true, "high": true, "urgent": true,
	}
	if !validPriorities[c.Priority] {
		return fmt.Errorf("invalid notify.priority: %s (valid: min, low, default, high, urgent)", c.Priority)
	}

	if c.Interval <= 0 {
		return fmt.Errorf("notify.interval must be positive, got %s", c.Interval)
	}

	return nil
}
