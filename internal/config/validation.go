package config

import (
	"fmt"
	"strings"

	"github.com/dgnsrekt/daq-receiver/internal/receiver"
)

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	DuplicateStreams   []string
	InvalidModes       []string
	InvalidTransitions []string
	InvalidAdapter     string
	Problems           []string
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.DuplicateStreams) > 0 || len(e.InvalidModes) > 0 || len(e.InvalidTransitions) > 0 ||
		e.InvalidAdapter != "" || len(e.Problems) > 0
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")

	if len(e.DuplicateStreams) > 0 {
		sb.WriteString("\nDuplicate or empty stream names:\n")
		for _, s := range e.DuplicateStreams {
			sb.WriteString(fmt.Sprintf("  - %q\n", s))
		}
	}

	if len(e.InvalidModes) > 0 {
		sb.WriteString("\nInvalid modes:\n")
		for _, m := range e.InvalidModes {
			sb.WriteString(fmt.Sprintf("  - %s\n", m))
		}
		sb.WriteString("\nValid modes: all, nonblocking\n")
	}

	if len(e.InvalidTransitions) > 0 {
		sb.WriteString("\nInvalid transitions:\n")
		for _, t := range e.InvalidTransitions {
			sb.WriteString(fmt.Sprintf("  - %s\n", t))
		}
		sb.WriteString("\nValid transitions: start, stop, pause, resume, startabort\n")
	}

	if e.InvalidAdapter != "" {
		sb.WriteString(fmt.Sprintf("\nInvalid adapter type: %s (valid: wsfeed, sim)\n", e.InvalidAdapter))
	}

	if len(e.Problems) > 0 {
		sb.WriteString("\nOther problems:\n")
		for _, p := range e.Problems {
			sb.WriteString(fmt.Sprintf("  - %s\n", p))
		}
	}

	return sb.String()
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	if _, err := ParseMode(c.Receiver.Mode); err != nil {
		errs.InvalidModes = append(errs.InvalidModes, "receiver: "+c.Receiver.Mode)
	}
	for _, t := range c.Receiver.Transitions {
		if _, err := receiver.ParseTransitionKind(t.Kind); err != nil {
			errs.InvalidTransitions = append(errs.InvalidTransitions, t.Kind)
		}
	}
	if c.Receiver.BufferSize < 1 {
		errs.Problems = append(errs.Problems, fmt.Sprintf("receiver.buffer_size must be >= 1, got %d", c.Receiver.BufferSize))
	}
	if c.Receiver.PollTimeout <= 0 {
		errs.Problems = append(errs.Problems, fmt.Sprintf("receiver.poll_timeout must be positive, got %s", c.Receiver.PollTimeout))
	}

	seen := make(map[string]bool)
	for _, s := range c.Streams {
		if s.Name == "" || seen[s.Name] {
			errs.DuplicateStreams = append(errs.DuplicateStreams, s.Name)
		}
		seen[s.Name] = true
		if s.Mode != "" {
			if _, err := ParseMode(s.Mode); err != nil {
				errs.InvalidModes = append(errs.InvalidModes, s.Name+": "+s.Mode)
			}
		}
		if s.BufferSize < 0 {
			errs.Problems = append(errs.Problems, fmt.Sprintf("streams[%s].buffer_size must be >= 0", s.Name))
		}
	}

	switch c.Adapter.Type {
	case "wsfeed", "sim":
	default:
		errs.InvalidAdapter = c.Adapter.Type
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs.Problems = append(errs.Problems, fmt.Sprintf("server.port out of range: %d", c.Server.Port))
	}
	if c.Server.TailInterval <= 0 {
		errs.Problems = append(errs.Problems, "server.tail_interval must be positive")
	}
	if c.Server.MaxLimit < 1 {
		errs.Problems = append(errs.Problems, "server.max_limit must be >= 1")
	}

	if err := c.Notify.Validate(); err != nil {
		errs.Problems = append(errs.Problems, err.Error())
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
