package receiver

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgnsrekt/daq-receiver/internal/sequence"
)

// EventIDAll subscribes to every event id.
const EventIDAll = -1

// Defaults applied by DefaultConfig and by Init for empty fields.
const (
	DefaultStream         = "SYSTEM"
	DefaultClient         = "Event Receiver"
	DefaultBufferSize     = 1000
	DefaultPollTimeout    = 300 * time.Millisecond
	DefaultStreamSizeHint = 2 * 10 * 1024 * 1024
	DefaultCacheSize      = 100000
	DefaultPriority       = 500
)

// Mode selects how the middleware delivers events to a slow consumer.
type Mode int

const (
	// ModeAll receives every event; the producer waits for the consumer.
	ModeAll Mode = iota
	// ModeNonBlocking lets the producer skip events the consumer cannot keep up with.
	ModeNonBlocking
)

func (m Mode) String() string {
	if m == ModeNonBlocking {
		return "nonblocking"
	}
	return "all"
}

// TransitionRegistration is one transition kind to subscribe to, with the
// priority the middleware uses to order callbacks across clients.
type TransitionRegistration struct {
	Kind     TransitionKind
	Priority int
}

// DefaultTransitions registers every run-state transition at the default priority.
func DefaultTransitions() []TransitionRegistration {
	return []TransitionRegistration{
		{Kind: TransitionStart, Priority: DefaultPriority},
		{Kind: TransitionStop, Priority: DefaultPriority},
		{Kind: TransitionPause, Priority: DefaultPriority},
		{Kind: TransitionResume, Priority: DefaultPriority},
		{Kind: TransitionStartAbort, Priority: DefaultPriority},
	}
}

// Config is the receiver configuration. It is fixed once the controller starts.
type Config struct {
	Host           string
	Experiment     string
	Stream         string
	Client         string
	EventID        int
	Mode           Mode
	BufferSize     int
	PollTimeout    time.Duration
	StreamSizeHint int
	CacheSize      int
	SequenceSlots  int
	Transitions    []TransitionRegistration
}

// DefaultConfig returns the configuration a controller starts with.
func DefaultConfig() Config {
	return Config{
		Stream:         DefaultStream,
		Client:         DefaultClient,
		EventID:        EventIDAll,
		Mode:           ModeAll,
		BufferSize:     DefaultBufferSize,
		PollTimeout:    DefaultPollTimeout,
		StreamSizeHint: DefaultStreamSizeHint,
		CacheSize:      DefaultCacheSize,
		SequenceSlots:  sequence.DefaultSlots,
		Transitions:    DefaultTransitions(),
	}
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.BufferSize < 1 {
		errs = append(errs, fmt.Errorf("buffer size must be >= 1, got %d", c.BufferSize))
	}
	if c.PollTimeout <= 0 {
		errs = append(errs, fmt.Errorf("poll timeout must be positive, got %s", c.PollTimeout))
	}
	if c.SequenceSlots < 0 {
		errs = append(errs, fmt.Errorf("sequence slots must be >= 0, got %d", c.SequenceSlots))
	}
	if c.Mode != ModeAll && c.Mode != ModeNonBlocking {
		errs = append(errs, fmt.Errorf("unknown mode %d", int(c.Mode)))
	}
	return errors.Join(errs...)
}

// withDefaults fills empty names and sizes from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Stream == "" {
		c.Stream = d.Stream
	}
	if c.Client == "" {
		c.Client = d.Client
	}
	if c.StreamSizeHint <= 0 {
		c.StreamSizeHint = d.StreamSizeHint
	}
	if c.CacheSize <= 0 {
		c.CacheSize = d.CacheSize
	}
	if c.SequenceSlots == 0 {
		c.SequenceSlots = d.SequenceSlots
	}
	c.Transitions = append([]TransitionRegistration(nil), c.Transitions...)
	return c
}
