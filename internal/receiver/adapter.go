package receiver

import (
	"context"
	"errors"
	"time"
)

// Poll results that end the worker loop.
var (
	ErrShutdown = errors.New("middleware shutdown")
	ErrAbort    = errors.New("middleware abort")
)

// StreamHandle identifies an open middleware stream.
type StreamHandle int

// RequestID identifies an event subscription.
type RequestID int

// EventFunc receives events for the stream it was subscribed on.
type EventFunc func(h StreamHandle, ev RawEvent)

// MessageFunc receives operator and system messages.
type MessageFunc func(msg RawMessage)

// TransitionFunc receives run-state transitions. A non-nil error vetoes
// the transition where the middleware supports it.
type TransitionFunc func(tr RawTransition) error

// Adapter is the middleware session a Controller drives. Callbacks
// registered through it must only be invoked from within Poll, on the
// goroutine calling Poll.
type Adapter interface {
	// Environment returns the host and experiment to use when the
	// configuration leaves them empty.
	Environment() (host, experiment string)
	Connect(ctx context.Context, host, experiment, client string) error
	OpenStream(name string, sizeHint int) (StreamHandle, error)
	// ConfigureCache is a performance hint for the stream's read cache.
	ConfigureCache(h StreamHandle, size int) error
	Subscribe(h StreamHandle, eventID int, mode Mode, fn EventFunc) (RequestID, error)
	RegisterMessageCallback(fn MessageFunc) error
	RegisterTransitionCallback(kind TransitionKind, fn TransitionFunc, priority int) error
	// Poll blocks for at most timeout, dispatching pending callbacks.
	// It returns ErrShutdown or ErrAbort when the session is over.
	Poll(timeout time.Duration) error
	CloseStream(h StreamHandle) error
	Disconnect() error
}
