// Package sim provides an in-memory middleware for driving a receiver
// without a network. Records are queued with the Emit methods and
// delivered by Poll on the polling goroutine, the same way a real
// middleware client library dispatches its callbacks.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgnsrekt/daq-receiver/internal/receiver"
)

// Step names an adapter call that can be made to fail.
type Step string

const (
	StepConnect    Step = "connect"
	StepOpen       Step = "open"
	StepCache      Step = "cache"
	StepSubscribe  Step = "subscribe"
	StepMessages   Step = "messages"
	StepTransition Step = "transition"
	StepPoll       Step = "poll"
	StepClose      Step = "close"
	StepDisconnect Step = "disconnect"
)

// ErrNotConnected is returned by calls that need an active session.
var ErrNotConnected = errors.New("sim: not connected")

type subscription struct {
	handle  receiver.StreamHandle
	eventID int
	mode    receiver.Mode
	fn      receiver.EventFunc
}

type transitionHandler struct {
	kind     receiver.TransitionKind
	priority int
	fn       receiver.TransitionFunc
}

// Adapter is a scriptable receiver.Adapter. The zero value is not usable;
// create one with New.
type Adapter struct {
	host       string
	experiment string

	mu          sync.Mutex
	failures    map[Step]error
	calls       map[Step]int
	connected   bool
	streams     map[receiver.StreamHandle]string
	nextHandle  receiver.StreamHandle
	subs        []subscription
	onMessage   receiver.MessageFunc
	transitions []transitionHandler
	queue       []func()
	end         error
	vetoes      []error
	wake        chan struct{}
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithEnvironment sets what Environment reports.
func WithEnvironment(host, experiment string) Option {
	return func(a *Adapter) {
		a.host = host
		a.experiment = experiment
	}
}

// New creates a disconnected simulator.
func New(opts ...Option) *Adapter {
	a := &Adapter{
		host:       "localhost",
		experiment: "sim",
		failures:   make(map[Step]error),
		calls:      make(map[Step]int),
		streams:    make(map[receiver.StreamHandle]string),
		nextHandle: 1,
		wake:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// FailOn makes every later call of step return err. A nil err clears it.
func (a *Adapter) FailOn(step Step, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err == nil {
		delete(a.failures, step)
		return
	}
	a.failures[step] = err
}

// Calls returns how many times step was invoked.
func (a *Adapter) Calls(step Step) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[step]
}

// Connected reports whether a session is open.
func (a *Adapter) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// Registered returns the registered transition kinds in dispatch order.
func (a *Adapter) Registered() []receiver.TransitionKind {
	a.mu.Lock()
	defer a.mu.Unlock()
	kinds := make([]receiver.TransitionKind, len(a.transitions))
	for i, t := range a.transitions {
		kinds[i] = t.kind
	}
	return kinds
}

// Vetoes returns the errors transition callbacks have returned.
func (a *Adapter) Vetoes() []error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]error(nil), a.vetoes...)
}

// call records an invocation and returns the injected failure, if any.
// Caller must hold a.mu.
func (a *Adapter) call(step Step) error {
	a.calls[step]++
	return a.failures[step]
}

func (a *Adapter) Environment() (string, string) {
	return a.host, a.experiment
}

func (a *Adapter) Connect(ctx context.Context, host, experiment, client string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.call(StepConnect); err != nil {
		return err
	}
	a.connected = true
	a.end = nil
	return nil
}

func (a *Adapter) OpenStream(name string, sizeHint int) (receiver.StreamHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.call(StepOpen); err != nil {
		return 0, err
	}
	if !a.connected {
		return 0, ErrNotConnected
	}
	h := a.nextHandle
	a.nextHandle++
	a.streams[h] = name
	return h, nil
}

func (a *Adapter) ConfigureCache(h receiver.StreamHandle, size int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.call(StepCache); err != nil {
		return err
	}
	if _, ok := a.streams[h]; !ok {
		return fmt.Errorf("sim: unknown stream handle %d", h)
	}
	return nil
}

func (a *Adapter) Subscribe(h receiver.StreamHandle, eventID int, mode receiver.Mode, fn receiver.EventFunc) (receiver.RequestID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.call(StepSubscribe); err != nil {
		return 0, err
	}
	a.subs = append(a.subs, subscription{handle: h, eventID: eventID, mode: mode, fn: fn})
	return receiver.RequestID(len(a.subs)), nil
}

func (a *Adapter) RegisterMessageCallback(fn receiver.MessageFunc) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.call(StepMessages); err != nil {
		return err
	}
	a.onMessage = fn
	return nil
}

func (a *Adapter) RegisterTransitionCallback(kind receiver.TransitionKind, fn receiver.TransitionFunc, priority int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.call(StepTransition); err != nil {
		return err
	}
	a.transitions = append(a.transitions, transitionHandler{kind: kind, priority: priority, fn: fn})
	sort.SliceStable(a.transitions, func(i, j int) bool {
		return a.transitions[i].priority < a.transitions[j].priority
	})
	return nil
}

// Poll runs every queued callback on the calling goroutine. With nothing
// queued it waits up to timeout for an Emit.
func (a *Adapter) Poll(timeout time.Duration) error {
	a.mu.Lock()
	if err := a.call(StepPoll); err != nil {
		a.mu.Unlock()
		return err
	}
	pending := len(a.queue) > 0 || a.end != nil
	a.mu.Unlock()

	if !pending {
		timer := time.NewTimer(timeout)
		select {
		case <-a.wake:
		case <-timer.C:
		}
		timer.Stop()
	}

	a.mu.Lock()
	queue := a.queue
	a.queue = nil
	end := a.end
	a.mu.Unlock()

	for _, deliver := range queue {
		deliver()
	}
	return end
}

func (a *Adapter) CloseStream(h receiver.StreamHandle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.call(StepClose); err != nil {
		return err
	}
	delete(a.streams, h)
	kept := a.subs[:0]
	for _, s := range a.subs {
		if s.handle != h {
			kept = append(kept, s)
		}
	}
	a.subs = kept
	return nil
}

func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.call(StepDisconnect); err != nil {
		return err
	}
	a.connected = false
	a.onMessage = nil
	a.transitions = nil
	a.subs = nil
	a.queue = nil
	return nil
}

func (a *Adapter) enqueue(fn func()) {
	a.mu.Lock()
	a.queue = append(a.queue, fn)
	a.mu.Unlock()
	a.signal()
}

func (a *Adapter) signal() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// EmitEvent queues ev for every subscription whose filter matches.
func (a *Adapter) EmitEvent(ev receiver.RawEvent) {
	a.enqueue(func() {
		for _, s := range a.matching(ev.EventID) {
			s.fn(s.handle, ev)
		}
	})
}

// EmitEventOn queues ev for every subscriber but reports it as arriving
// on handle h.
func (a *Adapter) EmitEventOn(h receiver.StreamHandle, ev receiver.RawEvent) {
	a.enqueue(func() {
		for _, s := range a.matching(ev.EventID) {
			s.fn(h, ev)
		}
	})
}

func (a *Adapter) matching(eventID int) []subscription {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []subscription
	for _, s := range a.subs {
		if s.eventID == receiver.EventIDAll || s.eventID == eventID {
			out = append(out, s)
		}
	}
	return out
}

// EmitMessage queues a message for the message callback.
func (a *Adapter) EmitMessage(payload []byte) {
	a.enqueue(func() {
		a.mu.Lock()
		fn := a.onMessage
		a.mu.Unlock()
		if fn != nil {
			fn(receiver.RawMessage{Payload: payload})
		}
	})
}

// EmitTransition queues tr for the callbacks registered for its kind,
// in ascending priority order.
func (a *Adapter) EmitTransition(tr receiver.RawTransition) {
	a.enqueue(func() {
		a.mu.Lock()
		var handlers []transitionHandler
		for _, t := range a.transitions {
			if t.kind == tr.Kind {
				handlers = append(handlers, t)
			}
		}
		a.mu.Unlock()

		for _, t := range handlers {
			if err := t.fn(tr); err != nil {
				a.mu.Lock()
				a.vetoes = append(a.vetoes, err)
				a.mu.Unlock()
			}
		}
	})
}

// Shutdown ends the session: the next Poll returns receiver.ErrShutdown.
func (a *Adapter) Shutdown() {
	a.finish(receiver.ErrShutdown)
}

// Abort ends the session: the next Poll returns receiver.ErrAbort.
func (a *Adapter) Abort() {
	a.finish(receiver.ErrAbort)
}

func (a *Adapter) finish(err error) {
	a.mu.Lock()
	a.end = err
	a.mu.Unlock()
	a.signal()
}

var _ receiver.Adapter = (*Adapter)(nil)
