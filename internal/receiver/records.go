package receiver

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Category identifies which buffer a record belongs to.
type Category int

const (
	CategoryEvent Category = iota
	CategoryMessage
	CategoryTransition
)

// Categories lists every record category in a stable order.
var Categories = []Category{CategoryEvent, CategoryMessage, CategoryTransition}

func (c Category) String() string {
	switch c {
	case CategoryEvent:
		return "events"
	case CategoryMessage:
		return "messages"
	case CategoryTransition:
		return "transitions"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// ParseCategory accepts the singular or plural category name.
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(s) {
	case "event", "events":
		return CategoryEvent, nil
	case "message", "messages":
		return CategoryMessage, nil
	case "transition", "transitions":
		return CategoryTransition, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// EventHeaderSize is the per-event header overhead counted in byte totals.
const EventHeaderSize = 16

// RawEvent is a measurement event as delivered by the middleware.
type RawEvent struct {
	EventID      int
	TriggerMask  int
	Serial       int
	ProducerTime uint32
	Data         []byte
}

// Size returns the payload length in bytes.
func (e RawEvent) Size() int {
	return len(e.Data)
}

// RawMessage is an operator or system message. The payload is opaque.
type RawMessage struct {
	Payload []byte
}

// Text returns the payload as a string.
func (m RawMessage) Text() string {
	return string(m.Payload)
}

// MaxTransitionText bounds the status text kept with a transition.
const MaxTransitionText = 255

// RawTransition is a run-state change notification.
type RawTransition struct {
	Kind TransitionKind
	Run  int
	Text string
}

// TransitionKind is a run-state transition as numbered by the middleware.
type TransitionKind int

const (
	TransitionStart      TransitionKind = 1
	TransitionStop       TransitionKind = 2
	TransitionPause      TransitionKind = 4
	TransitionResume     TransitionKind = 8
	TransitionStartAbort TransitionKind = 16
)

func (k TransitionKind) String() string {
	switch k {
	case TransitionStart:
		return "start"
	case TransitionStop:
		return "stop"
	case TransitionPause:
		return "pause"
	case TransitionResume:
		return "resume"
	case TransitionStartAbort:
		return "startabort"
	default:
		return fmt.Sprintf("transition(%d)", int(k))
	}
}

// ParseTransitionKind maps a transition name to its kind.
func ParseTransitionKind(s string) (TransitionKind, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "_", "")) {
	case "start":
		return TransitionStart, nil
	case "stop":
		return TransitionStop, nil
	case "pause":
		return TransitionPause, nil
	case "resume":
		return TransitionResume, nil
	case "startabort":
		return TransitionStartAbort, nil
	}
	return 0, fmt.Errorf("unknown transition %q", s)
}

// truncateText cuts s to at most max bytes without splitting a rune.
func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
