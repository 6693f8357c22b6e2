// Package wire implements the feed protocol spoken between the feed server
// and the websocket adapter.
//
// Every websocket message carries one Frame. A frame is marshaled as a
// daq.feed protobuf message, wrapped in a google.protobuf.Any whose type URL
// names the frame, and the result is zstd-compressed.
package wire

import (
	"fmt"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// Type URLs identifying each frame.
const (
	TypeEvent              = "daq.feed.Event"
	TypeMessage            = "daq.feed.Message"
	TypeTransition         = "daq.feed.Transition"
	TypeSubscribe          = "daq.feed.Subscribe"
	TypeRegisterMessages   = "daq.feed.RegisterMessages"
	TypeRegisterTransition = "daq.feed.RegisterTransition"
)

// Delivery modes carried by Subscribe.
const (
	ModeAll         uint32 = 0
	ModeNonBlocking uint32 = 1
)

// Frame is one protocol message.
type Frame interface {
	TypeURL() string
	store(m protoreflect.Message)
	load(m protoreflect.Message)
}

// Event is a measurement event pushed by the server.
type Event struct {
	Stream       string
	EventID      int64
	TriggerMask  int64
	Serial       int64
	ProducerTime uint32
	Data         []byte
}

func (*Event) TypeURL() string { return TypeEvent }

func (e *Event) store(m protoreflect.Message) {
	setString(m, "stream", e.Stream)
	setInt(m, "event_id", e.EventID)
	setInt(m, "trigger_mask", e.TriggerMask)
	setInt(m, "serial", e.Serial)
	setUint(m, "producer_time", e.ProducerTime)
	setBytes(m, "data", e.Data)
}

func (e *Event) load(m protoreflect.Message) {
	e.Stream = get(m, "stream").String()
	e.EventID = get(m, "event_id").Int()
	e.TriggerMask = get(m, "trigger_mask").Int()
	e.Serial = get(m, "serial").Int()
	e.ProducerTime = uint32(get(m, "producer_time").Uint())
	e.Data = getBytes(m, "data")
}

// Message is an operator or system message.
type Message struct {
	Payload []byte
}

func (*Message) TypeURL() string { return TypeMessage }

func (msg *Message) store(m protoreflect.Message) { setBytes(m, "payload", msg.Payload) }

func (msg *Message) load(m protoreflect.Message) { msg.Payload = getBytes(m, "payload") }

// Transition is a run-state change.
type Transition struct {
	Kind uint32
	Run  int64
	Text string
}

func (*Transition) TypeURL() string { return TypeTransition }

func (t *Transition) store(m protoreflect.Message) {
	setUint(m, "kind", t.Kind)
	setInt(m, "run", t.Run)
	setString(m, "text", t.Text)
}

func (t *Transition) load(m protoreflect.Message) {
	t.Kind = uint32(get(m, "kind").Uint())
	t.Run = get(m, "run").Int()
	t.Text = get(m, "text").String()
}

// Subscribe asks the server for events of one stream.
type Subscribe struct {
	Stream  string
	EventID int64
	Mode    uint32
}

func (*Subscribe) TypeURL() string { return TypeSubscribe }

func (s *Subscribe) store(m protoreflect.Message) {
	setString(m, "stream", s.Stream)
	setInt(m, "event_id", s.EventID)
	setUint(m, "mode", s.Mode)
}

func (s *Subscribe) load(m protoreflect.Message) {
	s.Stream = get(m, "stream").String()
	s.EventID = get(m, "event_id").Int()
	s.Mode = uint32(get(m, "mode").Uint())
}

// RegisterMessages asks the server to forward messages.
type RegisterMessages struct{}

func (*RegisterMessages) TypeURL() string { return TypeRegisterMessages }

func (*RegisterMessages) store(protoreflect.Message) {}

func (*RegisterMessages) load(protoreflect.Message) {}

// RegisterTransition asks the server to forward one transition kind.
type RegisterTransition struct {
	Kind     uint32
	Priority int64
}

func (*RegisterTransition) TypeURL() string { return TypeRegisterTransition }

func (r *RegisterTransition) store(m protoreflect.Message) {
	setUint(m, "kind", r.Kind)
	setInt(m, "priority", r.Priority)
}

func (r *RegisterTransition) load(m protoreflect.Message) {
	r.Kind = uint32(get(m, "kind").Uint())
	r.Priority = get(m, "priority").Int()
}

func newFrame(typeURL string) (Frame, error) {
	switch typeURL {
	case TypeEvent:
		return &Event{}, nil
	case TypeMessage:
		return &Message{}, nil
	case TypeTransition:
		return &Transition{}, nil
	case TypeSubscribe:
		return &Subscribe{}, nil
	case TypeRegisterMessages:
		return &RegisterMessages{}, nil
	case TypeRegisterTransition:
		return &RegisterTransition{}, nil
	}
	return nil, fmt.Errorf("unknown frame type %q", typeURL)
}
