package server

import (
	"time"

	"github.com/dgnsrekt/daq-receiver/internal/receiver"
)

// Records is the body of a records query and of every tail event.
type Records struct {
	Stream   string `json:"stream"`
	Category string `json:"category"`
	Count    int    `json:"count"`
	Records  []any  `json:"records"`
}

type Event struct {
	Timestamp    time.Time `json:"timestamp"`
	EventID      int       `json:"event_id"`
	TriggerMask  int       `json:"trigger_mask"`
	Serial       int       `json:"serial"`
	ProducerTime uint32    `json:"producer_time"`
	Size         int       `json:"size"`
	Data         []byte    `json:"data,omitempty"`
}

type Message struct {
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

type Transition struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Run       int       `json:"run"`
	Text      string    `json:"text,omitempty"`
}

type StreamSummary struct {
	Stream    string `json:"stream"`
	State     string `json:"state"`
	Listening bool   `json:"listening"`
}

type StreamStatus struct {
	Stream              string `json:"stream"`
	State               string `json:"state"`
	Running             bool   `json:"running"`
	Listening           bool   `json:"listening"`
	Status              string `json:"status"`
	Error               string `json:"error,omitempty"`
	EventsReceived      uint64 `json:"events_received"`
	MessagesReceived    uint64 `json:"messages_received"`
	TransitionsReceived uint64 `json:"transitions_received"`
	Dropped             uint64 `json:"dropped"`
	EventBytes          uint64 `json:"event_bytes"`
	SerialMismatches    uint64 `json:"serial_mismatches"`
	EventsBuffered      int    `json:"events_buffered"`
	MessagesBuffered    int    `json:"messages_buffered"`
	TransitionsBuffered int    `json:"transitions_buffered"`
	Capacity            int    `json:"capacity"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func newRecords(stream string, cat receiver.Category, entries []receiver.Entry) Records {
	out := Records{
		Stream:   stream,
		Category: cat.String(),
		Count:    len(entries),
		Records:  make([]any, 0, len(entries)),
	}
	for _, e := range entries {
		switch p := e.Payload.(type) {
		case receiver.RawEvent:
			out.Records = append(out.Records, Event{
				Timestamp:    e.Timestamp,
				EventID:      p.EventID,
				TriggerMask:  p.TriggerMask,
				Serial:       p.Serial,
				ProducerTime: p.ProducerTime,
				Size:         p.Size(),
				Data:         p.Data,
			})
		case receiver.RawMessage:
			out.Records = append(out.Records, Message{Timestamp: e.Timestamp, Text: p.Text()})
		case receiver.RawTransition:
			out.Records = append(out.Records, Transition{
				Timestamp: e.Timestamp,
				Kind:      p.Kind.String(),
				Run:       p.Run,
				Text:      p.Text,
			})
		}
	}
	return out
}

func newStreamStatus(c *receiver.Controller) StreamStatus {
	st := c.Stats()
	out := StreamStatus{
		Stream:              st.Stream,
		State:               st.State.String(),
		Running:             st.Running,
		Listening:           st.Listening,
		Status:              st.Status.String(),
		EventsReceived:      st.EventsReceived,
		MessagesReceived:    st.MessagesReceived,
		TransitionsReceived: st.TransitionsReceived,
		Dropped:             st.Dropped,
		EventBytes:          st.EventBytes,
		SerialMismatches:    st.Mismatches,
		EventsBuffered:      st.EventsBuffered,
		MessagesBuffered:    st.MessagesBuffered,
		TransitionsBuffered: st.TransitionsBuffered,
		Capacity:            st.Capacity,
	}
	if err := c.LastError(); err != nil {
		out.Error = err.Error()
	}
	return out
}
