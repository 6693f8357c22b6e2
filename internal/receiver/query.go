package receiver

import (
	"fmt"
	"time"

	"github.com/dgnsrekt/daq-receiver/internal/buffer"
)

// Record types returned by the retrieval methods.
type (
	EventRecord      = buffer.Record[RawEvent]
	MessageRecord    = buffer.Record[RawMessage]
	TransitionRecord = buffer.Record[RawTransition]
)

// Query selects records from one buffer. A Limit of zero or less means
// no limit; a zero Since means from the oldest retained record.
type Query struct {
	Limit int
	Since time.Time
}

// Latest is a Query for the most recent n records.
func Latest(n int) Query {
	return Query{Limit: n}
}

// Since is a Query for every record after t.
func Since(t time.Time) Query {
	return Query{Since: t}
}

func selectRecords[T any](s *buffer.Stream[T], q Query) []buffer.Record[T] {
	switch {
	case q.Limit <= 0 && q.Since.IsZero():
		return s.Snapshot()
	case q.Since.IsZero():
		return s.Latest(q.Limit)
	case q.Limit <= 0:
		return s.Since(q.Since)
	default:
		return s.LatestSince(q.Limit, q.Since)
	}
}

// Events returns buffered events matching q, oldest first.
func (c *Controller) Events(q Query) []EventRecord {
	return selectRecords(c.stores.Load().events, q)
}

// Messages returns buffered messages matching q, oldest first.
func (c *Controller) Messages(q Query) []MessageRecord {
	return selectRecords(c.stores.Load().messages, q)
}

// Transitions returns buffered transitions matching q, oldest first.
func (c *Controller) Transitions(q Query) []TransitionRecord {
	return selectRecords(c.stores.Load().transitions, q)
}

// Entry is a record with its payload type erased, for transports that
// serve every category through one path.
type Entry struct {
	Category  Category
	Timestamp time.Time
	Payload   any
}

func entries[T any](cat Category, recs []buffer.Record[T]) []Entry {
	if len(recs) == 0 {
		return nil
	}
	out := make([]Entry, len(recs))
	for i, r := range recs {
		out[i] = Entry{Category: cat, Timestamp: r.Timestamp, Payload: r.Payload}
	}
	return out
}

// Query returns records of the given category matching q.
func (c *Controller) Query(cat Category, q Query) ([]Entry, error) {
	switch cat {
	case CategoryEvent:
		return entries(cat, c.Events(q)), nil
	case CategoryMessage:
		return entries(cat, c.Messages(q)), nil
	case CategoryTransition:
		return entries(cat, c.Transitions(q)), nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownCategory, int(cat))
}

// Stats is a point-in-time view of a controller's counters and buffers.
type Stats struct {
	Stream              string
	State               State
	Running             bool
	Listening           bool
	Status              Status
	EventsReceived      uint64
	MessagesReceived    uint64
	TransitionsReceived uint64
	Dropped             uint64
	EventBytes          uint64
	Mismatches          uint64
	EventsBuffered      int
	MessagesBuffered    int
	TransitionsBuffered int
	Capacity            int
}

// Stats returns the controller's current counters.
func (c *Controller) Stats() Stats {
	st := c.stores.Load()
	return Stats{
		Stream:              c.Name(),
		State:               c.State(),
		Running:             c.IsRunning(),
		Listening:           c.IsListening(),
		Status:              c.LastStatus(),
		EventsReceived:      c.eventsIn.Load(),
		MessagesReceived:    c.messagesIn.Load(),
		TransitionsReceived: c.transitionsIn.Load(),
		Dropped:             c.dropped.Load(),
		EventBytes:          c.eventBytes.Load(),
		Mismatches:          st.tracker.Mismatches(),
		EventsBuffered:      st.events.Len(),
		MessagesBuffered:    st.messages.Len(),
		TransitionsBuffered: st.transitions.Len(),
		Capacity:            st.events.Cap(),
	}
}
