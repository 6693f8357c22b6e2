// Package sequence detects gaps in producer-assigned serial numbers.
package sequence

import "sync"

// DefaultSlots is the number of per-id slots tracked when none is given.
const DefaultSlots = 10

// Result describes the outcome of a single Check.
type Result struct {
	Slot     int
	Expected int
	Actual   int
	Mismatch bool
}

// Tracker remembers the last serial seen per event-id slot and counts
// discontinuities. Ids at or above the last slot share it; negative ids
// share slot 0.
type Tracker struct {
	mu         sync.Mutex
	lastSeen   []int
	seenFirst  bool
	mismatches uint64
}

// New creates a Tracker with the given number of slots.
func New(slots int) *Tracker {
	if slots < 1 {
		slots = DefaultSlots
	}
	return &Tracker{lastSeen: make([]int, slots)}
}

// Slot returns the slot an event id is tracked under.
func (t *Tracker) Slot(id int) int {
	if id < 0 {
		return 0
	}
	if last := len(t.lastSeen) - 1; id > last {
		return last
	}
	return id
}

// Check compares serial against the last value seen for id's slot.
// The first call and any serial of 0 mark a resynchronisation point and
// are never reported. The stored value always moves to serial, so a
// single gap produces exactly one mismatch.
func (t *Tracker) Check(id, serial int) Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	slot := t.Slot(id)
	res := Result{
		Slot:     slot,
		Expected: t.lastSeen[slot] + 1,
		Actual:   serial,
	}

	if t.seenFirst && serial != 0 && serial != res.Expected {
		res.Mismatch = true
		t.mismatches++
	}

	t.lastSeen[slot] = serial
	t.seenFirst = true
	return res
}

// Mismatches returns the number of discontinuities observed so far.
func (t *Tracker) Mismatches() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mismatches
}

// LastSeen returns the last serial stored for id's slot.
func (t *Tracker) LastSeen(id int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSeen[t.Slot(id)]
}

// Slots returns the number of tracked slots.
func (t *Tracker) Slots() int {
	return len(t.lastSeen)
}
