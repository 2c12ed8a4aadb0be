package replay

import (
	"encoding/json"
	"math"
	"sort"
	"sync"
)

// Event is one immutable entry of a chat log. The engine only looks at
// ID and Timestamp; Payload is carried through to the Sink untouched.
type Event struct {
	ID        string
	Timestamp float64 // seconds relative to the log's own origin
	Payload   json.RawMessage
}

// EventLog is a finite sequence of events sorted ascending by
// timestamp, loaded once and never mutated afterwards.
type EventLog struct {
	ID     string
	Events []Event
}

// NewEventLog builds a log from events, sorting them by timestamp in
// case the source delivered them out of order.
func NewEventLog(id string, events []Event) *EventLog {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp < events[j].Timestamp
	})
	return &EventLog{ID: id, Events: events}
}

// LastTimestamp returns the raw timestamp of the final event, or 0 for
// an empty log.
func (l *EventLog) LastTimestamp() float64 {
	if len(l.Events) == 0 {
		return 0
	}
	return l.Events[len(l.Events)-1].Timestamp
}

// Index answers point and range queries over a log in whole-second
// space. The offset is supplied per query, never cached, so the same
// index serves a session across offset changes.
type Index struct {
	events  []Event
	seconds []int // floor of each event's raw timestamp, ascending
}

// NewIndex builds an index over the log's events.
func NewIndex(log *EventLog) *Index {
	secs := make([]int, len(log.Events))
	for i, ev := range log.Events {
		secs[i] = int(math.Floor(ev.Timestamp))
	}
	return &Index{events: log.Events, seconds: secs}
}

// RangeEqual returns, in log order, the events whose adjusted timestamp
// equals second, excluding anything already in revealed.
func (ix *Index) RangeEqual(second, offset int, revealed *RevealedSet) []Event {
	return ix.RangeBetween(second, second, offset, revealed)
}

// RangeBetween returns, in log order, the events whose adjusted
// timestamp falls in [from, to], excluding anything already in revealed.
func (ix *Index) RangeBetween(from, to, offset int, revealed *RevealedSet) []Event {
	rawFrom := from - offset
	rawTo := to - offset
	lo := sort.SearchInts(ix.seconds, rawFrom)
	var out []Event
	for i := lo; i < len(ix.seconds) && ix.seconds[i] <= rawTo; i++ {
		if revealed != nil && revealed.Contains(ix.events[i].ID) {
			continue
		}
		out = append(out, ix.events[i])
	}
	return out
}

// FindLastBefore returns the index of the last event whose adjusted
// timestamp is strictly less than second, or false when none exists.
func (ix *Index) FindLastBefore(second, offset int) (int, bool) {
	// first index with floor(raw) >= second-offset, then step back
	i := sort.SearchInts(ix.seconds, second-offset)
	if i == 0 {
		return 0, false
	}
	return i - 1, true
}

// ContextBefore returns up to n of the most recent events whose
// adjusted timestamp is strictly before second, in log order, excluding
// anything already in revealed.
func (ix *Index) ContextBefore(second, offset, n int, revealed *RevealedSet) []Event {
	last, ok := ix.FindLastBefore(second, offset)
	if !ok || n <= 0 {
		return nil
	}
	out := make([]Event, 0, n)
	for i := last; i >= 0 && len(out) < n; i-- {
		if revealed != nil && revealed.Contains(ix.events[i].ID) {
			continue
		}
		out = append(out, ix.events[i])
	}
	// collected newest-first; flip back to log order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// RevealedSet tracks event identities already shown in the current
// session. Marking happens when a reveal is scheduled, not when it
// fires, so overlapping stagger windows cannot schedule the same event
// twice.
type RevealedSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewRevealedSet returns an empty set.
func NewRevealedSet() *RevealedSet {
	return &RevealedSet{ids: make(map[string]struct{})}
}

// MarkIfNew records id and reports whether it was absent. The check and
// the mark are atomic.
func (s *RevealedSet) MarkIfNew(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// Contains reports whether id has been marked.
func (s *RevealedSet) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// Clear empties the set.
func (s *RevealedSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = make(map[string]struct{})
}

// Len returns the number of marked identities.
func (s *RevealedSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
