package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/JuulV/lekker-chat/replay"
)

// FakeMedia is a scriptable replay.MediaHandle for tests.
type FakeMedia struct {
	mu       sync.Mutex
	pos      float64
	paused   bool
	duration float64
	hasDur   bool
	err      error
}

// NewFakeMedia returns a playing handle at position 0.
func NewFakeMedia() *FakeMedia { return &FakeMedia{} }

// Seek moves the playhead.
func (m *FakeMedia) Seek(pos float64) {
	m.mu.Lock()
	m.pos = pos
	m.mu.Unlock()
}

// SetPaused toggles the paused flag.
func (m *FakeMedia) SetPaused(p bool) {
	m.mu.Lock()
	m.paused = p
	m.mu.Unlock()
}

// SetDuration sets a known duration.
func (m *FakeMedia) SetDuration(d float64) {
	m.mu.Lock()
	m.duration, m.hasDur = d, true
	m.mu.Unlock()
}

// Fail makes Position return err from now on, simulating lost media.
func (m *FakeMedia) Fail(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *FakeMedia) Position() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos, m.err
}

func (m *FakeMedia) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

func (m *FakeMedia) Duration() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duration, m.hasDur
}

// RevealRecord is one sink call captured by RecordingSink.
type RevealRecord struct {
	Event  replay.Event
	Scroll bool
	At     time.Time
}

// RecordingSink is a replay.Sink that captures reveals and clears.
type RecordingSink struct {
	mu         sync.Mutex
	records    []RevealRecord
	clears     int
	nearBottom bool
	failNext   error
}

// NewRecordingSink returns a sink reporting NearBottom true.
func NewRecordingSink() *RecordingSink { return &RecordingSink{nearBottom: true} }

func (s *RecordingSink) Reveal(ev replay.Event, scroll bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	s.records = append(s.records, RevealRecord{Event: ev, Scroll: scroll, At: time.Now()})
	return nil
}

func (s *RecordingSink) Clear() {
	s.mu.Lock()
	s.clears++
	s.mu.Unlock()
}

func (s *RecordingSink) NearBottom() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nearBottom
}

// SetNearBottom scripts the scroll position.
func (s *RecordingSink) SetNearBottom(v bool) {
	s.mu.Lock()
	s.nearBottom = v
	s.mu.Unlock()
}

// FailNextReveal makes the next Reveal call return err.
func (s *RecordingSink) FailNextReveal(err error) {
	s.mu.Lock()
	s.failNext = err
	s.mu.Unlock()
}

// Records returns a copy of the captured reveals.
func (s *RecordingSink) Records() []RevealRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RevealRecord, len(s.records))
	copy(out, s.records)
	return out
}

// IDs returns the revealed event ids in order.
func (s *RecordingSink) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Event.ID)
	}
	return out
}

// Clears returns how many times the feed was reset.
func (s *RecordingSink) Clears() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clears
}

// MockReplayAPI creates a test server that mocks the upstream chat
// replay API the importer fetches from.
type MockReplayAPI struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockReplayAPI creates a new mock replay API server.
func NewMockReplayAPI(t *testing.T) *MockReplayAPI {
	t.Helper()
	m := &MockReplayAPI{Handlers: make(map[string]http.HandlerFunc)}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := m.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockChunks serves pre-built message windows keyed by offset.
func (m *MockReplayAPI) MockChunks(path string, chunks map[string]any) {
	m.Handlers[path] = func(w http.ResponseWriter, r *http.Request) {
		offset := r.URL.Query().Get("offset")
		w.Header().Set("Content-Type", "application/json")
		if body, ok := chunks[offset]; ok {
			_ = json.NewEncoder(w).Encode(body)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	}
}
