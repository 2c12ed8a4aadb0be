package server

import (
	"sync"

	"github.com/JuulV/lekker-chat/replay"
)

// reportedMedia is a replay.MediaHandle fed by client position reports.
// It starts paused so the watcher stays quiet until the player has
// reported at least once.
type reportedMedia struct {
	mu          sync.Mutex
	pos         float64
	paused      bool
	duration    float64
	hasDuration bool
	closed      bool
}

func newReportedMedia() *reportedMedia {
	return &reportedMedia{paused: true}
}

// report applies one client playback report.
func (m *reportedMedia) report(pos float64, paused bool, duration *float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pos = pos
	m.paused = paused
	if duration != nil && *duration > 0 {
		m.duration = *duration
		m.hasDuration = true
	}
}

// close marks the media gone; the next watcher sample tears the session down.
func (m *reportedMedia) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *reportedMedia) Position() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, replay.ErrMediaGone
	}
	return m.pos, nil
}

func (m *reportedMedia) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

func (m *reportedMedia) Duration() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duration, m.hasDuration
}
