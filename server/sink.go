package server

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/JuulV/lekker-chat/replay"
)

// sinkBuffer is how many frames may queue between engine and SSE
// client. When the client falls this far behind, the oldest frames are
// dropped so the feed stays near live instead of drifting.
const sinkBuffer = 256

// sseFrame is one unit on the wire: a revealed message or a control
// event ("clear", "scroll" hints ride on the message itself).
type sseFrame struct {
	Type    string          `json:"type"` // message | clear
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Scroll  bool            `json:"scroll,omitempty"`
}

// sseSink is a replay.Sink that forwards reveals to an SSE client. It
// buffers frames so reveals are never lost to a slow connect, and it
// carries the client-reported near-bottom flag the engine consults for
// auto-scroll.
type sseSink struct {
	frames     chan sseFrame
	autoScroll bool // user setting; false pins the feed wherever the client left it

	mu         sync.Mutex
	nearBottom bool
	dropped    int
}

func newSSESink(autoScroll bool) *sseSink {
	return &sseSink{
		frames:     make(chan sseFrame, sinkBuffer),
		autoScroll: autoScroll,
		nearBottom: true,
	}
}

// Reveal implements replay.Sink.
func (s *sseSink) Reveal(ev replay.Event, scroll bool) error {
	s.push(sseFrame{Type: "message", ID: ev.ID, Payload: ev.Payload, Scroll: scroll})
	return nil
}

// Clear implements replay.Sink.
func (s *sseSink) Clear() {
	s.push(sseFrame{Type: "clear"})
}

// NearBottom implements replay.Sink.
func (s *sseSink) NearBottom() bool {
	if !s.autoScroll {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nearBottom
}

// setNearBottom records the client-reported scroll position.
func (s *sseSink) setNearBottom(v bool) {
	s.mu.Lock()
	s.nearBottom = v
	s.mu.Unlock()
}

// push enqueues a frame, discarding the oldest queued frame when full.
func (s *sseSink) push(f sseFrame) {
	for {
		select {
		case s.frames <- f:
			return
		default:
		}
		select {
		case <-s.frames:
			s.mu.Lock()
			s.dropped++
			n := s.dropped
			s.mu.Unlock()
			if n == 1 || n%100 == 0 {
				slog.Warn("sse sink backlog full; dropping oldest frames", slog.Int("dropped", n))
			}
		default:
		}
	}
}
