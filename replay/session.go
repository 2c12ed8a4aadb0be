package replay

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/JuulV/lekker-chat/telemetry"
)

// ErrMediaGone is returned by a MediaHandle whose underlying media no
// longer exists. The session treats it as a teardown signal.
var ErrMediaGone = errors.New("replay: media handle gone")

// MediaHandle exposes the playback state the session follows. Position
// reports the current playback time in seconds; it returns ErrMediaGone
// (or any other error) when the media has disappeared.
type MediaHandle interface {
	Position() (float64, error)
	Paused() bool
	Duration() (float64, bool)
}

// Sink turns one event into a displayed unit. Reveal may fail; a
// failure skips that event only. scroll asks the sink to keep the feed
// pinned to the newest entry, decided from NearBottom at reveal time.
// Clear resets the displayed feed after a large jump or offset change.
type Sink interface {
	Reveal(ev Event, scroll bool) error
	Clear()
	NearBottom() bool
}

// Config carries the session tuning knobs. The jump thresholds come
// from observed chat behavior and are deliberately kept as plain
// numbers rather than derived.
type Config struct {
	// SampleInterval is the playback sampling cadence.
	SampleInterval time.Duration
	// SmallJumpMax is the largest position gap, in seconds, still
	// backfilled in place; anything bigger resets the feed.
	SmallJumpMax int
	// ContextEvents is how many events are replayed as context after a
	// large jump.
	ContextEvents int
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		SampleInterval: 100 * time.Millisecond,
		SmallJumpMax:   15,
		ContextEvents:  25,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SampleInterval <= 0 {
		c.SampleInterval = d.SampleInterval
	}
	if c.SmallJumpMax <= 0 {
		c.SmallJumpMax = d.SmallJumpMax
	}
	if c.ContextEvents <= 0 {
		c.ContextEvents = d.ContextEvents
	}
	return c
}

// unsetSecond marks a previous position that has never been sampled.
const unsetSecond = math.MinInt

type session struct {
	cfg      Config
	log      *EventLog
	index    *Index
	media    MediaHandle
	sink     Sink
	revealed *RevealedSet
	onDead   func(*session)
	logger   *slog.Logger

	mu        sync.Mutex
	alive     bool
	offset    int
	prev      int
	pending   map[uint64]*time.Timer
	nextTimer uint64

	cancel context.CancelFunc
	done   chan struct{}
}

func newSession(cfg Config, log *EventLog, offset int, media MediaHandle, sink Sink, onDead func(*session)) *session {
	return &session{
		cfg:      cfg.withDefaults(),
		log:      log,
		index:    NewIndex(log),
		media:    media,
		sink:     sink,
		revealed: NewRevealedSet(),
		onDead:   onDead,
		logger:   slog.Default().With(slog.String("component", "replay"), slog.String("log_id", log.ID)),
		alive:    true,
		offset:   offset,
		prev:     unsetSecond,
		pending:  make(map[uint64]*time.Timer),
		done:     make(chan struct{}),
	}
}

// run is the sampling loop. One loop per session; starting a second one
// for the same session would double every reveal.
func (s *session) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

// sample takes one playback reading and dispatches at most one
// classified transition.
func (s *session) sample() {
	pos, err := s.media.Position()
	if err != nil {
		s.logger.Warn("media handle lost; stopping session", slog.Any("err", err))
		s.die()
		return
	}
	if s.media.Paused() {
		// No transition while paused: prev stays put so resuming at the
		// same spot is a no-op tick, not a jump.
		return
	}
	cur := int(math.Floor(pos))

	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return
	}
	prev := s.prev
	// prev advances before any reveal runs so a failing reveal can
	// never replay the same transition.
	s.prev = cur
	offset := s.offset
	s.mu.Unlock()

	gap := cur - prev
	if gap < 0 {
		gap = -gap
	}
	switch {
	case prev == unsetSecond:
		// first sample of a session or post-offset resync
		s.largeJump(cur, offset)
	case cur == prev:
		// no-op tick
	case cur == prev+1:
		s.forwardTick(cur, offset)
	case gap <= s.cfg.SmallJumpMax:
		s.smallJump(prev, cur, offset)
	default:
		s.largeJump(cur, offset)
	}
}

// forwardTick reveals the current second's events, staggered so the
// i-th of n fires i/n of a second in. Order follows the log because the
// delays are strictly increasing.
func (s *session) forwardTick(cur, offset int) {
	batch := s.index.RangeEqual(cur, offset, s.revealed)
	n := len(batch)
	for i, ev := range batch {
		if !s.revealed.MarkIfNew(ev.ID) {
			continue
		}
		delay := time.Second * time.Duration(i) / time.Duration(n)
		if delay <= 0 {
			s.reveal(ev)
			continue
		}
		s.schedule(ev, delay)
	}
}

// smallJump backfills the window the forward-tick path skipped, in one
// immediate batch. A forward jump starts at prev+1: prev's second was
// already handled by the tick that landed on it. A backward jump keeps
// both bounds inclusive and relies on the revealed set to skip what the
// viewer already saw.
func (s *session) smallJump(prev, cur, offset int) {
	lo, hi := prev+1, cur
	if cur < prev {
		lo, hi = cur, prev
	}
	batch := s.index.RangeBetween(lo, hi, offset, s.revealed)
	telemetry.RecordJump("small")
	telemetry.ObserveBackfill(len(batch))
	for _, ev := range batch {
		if !s.revealed.MarkIfNew(ev.ID) {
			continue
		}
		s.reveal(ev)
	}
}

// largeJump is a context switch: the feed resets and up to
// cfg.ContextEvents events from just before the new position are
// replayed so the viewer lands mid-conversation instead of in a void,
// then the current second runs as a normal forward tick.
func (s *session) largeJump(cur, offset int) {
	s.cancelPending()
	s.revealed.Clear()
	s.sink.Clear()
	telemetry.RecordJump("large")
	ctxBatch := s.index.ContextBefore(cur, offset, s.cfg.ContextEvents, s.revealed)
	telemetry.ObserveBackfill(len(ctxBatch))
	for _, ev := range ctxBatch {
		if !s.revealed.MarkIfNew(ev.ID) {
			continue
		}
		s.reveal(ev)
	}
	s.forwardTick(cur, offset)
}

// updateOffset applies a runtime offset change: everything revealed so
// far is stale under the new alignment, so the session resets and
// resyncs against the current position as if it had just jumped there.
func (s *session) updateOffset(offset int) {
	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return
	}
	s.offset = offset
	s.prev = unsetSecond
	s.mu.Unlock()
	s.resync()
}

// resync re-reads the current position and replays the large-jump path
// under the current offset. Runs even while paused: the feed must match
// the new alignment immediately, not on the next unpaused tick.
func (s *session) resync() {
	pos, err := s.media.Position()
	if err != nil {
		s.logger.Warn("media handle lost during resync", slog.Any("err", err))
		s.die()
		return
	}
	cur := int(math.Floor(pos))
	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return
	}
	s.prev = cur
	offset := s.offset
	s.mu.Unlock()
	s.largeJump(cur, offset)
}

// schedule queues a staggered reveal owned by the session. The timer is
// dropped from the pending set when it fires and checks liveness first,
// so timers cannot outlive a teardown.
func (s *session) schedule(ev Event, delay time.Duration) {
	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return
	}
	id := s.nextTimer
	s.nextTimer++
	s.pending[id] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if !s.alive {
			s.mu.Unlock()
			return
		}
		delete(s.pending, id)
		telemetry.SetPendingReveals(len(s.pending))
		s.mu.Unlock()
		s.reveal(ev)
	})
	telemetry.SetPendingReveals(len(s.pending))
	s.mu.Unlock()
}

// reveal hands one event to the sink. Sink failures are logged and
// skipped; they never abort the rest of a batch.
func (s *session) reveal(ev Event) {
	s.mu.Lock()
	alive := s.alive
	s.mu.Unlock()
	if !alive {
		return
	}
	scroll := s.sink.NearBottom()
	if err := s.sink.Reveal(ev, scroll); err != nil {
		s.logger.Warn("reveal failed; skipping event", slog.String("event_id", ev.ID), slog.Any("err", err))
		telemetry.RecordRevealError()
		return
	}
	telemetry.RecordReveal()
}

func (s *session) cancelPending() {
	s.mu.Lock()
	for id, t := range s.pending {
		t.Stop()
		delete(s.pending, id)
	}
	telemetry.SetPendingReveals(0)
	s.mu.Unlock()
}

// stop tears the session down: no further samples, reveals, or timer
// fires. Safe to call more than once and from within the sampling loop.
func (s *session) stop() {
	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return
	}
	s.alive = false
	for id, t := range s.pending {
		t.Stop()
		delete(s.pending, id)
	}
	telemetry.SetPendingReveals(0)
	s.mu.Unlock()
	s.revealed.Clear()
	if s.cancel != nil {
		s.cancel()
	}
}

// die is the resource-error path: the media vanished mid-session. The
// owner demotes the engine to idle; a fresh StartSession recovers.
func (s *session) die() {
	if s.onDead != nil {
		s.onDead(s)
	} else {
		s.stop()
	}
}
