package replay

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/JuulV/lekker-chat/telemetry"
)

// ErrNoLog is returned when StartSession is given nothing to replay.
var ErrNoLog = errors.New("replay: no event log")

// ErrNoMedia is returned when StartSession is given no media handle or
// sink to drive.
var ErrNoMedia = errors.New("replay: no media handle or sink")

// Engine owns at most one replay session. StartSession is idempotent
// for the same log/media pair and otherwise tears the prior session
// down first, so two sampling loops can never run at once.
type Engine struct {
	cfg Config

	mu   sync.Mutex
	sess *session
}

// NewEngine returns an idle engine with the given tuning. Zero fields
// in cfg fall back to DefaultConfig.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults()}
}

// StartSession binds the engine to one log and one media handle and
// begins sampling. ctx bounds the session's sampling loop; cancelling
// it is equivalent to StopSession.
//
// Media handles are compared by identity for the idempotence check, so
// callers should pass pointer-backed handles.
func (e *Engine) StartSession(ctx context.Context, log *EventLog, offset int, media MediaHandle, sink Sink) error {
	if log == nil || len(log.Events) == 0 {
		return ErrNoLog
	}
	if media == nil || sink == nil {
		return ErrNoMedia
	}

	e.mu.Lock()
	if s := e.sess; s != nil {
		if s.log.ID == log.ID && s.media == media {
			e.mu.Unlock()
			return nil
		}
		// Tear down under the lock: releasing it here would let a
		// concurrent StartSession install a session that the assignment
		// below silently orphans, leaving its sampling loop running.
		// stop never re-enters the engine, so holding e.mu is safe.
		s.stop()
		e.sess = nil
	}

	s := newSession(e.cfg, log, offset, media, sink, e.dropSession)
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	e.sess = s
	e.mu.Unlock()

	telemetry.RecordSessionStarted()
	telemetry.SetActiveSessions(1)
	slog.Info("replay session started",
		slog.String("log_id", log.ID),
		slog.Int("offset", offset),
		slog.Int("events", len(log.Events)))
	go s.run(runCtx)
	return nil
}

// UpdateOffset applies a runtime offset change to the tracking session.
// With no session tracking it is a no-op; stored configuration is the
// caller's concern.
func (e *Engine) UpdateOffset(offset int) {
	e.mu.Lock()
	s := e.sess
	e.mu.Unlock()
	if s == nil {
		return
	}
	slog.Info("replay offset updated", slog.String("log_id", s.log.ID), slog.Int("offset", offset))
	s.updateOffset(offset)
}

// StopSession tears the current session down, cancelling the sampling
// loop and every pending staggered reveal. Idle engines ignore it.
func (e *Engine) StopSession() {
	e.mu.Lock()
	s := e.sess
	e.sess = nil
	e.mu.Unlock()
	if s == nil {
		return
	}
	s.stop()
	telemetry.SetActiveSessions(0)
	slog.Info("replay session stopped", slog.String("log_id", s.log.ID))
}

// Tracking reports the log ID of the current session, if any.
func (e *Engine) Tracking() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return "", false
	}
	return e.sess.log.ID, true
}

// dropSession demotes the engine to idle when a session dies on its own
// (media handle lost). The session may call this from its sampling
// loop, so it must not re-enter session.stop while holding e.mu.
func (e *Engine) dropSession(s *session) {
	e.mu.Lock()
	if e.sess == s {
		e.sess = nil
	}
	e.mu.Unlock()
	s.stop()
	telemetry.SetActiveSessions(0)
}
