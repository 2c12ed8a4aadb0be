// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/JuulV/lekker-chat/replay"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db     *sql.DB
	ctx    context.Context
	engine *replay.Engine

	mu   sync.Mutex
	sess *activeSession
}

// activeSession is the server-side view of the one replay session the
// engine tracks: the reported media handle the watcher samples and the
// SSE sink reveals are streamed through.
type activeSession struct {
	id        string
	videoID   string
	logID     string
	offset    int
	media     *reportedMedia
	sink      *sseSink
	createdAt time.Time
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, db *sql.DB, engine *replay.Engine) *Handlers {
	return &Handlers{db: db, ctx: ctx, engine: engine}
}

// current returns the active session, or nil.
func (h *Handlers) current() *activeSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sess
}

// lookup returns the active session only if its id matches.
func (h *Handlers) lookup(id string) *activeSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sess == nil || h.sess.id != id {
		return nil
	}
	return h.sess
}
