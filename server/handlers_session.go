package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JuulV/lekker-chat/chatlog"
	"github.com/JuulV/lekker-chat/db"
	"github.com/JuulV/lekker-chat/replay"
)

// HandleSessions handles the /sessions collection: POST creates (or
// returns) the replay session for a video, GET describes the current one.
func (h *Handlers) HandleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleSessionCreate(w, r)
	case http.MethodGet:
		s := h.current()
		if s == nil {
			http.Error(w, "no active session", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, sessionInfo(s))
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleSessionDispatcher routes /sessions/{id} and its subresources.
func (h *Handlers) HandleSessionDispatcher(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/sessions/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if id == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}
	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}

	switch {
	case sub == "" && r.Method == http.MethodDelete:
		h.handleSessionDelete(w, r, id)
	case sub == "" && r.Method == http.MethodGet:
		s := h.lookup(id)
		if s == nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, sessionInfo(s))
	case sub == "stream":
		h.handleSessionStream(w, r, id)
	case sub == "position":
		h.handleSessionPosition(w, r, id)
	case sub == "offset":
		h.handleSessionOffset(w, r, id)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

type createSessionRequest struct {
	VideoID  string   `json:"video_id"`
	Offset   *int     `json:"offset"`
	Duration *float64 `json:"duration"`
}

func (h *Handlers) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.VideoID == "" {
		http.Error(w, "invalid body: video_id required", http.StatusBadRequest)
		return
	}

	// Same video already tracking: idempotent, hand back the session.
	if s := h.current(); s != nil && s.videoID == req.VideoID {
		writeJSON(w, http.StatusOK, sessionInfo(s))
		return
	}

	logID, err := chatlog.ResolveLogID(r.Context(), h.db, req.VideoID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	settings, err := db.GetSettings(r.Context(), h.db, req.VideoID)
	if err != nil {
		// unavailable settings store falls back to defaults
		slog.Warn("settings load failed; using defaults", slog.Any("err", err))
		settings = db.DefaultSettings()
	}
	if !settings.SyncEnabled {
		http.Error(w, "chat sync disabled for this video", http.StatusConflict)
		return
	}

	log, _, err := chatlog.Load(r.Context(), h.db, logID)
	if err != nil {
		if errors.Is(err, chatlog.ErrLogNotFound) {
			http.Error(w, fmt.Sprintf("no chat log for video %s", req.VideoID), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	explicit := req.Offset
	if explicit == nil {
		explicit = settings.Offset
	}
	var duration float64
	if req.Duration != nil {
		duration = *req.Duration
	}
	offset := replay.ResolveOffset(explicit, duration, log.LastTimestamp())
	if explicit == nil {
		// persist the heuristic so the guess is stable across sessions
		settings.Offset = &offset
		if err := db.SaveSettings(r.Context(), h.db, req.VideoID, settings); err != nil {
			slog.Warn("failed to persist resolved offset", slog.Any("err", err))
		}
	}

	media := newReportedMedia()
	if req.Duration != nil {
		media.report(0, true, req.Duration)
	}
	sink := newSSESink(settings.AutoScroll)

	if err := h.engine.StartSession(h.ctx, log, offset, media, sink); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	s := &activeSession{
		id:        uuid.New().String(),
		videoID:   req.VideoID,
		logID:     logID,
		offset:    offset,
		media:     media,
		sink:      sink,
		createdAt: time.Now().UTC(),
	}
	h.mu.Lock()
	prev := h.sess
	h.sess = s
	h.mu.Unlock()
	if prev != nil {
		prev.media.close()
	}

	writeJSON(w, http.StatusCreated, sessionInfo(s))
}

func (h *Handlers) handleSessionDelete(w http.ResponseWriter, r *http.Request, id string) {
	s := h.lookup(id)
	if s == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	h.engine.StopSession()
	h.mu.Lock()
	if h.sess == s {
		h.sess = nil
	}
	h.mu.Unlock()
	s.media.close()
	w.WriteHeader(http.StatusNoContent)
}

type positionReport struct {
	Position   float64  `json:"position"`
	Paused     bool     `json:"paused"`
	Duration   *float64 `json:"duration"`
	NearBottom *bool    `json:"near_bottom"`
}

func (h *Handlers) handleSessionPosition(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s := h.lookup(id)
	if s == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	var rep positionReport
	if err := json.NewDecoder(r.Body).Decode(&rep); err != nil || rep.Position < 0 {
		http.Error(w, "invalid position report", http.StatusBadRequest)
		return
	}
	s.media.report(rep.Position, rep.Paused, rep.Duration)
	if rep.NearBottom != nil {
		s.sink.setNearBottom(*rep.NearBottom)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) handleSessionOffset(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPatch {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s := h.lookup(id)
	if s == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	var body struct {
		Offset *int `json:"offset"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Offset == nil {
		http.Error(w, "invalid body: offset required", http.StatusBadRequest)
		return
	}
	h.engine.UpdateOffset(*body.Offset)
	h.mu.Lock()
	s.offset = *body.Offset
	h.mu.Unlock()

	settings, err := db.GetSettings(r.Context(), h.db, s.videoID)
	if err == nil {
		settings.Offset = body.Offset
		if err := db.SaveSettings(r.Context(), h.db, s.videoID, settings); err != nil {
			slog.Warn("failed to persist offset", slog.Any("err", err))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSessionStream replays reveals to the client as Server-Sent Events.
func (h *Handlers) handleSessionStream(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	s := h.lookup(id)
	if s == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	ctx := r.Context()
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()
	enc := json.NewEncoder(w)
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case frame := <-s.sink.frames:
			if _, err := w.Write([]byte("data: ")); err != nil {
				slog.Warn("failed to write SSE data prefix", slog.Any("err", err))
				return
			}
			if err := enc.Encode(frame); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func sessionInfo(s *activeSession) map[string]any {
	return map[string]any{
		"session_id": s.id,
		"video_id":   s.videoID,
		"log_id":     s.logID,
		"offset":     s.offset,
		"created_at": s.createdAt,
	}
}
