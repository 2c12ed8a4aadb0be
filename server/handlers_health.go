package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

var startedAt = time.Now()

// HandleHealthz responds to liveness probe requests by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests with per-dependency checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error { return h.db.PingContext(r.Context()) }},
		{"schema", func() error {
			var one int
			return h.db.QueryRowContext(r.Context(), `SELECT 1 FROM chat_logs LIMIT 1`).Scan(&one)
		}},
	}
	results := make(map[string]string, len(checks))
	ready := true
	for _, c := range checks {
		if err := c.fn(); err != nil {
			// an empty chat_logs table is still a present schema
			if c.name == "schema" && err.Error() == "sql: no rows in result set" {
				results[c.name] = "ok"
				continue
			}
			results[c.name] = fmt.Sprintf("error: %v", err)
			ready = false
			continue
		}
		results[c.name] = "ok"
	}
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ready": ready, "checks": results})
}

// HandleStatus reports service state: uptime, stored log counts, and
// the replay session currently tracking, if any.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	var logs, messages int64
	_ = h.db.QueryRowContext(r.Context(), `SELECT COUNT(*) FROM chat_logs`).Scan(&logs)
	_ = h.db.QueryRowContext(r.Context(), `SELECT COUNT(*) FROM chat_messages`).Scan(&messages)

	out := map[string]any{
		"uptime_seconds": int(time.Since(startedAt).Seconds()),
		"chat_logs":      logs,
		"chat_messages":  messages,
	}
	if logID, ok := h.engine.Tracking(); ok {
		out["tracking"] = true
		out["log_id"] = logID
		if s := h.current(); s != nil {
			out["session_id"] = s.id
			out["video_id"] = s.videoID
		}
	} else {
		out["tracking"] = false
	}
	writeJSON(w, http.StatusOK, out)
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
