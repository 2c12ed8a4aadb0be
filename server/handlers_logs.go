package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// HandleLogsDispatcher routes /logs/{id}/messages.
func (h *Handlers) HandleLogsDispatcher(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/logs/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] != "messages" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	h.handleLogMessages(w, r, parts[0])
}

// handleLogMessages returns chat messages for a log within an optional time range.
func (h *Handlers) handleLogMessages(w http.ResponseWriter, r *http.Request, logID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	// Params: from, to (seconds), limit (default 1000)
	from := parseFloat64Query(r, "from", 0)
	to := parseFloat64Query(r, "to", 0)
	limit := parseIntQuery(r, "limit", 1000)
	if limit <= 0 || limit > 5000 {
		limit = 1000
	}
	var rows *sql.Rows
	var err error
	if to > 0 {
		rows, err = h.db.QueryContext(r.Context(), `SELECT username, message, abs_timestamp, rel_timestamp, badges, emotes, color FROM chat_messages WHERE log_id=$1 AND rel_timestamp>=$2 AND rel_timestamp<=$3 ORDER BY rel_timestamp ASC LIMIT $4`, logID, from, to, limit)
	} else {
		rows, err = h.db.QueryContext(r.Context(), `SELECT username, message, abs_timestamp, rel_timestamp, badges, emotes, color FROM chat_messages WHERE log_id=$1 AND rel_timestamp>=$2 ORDER BY rel_timestamp ASC LIMIT $3`, logID, from, limit)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()
	type msg struct {
		Abs    time.Time `json:"abs_timestamp"`
		User   string    `json:"username"`
		Text   string    `json:"message"`
		Badges string    `json:"badges"`
		Emotes string    `json:"emotes"`
		Color  string    `json:"color"`
		Rel    float64   `json:"rel_timestamp"`
	}
	out := make([]msg, 0)
	for rows.Next() {
		var m msg
		if err := rows.Scan(&m.User, &m.Text, &m.Abs, &m.Rel, &m.Badges, &m.Emotes, &m.Color); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		out = append(out, m)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
