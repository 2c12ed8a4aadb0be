package chatlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JuulV/lekker-chat/replay"
	"github.com/JuulV/lekker-chat/telemetry"
)

// ErrLogNotFound is returned by Load when no chat log exists for the
// given id. The caller must not start a replay session in that case.
var ErrLogNotFound = errors.New("chatlog: log not found")

// Message is the payload carried inside each replay event. The engine
// treats it as opaque bytes; sinks decode it for display.
type Message struct {
	Username string  `json:"username"`
	Text     string  `json:"message"`
	Badges   string  `json:"badges"`
	Emotes   string  `json:"emotes"`
	Color    string  `json:"color"`
	Rel      float64 `json:"rel_timestamp"`
}

// AuthorAttributes are the display attributes derived per author.
type AuthorAttributes struct {
	Color  string `json:"color"`
	Badges string `json:"badges"`
}

// Attributes maps author names to their display attributes, built from
// the last message seen per author.
type Attributes map[string]AuthorAttributes

// Load reads the chat log with the given id into an EventLog plus the
// author attribute map. Returns ErrLogNotFound when the log has neither
// a metadata row nor messages.
func Load(ctx context.Context, dbx *sql.DB, logID string) (*replay.EventLog, Attributes, error) {
	start := time.Now()

	rows, err := dbx.QueryContext(ctx, `SELECT id, message_id, username, message, rel_timestamp, badges, emotes, color
		FROM chat_messages WHERE log_id=$1 ORDER BY rel_timestamp ASC, id ASC`, logID)
	if err != nil {
		return nil, nil, fmt.Errorf("query chat log %s: %w", logID, err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()

	var events []replay.Event
	attrs := make(Attributes)
	for rows.Next() {
		var (
			rowID int64
			msgID string
			m     Message
		)
		if err := rows.Scan(&rowID, &msgID, &m.Username, &m.Text, &m.Rel, &m.Badges, &m.Emotes, &m.Color); err != nil {
			return nil, nil, fmt.Errorf("scan chat message: %w", err)
		}
		payload, err := json.Marshal(m)
		if err != nil {
			return nil, nil, fmt.Errorf("encode chat message: %w", err)
		}
		id := msgID
		if id == "" {
			id = fmt.Sprintf("row-%d", rowID)
		}
		events = append(events, replay.Event{ID: id, Timestamp: m.Rel, Payload: payload})
		attrs[m.Username] = AuthorAttributes{Color: m.Color, Badges: m.Badges}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate chat log %s: %w", logID, err)
	}

	if len(events) == 0 {
		var one int
		err := dbx.QueryRowContext(ctx, `SELECT 1 FROM chat_logs WHERE id=$1`, logID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrLogNotFound
		}
		if err != nil {
			return nil, nil, fmt.Errorf("lookup chat log %s: %w", logID, err)
		}
		// metadata row without messages: an empty but known log
	}

	if telemetry.LogLoadDuration != nil {
		telemetry.LogLoadDuration.Observe(time.Since(start).Seconds())
	}
	return replay.NewEventLog(logID, events), attrs, nil
}

// ResolveLogID maps an external video id to its chat log id through the
// log_links table. Unmapped videos resolve to their own id, which is
// the common case when recorder and player share identifiers.
func ResolveLogID(ctx context.Context, dbx *sql.DB, videoID string) (string, error) {
	var logID string
	err := dbx.QueryRowContext(ctx, `SELECT log_id FROM log_links WHERE video_id=$1`, videoID).Scan(&logID)
	if errors.Is(err, sql.ErrNoRows) {
		return videoID, nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve log id for %s: %w", videoID, err)
	}
	return logID, nil
}

// LinkLog records that videoID replays against logID.
func LinkLog(ctx context.Context, dbx *sql.DB, videoID, logID string) error {
	_, err := dbx.ExecContext(ctx, `INSERT INTO log_links(video_id, log_id, updated_at) VALUES($1,$2,NOW())
		ON CONFLICT(video_id) DO UPDATE SET log_id=EXCLUDED.log_id, updated_at=NOW()`, videoID, logID)
	if err != nil {
		return fmt.Errorf("link log %s -> %s: %w", videoID, logID, err)
	}
	return nil
}
