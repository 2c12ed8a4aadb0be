package chatlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/JuulV/lekker-chat/telemetry"
)

// importWindow is the number of seconds of chat fetched per upstream request.
const importWindow = 30

// Import fetches chat replay messages for a log from the upstream
// replay API and stores them into chat_messages. It is best-effort and
// tolerant to missing fields: it walks the log duration in windows and,
// when the duration is unknown, stops after several consecutive empty
// windows.
func Import(ctx context.Context, dbx *sql.DB, logID string) error {
	base := os.Getenv("CHAT_REPLAY_API")
	if base == "" {
		return fmt.Errorf("CHAT_REPLAY_API not set")
	}
	return importFrom(ctx, dbx, logID, base)
}

func importFrom(ctx context.Context, dbx *sql.DB, logID, base string) error {
	var startedAt time.Time
	var durationSeconds int
	_ = dbx.QueryRowContext(ctx, `SELECT COALESCE(started_at, to_timestamp(0)), COALESCE(duration_seconds, 0) FROM chat_logs WHERE id=$1`, logID).Scan(&startedAt, &durationSeconds)
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	// make sure the log row exists so message inserts have a parent
	if _, err := dbx.ExecContext(ctx, `INSERT INTO chat_logs (id, started_at, duration_seconds, created_at) VALUES ($1,$2,$3,NOW()) ON CONFLICT (id) DO NOTHING`, logID, startedAt, durationSeconds); err != nil {
		return fmt.Errorf("ensure chat log row: %w", err)
	}

	stmt, err := dbx.PrepareContext(ctx, `INSERT INTO chat_messages (log_id, message_id, username, message, abs_timestamp, rel_timestamp, badges, emotes, color)
		VALUES ($1,$2,$3,$4,$5,$6,'','',$7) ON CONFLICT DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare insert chat: %w", err)
	}
	defer func() {
		if err := stmt.Close(); err != nil {
			slog.Warn("failed to close prepared statement", slog.Any("err", err))
		}
	}()

	maxOffset := durationSeconds
	if maxOffset <= 0 {
		maxOffset = 24 * 60 * 60 // cap at 24h when unknown
	}
	emptyStreak := 0
	seenIDs := make(map[string]struct{})

	logger := slog.Default().With(slog.String("component", "chat_import"), slog.String("log_id", logID))
	logger.Info("starting chat import")

	for offset := 0; offset <= maxOffset; offset += importWindow {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgs, nextOffset, err := fetchChunk(ctx, base, logID, offset)
		if err != nil {
			logger.Warn("fetch replay chunk failed", slog.Int("offset", offset), slog.Any("err", err))
			emptyStreak++
			if emptyStreak >= 3 {
				break
			}
			continue
		}
		if len(msgs) == 0 {
			emptyStreak++
			if emptyStreak >= 4 { // four empty windows in a row -> likely done
				break
			}
			continue
		}
		emptyStreak = 0

		for _, m := range msgs {
			if m.ID != "" {
				if _, ok := seenIDs[m.ID]; ok {
					continue
				}
				seenIDs[m.ID] = struct{}{}
			}
			abs := m.Abs
			if abs.IsZero() {
				abs = startedAt.Add(time.Duration(m.Rel * float64(time.Second)))
			}
			if _, err := stmt.ExecContext(ctx, logID, m.ID, m.User, m.Text, abs, m.Rel, m.Color); err != nil {
				// best effort; continue on individual failures
				logger.Debug("insert chat row failed", slog.Any("err", err))
				continue
			}
			telemetry.RecordMessageImported()
		}

		if nextOffset > offset {
			offset = nextOffset - importWindow // loop will +importWindow
		}
		// Be polite to the upstream
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(300 * time.Millisecond):
		}
	}
	logger.Info("chat import finished")
	return nil
}

// importedMessage is a minimal representation of an upstream replay message.
type importedMessage struct {
	ID    string
	User  string
	Text  string
	Color string
	Abs   time.Time
	Rel   float64
}

// fetchChunk queries the upstream replay API for one offset window.
func fetchChunk(ctx context.Context, base, logID string, offset int) ([]importedMessage, int, error) {
	u := fmt.Sprintf("%s?video_id=%s&offset=%d", base, url.QueryEscape(logID), offset)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	req.Header.Set("User-Agent", "lekker-chat/1.0 (+https://github.com/JuulV/lekker-chat)")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, offset, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != 200 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, offset, fmt.Errorf("replay api status %d: %s", resp.StatusCode, string(b))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, offset, err
	}
	return parseChunk(body, offset)
}

// parseChunk decodes one window of the upstream replay payload and
// hints the next offset to fetch.
func parseChunk(body []byte, offset int) ([]importedMessage, int, error) {
	var raw struct {
		Data []struct {
			Attributes struct {
				ID        string    `json:"id"`
				Timestamp time.Time `json:"timestamp"`
				Offset    float64   `json:"offset"`
				Message   struct {
					Body string `json:"body"`
					User struct {
						UserLogin   string `json:"userLogin"`
						DisplayName string `json:"displayName"`
					} `json:"user"`
					UserColor string `json:"userColor"`
				} `json:"message"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, offset, err
	}
	out := make([]importedMessage, 0, len(raw.Data))
	for _, d := range raw.Data {
		a := d.Attributes
		user := a.Message.User.DisplayName
		if user == "" {
			user = a.Message.User.UserLogin
		}
		out = append(out, importedMessage{
			ID:    a.ID,
			User:  user,
			Text:  a.Message.Body,
			Color: a.Message.UserColor,
			Abs:   a.Timestamp,
			Rel:   a.Offset,
		})
	}
	next := offset + importWindow
	if len(out) > 0 {
		last := out[len(out)-1]
		if last.Rel > 0 {
			next = int(last.Rel) + 1
		}
	}
	return out, next, nil
}
