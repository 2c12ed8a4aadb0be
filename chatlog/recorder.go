package chatlog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/JuulV/lekker-chat/telemetry"
)

// StartRecorder records live chat for a channel into the given log,
// stamping each message with its offset from start so the log replays
// against the published VOD later. Blocks until ctx is cancelled.
func StartRecorder(ctx context.Context, dbx *sql.DB, logID string, start time.Time) {
	channel := os.Getenv("TWITCH_CHANNEL")
	username := os.Getenv("TWITCH_BOT_USERNAME")
	oauth := os.Getenv("TWITCH_OAUTH_TOKEN")
	if channel == "" || username == "" || oauth == "" {
		slog.Info("twitch creds not set; skipping chat recorder")
		return
	}

	if _, err := dbx.ExecContext(ctx, `INSERT INTO chat_logs (id, channel, started_at, created_at) VALUES ($1,$2,$3,NOW()) ON CONFLICT (id) DO NOTHING`, logID, channel, start.UTC()); err != nil {
		slog.Error("failed to ensure chat log row", slog.Any("err", err))
		return
	}

	client := twitch.NewClient(username, oauth)
	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		absTime := time.Now().UTC()
		relTime := absTime.Sub(start).Seconds()
		badges := ""
		for k, v := range msg.User.Badges {
			badges += k + ":" + fmt.Sprintf("%v", v) + ","
		}
		emotes := ""
		for _, e := range msg.Emotes {
			emotes += e.Name + ","
		}
		if _, err := dbx.Exec(`INSERT INTO chat_messages (log_id, message_id, username, message, abs_timestamp, rel_timestamp, badges, emotes, color)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) ON CONFLICT DO NOTHING`,
			logID, msg.ID, msg.User.Name, msg.Message, absTime, relTime, badges, emotes, msg.User.Color); err != nil {
			slog.Error("failed to insert chat message", slog.Any("err", err))
			return
		}
		telemetry.RecordMessageRecorded()
	})

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		client.Disconnect()
		close(done)
	}()

	client.Join(channel)
	slog.Info("chat recorder connected", slog.String("channel", channel), slog.String("log_id", logID))
	if err := client.Connect(); err != nil {
		slog.Error("twitch chat connect error", slog.Any("err", err))
	}
	<-done
}
