package server

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JuulV/lekker-chat/db"
	"github.com/JuulV/lekker-chat/replay"
	"github.com/JuulV/lekker-chat/testutil"
)

// generateRandomID generates a random hex string for unique test IDs
func generateRandomID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// flushableRecorder wraps httptest.ResponseRecorder to implement http.Flusher
type flushableRecorder struct {
	*httptest.ResponseRecorder
	mu      sync.Mutex
	flushed int
}

func newFlushableRecorder() *flushableRecorder {
	return &flushableRecorder{ResponseRecorder: httptest.NewRecorder()}
}

func (f *flushableRecorder) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushed++
}

type seedMessage struct {
	msgID    string
	username string
	text     string
	rel      float64
}

func seedChatLog(t *testing.T, database *sql.DB, logID string, messages []seedMessage) {
	t.Helper()
	base := time.Now().UTC()
	if _, err := database.Exec(`INSERT INTO chat_logs (id, channel, title, started_at) VALUES ($1, 'testchannel', 'seeded log', $2)`, logID, base); err != nil {
		t.Fatalf("insert chat log: %v", err)
	}
	for _, m := range messages {
		abs := base.Add(time.Duration(m.rel * float64(time.Second)))
		if _, err := database.Exec(`INSERT INTO chat_messages (log_id, message_id, username, message, abs_timestamp, rel_timestamp, badges, emotes, color)
			VALUES ($1, $2, $3, $4, $5, $6, '', '', '')`, logID, m.msgID, m.username, m.text, abs, m.rel); err != nil {
			t.Fatalf("insert chat message: %v", err)
		}
	}
}

func postJSON(t *testing.T, handler http.Handler, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func newTestMux(t *testing.T, database *sql.DB) (http.Handler, *replay.Engine) {
	t.Helper()
	engine := replay.NewEngine(replay.Config{SampleInterval: 10 * time.Millisecond})
	t.Cleanup(engine.StopSession)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewMux(ctx, database, engine), engine
}

// collectSSEFrames serves the stream endpoint until ctx expires, then
// decodes every data frame the handler wrote.
func collectSSEFrames(t *testing.T, handler http.Handler, sessionID string, wait time.Duration) []sseFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/sessions/"+sessionID+"/stream", nil).WithContext(ctx)
	w := newFlushableRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.ServeHTTP(w, req)
	}()
	select {
	case <-done:
	case <-time.After(wait + 2*time.Second):
		t.Fatal("stream handler did not return after context expiry")
	}

	var frames []sseFrame
	scanner := bufio.NewScanner(bytes.NewReader(w.Body.Bytes()))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var f sseFrame
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f); err != nil {
			t.Fatalf("bad SSE frame %q: %v", line, err)
		}
		frames = append(frames, f)
	}
	return frames
}

func TestSessionLifecycle(t *testing.T) {
	database := testutil.SetupTestDB(t)
	handler, _ := newTestMux(t, database)

	videoID := "vid-" + generateRandomID()
	seedChatLog(t, database, videoID, []seedMessage{
		{msgID: "m-1", username: "alice", text: "first", rel: 10.0},
		{msgID: "m-2", username: "bob", text: "second", rel: 10.5},
		{msgID: "m-3", username: "carol", text: "later", rel: 20.0},
	})

	// create with an explicit offset; zero is a real value, not "unset"
	w := postJSON(t, handler, "/sessions", `{"video_id":"`+videoID+`","offset":0}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status %d, body %s", w.Code, w.Body.String())
	}
	var created struct {
		SessionID string `json:"session_id"`
		LogID     string `json:"log_id"`
		Offset    int    `json:"offset"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.SessionID == "" || created.LogID != videoID || created.Offset != 0 {
		t.Fatalf("create response = %+v", created)
	}

	// creating again for the same video hands back the same session
	w = postJSON(t, handler, "/sessions", `{"video_id":"`+videoID+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("repeat create: status %d", w.Code)
	}
	var repeat struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &repeat); err != nil {
		t.Fatalf("decode repeat response: %v", err)
	}
	if repeat.SessionID != created.SessionID {
		t.Fatalf("repeat create made a new session: %s vs %s", repeat.SessionID, created.SessionID)
	}

	posPath := "/sessions/" + created.SessionID + "/position"
	if w := postJSON(t, handler, posPath, `{"position":9,"paused":false}`); w.Code != http.StatusNoContent {
		t.Fatalf("position report: status %d", w.Code)
	}
	time.Sleep(100 * time.Millisecond)
	if w := postJSON(t, handler, posPath, `{"position":10.2,"paused":false}`); w.Code != http.StatusNoContent {
		t.Fatalf("position report: status %d", w.Code)
	}
	// second 10 holds two messages; the second is staggered half a second in
	time.Sleep(1200 * time.Millisecond)

	frames := collectSSEFrames(t, handler, created.SessionID, 300*time.Millisecond)
	if len(frames) < 3 {
		t.Fatalf("got %d frames, want clear plus two messages: %+v", len(frames), frames)
	}
	if frames[0].Type != "clear" {
		t.Errorf("first frame = %+v, want clear", frames[0])
	}
	var messageIDs []string
	for _, f := range frames {
		if f.Type == "message" {
			messageIDs = append(messageIDs, f.ID)
		}
	}
	if len(messageIDs) != 2 || messageIDs[0] != "m-1" || messageIDs[1] != "m-2" {
		t.Fatalf("revealed messages = %v, want [m-1 m-2]", messageIDs)
	}
	for _, f := range frames {
		if f.Type != "message" || f.ID != "m-1" {
			continue
		}
		var payload struct {
			Username string `json:"username"`
		}
		if err := json.Unmarshal(f.Payload, &payload); err != nil || payload.Username != "alice" {
			t.Errorf("m-1 payload = %s (err %v)", f.Payload, err)
		}
	}

	// offset changes persist to settings
	req := httptest.NewRequest(http.MethodPatch, "/sessions/"+created.SessionID+"/offset", strings.NewReader(`{"offset":5}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("offset patch: status %d", rec.Code)
	}
	settings, err := db.GetSettings(context.Background(), database, videoID)
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if settings.Offset == nil || *settings.Offset != 5 {
		t.Fatalf("persisted offset = %v, want 5", settings.Offset)
	}

	// teardown
	req = httptest.NewRequest(http.MethodDelete, "/sessions/"+created.SessionID, nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d", rec.Code)
	}
	req = httptest.NewRequest(http.MethodGet, "/sessions", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: status %d", rec.Code)
	}
}

func TestSessionCreateUnknownLog(t *testing.T) {
	database := testutil.SetupTestDB(t)
	handler, _ := newTestMux(t, database)

	w := postJSON(t, handler, "/sessions", `{"video_id":"vid-missing-`+generateRandomID()+`"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", w.Code)
	}
}

func TestSessionCreateInvalidBody(t *testing.T) {
	database := testutil.SetupTestDB(t)
	handler, _ := newTestMux(t, database)

	if w := postJSON(t, handler, "/sessions", `{`); w.Code != http.StatusBadRequest {
		t.Errorf("malformed json: status %d", w.Code)
	}
	if w := postJSON(t, handler, "/sessions", `{"offset":0}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing video_id: status %d", w.Code)
	}
}

func TestSessionCreateSyncDisabled(t *testing.T) {
	database := testutil.SetupTestDB(t)
	handler, _ := newTestMux(t, database)

	videoID := "vid-" + generateRandomID()
	seedChatLog(t, database, videoID, []seedMessage{{msgID: "m-1", username: "alice", text: "hi", rel: 1}})
	settings := db.DefaultSettings()
	settings.SyncEnabled = false
	if err := db.SaveSettings(context.Background(), database, videoID, settings); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	w := postJSON(t, handler, "/sessions", `{"video_id":"`+videoID+`"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("status %d, want 409", w.Code)
	}
}

func TestPositionReportValidation(t *testing.T) {
	database := testutil.SetupTestDB(t)
	handler, _ := newTestMux(t, database)

	videoID := "vid-" + generateRandomID()
	seedChatLog(t, database, videoID, []seedMessage{{msgID: "m-1", username: "alice", text: "hi", rel: 1}})
	w := postJSON(t, handler, "/sessions", `{"video_id":"`+videoID+`","offset":0}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status %d", w.Code)
	}
	var created struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if w := postJSON(t, handler, "/sessions/"+created.SessionID+"/position", `{"position":-1}`); w.Code != http.StatusBadRequest {
		t.Errorf("negative position: status %d", w.Code)
	}
	if w := postJSON(t, handler, "/sessions/nope/position", `{"position":1}`); w.Code != http.StatusNotFound {
		t.Errorf("unknown session: status %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPatch, "/sessions/"+created.SessionID+"/offset", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("offset without value: status %d", rec.Code)
	}
}
