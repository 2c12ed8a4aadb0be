package chatlog

import (
	"context"
	"testing"
)

func TestParseChunk(t *testing.T) {
	body := []byte(`{
		"data": [
			{"attributes": {
				"id": "msg-1",
				"timestamp": "2024-05-01T12:00:05Z",
				"offset": 5.2,
				"message": {"body": "hello", "user": {"userLogin": "alice", "displayName": "Alice"}, "userColor": "#ff0000"}
			}},
			{"attributes": {
				"id": "msg-2",
				"offset": 9.0,
				"message": {"body": "no display name", "user": {"userLogin": "bob"}}
			}}
		]
	}`)

	msgs, next, err := parseChunk(body, 0)
	if err != nil {
		t.Fatalf("parseChunk: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].ID != "msg-1" || msgs[0].User != "Alice" || msgs[0].Text != "hello" || msgs[0].Color != "#ff0000" || msgs[0].Rel != 5.2 {
		t.Errorf("message 0 = %+v", msgs[0])
	}
	if msgs[0].Abs.IsZero() {
		t.Error("message 0 should carry the upstream timestamp")
	}
	if msgs[1].User != "bob" {
		t.Errorf("missing displayName should fall back to login, got %q", msgs[1].User)
	}
	// next offset advances past the last message, not by a fixed window
	if next != 10 {
		t.Errorf("next offset = %d, want 10", next)
	}
}

func TestParseChunkEmpty(t *testing.T) {
	msgs, next, err := parseChunk([]byte(`{"data": []}`), 60)
	if err != nil {
		t.Fatalf("parseChunk: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("got %d messages, want 0", len(msgs))
	}
	if next != 60+importWindow {
		t.Errorf("next offset = %d, want %d", next, 60+importWindow)
	}
}

func TestParseChunkMalformed(t *testing.T) {
	if _, _, err := parseChunk([]byte(`{"data": `), 0); err == nil {
		t.Fatal("expected error on truncated body")
	}
}

func TestImportRequiresUpstream(t *testing.T) {
	t.Setenv("CHAT_REPLAY_API", "")
	if err := Import(context.Background(), nil, "some-log"); err == nil {
		t.Fatal("expected error without CHAT_REPLAY_API")
	}
}
