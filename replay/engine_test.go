package replay_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/JuulV/lekker-chat/replay"
	"github.com/JuulV/lekker-chat/testutil"
)

func fastConfig() replay.Config {
	return replay.Config{SampleInterval: 10 * time.Millisecond}
}

func engineLog(id string, timestamps ...float64) *replay.EventLog {
	events := make([]replay.Event, len(timestamps))
	for i, ts := range timestamps {
		events[i] = replay.Event{ID: fmt.Sprintf("%s-%d", id, i), Timestamp: ts}
	}
	return replay.NewEventLog(id, events)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestStartSessionValidation(t *testing.T) {
	eng := replay.NewEngine(fastConfig())
	media := testutil.NewFakeMedia()
	sink := testutil.NewRecordingSink()
	log := engineLog("log-a", 10)

	if err := eng.StartSession(context.Background(), nil, 0, media, sink); !errors.Is(err, replay.ErrNoLog) {
		t.Errorf("nil log: got %v, want ErrNoLog", err)
	}
	empty := replay.NewEventLog("empty", nil)
	if err := eng.StartSession(context.Background(), empty, 0, media, sink); !errors.Is(err, replay.ErrNoLog) {
		t.Errorf("empty log: got %v, want ErrNoLog", err)
	}
	if err := eng.StartSession(context.Background(), log, 0, nil, sink); !errors.Is(err, replay.ErrNoMedia) {
		t.Errorf("nil media: got %v, want ErrNoMedia", err)
	}
	if err := eng.StartSession(context.Background(), log, 0, media, nil); !errors.Is(err, replay.ErrNoMedia) {
		t.Errorf("nil sink: got %v, want ErrNoMedia", err)
	}
	if _, ok := eng.Tracking(); ok {
		t.Error("engine should stay idle after rejected starts")
	}
}

func TestStartSessionIdempotentForSamePair(t *testing.T) {
	eng := replay.NewEngine(fastConfig())
	defer eng.StopSession()
	media := testutil.NewFakeMedia()
	sink := testutil.NewRecordingSink()
	log := engineLog("log-a", 10, 20)

	if err := eng.StartSession(context.Background(), log, 0, media, sink); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := eng.StartSession(context.Background(), log, 0, media, sink); err != nil {
		t.Fatalf("repeat start: %v", err)
	}
	id, ok := eng.Tracking()
	if !ok || id != "log-a" {
		t.Fatalf("tracking = %q, %v", id, ok)
	}
}

func TestStartSessionReplacesPriorSession(t *testing.T) {
	eng := replay.NewEngine(fastConfig())
	defer eng.StopSession()

	oldMedia := testutil.NewFakeMedia()
	oldSink := testutil.NewRecordingSink()
	if err := eng.StartSession(context.Background(), engineLog("log-old", 10), 0, oldMedia, oldSink); err != nil {
		t.Fatalf("start old: %v", err)
	}

	newMedia := testutil.NewFakeMedia()
	newSink := testutil.NewRecordingSink()
	if err := eng.StartSession(context.Background(), engineLog("log-new", 5), 0, newMedia, newSink); err != nil {
		t.Fatalf("start new: %v", err)
	}
	id, ok := eng.Tracking()
	if !ok || id != "log-new" {
		t.Fatalf("tracking = %q, %v", id, ok)
	}

	// the old session is fully dead: playing its media reveals nothing
	oldBefore := len(oldSink.IDs())
	oldMedia.Seek(10.5)
	time.Sleep(100 * time.Millisecond)
	if got := len(oldSink.IDs()); got != oldBefore {
		t.Fatalf("stopped session still revealing: %d -> %d", oldBefore, got)
	}

	newMedia.Seek(5.2)
	waitFor(t, time.Second, func() bool { return len(newSink.IDs()) == 1 }, "new session never revealed")
}

func TestStopSessionFreezesReveals(t *testing.T) {
	eng := replay.NewEngine(fastConfig())
	media := testutil.NewFakeMedia()
	sink := testutil.NewRecordingSink()
	// one dense second so reveals stay staggered across most of a second
	log := engineLog("log-a", 10.0, 10.2, 10.4, 10.6, 10.8)

	if err := eng.StartSession(context.Background(), log, 0, media, sink); err != nil {
		t.Fatalf("start: %v", err)
	}
	media.Seek(9.0)
	time.Sleep(50 * time.Millisecond)
	media.Seek(10.1)
	waitFor(t, time.Second, func() bool { return len(sink.IDs()) >= 1 }, "first reveal never fired")

	eng.StopSession()
	frozen := len(sink.IDs())
	time.Sleep(900 * time.Millisecond)
	if got := len(sink.IDs()); got != frozen {
		t.Fatalf("reveals after StopSession: %d -> %d", frozen, got)
	}
	if _, ok := eng.Tracking(); ok {
		t.Error("engine still tracking after StopSession")
	}
}

func TestContextCancelStopsSampling(t *testing.T) {
	eng := replay.NewEngine(fastConfig())
	defer eng.StopSession()
	media := testutil.NewFakeMedia()
	sink := testutil.NewRecordingSink()

	ctx, cancel := context.WithCancel(context.Background())
	if err := eng.StartSession(ctx, engineLog("log-a", 10), 0, media, sink); err != nil {
		t.Fatalf("start: %v", err)
	}
	cancel()
	time.Sleep(50 * time.Millisecond)

	media.Seek(10.5)
	time.Sleep(100 * time.Millisecond)
	if got := len(sink.IDs()); got != 0 {
		t.Fatalf("sampling survived context cancel: %d reveals", got)
	}
}

func TestMediaLossDemotesEngine(t *testing.T) {
	eng := replay.NewEngine(fastConfig())
	media := testutil.NewFakeMedia()
	sink := testutil.NewRecordingSink()

	if err := eng.StartSession(context.Background(), engineLog("log-a", 10), 0, media, sink); err != nil {
		t.Fatalf("start: %v", err)
	}
	media.Fail(replay.ErrMediaGone)
	waitFor(t, time.Second, func() bool {
		_, ok := eng.Tracking()
		return !ok
	}, "engine never went idle after media loss")

	// a fresh start works after the loss
	media2 := testutil.NewFakeMedia()
	if err := eng.StartSession(context.Background(), engineLog("log-b", 5), 0, media2, sink); err != nil {
		t.Fatalf("restart after loss: %v", err)
	}
	eng.StopSession()
}

func TestConcurrentStartsLeaveNoOrphanLoop(t *testing.T) {
	// Racing replacements must never leave a sampling loop the engine
	// cannot reach: whichever session loses the race has to be stopped,
	// not silently overwritten.
	for iter := 0; iter < 25; iter++ {
		eng := replay.NewEngine(fastConfig())
		mediaA := testutil.NewFakeMedia()
		if err := eng.StartSession(context.Background(), engineLog("log-a", 5), 0, mediaA, testutil.NewRecordingSink()); err != nil {
			t.Fatalf("iter %d: start a: %v", iter, err)
		}

		mediaB, sinkB := testutil.NewFakeMedia(), testutil.NewRecordingSink()
		mediaC, sinkC := testutil.NewFakeMedia(), testutil.NewRecordingSink()
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = eng.StartSession(context.Background(), engineLog("log-b", 5), 0, mediaB, sinkB)
		}()
		go func() {
			defer wg.Done()
			_ = eng.StartSession(context.Background(), engineLog("log-c", 5), 0, mediaC, sinkC)
		}()
		wg.Wait()

		eng.StopSession()
		if _, ok := eng.Tracking(); ok {
			t.Fatalf("iter %d: engine still tracking after StopSession", iter)
		}

		// any surviving loop would reveal once its media reaches the events
		before := len(sinkB.IDs()) + len(sinkC.IDs())
		mediaB.Seek(5.5)
		mediaC.Seek(5.5)
		time.Sleep(100 * time.Millisecond)
		if after := len(sinkB.IDs()) + len(sinkC.IDs()); after != before {
			t.Fatalf("iter %d: engine stopped but an orphaned session still revealed %d events (B=%v C=%v)",
				iter, after-before, sinkB.IDs(), sinkC.IDs())
		}
	}
}

func TestUpdateOffsetIdleIsNoop(t *testing.T) {
	eng := replay.NewEngine(fastConfig())
	eng.UpdateOffset(120)
	if _, ok := eng.Tracking(); ok {
		t.Error("idle offset update must not create a session")
	}
}

func TestUpdateOffsetResyncsRunningSession(t *testing.T) {
	eng := replay.NewEngine(fastConfig())
	defer eng.StopSession()
	media := testutil.NewFakeMedia()
	sink := testutil.NewRecordingSink()
	// raw second 40; invisible at position 50 until offset 10 shifts it there
	log := engineLog("log-a", 40.0)

	if err := eng.StartSession(context.Background(), log, 0, media, sink); err != nil {
		t.Fatalf("start: %v", err)
	}
	media.SetPaused(true)
	media.Seek(50.0)
	time.Sleep(50 * time.Millisecond)
	if got := len(sink.IDs()); got != 0 {
		t.Fatalf("unexpected reveals before offset change: %v", sink.IDs())
	}
	clearsBefore := sink.Clears()

	// resync runs even while paused
	eng.UpdateOffset(10)
	waitFor(t, time.Second, func() bool { return len(sink.IDs()) == 1 }, "offset change never resynced")
	if sink.Clears() <= clearsBefore {
		t.Error("offset change should clear the feed")
	}
}
