// Package replay drives a recorded chat log in lockstep with an
// independently controlled playback timeline.
//
// The engine owns at most one session at a time. A session samples a
// MediaHandle on a fixed interval, classifies every position change
// (steady forward tick, small jump, large jump, or no movement) and
// turns the classification into reveals against a Sink:
//   - a forward tick reveals the current second's events, staggered
//     across the second so bursts read as a feed instead of a block;
//   - a small jump backfills the skipped window immediately;
//   - a large jump resets the feed and replays a bounded amount of
//     context from just before the new position.
//
// Event timestamps are relative to the log's own origin; a signed
// offset aligns them with the playback clock. Changing the offset
// invalidates everything revealed so far and the session resyncs as if
// it had just jumped to the current position.
//
// Reveals are idempotent per session: an event identity is shown at
// most once between resets, even when staggered reveals from an earlier
// tick are still pending when the next tick arrives.
package replay
