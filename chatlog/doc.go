// Package chatlog is the log source for the replay engine.
//
// It provides three entrypoints:
//   - Load: reads a stored chat log from Postgres into a replay.EventLog
//     plus a per-author display attribute map (color, badges).
//   - Import: fetches a chat log for a finished stream from an upstream
//     replay API in time windows and persists it, deduplicating by
//     message id.
//   - StartRecorder: connects to Twitch IRC and records live chat with
//     timestamps relative to the stream start, so finished streams
//     become replayable logs without an import step.
//
// Video ids and chat log ids are decoupled through the log_links table;
// ResolveLogID falls back to the video id itself when no link exists.
package chatlog
