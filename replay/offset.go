package replay

import "math"

const (
	// DefaultOffset is returned when no explicit offset is configured
	// and the duration heuristic produces nothing usable.
	DefaultOffset = 900

	// heuristicBound caps how far the duration heuristic may stray. A
	// candidate outside [-heuristicBound, heuristicBound] means the log
	// and the media are not the pair we assume they are (still-running
	// stream, truncated upload) and the fixed default is safer.
	heuristicBound = 3600
)

// ResolveOffset resolves the alignment between a log's timestamp axis
// and the media timeline. An explicit offset, including zero, always
// wins. Otherwise the heuristic assumes the log ends near the end of
// the media: floor(mediaDuration - lastEventTimestamp), bounded.
//
// Pure function; callers persist the result when it came from the
// heuristic so the guess is stable across sessions.
func ResolveOffset(explicit *int, mediaDuration, lastEventTimestamp float64) int {
	if explicit != nil {
		return *explicit
	}
	if mediaDuration <= 0 || lastEventTimestamp <= 0 {
		return DefaultOffset
	}
	candidate := int(math.Floor(mediaDuration - lastEventTimestamp))
	if candidate < -heuristicBound || candidate > heuristicBound {
		return DefaultOffset
	}
	return candidate
}
