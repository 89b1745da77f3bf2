package deepgram

import "strings"

// appendSegment adds a finalized segment, collapsing repeats and prefix
// revisions of the previous segment.
func appendSegment(segments []string, transcript string) []string {
	transcript = cleanSegment(transcript)
	if transcript == "" {
		return segments
	}
	if len(segments) == 0 {
		return append(segments, transcript)
	}

	last := segments[len(segments)-1]
	switch {
	case transcript == last, strings.HasPrefix(last, transcript):
		return segments
	case strings.HasPrefix(transcript, last):
		segments[len(segments)-1] = transcript
		return segments
	default:
		return append(segments, transcript)
	}
}

// joinSegments renders committed segments plus the trailing interim one.
func joinSegments(committed []string, interim string) string {
	segments := appendSegment(append([]string(nil), committed...), interim)
	return strings.Join(segments, " ")
}

func cleanSegment(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}
