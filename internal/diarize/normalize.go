package diarize

// Normalize flips every label when the speaker at firstActive is labeled 1,
// so the first active speaker is always 0. A firstActive of NoSpeaker (silent
// recording) leaves the timeline as produced. Running it twice is a no-op.
func Normalize(timeline Timeline, firstActive int) Timeline {
	if firstActive < 0 || firstActive >= len(timeline) || timeline[firstActive] == 0 {
		return timeline
	}
	for i, label := range timeline {
		timeline[i] = 1 - label
	}
	return timeline
}
