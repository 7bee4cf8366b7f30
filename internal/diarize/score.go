package diarize

import "math"

// ChannelScore holds the activity measures for one channel over one segment
type ChannelScore struct {
	Volume float64 `json:"volume"` // mean |x|
	Energy float64 `json:"energy"` // mean x^2
}

// ScoreSamples computes mean absolute value and mean squared value.
// Callers never pass an empty slice; the segmenter guarantees n >= 1.
func ScoreSamples(samples []float64) ChannelScore {
	var sum, energy float64
	for _, s := range samples {
		sum += math.Abs(s)
		energy += s * s
	}
	n := float64(len(samples))
	return ChannelScore{Volume: sum / n, Energy: energy / n}
}

// ScoreSegment scores both channels of a segment
func ScoreSegment(b *Buffer, seg Segment) [NumSpeakers]ChannelScore {
	var out [NumSpeakers]ChannelScore
	for c := 0; c < NumSpeakers; c++ {
		out[c] = ScoreSamples(b.Channels[c][seg.Start:seg.End])
	}
	return out
}
