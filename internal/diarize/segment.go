package diarize

import "iter"

// Segment is a half-open sample range [Start, End) covering second Index
type Segment struct {
	Index int
	Start int
	End   int
}

// Segments yields one-second segments over [0, floor(duration)).
// The trailing partial second is dropped. Ranging again restarts from zero.
func Segments(b *Buffer) iter.Seq[Segment] {
	return func(yield func(Segment) bool) {
		n := b.WholeSeconds()
		for i := 0; i < n; i++ {
			start := i * b.SampleRate
			if !yield(Segment{Index: i, Start: start, End: start + b.SampleRate}) {
				return
			}
		}
	}
}
