// Package diarize assigns one of two speaker labels to every whole second of a
// two-channel recording. It is an energy heuristic, not acoustic diarization:
// it assumes each channel is dominated by one speaker.
package diarize

import "math"

// Timeline holds one speaker label (0 or 1) per whole second
type Timeline []int

// SpeakerAt returns the label for the second containing pos, clamped to the
// last index. It returns NoSpeaker for an empty timeline.
func (t Timeline) SpeakerAt(pos float64) int {
	if len(t) == 0 {
		return NoSpeaker
	}
	idx := int(math.Floor(pos))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(t) {
		idx = len(t) - 1
	}
	return t[idx]
}

// Result is the output of one diarization run
type Result struct {
	Timeline   Timeline                    `json:"timeline"`
	Scores     [][NumSpeakers]ChannelScore `json:"scores,omitempty"`
	State      State                       `json:"state"`
	Swapped    bool                        `json:"swapped"`
	Duration   float64                     `json:"duration"`
	SampleRate int                         `json:"sample_rate"`
}

// SpeakingTime returns seconds per canonical speaker
func (r *Result) SpeakingTime() [NumSpeakers]int {
	var out [NumSpeakers]int
	for _, label := range r.Timeline {
		out[label]++
	}
	return out
}

// Diarizer runs the segment -> score -> fold -> normalize pipeline
type Diarizer struct {
	cfg        Config
	keepScores bool
}

// Option configures a Diarizer
type Option func(*Diarizer)

// WithScores keeps per-segment scores on the result (used by analytics)
func WithScores() Option {
	return func(d *Diarizer) { d.keepScores = true }
}

// New creates a diarizer with the given tuning
func New(cfg Config, opts ...Option) *Diarizer {
	d := &Diarizer{cfg: cfg}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Run diarizes a buffer. Invalid input aborts before any label is produced.
func (d *Diarizer) Run(b *Buffer) (*Result, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	timeline := make(Timeline, 0, b.WholeSeconds())
	var scores [][NumSpeakers]ChannelScore
	if d.keepScores {
		scores = make([][NumSpeakers]ChannelScore, 0, b.WholeSeconds())
	}

	st := NewState()
	for seg := range Segments(b) {
		sc := ScoreSegment(b, seg)
		var label int
		st, label = d.cfg.Step(st, sc)
		timeline = append(timeline, label)
		if d.keepScores {
			scores = append(scores, sc)
		}
	}

	swapped := st.FirstActive >= 0 && timeline[st.FirstActive] == 1
	return &Result{
		Timeline:   Normalize(timeline, st.FirstActive),
		Swapped:    swapped,
		Scores:     scores,
		State:      st,
		Duration:   b.Duration(),
		SampleRate: b.SampleRate,
	}, nil
}

// Run diarizes a buffer with the default configuration
func Run(b *Buffer) (*Result, error) {
	return New(DefaultConfig()).Run(b)
}
