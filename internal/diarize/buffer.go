package diarize

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is returned for buffers the diarizer cannot analyze
var ErrInvalidInput = errors.New("invalid input")

// NumSpeakers is the fixed number of speaker slots (one per analyzed channel)
const NumSpeakers = 2

// NoSpeaker marks "no speaker yet" in state and "nobody active" in lookups
const NoSpeaker = -1

// Buffer is a decoded multi-channel waveform with samples in [-1, 1]
type Buffer struct {
	Channels   [][]float64
	SampleRate int
}

// Validate checks the buffer is a usable two-channel waveform
func (b *Buffer) Validate() error {
	if b == nil || len(b.Channels) == 0 {
		return fmt.Errorf("%w: buffer has no channels", ErrInvalidInput)
	}
	if len(b.Channels) != NumSpeakers {
		return fmt.Errorf("%w: expected %d channels, got %d", ErrInvalidInput, NumSpeakers, len(b.Channels))
	}
	if b.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive, got %d", ErrInvalidInput, b.SampleRate)
	}
	n := len(b.Channels[0])
	if n == 0 {
		return fmt.Errorf("%w: buffer has zero length", ErrInvalidInput)
	}
	for i, ch := range b.Channels[1:] {
		if len(ch) != n {
			return fmt.Errorf("%w: channel %d has %d samples, channel 0 has %d", ErrInvalidInput, i+1, len(ch), n)
		}
	}
	return nil
}

// Len returns the number of samples per channel
func (b *Buffer) Len() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the buffer length in seconds
func (b *Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Len()) / float64(b.SampleRate)
}

// WholeSeconds returns floor(duration), the number of scored segments
func (b *Buffer) WholeSeconds() int {
	if b.SampleRate <= 0 {
		return 0
	}
	return b.Len() / b.SampleRate
}
