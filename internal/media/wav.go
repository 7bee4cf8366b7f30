package media

import (
	"fmt"
	"io"
	"os"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"

	"github.com/codebuildervaibhav/podcast-animator/internal/diarize"
)

// DecodeWAV reads a stereo WAV stream into a two-channel buffer.
// Mono input is rejected rather than duplicated into both channels.
func DecodeWAV(r io.Reader) (*diarize.Buffer, error) {
	s, format, err := wav.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	defer s.Close()

	if format.NumChannels != diarize.NumSpeakers {
		return nil, fmt.Errorf("%w: expected %d channels, got %d", diarize.ErrInvalidInput, diarize.NumSpeakers, format.NumChannels)
	}

	b := &diarize.Buffer{
		Channels:   [][]float64{make([]float64, 0, s.Len()), make([]float64, 0, s.Len())},
		SampleRate: int(format.SampleRate),
	}

	frames := make([][2]float64, 4096)
	for {
		n, ok := s.Stream(frames)
		for _, f := range frames[:n] {
			b.Channels[0] = append(b.Channels[0], f[0])
			b.Channels[1] = append(b.Channels[1], f[1])
		}
		if !ok {
			break
		}
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}

	return b, nil
}

// LoadWAV decodes a WAV file from disk
func LoadWAV(path string) (*diarize.Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	defer f.Close()
	return DecodeWAV(f)
}

// EncodeWAV writes the buffer as 16-bit stereo PCM
func EncodeWAV(w io.WriteSeeker, b *diarize.Buffer) error {
	format := beep.Format{
		SampleRate:  beep.SampleRate(b.SampleRate),
		NumChannels: diarize.NumSpeakers,
		Precision:   2,
	}
	return wav.Encode(w, bufferStreamer(b), format)
}

func bufferStreamer(b *diarize.Buffer) beep.Streamer {
	pos := 0
	return beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if pos >= b.Len() {
			return 0, false
		}
		n := 0
		for n < len(samples) && pos < b.Len() {
			samples[n][0] = b.Channels[0][pos]
			samples[n][1] = b.Channels[1][pos]
			n++
			pos++
		}
		return n, true
	})
}
