package media

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/podcast-animator/internal/diarize"
)

func TestEncodeThenDecodeKeepsChannelsApart(t *testing.T) {
	b := &diarize.Buffer{
		Channels:   [][]float64{make([]float64, 8000), make([]float64, 8000)},
		SampleRate: 8000,
	}
	for i := range b.Channels[0] {
		b.Channels[0][i] = 0.5
		b.Channels[1][i] = -0.25
	}

	path := filepath.Join(t.TempDir(), "stereo.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, EncodeWAV(f, b))
	require.NoError(t, f.Close())

	got, err := NewDecoder(t.TempDir()).Decode(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 8000, got.SampleRate)
	require.Equal(t, 8000, got.Len())
	assert.InDelta(t, 0.5, got.Channels[0][100], 1e-3)
	assert.InDelta(t, -0.25, got.Channels[1][100], 1e-3)

	// the decoded file is left in place when it was the input itself
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestDecodeRejectsMono(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mono.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	n := 0
	mono := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if n >= 100 {
			return 0, false
		}
		for i := range samples {
			samples[i] = [2]float64{0.3, 0.3}
		}
		n += len(samples)
		return len(samples), true
	})
	require.NoError(t, wav.Encode(f, mono, beep.Format{SampleRate: 100, NumChannels: 1, Precision: 2}))
	require.NoError(t, f.Close())

	_, err = LoadWAV(path)
	assert.ErrorIs(t, err, diarize.ErrInvalidInput)
}

func TestLoadWAVMissingFile(t *testing.T) {
	_, err := LoadWAV(filepath.Join(t.TempDir(), "nope.wav"))
	assert.ErrorIs(t, err, ErrDecodeFailure)
}

func TestValidateFormat(t *testing.T) {
	assert.True(t, ValidateFormat("episode.MP4"))
	assert.True(t, ValidateFormat("talk.wav"))
	assert.False(t, ValidateFormat("notes.txt"))
	assert.False(t, ValidateFormat("noext"))
}

func TestFormatExt(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"mp3", ".mp3", true},
		{".WEBM", ".webm", true},
		{" opus ", ".opus", true},
		{"/../../escaped.mp3", "", false},
		{`..\evil.wav`, "", false},
		{"wav/", "", false},
		{".tar.mp3", "", false},
		{"txt", "", false},
	}
	for _, tt := range tests {
		got, ok := FormatExt(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.in)
		}
	}
}
