package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/podcast-animator/internal/diarize"
)

func TestRowsOnePerSecond(t *testing.T) {
	b := &diarize.Buffer{
		Channels:   [][]float64{{0.9, 0.9, 0.1, 0.1}, {0.1, 0.1, 0.9, 0.9}},
		SampleRate: 2,
	}
	res, err := diarize.New(diarize.DefaultConfig(), diarize.WithScores()).Run(b)
	require.NoError(t, err)

	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	rows := Rows("job-1", res, at)
	require.Len(t, rows, 2)

	assert.Equal(t, uint32(1), rows[1].Second)
	assert.Equal(t, uint8(1), rows[1].Speaker)
	assert.InDelta(t, 0.9, rows[0].Volume[0], 1e-12)
	assert.InDelta(t, 0.01, rows[0].Energy[1], 1e-12)
	assert.Equal(t, at, rows[0].RecordedAt)
}

func TestRowsWithoutScores(t *testing.T) {
	res := &diarize.Result{Timeline: diarize.Timeline{0, 1}}
	assert.Nil(t, Rows("job", res, time.Now()))
	assert.Nil(t, Rows("job", nil, time.Now()))
}

func TestNopRecorder(t *testing.T) {
	var r Recorder = Nop{}
	assert.NoError(t, r.RecordSegments(context.Background(), "job", nil))
}
