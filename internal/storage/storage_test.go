package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/podcast-animator/internal/diarize"
	"github.com/codebuildervaibhav/podcast-animator/internal/types"
)

func newTestDB(t *testing.T) *MetadataDB {
	t.Helper()
	db, err := NewMetadataDB(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestJobLifecycle(t *testing.T) {
	db := newTestDB(t)

	rec := &types.JobRecord{ID: "job-1", Name: "episode 1", Source: types.SourceUpload, Handles: [2]string{"alice", "bob"}}
	require.NoError(t, db.CreateJob(rec))

	got, err := db.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusQueued, got.Status)
	assert.Equal(t, [2]string{"alice", "bob"}, got.Handles)

	require.NoError(t, db.UpdateStatus("job-1", types.StatusProcessing, ""))

	rec.Duration = 12.5
	rec.Seconds = 12
	rec.SpeakingTime = [2]int{7, 5}
	rec.Swapped = true
	rec.BundlePath = "/out/b.json"
	rec.AvatarURLs = [2]string{"https://img/a.jpg", "/placeholder.svg?text=bob"}
	require.NoError(t, db.CompleteJob(rec))

	got, err = db.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, got.Status)
	assert.Equal(t, [2]int{7, 5}, got.SpeakingTime)
	assert.True(t, got.Swapped)
	assert.Equal(t, "/out/b.json", got.BundlePath)
	assert.Equal(t, "https://img/a.jpg", got.AvatarURLs[0])

	require.NoError(t, db.SetExport("job-1", "/exports/x.mp4", "https://drive/x"))
	got, err = db.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, "/exports/x.mp4", got.ExportPath)
	assert.Equal(t, "https://drive/x", got.GDriveURL)
}

func TestFailedJobKeepsError(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.CreateJob(&types.JobRecord{ID: "j", Name: "n", Source: types.SourceStream}))
	require.NoError(t, db.UpdateStatus("j", types.StatusFailed, "decode failure"))

	got, err := db.GetJob("j")
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, got.Status)
	assert.Equal(t, "decode failure", got.Error)
}

func TestUnknownJob(t *testing.T) {
	db := newTestDB(t)
	_, err := db.GetJob("missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, db.UpdateStatus("missing", types.StatusFailed, ""), ErrJobNotFound)
}

func TestListJobsNewestFirst(t *testing.T) {
	db := newTestDB(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, db.CreateJob(&types.JobRecord{
			ID: id, Name: id, Source: types.SourceUpload, CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	jobs, err := db.ListJobs(2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "c", jobs[0].ID)
	assert.Equal(t, "b", jobs[1].ID)
}

func TestSaveAndLoadBundle(t *testing.T) {
	ls := NewLocalStorage(t.TempDir())
	audio := &diarize.Buffer{Channels: [][]float64{make([]float64, 16), make([]float64, 16)}, SampleRate: 8}

	b := &Bundle{
		JobID:     "0123456789abcdef",
		Name:      "my/episode: one",
		Handles:   [2]string{"alice", "bob"},
		Timeline:  diarize.Timeline{0, 1},
		Duration:  2,
		CreatedAt: time.Date(2024, 3, 9, 10, 11, 12, 0, time.UTC),
	}
	paths, err := ls.SaveBundle(b, audio)
	require.NoError(t, err)

	assert.Equal(t, "20240309_101112_my_episode__one_01234567_timeline.json", filepath.Base(paths.Bundle))
	assert.Contains(t, paths.Bundle, filepath.Join("2024", "03", "09"))

	loaded, err := ls.LoadBundle(paths.Bundle)
	require.NoError(t, err)
	assert.Equal(t, diarize.Timeline{0, 1}, loaded.Timeline)
	assert.Equal(t, paths.Audio, loaded.AudioPath)

	decoded, err := ls.LoadAudio(loaded)
	require.NoError(t, err)
	assert.Equal(t, 16, decoded.Len())
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "a_b_c", sanitizeFilename("a/b:c"))
	assert.Equal(t, "untitled", sanitizeFilename("   "))
}
