package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codebuildervaibhav/podcast-animator/internal/diarize"
	"github.com/codebuildervaibhav/podcast-animator/internal/media"
)

// Bundle is the on-disk record of a finished diarization
type Bundle struct {
	JobID        string           `json:"job_id"`
	Name         string           `json:"name"`
	Handles      [2]string        `json:"handles"`
	AvatarURLs   [2]string        `json:"avatar_urls"`
	Timeline     diarize.Timeline `json:"timeline"`
	Duration     float64          `json:"duration_seconds"`
	SampleRate   int              `json:"sample_rate"`
	Swapped      bool             `json:"swapped"`
	FirstActive  int              `json:"first_active"`
	SpeakingTime [2]int           `json:"speaking_time"`
	CreatedAt    time.Time        `json:"created_at"`
	AudioPath    string           `json:"audio_path"`
}

// Paths locates the files of a saved bundle
type Paths struct {
	Bundle string
	Audio  string
}

// LocalStorage handles saving timelines and their audio to the local filesystem
type LocalStorage struct {
	outputDir string
}

// NewLocalStorage creates a new local storage handler
func NewLocalStorage(outputDir string) *LocalStorage {
	return &LocalStorage{
		outputDir: outputDir,
	}
}

// SaveBundle writes the timeline JSON and a stereo WAV of the analyzed audio
// into a dated directory: outputs/2025/01/23/20250123_143022_<name>_timeline.json
func (ls *LocalStorage) SaveBundle(b *Bundle, audio *diarize.Buffer) (Paths, error) {
	now := b.CreatedAt
	if now.IsZero() {
		now = time.Now()
		b.CreatedAt = now
	}
	dateDir := filepath.Join(ls.outputDir,
		fmt.Sprintf("%d", now.Year()),
		fmt.Sprintf("%02d", now.Month()),
		fmt.Sprintf("%02d", now.Day()))

	if err := os.MkdirAll(dateDir, 0755); err != nil {
		return Paths{}, fmt.Errorf("failed to create date directory: %w", err)
	}

	base := fmt.Sprintf("%s_%s_%s", now.Format("20060102_150405"), sanitizeFilename(b.Name), shortID(b.JobID))
	paths := Paths{
		Bundle: filepath.Join(dateDir, base+"_timeline.json"),
		Audio:  filepath.Join(dateDir, base+".wav"),
	}

	if audio != nil {
		f, err := os.Create(paths.Audio)
		if err != nil {
			return Paths{}, fmt.Errorf("failed to create audio file: %w", err)
		}
		if err := media.EncodeWAV(f, audio); err != nil {
			f.Close()
			os.Remove(paths.Audio)
			return Paths{}, fmt.Errorf("failed to save audio: %w", err)
		}
		if err := f.Close(); err != nil {
			return Paths{}, fmt.Errorf("failed to save audio: %w", err)
		}
		b.AudioPath = paths.Audio
	} else {
		paths.Audio = ""
	}

	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return Paths{}, fmt.Errorf("failed to marshal bundle: %w", err)
	}

	// write then rename so a reader never sees half a timeline
	tmp := paths.Bundle + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return Paths{}, fmt.Errorf("failed to save bundle: %w", err)
	}
	if err := os.Rename(tmp, paths.Bundle); err != nil {
		return Paths{}, fmt.Errorf("failed to save bundle: %w", err)
	}

	return paths, nil
}

// LoadBundle reads a bundle written by SaveBundle
func (ls *LocalStorage) LoadBundle(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle: %w", err)
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to parse bundle %s: %w", path, err)
	}
	return &b, nil
}

// LoadAudio decodes the bundle's WAV
func (ls *LocalStorage) LoadAudio(b *Bundle) (*diarize.Buffer, error) {
	if b.AudioPath == "" {
		return nil, fmt.Errorf("bundle %s has no audio", b.JobID)
	}
	return media.LoadWAV(b.AudioPath)
}

// sanitizeFilename keeps names safe to use as a path component
func sanitizeFilename(name string) string {
	result := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	if result == "" {
		result = "untitled"
	}
	if len(result) > 100 {
		result = result[:100]
	}
	return result
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
