// Package media turns uploaded or downloaded media into decoded PCM buffers.
package media

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/podcast-animator/internal/diarize"
)

// Decoder converts media files into stereo WAV and decodes them
type Decoder struct {
	tempDir string
}

// NewDecoder creates a decoder that writes intermediate files to tempDir
func NewDecoder(tempDir string) *Decoder {
	return &Decoder{tempDir: tempDir}
}

// Prepare returns a path to a PCM WAV for the input. WAV input is used as is.
// The caller owns the returned file when it differs from inputPath.
func (d *Decoder) Prepare(ctx context.Context, inputPath string) (string, error) {
	if strings.EqualFold(filepath.Ext(inputPath), ".wav") {
		return inputPath, nil
	}
	return ExtractPCM(ctx, inputPath, d.tempDir)
}

// Decode prepares and decodes a media file in one step
func (d *Decoder) Decode(ctx context.Context, inputPath string) (*diarize.Buffer, error) {
	wavPath, err := d.Prepare(ctx, inputPath)
	if err != nil {
		return nil, err
	}
	if wavPath != inputPath {
		defer func() {
			if err := os.Remove(wavPath); err != nil && !os.IsNotExist(err) {
				log.WithError(err).Warnf("failed to remove %s", wavPath)
			}
		}()
	}
	return LoadWAV(wavPath)
}
