package media

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ErrDecodeFailure is returned when the input media cannot be turned into PCM
var ErrDecodeFailure = errors.New("decode failure")

// ErrFFmpegMissing is returned when ffmpeg is not on PATH
var ErrFFmpegMissing = errors.New("ffmpeg not found")

// FFmpegAvailable reports whether ffmpeg can be executed
func FFmpegAvailable() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

// ExtractPCM converts any audio/video file to a 16-bit PCM WAV, keeping the
// source channel layout and sample rate. Channels are never up- or downmixed.
func ExtractPCM(ctx context.Context, inputPath, tempDir string) (string, error) {
	if !FFmpegAvailable() {
		return "", fmt.Errorf("%w: %w", ErrDecodeFailure, ErrFFmpegMissing)
	}

	outputPath := filepath.Join(tempDir, fmt.Sprintf("pcm_%s.wav", uuid.New().String()))

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", inputPath,
		"-vn",               // drop video
		"-c:a", "pcm_s16le", // 16-bit PCM
		"-f", "wav",
		"-y",
		outputPath,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%w: ffmpeg failed: %v\nOutput: %s", ErrDecodeFailure, err, string(output))
	}

	log.WithFields(log.Fields{"input": inputPath, "output": outputPath}).Debug("extracted PCM")
	return outputPath, nil
}

var supportedFormats = []string{
	".mp3", ".wav", ".m4a", ".ogg", ".flac", ".webm", ".aac", ".wma",
	".mp4", ".mov", ".mkv", ".opus",
}

// FormatExt normalizes a bare extension such as "mp3" or ".MP3" and reports
// whether it is exactly one of the supported formats.
func FormatExt(ext string) (string, bool) {
	ext = "." + strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	return ext, slices.Contains(supportedFormats, ext)
}

// ValidateFormat checks if the file extension is one we hand to ffmpeg
func ValidateFormat(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, format := range supportedFormats {
		if ext == format {
			return true
		}
	}
	return false
}
