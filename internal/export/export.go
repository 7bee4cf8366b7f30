// Package export renders a diarized recording to an MP4, or to a single PNG
// still when ffmpeg is not installed.
package export

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/podcast-animator/internal/diarize"
	"github.com/codebuildervaibhav/podcast-animator/internal/media"
	"github.com/codebuildervaibhav/podcast-animator/internal/render"
)

// ErrExportFailure wraps every export error
var ErrExportFailure = errors.New("export failed")

// Kind is the artifact type produced by an export
type Kind string

const (
	KindVideo Kind = "video"
	KindImage Kind = "image"
)

const (
	DefaultFPS    = 30
	DefaultWidth  = 800
	DefaultHeight = 450
)

// Request describes one export
type Request struct {
	Timeline diarize.Timeline
	Duration float64
	Audio    *diarize.Buffer
	Handles  [diarize.NumSpeakers]string
	Avatars  [diarize.NumSpeakers]image.Image
	FPS      int
	Width    int
	Height   int

	// Position is the playhead used for the still image fallback
	Position float64

	// Progress, when set, is called after every rendered frame
	Progress func(done, total int)
}

// Artifact is a finished export on disk
type Artifact struct {
	Path     string `json:"path"`
	Filename string `json:"filename"`
	Kind     Kind   `json:"kind"`
	MimeType string `json:"mime_type"`
	Frames   int    `json:"frames"`
	Size     int64  `json:"size"`
}

// Runner executes an external command
type Runner func(ctx context.Context, name string, args ...string) error

// Option configures an Exporter
type Option func(*Exporter)

// WithRunner replaces the command runner used for ffmpeg
func WithRunner(r Runner) Option {
	return func(e *Exporter) { e.run = r }
}

// WithFFmpegCheck replaces the ffmpeg availability probe
func WithFFmpegCheck(check func() bool) Option {
	return func(e *Exporter) { e.hasFFmpeg = check }
}

// Exporter writes artifacts into outDir, staging work under tempDir
type Exporter struct {
	outDir    string
	tempDir   string
	run       Runner
	hasFFmpeg func() bool
}

// New creates an exporter
func New(outDir, tempDir string, opts ...Option) *Exporter {
	e := &Exporter{
		outDir:    outDir,
		tempDir:   tempDir,
		run:       execRunner,
		hasFFmpeg: media.FFmpegAvailable,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func execRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w (output: %s)", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Filename builds the artifact name from both handles
func Filename(handle1, handle2, ext string) string {
	return fmt.Sprintf("podcast-animation-%s-%s.%s",
		strings.TrimPrefix(handle1, "@"), strings.TrimPrefix(handle2, "@"), ext)
}

// FrameCount is the number of frames rendered for a recording
func FrameCount(fps int, duration float64) int {
	if fps <= 0 || duration <= 0 {
		return 0
	}
	return int(math.Floor(float64(fps) * duration))
}

// Export renders the request. Partial output never reaches outDir.
func (e *Exporter) Export(ctx context.Context, req Request) (*Artifact, error) {
	req = withDefaults(req)

	if err := os.MkdirAll(e.outDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create output dir: %v", ErrExportFailure, err)
	}
	if err := os.MkdirAll(e.tempDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create temp dir: %v", ErrExportFailure, err)
	}
	workDir, err := os.MkdirTemp(e.tempDir, "export-*")
	if err != nil {
		return nil, fmt.Errorf("%w: create work dir: %v", ErrExportFailure, err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.WithError(err).Warnf("failed to remove export work dir %s", workDir)
		}
	}()

	var art *Artifact
	if e.hasFFmpeg() {
		art, err = e.exportVideo(ctx, workDir, req)
	} else {
		log.Warn("ffmpeg not found, exporting a still frame instead of video")
		art, err = e.exportStill(workDir, req)
	}
	if err != nil {
		if errors.Is(err, ErrExportFailure) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrExportFailure, err)
	}

	final := filepath.Join(e.outDir, art.Filename)
	if err := os.Rename(art.Path, final); err != nil {
		return nil, fmt.Errorf("%w: move artifact: %v", ErrExportFailure, err)
	}
	art.Path = final
	if info, err := os.Stat(final); err == nil {
		art.Size = info.Size()
	}

	log.WithFields(log.Fields{
		"file":   art.Filename,
		"kind":   art.Kind,
		"frames": art.Frames,
	}).Info("export complete")
	return art, nil
}

func withDefaults(req Request) Request {
	if req.FPS <= 0 {
		req.FPS = DefaultFPS
	}
	if req.Width <= 0 {
		req.Width = DefaultWidth
	}
	if req.Height <= 0 {
		req.Height = DefaultHeight
	}
	return req
}

// newSession builds a stopped session on a manual clock with avatars settled
func newSession(req Request, clock *render.ManualClock) (*render.Session, error) {
	scene, err := render.NewScene(req.Width, req.Height)
	if err != nil {
		return nil, err
	}
	sess, err := render.NewSession(render.SessionConfig{
		Timeline: req.Timeline,
		Duration: req.Duration,
		Handles:  req.Handles,
		Scene:    scene,
		Clock:    clock,
	})
	if err != nil {
		return nil, err
	}
	for slot, img := range req.Avatars {
		var loadErr error
		if img == nil {
			loadErr = fmt.Errorf("no avatar for @%s", req.Handles[slot])
		}
		sess.SetAvatar(slot, img, loadErr)
	}
	return sess, nil
}

func (e *Exporter) exportVideo(ctx context.Context, workDir string, req Request) (*Artifact, error) {
	if req.Audio == nil {
		return nil, fmt.Errorf("%w: no audio to mux", ErrExportFailure)
	}
	total := FrameCount(req.FPS, req.Duration)
	if total == 0 {
		return nil, fmt.Errorf("%w: recording too short to render", ErrExportFailure)
	}

	start := time.Unix(0, 0)
	clock := render.NewManualClock(start)
	sess, err := newSession(req, clock)
	if err != nil {
		return nil, err
	}
	gen, err := sess.Play(0)
	if err != nil {
		return nil, err
	}

	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		at := float64(i) / float64(req.FPS)
		clock.Set(start.Add(time.Duration(at * float64(time.Second))))

		if _, _, err := sess.Tick(gen); err != nil {
			return nil, err
		}
		frame, err := sess.Frame()
		if err != nil {
			return nil, err
		}
		if err := writePNG(filepath.Join(workDir, fmt.Sprintf("frame_%05d.png", i)), frame); err != nil {
			return nil, err
		}
		if req.Progress != nil {
			req.Progress(i+1, total)
		}
	}

	audioPath := filepath.Join(workDir, "audio.wav")
	if err := writeWAV(audioPath, req.Audio); err != nil {
		return nil, err
	}

	name := Filename(req.Handles[0], req.Handles[1], "mp4")
	outPath := filepath.Join(workDir, name)
	args := []string{
		"-y",
		"-framerate", fmt.Sprint(req.FPS),
		"-i", filepath.Join(workDir, "frame_%05d.png"),
		"-i", audioPath,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-shortest",
		outPath,
	}
	if err := e.run(ctx, "ffmpeg", args...); err != nil {
		return nil, err
	}
	if _, err := os.Stat(outPath); err != nil {
		return nil, fmt.Errorf("ffmpeg produced no output: %w", err)
	}

	return &Artifact{Path: outPath, Filename: name, Kind: KindVideo, MimeType: "video/mp4", Frames: total}, nil
}

func (e *Exporter) exportStill(workDir string, req Request) (*Artifact, error) {
	sess, err := newSession(req, render.NewManualClock(time.Unix(0, 0)))
	if err != nil {
		return nil, err
	}
	frame, err := sess.Preview(req.Position)
	if err != nil {
		return nil, err
	}

	name := Filename(req.Handles[0], req.Handles[1], "png")
	outPath := filepath.Join(workDir, name)
	if err := writePNG(outPath, frame); err != nil {
		return nil, err
	}
	return &Artifact{Path: outPath, Filename: name, Kind: KindImage, MimeType: "image/png", Frames: 1}, nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeWAV(path string, b *diarize.Buffer) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := media.EncodeWAV(f, b); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
