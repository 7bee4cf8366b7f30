package handlers

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/podcast-animator/internal/events"
	"github.com/codebuildervaibhav/podcast-animator/internal/export"
	"github.com/codebuildervaibhav/podcast-animator/internal/render"
	"github.com/codebuildervaibhav/podcast-animator/internal/storage"
	"github.com/codebuildervaibhav/podcast-animator/internal/types"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 500
	avatarTimeout   = 10 * time.Second
	driveAttempts   = 3
)

// Uploader pushes a finished artifact somewhere shareable
type Uploader interface {
	UploadWithRetry(ctx context.Context, path, name, mimeType string, attempts int) (string, error)
}

// RenderOptions sizes the frames produced for previews and exports
type RenderOptions struct {
	Width  int
	Height int
	FPS    int
}

// JobsHandler serves job metadata, timelines, previews and exports
type JobsHandler struct {
	ctx      context.Context
	db       *storage.MetadataDB
	store    *storage.LocalStorage
	exporter *export.Exporter
	drive    Uploader
	events   events.Publisher
	loader   render.AvatarLoader
	render   RenderOptions

	mu        sync.Mutex
	exporting map[string]bool
}

// JobsDeps are the collaborators of a JobsHandler. Drive and Events may be nil.
type JobsDeps struct {
	DB       *storage.MetadataDB
	Store    *storage.LocalStorage
	Exporter *export.Exporter
	Drive    Uploader
	Events   events.Publisher
	Loader   render.AvatarLoader
	Render   RenderOptions
}

// NewJobsHandler creates a jobs handler; background exports stop when ctx is done
func NewJobsHandler(ctx context.Context, deps JobsDeps) *JobsHandler {
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	return &JobsHandler{
		ctx:       ctx,
		db:        deps.DB,
		store:     deps.Store,
		exporter:  deps.Exporter,
		drive:     deps.Drive,
		events:    deps.Events,
		loader:    deps.Loader,
		render:    deps.Render,
		exporting: make(map[string]bool),
	}
}

// List returns the most recent jobs, newest first
func (h *JobsHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultJobLimit)
	if limit < 1 {
		limit = 1
	}
	if limit > maxJobLimit {
		limit = maxJobLimit
	}

	jobs, err := h.db.ListJobs(limit)
	if err != nil {
		log.WithError(err).Error("failed to list jobs")
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to list jobs", "ERR_DB")
	}
	if jobs == nil {
		jobs = []*types.JobRecord{}
	}
	return c.JSON(fiber.Map{"jobs": jobs, "count": len(jobs)})
}

// Get returns one job
func (h *JobsHandler) Get(c *fiber.Ctx) error {
	rec, err := h.record(c)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(rec)
}

// Timeline returns the saved bundle of a completed job
func (h *JobsHandler) Timeline(c *fiber.Ctx) error {
	_, bundle, err := h.bundle(c)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(bundle)
}

// Audio streams the analyzed stereo WAV of a completed job
func (h *JobsHandler) Audio(c *fiber.Ctx) error {
	rec, err := h.completed(c)
	if err != nil {
		return respond(c, err)
	}
	if rec.AudioPath == "" {
		return errorJSON(c, fiber.StatusNotFound, "Job has no audio", "ERR_NOT_FOUND")
	}
	c.Type("wav")
	return c.SendFile(rec.AudioPath)
}

// Frame renders the scene at ?t= seconds as a PNG
func (h *JobsHandler) Frame(c *fiber.Ctx) error {
	_, bundle, err := h.bundle(c)
	if err != nil {
		return respond(c, err)
	}
	pos := c.QueryFloat("t", 0)

	scene, err := render.NewScene(h.render.Width, h.render.Height)
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, err.Error(), "ERR_RENDER")
	}
	sess, err := render.NewSession(render.SessionConfig{
		Timeline: bundle.Timeline,
		Duration: bundle.Duration,
		Handles:  bundle.Handles,
		Scene:    scene,
	})
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, err.Error(), "ERR_RENDER")
	}

	if h.loader != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), avatarTimeout)
		<-sess.LoadAvatars(ctx, h.loader, bundle.AvatarURLs)
		cancel()
	}

	img, err := sess.Preview(pos)
	if err != nil {
		log.WithError(err).WithField("job_id", bundle.JobID).Error("failed to render frame")
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to render frame", "ERR_RENDER")
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to encode frame", "ERR_RENDER")
	}
	c.Type("png")
	return c.Send(buf.Bytes())
}

// ExportRequest is the body of POST /jobs/:id/export
type ExportRequest struct {
	FPS           int     `json:"fps"`
	Position      float64 `json:"position"`
	UploadToDrive bool    `json:"upload_to_drive"`
}

// Export starts a background export of a completed job
func (h *JobsHandler) Export(c *fiber.Ctx) error {
	var req ExportRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "Invalid request body", "ERR_INVALID_BODY")
		}
	}
	if req.FPS < 0 || req.FPS > 60 {
		return errorJSON(c, fiber.StatusBadRequest, "fps must be between 1 and 60", "ERR_INVALID_FPS")
	}
	if req.FPS == 0 {
		req.FPS = h.render.FPS
	}
	if req.UploadToDrive && h.drive == nil {
		return errorJSON(c, fiber.StatusBadRequest, "Google Drive is not configured", "ERR_DRIVE_DISABLED")
	}

	rec, bundle, err := h.bundle(c)
	if err != nil {
		return respond(c, err)
	}

	h.mu.Lock()
	if h.exporting[rec.ID] {
		h.mu.Unlock()
		return errorJSON(c, fiber.StatusConflict, "Export already running", "ERR_EXPORT_RUNNING")
	}
	h.exporting[rec.ID] = true
	h.mu.Unlock()

	go h.runExport(rec, bundle, req)

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"job_id":  rec.ID,
		"status":  "exporting",
		"message": "Export started",
	})
}

func (h *JobsHandler) runExport(rec *types.JobRecord, bundle *storage.Bundle, req ExportRequest) {
	defer func() {
		h.mu.Lock()
		delete(h.exporting, rec.ID)
		h.mu.Unlock()
	}()

	entry := log.WithField("job_id", rec.ID)
	ctx := h.ctx

	audio, err := h.store.LoadAudio(bundle)
	if err != nil {
		entry.WithError(err).Warn("no audio for export, video mode will fail")
	}

	var avatars [2]image.Image
	if h.loader != nil {
		actx, cancel := context.WithTimeout(ctx, avatarTimeout)
		avatars = fetchAvatars(actx, h.loader, bundle.AvatarURLs)
		cancel()
	}

	art, err := h.exporter.Export(ctx, export.Request{
		Timeline: bundle.Timeline,
		Duration: bundle.Duration,
		Audio:    audio,
		Handles:  bundle.Handles,
		Avatars:  avatars,
		FPS:      req.FPS,
		Width:    h.render.Width,
		Height:   h.render.Height,
		Position: req.Position,
		Progress: func(done, total int) {
			if done%(req.FPS*10) == 0 || done == total {
				entry.Debugf("export progress %d/%d frames", done, total)
			}
		},
	})
	if err != nil {
		entry.WithError(err).Error("export failed")
		h.publish(events.Event{Type: events.ExportFailed, JobID: rec.ID, Status: rec.Status, Error: err.Error()})
		return
	}

	var driveURL string
	if req.UploadToDrive {
		driveURL, err = h.drive.UploadWithRetry(ctx, art.Path, art.Filename, art.MimeType, driveAttempts)
		if err != nil {
			entry.WithError(err).Error("Google Drive upload failed, keeping local export")
		}
	}

	if err := h.db.SetExport(rec.ID, art.Path, driveURL); err != nil {
		entry.WithError(err).Error("failed to record export")
	}
	h.publish(events.Event{
		Type:     events.ExportReady,
		JobID:    rec.ID,
		Status:   rec.Status,
		Duration: bundle.Duration,
		Artifact: art.Filename,
	})
}

// Download sends the latest export artifact of a job
func (h *JobsHandler) Download(c *fiber.Ctx) error {
	rec, err := h.record(c)
	if err != nil {
		return respond(c, err)
	}
	if rec.ExportPath == "" {
		return errorJSON(c, fiber.StatusNotFound, "Job has not been exported", "ERR_NOT_EXPORTED")
	}
	return c.Download(rec.ExportPath, filepath.Base(rec.ExportPath))
}

func (h *JobsHandler) publish(ev events.Event) {
	ev.Timestamp = time.Now()
	if err := h.events.Publish(h.ctx, ev); err != nil {
		log.WithError(err).WithField("job_id", ev.JobID).Warn("failed to publish event")
	}
}

// record loads the job named by :id
func (h *JobsHandler) record(c *fiber.Ctx) (*types.JobRecord, error) {
	rec, err := h.db.GetJob(c.Params("id"))
	if errors.Is(err, storage.ErrJobNotFound) {
		return nil, &apiError{status: fiber.StatusNotFound, msg: "Job not found", code: "ERR_NOT_FOUND"}
	}
	if err != nil {
		log.WithError(err).Error("failed to load job")
		return nil, &apiError{status: fiber.StatusInternalServerError, msg: "Failed to load job", code: "ERR_DB"}
	}
	return rec, nil
}

func (h *JobsHandler) completed(c *fiber.Ctx) (*types.JobRecord, error) {
	rec, err := h.record(c)
	if err != nil {
		return nil, err
	}
	if rec.Status != types.StatusCompleted {
		return nil, &apiError{
			status: fiber.StatusConflict,
			msg:    "Job is " + rec.Status + ", not " + types.StatusCompleted,
			code:   "ERR_NOT_READY",
		}
	}
	return rec, nil
}

func (h *JobsHandler) bundle(c *fiber.Ctx) (*types.JobRecord, *storage.Bundle, error) {
	rec, err := h.completed(c)
	if err != nil {
		return nil, nil, err
	}
	b, err := h.store.LoadBundle(rec.BundlePath)
	if err != nil {
		log.WithError(err).WithField("job_id", rec.ID).Error("failed to load bundle")
		return nil, nil, &apiError{status: fiber.StatusInternalServerError, msg: "Failed to load timeline", code: "ERR_STORAGE"}
	}
	return rec, b, nil
}
