package handlers

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/podcast-animator/internal/queue"
	"github.com/codebuildervaibhav/podcast-animator/internal/types"
)

// DownloadFunc fetches the audio of a video URL into outputPath
type DownloadFunc func(ctx context.Context, videoURL, outputPath string) error

// VideoInfo is the page metadata shown before a capture starts
type VideoInfo struct {
	Title    string  `json:"title"`
	Duration float64 `json:"duration"`
}

// VideoInfoFetcher reads metadata for a video page
type VideoInfoFetcher interface {
	Fetch(ctx context.Context, videoURL string) (*VideoInfo, error)
}

// YouTubeHandler handles YouTube video audio capture
type YouTubeHandler struct {
	workerPool *queue.WorkerPool
	tempDir    string
	download   DownloadFunc
	info       VideoInfoFetcher
	timeout    time.Duration
}

// NewYouTubeHandler creates a new YouTube handler. A nil download uses yt-dlp,
// a nil info fetcher uses headless Chrome.
func NewYouTubeHandler(workerPool *queue.WorkerPool, tempDir string, download DownloadFunc, info VideoInfoFetcher) *YouTubeHandler {
	if download == nil {
		download = DownloadWithYtDlp
	}
	if info == nil {
		info = ChromeInfoFetcher{Timeout: 45 * time.Second}
	}
	return &YouTubeHandler{
		workerPool: workerPool,
		tempDir:    tempDir,
		download:   download,
		info:       info,
		timeout:    30 * time.Minute,
	}
}

// YouTubeRequest represents the request body
type YouTubeRequest struct {
	URL     string `json:"url"`
	Name    string `json:"name"`
	Handle1 string `json:"handle1"`
	Handle2 string `json:"handle2"`
}

// Handle starts a capture in the background and returns immediately
func (h *YouTubeHandler) Handle(c *fiber.Ctx) error {
	var req YouTubeRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body", "ERR_INVALID_BODY")
	}

	if req.URL == "" {
		return errorJSON(c, fiber.StatusBadRequest, "URL is required", "ERR_NO_URL")
	}
	if !isYouTubeURL(req.URL) {
		return errorJSON(c, fiber.StatusBadRequest, "Not a YouTube URL", "ERR_INVALID_URL")
	}

	handles, err := parseHandles(req.Handle1, req.Handle2)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error(), "ERR_INVALID_HANDLE")
	}

	if req.Name == "" {
		req.Name = "youtube_video"
	}

	jobID := uuid.New().String()
	tempPath := filepath.Join(h.tempDir, jobID+".opus")
	job := queue.NewJob(jobID, req.Name, types.SourceYouTube, tempPath, handles)
	if err := h.workerPool.Register(job); err != nil {
		log.WithError(err).WithField("job_id", jobID).Error("Failed to record YouTube job")
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to record job", "ERR_DB")
	}

	// long videos take minutes to fetch, so the job is queued once the file exists
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()

		entry := log.WithFields(log.Fields{"job_id": jobID, "url": req.URL})
		if err := h.download(ctx, req.URL, tempPath); err != nil {
			removeQuietly(tempPath)
			h.workerPool.Fail(context.Background(), job, fmt.Errorf("capture: %w", err))
			return
		}

		if err := h.workerPool.EnqueueJob(ctx, job); err != nil {
			entry.WithError(err).Error("Failed to enqueue YouTube job")
			removeQuietly(tempPath)
			if job.Status != types.StatusFailed {
				h.workerPool.Fail(context.Background(), job, err)
			}
		}
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"job_id":  jobID,
		"status":  "capturing",
		"message": "YouTube audio capture started (this may take a few minutes for long videos)",
	})
}

// Info returns the title and length of a video without downloading it
func (h *YouTubeHandler) Info(c *fiber.Ctx) error {
	videoURL := c.Query("url")
	if videoURL == "" {
		return errorJSON(c, fiber.StatusBadRequest, "url query parameter is required", "ERR_NO_URL")
	}
	if !isYouTubeURL(videoURL) {
		return errorJSON(c, fiber.StatusBadRequest, "Not a YouTube URL", "ERR_INVALID_URL")
	}

	info, err := h.info.Fetch(c.UserContext(), videoURL)
	if err != nil {
		log.WithError(err).WithField("url", videoURL).Warn("video info lookup failed")
		return errorJSON(c, fiber.StatusBadGateway, "Failed to read video page", "ERR_INFO_FAILED")
	}
	return c.JSON(info)
}

func isYouTubeURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	switch host {
	case "youtube.com", "m.youtube.com", "music.youtube.com":
		return u.Query().Get("v") != "" || strings.HasPrefix(u.Path, "/shorts/") || strings.HasPrefix(u.Path, "/live/")
	case "youtu.be":
		return len(strings.Trim(u.Path, "/")) > 0
	}
	return false
}

// DownloadWithYtDlp extracts the audio track with yt-dlp
func DownloadWithYtDlp(ctx context.Context, videoURL, outputPath string) error {
	log.WithField("url", videoURL).Info("Using yt-dlp to download")

	cmd := exec.CommandContext(ctx, "yt-dlp",
		"-x",
		"--audio-format", "opus",
		"-o", outputPath,
		videoURL,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("yt-dlp failed: %w (output: %s)", err, strings.TrimSpace(string(output)))
	}

	log.WithField("path", outputPath).Info("YouTube audio downloaded successfully")
	return nil
}

// ChromeInfoFetcher reads video metadata from the rendered watch page
type ChromeInfoFetcher struct {
	Timeout time.Duration
}

// the player element only exposes duration once its metadata has loaded
const videoInfoScript = `new Promise((resolve) => {
	const read = () => {
		const v = document.querySelector("video");
		if (v && isFinite(v.duration) && v.duration > 0) {
			resolve({title: document.title.replace(/ - YouTube$/, ""), duration: v.duration});
			return true;
		}
		return false;
	};
	if (!read()) {
		const timer = setInterval(() => { if (read()) clearInterval(timer); }, 250);
	}
})`

// Fetch opens the page in headless Chrome and evaluates the player state
func (f ChromeInfoFetcher) Fetch(ctx context.Context, videoURL string) (*VideoInfo, error) {
	ctx, cancel := chromedp.NewContext(ctx)
	defer cancel()

	if f.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	var info VideoInfo
	err := chromedp.Run(ctx,
		chromedp.Navigate(videoURL),
		chromedp.WaitReady("body"),
		chromedp.Evaluate(videoInfoScript, &info, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("read video page: %w", err)
	}
	return &info, nil
}
