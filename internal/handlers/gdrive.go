package handlers

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/podcast-animator/internal/queue"
	"github.com/codebuildervaibhav/podcast-animator/internal/types"
)

// GDriveHandler handles Google Drive link processing
type GDriveHandler struct {
	workerPool  *queue.WorkerPool
	tempDir     string
	maxSizeMB   int
	client      *http.Client
	downloadURL string
}

// NewGDriveHandler creates a new Google Drive handler
func NewGDriveHandler(workerPool *queue.WorkerPool, tempDir string, maxSizeMB int) *GDriveHandler {
	return &GDriveHandler{
		workerPool:  workerPool,
		tempDir:     tempDir,
		maxSizeMB:   maxSizeMB,
		client:      &http.Client{Timeout: 30 * time.Minute},
		downloadURL: "https://drive.google.com/uc?export=download&id=%s",
	}
}

// GDriveRequest represents the request body
type GDriveRequest struct {
	URL     string `json:"url"`
	Name    string `json:"name"`
	Handle1 string `json:"handle1"`
	Handle2 string `json:"handle2"`
}

// Handle processes Google Drive link requests
func (h *GDriveHandler) Handle(c *fiber.Ctx) error {
	var req GDriveRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body", "ERR_INVALID_BODY")
	}

	if req.URL == "" {
		return errorJSON(c, fiber.StatusBadRequest, "URL is required", "ERR_NO_URL")
	}

	fileID := extractGDriveFileID(req.URL)
	if fileID == "" {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid Google Drive URL", "ERR_INVALID_URL")
	}

	handles, err := parseHandles(req.Handle1, req.Handle2)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error(), "ERR_INVALID_HANDLE")
	}

	if req.Name == "" {
		req.Name = "gdrive_file"
	}

	jobID := uuid.New().String()
	// Drive hides the original name; ffmpeg probes the container
	tempPath := filepath.Join(h.tempDir, jobID+".media")

	log.WithField("file_id", fileID).Info("Downloading from Google Drive")

	resp, err := h.client.Get(fmt.Sprintf(h.downloadURL, fileID))
	if err != nil {
		log.WithError(err).Error("Failed to download from Google Drive")
		return errorJSON(c, fiber.StatusBadGateway, "Failed to download file from Google Drive", "ERR_DOWNLOAD_FAILED")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errorJSON(c, fiber.StatusBadRequest, "File not accessible (may be private or doesn't exist)", "ERR_FILE_NOT_ACCESSIBLE")
	}

	out, err := os.Create(tempPath)
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to save downloaded file", "ERR_SAVE_FAILED")
	}

	maxSize := int64(h.maxSizeMB) * 1024 * 1024
	n, err := io.Copy(out, io.LimitReader(resp.Body, maxSize+1))
	out.Close()
	if err != nil {
		removeQuietly(tempPath)
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to write downloaded file", "ERR_WRITE_FAILED")
	}
	if n > maxSize {
		removeQuietly(tempPath)
		return errorJSON(c, fiber.StatusRequestEntityTooLarge,
			fmt.Sprintf("File too large (max %dMB)", h.maxSizeMB), "ERR_FILE_TOO_LARGE")
	}

	job := queue.NewJob(jobID, req.Name, types.SourceGDrive, tempPath, handles)
	return enqueue(c, h.workerPool, job, "Google Drive file downloaded, processing started")
}

var (
	gdriveFilePath = regexp.MustCompile(`/file/d/([a-zA-Z0-9_-]+)`)
	gdriveIDParam  = regexp.MustCompile(`[?&]id=([a-zA-Z0-9_-]+)`)
	gdriveBareID   = regexp.MustCompile(`^([a-zA-Z0-9_-]{25,40})$`)
)

// extractGDriveFileID extracts the file ID from various Google Drive URL formats
func extractGDriveFileID(url string) string {
	for _, re := range []*regexp.Regexp{gdriveFilePath, gdriveIDParam, gdriveBareID} {
		if matches := re.FindStringSubmatch(url); len(matches) > 1 {
			return matches[1]
		}
	}
	return ""
}
