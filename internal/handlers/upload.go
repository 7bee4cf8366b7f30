package handlers

import (
	"fmt"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/podcast-animator/internal/media"
	"github.com/codebuildervaibhav/podcast-animator/internal/queue"
	"github.com/codebuildervaibhav/podcast-animator/internal/types"
)

// UploadHandler handles file uploads
type UploadHandler struct {
	workerPool *queue.WorkerPool
	tempDir    string
	maxSizeMB  int
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(workerPool *queue.WorkerPool, tempDir string, maxSizeMB int) *UploadHandler {
	return &UploadHandler{
		workerPool: workerPool,
		tempDir:    tempDir,
		maxSizeMB:  maxSizeMB,
	}
}

// Handle processes the upload request
func (h *UploadHandler) Handle(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "No file uploaded", "ERR_NO_FILE")
	}

	handles, err := parseHandles(c.FormValue("handle1"), c.FormValue("handle2"))
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error(), "ERR_INVALID_HANDLE")
	}

	requestName := c.FormValue("name")
	if requestName == "" {
		requestName = "untitled"
	}

	maxSize := int64(h.maxSizeMB) * 1024 * 1024
	if file.Size > maxSize {
		return errorJSON(c, fiber.StatusRequestEntityTooLarge,
			fmt.Sprintf("File too large (max %dMB)", h.maxSizeMB), "ERR_FILE_TOO_LARGE")
	}

	if !media.ValidateFormat(file.Filename) {
		return errorJSON(c, fiber.StatusBadRequest, "Unsupported audio format", "ERR_INVALID_FORMAT")
	}

	jobID := uuid.New().String()
	tempPath := filepath.Join(h.tempDir, jobID+filepath.Ext(file.Filename))

	if err := c.SaveFile(file, tempPath); err != nil {
		log.WithError(err).Error("Failed to save uploaded file")
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to save file", "ERR_SAVE_FAILED")
	}

	job := queue.NewJob(jobID, requestName, types.SourceUpload, tempPath, handles)
	return enqueue(c, h.workerPool, job, "File uploaded successfully, processing started")
}
