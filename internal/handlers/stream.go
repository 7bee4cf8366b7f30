package handlers

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/podcast-animator/internal/media"
	"github.com/codebuildervaibhav/podcast-animator/internal/queue"
	"github.com/codebuildervaibhav/podcast-animator/internal/types"
)

// StreamHandler handles WebSocket audio streaming
type StreamHandler struct {
	workerPool *queue.WorkerPool
	tempDir    string
	maxBytes   int64
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(workerPool *queue.WorkerPool, tempDir string, maxSizeMB int) *StreamHandler {
	return &StreamHandler{
		workerPool: workerPool,
		tempDir:    tempDir,
		maxBytes:   int64(maxSizeMB) * 1024 * 1024,
	}
}

// streamControl is a text frame sent by the client. The first one names the
// recording and the speakers; {"type":"end"} (or the bare text END) closes it.
type streamControl struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Handle1 string `json:"handle1"`
	Handle2 string `json:"handle2"`
	Ext     string `json:"ext"`
}

type streamReply struct {
	JobID  string `json:"job_id,omitempty"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`
}

// Handle processes WebSocket connections
func (h *StreamHandler) Handle(c *websocket.Conn) {
	defer c.Close()

	jobID := uuid.New().String()
	entry := log.WithField("job_id", jobID)
	entry.Info("WebSocket stream opened")

	var (
		ctrl     = streamControl{Name: "stream_recording", Ext: ".webm"}
		tempPath string
		out      *os.File
		written  int64
		ended    bool
	)

	fail := func(msg, code string) {
		if out != nil {
			out.Close()
			removeQuietly(tempPath)
		}
		_ = c.WriteJSON(streamReply{Status: "error", Error: msg, Code: code})
	}

	for !ended {
		messageType, message, err := c.ReadMessage()
		if err != nil {
			entry.WithError(err).Warn("WebSocket read error, dropping stream")
			if out != nil {
				out.Close()
				removeQuietly(tempPath)
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			text := strings.TrimSpace(string(message))
			if text == "END" {
				ended = true
				continue
			}
			var msg streamControl
			if err := json.Unmarshal(message, &msg); err != nil {
				fail("Invalid control message", "ERR_INVALID_MESSAGE")
				return
			}
			if msg.Type == "end" {
				ended = true
				continue
			}
			if out != nil {
				fail("Stream already started", "ERR_INVALID_MESSAGE")
				return
			}
			if msg.Name != "" {
				ctrl.Name = msg.Name
			}
			ctrl.Handle1, ctrl.Handle2 = msg.Handle1, msg.Handle2
			if msg.Ext != "" {
				// the extension becomes part of the temp path
				ext, ok := media.FormatExt(msg.Ext)
				if !ok {
					fail("Unsupported audio format", "ERR_INVALID_FORMAT")
					return
				}
				ctrl.Ext = ext
			}

		case websocket.BinaryMessage:
			if out == nil {
				tempPath = filepath.Join(h.tempDir, jobID+ctrl.Ext)
				if out, err = os.Create(tempPath); err != nil {
					entry.WithError(err).Error("Failed to create stream file")
					out = nil
					fail("Failed to save stream", "ERR_SAVE_FAILED")
					return
				}
			}
			if written+int64(len(message)) > h.maxBytes {
				fail("Stream too large", "ERR_FILE_TOO_LARGE")
				return
			}
			if _, err := out.Write(message); err != nil {
				entry.WithError(err).Error("Failed to write stream chunk")
				fail("Failed to save stream", "ERR_SAVE_FAILED")
				return
			}
			written += int64(len(message))
		}
	}

	if out == nil || written == 0 {
		entry.Warn("No audio data received")
		fail("No audio data received", "ERR_NO_FILE")
		return
	}
	if err := out.Close(); err != nil {
		out = nil
		removeQuietly(tempPath)
		_ = c.WriteJSON(streamReply{Status: "error", Error: "Failed to save stream", Code: "ERR_SAVE_FAILED"})
		return
	}
	out = nil

	handles, err := parseHandles(ctrl.Handle1, ctrl.Handle2)
	if err != nil {
		removeQuietly(tempPath)
		_ = c.WriteJSON(streamReply{Status: "error", Error: err.Error(), Code: "ERR_INVALID_HANDLE"})
		return
	}

	entry.WithField("bytes", written).Infof("Stream saved to %s", tempPath)

	job := queue.NewJob(jobID, ctrl.Name, types.SourceStream, tempPath, handles)
	if err := h.workerPool.EnqueueJob(context.Background(), job); err != nil {
		removeQuietly(tempPath)
		_ = c.WriteJSON(streamReply{Status: "error", Error: err.Error(), Code: "ERR_QUEUE_FULL"})
		return
	}

	_ = c.WriteJSON(streamReply{JobID: jobID, Status: "queued"})
}
