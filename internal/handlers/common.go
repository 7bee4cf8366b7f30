package handlers

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/podcast-animator/internal/avatar"
	"github.com/codebuildervaibhav/podcast-animator/internal/queue"
	"github.com/codebuildervaibhav/podcast-animator/internal/render"
)

func errorJSON(c *fiber.Ctx, status int, msg, code string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
		"code":  code,
	})
}

// apiError is an error that maps to a JSON error response
type apiError struct {
	status int
	msg    string
	code   string
}

func (e *apiError) Error() string { return e.msg }

// respond writes err as a JSON error body. Errors that are not an apiError
// are passed on to fiber's error handler.
func respond(c *fiber.Ctx, err error) error {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return errorJSON(c, apiErr.status, apiErr.msg, apiErr.code)
	}
	return err
}

// parseHandles cleans and validates both speaker handles
func parseHandles(h1, h2 string) ([2]string, error) {
	out := [2]string{avatar.CleanHandle(h1), avatar.CleanHandle(h2)}
	for i, h := range out {
		if !avatar.ValidHandle(h) {
			return out, fmt.Errorf("handle%d %q is not a valid X handle", i+1, h)
		}
	}
	return out, nil
}

// enqueue hands a job to the pool and writes the response. The job's input
// file is removed when the pool refuses it.
func enqueue(c *fiber.Ctx, pool *queue.WorkerPool, job *queue.Job, message string) error {
	if err := pool.EnqueueJob(context.Background(), job); err != nil {
		removeQuietly(job.FilePath)
		if errors.Is(err, queue.ErrQueueFull) || errors.Is(err, queue.ErrPoolStopped) {
			return errorJSON(c, fiber.StatusServiceUnavailable, err.Error(), "ERR_QUEUE_FULL")
		}
		log.WithError(err).Error("failed to enqueue job")
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to queue job", "ERR_QUEUE")
	}

	return c.JSON(fiber.Map{
		"job_id":  job.ID,
		"status":  "queued",
		"message": message,
	})
}

func removeQuietly(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warnf("failed to remove %s", path)
	}
}

// fetchAvatars loads both avatars concurrently; failed slots stay nil
func fetchAvatars(ctx context.Context, loader render.AvatarLoader, refs [2]string) [2]image.Image {
	var out [2]image.Image
	var wg sync.WaitGroup
	for slot, ref := range refs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			img, err := loader.Load(ctx, ref)
			if err != nil {
				log.WithError(err).WithField("slot", slot).Debug("avatar not loaded")
				return
			}
			out[slot] = img
		}()
	}
	wg.Wait()
	return out
}
