package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/podcast-animator/internal/analytics"
	"github.com/codebuildervaibhav/podcast-animator/internal/avatar"
	"github.com/codebuildervaibhav/podcast-animator/internal/diarize"
	"github.com/codebuildervaibhav/podcast-animator/internal/events"
	"github.com/codebuildervaibhav/podcast-animator/internal/media"
	"github.com/codebuildervaibhav/podcast-animator/internal/storage"
	"github.com/codebuildervaibhav/podcast-animator/internal/types"
)

var (
	// ErrQueueFull is returned when the job buffer has no room
	ErrQueueFull = errors.New("job queue is full")
	// ErrPoolStopped is returned when enqueueing after Stop
	ErrPoolStopped = errors.New("worker pool stopped")
	// ErrTooLong is returned for recordings over the configured limit
	ErrTooLong = errors.New("recording exceeds maximum duration")
)

// Deps are the collaborators every worker uses
type Deps struct {
	Decoder      *media.Decoder
	Diarizer     *diarize.Diarizer
	LocalStorage *storage.LocalStorage
	DB           *storage.MetadataDB
	Resolver     *avatar.XResolver
	Events       events.Publisher
	Analytics    analytics.Recorder
	MaxDuration  time.Duration
}

// WorkerPool manages a pool of workers processing diarization jobs
type WorkerPool struct {
	jobQueue    chan *Job
	workerCount int
	deps        Deps

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(workerCount, queueSize int, deps Deps) *WorkerPool {
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.Analytics == nil {
		deps.Analytics = analytics.Nop{}
	}
	if deps.Resolver == nil {
		deps.Resolver = avatar.NewXResolver("", "")
	}
	return &WorkerPool{
		jobQueue:    make(chan *Job, queueSize),
		workerCount: workerCount,
		deps:        deps,
	}
}

// Start launches the workers; they run until Stop or ctx is cancelled
func (wp *WorkerPool) Start(ctx context.Context) {
	log.Infof("Starting worker pool with %d workers", wp.workerCount)
	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
}

// Stop stops accepting jobs and waits for queued ones to finish
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.stopped {
		wp.stopped = true
		close(wp.jobQueue)
	}
	wp.mu.Unlock()
	wp.wg.Wait()
}

// Register records a job whose input is still being fetched, so its ID can be
// polled before EnqueueJob. The job is stored as CAPTURING.
func (wp *WorkerPool) Register(job *Job) error {
	job.Status = types.StatusCapturing
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if err := wp.deps.DB.CreateJob(job.Record()); err != nil {
		return err
	}
	job.recorded = true
	return nil
}

// EnqueueJob records the job as QUEUED and hands it to a worker. A job
// already stored by Register is moved to QUEUED instead of inserted again.
func (wp *WorkerPool) EnqueueJob(ctx context.Context, job *Job) error {
	job.Status = types.StatusQueued
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	if job.recorded {
		if err := wp.deps.DB.UpdateStatus(job.ID, job.Status, ""); err != nil {
			return err
		}
	} else {
		if err := wp.deps.DB.CreateJob(job.Record()); err != nil {
			return err
		}
		job.recorded = true
	}

	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.stopped {
		wp.fail(ctx, job, ErrPoolStopped)
		return ErrPoolStopped
	}

	wp.publish(ctx, events.Event{Type: events.JobQueued, JobID: job.ID, Status: job.Status})
	select {
	case wp.jobQueue <- job:
	default:
		wp.fail(ctx, job, ErrQueueFull)
		return ErrQueueFull
	}

	log.WithFields(log.Fields{"job_id": job.ID, "source": job.SourceType, "name": job.RequestName}).Info("job enqueued")
	return nil
}

// worker processes jobs from the queue
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()
	log.Debugf("Worker %d started", id)

	for job := range wp.jobQueue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.WithField("job_id", job.ID).Errorf("Worker %d: PANIC: %v\n%s", id, r, string(debug.Stack()))
					wp.fail(ctx, job, fmt.Errorf("worker panic: %v", r))
					wp.cleanupTempFile(job.FilePath)
				}
			}()

			wp.processJob(ctx, id, job)
		}()
	}
}

// processJob runs decode -> diarize -> save -> record for one job
func (wp *WorkerPool) processJob(ctx context.Context, workerID int, job *Job) {
	logger := log.WithFields(log.Fields{"worker": workerID, "job_id": job.ID})
	logger.Info("processing job")

	job.Status = types.StatusProcessing
	if err := wp.deps.DB.UpdateStatus(job.ID, job.Status, ""); err != nil {
		logger.WithError(err).Warn("failed to mark job processing")
	}
	wp.publish(ctx, events.Event{Type: events.JobStarted, JobID: job.ID, Status: job.Status})
	defer wp.cleanupTempFile(job.FilePath)

	// Step 1: decode to a two-channel buffer
	buf, err := wp.deps.Decoder.Decode(ctx, job.FilePath)
	if err != nil {
		wp.fail(ctx, job, fmt.Errorf("decode: %w", err))
		return
	}
	if wp.deps.MaxDuration > 0 && buf.Duration() > wp.deps.MaxDuration.Seconds() {
		wp.fail(ctx, job, fmt.Errorf("%w: %.0fs > %s", ErrTooLong, buf.Duration(), wp.deps.MaxDuration))
		return
	}

	// Step 2: diarize
	res, err := wp.deps.Diarizer.Run(buf)
	if err != nil {
		wp.fail(ctx, job, fmt.Errorf("diarize: %w", err))
		return
	}

	// Step 3: resolve avatars; failures fall back to placeholders
	var avatars [2]string
	for slot, handle := range job.Handles {
		avatars[slot] = wp.deps.Resolver.Resolve(ctx, handle).ProfileImageURL
	}

	// Step 4: save timeline bundle and audio locally
	bundle := &storage.Bundle{
		JobID:        job.ID,
		Name:         job.RequestName,
		Handles:      job.Handles,
		AvatarURLs:   avatars,
		Timeline:     res.Timeline,
		Duration:     res.Duration,
		SampleRate:   res.SampleRate,
		Swapped:      res.Swapped,
		FirstActive:  res.State.FirstActive,
		SpeakingTime: res.SpeakingTime(),
	}
	paths, err := wp.deps.LocalStorage.SaveBundle(bundle, buf)
	if err != nil {
		wp.fail(ctx, job, fmt.Errorf("save: %w", err))
		return
	}

	// Step 5: metadata
	rec := job.Record()
	rec.AvatarURLs = avatars
	rec.Duration = res.Duration
	rec.Seconds = len(res.Timeline)
	rec.SpeakingTime = bundle.SpeakingTime
	rec.Swapped = res.Swapped
	rec.BundlePath = paths.Bundle
	rec.AudioPath = paths.Audio
	if err := wp.deps.DB.CompleteJob(rec); err != nil {
		wp.fail(ctx, job, err)
		return
	}

	// Step 6: analytics are best effort
	if err := wp.deps.Analytics.RecordSegments(ctx, job.ID, res); err != nil {
		logger.WithError(err).Warn("failed to record segment scores")
	}

	job.Status = types.StatusCompleted
	job.Result = res
	wp.publish(ctx, events.Event{
		Type:         events.JobCompleted,
		JobID:        job.ID,
		Status:       job.Status,
		Seconds:      rec.Seconds,
		Duration:     rec.Duration,
		SpeakingTime: rec.SpeakingTime,
		Swapped:      rec.Swapped,
	})
	logger.WithFields(log.Fields{"seconds": rec.Seconds, "bundle": paths.Bundle}).Info("job completed")
}

// Fail marks a job FAILED and publishes job.failed. It is for failures that
// happen before the job reaches a worker, such as a broken download.
func (wp *WorkerPool) Fail(ctx context.Context, job *Job, err error) {
	wp.fail(ctx, job, err)
}

func (wp *WorkerPool) fail(ctx context.Context, job *Job, err error) {
	job.Status = types.StatusFailed
	job.Error = err
	log.WithError(err).WithField("job_id", job.ID).Error("job failed")

	if dbErr := wp.deps.DB.UpdateStatus(job.ID, job.Status, err.Error()); dbErr != nil {
		log.WithError(dbErr).WithField("job_id", job.ID).Warn("failed to mark job failed")
	}
	wp.publish(ctx, events.Event{Type: events.JobFailed, JobID: job.ID, Status: job.Status, Error: err.Error()})
}

func (wp *WorkerPool) publish(ctx context.Context, ev events.Event) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := wp.deps.Events.Publish(ctx, ev); err != nil {
		log.WithError(err).WithField("job_id", ev.JobID).Warn("failed to publish event")
	}
}

// cleanupTempFile removes a temporary file
func (wp *WorkerPool) cleanupTempFile(filePath string) {
	if filePath == "" {
		return
	}
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warnf("Failed to cleanup temp file %s", filePath)
	}
}
