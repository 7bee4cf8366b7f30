package queue

import (
	"time"

	"github.com/codebuildervaibhav/podcast-animator/internal/diarize"
	"github.com/codebuildervaibhav/podcast-animator/internal/types"
)

// Job represents a diarization job
type Job struct {
	ID          string
	RequestName string
	SourceType  string
	FilePath    string
	Handles     [2]string
	Status      string
	Error       error
	Result      *diarize.Result
	CreatedAt   time.Time

	// recorded is set once the job has a row in the metadata DB
	recorded bool
}

// NewJob creates a new job with default values
func NewJob(id, requestName, sourceType, filePath string, handles [2]string) *Job {
	return &Job{
		ID:          id,
		RequestName: requestName,
		SourceType:  sourceType,
		FilePath:    filePath,
		Handles:     handles,
		Status:      types.StatusQueued,
		CreatedAt:   time.Now(),
	}
}

// Record converts the job to its persisted form
func (j *Job) Record() *types.JobRecord {
	return &types.JobRecord{
		ID:        j.ID,
		Name:      j.RequestName,
		Source:    j.SourceType,
		Status:    j.Status,
		Handles:   j.Handles,
		CreatedAt: j.CreatedAt,
	}
}
