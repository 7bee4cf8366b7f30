package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/codebuildervaibhav/podcast-animator/internal/types"
)

// ErrJobNotFound is returned for unknown job IDs
var ErrJobNotFound = errors.New("job not found")

// MetadataDB handles SQLite database operations
type MetadataDB struct {
	db *sql.DB
}

// NewMetadataDB creates a new metadata database
func NewMetadataDB(dbPath string) (*MetadataDB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer at a time; workers and handlers share this handle
	db.SetMaxOpenConns(1)

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		source_type TEXT NOT NULL,
		status TEXT NOT NULL,
		handle1 TEXT NOT NULL,
		handle2 TEXT NOT NULL,
		avatar1 TEXT NOT NULL DEFAULT '',
		avatar2 TEXT NOT NULL DEFAULT '',
		duration REAL NOT NULL DEFAULT 0,
		seconds INTEGER NOT NULL DEFAULT 0,
		speaking1 INTEGER NOT NULL DEFAULT 0,
		speaking2 INTEGER NOT NULL DEFAULT 0,
		swapped INTEGER NOT NULL DEFAULT 0,
		bundle_path TEXT NOT NULL DEFAULT '',
		audio_path TEXT NOT NULL DEFAULT '',
		export_path TEXT NOT NULL DEFAULT '',
		gdrive_url TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	`

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &MetadataDB{db: db}, nil
}

// CreateJob inserts a new job record
func (mdb *MetadataDB) CreateJob(rec *types.JobRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = types.StatusQueued
	}

	query := `
	INSERT INTO jobs (job_id, name, source_type, status, handle1, handle2, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := mdb.db.Exec(query, rec.ID, rec.Name, rec.Source, rec.Status,
		rec.Handles[0], rec.Handles[1], rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", rec.ID, err)
	}
	return nil
}

// UpdateStatus moves a job to a new status, recording errMsg for failures
func (mdb *MetadataDB) UpdateStatus(jobID, status, errMsg string) error {
	res, err := mdb.db.Exec(`UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE job_id = ?`,
		status, errMsg, time.Now().UTC(), jobID)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", jobID, err)
	}
	return expectOne(res, jobID)
}

// CompleteJob stores the diarization outcome and marks the job completed
func (mdb *MetadataDB) CompleteJob(rec *types.JobRecord) error {
	rec.Status = types.StatusCompleted
	rec.UpdatedAt = time.Now().UTC()

	query := `
	UPDATE jobs SET status = ?, avatar1 = ?, avatar2 = ?, duration = ?, seconds = ?,
		speaking1 = ?, speaking2 = ?, swapped = ?, bundle_path = ?, audio_path = ?,
		error = '', updated_at = ?
	WHERE job_id = ?
	`
	res, err := mdb.db.Exec(query, rec.Status, rec.AvatarURLs[0], rec.AvatarURLs[1],
		rec.Duration, rec.Seconds, rec.SpeakingTime[0], rec.SpeakingTime[1], rec.Swapped,
		rec.BundlePath, rec.AudioPath, rec.UpdatedAt, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to complete job %s: %w", rec.ID, err)
	}
	return expectOne(res, rec.ID)
}

// SetExport records the latest export artifact of a job
func (mdb *MetadataDB) SetExport(jobID, exportPath, gdriveURL string) error {
	res, err := mdb.db.Exec(`UPDATE jobs SET export_path = ?, gdrive_url = ?, updated_at = ? WHERE job_id = ?`,
		exportPath, gdriveURL, time.Now().UTC(), jobID)
	if err != nil {
		return fmt.Errorf("failed to record export for %s: %w", jobID, err)
	}
	return expectOne(res, jobID)
}

const selectJob = `
SELECT job_id, name, source_type, status, handle1, handle2, avatar1, avatar2,
	duration, seconds, speaking1, speaking2, swapped, bundle_path, audio_path,
	export_path, gdrive_url, error, created_at, updated_at
FROM jobs
`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*types.JobRecord, error) {
	var rec types.JobRecord
	err := row.Scan(&rec.ID, &rec.Name, &rec.Source, &rec.Status,
		&rec.Handles[0], &rec.Handles[1], &rec.AvatarURLs[0], &rec.AvatarURLs[1],
		&rec.Duration, &rec.Seconds, &rec.SpeakingTime[0], &rec.SpeakingTime[1], &rec.Swapped,
		&rec.BundlePath, &rec.AudioPath, &rec.ExportPath, &rec.GDriveURL, &rec.Error,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetJob retrieves a job by ID
func (mdb *MetadataDB) GetJob(jobID string) (*types.JobRecord, error) {
	rec, err := scanJob(mdb.db.QueryRow(selectJob+` WHERE job_id = ?`, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return rec, nil
}

// ListJobs returns the most recent jobs first
func (mdb *MetadataDB) ListJobs(limit int) ([]*types.JobRecord, error) {
	rows, err := mdb.db.Query(selectJob+` ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*types.JobRecord, 0, limit)
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, rec)
	}
	return jobs, rows.Err()
}

// Close closes the database connection
func (mdb *MetadataDB) Close() error {
	return mdb.db.Close()
}

func expectOne(res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return nil
}
