package types

import "time"

// Job status constants
const (
	StatusCapturing  = "CAPTURING"
	StatusQueued     = "QUEUED"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// Source type constants
const (
	SourceUpload  = "upload"
	SourceGDrive  = "gdrive"
	SourceYouTube = "youtube"
	SourceStream  = "stream"
	SourceCLI     = "cli"
)

// JobRecord is the persisted view of a diarization job
type JobRecord struct {
	ID           string    `json:"job_id"`
	Name         string    `json:"name"`
	Source       string    `json:"source"`
	Status       string    `json:"status"`
	Handles      [2]string `json:"handles"`
	AvatarURLs   [2]string `json:"avatar_urls"`
	Duration     float64   `json:"duration"`
	Seconds      int       `json:"seconds"`
	SpeakingTime [2]int    `json:"speaking_time"`
	Swapped      bool      `json:"swapped"`
	BundlePath   string    `json:"bundle_path,omitempty"`
	AudioPath    string    `json:"audio_path,omitempty"`
	ExportPath   string    `json:"export_path,omitempty"`
	GDriveURL    string    `json:"gdrive_url,omitempty"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
