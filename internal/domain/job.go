package domain

import (
	"time"
)

// JobStatus represents the lifecycle state of a DownloadJob.
type JobStatus string

const (
	JobStatusPending     JobStatus = "pending"
	JobStatusDownloading JobStatus = "downloading"
	JobStatusProcessing  JobStatus = "processing"
	JobStatusCompleted   JobStatus = "completed"
	JobStatusError       JobStatus = "error"
)

// IsTerminal reports whether no further transitions can happen.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

// IsActive reports whether the job is moving bytes or placing them.
func (s JobStatus) IsActive() bool {
	return s == JobStatusDownloading || s == JobStatusProcessing
}

// DownloadJob is one in-flight or finished transfer as seen by observers.
type DownloadJob struct {
	ID              string    `json:"id"`
	FileName        string    `json:"file_name"`
	SourceLabel     string    `json:"source_label"`
	SystemID        string    `json:"system_id,omitempty"`
	Progress        int       `json:"progress"`
	DownloadedBytes int64     `json:"downloaded_bytes"`
	TotalBytes      int64     `json:"total_bytes"`
	Status          JobStatus `json:"status"`
	Error           string    `json:"error,omitempty"`
	FilePath        string    `json:"file_path,omitempty"`
	Backend         Backend   `json:"backend,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// JobID derives the stable identifier of a job from its collection and file.
func JobID(itemID, fileName string) string {
	return itemID + "_" + fileName
}
