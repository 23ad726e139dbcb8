package models

// JobStatus is the lifecycle state of one install job.
type JobStatus string

const (
	StatusQueued      JobStatus = "queued"
	StatusDownloading JobStatus = "downloading"
	StatusVerifying   JobStatus = "verifying"
	StatusExtracting  JobStatus = "extracting"
	StatusCompleted   JobStatus = "completed"
	StatusFailed      JobStatus = "failed"
	StatusCanceled    JobStatus = "canceled"
)

// Terminal reports whether a job in this status will make no further progress.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// InstallJob is the transient state of one in-flight operation. It is created
// when an install is requested and discarded once a terminal status has been
// observed by the caller.
type InstallJob struct {
	PackageID     string    `json:"package_id"`
	TargetPath    string    `json:"target_path"`
	ProgressBytes int64     `json:"progress_bytes"`
	TotalBytes    int64     `json:"total_bytes"`
	Status        JobStatus `json:"status"`
	Message       string    `json:"message,omitempty"`
}
