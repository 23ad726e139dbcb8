package models

type ProgressUpdate struct {
	JobID         string    `json:"jobId"`
	PackageID     string    `json:"package_id"`
	Message       string    `json:"message"`
	Status        JobStatus `json:"status"`
	ProgressBytes int64     `json:"progress_bytes"`
	TotalBytes    int64     `json:"total_bytes"`
	Done          bool      `json:"done"`
}
