package installer

import "fmt"

// JobConflictError is returned when an install is submitted for a package
// that already has a live job. The existing job keeps running.
type JobConflictError struct {
	PackageID string
}

func (e *JobConflictError) Error() string {
	return fmt.Sprintf("an install job for %s is already running", e.PackageID)
}

// IntegrityError reports a downloaded asset that does not match what the
// release metadata promised.
type IntegrityError struct {
	PackageID string
	Field     string // "size" or "checksum"
	Expected  string
	Actual    string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %s: %s mismatch (expected %s, got %s)",
		e.PackageID, e.Field, e.Expected, e.Actual)
}

// CancellationError marks a job that stopped because the user asked it to.
// It is a distinct type so callers can tell user intent apart from failure.
type CancellationError struct {
	PackageID string
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("install of %s was canceled", e.PackageID)
}
