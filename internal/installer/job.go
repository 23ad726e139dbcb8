package installer

import (
	"context"
	"sync"

	"github.com/sreramk/kostore-go/internal/models"
)

// Job is the caller's handle on one in-flight install. Progress arrives on
// Events; Wait blocks until the job reaches a terminal state and returns its
// outcome. The events channel is closed when the job finishes.
type Job struct {
	ID        string
	PackageID string

	events chan models.ProgressUpdate
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	state models.InstallJob
	err   error
}

func newJob(id string, pkg models.PackageMetadata, targetPath string, cancel context.CancelFunc) *Job {
	return &Job{
		ID:        id,
		PackageID: pkg.ID,
		events:    make(chan models.ProgressUpdate, 64),
		cancel:    cancel,
		done:      make(chan struct{}),
		state: models.InstallJob{
			PackageID:  pkg.ID,
			TargetPath: targetPath,
			TotalBytes: pkg.AssetSize,
			Status:     models.StatusQueued,
		},
	}
}

// Events returns the stream of progress updates for this job.
func (j *Job) Events() <-chan models.ProgressUpdate {
	return j.events
}

// Cancel requests the job to stop. It returns immediately; the job reports
// StatusCanceled through Events and Wait once it has cleaned up. Canceling a
// finished job is a no-op.
func (j *Job) Cancel() {
	j.cancel()
}

// Wait blocks until the job reaches a terminal state. It returns nil on
// success, *CancellationError after a cancel, and the failure cause
// otherwise.
func (j *Job) Wait() error {
	<-j.done
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Status returns a snapshot of the job's current state.
func (j *Job) Status() models.InstallJob {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// update advances the job state and returns the progress event to publish.
func (j *Job) update(status models.JobStatus, message string, progress int64) models.ProgressUpdate {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state.Status = status
	j.state.Message = message
	if progress >= 0 {
		j.state.ProgressBytes = progress
	}
	return models.ProgressUpdate{
		JobID:         j.ID,
		PackageID:     j.PackageID,
		Message:       message,
		Status:        status,
		ProgressBytes: j.state.ProgressBytes,
		TotalBytes:    j.state.TotalBytes,
		Done:          status.Terminal(),
	}
}

// finish records the outcome and releases Wait. Called exactly once.
func (j *Job) finish(err error) {
	j.mu.Lock()
	j.err = err
	j.mu.Unlock()
	close(j.events)
	close(j.done)
}

// publish delivers an event without ever blocking the worker. A consumer
// that stopped draining just misses intermediate ticks; terminal state is
// still observable through Wait and Status.
func (j *Job) publish(update models.ProgressUpdate) {
	select {
	case j.events <- update:
	default:
	}
}
