package gpucompute

import "fmt"

// DefaultRetryLimit is the default retry limit of a worker.
const DefaultRetryLimit = 5

// JobState is the state of a job in the retry state machine.
type JobState uint8

const (
	// JobSubmitted is a job taken from the queue for a dispatch attempt.
	JobSubmitted JobState = iota
	// JobRequeued is a job put back after a recoverable failure.
	JobRequeued
	// JobComplete is a job whose results were sent to the owner.
	JobComplete
	// JobFailed is an abandoned job.
	JobFailed
)

// String returns a human-readable name for the job state.
func (s JobState) String() string {
	switch s {
	case JobSubmitted:
		return "submitted"
	case JobRequeued:
		return "requeued"
	case JobComplete:
		return "complete"
	case JobFailed:
		return "failed"
	default:
		return fmt.Sprintf("JobState(%d)", s)
	}
}

// RetryState is the retry bookkeeping of a job.
type RetryState struct {
	Count int
	Limit int
}

// Exhausted reports whether another failure abandons the job.
func (r RetryState) Exhausted() bool {
	return r.Count > r.Limit
}

// requeue decides the fate of a job whose preparation failed with cause.
// It returns the job to enqueue for the next cycle, or an error wrapping
// ErrRetryLimit and cause when the job is abandoned.
func requeue(job Job, limit int, cause error) (Job, JobState, error) {
	state := RetryState{Count: job.Retry, Limit: limit}
	if state.Exhausted() {
		return Job{}, JobFailed, fmt.Errorf("%w: %d attempts: %w", ErrRetryLimit, job.Retry+1, cause)
	}
	job.Retry++
	return job, JobRequeued, nil
}
