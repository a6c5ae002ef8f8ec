package copyout

import "context"

// JobStatus is the lifecycle status of a dispatched job.
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobSucceeded JobStatus = "SUCCEEDED"
	JobFailed    JobStatus = "FAILED"
	JobTimedOut  JobStatus = "TIMED_OUT"
)

// Terminal reports whether no further transitions are possible for the job.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobTimedOut
}

// JobSpec describes one containerized copy job.
type JobSpec struct {
	// Group ties the job to its run (used for tagging and startedBy).
	Group       string
	Command     []string
	Environment map[string]string
}

// JobState is what the execution fleet reports for a submitted job.
type JobState struct {
	ID     string
	Status JobStatus
	// FleetFailure is set when a failed job never ran its command to completion,
	// for example because capacity was reclaimed or the container failed to start.
	FleetFailure bool
	ExitCode     *int32
	Reason       string
	LogStream    string
}

// JobRunner is the execution fleet the Dispatcher submits jobs to.
type JobRunner interface {
	// Submit starts a job and returns its identifier. A returned error means the fleet did not
	// accept the job.
	Submit(ctx context.Context, spec JobSpec) (string, error)
	// Describe returns the current state of a previously submitted job.
	Describe(ctx context.Context, jobID string) (JobState, error)
	// Stop asks the fleet to terminate a job.
	Stop(ctx context.Context, jobID string, reason string) error
}

// Observer receives dispatch events. JobSubmitted and JobFinished pair up per accepted
// submission. Implementations must be safe for concurrent use.
type Observer interface {
	JobSubmitted(runID string)
	JobFinished(runID string, status JobStatus)
	JobRetried(runID string)
	BatchFinished(runID string, status JobStatus)
	RunFinished(runID string, status RunStatus)
}

type nopObserver struct{}

func (nopObserver) JobSubmitted(string)             {}
func (nopObserver) JobFinished(string, JobStatus)   {}
func (nopObserver) JobRetried(string)               {}
func (nopObserver) BatchFinished(string, JobStatus) {}
func (nopObserver) RunFinished(string, RunStatus)   {}
