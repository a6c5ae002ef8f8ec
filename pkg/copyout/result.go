package copyout

import "time"

// RunStatus is the overall outcome of a copy-out run.
type RunStatus string

const (
	RunSucceeded      RunStatus = "SUCCEEDED"
	RunPartialFailure RunStatus = "PARTIAL_FAILURE"
	RunFailed         RunStatus = "FAILED"
)

// BatchOutcome is the terminal outcome of one batch.
type BatchOutcome struct {
	Batch    int       `json:"batch"`
	JobID    string    `json:"jobId,omitempty"`
	Attempts int       `json:"attempts"`
	Status   JobStatus `json:"status"`
	Reason   string    `json:"reason,omitempty"`
	Sources  []string  `json:"-"`
}

// Failed reports whether the outcome counts against the tolerated failure percentage.
func (o BatchOutcome) Failed() bool {
	return o.Status != JobSucceeded
}

// RunResult is the aggregate outcome of one invocation.
type RunResult struct {
	RunID            string               `json:"runId"`
	Status           RunStatus            `json:"status"`
	TotalItems       int                  `json:"totalItems"`
	TotalBatches     int                  `json:"totalBatches"`
	SucceededBatches int                  `json:"succeededBatches"`
	FailedBatches    int                  `json:"failedBatches"`
	Outcomes         map[int]BatchOutcome `json:"-"`
	StartedAt        time.Time            `json:"startedAt"`
	CompletedAt      time.Time            `json:"completedAt"`
}

// FailurePercentage returns the share of failed batches in percent. Zero batches yield zero.
func (r *RunResult) FailurePercentage() float64 {
	if r.TotalBatches == 0 {
		return 0
	}
	return float64(r.FailedBatches) * 100 / float64(r.TotalBatches)
}

// RunStatusFor decides the run status from batch counts. A run fails only when the failed
// share strictly exceeds the tolerated percentage.
func RunStatusFor(total int, failed int, toleratedFailurePercentage float64) RunStatus {
	if total == 0 || failed == 0 {
		return RunSucceeded
	}
	if float64(failed)*100 > toleratedFailurePercentage*float64(total) {
		return RunFailed
	}
	return RunPartialFailure
}

// summarize folds batch outcomes into counts and the run status.
func summarize(result *RunResult, outcomes map[int]BatchOutcome, toleratedFailurePercentage float64) {
	result.Outcomes = outcomes
	result.TotalBatches = len(outcomes)
	result.SucceededBatches = 0
	result.FailedBatches = 0
	for _, o := range outcomes {
		if o.Failed() {
			result.FailedBatches++
		} else {
			result.SucceededBatches++
		}
	}
	result.Status = RunStatusFor(result.TotalBatches, result.FailedBatches, toleratedFailurePercentage)
}
