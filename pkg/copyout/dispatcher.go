package copyout

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// DefaultPollInterval is how often a running job is described.
	DefaultPollInterval = 10 * time.Second
	// DefaultJobTimeout bounds the runtime of a single job on the fleet.
	DefaultJobTimeout = 4 * time.Hour
	// DefaultSubmitRetries is the number of additional submissions after a fleet-level failure.
	DefaultSubmitRetries = 2

	// stopPolls bounds the describes spent waiting for a stopped job to reach a terminal state.
	stopPolls = 12
)

// DestinationEnv is the job environment variable carrying the destination.
const DestinationEnv = "destination"

// DispatcherConfig tunes job submission and polling. These are properties of the execution
// fleet and not of an individual run.
type DispatcherConfig struct {
	PollInterval  time.Duration
	JobTimeout    time.Duration
	SubmitRetries int
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = DefaultJobTimeout
	}
	if c.SubmitRetries < 0 {
		c.SubmitRetries = 0
	}
	return c
}

// Dispatcher runs one job per batch on the execution fleet with bounded concurrency.
type Dispatcher struct {
	runner   JobRunner
	cfg      DispatcherConfig
	observer Observer
}

// NewDispatcher returns a Dispatcher submitting jobs to runner. observer may be nil.
func NewDispatcher(runner JobRunner, cfg DispatcherConfig, observer Observer) *Dispatcher {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Dispatcher{
		runner:   runner,
		cfg:      cfg.withDefaults(),
		observer: observer,
	}
}

// Dispatch runs every batch to a terminal outcome and returns the outcomes keyed by batch index.
// At most maxConcurrency jobs are outstanding at any time. A failed batch never cancels its
// siblings.
func (d *Dispatcher) Dispatch(ctx context.Context, runID string, batches []Batch, maxConcurrency int) map[int]BatchOutcome {
	outcomes := make(map[int]BatchOutcome, len(batches))
	if len(batches) == 0 {
		return outcomes
	}

	nrWorkers := maxConcurrency
	if nrWorkers < 1 {
		nrWorkers = 1
	}
	if nrWorkers > len(batches) {
		nrWorkers = len(batches)
	}

	batchWalker := make(chan Batch)
	results := make(chan BatchOutcome, nrWorkers)

	// Feed batches in manifest order.
	go func() {
		defer close(batchWalker)
		for _, b := range batches {
			select {
			case batchWalker <- b:
			case <-ctx.Done():
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for o := range results {
			outcomes[o.Batch] = o
		}
	}()

	var wg sync.WaitGroup
	for w := 1; w <= nrWorkers; w++ {
		wg.Add(1)
		go d.worker(ctx, &wg, w, runID, batchWalker, results)
	}
	wg.Wait()
	close(results)
	<-done

	// Batches never handed to a worker because the context ended still need an outcome.
	for _, b := range batches {
		if _, ok := outcomes[b.Index]; !ok {
			reason := "not dispatched"
			if ctx.Err() != nil {
				reason = fmt.Sprintf("not dispatched: %v", ctx.Err())
			}
			outcomes[b.Index] = BatchOutcome{Batch: b.Index, Status: JobFailed, Reason: reason, Sources: b.Sources()}
			d.observer.BatchFinished(runID, JobFailed)
		}
	}

	return outcomes
}

// worker runs batches from the channel one at a time until the channel closes.
func (d *Dispatcher) worker(ctx context.Context, wg *sync.WaitGroup, workerId int, runID string,
	batches <-chan Batch, results chan<- BatchOutcome) {

	defer func() {
		log.WithFields(log.Fields{"run_id": runID, "worker": workerId}).Debug("closing dispatch worker")
		wg.Done()
	}()

	for b := range batches {
		results <- d.runBatch(ctx, runID, b)
	}
}

// runBatch submits the job for one batch, resubmitting on fleet-level failures, and waits
// for its terminal state.
func (d *Dispatcher) runBatch(ctx context.Context, runID string, b Batch) BatchOutcome {
	spec := JobSpecFor(runID, b)
	outcome := BatchOutcome{Batch: b.Index, Sources: spec.Command}
	logger := log.WithFields(log.Fields{"run_id": runID, "batch": b.Index})

	maxAttempts := d.cfg.SubmitRetries + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		outcome.Attempts = attempt
		if attempt > 1 {
			d.observer.JobRetried(runID)
		}

		jobID, err := d.runner.Submit(ctx, spec)
		if err != nil {
			logger.WithField("attempt", attempt).Warnf("job submission failed: %v", err)
			outcome.Status = JobFailed
			outcome.Reason = fmt.Sprintf("submission failed: %v", err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		d.observer.JobSubmitted(runID)

		outcome.JobID = jobID
		state := d.await(ctx, logger.WithFields(log.Fields{"job_id": jobID, "attempt": attempt}), jobID)
		d.observer.JobFinished(runID, state.Status)
		outcome.Status = state.Status
		outcome.Reason = state.Reason

		if state.Status == JobFailed && state.FleetFailure && ctx.Err() == nil {
			logger.WithFields(log.Fields{"job_id": jobID, "attempt": attempt}).
				Warnf("job failed on the fleet, resubmitting: %s", state.Reason)
			continue
		}
		break
	}

	d.observer.BatchFinished(runID, outcome.Status)

	entry := logger.WithFields(log.Fields{
		"job_id":   outcome.JobID,
		"attempts": outcome.Attempts,
		"status":   outcome.Status,
	})
	if outcome.Failed() {
		entry.Warnf("batch failed: %s", outcome.Reason)
	} else {
		entry.Info("batch copied")
	}
	return outcome
}

// await polls the job until it reaches a terminal state or exceeds the job timeout.
// Describe errors are logged and polling continues.
func (d *Dispatcher) await(ctx context.Context, logger *log.Entry, jobID string) JobState {
	deadline := time.Now().Add(d.cfg.JobTimeout)
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		state, err := d.runner.Describe(ctx, jobID)
		switch {
		case err != nil:
			logger.Warnf("unable to describe job: %v", err)
		case state.Status.Terminal():
			return state
		default:
			logger.WithField("job_status", state.Status).Debug("job not finished")
		}

		if !time.Now().Before(deadline) {
			reason := fmt.Sprintf("job exceeded timeout of %s", d.cfg.JobTimeout)
			if err := d.runner.Stop(context.WithoutCancel(ctx), jobID, reason); err != nil {
				logger.Warnf("unable to stop timed out job: %v", err)
			} else {
				d.awaitStopped(ctx, logger, jobID)
			}
			return JobState{ID: jobID, Status: JobTimedOut, Reason: reason}
		}

		select {
		case <-ctx.Done():
			return JobState{ID: jobID, Status: JobFailed, Reason: ctx.Err().Error()}
		case <-ticker.C:
		}
	}
}

// awaitStopped polls a stopped job until the fleet reports it terminal, at most stopPolls
// times. The worker takes no new batch before then, so a stopping task still counts against
// the concurrency bound.
func (d *Dispatcher) awaitStopped(ctx context.Context, logger *log.Entry, jobID string) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for i := 0; i < stopPolls; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		state, err := d.runner.Describe(ctx, jobID)
		if err == nil && state.Status.Terminal() {
			return
		}
	}
	logger.Warn("timed out job still not stopped, releasing its slot")
}

// JobSpecFor builds the job for a batch: the sources as the command and the destination plus
// any pass-through parameters as environment.
func JobSpecFor(runID string, b Batch) JobSpec {
	env := make(map[string]string, len(b.Params)+1)
	for k, v := range b.Params {
		env[k] = v
	}
	env[DestinationEnv] = b.Destination

	return JobSpec{
		Group:       runID,
		Command:     b.Sources(),
		Environment: env,
	}
}
