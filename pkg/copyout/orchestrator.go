package copyout

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// State is a stage of the copy-out pipeline.
type State int

const (
	StateDefaulting State = iota
	StateReading
	StateBatching
	StateDispatching
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateDefaulting:
		return "Defaulting"
	case StateReading:
		return "Reading"
	case StateBatching:
		return "Batching"
	case StateDispatching:
		return "Dispatching"
	case StateCompleted:
		return "Completed"
	}
	return "Unknown"
}

// Event is the outcome of the work done in a state.
type Event int

const (
	EventDone Event = iota
	EventFailed
)

// transition returns the state following s after event e. The pipeline is linear: every
// failure and the end of Dispatching lead to Completed, which is terminal.
func transition(s State, e Event) State {
	if e == EventFailed {
		return StateCompleted
	}
	switch s {
	case StateDefaulting:
		return StateReading
	case StateReading:
		return StateBatching
	case StateBatching:
		return StateDispatching
	}
	return StateCompleted
}

// Orchestrator drives one copy-out run through Defaulting, Reading, Batching and Dispatching.
type Orchestrator struct {
	reader     *ManifestReader
	dispatcher *Dispatcher
	observer   Observer
}

// NewOrchestrator returns an Orchestrator. observer may be nil.
func NewOrchestrator(reader *ManifestReader, dispatcher *Dispatcher, observer Observer) *Orchestrator {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Orchestrator{
		reader:     reader,
		dispatcher: dispatcher,
		observer:   observer,
	}
}

// run holds the data flowing through the states of a single invocation.
type run struct {
	id      string
	raw     []byte
	request *Request
	items   []CopyItem
	batches []Batch
	result  *RunResult
	err     error
}

// Run executes the invocation document raw under runID. Configuration and manifest errors are
// returned immediately and no job is dispatched. Otherwise the completed RunResult is returned;
// a run that exceeded its tolerated failure percentage is a result with status FAILED, not an
// error.
func (o *Orchestrator) Run(ctx context.Context, runID string, raw []byte) (*RunResult, error) {
	r := &run{
		id:     runID,
		raw:    raw,
		result: &RunResult{RunID: runID, StartedAt: time.Now().UTC()},
	}
	logger := log.WithField("run_id", runID)

	state := StateDefaulting
	for state != StateCompleted {
		var err error
		switch state {
		case StateDefaulting:
			err = o.applyDefaults(r)
		case StateReading:
			err = o.readManifest(ctx, r)
		case StateBatching:
			o.batch(r)
		case StateDispatching:
			o.dispatch(ctx, r)
		}

		event := EventDone
		if err != nil {
			r.err = err
			event = EventFailed
		}
		next := transition(state, event)
		logger.WithFields(log.Fields{"from": state.String(), "to": next.String()}).Debug("state transition")
		state = next
	}

	r.result.CompletedAt = time.Now().UTC()
	if r.err != nil {
		logger.WithError(r.err).Error("copy-out aborted before dispatch")
		o.observer.RunFinished(runID, RunFailed)
		return nil, r.err
	}

	logger.WithFields(log.Fields{
		"status":            r.result.Status,
		"total_batches":     r.result.TotalBatches,
		"failed_batches":    r.result.FailedBatches,
		"succeeded_batches": r.result.SucceededBatches,
	}).Info("copy-out completed")
	o.observer.RunFinished(runID, r.result.Status)
	return r.result, nil
}

func (o *Orchestrator) applyDefaults(r *run) error {
	req, err := ParseRequest(r.raw)
	if err != nil {
		return err
	}
	r.request = req
	return nil
}

func (o *Orchestrator) readManifest(ctx context.Context, r *run) error {
	items, err := o.reader.Read(ctx, r.request.ManifestLocation())
	if err != nil {
		return err
	}
	r.items = items
	r.result.TotalItems = len(items)
	return nil
}

func (o *Orchestrator) batch(r *run) {
	r.batches = MakeBatches(r.items, r.request.MaxItemsPerBatch, r.request.Destination(), r.request.Extra)
	log.WithFields(log.Fields{
		"run_id":        r.id,
		"item_count":    len(r.items),
		"batch_count":   len(r.batches),
		"max_per_batch": r.request.MaxItemsPerBatch,
	}).Info("manifest batched")
}

func (o *Orchestrator) dispatch(ctx context.Context, r *run) {
	outcomes := o.dispatcher.Dispatch(ctx, r.id, r.batches, r.request.MaxConcurrency)
	summarize(r.result, outcomes, r.request.ToleratedFailurePercentage)
}
