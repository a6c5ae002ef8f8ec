package copyout

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
)

// memoryStore is an ObjectGetter over in-memory objects.
type memoryStore struct {
	objects map[string]string
	reads   atomic.Int32
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string]string{}}
}

func (m *memoryStore) put(bucket string, key string, body string) {
	m.objects[bucket+"/"+key] = body
}

func (m *memoryStore) GetObject(_ context.Context, bucket string, key string) (io.ReadCloser, error) {
	m.reads.Add(1)
	body, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, ErrManifestNotFound)
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

type fakeJob struct {
	spec          JobSpec
	polls         int
	final         JobState
	done          bool
	stopped       bool
	stopDescribes int
}

// fakeRunner is an in-memory execution fleet. Jobs finish after pollsUntilDone describes with
// the state returned by outcome; submitErr can reject submissions.
type fakeRunner struct {
	mu             sync.Mutex
	jobs           map[string]*fakeJob
	submitted      []JobSpec
	attempts       map[string]int
	stopped        []string
	pollsUntilDone int

	outcome   func(spec JobSpec, attempt int) JobState
	submitErr func(spec JobSpec, attempt int) error

	active    atomic.Int32
	maxActive atomic.Int32
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		jobs:           map[string]*fakeJob{},
		attempts:       map[string]int{},
		pollsUntilDone: 2,
	}
}

func batchKey(spec JobSpec) string {
	return strings.Join(spec.Command, ",")
}

func (f *fakeRunner) Submit(_ context.Context, spec JobSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := batchKey(spec)
	f.attempts[key]++
	attempt := f.attempts[key]

	if f.submitErr != nil {
		if err := f.submitErr(spec, attempt); err != nil {
			return "", err
		}
	}

	final := JobState{Status: JobSucceeded}
	if f.outcome != nil {
		final = f.outcome(spec, attempt)
	}

	id := fmt.Sprintf("job-%d", len(f.submitted)+1)
	final.ID = id
	f.jobs[id] = &fakeJob{spec: spec, final: final}
	f.submitted = append(f.submitted, spec)

	n := f.active.Add(1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	return id, nil
}

func (f *fakeRunner) Describe(_ context.Context, jobID string) (JobState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[jobID]
	if !ok {
		return JobState{}, fmt.Errorf("unknown job %s", jobID)
	}
	if job.stopped {
		job.stopDescribes++
		return JobState{ID: jobID, Status: JobFailed, Reason: "stopped"}, nil
	}
	job.polls++
	if job.polls < f.pollsUntilDone || !job.final.Status.Terminal() {
		return JobState{ID: jobID, Status: JobRunning}, nil
	}
	if !job.done {
		job.done = true
		f.active.Add(-1)
	}
	return job.final, nil
}

func (f *fakeRunner) Stop(_ context.Context, jobID string, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stopped = append(f.stopped, jobID)
	if job, ok := f.jobs[jobID]; ok {
		job.stopped = true
		if !job.done {
			job.done = true
			f.active.Add(-1)
		}
	}
	return nil
}

func (f *fakeRunner) submittedSpecs() []JobSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]JobSpec(nil), f.submitted...)
}

// countingObserver records dispatch events.
type countingObserver struct {
	submitted atomic.Int32
	jobsDone  atomic.Int32
	retried   atomic.Int32
	finished  atomic.Int32
	runs      atomic.Int32
}

func (c *countingObserver) JobSubmitted(string)             { c.submitted.Add(1) }
func (c *countingObserver) JobFinished(string, JobStatus)   { c.jobsDone.Add(1) }
func (c *countingObserver) JobRetried(string)               { c.retried.Add(1) }
func (c *countingObserver) BatchFinished(string, JobStatus) { c.finished.Add(1) }
func (c *countingObserver) RunFinished(string, RunStatus)   { c.runs.Add(1) }
