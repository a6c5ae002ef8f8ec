package copyout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orchestratorFixture struct {
	store    *memoryStore
	runner   *fakeRunner
	observer *countingObserver
	orch     *Orchestrator
}

func newOrchestratorFixture() *orchestratorFixture {
	f := &orchestratorFixture{
		store:    newMemoryStore(),
		runner:   newFakeRunner(),
		observer: &countingObserver{},
	}
	dispatcher := NewDispatcher(f.runner, DispatcherConfig{PollInterval: time.Millisecond, JobTimeout: time.Minute}, f.observer)
	f.orch = NewOrchestrator(NewManifestReader(f.store), dispatcher, f.observer)
	return f
}

func TestOrchestrator(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T, f *orchestratorFixture){
		"happy path batches in manifest order":        testRunHappyPath,
		"failures within tolerance partially succeed": testRunPartialFailure,
		"failures over tolerance fail the run":        testRunOverTolerance,
		"malformed manifest dispatches nothing":       testRunBadManifest,
		"missing manifest dispatches nothing":         testRunMissingManifest,
		"invalid request reads nothing":               testRunInvalidRequest,
		"empty manifest succeeds":                     testRunEmptyManifest,
		"extra parameters reach every job":            testRunExtraParameters,
		"huge batch size yields a single batch":       testRunHugeBatchSize,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, newOrchestratorFixture())
		})
	}
}

func testRunHappyPath(t *testing.T, f *orchestratorFixture) {
	f.store.put("src", "m.csv", "b1,k1\nb1,k2\nb2,k3\n")

	result, err := f.orch.Run(context.Background(), "run-a", []byte(`{
		"sourceFilesCsvBucket": "src",
		"sourceFilesCsvKey": "m.csv",
		"destinationBucket": "dest",
		"maxItemsPerBatch": 2
	}`))
	require.NoError(t, err)

	specs := f.runner.submittedSpecs()
	require.Len(t, specs, 2)
	commands := [][]string{specs[0].Command, specs[1].Command}
	assert.ElementsMatch(t, [][]string{{"s3:b1/k1", "s3:b1/k2"}, {"s3:b2/k3"}}, commands)
	for _, spec := range specs {
		assert.Equal(t, "s3:dest", spec.Environment[DestinationEnv])
	}

	assert.Equal(t, RunSucceeded, result.Status)
	assert.Equal(t, "run-a", result.RunID)
	assert.Equal(t, 3, result.TotalItems)
	assert.Equal(t, 2, result.TotalBatches)
	assert.Equal(t, 2, result.SucceededBatches)
	assert.Equal(t, []string{"s3:b1/k1", "s3:b1/k2"}, result.Outcomes[0].Sources)
	assert.Equal(t, []string{"s3:b2/k3"}, result.Outcomes[1].Sources)
	assert.False(t, result.CompletedAt.Before(result.StartedAt))
	assert.Equal(t, int32(1), f.observer.runs.Load())
}

func testRunPartialFailure(t *testing.T, f *orchestratorFixture) {
	f.store.put("src", "m.csv", "b,k0\nb,k1\nb,k2\nb,k3\n")
	f.runner.outcome = func(spec JobSpec, _ int) JobState {
		if spec.Command[0] == "s3:b/k2" {
			return JobState{Status: JobFailed, Reason: "copy failed"}
		}
		return JobState{Status: JobSucceeded}
	}

	result, err := f.orch.Run(context.Background(), "run-b", []byte(`{
		"sourceFilesCsvBucket": "src",
		"sourceFilesCsvKey": "m.csv",
		"destinationBucket": "dest",
		"toleratedFailurePercentage": 25
	}`))
	require.NoError(t, err)

	assert.Equal(t, RunPartialFailure, result.Status)
	assert.Equal(t, 4, result.TotalBatches)
	assert.Equal(t, 1, result.FailedBatches)
	assert.Equal(t, JobFailed, result.Outcomes[2].Status)
}

func testRunOverTolerance(t *testing.T, f *orchestratorFixture) {
	f.store.put("src", "m.csv", "b,k0\nb,k1\nb,k2\nb,k3\n")
	f.runner.outcome = func(spec JobSpec, _ int) JobState {
		if spec.Command[0] == "s3:b/k0" || spec.Command[0] == "s3:b/k3" {
			return JobState{Status: JobFailed, Reason: "copy failed"}
		}
		return JobState{Status: JobSucceeded}
	}

	result, err := f.orch.Run(context.Background(), "run-c", []byte(`{
		"sourceFilesCsvBucket": "src",
		"sourceFilesCsvKey": "m.csv",
		"destinationBucket": "dest",
		"toleratedFailurePercentage": 25
	}`))
	require.NoError(t, err)

	assert.Equal(t, RunFailed, result.Status)
	assert.Equal(t, 2, result.FailedBatches)
	assert.Equal(t, 50.0, result.FailurePercentage())
}

func testRunBadManifest(t *testing.T, f *orchestratorFixture) {
	f.store.put("src", "m.csv", "b1,k1\nonlyonecolumn\n")

	result, err := f.orch.Run(context.Background(), "run", []byte(`{
		"sourceFilesCsvBucket": "src",
		"sourceFilesCsvKey": "m.csv",
		"destinationBucket": "dest"
	}`))

	assert.Nil(t, result)
	var fmtErr *ManifestFormatError
	require.ErrorAs(t, err, &fmtErr)
	assert.Empty(t, f.runner.submittedSpecs())
	assert.Equal(t, int32(0), f.observer.submitted.Load())
}

func testRunMissingManifest(t *testing.T, f *orchestratorFixture) {
	_, err := f.orch.Run(context.Background(), "run", []byte(`{
		"sourceFilesCsvBucket": "src",
		"sourceFilesCsvKey": "absent.csv",
		"destinationBucket": "dest"
	}`))

	require.ErrorIs(t, err, ErrManifestNotFound)
	assert.Empty(t, f.runner.submittedSpecs())
}

func testRunInvalidRequest(t *testing.T, f *orchestratorFixture) {
	_, err := f.orch.Run(context.Background(), "run", []byte(`{
		"sourceFilesCsvBucket": "src",
		"sourceFilesCsvKey": "m.csv",
		"destinationBucket": "dest",
		"maxItemsPerBatch": 0
	}`))

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, int32(0), f.store.reads.Load())
	assert.Empty(t, f.runner.submittedSpecs())
	assert.Equal(t, int32(1), f.observer.runs.Load())
}

func testRunEmptyManifest(t *testing.T, f *orchestratorFixture) {
	f.store.put("src", "m.csv", "")

	result, err := f.orch.Run(context.Background(), "run", []byte(`{
		"sourceFilesCsvBucket": "src",
		"sourceFilesCsvKey": "m.csv",
		"destinationBucket": "dest"
	}`))
	require.NoError(t, err)

	assert.Equal(t, RunSucceeded, result.Status)
	assert.Equal(t, 0, result.TotalBatches)
	assert.Empty(t, f.runner.submittedSpecs())
}

func testRunExtraParameters(t *testing.T, f *orchestratorFixture) {
	f.store.put("src", "m.csv", "b1,k1\nb2,k2\n")

	_, err := f.orch.Run(context.Background(), "run", []byte(`{
		"sourceFilesCsvBucket": "src",
		"sourceFilesCsvKey": "m.csv",
		"destinationBucket": "dest",
		"destinationPrefix": "cohort",
		"transfers": 16
	}`))
	require.NoError(t, err)

	specs := f.runner.submittedSpecs()
	require.Len(t, specs, 2)
	for _, spec := range specs {
		assert.Equal(t, "16", spec.Environment["transfers"])
		assert.Equal(t, "s3:dest/cohort", spec.Environment[DestinationEnv])
	}
}

func TestTransition(t *testing.T) {
	tests := []struct {
		from     State
		event    Event
		expected State
	}{
		{StateDefaulting, EventDone, StateReading},
		{StateReading, EventDone, StateBatching},
		{StateBatching, EventDone, StateDispatching},
		{StateDispatching, EventDone, StateCompleted},
		{StateDefaulting, EventFailed, StateCompleted},
		{StateReading, EventFailed, StateCompleted},
		{StateCompleted, EventDone, StateCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.from.String(), func(t *testing.T) {
			assert.Equal(t, tt.expected, transition(tt.from, tt.event))
		})
	}
}

func testRunHugeBatchSize(t *testing.T, f *orchestratorFixture) {
	f.store.put("src", "m.csv", "b1,k1\nb2,k2\n")

	result, err := f.orch.Run(context.Background(), "run", []byte(`{
		"sourceFilesCsvBucket": "src",
		"sourceFilesCsvKey": "m.csv",
		"destinationBucket": "dest",
		"maxItemsPerBatch": 9223372036854775807
	}`))
	require.NoError(t, err)

	assert.Equal(t, RunSucceeded, result.Status)
	assert.Equal(t, 1, result.TotalBatches)
	specs := f.runner.submittedSpecs()
	require.Len(t, specs, 1)
	assert.Equal(t, []string{"s3:b1/k1", "s3:b2/k2"}, specs[0].Command)
}
