package handler

import (
	"context"

	"github.com/elsa-data/copy-out-service/pkg/copyout"
	"github.com/elsa-data/copy-out-service/pkg/runstore"
)

// RunStore is the run table as used by the API.
type RunStore interface {
	CreateRun(ctx context.Context, runId string, request []byte) (*runstore.RunRecord, error)
	GetRun(ctx context.Context, runId string) (*runstore.RunRecord, error)
	SetTaskArn(ctx context.Context, runId string, taskArn string) error
	FailRun(ctx context.Context, runId string, cause error) error
}

// Launcher starts the orchestrator task of a run.
type Launcher interface {
	Submit(ctx context.Context, spec copyout.JobSpec) (string, error)
}

// CopyOutAPIStore holds the dependencies of the API routes.
type CopyOutAPIStore struct {
	runs     RunStore
	launcher Launcher
	newRunId func() string
}

// NewCopyOutAPIStore returns a CopyOutAPIStore.
func NewCopyOutAPIStore(runs RunStore, launcher Launcher, newRunId func() string) *CopyOutAPIStore {
	return &CopyOutAPIStore{
		runs:     runs,
		launcher: launcher,
		newRunId: newRunId,
	}
}
