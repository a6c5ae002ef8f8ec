// Package service executes a tracked copy-out run: status updates, the pipeline itself,
// the report and the completion notification.
package service

import (
	"context"
	"errors"

	"github.com/elsa-data/copy-out-service/pkg/copyout"
	"github.com/elsa-data/copy-out-service/pkg/notify"
	"github.com/elsa-data/copy-out-service/pkg/runstore"
	log "github.com/sirupsen/logrus"
)

// Pipeline runs the copy-out state machine.
type Pipeline interface {
	Run(ctx context.Context, runID string, raw []byte) (*copyout.RunResult, error)
}

// RunTracker records run status transitions.
type RunTracker interface {
	MarkRunning(ctx context.Context, runId string) error
	CompleteRun(ctx context.Context, result *copyout.RunResult, reportLocation string) error
	FailRun(ctx context.Context, runId string, cause error) error
}

// ReportUploader stores the per-batch report of a run.
type ReportUploader interface {
	Upload(ctx context.Context, result *copyout.RunResult) (string, error)
}

// Publisher announces finished runs.
type Publisher interface {
	Publish(ctx context.Context, c notify.Completion) error
}

// Service executes runs. Runs, Reports and Notifier are optional.
type Service struct {
	Pipeline Pipeline
	Runs     RunTracker
	Reports  ReportUploader
	Notifier Publisher
}

// Execute runs the request raw under runID to completion. The returned error is the fatal
// pipeline error, if any; failures of the tracking side channels are logged only.
func (s *Service) Execute(ctx context.Context, runID string, raw []byte) (*copyout.RunResult, error) {
	logger := log.WithField("run_id", runID)

	if s.Runs != nil {
		if err := s.Runs.MarkRunning(ctx, runID); err != nil {
			var notExist *runstore.RunNotExistError
			if errors.As(err, &notExist) {
				logger.Warn("run is not tracked, continuing without status updates")
			} else {
				logger.WithError(err).Error("unable to mark run as running")
			}
		}
	}

	result, err := s.Pipeline.Run(ctx, runID, raw)
	if err != nil {
		if s.Runs != nil {
			if trackErr := s.Runs.FailRun(context.WithoutCancel(ctx), runID, err); trackErr != nil {
				logger.WithError(trackErr).Error("unable to mark run as failed")
			}
		}
		s.publish(ctx, notify.Completion{
			RunID:   runID,
			Status:  string(copyout.RunFailed),
			Message: err.Error(),
		})
		return nil, err
	}

	var reportLocation string
	if s.Reports != nil {
		reportLocation, err = s.Reports.Upload(ctx, result)
		if err != nil {
			logger.WithError(err).Error("unable to upload run report")
		}
	}

	if s.Runs != nil {
		if err := s.Runs.CompleteRun(context.WithoutCancel(ctx), result, reportLocation); err != nil {
			logger.WithError(err).Error("unable to record run result")
		}
	}

	s.publish(ctx, notify.Completion{
		RunID:            runID,
		Status:           string(result.Status),
		TotalItems:       result.TotalItems,
		TotalBatches:     result.TotalBatches,
		SucceededBatches: result.SucceededBatches,
		FailedBatches:    result.FailedBatches,
		FailurePercent:   result.FailurePercentage(),
		ReportLocation:   reportLocation,
	})

	return result, nil
}

func (s *Service) publish(ctx context.Context, c notify.Completion) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.Publish(context.WithoutCancel(ctx), c); err != nil {
		log.WithField("run_id", c.RunID).WithError(err).Error("unable to publish completion")
	}
}

// Environment of the orchestrator task launched for a run.
const (
	EnvRunID   = "COPY_OUT_RUN_ID"
	EnvRequest = "COPY_OUT_REQUEST"
)

// MaxRequestSize is the largest merged request that fits the orchestrator task's container
// override. ECS allows 8192 characters for all overrides including their JSON structure.
const MaxRequestSize = 7 * 1024

// LaunchSpec returns the orchestrator task for a run. The container keeps its own command.
func LaunchSpec(runID string, request []byte) copyout.JobSpec {
	return copyout.JobSpec{
		Group: runID,
		Environment: map[string]string{
			EnvRunID:   runID,
			EnvRequest: string(request),
		},
	}
}
