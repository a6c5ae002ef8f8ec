package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/elsa-data/copy-out-service/pkg/copyout"
	"github.com/elsa-data/copy-out-service/pkg/metrics"
	"github.com/elsa-data/copy-out-service/pkg/service"
	"github.com/elsa-data/copy-out-service/pkg/settings"
	log "github.com/sirupsen/logrus"
)

func init() {
	settings.ConfigureLogging()
}

// main entry method for the orchestrator task. TASK_DEF_ARN and CONTAINER_NAME refer to the
// copy worker task.
func main() {
	runID := os.Getenv(service.EnvRunID)
	request := os.Getenv(service.EnvRequest)
	if runID == "" || request == "" {
		log.Fatalf("%s and %s must be set", service.EnvRunID, service.EnvRequest)
	}
	logger := log.WithField("run_id", runID)

	s := settings.FromEnv()
	if err := s.Validate(); err != nil {
		logger.Fatalf("invalid settings: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cfg, err := settings.LoadAWSConfig(ctx, s.AWS)
	if err != nil {
		logger.Fatalf("LoadDefaultConfig: %v\n", err)
	}

	m := metrics.New()
	if s.MetricsAddr != "" {
		srv := &http.Server{Addr: s.MetricsAddr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("metrics listener stopped")
			}
		}()
		defer srv.Close()
	}

	svc, err := service.FromSettings(cfg, s, m)
	if err != nil {
		logger.Fatalf("unable to create service: %v", err)
	}

	result, err := svc.Execute(ctx, runID, []byte(request))
	if err != nil {
		logger.WithError(err).Error("copy-out run failed")
		os.Exit(1)
	}

	logger.WithFields(log.Fields{
		"status":            result.Status,
		"total_items":       result.TotalItems,
		"total_batches":     result.TotalBatches,
		"failed_batches":    result.FailedBatches,
		"succeeded_batches": result.SucceededBatches,
	}).Info("Finished with task.")

	if result.Status == copyout.RunFailed {
		os.Exit(1)
	}
}
