package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/elsa-data/copy-out-service/pkg/copyout"
	"github.com/elsa-data/copy-out-service/pkg/service"
	"github.com/elsa-data/copy-out-service/pkg/settings"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// newRunCmd creates the "run" subcommand executing a run in the current process.
func newRunCmd(loadSettings func() (settings.Settings, error)) *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "run REQUEST",
		Short: "Execute a copy-out run in-process",
		Long: `Run reads the manifest, submits the copy jobs to the configured cluster and waits
for every job to finish. The run result is printed as JSON. When RUNS_TABLE is set the run
must already exist in the table under --run-id.

The command exits non-zero when the run fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readRequest(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			s, err := loadSettings()
			if err != nil {
				return err
			}
			if err := s.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			cfg, err := settings.LoadAWSConfig(ctx, s.AWS)
			if err != nil {
				return fmt.Errorf("error loading AWS config: %w", err)
			}
			svc, err := service.FromSettings(cfg, s, nil)
			if err != nil {
				return err
			}

			if runID == "" {
				runID = uuid.NewString()
			}
			result, err := svc.Execute(ctx, runID, raw)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			if result.Status == copyout.RunFailed {
				return fmt.Errorf("run %s failed: %d of %d batches failed", runID, result.FailedBatches, result.TotalBatches)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "Run id (default: a new UUID)")

	return cmd
}
