package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/elsa-data/copy-out-service/pkg/runstore"
	"github.com/elsa-data/copy-out-service/pkg/settings"
	"github.com/spf13/cobra"
)

// newStatusCmd creates the "status" subcommand reading a run record.
func newStatusCmd(loadSettings func() (settings.Settings, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "status RUN_ID",
		Short: "Show the tracked state of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
			}
			if s.RunsTable == "" {
				return errors.New(settings.EnvRunsTable + " is required")
			}

			cfg, err := settings.LoadAWSConfig(cmd.Context(), s.AWS)
			if err != nil {
				return fmt.Errorf("error loading AWS config: %w", err)
			}
			store := runstore.NewStore(dynamodb.NewFromConfig(cfg), s.RunsTable)

			record, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(record, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}
