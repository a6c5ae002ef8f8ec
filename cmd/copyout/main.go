// Command copyout runs and inspects copy-out runs from an operator's machine.
//
// Usage:
//
//	copyout validate request.json               Check a request and print it with defaults
//	copyout run request.json --config cfg.yaml  Execute a run in-process
//	copyout status RUN_ID                       Show the tracked state of a run
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/elsa-data/copy-out-service/pkg/settings"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "copyout",
		Short: "Copy the objects listed in a CSV manifest to a destination bucket",
		Long: `copyout batches the objects of a CSV manifest into copy jobs and runs them on an
ECS cluster with bounded concurrency.

Settings are read from the environment, or from a YAML file given with --config
(environment variables take precedence over the file).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			settings.ConfigureLogging()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML settings file")

	loadSettings := func() (settings.Settings, error) {
		if configPath == "" {
			return settings.FromEnv(), nil
		}
		return settings.Load(configPath)
	}

	rootCmd.AddCommand(
		newValidateCmd(),
		newRunCmd(loadSettings),
		newStatusCmd(loadSettings),
	)
	return rootCmd
}

// readRequest reads a request document from path, or stdin when path is "-".
func readRequest(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading request: %w", err)
	}
	return data, nil
}
