package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/elsa-data/copy-out-service/pkg/copyout"
	"github.com/spf13/cobra"
)

// newValidateCmd creates the "validate" subcommand for checking a request offline.
func newValidateCmd() *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "validate REQUEST",
		Short: "Validate a copy-out request",
		Long: `Validate applies the defaults to a request document and checks it the way a run
would, without reading the manifest or starting any job. Use "-" to read stdin.

Examples:
    copyout validate request.json
    copyout validate - --format json < request.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readRequest(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			return runValidate(cmd.OutOrStdout(), raw, outputFormat)
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "format", "f", "text", "Output format: text or json")

	return cmd
}

// runValidate parses raw and prints the request with defaults applied.
func runValidate(w io.Writer, raw []byte, format string) error {
	req, err := copyout.ParseRequest(raw)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	switch format {
	case "json":
		fmt.Fprintln(w, string(req.JSON()))
	case "text":
		fmt.Fprintf(w, "manifest:            %s\n", req.ManifestLocation())
		fmt.Fprintf(w, "destination:         %s\n", req.Destination())
		fmt.Fprintf(w, "max items per batch: %d\n", req.MaxItemsPerBatch)
		fmt.Fprintf(w, "tolerated failures:  %g%%\n", req.ToleratedFailurePercentage)
		fmt.Fprintf(w, "max concurrency:     %d\n", req.MaxConcurrency)
		if keys := req.ExtraKeys(); len(keys) > 0 {
			params := make([]string, 0, len(keys))
			for _, k := range keys {
				params = append(params, k+"="+req.Extra[k])
			}
			fmt.Fprintf(w, "job parameters:      %s\n", strings.Join(params, " "))
		}
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
	return nil
}
