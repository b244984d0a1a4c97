package main

import (
	"os"

	"github.com/spf13/cobra"

	"chipscore/internal/extractpool"
)

// workerCommandName is re-executed by the extraction pool as an isolated
// subprocess. It speaks newline-delimited JSON on stdin/stdout.
const workerCommandName = "extract-worker"

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:         workerCommandName,
		Short:       "Internal feature extraction worker",
		Hidden:      true,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return extractpool.Serve(os.Stdin, os.Stdout)
		},
	}
}
