package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"lock-in/validator-node/internal/registry"
)

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			fmt.Fprintf(stdout, "validator-node %s (commit: %s, built: %s, registry contract: %s)\n",
				version, commit, date, registry.ContractVersion)
			return nil
		},
	}
}
