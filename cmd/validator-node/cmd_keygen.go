package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"lock-in/validator-node/pkg/security"
)

func newKeygenCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new validator identity",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			id, err := security.GenerateIdentity()
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "address: %s\n", id.Address())
			fmt.Fprintf(stdout, "secret:  %s\n", id.Seed())
			return nil
		},
	}
}
