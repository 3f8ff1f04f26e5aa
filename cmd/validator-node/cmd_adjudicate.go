package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"lock-in/validator-node/internal/judge"
	"lock-in/validator-node/pkg/storage"
)

func newAdjudicateCmd(stdout, stderr io.Writer) *cobra.Command {
	var (
		goal      judge.Goal
		proofFile string
		proofRef  string
	)
	cmd := &cobra.Command{
		Use:   "adjudicate",
		Short: "Judge a proof locally without voting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (proofFile == "") == (proofRef == "") {
				return fmt.Errorf("exactly one of --proof-file or --proof-ref is required")
			}
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			var proof storage.ProofPayload
			if proofFile != "" {
				data, err := os.ReadFile(proofFile)
				if err != nil {
					return fmt.Errorf("failed to read proof: %w", err)
				}
				proof = *storage.DecodeProofPayload(data)
			} else {
				store, err := a.store(cmd.Context())
				if err != nil {
					return err
				}
				fetched, err := store.Fetch(cmd.Context(), proofRef)
				if err != nil {
					fmt.Fprintf(stderr, "validator-node: %v\n", err)
					return errExit
				}
				proof = *fetched.Payload
			}

			model, err := a.model()
			if err != nil {
				return err
			}
			result := a.judge(model).Adjudicate(cmd.Context(), goal, proof)

			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().StringVar(&goal.Title, "goal-title", "", "Goal title")
	cmd.Flags().StringVar(&goal.Description, "goal-description", "", "Goal description")
	cmd.Flags().StringVar(&goal.GoalType, "goal-type", "general", "Declared goal type")
	cmd.Flags().StringVar(&goal.Target, "goal-target", "", "Optional measurable target")
	cmd.Flags().StringVar(&proofFile, "proof-file", "", "Proof document (JSON or plain text)")
	cmd.Flags().StringVar(&proofRef, "proof-ref", "", "Content address of the proof")
	_ = cmd.MarkFlagRequired("goal-title")
	return cmd
}
