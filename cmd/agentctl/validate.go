package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/kandev/agentcore/internal/workflow/canon"
	"github.com/kandev/agentcore/internal/workflow/engine"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <definition.json>",
		Short: "validate a workflow definition and print its canonical hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fail(err)
			}
			def, err := engine.Validate(raw)
			if err != nil {
				return fail(err)
			}
			hash, err := canon.Hash(raw)
			if err != nil {
				return fail(err)
			}
			writeEnvelope(envelope{OK: true, Status: "valid", Data: map[string]any{
				"workflowHash": hash,
				"stepCount":    len(def.Steps),
			}})
			return nil
		},
	}
}
