package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/kandev/agentcore/internal/common/logger"
	"github.com/kandev/agentcore/internal/workflow/proposal"
)

func newProposeCmd() *cobra.Command {
	var slug, diffText string

	cmd := &cobra.Command{
		Use:   "propose <new-definition.json>",
		Short: "create a proposal to replace a workflow's current definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fail(err)
			}

			st, err := openStore(cmd)
			if err != nil {
				return fail(err)
			}
			defer st.Close()

			wf, err := st.GetWorkflowBySlug(ctx, slug)
			if err != nil {
				return fail(err)
			}

			p := proposal.New(st, logger.Default())
			prop, err := p.Create(ctx, proposal.CreateProposalInput{
				WorkflowID:       wf.ID,
				BaseWorkflowHash: wf.CurrentHash,
				ProposalJSON:     string(raw),
				DiffText:         diffText,
			})
			if err != nil {
				return fail(err)
			}

			writeEnvelope(envelope{OK: true, Status: string(prop.Status), Data: map[string]any{
				"proposalId": prop.ID,
				"baseHash":   prop.BaseHash,
			}})
			return nil
		},
	}

	cmd.Flags().StringVar(&slug, "workflow", "", "slug of the workflow to propose a new definition for (required)")
	cmd.Flags().StringVar(&diffText, "diff", "", "optional human-readable diff summary stored alongside the proposal")
	cmd.MarkFlagRequired("workflow")
	return cmd
}
