package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/kandev/agentcore/internal/common/logger"
	"github.com/kandev/agentcore/internal/workflow"
	"github.com/kandev/agentcore/internal/workflow/engine"
)

func newResumeCmd() *cobra.Command {
	var executionID, token, decision, slug, varsJSON string

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "present a decision for an execution's current approval gate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			var varPatch map[string]any
			if varsJSON != "" {
				if err := json.Unmarshal([]byte(varsJSON), &varPatch); err != nil {
					return fail(err)
				}
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

			exec, err := st.GetExecution(ctx, executionID)
			if err != nil {
				return fail(err)
			}
			ver, err := st.GetWorkflowVersion(ctx, wf.ID, exec.WorkflowHash)
			if err != nil {
				return fail(err)
			}
			def, err := engine.Parse([]byte(ver.DefinitionJSON))
			if err != nil {
				return fail(err)
			}

			reg := workflow.NewRegistry(st, engine.New(st, logger.Default()))
			result, err := reg.Resume(ctx, executionID, def, cliRuntime{}, token, decision, varPatch)
			if err != nil {
				return fail(err)
			}

			data := map[string]any{
				"executionId": result.ID,
				"status":      result.Status,
			}
			if result.ResumeToken != "" {
				data["resumeToken"] = result.ResumeToken
			}
			writeEnvelope(envelope{OK: true, Status: string(result.Status), Data: data})
			return nil
		},
	}

	cmd.Flags().StringVar(&executionID, "execution", "", "execution id to resume (required)")
	cmd.Flags().StringVar(&token, "token", "", "resume token presented for the current approval gate (required)")
	cmd.Flags().StringVar(&decision, "decision", "", "approve or deny (required)")
	cmd.Flags().StringVar(&slug, "workflow", "", "slug of the workflow the execution belongs to (required)")
	cmd.Flags().StringVar(&varsJSON, "vars", "", "JSON object merged into the execution's variables")
	cmd.MarkFlagRequired("execution")
	cmd.MarkFlagRequired("token")
	cmd.MarkFlagRequired("decision")
	cmd.MarkFlagRequired("workflow")
	return cmd
}
