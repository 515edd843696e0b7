package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/kandev/agentcore/internal/common/logger"
	"github.com/kandev/agentcore/internal/workflow"
	"github.com/kandev/agentcore/internal/workflow/engine"
)

func newRunCmd() *cobra.Command {
	var slug, executionID, trigger string

	cmd := &cobra.Command{
		Use:   "run <definition.json>",
		Short: "run a workflow definition against its bound workflow, creating an execution if needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fail(err)
			}
			def, err := engine.Validate(raw)
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

			reg := workflow.NewRegistry(st, engine.New(st, logger.Default()))

			if executionID == "" {
				exec, err := reg.CreateExecution(ctx, wf.ID, wf.CurrentHash, trigger, nil)
				if err != nil {
					return fail(err)
				}
				executionID = exec.ID
			}

			result, err := reg.Run(ctx, executionID, def, cliRuntime{}, wf.CurrentHash, wf.CurrentHash)
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

	cmd.Flags().StringVar(&slug, "workflow", "", "slug of the workflow this definition is bound to (required)")
	cmd.Flags().StringVar(&executionID, "execution", "", "existing execution id to drive (creates a new one if omitted)")
	cmd.Flags().StringVar(&trigger, "trigger", "manual", "trigger recorded on a newly created execution")
	cmd.MarkFlagRequired("workflow")
	return cmd
}
