package main

import (
	"context"

	"github.com/kandev/agentcore/internal/coreerr"
	"github.com/kandev/agentcore/internal/models"
	"github.com/kandev/agentcore/internal/workflow/engine"
)

// cliRuntime drives an execution from agentctl, where there is no live
// session runner attached. Control-flow steps (sequence, branch, approval)
// work exactly as they would against a server; tool, agent_message and sub
// steps surface RUNNER_DISCONNECTED immediately instead of hanging, so
// `agentctl run` against a standalone
// store stays useful for dry-running approval gates and branch logic.
type cliRuntime struct{}

func (cliRuntime) RunTool(ctx context.Context, exec *models.WorkflowExecution, step engine.Step) (map[string]any, error) {
	return nil, coreerr.New(coreerr.RunnerDisconnected, "agentctl has no attached session runner for tool steps; run this workflow against the server instead")
}

func (cliRuntime) SendAgentMessage(ctx context.Context, exec *models.WorkflowExecution, step engine.Step) (string, error) {
	return "", coreerr.New(coreerr.RunnerDisconnected, "agentctl has no attached session runner for agent_message steps; run this workflow against the server instead")
}

func (cliRuntime) RunSub(ctx context.Context, parent *models.WorkflowExecution, step engine.Step) error {
	return coreerr.New(coreerr.RunnerDisconnected, "agentctl cannot drive sub executions without a server; run this workflow against the server instead")
}

func (cliRuntime) ResetAgentContext(ctx context.Context, exec *models.WorkflowExecution, step engine.Step) error {
	return nil
}
