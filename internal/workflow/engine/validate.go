package engine

import (
	"fmt"

	"github.com/kandev/agentcore/internal/common/constants"
	"github.com/kandev/agentcore/internal/coreerr"
)

// Validate runs the §4.F structural checks against raw before any hash is
// computed: every step has a non-empty string type; nested arrays (then,
// else, steps) are arrays of steps (already enforced by Parse's JSON
// decode); agent_message requires one of content|message|goal, and if
// awaiting, await_timeout_ms >= 1000ms; unknown types are allowed here for
// forward compatibility. An empty top-level steps list is rejected.
func Validate(raw []byte) (*Definition, error) {
	def, err := Parse(raw)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Validation, "malformed workflow definition", err)
	}
	if len(def.Steps) == 0 {
		return nil, coreerr.New(coreerr.Validation, "workflow.steps must be non-empty")
	}
	if err := validateSteps(def.Steps, "steps"); err != nil {
		return nil, err
	}
	return def, nil
}

func validateSteps(steps []Step, path string) error {
	for i, s := range steps {
		stepPath := fmt.Sprintf("%s[%d]", path, i)
		if err := validateStep(s, stepPath); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(s Step, path string) error {
	if s.Type == "" {
		return coreerr.New(coreerr.Validation, path+": missing non-empty type")
	}

	switch StepKind(s.Type) {
	case StepSequence:
		if len(s.Steps) == 0 {
			return coreerr.New(coreerr.Validation, path+": sequence requires a non-empty steps array")
		}
		if err := validateSteps(s.Steps, path+".steps"); err != nil {
			return err
		}
	case StepBranch:
		if s.If == "" {
			return coreerr.New(coreerr.Validation, path+": branch requires a non-empty if predicate")
		}
		if err := validateSteps(s.Then, path+".then"); err != nil {
			return err
		}
		if err := validateSteps(s.Else, path+".else"); err != nil {
			return err
		}
	case StepAgentMessage:
		if s.PromptText() == "" {
			return coreerr.New(coreerr.Validation, path+": agent_message requires one of content, message, or goal")
		}
		awaiting := s.Await || s.AwaitTimeoutMs != 0
		if awaiting && effectiveAwaitMs(s.AwaitTimeoutMs) < constants.MinStepAwaitTimeout.Milliseconds() {
			return coreerr.New(coreerr.Validation, path+": await_timeout_ms must be >= 1000 when awaiting a response")
		}
	case StepTool:
		if s.Tool == "" {
			return coreerr.New(coreerr.Validation, path+": tool step requires a non-empty tool name")
		}
		if s.Retry != nil && s.Retry.Attempts < 1 {
			return coreerr.New(coreerr.Validation, path+": retry.attempts must be >= 1")
		}
	case StepApproval:
		// prompt is optional display text; nothing further to check.
	case StepSub:
		if s.WorkflowSlug == "" {
			return coreerr.New(coreerr.Validation, path+": sub requires a non-empty workflow_slug")
		}
	default:
		// Unknown type: allowed at validation time for forward compatibility
		// (§4.F); the engine refuses it if ever actually reached at runtime.
	}
	return nil
}

// effectiveAwaitMs returns the millisecond timeout a step actually waits on:
// the explicit value, or constants.DefaultStepAwaitTimeout when Await is set
// with no explicit override (which always satisfies the §8 minimum).
func effectiveAwaitMs(ms int) int64 {
	if ms == 0 {
		return constants.DefaultStepAwaitTimeout.Milliseconds()
	}
	return int64(ms)
}
