// Package proposal implements the only mutation path for a workflow
// definition after creation: draft -> approved/rejected -> applied (or
// draft -> expired via a background sweep; proposals in any other state are
// never expired), with a hash-gated transactional
// swap guaranteeing the linearizability property §4.G/§8 require.
package proposal

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/common/logger"
	"github.com/kandev/agentcore/internal/coreerr"
	"github.com/kandev/agentcore/internal/models"
	"github.com/kandev/agentcore/internal/store"
	"github.com/kandev/agentcore/internal/workflow/canon"
	"github.com/kandev/agentcore/internal/workflow/engine"
)

// Pipeline implements createProposal/reviewProposal/applyProposal/rollback.
type Pipeline struct {
	store store.Store
	log   *logger.Logger
}

// New builds a Pipeline over st.
func New(st store.Store, log *logger.Logger) *Pipeline {
	return &Pipeline{store: st, log: log.WithFields(zap.String("component", "workflow-proposal"))}
}

// CreateProposalInput mirrors POST /api/workflows/:id/proposals.
type CreateProposalInput struct {
	WorkflowID          string
	BaseWorkflowHash    string
	ProposalJSON        string
	DiffText            string
	ExpiresAt           *time.Time
	ExecutionID         string
	ProposedBySessionID string
}

// Create validates proposal's shape with the same structural rules as a
// definition and requires baseHash == workflow.currentHash at validation
// time only; a later hash advance doesn't invalidate the draft, only
// re-checked staleness at Apply.
func (p *Pipeline) Create(ctx context.Context, in CreateProposalInput) (*models.WorkflowProposal, error) {
	if _, err := engine.Validate([]byte(in.ProposalJSON)); err != nil {
		return nil, err
	}

	wf, err := p.store.GetWorkflow(ctx, in.WorkflowID)
	if err != nil {
		return nil, err
	}
	if wf.CurrentHash != in.BaseWorkflowHash {
		return nil, coreerr.New(coreerr.StaleBase, "base hash does not match current workflow hash "+wf.CurrentHash)
	}

	prop := &models.WorkflowProposal{
		ID:                  uuid.New().String(),
		WorkflowID:          in.WorkflowID,
		BaseHash:            in.BaseWorkflowHash,
		ProposedBySessionID: in.ProposedBySessionID,
		ExecutionID:         in.ExecutionID,
		ProposalJSON:        in.ProposalJSON,
		DiffText:            in.DiffText,
		Status:              models.ProposalDraft,
		ExpiresAt:           in.ExpiresAt,
		CreatedAt:           time.Now().UTC(),
	}
	if err := p.store.CreateProposal(ctx, prop); err != nil {
		return nil, err
	}
	p.log.WithWorkflowID(in.WorkflowID).Info("created proposal", zap.String("proposal_id", prop.ID))
	return prop, nil
}

// Review transitions draft -> approved|rejected. It never mutates the
// workflow itself.
func (p *Pipeline) Review(ctx context.Context, proposalID string, approve bool, notes string) (*models.WorkflowProposal, error) {
	prop, err := p.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if prop.Status != models.ProposalDraft {
		return nil, coreerr.New(coreerr.Conflict, "proposal is not in draft status")
	}
	if approve {
		prop.Status = models.ProposalApproved
	} else {
		prop.Status = models.ProposalRejected
	}
	prop.ReviewNotes = notes
	if err := p.store.UpdateProposal(ctx, prop); err != nil {
		return nil, err
	}
	return prop, nil
}

// ApplyInput mirrors POST /api/workflows/:id/proposals/:pid/apply.
type ApplyInput struct {
	ProposalID  string
	ReviewNotes string
	Version     int
}

// Apply re-reads workflow.currentHash inside a single transaction; if it
// still equals proposal.baseHash, computes the new hash, inserts a
// WorkflowVersion, and advances current_hash/current_version atomically.
// Otherwise it fails with STALE_BASE without mutating anything (§4.G/S3).
func (p *Pipeline) Apply(ctx context.Context, in ApplyInput) (*models.Workflow, error) {
	var result *models.Workflow
	err := p.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		prop, err := tx.GetProposal(ctx, in.ProposalID)
		if err != nil {
			return err
		}
		if prop.Status != models.ProposalApproved {
			return coreerr.New(coreerr.Conflict, "proposal must be approved before it can be applied")
		}

		wf, err := tx.GetWorkflow(ctx, prop.WorkflowID)
		if err != nil {
			return err
		}
		if wf.CurrentHash != prop.BaseHash {
			return coreerr.New(coreerr.StaleBase, "workflow hash advanced to "+wf.CurrentHash+" since this proposal was based on "+prop.BaseHash)
		}

		newHash, err := canon.Hash([]byte(prop.ProposalJSON))
		if err != nil {
			return coreerr.Wrap(coreerr.Validation, "hashing proposal definition", err)
		}

		newVersion := in.Version
		if newVersion == 0 {
			newVersion = wf.CurrentVersion + 1
		}

		swapped, err := tx.SwapWorkflowHash(ctx, wf.ID, wf.CurrentHash, newHash, newVersion)
		if err != nil {
			return err
		}
		if !swapped {
			return coreerr.New(coreerr.StaleBase, "workflow hash changed concurrently during apply")
		}

		version := &models.WorkflowVersion{
			WorkflowID:     wf.ID,
			Hash:           newHash,
			DefinitionJSON: prop.ProposalJSON,
			Version:        newVersion,
			Notes:          in.ReviewNotes,
		}
		if err := tx.PutWorkflowVersion(ctx, version); err != nil {
			return err
		}

		prop.Status = models.ProposalApplied
		if in.ReviewNotes != "" {
			prop.ReviewNotes = in.ReviewNotes
		}
		if err := tx.UpdateProposal(ctx, prop); err != nil {
			return err
		}

		wf.CurrentHash = newHash
		wf.CurrentVersion = newVersion
		result = wf
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.log.WithWorkflowID(result.ID).Info("applied proposal", zap.String("proposal_id", in.ProposalID), zap.String("new_hash", result.CurrentHash))
	return result, nil
}

// RollbackInput mirrors POST /api/workflows/:id/rollback.
type RollbackInput struct {
	WorkflowID string
	TargetHash string
	Version    int
	Notes      string
}

// Rollback refuses unless targetHash exists in the workflow's version
// history, then executes the same transactional hash swap as Apply.
func (p *Pipeline) Rollback(ctx context.Context, in RollbackInput) (*models.Workflow, error) {
	var result *models.Workflow
	err := p.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		wf, err := tx.GetWorkflow(ctx, in.WorkflowID)
		if err != nil {
			return err
		}
		target, err := tx.GetWorkflowVersion(ctx, in.WorkflowID, in.TargetHash)
		if err != nil {
			return coreerr.Wrap(coreerr.NotFound, "rollback target hash not found in version history", err)
		}

		// The target hash's WorkflowVersion row already exists (we just read
		// it); rollback only needs to move current_hash/current_version back
		// to it, never re-insert the row (workflow_id+hash is the primary
		// key, so inserting again would collide).
		newVersion := in.Version
		if newVersion == 0 {
			newVersion = target.Version
		}

		swapped, err := tx.SwapWorkflowHash(ctx, wf.ID, wf.CurrentHash, in.TargetHash, newVersion)
		if err != nil {
			return err
		}
		if !swapped {
			return coreerr.New(coreerr.StaleBase, "workflow hash changed concurrently during rollback")
		}

		wf.CurrentHash = in.TargetHash
		wf.CurrentVersion = newVersion
		result = wf
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SweepExpired marks every draft proposal whose ExpiresAt has passed as
// expired. Intended to run on constants.ProposalSweepInterval.
func (p *Pipeline) SweepExpired(ctx context.Context, asOf time.Time) (int, error) {
	expired, err := p.store.ListExpiredProposals(ctx, asOf)
	if err != nil {
		return 0, err
	}
	for _, prop := range expired {
		prop.Status = models.ProposalExpired
		if err := p.store.UpdateProposal(ctx, prop); err != nil {
			p.log.Error("failed to expire proposal", zap.String("proposal_id", prop.ID), zap.Error(err))
			continue
		}
	}
	return len(expired), nil
}
