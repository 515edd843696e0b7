package proposal

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/agentcore/internal/common/logger"
	"github.com/kandev/agentcore/internal/coreerr"
	"github.com/kandev/agentcore/internal/models"
	"github.com/kandev/agentcore/internal/store/memstore"
	"github.com/kandev/agentcore/internal/workflow/canon"
)

const defJSON = `{"steps":[{"id":"lint","type":"tool","tool":"npm_lint"}]}`

func seedWorkflow(t *testing.T, st *memstore.Store) *models.Workflow {
	t.Helper()
	hash, err := canon.Hash([]byte(defJSON))
	require.NoError(t, err)
	wf := &models.Workflow{
		ID:             uuid.New().String(),
		Slug:           "deploy",
		Name:           "Deploy",
		CurrentHash:    hash,
		CurrentVersion: 1,
	}
	require.NoError(t, st.CreateWorkflow(context.Background(), wf))
	require.NoError(t, st.PutWorkflowVersion(context.Background(), &models.WorkflowVersion{
		WorkflowID: wf.ID, Hash: hash, DefinitionJSON: defJSON, Version: 1,
	}))
	return wf
}

// TestProposalLifecycle_CreateReviewApply covers the draft -> approved ->
// applied path and asserts the linearizability property §8.3: the new
// hash matches the applied definition and the previous hash matches the
// proposal's base.
func TestProposalLifecycle_CreateReviewApply(t *testing.T) {
	st := memstore.New()
	p := New(st, logger.Default())
	wf := seedWorkflow(t, st)

	newDefJSON := `{"steps":[{"id":"lint","type":"tool","tool":"npm_lint"},{"id":"deploy","type":"tool","tool":"deploy"}]}`
	prop, err := p.Create(context.Background(), CreateProposalInput{
		WorkflowID:       wf.ID,
		BaseWorkflowHash: wf.CurrentHash,
		ProposalJSON:     newDefJSON,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ProposalDraft, prop.Status)

	prop, err = p.Review(context.Background(), prop.ID, true, "looks good")
	require.NoError(t, err)
	assert.Equal(t, models.ProposalApproved, prop.Status)

	previousHash := wf.CurrentHash
	applied, err := p.Apply(context.Background(), ApplyInput{ProposalID: prop.ID})
	require.NoError(t, err)

	wantHash, err := canon.Hash([]byte(newDefJSON))
	require.NoError(t, err)
	assert.Equal(t, wantHash, applied.CurrentHash)
	assert.Equal(t, previousHash, prop.BaseHash)

	stored, err := st.GetProposal(context.Background(), prop.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalApplied, stored.Status)
}

// TestProposalRace covers spec scenario S3: two proposals share a base
// hash; the first apply wins and the second fails with STALE_BASE without
// mutating anything.
func TestProposalRace(t *testing.T) {
	st := memstore.New()
	p := New(st, logger.Default())
	wf := seedWorkflow(t, st)

	def1 := `{"steps":[{"id":"lint","type":"tool","tool":"npm_lint"},{"id":"a","type":"tool","tool":"a"}]}`
	def2 := `{"steps":[{"id":"lint","type":"tool","tool":"npm_lint"},{"id":"b","type":"tool","tool":"b"}]}`

	p1, err := p.Create(context.Background(), CreateProposalInput{WorkflowID: wf.ID, BaseWorkflowHash: wf.CurrentHash, ProposalJSON: def1})
	require.NoError(t, err)
	p2, err := p.Create(context.Background(), CreateProposalInput{WorkflowID: wf.ID, BaseWorkflowHash: wf.CurrentHash, ProposalJSON: def2})
	require.NoError(t, err)

	_, err = p.Review(context.Background(), p1.ID, true, "")
	require.NoError(t, err)
	_, err = p.Review(context.Background(), p2.ID, true, "")
	require.NoError(t, err)

	_, err = p.Apply(context.Background(), ApplyInput{ProposalID: p1.ID})
	require.NoError(t, err)

	_, err = p.Apply(context.Background(), ApplyInput{ProposalID: p2.ID})
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.StaleBase))

	p2Stored, err := st.GetProposal(context.Background(), p2.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalApproved, p2Stored.Status, "a failed apply must not mutate the proposal status")
}

// TestCreate_RejectsStaleBaseAtCreation confirms baseHash must equal the
// current workflow hash at the instant of creation.
func TestCreate_RejectsStaleBaseAtCreation(t *testing.T) {
	st := memstore.New()
	p := New(st, logger.Default())
	wf := seedWorkflow(t, st)

	_, err := p.Create(context.Background(), CreateProposalInput{
		WorkflowID:       wf.ID,
		BaseWorkflowHash: "sha256:not-current",
		ProposalJSON:     defJSON,
	})
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.StaleBase))
}

// TestRollback_RefusesUnknownHash confirms a rollback target must exist in
// the workflow's version history.
func TestRollback_RefusesUnknownHash(t *testing.T) {
	st := memstore.New()
	p := New(st, logger.Default())
	wf := seedWorkflow(t, st)

	_, err := p.Rollback(context.Background(), RollbackInput{WorkflowID: wf.ID, TargetHash: "sha256:nope"})
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.NotFound))
}

// TestSweepExpired_ExpiresOnlyPastDeadlineDrafts confirms the background
// sweep only touches drafts whose ExpiresAt has passed.
func TestSweepExpired_ExpiresOnlyPastDeadlineDrafts(t *testing.T) {
	st := memstore.New()
	p := New(st, logger.Default())
	wf := seedWorkflow(t, st)

	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)

	expiredProp, err := p.Create(context.Background(), CreateProposalInput{WorkflowID: wf.ID, BaseWorkflowHash: wf.CurrentHash, ProposalJSON: defJSON, ExpiresAt: &past})
	require.NoError(t, err)
	liveProp, err := p.Create(context.Background(), CreateProposalInput{WorkflowID: wf.ID, BaseWorkflowHash: wf.CurrentHash, ProposalJSON: defJSON, ExpiresAt: &future})
	require.NoError(t, err)

	n, err := p.SweepExpired(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	expired, err := st.GetProposal(context.Background(), expiredProp.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalExpired, expired.Status)

	live, err := st.GetProposal(context.Background(), liveProp.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalDraft, live.Status)
}
