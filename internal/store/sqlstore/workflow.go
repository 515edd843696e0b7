package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kandev/agentcore/internal/coreerr"
	"github.com/kandev/agentcore/internal/models"
	"github.com/kandev/agentcore/internal/store/dialect"
)

func schemaWorkflows(driver string) string {
	return `
	CREATE TABLE IF NOT EXISTS workflows (
		id TEXT PRIMARY KEY,
		slug TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		description TEXT DEFAULT '',
		current_hash TEXT NOT NULL,
		current_version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS workflow_versions (
		workflow_id TEXT NOT NULL,
		hash TEXT NOT NULL,
		definition_json TEXT NOT NULL,
		version INTEGER NOT NULL,
		notes TEXT DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (workflow_id, hash),
		FOREIGN KEY (workflow_id) REFERENCES workflows(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS workflow_executions (
		id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL,
		workflow_hash TEXT NOT NULL,
		status TEXT NOT NULL,
		trigger TEXT DEFAULT '',
		variables TEXT DEFAULT '{}',
		error TEXT DEFAULT '',
		resume_token TEXT DEFAULT '',
		requires_approval INTEGER NOT NULL DEFAULT 0,
		parent_execution_id TEXT DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		FOREIGN KEY (workflow_id) REFERENCES workflows(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_executions_workflow ON workflow_executions(workflow_id);
	CREATE INDEX IF NOT EXISTS idx_executions_parent ON workflow_executions(parent_execution_id);

	CREATE TABLE IF NOT EXISTS step_traces (
		id TEXT PRIMARY KEY,
		execution_id TEXT NOT NULL,
		step_id TEXT NOT NULL,
		attempt INTEGER NOT NULL DEFAULT 1,
		status TEXT NOT NULL,
		error TEXT DEFAULT '',
		started_at TIMESTAMP,
		completed_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (execution_id) REFERENCES workflow_executions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_step_traces_execution ON step_traces(execution_id, created_at, id);

	CREATE TABLE IF NOT EXISTS workflow_proposals (
		id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL,
		base_hash TEXT NOT NULL,
		proposed_by_session_id TEXT DEFAULT '',
		execution_id TEXT DEFAULT '',
		proposal_json TEXT NOT NULL,
		diff_text TEXT DEFAULT '',
		status TEXT NOT NULL,
		review_notes TEXT DEFAULT '',
		expires_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (workflow_id) REFERENCES workflows(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_proposals_workflow ON workflow_proposals(workflow_id);
	CREATE INDEX IF NOT EXISTS idx_proposals_status ON workflow_proposals(status);
	`
}

func (s *Store) CreateWorkflow(ctx context.Context, w *models.Workflow) error {
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	if w.CurrentVersion == 0 {
		w.CurrentVersion = 1
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO workflows (id, slug, name, description, current_hash, current_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), w.ID, w.Slug, w.Name, w.Description, w.CurrentHash, w.CurrentVersion, w.CreatedAt)
	if err != nil {
		return fmt.Errorf("create workflow: %w", err)
	}
	return nil
}

func (s *Store) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	return s.scanOneWorkflow(ctx, `WHERE id = ?`, id)
}

func (s *Store) GetWorkflowBySlug(ctx context.Context, slug string) (*models.Workflow, error) {
	return s.scanOneWorkflow(ctx, `WHERE slug = ?`, slug)
}

func (s *Store) scanOneWorkflow(ctx context.Context, where string, arg any) (*models.Workflow, error) {
	w := &models.Workflow{}
	err := s.ro.QueryRowContext(ctx, s.ro.Rebind(`
		SELECT id, slug, name, description, current_hash, current_version, created_at
		FROM workflows `+where), arg).Scan(&w.ID, &w.Slug, &w.Name, &w.Description, &w.CurrentHash, &w.CurrentVersion, &w.CreatedAt)
	if isNoRows(err) {
		return nil, coreerr.New(coreerr.NotFound, "workflow not found")
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

// SwapWorkflowHash performs the hash-gated compare-and-swap §4.G requires:
// it only advances current_hash/current_version if the row still carries
// expectedHash, reporting false (no error) on a stale base so callers can
// surface STALE_BASE. Must run inside store.WithTx alongside the version
// insert for atomicity.
func (s *Store) SwapWorkflowHash(ctx context.Context, workflowID, expectedHash, newHash string, newVersion int) (bool, error) {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE workflows SET current_hash = ?, current_version = ? WHERE id = ? AND current_hash = ?
	`), newHash, newVersion, workflowID, expectedHash)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *Store) PutWorkflowVersion(ctx context.Context, v *models.WorkflowVersion) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO workflow_versions (workflow_id, hash, definition_json, version, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), v.WorkflowID, v.Hash, v.DefinitionJSON, v.Version, v.Notes, v.CreatedAt)
	return err
}

func (s *Store) GetWorkflowVersion(ctx context.Context, workflowID, hash string) (*models.WorkflowVersion, error) {
	v := &models.WorkflowVersion{}
	err := s.ro.QueryRowContext(ctx, s.ro.Rebind(`
		SELECT workflow_id, hash, definition_json, version, notes, created_at
		FROM workflow_versions WHERE workflow_id = ? AND hash = ?
	`), workflowID, hash).Scan(&v.WorkflowID, &v.Hash, &v.DefinitionJSON, &v.Version, &v.Notes, &v.CreatedAt)
	if isNoRows(err) {
		return nil, coreerr.New(coreerr.NotFound, "workflow version not found: "+hash)
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Store) CreateExecution(ctx context.Context, e *models.WorkflowExecution) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	variables, err := json.Marshal(e.Variables)
	if err != nil {
		variables = []byte("{}")
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO workflow_executions (id, workflow_id, workflow_hash, status, trigger, variables, error, resume_token, requires_approval, parent_execution_id, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), e.ID, e.WorkflowID, e.WorkflowHash, e.Status, e.Trigger, string(variables), e.Error, e.ResumeToken, dialect.BoolToInt(e.RequiresApproval), e.ParentExecutionID, e.CreatedAt, e.CompletedAt)
	if err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

func (s *Store) GetExecution(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	e := &models.WorkflowExecution{}
	var variables string
	var requiresApproval int
	var completedAt sql.NullTime
	err := s.ro.QueryRowContext(ctx, s.ro.Rebind(`
		SELECT id, workflow_id, workflow_hash, status, trigger, variables, error, resume_token, requires_approval, parent_execution_id, created_at, completed_at
		FROM workflow_executions WHERE id = ?
	`), id).Scan(&e.ID, &e.WorkflowID, &e.WorkflowHash, &e.Status, &e.Trigger, &variables, &e.Error, &e.ResumeToken, &requiresApproval, &e.ParentExecutionID, &e.CreatedAt, &completedAt)
	if isNoRows(err) {
		return nil, coreerr.New(coreerr.NotFound, "execution not found: "+id)
	}
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(variables), &e.Variables)
	e.RequiresApproval = requiresApproval != 0
	if completedAt.Valid {
		e.CompletedAt = &completedAt.Time
	}
	return e, nil
}

// UpdateExecution persists status/variables/resumeToken changes. Callers
// transitioning to/from needs_approval must clear or mint resumeToken in
// the same call, matching invariant §3.3.
func (s *Store) UpdateExecution(ctx context.Context, e *models.WorkflowExecution) error {
	variables, err := json.Marshal(e.Variables)
	if err != nil {
		variables = []byte("{}")
	}
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE workflow_executions
		SET status = ?, variables = ?, error = ?, resume_token = ?, requires_approval = ?, completed_at = ?
		WHERE id = ?
	`), e.Status, string(variables), e.Error, e.ResumeToken, dialect.BoolToInt(e.RequiresApproval), e.CompletedAt, e.ID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return coreerr.New(coreerr.NotFound, "execution not found: "+e.ID)
	}
	return nil
}

func (s *Store) AppendStepTrace(ctx context.Context, t *models.StepTrace) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO step_traces (id, execution_id, step_id, attempt, status, error, started_at, completed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), t.ID, t.ExecutionID, t.StepID, t.Attempt, t.Status, t.Error, t.StartedAt, t.CompletedAt, t.CreatedAt)
	return err
}

func (s *Store) ListStepTraces(ctx context.Context, executionID string, limit int) ([]*models.StepTrace, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(`
		SELECT id, execution_id, step_id, attempt, status, error, started_at, completed_at, created_at
		FROM step_traces WHERE execution_id = ? ORDER BY created_at, id LIMIT ?
	`), executionID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*models.StepTrace
	for rows.Next() {
		t := &models.StepTrace{}
		var startedAt, completedAt sql.NullTime
		if err := rows.Scan(&t.ID, &t.ExecutionID, &t.StepID, &t.Attempt, &t.Status, &t.Error, &startedAt, &completedAt, &t.CreatedAt); err != nil {
			return nil, err
		}
		if startedAt.Valid {
			t.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			t.CompletedAt = &completedAt.Time
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *Store) CreateProposal(ctx context.Context, p *models.WorkflowProposal) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO workflow_proposals (id, workflow_id, base_hash, proposed_by_session_id, execution_id, proposal_json, diff_text, status, review_notes, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), p.ID, p.WorkflowID, p.BaseHash, p.ProposedBySessionID, p.ExecutionID, p.ProposalJSON, p.DiffText, p.Status, p.ReviewNotes, p.ExpiresAt, p.CreatedAt)
	return err
}

func (s *Store) GetProposal(ctx context.Context, id string) (*models.WorkflowProposal, error) {
	p := &models.WorkflowProposal{}
	var expiresAt sql.NullTime
	err := s.ro.QueryRowContext(ctx, s.ro.Rebind(`
		SELECT id, workflow_id, base_hash, proposed_by_session_id, execution_id, proposal_json, diff_text, status, review_notes, expires_at, created_at
		FROM workflow_proposals WHERE id = ?
	`), id).Scan(&p.ID, &p.WorkflowID, &p.BaseHash, &p.ProposedBySessionID, &p.ExecutionID, &p.ProposalJSON, &p.DiffText, &p.Status, &p.ReviewNotes, &expiresAt, &p.CreatedAt)
	if isNoRows(err) {
		return nil, coreerr.New(coreerr.NotFound, "proposal not found: "+id)
	}
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		p.ExpiresAt = &expiresAt.Time
	}
	return p, nil
}

func (s *Store) UpdateProposal(ctx context.Context, p *models.WorkflowProposal) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE workflow_proposals SET status = ?, review_notes = ? WHERE id = ?
	`), p.Status, p.ReviewNotes, p.ID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return coreerr.New(coreerr.NotFound, "proposal not found: "+p.ID)
	}
	return nil
}

func (s *Store) ListExpiredProposals(ctx context.Context, asOf time.Time) ([]*models.WorkflowProposal, error) {
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(`
		SELECT id, workflow_id, base_hash, proposed_by_session_id, execution_id, proposal_json, diff_text, status, review_notes, expires_at, created_at
		FROM workflow_proposals
		WHERE status = ? AND expires_at IS NOT NULL AND expires_at <= ?
	`), models.ProposalDraft, asOf)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*models.WorkflowProposal
	for rows.Next() {
		p := &models.WorkflowProposal{}
		var expiresAt sql.NullTime
		if err := rows.Scan(&p.ID, &p.WorkflowID, &p.BaseHash, &p.ProposedBySessionID, &p.ExecutionID, &p.ProposalJSON, &p.DiffText, &p.Status, &p.ReviewNotes, &expiresAt, &p.CreatedAt); err != nil {
			return nil, err
		}
		if expiresAt.Valid {
			p.ExpiresAt = &expiresAt.Time
		}
		result = append(result, p)
	}
	return result, rows.Err()
}
