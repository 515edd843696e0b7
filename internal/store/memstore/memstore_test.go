package memstore

import (
	"context"
	"testing"

	"github.com/kandev/agentcore/internal/coreerr"
	"github.com/kandev/agentcore/internal/models"
	"github.com/kandev/agentcore/internal/store"
)

func TestNewStore(t *testing.T) {
	s := New()
	if s == nil {
		t.Fatal("expected non-nil store")
	}
	if s.sessions == nil || s.tasks == nil || s.mailbox == nil || s.workflows == nil {
		t.Error("expected maps to be initialized")
	}
}

func TestSessionCRUDAndTransitions(t *testing.T) {
	s := New()
	ctx := context.Background()

	sess := &models.Session{ID: "sess-1", UserID: "user-1", Workspace: "/tmp/ws", Status: models.SessionPending, Purpose: models.PurposeInteractive}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if sess.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}

	got, err := s.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Status != models.SessionPending {
		t.Errorf("expected pending status, got %s", got.Status)
	}

	if err := s.UpdateSessionStatus(ctx, "sess-1", models.SessionStarting); err != nil {
		t.Fatalf("valid transition rejected: %v", err)
	}

	err = s.UpdateSessionStatus(ctx, "sess-1", models.SessionTerminated)
	if err == nil {
		t.Fatal("expected illegal transition starting->terminated to fail")
	}
	if kind, _ := coreerr.As(err); kind != coreerr.Conflict {
		t.Errorf("expected Conflict, got %s", kind)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s := New()
	_, err := s.GetSession(context.Background(), "missing")
	if kind, _ := coreerr.As(err); kind != coreerr.NotFound {
		t.Errorf("expected NotFound, got %s", kind)
	}
}

func TestListAncestorIDsDetectsCycle(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := &models.Session{ID: "a", ParentID: "b", Status: models.SessionRunning}
	b := &models.Session{ID: "b", ParentID: "a", Status: models.SessionRunning}
	_ = s.CreateSession(ctx, a)
	_ = s.CreateSession(ctx, b)

	_, err := s.ListAncestorIDs(ctx, "a", 10)
	if kind, _ := coreerr.As(err); kind != coreerr.Conflict {
		t.Errorf("expected cycle detection to return Conflict, got %v", err)
	}
}

func TestTaskCascadeUnblock(t *testing.T) {
	s := New()
	ctx := context.Background()

	blocker := &models.Task{ID: "t1", OrchestratorSessionID: "orch", Title: "first", Status: models.TaskPending}
	dependent := &models.Task{ID: "t2", OrchestratorSessionID: "orch", Title: "second", Status: models.TaskBlocked}

	if err := s.CreateTask(ctx, blocker, nil); err != nil {
		t.Fatalf("create blocker: %v", err)
	}
	if err := s.CreateTask(ctx, dependent, []string{"t1"}); err != nil {
		t.Fatalf("create dependent: %v", err)
	}

	remaining, err := s.RemainingBlockers(ctx, "t2")
	if err != nil {
		t.Fatalf("remaining blockers: %v", err)
	}
	if remaining != 1 {
		t.Fatalf("expected 1 remaining blocker, got %d", remaining)
	}

	blocker.Status = models.TaskCompleted
	if err := s.UpdateTask(ctx, blocker); err != nil {
		t.Fatalf("complete blocker: %v", err)
	}

	got, err := s.GetTask(ctx, "t2")
	if err != nil {
		t.Fatalf("get dependent: %v", err)
	}
	if got.Status != models.TaskPending {
		t.Errorf("expected dependent unblocked to pending, got %s", got.Status)
	}
}

func TestMailboxResolveHandleUnknown(t *testing.T) {
	s := New()
	_, err := s.ResolveHandle(context.Background(), "@nobody")
	if kind, _ := coreerr.As(err); kind != coreerr.NotFound {
		t.Errorf("expected NotFound for unknown handle, got %v", err)
	}
}

func TestMailboxMarkReadIsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	entry := &models.MailboxEntry{ID: "m1", ToSessionID: "sess-1", MessageType: "note", Content: "hi"}
	if err := s.PutMailboxEntry(ctx, entry); err != nil {
		t.Fatalf("put mailbox entry: %v", err)
	}

	if err := s.MarkRead(ctx, []string{"m1"}); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if err := s.MarkRead(ctx, []string{"m1"}); err != nil {
		t.Fatalf("mark read again: %v", err)
	}

	entries, err := s.ListMailbox(ctx, store.MailboxRecipient{SessionID: "sess-1"}, 10, nil)
	if err != nil {
		t.Fatalf("list mailbox: %v", err)
	}
	if len(entries) != 1 || entries[0].ReadAt == nil {
		t.Fatal("expected one read entry")
	}
}

func TestWorkflowSwapHashStaleBase(t *testing.T) {
	s := New()
	ctx := context.Background()
	wf := &models.Workflow{ID: "wf-1", Slug: "deploy", Name: "Deploy", CurrentHash: "h1"}
	if err := s.CreateWorkflow(ctx, wf); err != nil {
		t.Fatalf("create workflow: %v", err)
	}

	ok, err := s.SwapWorkflowHash(ctx, "wf-1", "wrong-hash", "h2", 2)
	if err != nil {
		t.Fatalf("swap hash: %v", err)
	}
	if ok {
		t.Fatal("expected stale base swap to fail")
	}

	ok, err = s.SwapWorkflowHash(ctx, "wf-1", "h1", "h2", 2)
	if err != nil {
		t.Fatalf("swap hash: %v", err)
	}
	if !ok {
		t.Fatal("expected swap with matching base hash to succeed")
	}

	got, _ := s.GetWorkflow(ctx, "wf-1")
	if got.CurrentHash != "h2" || got.CurrentVersion != 2 {
		t.Errorf("expected hash/version to advance, got %s/%d", got.CurrentHash, got.CurrentVersion)
	}
}
