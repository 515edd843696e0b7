package hierarchy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/agentcore/internal/common/logger"
	"github.com/kandev/agentcore/internal/coreerr"
	"github.com/kandev/agentcore/internal/models"
	"github.com/kandev/agentcore/internal/sandbox"
	"github.com/kandev/agentcore/internal/session"
	"github.com/kandev/agentcore/internal/store"
	"github.com/kandev/agentcore/internal/store/memstore"
)

type fakeDriver struct{}

func (fakeDriver) Name() string { return "fake" }
func (fakeDriver) Create(_ context.Context, req sandbox.CreateRequest) (*sandbox.Handle, error) {
	return &sandbox.Handle{SessionID: req.SessionID, Name: req.Name}, nil
}
func (fakeDriver) Probe(_ context.Context, h *sandbox.Handle) (sandbox.HealthState, error) {
	return sandbox.HealthHealthy, nil
}
func (fakeDriver) Stop(_ context.Context, h *sandbox.Handle) error { return nil }
func (fakeDriver) List(_ context.Context) ([]*sandbox.Handle, error) { return nil, nil }

func newTestHierarchy(t *testing.T) (*Hierarchy, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	sb := sandbox.New(fakeDriver{}, logger.Default())
	reg := session.NewRegistry(st, nil, sb, logger.Default())
	return New(st, reg, logger.Default()), st
}

func TestSpawnChild_InheritsParentUserAndSetsParentID(t *testing.T) {
	h, st := newTestHierarchy(t)

	parentActor, err := h.registry.CreateSession(context.Background(), "user-1", "", "ws", "parent", models.PurposeOrchestrator)
	require.NoError(t, err)

	childID, err := h.SpawnChild(context.Background(), SpawnChildInput{
		ParentID:  parentActor.ID(),
		Task:      "do the thing",
		Workspace: "ws",
	})
	require.NoError(t, err)

	child, err := st.GetSession(context.Background(), childID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", child.UserID)
	assert.Equal(t, parentActor.ID(), child.ParentID)
	assert.Equal(t, models.PurposeChild, child.Purpose)
}

func TestSessionMessage_RejectsCrossUserNonAncestor(t *testing.T) {
	h, _ := newTestHierarchy(t)

	a, err := h.registry.CreateSession(context.Background(), "user-1", "", "ws", "a", models.PurposeInteractive)
	require.NoError(t, err)
	b, err := h.registry.CreateSession(context.Background(), "user-2", "", "ws", "b", models.PurposeInteractive)
	require.NoError(t, err)

	err = h.SessionMessage(context.Background(), a.ID(), b.ID(), "hello", false)
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.Forbidden))
}

func TestSessionMessage_AllowsAncestorMessagingDescendant(t *testing.T) {
	h, _ := newTestHierarchy(t)

	parent, err := h.registry.CreateSession(context.Background(), "user-1", "", "ws", "parent", models.PurposeOrchestrator)
	require.NoError(t, err)
	childID, err := h.SpawnChild(context.Background(), SpawnChildInput{ParentID: parent.ID(), Task: "t", Workspace: "ws"})
	require.NoError(t, err)

	child, err := h.registry.Get(context.Background(), childID)
	require.NoError(t, err)
	require.NoError(t, child.Start(context.Background()))

	err = h.SessionMessage(context.Background(), parent.ID(), childID, "go", false)
	assert.NoError(t, err)
}

func TestSendMailbox_UnknownHandleFailsClosed(t *testing.T) {
	h, _ := newTestHierarchy(t)
	_, err := h.SendMailbox(context.Background(), SendMailboxInput{
		ToHandle:    "nonexistent-handle",
		MessageType: "notification",
		Content:     "hi",
	})
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.NotFound))
}

func TestReadMailbox_MarksEntriesRead(t *testing.T) {
	h, _ := newTestHierarchy(t)
	_, err := h.SendMailbox(context.Background(), SendMailboxInput{
		ToUserID:    "user-1",
		MessageType: "notification",
		Content:     "hi",
	})
	require.NoError(t, err)

	entries, err := h.ReadMailbox(context.Background(), store.MailboxRecipient{UserID: "user-1"}, 10, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	again, err := h.store.ListMailbox(context.Background(), store.MailboxRecipient{UserID: "user-1"}, 10, nil)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.NotNil(t, again[0].ReadAt)
}
