package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/agentcore/internal/common/logger"
	"github.com/kandev/agentcore/internal/coreerr"
	"github.com/kandev/agentcore/internal/models"
	"github.com/kandev/agentcore/internal/runner"
	"github.com/kandev/agentcore/internal/sandbox"
	"github.com/kandev/agentcore/internal/store/memstore"
)

// fakeConn is an in-memory ConnSender recording every frame sent to it.
type fakeConn struct {
	mu       sync.Mutex
	sent     []*runner.Frame
	lastSeen time.Time
}

func newFakeConn() *fakeConn { return &fakeConn{lastSeen: time.Now()} }

func (f *fakeConn) Send(fr *runner.Frame) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, fr)
	return true
}

func (f *fakeConn) LastActivity() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSeen
}

func (f *fakeConn) framesSent() []*runner.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*runner.Frame, len(f.sent))
	copy(out, f.sent)
	return out
}

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

func newTestActor(t *testing.T) (*Actor, *fakeConn) {
	t.Helper()
	st := memstore.New()
	sb := sandbox.New(fakeDriver{}, logger.Default())
	reg := NewRegistry(st, nil, sb, logger.Default())

	a, err := reg.CreateSession(context.Background(), "user-1", "", "ws", "title", models.PurposeInteractive)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	conn := newFakeConn()
	require.NoError(t, a.AttachConn(context.Background(), conn))
	return a, conn
}

func TestPrompt_DeliversImmediatelyWhenIdle(t *testing.T) {
	a, conn := newTestActor(t)

	msgID, err := a.Prompt(context.Background(), PromptInput{Content: "hello"})
	require.NoError(t, err)
	assert.NotEmpty(t, msgID)

	frames := conn.framesSent()
	require.Len(t, frames, 1)
	assert.Equal(t, runner.FramePrompt, frames[0].Type)
}

func TestPrompt_QueuesWhileBusyWithoutInterrupt(t *testing.T) {
	a, conn := newTestActor(t)

	_, err := a.Prompt(context.Background(), PromptInput{Content: "first"})
	require.NoError(t, err)

	// Simulate the runner going busy mid-turn.
	a.HandleFrame(a.id, mustFrame(t, runner.FrameAgentStat, runner.AgentStatusPayload{Status: "running"}))
	time.Sleep(10 * time.Millisecond)

	_, err = a.Prompt(context.Background(), PromptInput{Content: "second"})
	require.NoError(t, err)

	// Only the first prompt should have reached the runner so far.
	frames := conn.framesSent()
	assert.Len(t, frames, 1)

	// Runner reports idle: the queued prompt should flush.
	a.HandleFrame(a.id, mustFrame(t, runner.FrameAgentStat, runner.AgentStatusPayload{Status: "idle"}))
	time.Sleep(10 * time.Millisecond)

	frames = conn.framesSent()
	assert.Len(t, frames, 2)
}

func TestPrompt_InterruptSendsAbortBeforeQueueing(t *testing.T) {
	a, conn := newTestActor(t)

	_, err := a.Prompt(context.Background(), PromptInput{Content: "first"})
	require.NoError(t, err)
	a.HandleFrame(a.id, mustFrame(t, runner.FrameAgentStat, runner.AgentStatusPayload{Status: "running"}))
	time.Sleep(10 * time.Millisecond)

	_, err = a.Prompt(context.Background(), PromptInput{Content: "second", Interrupt: true})
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	frames := conn.framesSent()
	require.Len(t, frames, 2)
	assert.Equal(t, runner.FrameAbort, frames[1].Type)

	a.HandleFrame(a.id, mustFrame(t, runner.FrameAborted, struct{}{}))
	time.Sleep(10 * time.Millisecond)

	frames = conn.framesSent()
	require.Len(t, frames, 3)
	assert.Equal(t, runner.FramePrompt, frames[2].Type)
}

func TestAnswer_RejectsUnknownQuestionID(t *testing.T) {
	a, _ := newTestActor(t)
	err := a.Answer(context.Background(), "nonexistent", "yes")
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.NotFound))
}

func TestEnqueue_ReturnsBusyWhenInboxFull(t *testing.T) {
	a := &Actor{inbox: make(chan actorCmd, 1), done: make(chan struct{})}

	// Fill the single buffer slot directly (no consumer draining it), so the
	// next enqueue's non-blocking send is forced to its default case.
	a.inbox <- actorCmd{kind: cmdPrompt, reply: make(chan actorResult, 1)}

	_, err := a.enqueue(context.Background(), cmdPrompt, PromptInput{})
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.Busy))
}

func TestTerminate_TransitionsToTerminatedAndStopsAcceptingWork(t *testing.T) {
	a, _ := newTestActor(t)
	require.NoError(t, a.Terminate(context.Background()))
	assert.Equal(t, models.SessionTerminated, a.Status())

	_, err := a.Prompt(context.Background(), PromptInput{Content: "too late"})
	require.Error(t, err)
}

func mustFrame(t *testing.T, typ runner.FrameType, payload any) *runner.Frame {
	t.Helper()
	f, err := runner.NewFrame(typ, "", payload)
	require.NoError(t, err)
	return f
}
