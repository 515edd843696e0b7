// Package session implements the single-writer Session Actor and its
// Registry (§4.A): every mutation of a session's messages and status runs
// serially through one actor goroutine per session id, the same hub/registry
// shape the teacher uses for its gateway connections, generalized from a
// connection registry to a full state-machine actor.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/common/constants"
	"github.com/kandev/agentcore/internal/common/logger"
	"github.com/kandev/agentcore/internal/coreerr"
	"github.com/kandev/agentcore/internal/eventbus"
	"github.com/kandev/agentcore/internal/models"
	"github.com/kandev/agentcore/internal/runner"
	"github.com/kandev/agentcore/internal/sandbox"
	"github.com/kandev/agentcore/internal/store"
)

// inboxCapacity is the bounded mailbox size; a caller enqueuing past this
// gets BUSY immediately rather than blocking (§5).
const inboxCapacity = 64

// ConnSender is the subset of *runner.Conn the actor depends on. Depending
// on the interface rather than the concrete type lets tests substitute an
// in-memory link instead of a real WebSocket.
type ConnSender interface {
	Send(f *runner.Frame) bool
	LastActivity() time.Time
}

// terminateGracePeriod is how long Terminate pauses after sending `stop` to a
// busy runner before the supervisor tears the sandbox down. The pause always
// runs its full length; the actor does not watch for an acknowledgement.
const terminateGracePeriod = 10 * time.Second

type cmdKind string

const (
	cmdStart        cmdKind = "start"
	cmdPrompt       cmdKind = "prompt"
	cmdAnswer       cmdKind = "answer"
	cmdForward      cmdKind = "forward"
	cmdTerminate    cmdKind = "terminate"
	cmdHibernate    cmdKind = "hibernate"
	cmdAttachConn   cmdKind = "attach_conn"
	cmdFrame        cmdKind = "frame"
	cmdDisconnect   cmdKind = "disconnect"
	cmdHeartbeatTMO cmdKind = "heartbeat_timeout"
)

type actorCmd struct {
	kind    cmdKind
	payload any
	reply   chan actorResult
}

type actorResult struct {
	value any
	err   error
}

// PromptInput is the payload for Actor.Prompt.
type PromptInput struct {
	Content   string
	Model     string
	Interrupt bool
}

// ForwardInput is the payload for Actor.Forward.
type ForwardInput struct {
	FromSessionID string
	Limit         int
	After         *time.Time
}

// Actor is the single-writer execution context for one session. All public
// methods enqueue a command processed by run() and never mutate state
// directly, so concurrent callers are always serialized by actor identity
// rather than by a lock on the store.
type Actor struct {
	id    string
	store store.Store
	bus   eventbus.Bus
	sb    *sandbox.Supervisor
	log   *logger.Logger

	inbox chan actorCmd
	done  chan struct{}

	mu     sync.RWMutex
	status models.SessionStatus
	parent string

	conn             ConnSender
	outbox           *runner.Outbox
	pendingQuestions map[string]struct{}

	busy          bool // runner reports a non-terminal agentStatus
	awaitingAbort bool
	queuedPrompt  *queuedPrompt // prompt held back until idle or abort confirmed

	gracePeriod time.Duration // terminate's pause after stop; tests shorten this
}

type queuedPrompt struct {
	messageID string
	content   string
	model     string
}

// newActor builds an actor for an already-persisted session row.
func newActor(s *models.Session, st store.Store, bus eventbus.Bus, sb *sandbox.Supervisor, log *logger.Logger) *Actor {
	a := &Actor{
		id:               s.ID,
		store:            st,
		bus:              bus,
		sb:               sb,
		log:              log.WithSessionID(s.ID).WithFields(zap.String("component", "session-actor")),
		inbox:            make(chan actorCmd, inboxCapacity),
		done:             make(chan struct{}),
		status:           s.Status,
		parent:           s.ParentID,
		outbox:           runner.NewOutbox(0),
		pendingQuestions: make(map[string]struct{}),
		gracePeriod:      terminateGracePeriod,
	}
	go a.run()
	return a
}

// ID returns the session id this actor owns.
func (a *Actor) ID() string { return a.id }

// Status returns the actor's current in-memory status.
func (a *Actor) Status() models.SessionStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

func (a *Actor) setStatus(s models.SessionStatus) {
	a.mu.Lock()
	a.status = s
	a.mu.Unlock()
}

// enqueue submits cmd, returning BUSY immediately if the inbox is full, and
// otherwise waits for the reply or ctx's deadline.
func (a *Actor) enqueue(ctx context.Context, kind cmdKind, payload any) (any, error) {
	cmd := actorCmd{kind: kind, payload: payload, reply: make(chan actorResult, 1)}
	select {
	case a.inbox <- cmd:
	default:
		return nil, coreerr.New(coreerr.Busy, "session actor queue is full")
	}

	select {
	case res := <-cmd.reply:
		return res.value, res.err
	case <-ctx.Done():
		return nil, coreerr.Wrap(coreerr.Timeout, "waiting for session actor", ctx.Err())
	case <-a.done:
		return nil, coreerr.New(coreerr.Internal, "session actor stopped")
	}
}

func (a *Actor) run() {
	for cmd := range a.inbox {
		var res actorResult
		switch cmd.kind {
		case cmdStart:
			res.err = a.doStart(context.Background())
		case cmdPrompt:
			res.value, res.err = a.doPrompt(context.Background(), cmd.payload.(PromptInput))
		case cmdAnswer:
			in := cmd.payload.([2]string)
			res.err = a.doAnswer(context.Background(), in[0], in[1])
		case cmdForward:
			res.err = a.doForward(context.Background(), cmd.payload.(ForwardInput))
		case cmdTerminate:
			res.err = a.doTerminate(context.Background())
		case cmdHibernate:
			res.err = a.doHibernate(context.Background())
		case cmdAttachConn:
			a.conn = cmd.payload.(ConnSender)
		case cmdFrame:
			a.doFrame(context.Background(), cmd.payload.(*runner.Frame))
		case cmdDisconnect:
			a.conn = nil
		case cmdHeartbeatTMO:
			res.err = a.doHeartbeatTimeout(context.Background())
		}
		cmd.reply <- res
		if cmd.kind == cmdTerminate && res.err == nil {
			close(a.done)
			return
		}
	}
}

func (a *Actor) doStart(ctx context.Context) error {
	current := a.Status()
	if !models.CanTransition(current, models.SessionStarting) {
		return coreerr.New(coreerr.Conflict, fmt.Sprintf("cannot start session from status %s", current))
	}
	a.setStatus(models.SessionStarting)
	a.emit(ctx, "session.starting", nil)
	if err := a.store.UpdateSessionStatus(ctx, a.id, models.SessionStarting); err != nil {
		return err
	}

	_, err := a.sb.GetOrCreate(ctx, sandbox.CreateRequest{SessionID: a.id})
	if err != nil {
		a.setStatus(models.SessionError)
		_ = a.store.UpdateSessionStatus(ctx, a.id, models.SessionError)
		a.emit(ctx, "session.error", map[string]any{"reason": err.Error()})
		return err
	}

	a.setStatus(models.SessionRunning)
	if err := a.store.UpdateSessionStatus(ctx, a.id, models.SessionRunning); err != nil {
		return err
	}
	a.emit(ctx, "session.running", nil)
	return nil
}

// doPrompt enforces strict FIFO delivery to the runner: a prompt arriving
// while the agent is non-idle is held until either the agent reports idle,
// or (interrupt=true) an abort round-trips first.
func (a *Actor) doPrompt(ctx context.Context, in PromptInput) (string, error) {
	status := a.Status()
	if status != models.SessionRunning && status != models.SessionIdle {
		return "", coreerr.New(coreerr.Conflict, fmt.Sprintf("cannot prompt session in status %s", status))
	}

	messageID := uuid.New().String()
	qp := &queuedPrompt{messageID: messageID, content: in.Content, model: in.Model}

	if !a.busy {
		if err := a.deliverPrompt(ctx, qp); err != nil {
			return "", err
		}
		return messageID, nil
	}

	if !in.Interrupt {
		a.queuedPrompt = qp
		return messageID, nil
	}

	if a.conn == nil {
		return "", coreerr.New(coreerr.RunnerDisconnected, "no active runner connection to interrupt")
	}
	abortFrame, _ := runner.NewFrame(runner.FrameAbort, "", struct{}{})
	if !a.conn.Send(abortFrame) {
		return "", coreerr.New(coreerr.Busy, "runner send buffer full")
	}
	a.awaitingAbort = true
	a.queuedPrompt = qp
	return messageID, nil
}

func (a *Actor) deliverPrompt(ctx context.Context, qp *queuedPrompt) error {
	if a.conn == nil {
		return coreerr.New(coreerr.RunnerDisconnected, "no active runner connection")
	}
	frame, err := runner.NewFrame(runner.FramePrompt, qp.messageID, runner.PromptPayload{
		MessageID: qp.messageID,
		Content:   qp.content,
		Model:     qp.model,
	})
	if err != nil {
		return coreerr.Wrap(coreerr.Internal, "encoding prompt frame", err)
	}
	if !a.conn.Send(frame) {
		return coreerr.New(coreerr.Busy, "runner send buffer full")
	}
	a.outbox.Record(frame)
	a.busy = true

	if err := a.store.AppendMessage(ctx, &models.Message{
		ID:        qp.messageID,
		SessionID: a.id,
		Role:      "user",
		Content:   qp.content,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}
	return nil
}

func (a *Actor) doAnswer(ctx context.Context, questionID, value string) error {
	if _, ok := a.pendingQuestions[questionID]; !ok {
		return coreerr.New(coreerr.NotFound, "no pending question with id "+questionID)
	}
	if a.conn == nil {
		return coreerr.New(coreerr.RunnerDisconnected, "no active runner connection")
	}
	frame, err := runner.NewFrame(runner.FrameAnswer, questionID, runner.AnswerPayload{QuestionID: questionID, Answer: value})
	if err != nil {
		return coreerr.Wrap(coreerr.Internal, "encoding answer frame", err)
	}
	if !a.conn.Send(frame) {
		return coreerr.New(coreerr.Busy, "runner send buffer full")
	}
	delete(a.pendingQuestions, questionID)
	return nil
}

func (a *Actor) doForward(ctx context.Context, in ForwardInput) error {
	msgs, err := a.store.ListMessages(ctx, in.FromSessionID, in.Limit, in.After)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		copyMsg := &models.Message{
			ID:          uuid.New().String(),
			SessionID:   a.id,
			Role:        m.Role,
			Content:     m.Content,
			ChannelType: "forward",
			ChannelID:   in.FromSessionID,
			ForwardFrom: m.ID,
			CreatedAt:   time.Now().UTC(),
		}
		if err := a.store.AppendMessage(ctx, copyMsg); err != nil {
			return err
		}
	}
	return nil
}

func (a *Actor) doTerminate(ctx context.Context) error {
	status := a.Status()
	if !models.CanTransition(status, models.SessionTerminated) {
		return coreerr.New(coreerr.Conflict, fmt.Sprintf("cannot terminate session from status %s", status))
	}

	if a.conn != nil {
		stopFrame, _ := runner.NewFrame(runner.FrameStop, "", struct{}{})
		a.conn.Send(stopFrame)
		if a.busy {
			graceCtx, cancel := context.WithTimeout(ctx, a.gracePeriod)
			<-graceCtx.Done()
			cancel()
		}
	}

	if err := a.sb.Stop(ctx, a.id); err != nil {
		a.log.Warn("error stopping sandbox during terminate", zap.Error(err))
	}

	a.setStatus(models.SessionTerminated)
	if err := a.store.UpdateSessionStatus(ctx, a.id, models.SessionTerminated); err != nil {
		return err
	}
	a.emit(ctx, "session.terminated", nil)
	return nil
}

func (a *Actor) doHibernate(ctx context.Context) error {
	status := a.Status()
	if !models.CanTransition(status, models.SessionHibernated) {
		return coreerr.New(coreerr.Conflict, fmt.Sprintf("cannot hibernate session from status %s", status))
	}
	if err := a.sb.Stop(ctx, a.id); err != nil {
		a.log.Warn("error stopping sandbox during hibernate", zap.Error(err))
	}
	a.setStatus(models.SessionHibernated)
	if err := a.store.UpdateSessionStatus(ctx, a.id, models.SessionHibernated); err != nil {
		return err
	}
	a.emit(ctx, "session.hibernated", nil)
	return nil
}

// doFrame is the single place outbound runner frames are interpreted. It
// runs on the actor's own goroutine (dispatched here from the conn's read
// pump via HandleFrame), preserving the single-writer guarantee even for
// runner-originated state changes.
func (a *Actor) doFrame(ctx context.Context, f *runner.Frame) {
	if a.Status() == models.SessionTerminated {
		a.log.Warn("dropping frame for terminated session", zap.String("frame_type", string(f.Type)))
		return
	}

	switch f.Type {
	case runner.FrameStream:
		// Deltas are not persisted; only the terminal result is authoritative.
	case runner.FrameResult:
		var p runner.ResultPayload
		_ = f.Decode(&p)
		_ = a.store.AppendMessage(ctx, &models.Message{
			ID:        uuid.New().String(),
			SessionID: a.id,
			Role:      "assistant",
			Content:   p.Content,
			CreatedAt: time.Now().UTC(),
		})
	case runner.FrameQuestion:
		var p runner.QuestionPayload
		_ = f.Decode(&p)
		a.pendingQuestions[p.QuestionID] = struct{}{}
	case runner.FrameAgentStat:
		var p runner.AgentStatusPayload
		_ = f.Decode(&p)
		a.busy = p.Status != "idle" && p.Status != "complete"
		if !a.busy {
			if a.Status() == models.SessionRunning {
				a.setStatus(models.SessionIdle)
			}
			a.flushQueuedPrompt(ctx)
		} else if a.Status() == models.SessionIdle {
			a.setStatus(models.SessionRunning)
		}
	case runner.FrameAborted:
		a.awaitingAbort = false
		a.busy = false
		a.flushQueuedPrompt(ctx)
	case runner.FrameComplete:
		a.busy = false
		if a.Status() == models.SessionRunning {
			a.setStatus(models.SessionIdle)
		}
		a.flushQueuedPrompt(ctx)
	case runner.FrameError:
		var p runner.ErrorPayload
		_ = f.Decode(&p)
		a.log.Error("runner reported error", zap.String("message_id", p.MessageID), zap.String("error", p.Error))
	default:
		a.log.Warn("unhandled frame type, ignoring", zap.String("frame_type", string(f.Type)))
	}
}

func (a *Actor) flushQueuedPrompt(ctx context.Context) {
	if a.queuedPrompt == nil {
		return
	}
	qp := a.queuedPrompt
	a.queuedPrompt = nil
	if err := a.deliverPrompt(ctx, qp); err != nil {
		a.log.Error("failed to flush queued prompt", zap.Error(err))
	}
}

func (a *Actor) doHeartbeatTimeout(ctx context.Context) error {
	if a.Status() == models.SessionTerminated {
		return nil
	}
	a.log.Warn("runner heartbeat timed out, transitioning to error")
	a.setStatus(models.SessionError)
	return a.store.UpdateSessionStatus(ctx, a.id, models.SessionError)
}

func (a *Actor) emit(ctx context.Context, eventType string, payload map[string]any) {
	if a.bus == nil {
		return
	}
	s, err := a.store.GetSession(ctx, a.id)
	if err != nil {
		return
	}
	_ = a.bus.Publish(ctx, s.UserID, eventbus.NewEvent(eventType, a.id, payload))
}

// --- public API, each enqueuing onto the single-writer loop ---

func (a *Actor) Start(ctx context.Context) error {
	_, err := a.enqueue(ctx, cmdStart, nil)
	return err
}

func (a *Actor) Prompt(ctx context.Context, in PromptInput) (string, error) {
	v, err := a.enqueue(ctx, cmdPrompt, in)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (a *Actor) Answer(ctx context.Context, questionID, value string) error {
	_, err := a.enqueue(ctx, cmdAnswer, [2]string{questionID, value})
	return err
}

func (a *Actor) Forward(ctx context.Context, in ForwardInput) error {
	_, err := a.enqueue(ctx, cmdForward, in)
	return err
}

func (a *Actor) Terminate(ctx context.Context) error {
	_, err := a.enqueue(ctx, cmdTerminate, nil)
	return err
}

func (a *Actor) Hibernate(ctx context.Context) error {
	_, err := a.enqueue(ctx, cmdHibernate, nil)
	return err
}

// AttachConn installs conn as the actor's live runner link, used by the
// WebSocket handshake handler once a Runner connects. It also starts a
// heartbeat-miss monitor; inbound frames reach the actor through HandleFrame.
func (a *Actor) AttachConn(ctx context.Context, conn ConnSender) error {
	_, err := a.enqueue(ctx, cmdAttachConn, conn)
	if err != nil {
		return err
	}
	go a.monitorHeartbeat(conn)
	return nil
}

func (a *Actor) monitorHeartbeat(conn ConnSender) {
	ticker := time.NewTicker(constants.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if time.Since(conn.LastActivity()) > constants.HeartbeatTimeout {
				_, _ = a.enqueue(context.Background(), cmdHeartbeatTMO, nil)
				return
			}
		case <-a.done:
			return
		}
	}
}

// HandleFrame implements runner.Handler, invoked from conn's read pump
// goroutine; it only ever enqueues onto the actor's own loop.
func (a *Actor) HandleFrame(sessionID string, f *runner.Frame) {
	_, _ = a.enqueue(context.Background(), cmdFrame, f)
}

// HandleDisconnect implements runner.Handler.
func (a *Actor) HandleDisconnect(sessionID string) {
	_, _ = a.enqueue(context.Background(), cmdDisconnect, nil)
}
