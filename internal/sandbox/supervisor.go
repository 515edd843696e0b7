package sandbox

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kandev/agentcore/internal/common/constants"
	"github.com/kandev/agentcore/internal/common/logger"
	"github.com/kandev/agentcore/internal/coreerr"
)

// Supervisor owns the one Handle per session and the driver that created it,
// collapsing concurrent getOrCreate calls for the same session into a single
// Driver.Create the way the teacher's lifecycle manager collapses concurrent
// instance creation per task.
type Supervisor struct {
	driver Driver
	log    *logger.Logger

	mu      sync.RWMutex
	handles map[string]*Handle // sessionID -> handle

	group singleflight.Group

	// probeAttempts/probeInterval default to the §4.C 5-poll/60s window;
	// tests override them to avoid a real-time wait.
	probeAttempts int
	probeInterval time.Duration
}

// New builds a Supervisor backed by a single driver. SPEC_FULL.md's
// DomainStack names sprites and docker as the two drivers; selecting between
// them is a cmd/-level config decision (sandbox.driver), not the
// Supervisor's.
func New(driver Driver, log *logger.Logger) *Supervisor {
	return &Supervisor{
		driver:        driver,
		log:           log.WithFields(zap.String("component", "sandbox-supervisor"), zap.String("driver", driver.Name())),
		handles:       make(map[string]*Handle),
		probeAttempts: constants.SandboxHealthProbeAttempts,
		probeInterval: constants.SandboxStartTimeout / constants.SandboxHealthProbeAttempts,
	}
}

// Handle returns the tracked handle for sessionID, if any.
func (s *Supervisor) Handle(sessionID string) (*Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handles[sessionID]
	return h, ok
}

// GetOrCreate returns the existing sandbox for sessionID or creates one,
// then blocks until it reports healthy or SandboxStartTimeout elapses,
// probing every SandboxStartTimeout/SandboxHealthProbeAttempts per §4.C.
func (s *Supervisor) GetOrCreate(ctx context.Context, req CreateRequest) (*Handle, error) {
	if h, ok := s.Handle(req.SessionID); ok {
		return h, nil
	}

	v, err, _ := s.group.Do(req.SessionID, func() (any, error) {
		if h, ok := s.Handle(req.SessionID); ok {
			return h, nil
		}
		if req.Name == "" {
			req.Name = DeriveHandleName(req.SessionID)
		}

		h, err := s.driver.Create(ctx, req)
		if err != nil {
			return nil, coreerr.Wrap(coreerr.SandboxUnhealthy, "creating sandbox", err)
		}

		s.mu.Lock()
		s.handles[req.SessionID] = h
		s.mu.Unlock()

		if err := s.awaitHealthy(ctx, h); err != nil {
			return nil, err
		}
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

// awaitHealthy polls Probe up to SandboxHealthProbeAttempts times, spaced
// evenly across SandboxStartTimeout, returning SANDBOX_UNHEALTHY if the
// sandbox never reaches HealthHealthy in time.
func (s *Supervisor) awaitHealthy(ctx context.Context, h *Handle) error {
	ticker := time.NewTicker(s.probeInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		state, err := s.driver.Probe(ctx, h)
		if err == nil && state == HealthHealthy {
			return nil
		}
		if err != nil {
			s.log.Warn("sandbox health probe error", zap.String("session_id", h.SessionID), zap.Int("attempt", attempt), zap.Error(err))
		}

		if attempt >= s.probeAttempts {
			return coreerr.New(coreerr.SandboxUnhealthy, "sandbox did not become healthy within the startup window")
		}

		select {
		case <-ctx.Done():
			return coreerr.Wrap(coreerr.Timeout, "context cancelled awaiting sandbox health", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Probe reports the current health of sessionID's tracked sandbox.
func (s *Supervisor) Probe(ctx context.Context, sessionID string) (HealthState, error) {
	h, ok := s.Handle(sessionID)
	if !ok {
		return HealthGone, coreerr.New(coreerr.NotFound, "no sandbox tracked for session "+sessionID)
	}
	return s.driver.Probe(ctx, h)
}

// Stop tears down and untracks sessionID's sandbox. It is a no-op if no
// sandbox is tracked.
func (s *Supervisor) Stop(ctx context.Context, sessionID string) error {
	h, ok := s.Handle(sessionID)
	if !ok {
		return nil
	}
	if err := s.driver.Stop(ctx, h); err != nil {
		return coreerr.Wrap(coreerr.Internal, "stopping sandbox", err)
	}
	s.mu.Lock()
	delete(s.handles, sessionID)
	s.mu.Unlock()
	return nil
}

// Recover repopulates the in-memory handle table after a control-plane
// restart. Driver.List reports sandbox names only (a sandbox name derived
// via DeriveHandleName carries no reverse mapping back to a session id), so
// the caller supplies the session ids still considered live (typically
// sessions in a non-terminal status from the store); Recover matches each
// one's derived name against what the driver actually reports running.
func (s *Supervisor) Recover(ctx context.Context, liveSessionIDs []string) (int, error) {
	handles, err := s.driver.List(ctx)
	if err != nil {
		return 0, coreerr.Wrap(coreerr.Internal, "listing sandboxes for recovery", err)
	}
	byName := make(map[string]*Handle, len(handles))
	for _, h := range handles {
		byName[h.Name] = h
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	recovered := 0
	for _, sessionID := range liveSessionIDs {
		name := DeriveHandleName(sessionID)
		h, ok := byName[name]
		if !ok {
			continue
		}
		h.SessionID = sessionID
		s.handles[sessionID] = h
		recovered++
	}
	s.log.Info("sandbox recovery complete", zap.Int("recovered", recovered), zap.Int("reported", len(handles)))
	return recovered, nil
}
