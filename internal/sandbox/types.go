// Package sandbox supervises the isolated execution environment (a Sprite or
// a Docker container) backing each session, per §4.C. It derives a stable
// handle name from the session id, probes health after creation, and exposes
// a single Driver abstraction so the rest of the control plane never knows
// which backend is in use.
package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// handlePrefix namespaces every sandbox this control plane creates so a
// shared Sprites/Docker account can coexist with unrelated workloads.
const handlePrefix = "agentcore-"

// DeriveHandleName returns the stable, deterministic sandbox name for a
// session: calling it twice for the same sessionID always yields the same
// name, which is what lets getOrCreate recover a sandbox that already
// exists instead of leaking a duplicate.
func DeriveHandleName(sessionID string) string {
	sum := sha256.Sum256([]byte(sessionID))
	return handlePrefix + hex.EncodeToString(sum[:])[:16]
}

// HealthState is the result of a single probe.
type HealthState string

const (
	HealthUnknown   HealthState = "unknown"
	HealthStarting  HealthState = "starting"
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
	HealthGone      HealthState = "gone"
)

// Handle identifies a running sandbox instance and how to reach it.
type Handle struct {
	SessionID string
	Name      string
	Driver    string
	Address   string // runner WebSocket endpoint once reachable
	CreatedAt time.Time
}

// CreateRequest carries everything a Driver needs to start a sandbox.
type CreateRequest struct {
	SessionID   string
	Name        string
	Image       string
	Env         map[string]string
	IdleTimeout time.Duration
}

// Driver is implemented once per backend (Sprites, Docker, ...). It never
// tracks handles itself; Supervisor owns that bookkeeping so a driver swap
// never loses state.
type Driver interface {
	Name() string

	// Create starts a new sandbox and returns its Handle. It must be safe to
	// call again for a name that already exists (idempotent create), since a
	// crash-and-restart recovery path relies on that.
	Create(ctx context.Context, req CreateRequest) (*Handle, error)

	// Probe reports the current health of a previously created sandbox.
	Probe(ctx context.Context, h *Handle) (HealthState, error)

	// Stop tears the sandbox down. Stopping an already-gone sandbox is not
	// an error.
	Stop(ctx context.Context, h *Handle) error

	// List enumerates sandboxes this driver currently manages, for
	// supervisor-side recovery after a control plane restart.
	List(ctx context.Context) ([]*Handle, error)
}
