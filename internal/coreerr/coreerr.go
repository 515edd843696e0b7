// Package coreerr attaches a stable error Kind to core errors so HTTP, WS,
// and CLI adapters can translate them to a status code or exit code without
// the core importing net/http or os.
package coreerr

import (
	"errors"
	"fmt"
)

// Kind is the error taxonomy surfaced to callers.
type Kind string

const (
	Validation          Kind = "VALIDATION"
	Unauthorized        Kind = "UNAUTHORIZED"
	Forbidden           Kind = "FORBIDDEN"
	NotFound            Kind = "NOT_FOUND"
	Conflict            Kind = "CONFLICT"
	StaleBase           Kind = "STALE_BASE"
	HashMismatch        Kind = "HASH_MISMATCH"
	InvalidToken        Kind = "INVALID_TOKEN"
	Timeout             Kind = "TIMEOUT"
	Busy                Kind = "BUSY"
	RunnerDisconnected  Kind = "RUNNER_DISCONNECTED"
	SandboxUnhealthy    Kind = "SANDBOX_UNHEALTHY"
	Internal            Kind = "INTERNAL"
)

// transientKinds are retried locally with bounded attempts per §7; every
// other Kind is a definition-level error and is never retried.
var transientKinds = map[Kind]bool{
	Timeout:            true,
	Busy:               true,
	RunnerDisconnected: true,
}

// Error wraps an underlying cause with a Kind and a human-readable detail.
type Error struct {
	Kind   Kind
	Detail string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a Kind-tagged error with no wrapped cause.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap attaches a Kind and detail to an existing error.
func Wrap(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, cause: cause}
}

// As extracts the Kind and detail from err, falling back to Internal when
// err carries no *Error in its chain.
func As(err error) (Kind, string) {
	if err == nil {
		return "", ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, e.Detail
	}
	return Internal, err.Error()
}

// IsTransient reports whether err's Kind is retried locally with bounded
// attempts rather than surfaced immediately.
func IsTransient(err error) bool {
	kind, _ := As(err)
	return transientKinds[kind]
}

// Is reports whether err's Kind matches kind.
func Is(err error, kind Kind) bool {
	k, _ := As(err)
	return k == kind
}
