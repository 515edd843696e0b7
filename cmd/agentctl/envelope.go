package main

import (
	"encoding/json"
	"io"

	"github.com/kandev/agentcore/internal/coreerr"
)

func encodeEnvelope(w io.Writer, e envelope) {
	enc := json.NewEncoder(w)
	// Best-effort: a failure to encode the envelope itself has nothing
	// useful left to report to.
	_ = enc.Encode(e)
}

// classify reduces an error to its coreerr kind and detail; exitCodeForKind
// then maps that kind to the §6 exit-code scheme: HASH_MISMATCH gets its own
// code (20), everything else is a generic nonzero failure.
func classify(err error) (code, detail string) {
	kind, d := coreerr.As(err)
	return string(kind), d
}

func exitCodeForKind(kind string) int {
	if kind == string(coreerr.HashMismatch) {
		return 20
	}
	return 1
}
