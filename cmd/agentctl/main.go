// Command agentctl is the workflow CLI described in spec §6: validate,
// run, resume and propose all operate against the same store the
// control-plane server uses, so a definition validated or an execution
// resumed from the CLI is immediately visible to the running server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		// Cobra already printed the error via our RunE handlers, which
		// emit the JSON envelope themselves; here we only pick the exit
		// code, per §6: 0 success, 20 hash mismatch, nonzero otherwise.
		os.Exit(exitCodeFor(err))
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "agentctl",
		Short:         "agentctl drives workflow definitions against the agentcore control plane",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String("config", "", "path to config file (default: env/working directory discovery)")
	cmd.PersistentFlags().String("db", "", "override the database path/DSN from config")

	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newProposeCmd())
	return cmd
}

// envelope is the single JSON object every subcommand writes to stdout,
// per §6: "{ok, status, ...}".
type envelope struct {
	OK     bool           `json:"ok"`
	Status string         `json:"status,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
	Error  string         `json:"error,omitempty"`
	Code   string         `json:"code,omitempty"`
}

func writeEnvelope(e envelope) {
	encodeEnvelope(os.Stdout, e)
}

func fail(err error) error {
	code, detail := classify(err)
	writeEnvelope(envelope{OK: false, Status: "error", Error: detail, Code: code})
	return &exitError{code: exitCodeForKind(code)}
}

type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit %d", e.code) }

func exitCodeFor(err error) int {
	if ee, ok := err.(*exitError); ok {
		return ee.code
	}
	return 1
}
