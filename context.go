package consoletest

import (
	"github.com/elliotchance/orderedmap/v3"

	"github.com/consoletest/consoletest/errors"
)

// A RunContext is the mutable state shared by every command executed for one
// document: the current working directory, a scratch directory, the daemon
// table and the resource release stack. It is owned exclusively by a single
// document run and must not be shared between concurrent runs, since the
// commands it drives mutate the process-wide environment.
type RunContext struct {
	// Cwd is the directory commands run in. "cd" commands update it.
	Cwd string
	// TempDir is a scratch directory removed when the run closes.
	TempDir string
	// Daemons tracks named background processes in registration order so a
	// later command carrying the same name can stop the prior instance.
	Daemons *orderedmap.OrderedMap[string, *ConsoleCommand]
	// HTTPServers maps documented port numbers to the ephemeral ports test
	// HTTP servers actually bound.
	HTTPServers map[string]int

	cleanups []func() error
}

// Defer pushes a release function onto the run's cleanup stack. The stack is
// unwound in reverse order by Close whether or not the run succeeded.
func (rctx *RunContext) Defer(f func() error) {
	rctx.cleanups = append(rctx.cleanups, f)
}

// Close releases everything acquired during the run, last acquired first.
// Every release is attempted even when an earlier one fails.
func (rctx *RunContext) Close() error {
	var errs []error
	for i := len(rctx.cleanups) - 1; i >= 0; i-- {
		if err := rctx.cleanups[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rctx.cleanups = nil
	return errors.Join(errs...)
}

// JSONSafe returns the subset of the run context that can cross the sandbox
// boundary. Non-serializable entries such as the daemon table and the
// cleanup stack are stripped.
func (rctx *RunContext) JSONSafe() map[string]any {
	return map[string]any{
		"cwd":         rctx.Cwd,
		"temp_dir":    rctx.TempDir,
		"HTTP_SERVER": rctx.HTTPServers,
	}
}
