package consoletest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/consoletest/consoletest/internal/logger"
)

type (
	// An ExecutorOption is a functional option for an Executor
	ExecutorOption func(*Executor)
	// An Executor runs the testable nodes extracted from one or more
	// documents. Documents sharing an Executor run strictly one after the
	// other: activation and temporary variables mutate the process-wide
	// environment, so parallel document runs inside one process are unsafe.
	Executor struct {
		// Flags
		Dir          string
		EnvFile      string
		Interpreter  string
		DockerCLI    string
		PollInterval time.Duration
		Verbose      bool
		Color        bool

		// I/O
		Stdout io.Writer
		Stderr io.Writer

		// Internal
		Logger   *logger.Logger
		Registry *Registry

		fixups       []Fixup
		postActivate []PostActivateHook

		interpVersion string
	}

	// A Fixup may rewrite a command's argument vector just before it runs,
	// e.g. to point a documented package name at a local checkout.
	Fixup func(rctx *RunContext, argv []string) ([]string, error)

	// A PostActivateHook runs after an environment activation completes.
	// Hooks may perform additional setup but cannot fail the activation:
	// errors and panics are logged and swallowed.
	PostActivateHook func(ctx context.Context, e *Executor, cmd *ActivateVirtualEnvCommand, rctx *RunContext) error
)

func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		DockerCLI:    "docker",
		PollInterval: 100 * time.Millisecond,
	}
	e.Options(opts...)
	return e
}

func (e *Executor) Options(opts ...ExecutorOption) {
	for _, opt := range opts {
		opt(e)
	}
}

func WithDir(dir string) ExecutorOption {
	return func(e *Executor) {
		e.Dir = dir
	}
}

func WithEnvFile(path string) ExecutorOption {
	return func(e *Executor) {
		e.EnvFile = path
	}
}

// WithInterpreter pins the Python interpreter used for bare "python"
// invocations, sandbox evaluation and virtual environment creation. Without
// it the first of "python3" and "python" found on PATH is used.
func WithInterpreter(path string) ExecutorOption {
	return func(e *Executor) {
		e.Interpreter = path
	}
}

func WithDockerCLI(path string) ExecutorOption {
	return func(e *Executor) {
		e.DockerCLI = path
	}
}

func WithPollInterval(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.PollInterval = d
	}
}

func WithVerbose(verbose bool) ExecutorOption {
	return func(e *Executor) {
		e.Verbose = verbose
	}
}

func WithColor(color bool) ExecutorOption {
	return func(e *Executor) {
		e.Color = color
	}
}

func WithStdout(stdout io.Writer) ExecutorOption {
	return func(e *Executor) {
		e.Stdout = stdout
	}
}

func WithStderr(stderr io.Writer) ExecutorOption {
	return func(e *Executor) {
		e.Stderr = stderr
	}
}

// WithFixup registers a command fixup, applied to every console command in
// registration order.
func WithFixup(f Fixup) ExecutorOption {
	return func(e *Executor) {
		e.fixups = append(e.fixups, f)
	}
}

// WithPostActivateHook registers a hook run after every environment
// activation.
func WithPostActivateHook(h PostActivateHook) ExecutorOption {
	return func(e *Executor) {
		e.postActivate = append(e.postActivate, h)
	}
}

// WithRegistry swaps the command registry, e.g. to add custom variants.
func WithRegistry(r *Registry) ExecutorOption {
	return func(e *Executor) {
		e.Registry = r
	}
}

func (e *Executor) applyFixups(rctx *RunContext, argv []string) ([]string, error) {
	var err error
	for _, fixup := range e.fixups {
		argv, err = fixup(rctx, argv)
		if err != nil {
			return nil, err
		}
	}
	return argv, nil
}

func (e *Executor) runPostActivateHook(ctx context.Context, hook PostActivateHook, cmd *ActivateVirtualEnvCommand, rctx *RunContext) {
	defer func() {
		if r := recover(); r != nil {
			e.Logger.Errf(logger.Red, "consoletest: post-activate hook panicked: %v", r)
		}
	}()
	if err := hook(ctx, e, cmd, rctx); err != nil {
		e.Logger.Errf(logger.Red, "consoletest: post-activate hook failed: %v", err)
	}
}

// interpreterVersion returns the configured interpreter's "major.minor"
// version string, querying it once and caching the answer.
func (e *Executor) interpreterVersion(ctx context.Context) (string, error) {
	if e.interpVersion != "" {
		return e.interpVersion, nil
	}
	cmd := exec.CommandContext(ctx, e.Interpreter, "-c", `import sys; print("%d.%d" % sys.version_info[:2])`)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("consoletest: failed to query %s version: %w", e.Interpreter, err)
	}
	e.interpVersion = strings.TrimSpace(out.String())
	return e.interpVersion, nil
}
