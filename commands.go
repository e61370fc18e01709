package consoletest

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/consoletest/consoletest/errors"
	"github.com/consoletest/consoletest/internal/env"
	"github.com/consoletest/consoletest/internal/fsext"
	"github.com/consoletest/consoletest/internal/logger"
	"github.com/consoletest/consoletest/internal/sandbox"
)

// ConsoleCommand is the default variant: it runs its argument vector as a
// pipeline of OS processes. Every other runnable variant delegates to it.
type ConsoleCommand struct {
	spec *CommandSpec

	// argv is the vector actually executed, after fixups.
	argv          []string
	daemonProc    *exec.Cmd
	daemonStopped bool
}

func NewConsoleCommand(spec *CommandSpec) *ConsoleCommand {
	return &ConsoleCommand{spec: spec, argv: spec.Argv}
}

func (c *ConsoleCommand) Run(ctx context.Context, e *Executor, rctx *RunContext) error {
	argv, err := e.applyFixups(rctx, slices.Clone(c.spec.Argv))
	if err != nil {
		return err
	}
	c.argv = argv

	// Stop anything previously registered under the same daemon name.
	if c.spec.Daemon != "" {
		if prev, ok := rctx.Daemons.Get(c.spec.Daemon); ok {
			prev.stopDaemon()
		}
	}

	if c.spec.CompareOutput == "" {
		proc, err := e.runPipeline(ctx, Pipes(argv), rctx, pipelineOptions{
			stdin:        c.spec.Stdin,
			ignoreErrors: c.spec.IgnoreErrors,
			daemon:       c.spec.Daemon != "",
		})
		if err != nil {
			return err
		}
		if c.spec.Daemon != "" {
			c.daemonProc = proc
			c.daemonStopped = false
			rctx.Daemons.Set(c.spec.Daemon, c)
		}
		return nil
	}

	for {
		var stdout bytes.Buffer
		_, err := e.runPipeline(ctx, Pipes(argv), rctx, pipelineOptions{
			stdin:        c.spec.Stdin,
			stdout:       &stdout,
			ignoreErrors: c.spec.IgnoreErrors,
		})
		if err != nil {
			return err
		}
		ok, err := sandbox.CompareOutput(ctx, e.Interpreter, c.spec.CompareOutput, c.spec.CompareOutputImports, stdout.Bytes())
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !c.spec.PollUntil {
			return &errors.CommandComparisonError{
				Cmd:     argv,
				Compare: c.spec.CompareOutput,
				Stdout:  stdout.Bytes(),
			}
		}
		// Poll forever. There is no built-in bound: callers encode
		// termination in the predicate or cancel the context.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.PollInterval):
		}
	}
}

func (c *ConsoleCommand) Close() error {
	c.stopDaemon()
	return nil
}

// stopDaemon interrupts the command's background process and waits for it to
// exit. Safe to call on commands that never started a daemon, and safe to
// call twice: a daemon replaced by a newer command with the same name is not
// stopped again at scope close.
func (c *ConsoleCommand) stopDaemon() {
	if c.daemonProc == nil || c.daemonStopped {
		return
	}
	c.daemonStopped = true
	c.daemonProc.Process.Signal(os.Interrupt)
	c.daemonProc.Wait()
}

// CDCommand changes the run's working directory for every later command.
type CDCommand struct {
	Directory string
}

func buildCDCommand(spec *CommandSpec) (Command, error) {
	if len(spec.Argv) >= 2 && spec.Argv[0] == "cd" {
		return &CDCommand{Directory: spec.Argv[1]}, nil
	}
	return nil, nil
}

func (c *CDCommand) Run(ctx context.Context, e *Executor, rctx *RunContext) error {
	rctx.Cwd = fsext.SmartJoin(rctx.Cwd, c.Directory)
	return nil
}

func (c *CDCommand) Close() error { return nil }

// ActivateVirtualEnvCommand mutates the process-wide environment so
// subsequently spawned processes resolve interpreters and libraries from the
// activated root. Deactivation happens when the owning scope closes and
// restores the exact prior environment.
type ActivateVirtualEnvCommand struct {
	Directory string

	snapshot *env.Snapshot
}

// Windows-style activation token recognized inside any argument vector.
const windowsActivateToken = `.\.venv\Scripts\activate`

func buildActivateVirtualEnvCommand(spec *CommandSpec) (Command, error) {
	if slices.Contains(spec.Argv, windowsActivateToken) {
		return &ActivateVirtualEnvCommand{Directory: ".venv"}, nil
	}
	if len(spec.Argv) == 2 &&
		(spec.Argv[0] == "source" || spec.Argv[0] == ".") &&
		spec.Argv[1] == ".venv/bin/activate" {
		return &ActivateVirtualEnvCommand{Directory: ".venv"}, nil
	}
	return nil, nil
}

func (c *ActivateVirtualEnvCommand) Run(ctx context.Context, e *Executor, rctx *RunContext) error {
	root := fsext.SmartJoin(rctx.Cwd, c.Directory)
	version, err := e.interpreterVersion(ctx)
	if err != nil {
		return err
	}
	if env.CondaActive() {
		e.Logger.Outf(logger.Yellow, "consoletest: CONDA %s", root)
	} else {
		e.Logger.Outf(logger.Yellow, "consoletest: VIRTUAL_ENV %s", root)
	}
	c.snapshot = env.Activate(root, version)
	for _, hook := range e.postActivate {
		e.runPostActivateHook(ctx, hook, c, rctx)
	}
	return nil
}

func (c *ActivateVirtualEnvCommand) Close() error {
	if c.snapshot != nil {
		c.snapshot.Restore()
		c.snapshot = nil
	}
	return nil
}

// CreateVirtualEnvCommand creates an isolated interpreter root. The
// documented command line is replaced at run time with the strategy matching
// the current environment: a conda create when a conda prefix is active, a
// venv module invocation otherwise.
type CreateVirtualEnvCommand struct {
	Directory string

	console *ConsoleCommand
}

func buildCreateVirtualEnvCommand(spec *CommandSpec) (Command, error) {
	argv := spec.Argv
	if i := slices.Index(argv, "-m"); i >= 0 && i+1 < len(argv) && argv[i+1] == "venv" {
		return &CreateVirtualEnvCommand{Directory: argv[len(argv)-1], console: NewConsoleCommand(spec)}, nil
	}
	if len(argv) >= 2 && argv[0] == "conda" && argv[1] == "create" {
		return &CreateVirtualEnvCommand{Directory: argv[len(argv)-1], console: NewConsoleCommand(spec)}, nil
	}
	return nil, nil
}

func (c *CreateVirtualEnvCommand) Run(ctx context.Context, e *Executor, rctx *RunContext) error {
	var argv []string
	if env.CondaActive() {
		version, err := e.interpreterVersion(ctx)
		if err != nil {
			return err
		}
		argv = []string{"conda", "create", "python=" + version, "-y", "-p", c.Directory}
	} else {
		argv = []string{"python", "-m", "venv", c.Directory}
	}
	c.console = NewConsoleCommand(c.console.spec.withArgv(argv))
	return c.console.Run(ctx, e, rctx)
}

func (c *CreateVirtualEnvCommand) Close() error {
	return c.console.Close()
}

// PipInstallCommand installs packages. Construction fails unless the command
// runs pip as a Python module; bare pip invocations misbehave when the
// interpreter they belong to is not the one on PATH.
type PipInstallCommand struct {
	*ConsoleCommand
}

func buildPipInstallCommand(spec *CommandSpec) (Command, error) {
	argv := spec.Argv
	i := slices.Index(argv, "pip")
	if i < 0 || i+1 >= len(argv) || argv[i+1] != "install" {
		return nil, nil
	}
	if len(argv) < 2 || (argv[0] != "python" && argv[0] != "python3") || argv[1] != "-m" {
		return nil, &errors.CommandPipNotRunAsModuleError{Cmd: argv}
	}
	return &PipInstallCommand{ConsoleCommand: NewConsoleCommand(spec)}, nil
}

// Close is a no-op: package installs acquire nothing that outlives them.
func (c *PipInstallCommand) Close() error { return nil }

// DockerRunCommand starts a container. When the container carries a logical
// name, scope teardown stops it and, unless it was started with --rm,
// removes it. Cleanup runs exactly once no matter how many times it is
// triggered.
type DockerRunCommand struct {
	*ConsoleCommand

	Name         string
	NeedsRemoval bool

	cli     string
	stopped bool
}

func buildDockerRunCommand(spec *CommandSpec) (Command, error) {
	if len(spec.Argv) >= 2 && spec.Argv[0] == "docker" && spec.Argv[1] == "run" {
		name, needsRemoval := findContainerName(spec.Argv)
		return &DockerRunCommand{
			ConsoleCommand: NewConsoleCommand(spec),
			Name:           name,
			NeedsRemoval:   needsRemoval,
		}, nil
	}
	return nil, nil
}

// findContainerName scans the argument vector for the container's logical
// name and whether the container must be removed after stopping.
func findContainerName(argv []string) (name string, needsRemoval bool) {
	needsRemoval = !slices.Contains(argv, "--rm")
	for i, arg := range argv {
		if strings.HasPrefix(arg, "--name=") {
			name = strings.TrimPrefix(arg, "--name=")
		} else if arg == "--name" && i+1 < len(argv) {
			name = argv[i+1]
		}
	}
	return name, needsRemoval
}

func (c *DockerRunCommand) Run(ctx context.Context, e *Executor, rctx *RunContext) error {
	c.cli = e.DockerCLI
	return c.ConsoleCommand.Run(ctx, e, rctx)
}

// Cleanup stops the named container and removes it if needed. Idempotent:
// repeated calls are safe no-ops, even when the first attempt failed.
func (c *DockerRunCommand) Cleanup() error {
	if c.Name == "" || c.stopped {
		return nil
	}
	c.stopped = true
	if c.cli == "" {
		c.cli = "docker"
	}
	if out, err := exec.Command(c.cli, "stop", c.Name).CombinedOutput(); err != nil {
		return fmt.Errorf("consoletest: failed to stop container %q: %w: %s", c.Name, err, out)
	}
	if c.NeedsRemoval {
		if out, err := exec.Command(c.cli, "rm", c.Name).CombinedOutput(); err != nil {
			return fmt.Errorf("consoletest: failed to remove container %q: %w: %s", c.Name, err, out)
		}
	}
	return nil
}

func (c *DockerRunCommand) Close() error {
	err := c.Cleanup()
	c.ConsoleCommand.Close()
	return err
}

// HTTPServerCommand replaces a documented "-m http.server" invocation with an
// in-process file server bound to an ephemeral port. The documented port is
// mapped to the bound one in the run context so later commands and rewrite
// functions can find it.
type HTTPServerCommand struct {
	spec *CommandSpec

	srv *http.Server
}

func buildHTTPServerCommand(spec *CommandSpec) (Command, error) {
	if len(spec.Argv) >= 3 && spec.Argv[1] == "-m" && spec.Argv[2] == "http.server" {
		return &HTTPServerCommand{spec: spec}, nil
	}
	return nil, nil
}

func (c *HTTPServerCommand) Run(ctx context.Context, e *Executor, rctx *RunContext) error {
	argv := c.spec.Argv

	// The documented port defaults to 8000, the module's own default.
	givenPort := "8000"
	if last := argv[len(argv)-1]; isAllDigits(last) {
		givenPort = last
	}
	dir := rctx.Cwd
	if i := slices.Index(argv, "--directory"); i >= 0 && i+1 < len(argv) {
		dir = fsext.SmartJoin(rctx.Cwd, argv[i+1])
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	c.srv = &http.Server{Handler: http.FileServer(http.Dir(dir))}
	go c.srv.Serve(ln)

	port := ln.Addr().(*net.TCPAddr).Port
	rctx.HTTPServers[givenPort] = port
	e.Logger.VerboseOutf(logger.Magenta, "consoletest: serving %s on 127.0.0.1:%d (documented as %s)", dir, port, givenPort)
	return nil
}

func (c *HTTPServerCommand) Close() error {
	if c.srv == nil {
		return nil
	}
	err := c.srv.Close()
	c.srv = nil
	return err
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
