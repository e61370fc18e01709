package consoletest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"

	"github.com/consoletest/consoletest/errors"
	"github.com/consoletest/consoletest/internal/env"
	"github.com/consoletest/consoletest/internal/execext"
	"github.com/consoletest/consoletest/internal/logger"
)

// Pipes splits an argument vector on the pipe marker into the argument
// vectors of the pipeline's stages.
func Pipes(argv []string) [][]string {
	if !slices.Contains(argv, "|") {
		return [][]string{argv}
	}
	var stages [][]string
	j := 0
	for i, arg := range argv {
		if arg == "|" {
			stages = append(stages, argv[j:i])
			j = i + 1
		}
	}
	return append(stages, argv[j:])
}

// subEnvVars replaces $NAME and ${NAME} occurrences in every token with the
// current process-wide value of NAME. Unset variables are left alone so the
// literal token reaches the command unchanged. A bare $NAME only matches up
// to the next non-identifier character, so $FOO never substitutes inside a
// $FOOBAR reference regardless of environ order.
func subEnvVars(argv []string) []string {
	out := slices.Clone(argv)
	for _, kv := range os.Environ() {
		name, value, _ := strings.Cut(kv, "=")
		for i, arg := range out {
			arg = strings.ReplaceAll(arg, "${"+name+"}", value)
			out[i] = subVarToken(arg, name, value)
		}
	}
	return out
}

// subVarToken replaces $name occurrences in arg that are not immediately
// followed by another identifier character.
func subVarToken(arg, name, value string) string {
	token := "$" + name
	var b strings.Builder
	for {
		i := strings.Index(arg, token)
		if i < 0 {
			b.WriteString(arg)
			return b.String()
		}
		rest := arg[i+len(token):]
		if rest != "" && isIdentChar(rest[0]) {
			// Part of a longer variable reference.
			b.WriteString(arg[:i+len(token)])
		} else {
			b.WriteString(arg[:i])
			b.WriteString(value)
		}
		arg = rest
	}
}

func isIdentChar(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

// stripTmpVars removes the leading KEY=VALUE tokens from a stage's argument
// vector and applies them to the override.
func stripTmpVars(argv []string, ov *env.Override) []string {
	for len(argv) > 0 {
		key, value, found := strings.Cut(argv[0], "=")
		if !found || key == "" {
			break
		}
		ov.Set(key, value)
		argv = argv[1:]
	}
	return argv
}

type pipelineOptions struct {
	// stdin is fed to the first stage. Nil reads from the null device.
	stdin []byte
	// stdout receives the final stage's output. Nil falls back to the
	// executor's stdout.
	stdout io.Writer
	// ignoreErrors swallows nonzero exit codes.
	ignoreErrors bool
	// daemon leaves the final stage running and returns its handle.
	daemon bool
}

// runPipeline spawns the chain of OS processes for the given stages with
// correctly connected streams. Stages are spawned strictly in order so that
// stage i's output pipe exists before stage i+1 starts; once a stage has
// been spawned the parent closes its own references to the pipe ends handed
// to it, so each stage observes EOF when its upstream writer exits.
//
// Temporary KEY=VALUE prefixes apply for the duration of the whole pipeline
// and are restored, or unset, once it completes, including on failure.
//
// Unless opts.daemon is set every stage is waited on and nonzero exits are
// aggregated into a single error naming each failing stage. With
// opts.daemon the final stage is left running and its handle returned.
func (e *Executor) runPipeline(ctx context.Context, stages [][]string, rctx *RunContext, opts pipelineOptions) (*exec.Cmd, error) {
	tmpVars := env.NewOverride()
	defer tmpVars.Restore()

	var (
		procs []*exec.Cmd
		argvs [][]string
		// Parent's read end of the previous stage's stdout pipe, handed to
		// the next stage as stdin.
		prevOut *os.File
	)
	for i, argv := range stages {
		argv = subEnvVars(argv)
		argv = stripTmpVars(argv, tmpVars)

		mergeStderr := slices.Contains(argv, "2>&1")
		if mergeStderr {
			argv = slices.DeleteFunc(slices.Clone(argv), func(s string) bool { return s == "2>&1" })
		}
		if len(argv) == 0 {
			closeFiles(prevOut)
			reap(procs)
			return nil, &errors.CommandEmptyError{}
		}

		// Outside any virtual or conda environment a bare "python" would
		// resolve to whatever the system carries. Pin it to the interpreter
		// this engine was configured with.
		if !env.CondaActive() && !env.VirtualEnvActive() && strings.HasPrefix(argv[0], "python") {
			argv[0] = e.Interpreter
		}

		// Daemon stages deliberately escape context cancellation: they are
		// stopped only by a replacement carrying the same name or by scope
		// teardown.
		var cmd *exec.Cmd
		if opts.daemon && i+1 == len(stages) {
			cmd = exec.Command(argv[0], argv[1:]...)
		} else {
			cmd = exec.CommandContext(ctx, argv[0], argv[1:]...)
		}
		cmd.Dir = rctx.Cwd
		cmd.SysProcAttr = execext.ProcAttributes()

		if i == 0 {
			// No payload leaves Stdin nil, so the stage reads from the null
			// device. Documented commands must never consume the engine's
			// own stdin.
			if opts.stdin != nil {
				cmd.Stdin = bytes.NewReader(opts.stdin)
			}
		} else {
			cmd.Stdin = prevOut
		}

		// Parent-held pipe ends for this stage's stdout, when a next stage
		// will consume it.
		var pipeRead, pipeWrite *os.File
		if i+1 < len(stages) {
			var err error
			pipeRead, pipeWrite, err = os.Pipe()
			if err != nil {
				closeFiles(prevOut)
				reap(procs)
				return nil, err
			}
			cmd.Stdout = pipeWrite
		} else if opts.stdout != nil {
			cmd.Stdout = opts.stdout
		} else {
			cmd.Stdout = e.Stdout
		}
		if mergeStderr {
			cmd.Stderr = cmd.Stdout
		} else {
			cmd.Stderr = e.Stderr
		}

		e.Logger.Outf(logger.Green, "consoletest: running %s", execext.Print(argv))

		if err := cmd.Start(); err != nil {
			closeFiles(prevOut, pipeRead, pipeWrite)
			reap(procs)
			return nil, fmt.Errorf("consoletest: failed to start %v: %w", argv, err)
		}
		procs = append(procs, cmd)
		argvs = append(argvs, argv)

		// The child holds its own descriptors now. Close the parent's
		// references so EOF propagates through the chain.
		closeFiles(prevOut, pipeWrite)
		prevOut = pipeRead
	}

	var failures []string
	for i, proc := range procs {
		if opts.daemon && i+1 == len(procs) {
			break
		}
		if err := proc.Wait(); err != nil {
			failures = append(failures, fmt.Sprintf("failed to run: %v", argvs[i]))
		}
	}
	if len(failures) > 0 && !opts.ignoreErrors {
		return nil, &errors.CommandRunError{Failures: failures}
	}
	if opts.daemon {
		return procs[len(procs)-1], nil
	}
	return nil, nil
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			f.Close()
		}
	}
}

// reap kills and waits on already started stages after a later stage failed
// to spawn.
func reap(procs []*exec.Cmd) {
	for _, proc := range procs {
		proc.Process.Kill()
		proc.Wait()
	}
}
