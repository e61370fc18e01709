package consoletest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/elliotchance/orderedmap/v3"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/consoletest/consoletest/internal/env"
	"github.com/consoletest/consoletest/internal/fsext"
	"github.com/consoletest/consoletest/internal/logger"
	"github.com/consoletest/consoletest/internal/sandbox"
)

// Run executes one document's nodes against a fresh RunContext. Everything
// acquired during the run (daemons, containers, activations, the scratch
// directory) is released when the run finishes, in reverse acquisition
// order, whether or not it succeeded. A cleanup failure is reported but
// never masks the run's own error.
func (e *Executor) Run(ctx context.Context, nodes ...Node) (err error) {
	rctx, err := e.newRunContext()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rctx.Close(); cerr != nil {
			if err == nil {
				err = cerr
			} else {
				e.Logger.Errf(logger.Red, "consoletest: cleanup: %v", cerr)
			}
		}
	}()

	if e.EnvFile != "" {
		if err := e.loadEnvFile(rctx); err != nil {
			return err
		}
	}

	for _, node := range nodes {
		if err := e.runNode(ctx, rctx, node); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) newRunContext() (*RunContext, error) {
	tempDir := filepath.Join(os.TempDir(), "consoletest-"+uuid.New().String())
	if err := os.MkdirAll(tempDir, 0o700); err != nil {
		return nil, err
	}
	rctx := &RunContext{
		Cwd:         e.Dir,
		TempDir:     tempDir,
		Daemons:     orderedmap.NewOrderedMap[string, *ConsoleCommand](),
		HTTPServers: map[string]int{},
	}
	rctx.Defer(func() error {
		return os.RemoveAll(tempDir)
	})
	return rctx, nil
}

// loadEnvFile applies a dotenv file on top of the process environment for
// the duration of the run.
func (e *Executor) loadEnvFile(rctx *RunContext) error {
	vars, err := godotenv.Read(e.EnvFile)
	if err != nil {
		return err
	}
	ov := env.NewOverride()
	for key, value := range vars {
		ov.Set(key, value)
	}
	rctx.Defer(func() error {
		ov.Restore()
		return nil
	})
	return nil
}

func (e *Executor) runNode(ctx context.Context, rctx *RunContext, node Node) error {
	switch n := node.(type) {
	case *FileWriteNode:
		return e.runFileWrite(rctx, n)
	case *LiteralIncludeNode:
		return e.runLiteralInclude(rctx, n)
	case *CommandTestNode:
		return e.runCommandTest(ctx, rctx, n)
	default:
		return fmt.Errorf("consoletest: unknown node type %T", node)
	}
}

func (e *Executor) runFileWrite(rctx *RunContext, n *FileWriteNode) error {
	dst := fsext.SmartJoin(rctx.Cwd, filepath.Join(n.Path...))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	content := strings.Join(n.Content, "\n") + "\n"

	e.Logger.Outf(logger.Cyan, "consoletest: writing %s", dst)
	e.Logger.Outf(logger.Default, content)

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if n.Overwrite {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	f, err := os.OpenFile(dst, flags, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (e *Executor) runLiteralInclude(rctx *RunContext, n *LiteralIncludeNode) error {
	src := fsext.SmartJoin(rctx.Cwd, n.Source)
	dst := fsext.SmartJoin(rctx.Cwd, n.Dest)
	e.Logger.Outf(logger.Cyan, "consoletest: including %s -> %s", src, dst)
	return fsext.CopyFile(src, dst, n.Lines)
}

func (e *Executor) runCommandTest(ctx context.Context, rctx *RunContext, n *CommandTestNode) error {
	specs := n.Specs
	if n.Replace != "" {
		var err error
		specs, err = e.replaceSpecs(ctx, rctx, n)
		if err != nil {
			return err
		}
	}
	for _, spec := range specs {
		cmd, err := e.Registry.Build(spec)
		if err != nil {
			return err
		}
		// Release at document scope close, not after the command: daemons,
		// containers and activations outlive the command that started them.
		rctx.Defer(cmd.Close)
		if err := cmd.Run(ctx, e, rctx); err != nil {
			return err
		}
	}
	return nil
}

// replaceSpecs runs the node's rewrite function over the argument vectors
// and rebuilds the spec list from the result. When the rewrite keeps the
// command count, each spec keeps its options; otherwise the final original
// spec's options are carried onto the final rewritten command and the rest
// run bare.
func (e *Executor) replaceSpecs(ctx context.Context, rctx *RunContext, n *CommandTestNode) ([]*CommandSpec, error) {
	cmds := make([][]string, 0, len(n.Specs))
	for _, spec := range n.Specs {
		cmds = append(cmds, spec.Argv)
	}
	updated, err := sandbox.Replace(ctx, e.Interpreter, n.Replace, cmds, rctx.JSONSafe())
	if err != nil {
		return nil, err
	}
	specs := make([]*CommandSpec, 0, len(updated))
	if len(updated) == len(n.Specs) {
		for i, argv := range updated {
			specs = append(specs, n.Specs[i].withArgv(argv))
		}
		return specs, nil
	}
	for i, argv := range updated {
		if i == len(updated)-1 {
			specs = append(specs, n.Specs[len(n.Specs)-1].withArgv(argv))
		} else {
			specs = append(specs, &CommandSpec{Argv: argv})
		}
	}
	return specs, nil
}
