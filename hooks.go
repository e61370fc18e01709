package consoletest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/consoletest/consoletest/internal/env"
)

// ModuleLauncherHook returns a post-activate hook that prepends a launcher
// script for the given Python module to PATH. The script execs the activated
// environment's interpreter with "-m module", so the pinned module always
// wins over whatever entry point a package install may have dropped on PATH.
func ModuleLauncherHook(module string) PostActivateHook {
	return func(ctx context.Context, e *Executor, cmd *ActivateVirtualEnvCommand, rctx *RunContext) error {
		var root string
		for _, name := range []string{env.VirtualEnv, env.CondaPrefix} {
			if value, ok := os.LookupEnv(name); ok {
				root = value
			}
		}
		if root == "" {
			return fmt.Errorf("consoletest: no environment root found for %q launcher", module)
		}
		interpreter := filepath.Join(root, "bin", "python")

		dir := filepath.Join(rctx.TempDir, "launcher-"+uuid.New().String())
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
		script := strings.Join([]string{
			"#!" + interpreter,
			"import os",
			"import sys",
			"",
			fmt.Sprintf("os.execv(%q, [%q, \"-m\", %q, *sys.argv[1:]])", interpreter, interpreter, module),
			"",
		}, "\n")
		path := filepath.Join(dir, module)
		if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
			return err
		}
		os.Setenv(env.Path, dir+":"+os.Getenv(env.Path))
		return nil
	}
}
