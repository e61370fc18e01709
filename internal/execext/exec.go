package execext

import (
	"fmt"
	"os"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"

	"github.com/consoletest/consoletest/errors"
)

// ErrShellFeatureNotSupported is returned when a command line uses shell
// syntax outside the supported subset, e.g. command substitution or
// conditional chaining.
var ErrShellFeatureNotSupported = errors.New("execext: shell feature not supported")

// Fields splits a single command line into an argument vector. Only a
// constrained subset of shell syntax is supported: plain words, quoting,
// parameter expansion, pipes, leading KEY=VALUE assignments and the stderr
// merge redirect. Pipes, assignments and 2>&1 survive as literal tokens for
// the pipeline executor to interpret. Anything else reports
// ErrShellFeatureNotSupported.
//
// Parameter expansion resolves from the live process environment, the same
// environment the pipeline executor substitutes from.
func Fields(cmd string) ([]string, error) {
	file, err := syntax.NewParser().Parse(strings.NewReader(cmd), "")
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrShellFeatureNotSupported, err)
	}
	if len(file.Stmts) != 1 {
		return nil, fmt.Errorf("%w: expected a single command, got %d", ErrShellFeatureNotSupported, len(file.Stmts))
	}
	cfg := &expand.Config{Env: expand.FuncEnviron(os.Getenv)}
	return flatten(cfg, file.Stmts[0])
}

func flatten(cfg *expand.Config, stmt *syntax.Stmt) ([]string, error) {
	switch c := stmt.Cmd.(type) {
	case *syntax.CallExpr:
		argv := make([]string, 0, len(c.Assigns)+len(c.Args))
		for _, a := range c.Assigns {
			value := ""
			if a.Value != nil {
				var err error
				if value, err = expand.Document(cfg, a.Value); err != nil {
					return nil, fmt.Errorf("%w: %s", ErrShellFeatureNotSupported, err)
				}
			}
			argv = append(argv, a.Name.Value+"="+value)
		}
		args, err := expand.Fields(cfg, c.Args...)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrShellFeatureNotSupported, err)
		}
		argv = append(argv, args...)
		for _, r := range stmt.Redirs {
			tok, err := redirectToken(cfg, r)
			if err != nil {
				return nil, err
			}
			argv = append(argv, tok)
		}
		return argv, nil
	case *syntax.BinaryCmd:
		if c.Op != syntax.Pipe || len(stmt.Redirs) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrShellFeatureNotSupported, c.Op)
		}
		left, err := flatten(cfg, c.X)
		if err != nil {
			return nil, err
		}
		right, err := flatten(cfg, c.Y)
		if err != nil {
			return nil, err
		}
		return append(append(left, "|"), right...), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrShellFeatureNotSupported, c)
	}
}

// redirectToken renders a redirect back into a literal token. Only the stderr
// merge form is supported; the executor implements it itself when spawning.
func redirectToken(cfg *expand.Config, r *syntax.Redirect) (string, error) {
	if r.Op == syntax.DplOut && r.N != nil && r.N.Value == "2" {
		target, err := expand.Document(cfg, r.Word)
		if err == nil && target == "1" {
			return "2>&1", nil
		}
	}
	return "", fmt.Errorf("%w: redirect %s", ErrShellFeatureNotSupported, r.Op)
}

// Print renders an argument vector as a copy-pasteable shell line, quoting
// each argument as needed.
func Print(args []string) string {
	quoted := make([]string, 0, len(args))
	for _, arg := range args {
		q, err := syntax.Quote(arg, syntax.LangBash)
		if err != nil {
			q = fmt.Sprintf("%q", arg)
		}
		quoted = append(quoted, q)
	}
	return strings.Join(quoted, " ")
}
