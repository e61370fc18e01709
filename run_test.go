package consoletest

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consoletest/consoletest/errors"
)

func skipWithoutPython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not installed")
	}
}

func TestRunFileWrite(t *testing.T) {
	e := newTestExecutor(t)

	err := e.Run(context.Background(),
		&FileWriteNode{Path: []string{"app", "config.ini"}, Content: []string{"[server]", "port = 8080"}},
		&FileWriteNode{Path: []string{"app", "config.ini"}, Content: []string{"debug = true"}},
	)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(e.Dir, "app", "config.ini"))
	require.NoError(t, err)
	assert.Equal(t, "[server]\nport = 8080\ndebug = true\n", string(got))
}

func TestRunFileWriteOverwrite(t *testing.T) {
	e := newTestExecutor(t)

	err := e.Run(context.Background(),
		&FileWriteNode{Path: []string{"config.ini"}, Content: []string{"old"}},
		&FileWriteNode{Path: []string{"config.ini"}, Content: []string{"new"}, Overwrite: true},
	)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(e.Dir, "config.ini"))
	require.NoError(t, err)
	assert.Equal(t, "new\n", string(got))
}

func TestRunLiteralInclude(t *testing.T) {
	e := newTestExecutor(t)
	require.NoError(t, os.WriteFile(filepath.Join(e.Dir, "source.py"), []byte("a\nb\nc\n"), 0o644))

	err := e.Run(context.Background(),
		&LiteralIncludeNode{Source: "source.py", Dest: "dest.py", Lines: []int{2, 3}},
	)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(e.Dir, "dest.py"))
	require.NoError(t, err)
	assert.Equal(t, "b\nc\n", string(got))
}

func TestRunCommandTest(t *testing.T) {
	skipIfWindows(t)
	e := newTestExecutor(t)

	err := e.Run(context.Background(), &CommandTestNode{Specs: []*CommandSpec{
		{Argv: []string{"sh", "-c", "echo made-it > witness.txt"}},
	}})
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(e.Dir, "witness.txt"))
	require.NoError(t, err)
	assert.Equal(t, "made-it\n", string(got))
}

func TestRunCommandTestFailure(t *testing.T) {
	skipIfWindows(t)
	e := newTestExecutor(t)

	err := e.Run(context.Background(), &CommandTestNode{Specs: []*CommandSpec{
		{Argv: []string{"false"}},
	}})
	var runErr *errors.CommandRunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, errors.CodeCommandRunError, runErr.Code())
}

func TestRunComparisonError(t *testing.T) {
	skipIfWindows(t)
	skipWithoutPython(t)
	e := newTestExecutor(t)

	err := e.Run(context.Background(), &CommandTestNode{Specs: []*CommandSpec{
		{Argv: []string{"echo", "hello"}, CompareOutput: `b"absent" in stdout`},
	}})
	var cmpErr *errors.CommandComparisonError
	require.ErrorAs(t, err, &cmpErr)

	// The failure names the command, the predicate and the captured output.
	assert.Contains(t, err.Error(), "echo")
	assert.Contains(t, err.Error(), `b"absent" in stdout`)
	assert.Contains(t, err.Error(), "hello")
}

func TestRunComparisonSuccess(t *testing.T) {
	skipIfWindows(t)
	skipWithoutPython(t)
	e := newTestExecutor(t)

	err := e.Run(context.Background(), &CommandTestNode{Specs: []*CommandSpec{
		{Argv: []string{"echo", "hello"}, CompareOutput: `b"hello" in stdout`},
	}})
	require.NoError(t, err)
}

func TestRunPollUntilCancelled(t *testing.T) {
	skipIfWindows(t)
	skipWithoutPython(t)
	e := newTestExecutor(t, WithPollInterval(10*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := e.Run(ctx, &CommandTestNode{Specs: []*CommandSpec{
		{Argv: []string{"echo", "hello"}, CompareOutput: `b"never" in stdout`, PollUntil: true},
	}})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunPollUntilSatisfied(t *testing.T) {
	skipIfWindows(t)
	skipWithoutPython(t)
	e := newTestExecutor(t, WithPollInterval(10*time.Millisecond))

	// The polled command converges: each run appends a line and the
	// predicate waits for the third one.
	err := e.Run(context.Background(), &CommandTestNode{Specs: []*CommandSpec{
		{Argv: []string{"sh", "-c", "echo x >> state; cat state"}, CompareOutput: `stdout.count(b"x") >= 3`, PollUntil: true},
	}})
	require.NoError(t, err)
}

func TestRunReplace(t *testing.T) {
	skipIfWindows(t)
	skipWithoutPython(t)
	e := newTestExecutor(t)

	err := e.Run(context.Background(), &CommandTestNode{
		Replace: "cmds[0] = [\"sh\", \"-c\", \"echo replaced > replaced.txt\"]",
		Specs: []*CommandSpec{
			{Argv: []string{"echo", "original"}},
		},
	})
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(e.Dir, "replaced.txt"))
	require.NoError(t, err)
	assert.Equal(t, "replaced\n", string(got))
}

func TestRunReplaceSeesHTTPServerMap(t *testing.T) {
	skipIfWindows(t)
	skipWithoutPython(t)
	e := newTestExecutor(t)

	// Rewrite functions address test HTTP servers through ctx["HTTP_SERVER"],
	// keyed by the documented port.
	err := e.Run(context.Background(),
		&CommandTestNode{Specs: []*CommandSpec{
			{Argv: []string{"python3", "-m", "http.server", "8000"}},
		}},
		&CommandTestNode{
			Replace: "cmds[0] = [\"sh\", \"-c\", \"echo %d > port.txt\" % ctx[\"HTTP_SERVER\"][\"8000\"]]",
			Specs: []*CommandSpec{
				{Argv: []string{"curl", "http://localhost:8000"}},
			},
		},
	)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(e.Dir, "port.txt"))
	require.NoError(t, err)
	port, err := strconv.Atoi(strings.TrimSpace(string(got)))
	require.NoError(t, err)
	assert.Greater(t, port, 0)
}

func TestRunEnvFile(t *testing.T) {
	skipIfWindows(t)
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("CONSOLETEST_FROM_ENVFILE=loaded\n"), 0o644))
	e := newTestExecutor(t, WithEnvFile(envFile))

	err := e.Run(context.Background(), &CommandTestNode{Specs: []*CommandSpec{
		{Argv: []string{"sh", "-c", "printenv CONSOLETEST_FROM_ENVFILE > env.txt"}},
	}})
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(e.Dir, "env.txt"))
	require.NoError(t, err)
	assert.Equal(t, "loaded\n", string(got))

	// The variable does not outlive the run.
	_, ok := os.LookupEnv("CONSOLETEST_FROM_ENVFILE")
	assert.False(t, ok)
}

func TestRunCDScopedToRun(t *testing.T) {
	skipIfWindows(t)
	e := newTestExecutor(t)
	require.NoError(t, os.MkdirAll(filepath.Join(e.Dir, "subdir"), 0o755))

	err := e.Run(context.Background(), &CommandTestNode{Specs: []*CommandSpec{
		{Argv: []string{"cd", "subdir"}},
		{Argv: []string{"sh", "-c", "pwd > where.txt"}},
	}})
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(e.Dir, "subdir", "where.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(got), "subdir")
}

func TestRunContextCleanupOrder(t *testing.T) {
	rctx := &RunContext{}
	var order []string
	rctx.Defer(func() error { order = append(order, "first"); return nil })
	rctx.Defer(func() error { order = append(order, "second"); return nil })
	rctx.Defer(func() error { order = append(order, "third"); return nil })
	require.NoError(t, rctx.Close())
	assert.Equal(t, []string{"third", "second", "first"}, order)

	// A second close is a no-op.
	require.NoError(t, rctx.Close())
	assert.Len(t, order, 3)
}

func TestRunContextCleanupErrors(t *testing.T) {
	rctx := &RunContext{}
	boom := errors.New("boom")
	var order []string
	rctx.Defer(func() error { order = append(order, "first"); return nil })
	rctx.Defer(func() error { return boom })
	rctx.Defer(func() error { order = append(order, "third"); return nil })
	err := rctx.Close()
	require.ErrorIs(t, err, boom)

	// A failing release does not stop the ones below it.
	assert.Equal(t, []string{"third", "first"}, order)
}

func TestRunFixup(t *testing.T) {
	skipIfWindows(t)
	e := newTestExecutor(t, WithFixup(func(rctx *RunContext, argv []string) ([]string, error) {
		if argv[0] == "original-tool" {
			return append([]string{"sh", "-c", "echo fixed > fixed.txt"}, argv[1:]...), nil
		}
		return argv, nil
	}))

	err := e.Run(context.Background(), &CommandTestNode{Specs: []*CommandSpec{
		{Argv: []string{"original-tool"}},
	}})
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(e.Dir, "fixed.txt"))
	require.NoError(t, err)
	assert.Equal(t, "fixed\n", string(got))
}
