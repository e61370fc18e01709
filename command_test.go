package consoletest

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consoletest/consoletest/errors"
)

func TestRegistryBuild(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	tests := []struct {
		name string
		argv []string
		want any
	}{
		{"cd", []string{"cd", "subdir"}, &CDCommand{}},
		{"source activate", []string{"source", ".venv/bin/activate"}, &ActivateVirtualEnvCommand{}},
		{"dot activate", []string{".", ".venv/bin/activate"}, &ActivateVirtualEnvCommand{}},
		{"windows activate", []string{`.\.venv\Scripts\activate`}, &ActivateVirtualEnvCommand{}},
		{"venv create", []string{"python3", "-m", "venv", ".venv"}, &CreateVirtualEnvCommand{}},
		{"conda create", []string{"conda", "create", "-y", "-p", ".venv"}, &CreateVirtualEnvCommand{}},
		{"pip install", []string{"python", "-m", "pip", "install", "aiohttp"}, &PipInstallCommand{}},
		{"docker run", []string{"docker", "run", "--rm", "alpine"}, &DockerRunCommand{}},
		{"http server", []string{"python3", "-m", "http.server"}, &HTTPServerCommand{}},
		{"fallback", []string{"echo", "hello"}, &ConsoleCommand{}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cmd, err := r.Build(&CommandSpec{Argv: test.argv})
			require.NoError(t, err)
			assert.IsType(t, test.want, cmd)
		})
	}
}

func TestRegistryBuildDirectories(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	cmd, err := r.Build(&CommandSpec{Argv: []string{".", ".venv/bin/activate"}})
	require.NoError(t, err)
	assert.Equal(t, ".venv", cmd.(*ActivateVirtualEnvCommand).Directory)

	cmd, err = r.Build(&CommandSpec{Argv: []string{"python3", "-m", "venv", ".other"}})
	require.NoError(t, err)
	assert.Equal(t, ".other", cmd.(*CreateVirtualEnvCommand).Directory)
}

func TestRegistryBuildPipNotRunAsModule(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	_, err := r.Build(&CommandSpec{Argv: []string{"pip", "install", "aiohttp"}})
	require.Error(t, err)

	var pipErr *errors.CommandPipNotRunAsModuleError
	assert.ErrorAs(t, err, &pipErr)
}

func TestCommandSpecValidate(t *testing.T) {
	t.Parallel()

	assert.Error(t, (&CommandSpec{}).Validate())

	err := (&CommandSpec{Argv: []string{"echo", "hi"}, PollUntil: true}).Validate()
	var pollErr *errors.CommandPollWithoutCompareError
	require.ErrorAs(t, err, &pollErr)

	assert.NoError(t, (&CommandSpec{
		Argv:          []string{"echo", "hi"},
		PollUntil:     true,
		CompareOutput: `b"hi" in stdout`,
	}).Validate())
}

func TestFindContainerName(t *testing.T) {
	t.Parallel()

	name, needsRemoval := findContainerName([]string{"docker", "run", "--rm", "-d", "--name", "maintained_db"})
	assert.Equal(t, "maintained_db", name)
	assert.False(t, needsRemoval)

	name, needsRemoval = findContainerName([]string{"docker", "run", "--name=db", "mariadb"})
	assert.Equal(t, "db", name)
	assert.True(t, needsRemoval)

	name, _ = findContainerName([]string{"docker", "run", "alpine"})
	assert.Equal(t, "", name)
}

func TestDaemonReplacement(t *testing.T) {
	skipIfWindows(t)
	e := newTestExecutor(t)
	rctx := newTestRunContext(t, e)
	ctx := context.Background()

	first, err := e.Registry.Build(&CommandSpec{Argv: []string{"sleep", "30"}, Daemon: "svc"})
	require.NoError(t, err)
	require.NoError(t, first.Run(ctx, e, rctx))

	registered, ok := rctx.Daemons.Get("svc")
	require.True(t, ok)
	proc := registered.daemonProc
	require.NotNil(t, proc)

	second, err := e.Registry.Build(&CommandSpec{Argv: []string{"sleep", "30"}, Daemon: "svc"})
	require.NoError(t, err)
	require.NoError(t, second.Run(ctx, e, rctx))

	// The replacement interrupted and reaped the previous daemon before
	// registering itself under the name.
	require.NotNil(t, proc.ProcessState)
	assert.True(t, registered.daemonStopped)

	current, ok := rctx.Daemons.Get("svc")
	require.True(t, ok)
	assert.NotSame(t, registered, current)

	require.NoError(t, current.Close())
	require.NotNil(t, current.daemonProc.ProcessState)
}

func TestDockerCleanup(t *testing.T) {
	skipIfWindows(t)

	dir := t.TempDir()
	callLog := filepath.Join(dir, "calls")
	stub := filepath.Join(dir, "docker")
	script := fmt.Sprintf("#!/bin/sh\necho \"$@\" >> %q\n", callLog)
	require.NoError(t, os.WriteFile(stub, []byte(script), 0o755))

	cmd, err := NewRegistry().Build(&CommandSpec{Argv: []string{"docker", "run", "--name", "foo", "myimage"}})
	require.NoError(t, err)
	docker := cmd.(*DockerRunCommand)
	docker.cli = stub

	require.NoError(t, docker.Close())
	require.NoError(t, docker.Close())

	calls, err := os.ReadFile(callLog)
	require.NoError(t, err)
	assert.Equal(t, "stop foo\nrm foo\n", string(calls))
}

func TestDockerCleanupWithRm(t *testing.T) {
	skipIfWindows(t)

	dir := t.TempDir()
	callLog := filepath.Join(dir, "calls")
	stub := filepath.Join(dir, "docker")
	script := fmt.Sprintf("#!/bin/sh\necho \"$@\" >> %q\n", callLog)
	require.NoError(t, os.WriteFile(stub, []byte(script), 0o755))

	cmd, err := NewRegistry().Build(&CommandSpec{Argv: []string{"docker", "run", "--rm", "--name", "foo", "myimage"}})
	require.NoError(t, err)
	docker := cmd.(*DockerRunCommand)
	docker.cli = stub

	require.NoError(t, docker.Close())

	calls, err := os.ReadFile(callLog)
	require.NoError(t, err)
	assert.Equal(t, "stop foo\n", string(calls))
}

func TestCDCommand(t *testing.T) {
	e := newTestExecutor(t)
	rctx := newTestRunContext(t, e)
	require.NoError(t, os.MkdirAll(filepath.Join(rctx.Cwd, "subdir"), 0o755))

	cmd, err := e.Registry.Build(&CommandSpec{Argv: []string{"cd", "subdir"}})
	require.NoError(t, err)
	require.NoError(t, cmd.Run(context.Background(), e, rctx))
	assert.Equal(t, filepath.Join(e.Dir, "subdir"), rctx.Cwd)
}

func TestHTTPServerCommand(t *testing.T) {
	e := newTestExecutor(t)
	rctx := newTestRunContext(t, e)
	require.NoError(t, os.WriteFile(filepath.Join(rctx.Cwd, "index.html"), []byte("served"), 0o644))

	cmd, err := e.Registry.Build(&CommandSpec{Argv: []string{"python3", "-m", "http.server", "8000"}})
	require.NoError(t, err)
	require.NoError(t, cmd.Run(context.Background(), e, rctx))
	t.Cleanup(func() { cmd.Close() })

	port, ok := rctx.HTTPServers["8000"]
	require.True(t, ok)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/index.html", port))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
