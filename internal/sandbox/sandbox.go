// Package sandbox evaluates user-supplied expression and function text in an
// isolated interpreter subprocess. The subprocess is fed its input on stdin
// and answers on stdout; it shares no state with the orchestrator, so a
// predicate can neither observe nor mutate engine internals. The only
// capabilities an expression receives are the module names it explicitly
// declares.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// compareProgram evaluates a single expression against the byte buffer named
// stdout. The expression text and its allowed imports arrive as arguments,
// never interpolated into code. Prints "1" or "0".
const compareProgram = `import sys, importlib
scope = {"__builtins__": __builtins__}
for name in sys.argv[2:]:
    scope[name] = importlib.import_module(name)
scope["stdout"] = sys.stdin.buffer.read()
print("1" if eval(sys.argv[1], scope) else "0")
`

// replaceProgram runs a function body over the decoded JSON values "cmds"
// and "ctx" and prints the updated "cmds" as JSON.
const replaceProgram = `import sys, json, textwrap
payload = json.load(sys.stdin)
scope = {"cmds": payload["cmds"], "ctx": payload["ctx"]}
exec(textwrap.dedent(sys.argv[1]), scope)
print(json.dumps(scope["cmds"]))
`

// CompareOutput evaluates the expression expr against the captured stdout
// bytes. Imports is the list of module names the expression may use.
func CompareOutput(ctx context.Context, interpreter, expr string, imports []string, stdout []byte) (bool, error) {
	args := append([]string{"-c", compareProgram, expr}, imports...)
	cmd := exec.CommandContext(ctx, interpreter, args...)
	cmd.Stdin = bytes.NewReader(stdout)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return false, fmt.Errorf("sandbox: compare-output %q: %w: %s", expr, err, stderr.String())
	}
	return strings.TrimSpace(out.String()) == "1", nil
}

// Replace runs the rewrite function body source over the command list and
// the JSON-safe run context, returning the updated command list.
func Replace(ctx context.Context, interpreter, source string, cmds [][]string, runCtx map[string]any) ([][]string, error) {
	payload, err := json.Marshal(map[string]any{"cmds": cmds, "ctx": runCtx})
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, interpreter, "-c", replaceProgram, source)
	cmd.Stdin = bytes.NewReader(payload)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("sandbox: replace: %w: %s", err, stderr.String())
	}
	var updated [][]string
	if err := json.Unmarshal(out.Bytes(), &updated); err != nil {
		return nil, fmt.Errorf("sandbox: replace returned invalid cmds: %w", err)
	}
	return updated, nil
}
