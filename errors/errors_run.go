package errors

import (
	"fmt"
	"strings"
)

// CommandRunError is returned when one or more stages of a pipeline exited
// with a nonzero status. Failures holds one message per failing stage, each
// naming the stage's argument vector.
type CommandRunError struct {
	Failures []string
}

func (err *CommandRunError) Error() string {
	return strings.Join(err.Failures, "\n")
}

func (err *CommandRunError) Code() int {
	return CodeCommandRunError
}

// CommandComparisonError is returned when the output of a non-pollable
// command did not satisfy its compare-output predicate. It carries the
// literal command and the captured output so a failing run is diagnosable
// from the error message alone.
type CommandComparisonError struct {
	Cmd     []string
	Compare string
	Stdout  []byte
}

func (err *CommandComparisonError) Error() string {
	return fmt.Sprintf("consoletest: %v: %s: %s", err.Cmd, err.Compare, string(err.Stdout))
}

func (err *CommandComparisonError) Code() int {
	return CodeCommandComparisonError
}
