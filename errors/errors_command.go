package errors

import (
	"fmt"
	"strings"
)

// CommandEmptyError is returned when a command is built from an empty
// argument vector.
type CommandEmptyError struct{}

func (err *CommandEmptyError) Error() string {
	return "consoletest: Empty command"
}

func (err *CommandEmptyError) Code() int {
	return CodeCommandEmpty
}

// CommandPollWithoutCompareError is returned when a command declares
// poll-until but carries no compare-output predicate. Polling without a
// predicate would loop forever with nothing to check.
type CommandPollWithoutCompareError struct {
	Cmd []string
}

func (err *CommandPollWithoutCompareError) Error() string {
	return fmt.Sprintf(`consoletest: Command %q has "poll-until" but no "compare-output"`, strings.Join(err.Cmd, " "))
}

func (err *CommandPollWithoutCompareError) Code() int {
	return CodeCommandPollWithoutCompare
}

// CommandPipNotRunAsModuleError is returned when a pip install command was
// not prefixed with "python -m" to run pip as a module. Package installers
// must not be invoked as bare executables in this environment.
type CommandPipNotRunAsModuleError struct {
	Cmd []string
}

func (err *CommandPipNotRunAsModuleError) Error() string {
	return fmt.Sprintf(`consoletest: Command %q must run pip as a module: prefix it with "python -m"`, strings.Join(err.Cmd, " "))
}

func (err *CommandPipNotRunAsModuleError) Code() int {
	return CodeCommandPipNotRunAsModule
}
