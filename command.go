package consoletest

import (
	"context"
	"slices"

	"github.com/consoletest/consoletest/errors"
)

type (
	// A CommandSpec is one documented command line plus the per-test options
	// attached to it by the documentation parser.
	CommandSpec struct {
		// Argv is the raw argument vector, pipe markers included.
		Argv []string
		// CompareOutput is a predicate expression over the byte buffer named
		// "stdout", evaluated in the sandbox against the command's captured
		// output.
		CompareOutput string
		// CompareOutputImports lists the module names the predicate may use.
		CompareOutputImports []string
		// PollUntil re-runs the command until the predicate is satisfied.
		// Requires CompareOutput to be set.
		PollUntil bool
		// IgnoreErrors swallows nonzero exit codes from the pipeline.
		IgnoreErrors bool
		// Daemon leaves the pipeline's final stage running in the background,
		// registered under this name.
		Daemon string
		// Stdin is fed to the pipeline's first stage.
		Stdin []byte
	}

	// A Command manages the execution of one CommandSpec. Run performs the
	// command's side effects and Close releases whatever Run acquired. Close
	// is invoked when the owning document scope closes, in reverse
	// acquisition order, whether or not the run succeeded.
	Command interface {
		Run(ctx context.Context, e *Executor, rctx *RunContext) error
		Close() error
	}

	// A Builder inspects a CommandSpec and, when it recognizes the argument
	// vector's shape, returns the command that will manage it. A nil Command
	// means no match. Building must be side effect free; the only permitted
	// failure is a configuration error.
	Builder func(spec *CommandSpec) (Command, error)

	// A Registry holds an ordered list of builders. The first builder that
	// recognizes an argument vector wins; unrecognized vectors fall back to
	// a plain console command.
	Registry struct {
		builders []Builder
	}
)

// Validate reports configuration errors in the spec. These are always fatal
// and are raised at build time, never at run time.
func (spec *CommandSpec) Validate() error {
	if len(spec.Argv) == 0 {
		return &errors.CommandEmptyError{}
	}
	if spec.PollUntil && spec.CompareOutput == "" {
		return &errors.CommandPollWithoutCompareError{Cmd: spec.Argv}
	}
	return nil
}

// withArgv clones the spec, carrying every option but swapping the argument
// vector.
func (spec *CommandSpec) withArgv(argv []string) *CommandSpec {
	clone := *spec
	clone.Argv = slices.Clone(argv)
	return &clone
}

// NewRegistry returns a registry with every builtin command variant
// registered, in matching order.
func NewRegistry() *Registry {
	return &Registry{builders: []Builder{
		buildCDCommand,
		buildActivateVirtualEnvCommand,
		buildCreateVirtualEnvCommand,
		buildPipInstallCommand,
		buildDockerRunCommand,
		buildHTTPServerCommand,
	}}
}

// Register appends a custom builder. Custom builders run after the builtins.
func (r *Registry) Register(b Builder) {
	r.builders = append(r.builders, b)
}

// Build validates the spec and dispatches it to the first builder that
// recognizes it.
func (r *Registry) Build(spec *CommandSpec) (Command, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	for _, b := range r.builders {
		cmd, err := b(spec)
		if err != nil {
			return nil, err
		}
		if cmd != nil {
			return cmd, nil
		}
	}
	return NewConsoleCommand(spec), nil
}
