package consoletest

// A Node is one testable record handed over by the documentation parser:
// a file write, a literal include, or a command test.
type Node interface {
	node()
}

// A FileWriteNode writes literal content lines to a destination path below
// the run's working directory.
type FileWriteNode struct {
	// Path holds the destination path as slash separated segments.
	Path []string
	// Content holds the literal lines to write.
	Content []string
	// Overwrite replaces the destination instead of appending to it.
	Overwrite bool
}

// A LiteralIncludeNode copies a source file, or a selection of its lines,
// to a destination below the run's working directory.
type LiteralIncludeNode struct {
	Source string
	Dest   string
	// Lines selects a single line or an inclusive start-end pair. Empty
	// copies the whole file.
	Lines []int
}

// A CommandTestNode runs a list of built command specs in order, optionally
// rewriting their argument vectors with a sandboxed replace function first.
type CommandTestNode struct {
	Specs []*CommandSpec
	// Replace is the source text of an output rewriting function operating
	// on the JSON values "cmds" and "ctx".
	Replace string
	// Language is the declared source language tag. Defaults to console.
	Language string
}

func (*FileWriteNode) node()      {}
func (*LiteralIncludeNode) node() {}
func (*CommandTestNode) node()    {}
