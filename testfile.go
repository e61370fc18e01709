package consoletest

import (
	"os"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/consoletest/consoletest/errors"
	"github.com/consoletest/consoletest/internal/execext"
)

type (
	testfile struct {
		Nodes []*testfileNode `yaml:"nodes"`
	}

	// A testfileNode is one node record; exactly one of its fields is set.
	testfileNode struct {
		Write   *testfileWrite   `yaml:"write"`
		Include *testfileInclude `yaml:"include"`
		Test    *testfileTest    `yaml:"test"`
	}

	testfileWrite struct {
		Filepath  string `yaml:"filepath"`
		Overwrite bool   `yaml:"overwrite"`
		Content   string `yaml:"content"`
	}

	testfileInclude struct {
		Source   string `yaml:"source"`
		Filepath string `yaml:"filepath"`
		Lines    []int  `yaml:"lines"`
	}

	testfileTest struct {
		Language string             `yaml:"language"`
		Replace  string             `yaml:"replace"`
		Commands []*testfileCommand `yaml:"commands"`
	}

	testfileCommand struct {
		Cmd                  testfileCmdValue `yaml:"cmd"`
		CompareOutput        string           `yaml:"compare-output"`
		CompareOutputImports []string         `yaml:"compare-output-imports"`
		PollUntil            bool             `yaml:"poll-until"`
		IgnoreErrors         bool             `yaml:"ignore-errors"`
		Daemon               string           `yaml:"daemon"`
		Stdin                string           `yaml:"stdin"`
	}

	// A testfileCmdValue accepts either a single command line, split with
	// shell quoting rules, or an explicit argument vector.
	testfileCmdValue struct {
		Argv []string
	}
)

func (v *testfileCmdValue) UnmarshalYAML(node *yaml.Node) error {
	var line string
	if err := node.Decode(&line); err == nil {
		argv, err := execext.Fields(line)
		if err != nil {
			return err
		}
		v.Argv = argv
		return nil
	}
	return node.Decode(&v.Argv)
}

// ReadTestfile reads a YAML testfile describing a document's testable nodes.
func ReadTestfile(path string) ([]Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.TestfileNotFoundError{URI: path}
		}
		return nil, err
	}
	var tf testfile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, &errors.TestfileInvalidError{URI: path, Err: err}
	}

	var nodes []Node
	for _, n := range tf.Nodes {
		switch {
		case n.Write != nil:
			nodes = append(nodes, &FileWriteNode{
				Path:      strings.Split(n.Write.Filepath, "/"),
				Content:   splitContentLines(n.Write.Content),
				Overwrite: n.Write.Overwrite,
			})
		case n.Include != nil:
			nodes = append(nodes, &LiteralIncludeNode{
				Source: n.Include.Source,
				Dest:   n.Include.Filepath,
				Lines:  n.Include.Lines,
			})
		case n.Test != nil:
			node := &CommandTestNode{
				Replace:  n.Test.Replace,
				Language: n.Test.Language,
			}
			if node.Language == "" {
				node.Language = "console"
			}
			for _, c := range n.Test.Commands {
				spec := &CommandSpec{
					Argv:                 c.Cmd.Argv,
					CompareOutput:        c.CompareOutput,
					CompareOutputImports: c.CompareOutputImports,
					PollUntil:            c.PollUntil,
					IgnoreErrors:         c.IgnoreErrors,
					Daemon:               c.Daemon,
				}
				if c.Stdin != "" {
					spec.Stdin = []byte(c.Stdin)
				}
				if err := spec.Validate(); err != nil {
					return nil, &errors.TestfileInvalidError{URI: path, Err: err}
				}
				node.Specs = append(node.Specs, spec)
			}
			nodes = append(nodes, node)
		default:
			return nil, &errors.TestfileInvalidError{
				URI: path,
				Err: errors.New("node must carry one of write, include or test"),
			}
		}
	}
	return nodes, nil
}

func splitContentLines(content string) []string {
	content = strings.TrimSuffix(content, "\n")
	if content == "" {
		return nil
	}
	return strings.Split(content, "\n")
}
