package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/consoletest/consoletest"
	"github.com/consoletest/consoletest/errors"
	"github.com/consoletest/consoletest/internal/execext"
	"github.com/consoletest/consoletest/internal/term"
	"github.com/consoletest/consoletest/internal/version"
)

const usage = `Usage: consoletest [-dv] [--dir] [--env-file] [--interval] [--color] [testfile...]

Runs the console test nodes described by the given YAML testfiles, executing
every documented command against a disposable working environment. Testfiles
run one after the other; each gets its own scratch directory, daemon table
and cleanup scope.

Example testfile:

'''
nodes:
  - test:
      commands:
        - cmd: echo 'Hello World' | grep Hello
          compare-output: b"Hello" in stdout
'''

Options:
`

func main() {
	if err := run(); err != nil {
		log.SetFlags(0)
		log.SetOutput(os.Stderr)
		log.Print(err.Error())

		var ce errors.ConsoletestError
		if errors.As(err, &ce) {
			os.Exit(ce.Code())
		}
		os.Exit(errors.CodeUnknown)
	}
}

func run() error {
	pflag.Usage = func() {
		log.SetFlags(0)
		log.SetOutput(os.Stderr)
		log.Print(usage)
		pflag.PrintDefaults()
	}

	var (
		versionFlag bool
		helpFlag    bool
		verbose     bool
		color       bool
		dir         string
		envFile     string
		interpreter string
		interval    time.Duration
		command     string
	)
	pflag.BoolVar(&versionFlag, "version", false, "show consoletest version")
	pflag.BoolVarP(&helpFlag, "help", "h", false, "shows consoletest usage")
	pflag.BoolVarP(&verbose, "verbose", "v", false, "enables verbose mode")
	pflag.BoolVar(&color, "color", term.IsTerminal(), "colored output")
	pflag.StringVarP(&dir, "dir", "d", "", "sets directory of execution")
	pflag.StringVar(&envFile, "env-file", "", "dotenv file applied for the duration of each run")
	pflag.StringVar(&interpreter, "interpreter", "", "python interpreter used for bare python invocations and sandbox evaluation")
	pflag.DurationVar(&interval, "interval", 100*time.Millisecond, "poll-until retry interval")
	pflag.StringVar(&command, "run", "", "run a single ad-hoc command line instead of testfiles")
	pflag.Parse()

	if versionFlag {
		fmt.Printf("consoletest version: %s\n", version.GetVersion())
		return nil
	}
	if helpFlag {
		pflag.Usage()
		return nil
	}

	e := consoletest.NewExecutor(
		consoletest.WithDir(dir),
		consoletest.WithEnvFile(envFile),
		consoletest.WithInterpreter(interpreter),
		consoletest.WithPollInterval(interval),
		consoletest.WithVerbose(verbose),
		consoletest.WithColor(color),
	)
	if err := e.Setup(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.InterceptInterruptSignals(cancel)

	if command != "" {
		argv, err := execext.Fields(command)
		if err != nil {
			return err
		}
		return e.Run(ctx, &consoletest.CommandTestNode{
			Specs: []*consoletest.CommandSpec{{Argv: argv}},
		})
	}

	if pflag.NArg() == 0 {
		pflag.Usage()
		return errors.New("consoletest: no testfile given")
	}
	for _, path := range pflag.Args() {
		nodes, err := consoletest.ReadTestfile(path)
		if err != nil {
			return err
		}
		if err := e.Run(ctx, nodes...); err != nil {
			return err
		}
	}
	return nil
}
