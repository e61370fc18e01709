package consoletest

import (
	"os"
	"os/exec"
	"path/filepath"

	"github.com/consoletest/consoletest/internal/logger"
)

// Setup fills in the Executor's defaults. It must be called once before Run.
func (e *Executor) Setup() error {
	if err := e.setupDir(); err != nil {
		return err
	}
	e.setupStdFiles()
	e.setupLogger()
	e.setupInterpreter()
	if e.Registry == nil {
		e.Registry = NewRegistry()
	}
	return nil
}

func (e *Executor) setupDir() error {
	if e.Dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		e.Dir = wd
	}
	dir, err := filepath.Abs(e.Dir)
	if err != nil {
		return err
	}
	e.Dir = dir
	return nil
}

func (e *Executor) setupStdFiles() {
	if e.Stdout == nil {
		e.Stdout = os.Stdout
	}
	if e.Stderr == nil {
		e.Stderr = os.Stderr
	}
}

func (e *Executor) setupLogger() {
	e.Logger = &logger.Logger{
		Stdout:  e.Stdout,
		Stderr:  e.Stderr,
		Verbose: e.Verbose,
		Color:   e.Color,
	}
}

func (e *Executor) setupInterpreter() {
	if e.Interpreter != "" {
		return
	}
	for _, name := range []string{"python3", "python"} {
		if path, err := exec.LookPath(name); err == nil {
			e.Interpreter = path
			return
		}
	}
	// Nothing resolvable on PATH. Keep a sensible name so failures surface
	// at spawn time with a useful message.
	e.Interpreter = "python3"
}
