// Package env manages the process-wide environment mutations performed by
// virtual environment and conda activation, and the temporary KEY=VALUE
// overrides applied to a single pipeline. All mutation goes through
// snapshots so nested activations restore the exact prior state.
package env

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Names of the environment variables touched by an activation.
const (
	VirtualEnv      = "VIRTUAL_ENV"
	VirtualEnvDir   = "VIRTUAL_ENV_DIR"
	Path            = "PATH"
	PythonPath      = "PYTHONPATH"
	CondaPrefix     = "CONDA_PREFIX"
	CondaDefaultEnv = "CONDA_DEFAULT_ENV"
	CondaShlvl      = "CONDA_SHLVL"

	condaPrefixIndexed = "CONDA_PREFIX_"
)

// A Snapshot records the prior values of a set of environment variables so
// they can be restored later. A nil pointer value means the variable was
// unset when the snapshot was taken. Snapshots must be restored exactly once
// and in reverse capture order; violating this is a programming error, not a
// recoverable runtime condition.
type Snapshot struct {
	values   map[string]*string
	restored bool
}

// Capture records the current values of the named variables.
func Capture(names ...string) *Snapshot {
	s := &Snapshot{values: make(map[string]*string, len(names))}
	for _, name := range names {
		s.record(name)
	}
	return s
}

func (s *Snapshot) record(name string) {
	if _, ok := s.values[name]; ok {
		return
	}
	if value, ok := os.LookupEnv(name); ok {
		s.values[name] = &value
	} else {
		s.values[name] = nil
	}
}

// Restore puts every captured variable back to its captured value, unsetting
// variables that were unset at capture time.
func (s *Snapshot) Restore() {
	if s.restored {
		panic("env: snapshot restored twice")
	}
	s.restored = true
	for name, value := range s.values {
		if value == nil {
			os.Unsetenv(name)
		} else {
			os.Setenv(name, *value)
		}
	}
}

// An Override applies temporary environment variables on top of the process
// environment, remembering prior state the first time each key is touched.
// Used for the leading KEY=VALUE prefixes of a pipeline stage.
type Override struct {
	prior map[string]*string
}

func NewOverride() *Override {
	return &Override{prior: map[string]*string{}}
}

// Set applies one temporary variable.
func (o *Override) Set(key, value string) {
	if _, ok := o.prior[key]; !ok {
		if old, ok := os.LookupEnv(key); ok {
			o.prior[key] = &old
		} else {
			o.prior[key] = nil
		}
	}
	os.Setenv(key, value)
}

// Restore undoes every Set, removing variables that were previously unset.
// Safe to call more than once.
func (o *Override) Restore() {
	for key, value := range o.prior {
		if value == nil {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, *value)
		}
	}
	o.prior = map[string]*string{}
}

// CondaActive reports whether a conda environment is currently active, which
// selects the conda activation strategy over the virtualenv one.
func CondaActive() bool {
	_, ok := os.LookupEnv(CondaPrefix)
	return ok
}

// VirtualEnvActive reports whether a virtualenv is currently active.
func VirtualEnvActive() bool {
	_, ok := os.LookupEnv(VirtualEnv)
	return ok
}

// activationVars returns every variable name an activation may touch,
// including the currently set indexed conda prefixes and the one the
// activation will create.
func activationVars() []string {
	names := []string{
		VirtualEnv,
		VirtualEnvDir,
		Path,
		PythonPath,
		CondaPrefix,
		CondaDefaultEnv,
		CondaShlvl,
	}
	maxIndex := 0
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if !strings.HasPrefix(name, condaPrefixIndexed) {
			continue
		}
		names = append(names, name)
		var index int
		if _, err := fmt.Sscanf(name, condaPrefixIndexed+"%d", &index); err == nil && index > maxIndex {
			maxIndex = index
		}
	}
	// Activation pushes the current prefix down one level, creating exactly
	// one new indexed variable.
	names = append(names, fmt.Sprintf("%s%d", condaPrefixIndexed, maxIndex+1))
	return names
}

// Activate mutates the process environment so subsequently spawned processes
// resolve interpreters and libraries from root. The pythonVersion is the
// "major.minor" string used to build the site-packages path. The returned
// snapshot restores the exact prior state when consumed.
//
// Two strategies are supported. If a conda prefix is already present the
// current prefix is pushed down one shell level and the shell level counter
// is incremented. Otherwise the virtualenv marker variables are set directly.
func Activate(root, pythonVersion string) *Snapshot {
	snapshot := Capture(activationVars()...)

	binDir := filepath.Join(root, "bin")
	os.Setenv(Path, strings.Join(
		append([]string{binDir}, strings.Split(os.Getenv(Path), ":")...), ":",
	))
	sitePackages := filepath.Join(root, "lib", "python"+pythonVersion, "site-packages")
	os.Setenv(PythonPath, strings.Join(
		append(strings.Split(os.Getenv(PythonPath), ":"), sitePackages), ":",
	))

	if CondaActive() {
		// Bump all indexed prefixes up one level.
		for _, kv := range os.Environ() {
			name, value, _ := strings.Cut(kv, "=")
			var index int
			if _, err := fmt.Sscanf(name, condaPrefixIndexed+"%d", &index); err != nil {
				continue
			}
			os.Setenv(fmt.Sprintf("%s%d", condaPrefixIndexed, index+1), value)
		}
		shlvl := 0
		fmt.Sscanf(os.Getenv(CondaShlvl), "%d", &shlvl)
		os.Setenv(CondaShlvl, fmt.Sprintf("%d", shlvl+1))
		os.Setenv(condaPrefixIndexed+"1", os.Getenv(CondaPrefix))
		os.Setenv(CondaPrefix, root)
		os.Setenv(CondaDefaultEnv, root)
	} else {
		os.Setenv(VirtualEnv, root)
		os.Setenv(VirtualEnvDir, root)
	}

	return snapshot
}
