// Package buildsys defines the boundary between zpkg and the native build
// system that compiles a package.
package buildsys

import (
	"errors"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sys/execabs"

	"github.com/zenplay/zpkg/formula"
)

// BuildSystem captures the lifecycle of a native build system (CMake, etc).
// Each step runs to completion; failures are returned as
// *formula.BuildFailure and never retried.
type BuildSystem interface {
	// Configure prepares the build tree, consuming the generated toolchain.
	Configure(args ...string) error

	// Build compiles the configured tree.
	Build(args ...string) error

	// Install copies build outputs into prefix.
	Install(prefix string, args ...string) error
}

// Config holds what every build system needs to know about a build.
type Config struct {
	System    string // formula.CMake or formula.Autotools
	SourceDir string
	BuildDir  string
	Toolchain string // generated toolchain file
	Generator string
	BuildType string
	Env       map[string]string
	Stdout    io.Writer
	Stderr    io.Writer

	// Host is the target triple when cross compiling, empty otherwise.
	Host string

	// Options are the effective options of the package being built.
	Options map[string]string

	// Deps are the package folders of the resolved runtime dependencies.
	// Build systems that cannot read the toolchain file find them here.
	Deps []string
}

// Runner runs a native build command in dir. Output goes to stdout and
// stderr unmodified.
type Runner func(dir, name string, args []string, env []string, stdout, stderr io.Writer) error

// ExecRunner runs commands as child processes. A relative command name is
// only looked up in PATH, never in the current directory.
func ExecRunner(dir, name string, args []string, env []string, stdout, stderr io.Writer) error {
	cmd := execabs.Command(name, args...)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = env
	return cmd.Run()
}

// Failure converts the error of a build step into a *formula.BuildFailure.
// A nil err gives nil.
func Failure(step string, command []string, err error) error {
	if err == nil {
		return nil
	}
	code := -1
	var exitErr *execabs.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	return &formula.BuildFailure{Step: step, Command: command, ExitCode: code, Err: err}
}

// Writer returns w, or fallback when w is nil.
func Writer(w io.Writer, fallback *os.File) io.Writer {
	if w == nil {
		return fallback
	}
	return w
}

// MergeEnv returns base with override applied, sorted by key. Entries of
// base without "=" are dropped.
func MergeEnv(base []string, override map[string]string) []string {
	envMap := make(map[string]string, len(base))
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok {
			envMap[k] = v
		}
	}
	for k, v := range override {
		envMap[k] = v
	}
	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+envMap[k])
	}
	return out
}

// ListSeparator separates entries of path lists such as PKG_CONFIG_PATH.
func ListSeparator() string {
	if runtime.GOOS == "windows" {
		return ";"
	}
	return ":"
}
