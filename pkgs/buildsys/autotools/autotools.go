// Package autotools drives configure and make for packages that do not
// build with CMake.
package autotools

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/zenplay/zpkg/pkgs/buildsys"
)

// AutoTools wraps common Autotools build steps with chainable configuration.
type AutoTools struct {
	sourceDir string
	buildDir  string
	host      string
	jobs      int
	options   map[string]string
	env       map[string]string

	cfg    buildsys.Config
	runner buildsys.Runner
}

var _ buildsys.BuildSystem = (*AutoTools)(nil)

// New creates an Autotools driver for cfg. A nil runner runs real
// processes. Every folder in cfg.Deps is made visible to configure.
func New(cfg buildsys.Config, runner buildsys.Runner) *AutoTools {
	if runner == nil {
		runner = buildsys.ExecRunner
	}
	a := &AutoTools{
		sourceDir: cfg.SourceDir,
		buildDir:  cfg.BuildDir,
		host:      cfg.Host,
		options:   cfg.Options,
		env:       map[string]string{},
		cfg:       cfg,
		runner:    runner,
	}
	for k, v := range cfg.Env {
		a.env[k] = v
	}
	for _, dir := range cfg.Deps {
		a.Use(dir)
	}
	return a
}

// Jobs sets the number of parallel make jobs. Zero leaves it to make.
func (a *AutoTools) Jobs(n int) *AutoTools {
	a.jobs = n
	return a
}

// Use makes the package folder dir visible to configure: its pkg-config
// files, headers and libraries.
func (a *AutoTools) Use(dir string) *AutoTools {
	includeDir := filepath.Join(dir, "include")
	libDir := filepath.Join(dir, "lib")

	if exists(filepath.Join(libDir, "pkgconfig")) {
		a.prependEnv("PKG_CONFIG_PATH", filepath.Join(libDir, "pkgconfig"))
	}
	if runtime.GOOS == "windows" {
		if exists(includeDir) {
			a.prependEnv("INCLUDE", includeDir)
		}
		if exists(libDir) {
			a.prependEnv("LIB", libDir)
		}
		return a
	}
	if exists(includeDir) {
		a.appendFlag("CPPFLAGS", "-I"+includeDir)
	}
	if exists(libDir) {
		a.appendFlag("LDFLAGS", "-L"+libDir)
	}
	return a
}

// Configure runs <source>/configure from the build directory. The install
// prefix is passed to Install instead.
func (a *AutoTools) Configure(args ...string) error {
	if err := os.MkdirAll(a.buildDir, 0755); err != nil {
		return err
	}
	exe, err := filepath.Abs(filepath.Join(a.sourceDir, "configure"))
	if err != nil {
		return err
	}
	configArgs := []string{}
	if a.host != "" {
		configArgs = append(configArgs, "--host="+a.host)
	}
	configArgs = append(configArgs, a.optionArgs()...)
	configArgs = append(configArgs, args...)
	return a.run("configure", exe, configArgs)
}

// Build runs make in the build directory.
func (a *AutoTools) Build(args ...string) error {
	cmdArgs := []string{}
	if a.jobs > 0 {
		cmdArgs = append(cmdArgs, "-j"+strconv.Itoa(a.jobs))
	}
	cmdArgs = append(cmdArgs, args...)
	return a.run("build", "make", cmdArgs)
}

// Install runs make install, overriding the prefix configure recorded.
func (a *AutoTools) Install(prefix string, args ...string) error {
	cmdArgs := []string{"install"}
	if prefix != "" {
		abs, err := filepath.Abs(prefix)
		if err != nil {
			return err
		}
		cmdArgs = append(cmdArgs, "prefix="+abs)
	}
	cmdArgs = append(cmdArgs, args...)
	return a.run("install", "make", cmdArgs)
}

// optionArgs translates the shared and fPIC options into configure flags.
func (a *AutoTools) optionArgs() []string {
	var args []string
	switch a.options["shared"] {
	case "True":
		args = append(args, "--enable-shared", "--disable-static")
	case "False":
		args = append(args, "--disable-shared", "--enable-static")
	}
	if a.options["fPIC"] == "True" {
		args = append(args, "--with-pic")
	}
	return args
}

func (a *AutoTools) run(step, name string, args []string) error {
	err := a.runner(a.buildDir, name, args, buildsys.MergeEnv(os.Environ(), a.env),
		buildsys.Writer(a.cfg.Stdout, os.Stdout), buildsys.Writer(a.cfg.Stderr, os.Stderr))
	return buildsys.Failure(step, append([]string{name}, args...), err)
}

// prependEnv prepends value to the path list key, seeded from the process
// environment.
func (a *AutoTools) prependEnv(key, value string) {
	current, ok := a.env[key]
	if !ok {
		current = os.Getenv(key)
	}
	if current == "" {
		a.env[key] = value
		return
	}
	a.env[key] = value + buildsys.ListSeparator() + current
}

// appendFlag appends a space separated flag to key.
func (a *AutoTools) appendFlag(key, flag string) {
	current, ok := a.env[key]
	if !ok {
		current = os.Getenv(key)
	}
	a.env[key] = strings.TrimSpace(current + " " + flag)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
