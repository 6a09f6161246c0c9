// Package cmake drives CMake configure, build and install steps.
package cmake

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/zenplay/zpkg/pkgs/buildsys"
)

type defineValue struct {
	value    string
	typeName string
}

// CMake wraps common CMake build steps with chainable configuration.
type CMake struct {
	sourceDir string
	buildDir  string
	generator string
	buildType string
	toolchain string
	jobs      int
	defines   map[string]defineValue
	env       map[string]string

	cfg    buildsys.Config
	runner buildsys.Runner
}

var _ buildsys.BuildSystem = (*CMake)(nil)

// New creates a CMake driver for cfg. A nil runner runs real processes.
func New(cfg buildsys.Config, runner buildsys.Runner) *CMake {
	if runner == nil {
		runner = buildsys.ExecRunner
	}
	c := &CMake{
		sourceDir: cfg.SourceDir,
		buildDir:  cfg.BuildDir,
		generator: cfg.Generator,
		buildType: cfg.BuildType,
		toolchain: cfg.Toolchain,
		defines:   map[string]defineValue{},
		env:       map[string]string{},
		cfg:       cfg,
		runner:    runner,
	}
	for k, v := range cfg.Env {
		c.env[k] = v
	}
	return c
}

// Jobs sets the number of parallel build jobs. Zero leaves it to CMake.
func (c *CMake) Jobs(n int) *CMake {
	c.jobs = n
	return c
}

func (c *CMake) Define(key, value string) *CMake {
	c.defines[key] = defineValue{value: value, typeName: "STRING"}
	return c
}

func (c *CMake) DefineBool(key string, value bool) *CMake {
	if value {
		c.defines[key] = defineValue{value: "ON", typeName: "BOOL"}
		return c
	}
	c.defines[key] = defineValue{value: "OFF", typeName: "BOOL"}
	return c
}

func (c *CMake) Env(key, value string) *CMake {
	c.env[key] = value
	return c
}

func (c *CMake) Configure(args ...string) error {
	if err := os.MkdirAll(c.buildDir, 0755); err != nil {
		return err
	}
	cmakeArgs := []string{"-S", c.sourceDir, "-B", c.buildDir}
	if c.generator != "" {
		cmakeArgs = append(cmakeArgs, "-G", c.generator)
	}
	if c.toolchain != "" {
		c.Define("CMAKE_TOOLCHAIN_FILE", c.toolchain)
	}
	if c.buildType != "" {
		c.Define("CMAKE_BUILD_TYPE", c.buildType)
	}
	cmakeArgs = append(cmakeArgs, c.definesArgs()...)
	cmakeArgs = append(cmakeArgs, args...)

	return c.run("configure", cmakeArgs)
}

func (c *CMake) Build(args ...string) error {
	cmdArgs := []string{"--build", c.buildDir}
	if c.buildType != "" {
		cmdArgs = append(cmdArgs, "--config", c.buildType)
	}
	if c.jobs > 0 {
		cmdArgs = append(cmdArgs, "--parallel", strconv.Itoa(c.jobs))
	}
	cmdArgs = append(cmdArgs, args...)
	return c.run("build", cmdArgs)
}

func (c *CMake) Install(prefix string, args ...string) error {
	cmdArgs := []string{"--install", c.buildDir}
	if c.buildType != "" {
		cmdArgs = append(cmdArgs, "--config", c.buildType)
	}
	if prefix != "" {
		abs, err := filepath.Abs(prefix)
		if err != nil {
			return err
		}
		cmdArgs = append(cmdArgs, "--prefix", abs)
	}
	cmdArgs = append(cmdArgs, args...)
	return c.run("install", cmdArgs)
}

func (c *CMake) run(step string, args []string) error {
	err := c.runner("", "cmake", args, buildsys.MergeEnv(os.Environ(), c.env),
		buildsys.Writer(c.cfg.Stdout, os.Stdout), buildsys.Writer(c.cfg.Stderr, os.Stderr))
	return buildsys.Failure(step, append([]string{"cmake"}, args...), err)
}

func (c *CMake) definesArgs() []string {
	if len(c.defines) == 0 {
		return nil
	}
	keys := make([]string, 0, len(c.defines))
	for k := range c.defines {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]string, 0, len(keys))
	for _, k := range keys {
		def := c.defines[k]
		if def.typeName != "" {
			args = append(args, "-D"+k+":"+def.typeName+"="+def.value)
			continue
		}
		args = append(args, "-D"+k+"="+def.value)
	}
	return args
}
