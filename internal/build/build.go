// Package build runs the package pipeline: it loads a descriptor, resolves
// its version, options and dependencies, generates the native build inputs,
// builds, packages and optionally publishes the result.
package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofrs/flock"

	"github.com/zenplay/zpkg/formula"
	"github.com/zenplay/zpkg/internal/depgraph"
	"github.com/zenplay/zpkg/internal/layout"
	"github.com/zenplay/zpkg/internal/options"
	"github.com/zenplay/zpkg/internal/pack"
	"github.com/zenplay/zpkg/internal/registry"
	"github.com/zenplay/zpkg/internal/resolve"
	"github.com/zenplay/zpkg/pkgs/buildsys"
	"github.com/zenplay/zpkg/pkgs/buildsys/autotools"
	"github.com/zenplay/zpkg/pkgs/buildsys/cmake"
	"github.com/zenplay/zpkg/pkgs/mod/versions"
)

// Stages lists the pipeline stages in the order they run.
var Stages = []formula.Stage{
	formula.StageLoad,
	formula.StageVersion,
	formula.StageOptions,
	formula.StageResolve,
	formula.StageGenerate,
	formula.StageBuild,
	formula.StagePackage,
	formula.StagePublish,
}

// ErrBusy is returned when another invocation owns the build directory of
// the same settings configuration.
var ErrBusy = errors.New("build directory is in use by another invocation")

// Options configure a Builder.
type Options struct {
	Registry  *registry.Local
	Logger    *log.Logger
	Settings  formula.Settings
	Overrides formula.OptionMatrix // "" addresses the package being built
	Profile   string

	// Stdout and Stderr receive the native build output unmodified.
	Stdout io.Writer
	Stderr io.Writer

	// NewBuildSystem creates the native build system cfg.System names.
	// The default creates real CMake and Autotools drivers.
	NewBuildSystem func(cfg buildsys.Config) buildsys.BuildSystem
}

// Builder runs the pipeline for descriptors.
type Builder struct {
	opts Options
}

func NewBuilder(opts Options) *Builder {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	if opts.NewBuildSystem == nil {
		opts.NewBuildSystem = NativeBuildSystem(0)
	}
	return &Builder{opts: opts}
}

// NativeBuildSystem returns a build system factory running real processes
// with up to jobs parallel jobs. Zero leaves parallelism to the tool.
func NativeBuildSystem(jobs int) func(cfg buildsys.Config) buildsys.BuildSystem {
	return func(cfg buildsys.Config) buildsys.BuildSystem {
		if cfg.System == formula.Autotools {
			return autotools.New(cfg, nil).Jobs(jobs)
		}
		return cmake.New(cfg, nil).Jobs(jobs)
	}
}

// Request selects the descriptor and how far to run.
type Request struct {
	Dir string // descriptor file or directory holding one

	// Upto is the last stage to run. Empty runs up to packaging, or up to
	// publishing when Publish is set.
	Upto    formula.Stage
	Publish bool
}

// Result is what the pipeline produced, filled up to the last stage run.
type Result struct {
	Descriptor *formula.Descriptor // profile applied, version resolved
	Graph      *depgraph.Graph
	Options    *options.Resolved
	Resolution *resolve.Result
	Layout     layout.Layout
	PackageID  string
	Generated  []string // generator files written
	Cached     bool     // build and package were skipped
	Info       *pack.Info
	Published  string // published package folder
}

type state struct {
	req   Request
	res   *Result
	build buildsys.BuildSystem
	cache *buildCache
	print string   // source fingerprint
	deps  []string // dependency package folders
}

// Run executes the pipeline. Stages run one after another; ctx is only
// checked between stages, never inside one. Every failure is returned as a
// *formula.StageError wrapping the underlying error.
func (b *Builder) Run(ctx context.Context, req Request) (*Result, error) {
	last := req.Upto
	if last == "" {
		last = formula.StagePackage
		if req.Publish {
			last = formula.StagePublish
		}
	}
	if !slices.Contains(Stages, last) {
		return nil, fmt.Errorf("unknown stage %q", last)
	}

	st := &state{req: req, res: &Result{}}
	steps := map[formula.Stage]func(context.Context, *state) error{
		formula.StageLoad:     b.loadStage,
		formula.StageVersion:  b.versionStage,
		formula.StageOptions:  b.optionsStage,
		formula.StageResolve:  b.resolveStage,
		formula.StageGenerate: b.generateStage,
		formula.StageBuild:    b.buildStage,
		formula.StagePackage:  b.packStage,
		formula.StagePublish:  b.publishStage,
	}
	var unlock func()
	defer func() {
		if unlock != nil {
			unlock()
		}
	}()

	for _, stage := range Stages {
		pkg := req.Dir
		if st.res.Descriptor != nil {
			pkg = st.res.Descriptor.Ref().String()
		}
		if err := ctx.Err(); err != nil {
			return st.res, &formula.StageError{Stage: stage, Package: pkg, Err: err}
		}
		if stage == formula.StageGenerate {
			var err error
			if unlock, err = b.guard(st.res.Layout.BuildDir); err != nil {
				return st.res, &formula.StageError{Stage: stage, Package: pkg, Err: err}
			}
		}
		if stage == formula.StagePublish && !req.Publish {
			break
		}
		if err := steps[stage](ctx, st); err != nil {
			return st.res, &formula.StageError{Stage: stage, Package: pkg, Err: err}
		}
		if stage == last {
			break
		}
	}
	return st.res, nil
}

// guard takes exclusive ownership of a build directory. It never waits:
// a directory owned by another invocation is an error.
func (b *Builder) guard(dir string) (func(), error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	fl := flock.New(filepath.Join(dir, lockFile))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBusy, dir)
	}
	return func() { fl.Unlock() }, nil
}

func (b *Builder) loadStage(ctx context.Context, st *state) error {
	if err := b.opts.Settings.Validate(); err != nil {
		return err
	}
	d, err := formula.Load(st.req.Dir)
	if err != nil {
		return err
	}
	if d, err = d.WithProfile(b.opts.Profile); err != nil {
		return err
	}
	st.res.Descriptor = d
	st.res.Layout = layout.New(d.Dir, b.opts.Settings)
	b.opts.Logger.Debug("loaded descriptor", "package", d.Name, "dir", d.Dir, "profile", b.opts.Profile)
	return nil
}

func (b *Builder) versionStage(ctx context.Context, st *state) error {
	d := st.res.Descriptor
	v := d.Version
	if d.VersionFile != "" {
		var err error
		if v, err = versions.Resolve(d.Dir, d.VersionFile); err != nil {
			return &formula.ConfigurationError{Package: d.Name, Reason: "cannot resolve version", Err: err}
		}
	}
	if v == "" {
		return formula.Configf(d.Name, "no version or version_file declared")
	}
	st.res.Descriptor = d.WithVersion(v)
	b.opts.Logger.Info("resolved version", "package", d.Name, "version", v)
	return nil
}

func (b *Builder) optionsStage(ctx context.Context, st *state) error {
	g, err := depgraph.Discover(ctx, st.res.Descriptor, b.opts.Registry)
	if err != nil {
		return err
	}
	opts, err := options.Merge(g, b.opts.Settings, b.opts.Overrides)
	if err != nil {
		return err
	}
	st.res.Graph, st.res.Options = g, opts
	b.opts.Logger.Debug("options", "package", g.Root.Name, "options", opts.Root.String())
	for _, dep := range opts.Deps() {
		set, _ := opts.Of(dep)
		b.opts.Logger.Debug("options", "package", dep, "options", set.String())
	}
	return nil
}

func (b *Builder) resolveStage(ctx context.Context, st *state) error {
	res, err := resolve.Resolve(ctx, st.res.Graph, b.opts.Registry)
	if err != nil {
		return err
	}
	st.res.Resolution = res
	for _, n := range res.Nodes {
		b.opts.Logger.Info("resolved dependency", "ref", n.Ref.String(), "direct", n.Direct, "test", n.Test)
	}

	d := st.res.Descriptor
	st.res.PackageID = pack.ID(d, b.opts.Settings, st.res.Options.Root, res.Requires(d.Name))
	if !d.CachePolicy.IncludesDependencies() {
		b.opts.Logger.Warn("package ID ignores dependency versions; a cached package may be stale after dependencies change",
			"package", d.Name, "package_id", st.res.PackageID)
	}
	return nil
}

func (b *Builder) generateStage(ctx context.Context, st *state) error {
	res := st.res
	var deps []layout.Dependency
	for _, n := range res.Resolution.Nodes {
		recipe := n.Recipe.WithVersion(n.Ref.Version)
		opts, _ := res.Options.Of(n.Ref.Path)
		id := pack.ID(recipe, b.opts.Settings, opts, res.Resolution.Requires(n.Ref.Path))
		info, dir, err := b.opts.Registry.Lookup(n.Ref, id)
		if err != nil {
			return &formula.ConfigurationError{
				Package: res.Descriptor.Name,
				Reason:  fmt.Sprintf("dependency %s with options %s is not available; create it first", n.Ref, opts),
				Err:     err,
			}
		}
		deps = append(deps, layout.Dependency{Info: info, Dir: dir})
		st.deps = append(st.deps, dir)
	}
	written, err := layout.Generate(res.Layout, b.opts.Settings, res.Options.Root, deps)
	if err != nil {
		return err
	}
	res.Generated = written
	b.opts.Logger.Debug("generated build files", "dir", res.Layout.GeneratorsDir, "written", written)
	return nil
}

func (b *Builder) buildStage(ctx context.Context, st *state) error {
	res := st.res
	d := res.Descriptor

	cache, err := loadCache(res.Layout.BuildDir)
	if err != nil {
		return err
	}
	p := &formula.Project{DirFS: os.DirFS(d.Dir)}
	fingerprint, err := p.Fingerprint(d.ExportsSources...)
	if err != nil {
		return err
	}
	st.cache, st.print = cache, fingerprint
	if cache.hit(res.PackageID, fingerprint) {
		if info, err := pack.ReadInfo(res.Layout.PackageDir); err == nil && info.PackageID == res.PackageID {
			res.Cached, res.Info = true, info
			b.opts.Logger.Info("package is up to date", "package", d.Ref().String(), "package_id", res.PackageID)
			return nil
		}
	}

	cfg := buildsys.Config{
		System:    d.BuildSystem,
		SourceDir: d.Dir,
		BuildDir:  res.Layout.BuildDir,
		Toolchain: res.Layout.Toolchain(),
		Generator: d.Generator,
		BuildType: b.opts.Settings.BuildType,
		Stdout:    b.opts.Stdout,
		Stderr:    b.opts.Stderr,
		Options:   res.Options.Root.Map(),
		Deps:      st.deps,
	}
	if b.opts.Settings.Cross() {
		cfg.Host = b.opts.Settings.Triple()
	}
	st.build = b.opts.NewBuildSystem(cfg)
	if d.Type.HeaderOnly() {
		return nil
	}
	b.opts.Logger.Info("building", "package", d.Ref().String(), "build_system", d.BuildSystem, "dir", res.Layout.BuildDir)
	if err := st.build.Configure(); err != nil {
		return err
	}
	return st.build.Build()
}

func (b *Builder) packStage(ctx context.Context, st *state) error {
	res := st.res
	if res.Cached {
		return nil
	}
	d := res.Descriptor
	info, err := pack.Package(pack.Request{
		Descriptor: d,
		Settings:   b.opts.Settings,
		Options:    res.Options.Root,
		Requires:   res.Resolution.Requires(d.Name),
		SourceDir:  d.Dir,
		BuildDir:   res.Layout.BuildDir,
		PackageDir: res.Layout.PackageDir,
		Installer:  st.build,
	})
	if err != nil {
		return err
	}
	res.Info = info
	b.opts.Logger.Info("packaged", "package", d.Ref().String(), "package_id", info.PackageID, "libs", info.Libs)

	st.cache.set(res.PackageID, &buildEntry{Fingerprint: st.print, BuildTime: time.Now()})
	return saveCache(res.Layout.BuildDir, st.cache)
}

func (b *Builder) publishStage(ctx context.Context, st *state) error {
	res := st.res
	if err := b.opts.Registry.ExportRecipe(ctx, res.Descriptor); err != nil {
		return err
	}
	dir, err := b.opts.Registry.Publish(ctx, res.Layout.PackageDir)
	if err != nil {
		return err
	}
	res.Published = dir
	b.opts.Logger.Info("published", "package", res.Descriptor.Ref().String(), "dir", dir)
	return nil
}
