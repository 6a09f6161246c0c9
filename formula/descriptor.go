package formula

import (
	"fmt"
	"maps"
	"slices"

	"github.com/zenplay/zpkg/pkgs/mod/constraint"
	"github.com/zenplay/zpkg/pkgs/mod/module"
)

// -----------------------------------------------------------------------------

// PackageType tells the packager what a package ships.
type PackageType string

const (
	Application   PackageType = "application"
	Library       PackageType = "library"
	HeaderLibrary PackageType = "header-library"
)

// HeaderOnly reports whether packages of this type ship no binaries.
func (t PackageType) HeaderOnly() bool {
	return t == HeaderLibrary
}

// CachePolicy selects what goes into a package's identity.
type CachePolicy string

const (
	// CacheFull includes resolved dependency versions in the package ID.
	CacheFull CachePolicy = "full"

	// CacheIgnoreDependencies leaves dependency versions out of the package
	// ID. A package built once is reused after its dependencies change, so it
	// may be stale.
	CacheIgnoreDependencies CachePolicy = "ignore-dependencies"
)

// IncludesDependencies reports whether dependency refs are part of the ID.
func (p CachePolicy) IncludesDependencies() bool {
	return p != CacheIgnoreDependencies
}

// Build systems a descriptor can select.
const (
	CMake     = "cmake"
	Autotools = "autotools"
)

// -----------------------------------------------------------------------------

// Requirement declares a dependency on a package within a version range.
type Requirement struct {
	Name       string
	Constraint constraint.Constraint
	User       string
	Test       bool // test-only requirement, never visible to consumers
}

func (r Requirement) String() string {
	v := module.Version{Path: r.Name, Version: r.Constraint.String(), User: r.User}
	return v.String()
}

// ParseRequirement parses "name/constraint[@user]".
func ParseRequirement(ref string, test bool) (Requirement, error) {
	v, err := module.ParseRef(ref)
	if err != nil {
		return Requirement{}, err
	}
	c, err := constraint.Parse(v.Version)
	if err != nil {
		return Requirement{}, fmt.Errorf("requirement %q: %w", ref, err)
	}
	return Requirement{Name: v.Path, Constraint: c, User: v.User, Test: test}, nil
}

// Packaging describes what the packager collects besides installed files.
type Packaging struct {
	// Headers are glob patterns, relative to HeaderRoot, of headers exported
	// under include/<IncludeDir>/.
	Headers    []string
	HeaderRoot string
	IncludeDir string // defaults to the package name

	// Implementation lists glob patterns of sources a header-only package
	// ships next to its headers, under src/<name>/.
	Implementation []string

	// DebugSymbols enables copying "*.pdb" files into lib/ on Windows.
	DebugSymbols bool

	// Libs names the libraries consumers link. When empty the packager
	// collects them from lib/.
	Libs []string
}

// HeaderDir returns the directory below include/ that exported headers of
// package name go to.
func (p Packaging) HeaderDir(name string) string {
	if p.IncludeDir != "" {
		return p.IncludeDir
	}
	return name
}

// Profile is a named overlay of requirements and dependency options.
type Profile struct {
	Requires          []Requirement
	DependencyOptions OptionMatrix
}

// -----------------------------------------------------------------------------

// Descriptor is the declarative specification of one buildable unit.
type Descriptor struct {
	Name        string
	User        string
	Version     string
	VersionFile string
	Type        PackageType
	Description string
	URL         string
	Author      string
	License     string

	Settings          []string
	Options           map[string]OptionDef
	DependencyOptions OptionMatrix
	PlatformOptions   map[string]OptionMatrix // os -> assignments made only on that os
	Requires          []Requirement
	ExportsSources    []string
	CachePolicy       CachePolicy
	BuildSystem       string // CMake or Autotools
	Generator         string // CMake generator, empty for the default
	Packaging         Packaging
	Profiles          map[string]Profile

	// Versions lists the versions a recipe in a package index serves.
	Versions []string

	Dir string // directory holding the descriptor file
}

// Ref returns the package reference. Version is empty until resolved.
func (d *Descriptor) Ref() module.Version {
	return module.Version{Path: d.Name, Version: d.Version, User: d.User}
}

// RuntimeRequires returns the requirements visible to consumers.
func (d *Descriptor) RuntimeRequires() []Requirement {
	var out []Requirement
	for _, r := range d.Requires {
		if !r.Test {
			out = append(out, r)
		}
	}
	return out
}

// Requirement returns the declared requirement on name.
func (d *Descriptor) Requirement(name string) (Requirement, bool) {
	for _, r := range d.Requires {
		if r.Name == name {
			return r, true
		}
	}
	return Requirement{}, false
}

// DependencyOptionsFor returns the option assignments the descriptor makes
// when built for os: the platform-specific ones laid over the general ones.
func (d *Descriptor) DependencyOptionsFor(os string) OptionMatrix {
	m := d.DependencyOptions.Clone()
	for dep, opts := range d.PlatformOptions[os] {
		if m == nil {
			m = OptionMatrix{}
		}
		if m[dep] == nil {
			m[dep] = map[string]string{}
		}
		maps.Copy(m[dep], opts)
	}
	return m
}

// EffectiveOptions returns the package's own options for settings.
func (d *Descriptor) EffectiveOptions(settings Settings, overrides map[string]string) (OptionSet, error) {
	set, err := EffectiveOptions(settings, d.Options, overrides)
	if err != nil {
		if ce, ok := err.(*ConfigurationError); ok {
			ce.Package = d.Name
		}
		return OptionSet{}, err
	}
	return set, nil
}

// Clone returns a deep copy of the descriptor.
func (d *Descriptor) Clone() *Descriptor {
	c := *d
	c.Settings = slices.Clone(d.Settings)
	c.Options = maps.Clone(d.Options)
	c.DependencyOptions = d.DependencyOptions.Clone()
	if d.PlatformOptions != nil {
		c.PlatformOptions = make(map[string]OptionMatrix, len(d.PlatformOptions))
		for os, m := range d.PlatformOptions {
			c.PlatformOptions[os] = m.Clone()
		}
	}
	c.Requires = slices.Clone(d.Requires)
	c.ExportsSources = slices.Clone(d.ExportsSources)
	c.Packaging.Headers = slices.Clone(d.Packaging.Headers)
	c.Packaging.Implementation = slices.Clone(d.Packaging.Implementation)
	c.Packaging.Libs = slices.Clone(d.Packaging.Libs)
	c.Profiles = maps.Clone(d.Profiles)
	c.Versions = slices.Clone(d.Versions)
	return &c
}

// WithVersion returns a copy of the descriptor with its version set.
func (d *Descriptor) WithVersion(version string) *Descriptor {
	c := d.Clone()
	c.Version = version
	return c
}

// WithProfile returns a copy of the descriptor with the named profile laid
// over it: profile requirements replace same-named requirements or are
// appended, and profile dependency options override per option. An empty
// name returns the descriptor unchanged.
func (d *Descriptor) WithProfile(name string) (*Descriptor, error) {
	if name == "" {
		return d, nil
	}
	p, ok := d.Profiles[name]
	if !ok {
		return nil, Configf(d.Name, "unknown profile %q", name)
	}
	c := d.Clone()
	for _, r := range p.Requires {
		i := slices.IndexFunc(c.Requires, func(x Requirement) bool { return x.Name == r.Name })
		if i >= 0 {
			c.Requires[i] = r
		} else {
			c.Requires = append(c.Requires, r)
		}
	}
	if c.DependencyOptions == nil && len(p.DependencyOptions) > 0 {
		c.DependencyOptions = OptionMatrix{}
	}
	for dep, opts := range p.DependencyOptions {
		if c.DependencyOptions[dep] == nil {
			c.DependencyOptions[dep] = map[string]string{}
		}
		maps.Copy(c.DependencyOptions[dep], opts)
	}
	return c, nil
}

// ProfileNames returns the declared profile names in sorted order.
func (d *Descriptor) ProfileNames() []string {
	return slices.Sorted(maps.Keys(d.Profiles))
}
