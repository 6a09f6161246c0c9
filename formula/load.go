package formula

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/zenplay/zpkg/pkgs/mod/constraint"
)

// DescriptorFiles are the file names looked up when Load is given a directory.
var DescriptorFiles = []string{"zpkg.toml", "zpkg.yaml", "zpkg.yml"}

var defaultSettings = []string{SettingOS, SettingCompiler, SettingBuildType, SettingArch}

type rawOption struct {
	Values    []any    `toml:"values" yaml:"values"`
	Default   any      `toml:"default" yaml:"default"`
	OnlyOS    []string `toml:"only_os" yaml:"only_os"`
	ExcludeOS []string `toml:"exclude_os" yaml:"exclude_os"`
}

type rawPackaging struct {
	Headers        []string `toml:"headers" yaml:"headers"`
	HeaderRoot     string   `toml:"header_root" yaml:"header_root"`
	IncludeDir     string   `toml:"include_dir" yaml:"include_dir"`
	Implementation []string `toml:"implementation" yaml:"implementation"`
	DebugSymbols   bool     `toml:"debug_symbols" yaml:"debug_symbols"`
	Libs           []string `toml:"libs" yaml:"libs"`
}

type rawProfile struct {
	Requires          []string                  `toml:"requires" yaml:"requires"`
	TestRequires      []string                  `toml:"test_requires" yaml:"test_requires"`
	DependencyOptions map[string]map[string]any `toml:"dependency_options" yaml:"dependency_options"`
}

type rawDescriptor struct {
	Name              string                               `toml:"name" yaml:"name"`
	User              string                               `toml:"user" yaml:"user"`
	Version           string                               `toml:"version" yaml:"version"`
	VersionFile       string                               `toml:"version_file" yaml:"version_file"`
	Type              string                               `toml:"package_type" yaml:"package_type"`
	Description       string                               `toml:"description" yaml:"description"`
	URL               string                               `toml:"url" yaml:"url"`
	Author            string                               `toml:"author" yaml:"author"`
	License           string                               `toml:"license" yaml:"license"`
	Settings          []string                             `toml:"settings" yaml:"settings"`
	Options           map[string]rawOption                 `toml:"options" yaml:"options"`
	DependencyOptions map[string]map[string]any            `toml:"dependency_options" yaml:"dependency_options"`
	PlatformOptions   map[string]map[string]map[string]any `toml:"platform_options" yaml:"platform_options"`
	Requires          []string                             `toml:"requires" yaml:"requires"`
	TestRequires      []string                             `toml:"test_requires" yaml:"test_requires"`
	ExportsSources    []string                             `toml:"exports_sources" yaml:"exports_sources"`
	CachePolicy       string                               `toml:"cache_policy" yaml:"cache_policy"`
	BuildSystem       string                               `toml:"build_system" yaml:"build_system"`
	Generator         string                               `toml:"generator" yaml:"generator"`
	Package           rawPackaging                         `toml:"package" yaml:"package"`
	Profiles          map[string]rawProfile                `toml:"profiles" yaml:"profiles"`
	Versions          []string                             `toml:"versions" yaml:"versions"`
}

// -----------------------------------------------------------------------------

// Find returns the descriptor file for path. If path is a directory, the
// first existing name of DescriptorFiles inside it is returned.
func Find(path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !fi.IsDir() {
		return path, nil
	}
	for _, name := range DescriptorFiles {
		file := filepath.Join(path, name)
		if _, err := os.Stat(file); err == nil {
			return file, nil
		}
	}
	return "", fmt.Errorf("no descriptor (%s) in %s: %w", strings.Join(DescriptorFiles, ", "), path, fs.ErrNotExist)
}

// Load reads the descriptor at path (a file or a directory holding one).
// Every problem with its content is reported as a *ConfigurationError.
func Load(path string) (*Descriptor, error) {
	file, err := Find(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	dir, err := filepath.Abs(filepath.Dir(file))
	if err != nil {
		return nil, err
	}
	return Parse(file, data, dir)
}

// Parse decodes descriptor data. file selects the format by extension and is
// used in error messages; dir becomes Descriptor.Dir.
func Parse(file string, data []byte, dir string) (*Descriptor, error) {
	var raw rawDescriptor
	switch strings.ToLower(filepath.Ext(file)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&raw); err != nil {
			return nil, &ConfigurationError{Reason: "decode " + file, Err: err}
		}
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&raw); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return nil, &ConfigurationError{Reason: "decode " + file, Err: errors.New(strict.String())}
			}
			return nil, &ConfigurationError{Reason: "decode " + file, Err: err}
		}
	default:
		return nil, Configf("", "unsupported descriptor format %q", file)
	}
	d, err := raw.descriptor()
	if err != nil {
		return nil, err
	}
	d.Dir = dir
	return d, nil
}

// -----------------------------------------------------------------------------

func (r *rawDescriptor) descriptor() (*Descriptor, error) {
	if r.Name == "" {
		return nil, Configf("", "descriptor has no name")
	}
	d := &Descriptor{
		Name:           r.Name,
		User:           r.User,
		Version:        r.Version,
		VersionFile:    r.VersionFile,
		Type:           PackageType(r.Type),
		Description:    r.Description,
		URL:            r.URL,
		Author:         r.Author,
		License:        r.License,
		Settings:       r.Settings,
		ExportsSources: r.ExportsSources,
		CachePolicy:    CachePolicy(r.CachePolicy),
		BuildSystem:    r.BuildSystem,
		Generator:      r.Generator,
		Versions:       r.Versions,
		Packaging: Packaging{
			Headers:        r.Package.Headers,
			HeaderRoot:     r.Package.HeaderRoot,
			IncludeDir:     r.Package.IncludeDir,
			Implementation: r.Package.Implementation,
			DebugSymbols:   r.Package.DebugSymbols,
			Libs:           r.Package.Libs,
		},
	}
	if d.Version != "" && d.VersionFile != "" {
		return nil, Configf(d.Name, "both version and version_file are set")
	}
	switch d.Type {
	case "":
		d.Type = Application
	case Application, Library, HeaderLibrary:
	default:
		return nil, Configf(d.Name, "unknown package_type %q", r.Type)
	}
	switch d.CachePolicy {
	case "":
		d.CachePolicy = CacheFull
	case CacheFull, CacheIgnoreDependencies:
	default:
		return nil, Configf(d.Name, "unknown cache_policy %q", r.CachePolicy)
	}
	switch d.BuildSystem {
	case "":
		d.BuildSystem = CMake
	case CMake, Autotools:
	default:
		return nil, Configf(d.Name, "unknown build_system %q", r.BuildSystem)
	}
	if d.Type.HeaderOnly() && len(d.Packaging.Libs) > 0 {
		return nil, Configf(d.Name, "header-library packages cannot declare libs")
	}

	if d.Version != "" && !constraint.IsValid(d.Version) {
		return nil, Configf(d.Name, "invalid version %q", d.Version)
	}
	for _, v := range d.Versions {
		if !constraint.IsValid(v) {
			return nil, Configf(d.Name, "invalid version %q in versions", v)
		}
	}

	if d.Settings == nil {
		d.Settings = slices.Clone(defaultSettings)
	}
	for _, axis := range d.Settings {
		if !slices.Contains(defaultSettings, axis) {
			return nil, Configf(d.Name, "unknown settings axis %q", axis)
		}
	}

	var err error
	if d.Options, err = optionDefs(d.Name, r.Options); err != nil {
		return nil, err
	}
	if d.DependencyOptions, err = optionMatrix(d.Name, r.DependencyOptions); err != nil {
		return nil, err
	}
	for os, raw := range r.PlatformOptions {
		if !slices.Contains(allowedSettings[SettingOS], os) {
			return nil, Configf(d.Name, "unknown os %q in platform_options", os)
		}
		m, err := optionMatrix(d.Name, raw)
		if err != nil {
			return nil, err
		}
		if d.PlatformOptions == nil {
			d.PlatformOptions = map[string]OptionMatrix{}
		}
		d.PlatformOptions[os] = m
	}
	if d.Requires, err = requirements(d.Name, r.Requires, r.TestRequires); err != nil {
		return nil, err
	}
	if len(r.Profiles) > 0 {
		d.Profiles = make(map[string]Profile, len(r.Profiles))
		for name, rp := range r.Profiles {
			var p Profile
			if p.Requires, err = requirements(d.Name, rp.Requires, rp.TestRequires); err != nil {
				return nil, fmt.Errorf("profile %s: %w", name, err)
			}
			if p.DependencyOptions, err = optionMatrix(d.Name, rp.DependencyOptions); err != nil {
				return nil, fmt.Errorf("profile %s: %w", name, err)
			}
			d.Profiles[name] = p
		}
	}
	return d, nil
}

func optionDefs(pkg string, raw map[string]rawOption) (map[string]OptionDef, error) {
	defs := make(map[string]OptionDef, len(raw))
	for name, ro := range raw {
		def := OptionDef{OnlyOS: ro.OnlyOS, ExcludeOS: ro.ExcludeOS}
		for _, v := range ro.Values {
			s, err := NormalizeValue(v)
			if err != nil {
				return nil, &ConfigurationError{Package: pkg, Option: name, Reason: "bad value", Err: err}
			}
			def.Values = append(def.Values, s)
		}
		if ro.Default == nil {
			return nil, &ConfigurationError{Package: pkg, Option: name, Reason: "no default value"}
		}
		s, err := NormalizeValue(ro.Default)
		if err != nil {
			return nil, &ConfigurationError{Package: pkg, Option: name, Reason: "bad default", Err: err}
		}
		if !def.Allows(s) {
			return nil, &ConfigurationError{Package: pkg, Option: name, Reason: fmt.Sprintf("default %q is not an allowed value", s)}
		}
		def.Default = s
		for _, o := range slices.Concat(def.OnlyOS, def.ExcludeOS) {
			if !slices.Contains(allowedSettings[SettingOS], o) {
				return nil, &ConfigurationError{Package: pkg, Option: name, Reason: fmt.Sprintf("unknown os %q", o)}
			}
		}
		defs[name] = def
	}
	return defs, nil
}

func optionMatrix(pkg string, raw map[string]map[string]any) (OptionMatrix, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	m := make(OptionMatrix, len(raw))
	for dep, opts := range raw {
		if dep == pkg {
			return nil, Configf(pkg, "dependency_options cannot target the package itself")
		}
		m[dep] = make(map[string]string, len(opts))
		for name, v := range opts {
			s, err := NormalizeValue(v)
			if err != nil {
				return nil, &ConfigurationError{Package: pkg, Option: dep + ":" + name, Reason: "bad value", Err: err}
			}
			m[dep][name] = s
		}
	}
	return m, nil
}

func requirements(pkg string, requires, testRequires []string) ([]Requirement, error) {
	var out []Requirement
	seen := map[string]bool{}
	add := func(refs []string, test bool) error {
		for _, ref := range refs {
			r, err := ParseRequirement(ref, test)
			if err != nil {
				return &ConfigurationError{Package: pkg, Reason: "invalid requirement", Err: err}
			}
			if r.Name == pkg {
				return Configf(pkg, "package requires itself")
			}
			if seen[r.Name] {
				return Configf(pkg, "duplicate requirement on %s", r.Name)
			}
			seen[r.Name] = true
			out = append(out, r)
		}
		return nil
	}
	if err := add(requires, false); err != nil {
		return nil, err
	}
	if err := add(testRequires, true); err != nil {
		return nil, err
	}
	return out, nil
}
