// Package pack gathers the artifacts of a successful build into a package
// folder and describes them with package metadata.
//
// Package folder layout:
//
//	<package>/
//	  include/<name>/       # exported headers
//	  src/<name>/           # implementation files of header-only packages
//	  lib/                  # libraries and flattened debug symbols
//	  bin/                  # executables and shared libraries on Windows
//	  package_info.json     # Info
package pack

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/zenplay/zpkg/formula"
	"github.com/zenplay/zpkg/pkgs/buildsys"
	"github.com/zenplay/zpkg/pkgs/mod/module"
)

// InfoFile is the name of the metadata file inside a package folder.
const InfoFile = "package_info.json"

// Artifacts lists the files the packager placed in a package folder,
// relative to it and sorted.
type Artifacts struct {
	Libraries    []string `json:"libraries"`
	Headers      []string `json:"headers"`
	DebugSymbols []string `json:"debug_symbols"`
}

// Info is the metadata a package advertises to its consumers. Slices are
// never nil so that an empty list is reported as [] rather than left unset.
type Info struct {
	Name        string              `json:"name"`
	Version     string              `json:"version"`
	User        string              `json:"user,omitempty"`
	PackageID   string              `json:"package_id"`
	PackageType formula.PackageType `json:"package_type"`
	Settings    map[string]string   `json:"settings"`
	Options     map[string]string   `json:"options"`
	Requires    []string            `json:"requires"`
	Libs        []string            `json:"libs"`
	IncludeDirs []string            `json:"include_dirs"`
	LibDirs     []string            `json:"lib_dirs"`
	BinDirs     []string            `json:"bin_dirs"`
	Artifacts   Artifacts           `json:"artifacts"`
}

// Ref returns the package reference.
func (i *Info) Ref() module.Version {
	return module.Version{Path: i.Name, Version: i.Version, User: i.User}
}

// ReadInfo reads the metadata of the package folder dir.
func ReadInfo(dir string) (*Info, error) {
	data, err := os.ReadFile(filepath.Join(dir, InfoFile))
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Join(dir, InfoFile), err)
	}
	return &info, nil
}

// Request describes one packaging run.
type Request struct {
	// Descriptor is the package descriptor with its version resolved.
	Descriptor *formula.Descriptor
	Settings   formula.Settings
	Options    formula.OptionSet
	Requires   []module.Version // resolved runtime dependencies

	SourceDir  string
	BuildDir   string
	PackageDir string

	// Installer installs the build outputs into PackageDir. Header-only
	// packages never use it.
	Installer buildsys.BuildSystem
}

// Package fills req.PackageDir from a finished build and writes its
// metadata. The package folder is recreated from scratch, so packaging the
// same build twice gives byte-identical results.
func Package(req Request) (*Info, error) {
	d := req.Descriptor
	perr := func(artifact, reason string, err error) error {
		return &formula.PackagingError{Package: d.Name, Artifact: artifact, Reason: reason, Err: err}
	}

	if err := os.RemoveAll(req.PackageDir); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(req.PackageDir, 0o755); err != nil {
		return nil, err
	}

	headerOnly := d.Type.HeaderOnly()
	if !headerOnly {
		if req.Installer == nil {
			return nil, fmt.Errorf("packaging %s: no build system to install from", d.Name)
		}
		if err := req.Installer.Install(req.PackageDir); err != nil {
			return nil, err
		}
	}

	var arts Artifacts
	pkg := d.Packaging

	if len(pkg.Headers) > 0 {
		root := filepath.Join(req.SourceDir, filepath.FromSlash(pkg.HeaderRoot))
		sub := pkg.HeaderDir(d.Name)
		copied, err := copyGlob(root, pkg.Headers, filepath.Join(req.PackageDir, "include", filepath.FromSlash(sub)))
		if err != nil {
			return nil, perr("headers", "cannot copy", err)
		}
		if len(copied) == 0 {
			return nil, perr("headers", fmt.Sprintf("no file matches %s under %s", strings.Join(pkg.Headers, ", "), root), nil)
		}
		for _, f := range copied {
			arts.Headers = append(arts.Headers, path.Join("include", sub, f))
		}
	}

	if len(pkg.Implementation) > 0 {
		copied, err := copyGlob(req.SourceDir, pkg.Implementation, filepath.Join(req.PackageDir, "src", d.Name))
		if err != nil {
			return nil, perr("implementation", "cannot copy", err)
		}
		if len(copied) == 0 {
			return nil, perr("implementation", "no file matches "+strings.Join(pkg.Implementation, ", "), nil)
		}
	}

	if req.Settings.OS == "Windows" && pkg.DebugSymbols && !headerOnly {
		dir := filepath.Join(req.BuildDir, req.Settings.BuildType)
		pdbs, err := copyDebugSymbols(dir, filepath.Join(req.PackageDir, "lib"))
		if err != nil {
			return nil, perr("debug symbols", err.Error(), nil)
		}
		if len(pdbs) == 0 && symbolsExpected(req.Settings.BuildType) {
			return nil, perr("debug symbols", fmt.Sprintf("no *.pdb file under %s for build type %s", dir, req.Settings.BuildType), nil)
		}
		arts.DebugSymbols = pdbs
	}

	info := &Info{
		Name:        d.Name,
		Version:     d.Version,
		User:        d.User,
		PackageID:   ID(d, req.Settings, req.Options, req.Requires),
		PackageType: d.Type,
		Settings:    map[string]string{},
		Options:     map[string]string{},
		Requires:    []string{},
		Libs:        []string{},
		IncludeDirs: []string{"include"},
		LibDirs:     []string{},
		BinDirs:     []string{},
	}
	if !headerOnly {
		for _, kv := range req.Settings.Axes(d.Settings) {
			k, v, _ := strings.Cut(kv, "=")
			info.Settings[k] = v
		}
	}
	for _, name := range req.Options.Names() {
		info.Options[name], _ = req.Options.Get(name)
	}
	for _, r := range req.Requires {
		info.Requires = append(info.Requires, r.String())
	}
	slices.Sort(info.Requires)

	if !headerOnly {
		found, files, err := libraries(filepath.Join(req.PackageDir, "lib"))
		if err != nil {
			return nil, perr("libraries", "cannot list", err)
		}
		libs, err := selectLibs(d, found)
		if err != nil {
			return nil, err
		}
		info.Libs = libs
		info.LibDirs = []string{"lib"}
		info.BinDirs = []string{"bin"}
		arts.Libraries = files
	}

	info.Artifacts = Artifacts{
		Libraries:    nonNil(arts.Libraries),
		Headers:      nonNil(arts.Headers),
		DebugSymbols: nonNil(arts.DebugSymbols),
	}
	if err := writeInfo(req.PackageDir, info); err != nil {
		return nil, err
	}
	return info, nil
}

func selectLibs(d *formula.Descriptor, found []string) ([]string, error) {
	if len(d.Packaging.Libs) > 0 {
		for _, want := range d.Packaging.Libs {
			if !slices.Contains(found, want) {
				return nil, &formula.PackagingError{
					Package:  d.Name,
					Artifact: "library " + want,
					Reason:   "declared but not installed into lib/",
				}
			}
		}
		// declared order is the link order
		return slices.Clone(d.Packaging.Libs), nil
	}
	if len(found) == 0 && d.Type == formula.Library {
		return nil, &formula.PackagingError{Package: d.Name, Artifact: "libraries", Reason: "no library was installed into lib/"}
	}
	return found, nil
}

func writeInfo(dir string, info *Info) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(filepath.Join(dir, InfoFile), data, 0o644)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	slices.Sort(s)
	return s
}

// libraries returns the sorted link names and file names of the libraries
// directly inside dir. A missing dir has no libraries.
func libraries(dir string) (names, files []string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if name, ok := LinkName(e.Name()); ok {
			names = append(names, name)
			files = append(files, path.Join("lib", e.Name()))
		}
	}
	slices.Sort(names)
	return slices.Compact(names), files, nil
}

// LinkName returns the name a consumer links against for a library file:
// "libavcodec.a" and "libavcodec.so.60" give "avcodec", "loki.lib" gives
// "loki". ok is false when file is not a library.
func LinkName(file string) (name string, ok bool) {
	base := file
	if i := strings.Index(base, ".so."); i > 0 {
		base = base[:i] + ".so"
	}
	ext := filepath.Ext(base)
	switch ext {
	case ".a", ".so", ".dylib":
		name = strings.TrimPrefix(strings.TrimSuffix(base, ext), "lib")
	case ".lib":
		name = strings.TrimSuffix(base, ext)
	default:
		return "", false
	}
	if name == "" {
		return "", false
	}
	return name, true
}

// copyGlob copies the files under root matching patterns into dst, keeping
// their relative paths, and returns those paths.
func copyGlob(root string, patterns []string, dst string) ([]string, error) {
	p := &formula.Project{DirFS: os.DirFS(root)}
	files, err := p.Glob(patterns...)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if err := copyFile(filepath.Join(root, filepath.FromSlash(f)), filepath.Join(dst, filepath.FromSlash(f))); err != nil {
			return nil, err
		}
	}
	return files, nil
}

// symbolsExpected reports whether MSVC builds of buildType emit program
// databases with CMake's default flags.
func symbolsExpected(buildType string) bool {
	return buildType == "Debug" || buildType == "RelWithDebInfo"
}

// copyDebugSymbols copies every "*.pdb" below dir into lib, dropping the
// directories in between. Two symbol files with the same name would
// overwrite each other and are rejected.
func copyDebugSymbols(dir, lib string) ([]string, error) {
	p := &formula.Project{DirFS: os.DirFS(dir)}
	files, err := p.Glob("**/*.pdb")
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	seen := map[string]string{}
	var out []string
	for _, f := range files {
		base := path.Base(f)
		if prev, ok := seen[base]; ok {
			return nil, fmt.Errorf("%s and %s flatten to the same name", prev, f)
		}
		seen[base] = f
		if err := copyFile(filepath.Join(dir, filepath.FromSlash(f)), filepath.Join(lib, base)); err != nil {
			return nil, err
		}
		out = append(out, path.Join("lib", base))
	}
	return out, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	fi, err := in.Stat()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
