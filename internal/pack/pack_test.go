package pack

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/zenplay/zpkg/formula"
	"github.com/zenplay/zpkg/pkgs/mod/module"
)

// fakeInstaller copies a prepared install tree into the prefix.
type fakeInstaller struct {
	files    map[string]string
	installs int
}

func (f *fakeInstaller) Configure(args ...string) error { return nil }
func (f *fakeInstaller) Build(args ...string) error     { return nil }

func (f *fakeInstaller) Install(prefix string, args ...string) error {
	f.installs++
	for name, content := range f.files {
		if err := writeFile(filepath.Join(prefix, name), content); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(name, content string) error {
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return err
	}
	return os.WriteFile(name, []byte(content), 0o644)
}

func mustWrite(t *testing.T, name, content string) {
	t.Helper()
	if err := writeFile(name, content); err != nil {
		t.Fatal(err)
	}
}

func linux() formula.Settings {
	return formula.Settings{OS: "Linux", Arch: "x86_64", Compiler: "gcc", CompilerVersion: "13", CppStd: "17", BuildType: "Release"}
}

func windows() formula.Settings {
	return formula.Settings{OS: "Windows", Arch: "x86_64", Compiler: "msvc", CompilerVersion: "194", CppStd: "17", BuildType: "Debug"}
}

func lokiRequest(t *testing.T, settings formula.Settings) (Request, *fakeInstaller) {
	t.Helper()
	tmp := t.TempDir()
	src := filepath.Join(tmp, "src")
	mustWrite(t, filepath.Join(src, "include", "loki.h"), "#pragma once\n")
	mustWrite(t, filepath.Join(src, "include", "detail", "impl.h"), "#pragma once\n")
	inst := &fakeInstaller{files: map[string]string{
		"lib/libloki.a":    "archive",
		"lib/libloki.so.1": "shared",
		"lib/README":       "not a library",
	}}
	d := &formula.Descriptor{
		Name:     "loki",
		Version:  "1.0.0",
		Type:     formula.Library,
		Settings: []string{"os", "arch", "compiler", "build_type"},
		Packaging: formula.Packaging{
			Headers:    []string{"**/*.h"},
			HeaderRoot: "include",
		},
	}
	return Request{
		Descriptor: d,
		Settings:   settings,
		Options:    formula.NewOptionSet(map[string]string{"shared": "False"}),
		Requires:   []module.Version{{Path: "fmt", Version: "10.2.1"}},
		SourceDir:  src,
		BuildDir:   filepath.Join(src, "build"),
		PackageDir: filepath.Join(tmp, "package"),
		Installer:  inst,
	}, inst
}

func TestPackageLibrary(t *testing.T) {
	req, inst := lokiRequest(t, linux())
	info, err := Package(req)
	if err != nil {
		t.Fatalf("Package: %v", err)
	}
	if inst.installs != 1 {
		t.Fatalf("installs = %d, want 1", inst.installs)
	}
	if !reflect.DeepEqual(info.Libs, []string{"loki"}) {
		t.Fatalf("Libs = %q", info.Libs)
	}
	if !reflect.DeepEqual(info.LibDirs, []string{"lib"}) || !reflect.DeepEqual(info.IncludeDirs, []string{"include"}) {
		t.Fatalf("dirs = %q %q", info.LibDirs, info.IncludeDirs)
	}
	wantHeaders := []string{"include/loki/detail/impl.h", "include/loki/loki.h"}
	if !reflect.DeepEqual(info.Artifacts.Headers, wantHeaders) {
		t.Fatalf("headers = %q, want %q", info.Artifacts.Headers, wantHeaders)
	}
	if _, err := os.Stat(filepath.Join(req.PackageDir, "include", "loki", "detail", "impl.h")); err != nil {
		t.Fatalf("header not copied: %v", err)
	}
	if info.Settings["os"] != "Linux" || info.Options["shared"] != "False" {
		t.Fatalf("settings/options = %v %v", info.Settings, info.Options)
	}
	if !reflect.DeepEqual(info.Requires, []string{"fmt/10.2.1"}) {
		t.Fatalf("Requires = %q", info.Requires)
	}

	read, err := ReadInfo(req.PackageDir)
	if err != nil {
		t.Fatalf("ReadInfo: %v", err)
	}
	if !reflect.DeepEqual(read, info) {
		t.Fatalf("ReadInfo = %+v, want %+v", read, info)
	}
}

func TestPackageIdempotent(t *testing.T) {
	req, _ := lokiRequest(t, linux())
	snapshot := func() map[string]string {
		files := map[string]string{}
		filepath.WalkDir(req.PackageDir, func(p string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			data, _ := os.ReadFile(p)
			rel, _ := filepath.Rel(req.PackageDir, p)
			files[filepath.ToSlash(rel)] = string(data)
			return nil
		})
		return files
	}

	if _, err := Package(req); err != nil {
		t.Fatalf("first Package: %v", err)
	}
	first := snapshot()
	// a leftover from a previous run must not survive
	mustWrite(t, filepath.Join(req.PackageDir, "lib", "stale.a"), "stale")
	if _, err := Package(req); err != nil {
		t.Fatalf("second Package: %v", err)
	}
	second := snapshot()
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("package differs between runs:\n%v\n%v", first, second)
	}
}

func TestPackageHeaderOnly(t *testing.T) {
	for _, settings := range []formula.Settings{linux(), windows()} {
		t.Run(settings.OS, func(t *testing.T) {
			tmp := t.TempDir()
			src := filepath.Join(tmp, "src")
			mustWrite(t, filepath.Join(src, "include", "json.hpp"), "// json\n")
			mustWrite(t, filepath.Join(src, "src", "json.cpp"), "// impl\n")
			d := &formula.Descriptor{
				Name:    "nlohmann_json",
				Version: "3.11.3",
				Type:    formula.HeaderLibrary,
				Packaging: formula.Packaging{
					Headers:        []string{"*.hpp"},
					HeaderRoot:     "include",
					Implementation: []string{"src/*.cpp"},
					DebugSymbols:   true,
				},
			}
			info, err := Package(Request{
				Descriptor: d,
				Settings:   settings,
				SourceDir:  src,
				PackageDir: filepath.Join(tmp, "package"),
			})
			if err != nil {
				t.Fatalf("Package: %v", err)
			}
			data, err := os.ReadFile(filepath.Join(tmp, "package", InfoFile))
			if err != nil {
				t.Fatal(err)
			}
			for _, want := range []string{`"lib_dirs": []`, `"bin_dirs": []`, `"libs": []`} {
				if !bytes.Contains(data, []byte(want)) {
					t.Fatalf("metadata lacks %s:\n%s", want, data)
				}
			}
			if len(info.Settings) != 0 {
				t.Fatalf("header-only settings = %v", info.Settings)
			}
			if _, err := os.Stat(filepath.Join(tmp, "package", "src", "nlohmann_json", "src", "json.cpp")); err != nil {
				t.Fatalf("implementation not copied: %v", err)
			}
		})
	}
}

func TestPackageIncludeDir(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "src")
	mustWrite(t, filepath.Join(src, "src", "module.h"), "#pragma once\n")
	mustWrite(t, filepath.Join(src, "src", "module.cpp"), "// not exported\n")
	d := &formula.Descriptor{
		Name:      "loki_module",
		Version:   "1.0.0",
		Type:      formula.HeaderLibrary,
		Packaging: formula.Packaging{Headers: []string{"*.h"}, HeaderRoot: "src", IncludeDir: "loki"},
	}
	info, err := Package(Request{Descriptor: d, Settings: linux(), SourceDir: src, PackageDir: filepath.Join(tmp, "package")})
	if err != nil {
		t.Fatalf("Package: %v", err)
	}
	if want := []string{"include/loki/module.h"}; !reflect.DeepEqual(info.Artifacts.Headers, want) {
		t.Fatalf("headers = %q, want %q", info.Artifacts.Headers, want)
	}
	if _, err := os.Stat(filepath.Join(tmp, "package", "include", "loki", "module.h")); err != nil {
		t.Fatalf("header not copied: %v", err)
	}
}

func TestPackageDebugSymbolsFlattened(t *testing.T) {
	req, _ := lokiRequest(t, windows())
	req.Descriptor.Packaging.DebugSymbols = true
	req.Installer.(*fakeInstaller).files = map[string]string{"lib/loki.lib": "import"}
	dbg := filepath.Join(req.BuildDir, "Debug")
	mustWrite(t, filepath.Join(dbg, "loki.pdb"), "pdb")
	mustWrite(t, filepath.Join(dbg, "loki.dir", "Debug", "vc143.pdb"), "pdb")
	mustWrite(t, filepath.Join(req.BuildDir, "Release", "ignored.pdb"), "pdb")

	info, err := Package(req)
	if err != nil {
		t.Fatalf("Package: %v", err)
	}
	want := []string{"lib/loki.pdb", "lib/vc143.pdb"}
	if !reflect.DeepEqual(info.Artifacts.DebugSymbols, want) {
		t.Fatalf("debug symbols = %q, want %q", info.Artifacts.DebugSymbols, want)
	}
	entries, err := os.ReadDir(filepath.Join(req.PackageDir, "lib"))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.IsDir() {
			t.Fatalf("nested directory %s in lib/", e.Name())
		}
	}
	if !reflect.DeepEqual(info.Libs, []string{"loki"}) {
		t.Fatalf("Libs = %q", info.Libs)
	}
}

func TestPackageDebugSymbolsOptionalInRelease(t *testing.T) {
	for _, buildType := range []string{"Release", "MinSizeRel"} {
		t.Run(buildType, func(t *testing.T) {
			s := windows()
			s.BuildType = buildType
			req, _ := lokiRequest(t, s)
			req.Descriptor.Packaging.DebugSymbols = true
			req.Installer.(*fakeInstaller).files = map[string]string{"lib/loki.lib": "import"}

			info, err := Package(req)
			if err != nil {
				t.Fatalf("Package: %v", err)
			}
			if len(info.Artifacts.DebugSymbols) != 0 || !reflect.DeepEqual(info.Libs, []string{"loki"}) {
				t.Fatalf("info = %+v", info)
			}
		})
	}
}

func TestPackageErrors(t *testing.T) {
	tests := []struct {
		name     string
		settings formula.Settings
		modify   func(*Request)
		artifact string
	}{
		{
			name:     "missing debug symbols in a debug build",
			settings: windows(),
			modify:   func(r *Request) { r.Descriptor.Packaging.DebugSymbols = true },
			artifact: "debug symbols",
		},
		{
			name:     "duplicate debug symbol names",
			settings: windows(),
			modify: func(r *Request) {
				r.Descriptor.Packaging.DebugSymbols = true
				mustWrite(t, filepath.Join(r.BuildDir, "Debug", "a", "x.pdb"), "1")
				mustWrite(t, filepath.Join(r.BuildDir, "Debug", "b", "x.pdb"), "2")
			},
			artifact: "debug symbols",
		},
		{
			name:     "declared library missing",
			settings: linux(),
			modify:   func(r *Request) { r.Descriptor.Packaging.Libs = []string{"loki", "loki_extra"} },
			artifact: "library loki_extra",
		},
		{
			name:     "no library installed",
			settings: linux(),
			modify:   func(r *Request) { r.Installer.(*fakeInstaller).files = nil },
			artifact: "libraries",
		},
		{
			name:     "no header matches",
			settings: linux(),
			modify:   func(r *Request) { r.Descriptor.Packaging.Headers = []string{"*.hpp"} },
			artifact: "headers",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := lokiRequest(t, tt.settings)
			tt.modify(&req)
			_, err := Package(req)
			var pe *formula.PackagingError
			if !errors.As(err, &pe) {
				t.Fatalf("error = %v, want PackagingError", err)
			}
			if pe.Artifact != tt.artifact || pe.Package != "loki" {
				t.Fatalf("PackagingError = %+v, want artifact %q", pe, tt.artifact)
			}
		})
	}
}

func TestLinkName(t *testing.T) {
	tests := []struct {
		file string
		name string
		ok   bool
	}{
		{"libavcodec.a", "avcodec", true},
		{"libavcodec.so.60", "avcodec", true},
		{"libSDL2.dylib", "SDL2", true},
		{"loki.lib", "loki", true},
		{"libloki.lib", "libloki", true},
		{"loki.pdb", "", false},
		{"lib.a", "", false},
	}
	for _, tt := range tests {
		name, ok := LinkName(tt.file)
		if name != tt.name || ok != tt.ok {
			t.Errorf("LinkName(%q) = %q, %v; want %q, %v", tt.file, name, ok, tt.name, tt.ok)
		}
	}
}

func TestID(t *testing.T) {
	lib := &formula.Descriptor{Name: "loki", Version: "1.0.0", Type: formula.Library, Settings: []string{"os", "build_type"}}
	opts := formula.NewOptionSet(map[string]string{"shared": "False"})
	deps := []module.Version{{Path: "fmt", Version: "10.2.1"}, {Path: "spdlog", Version: "1.13.0"}}
	base := ID(lib, linux(), opts, deps)
	if len(base) != 40 || strings.Trim(base, "0123456789abcdef") != "" {
		t.Fatalf("ID = %q", base)
	}

	reordered := []module.Version{deps[1], deps[0]}
	if got := ID(lib, linux(), opts, reordered); got != base {
		t.Fatalf("ID depends on dependency order")
	}
	bumped := []module.Version{{Path: "fmt", Version: "10.2.2"}, deps[1]}
	if ID(lib, linux(), opts, bumped) == base {
		t.Fatalf("dependency change did not change ID under full policy")
	}
	if ID(lib, linux(), formula.NewOptionSet(map[string]string{"shared": "True"}), deps) == base {
		t.Fatalf("option change did not change ID")
	}
	debug := linux()
	debug.BuildType = "Debug"
	if ID(lib, debug, opts, deps) == base {
		t.Fatalf("build type change did not change ID")
	}
	arch := linux()
	arch.Arch = "armv8"
	if ID(lib, arch, opts, deps) != base {
		t.Fatalf("undeclared setting axis changed ID")
	}

	ignoring := lib.Clone()
	ignoring.CachePolicy = formula.CacheIgnoreDependencies
	if ID(ignoring, linux(), opts, deps) != ID(ignoring, linux(), opts, bumped) {
		t.Fatalf("dependency change altered ID under ignore-dependencies")
	}

	header := &formula.Descriptor{Name: "nlohmann_json", Version: "3.11.3", Type: formula.HeaderLibrary, Settings: []string{"os"}}
	if ID(header, linux(), formula.OptionSet{}, nil) != ID(header, windows(), formula.OptionSet{}, nil) {
		t.Fatalf("header-only ID depends on settings")
	}
}
