package layout

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/zenplay/zpkg/formula"
	"github.com/zenplay/zpkg/internal/pack"
)

func host(buildType string) formula.Settings {
	s := formula.HostSettings()
	s.BuildType = buildType
	return s
}

func deps(dir string) []Dependency {
	return []Dependency{
		{
			Dir: filepath.Join(dir, "spdlog"),
			Info: &pack.Info{
				Name: "spdlog", Version: "1.13.0", PackageID: "bbb",
				IncludeDirs: []string{"include"}, LibDirs: []string{"lib"}, BinDirs: []string{"bin"},
				Libs: []string{"spdlog"},
			},
		},
		{
			Dir: filepath.Join(dir, "nlohmann_json"),
			Info: &pack.Info{
				Name: "nlohmann_json", Version: "3.11.3", PackageID: "aaa",
				IncludeDirs: []string{"include"}, LibDirs: []string{}, BinDirs: []string{},
				Libs: []string{},
			},
		},
	}
}

func TestNewSeparatesConfigurations(t *testing.T) {
	linux := formula.Settings{OS: "Linux", Arch: "x86_64", Compiler: "gcc", CompilerVersion: "13", CppStd: "17", BuildType: "Release"}
	l := New("/src/loki", linux)
	want := filepath.Join("/src/loki", "build", "linux-x86_64-gcc13-cpp17", "Release")
	if l.BuildDir != want {
		t.Fatalf("BuildDir = %q, want %q", l.BuildDir, want)
	}
	if l.GeneratorsDir != filepath.Join(want, "generators") || l.PackageDir != filepath.Join(want, "package") {
		t.Fatalf("layout = %+v", l)
	}

	seen := map[string]bool{l.BuildDir: true}
	debug := linux
	debug.BuildType = "Debug"
	arm := linux
	arm.Arch = "armv8"
	clang := linux
	clang.Compiler, clang.CompilerVersion = "clang", "17"
	cpp20 := linux
	cpp20.CppStd = "20"
	for _, s := range []formula.Settings{debug, arm, clang, cpp20} {
		dir := New("/src/loki", s).BuildDir
		if seen[dir] {
			t.Fatalf("%+v shares build dir %s", s, dir)
		}
		seen[dir] = true
	}
}

func TestGenerate(t *testing.T) {
	tmp := t.TempDir()
	l := New(tmp, host("Release"))
	opts := formula.NewOptionSet(map[string]string{"shared": "False", "fPIC": "True"})

	written, err := Generate(l, host("Release"), opts, deps(tmp))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	want := []string{
		"nlohmann_json-config-version.cmake",
		"nlohmann_json-config.cmake",
		"nlohmann_json-data.json",
		"spdlog-config-version.cmake",
		"spdlog-config.cmake",
		"spdlog-data.json",
		ToolchainFile,
	}
	if !reflect.DeepEqual(written, want) {
		t.Fatalf("written = %q, want %q", written, want)
	}

	tc, err := os.ReadFile(l.Toolchain())
	if err != nil {
		t.Fatal(err)
	}
	for _, snippet := range []string{
		`set(ZPKG_TARGET_TRIPLE "` + formula.HostSettings().Triple() + `")`,
		"set(CMAKE_CXX_STANDARD 17)",
		"set(CMAKE_POSITION_INDEPENDENT_CODE ON)",
		"set(BUILD_SHARED_LIBS OFF)",
		`list(APPEND CMAKE_PREFIX_PATH "` + filepath.ToSlash(filepath.Join(tmp, "nlohmann_json")) + `")`,
	} {
		if !strings.Contains(string(tc), snippet) {
			t.Fatalf("toolchain lacks %q:\n%s", snippet, tc)
		}
	}

	cfg, err := os.ReadFile(filepath.Join(l.GeneratorsDir, "spdlog-config.cmake"))
	if err != nil {
		t.Fatal(err)
	}
	for _, snippet := range []string{
		`set(spdlog_VERSION "1.13.0")`,
		`set(spdlog_LIB_DIRS "` + filepath.ToSlash(filepath.Join(tmp, "spdlog", "lib")) + `")`,
		"set(spdlog_LIBRARIES spdlog)",
		"add_library(spdlog::spdlog INTERFACE IMPORTED)",
		`INTERFACE_INCLUDE_DIRECTORIES "${spdlog_INCLUDE_DIRS}"`,
	} {
		if !strings.Contains(string(cfg), snippet) {
			t.Fatalf("config lacks %q:\n%s", snippet, cfg)
		}
	}

	header, err := os.ReadFile(filepath.Join(l.GeneratorsDir, "nlohmann_json-config.cmake"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(header), "set(nlohmann_json_LIB_DIRS)") {
		t.Fatalf("header-only dependency has lib dirs:\n%s", header)
	}
}

func TestGenerateIdempotent(t *testing.T) {
	tmp := t.TempDir()
	l := New(tmp, host("Debug"))
	if _, err := Generate(l, host("Debug"), formula.OptionSet{}, deps(tmp)); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(l.Toolchain(), old, old); err != nil {
		t.Fatal(err)
	}

	written, err := Generate(l, host("Debug"), formula.OptionSet{}, deps(tmp))
	if err != nil {
		t.Fatalf("second Generate: %v", err)
	}
	if len(written) != 0 {
		t.Fatalf("second run rewrote %q", written)
	}
	after, err := os.Stat(l.Toolchain())
	if err != nil {
		t.Fatal(err)
	}
	if !after.ModTime().Equal(old) {
		t.Fatalf("toolchain rewritten on unchanged input")
	}
}

func TestGenerateRemovesStaleDependencies(t *testing.T) {
	tmp := t.TempDir()
	l := New(tmp, host("Release"))
	all := deps(tmp)
	if _, err := Generate(l, host("Release"), formula.OptionSet{}, all); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := Generate(l, host("Release"), formula.OptionSet{}, all[:1]); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := os.Stat(filepath.Join(l.GeneratorsDir, "nlohmann_json-config.cmake")); !os.IsNotExist(err) {
		t.Fatalf("stale config kept: %v", err)
	}
	if _, err := os.Stat(filepath.Join(l.GeneratorsDir, "spdlog-data.json")); err != nil {
		t.Fatalf("current data removed: %v", err)
	}
}
