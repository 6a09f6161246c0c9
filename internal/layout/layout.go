// Package layout places the build output of a package configuration and
// generates the files the native build system reads: a toolchain file and
// one set of find-package files per dependency.
package layout

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"text/template"

	"github.com/zenplay/zpkg/formula"
	"github.com/zenplay/zpkg/internal/pack"
)

// ToolchainFile is the name of the generated toolchain file.
const ToolchainFile = "zpkg_toolchain.cmake"

// Layout is the directory structure of one settings configuration:
//
//	<source>/build/<os>-<arch>-<compiler><version>/<build_type>/
//	  generators/   # toolchain and dependency files
//	  package/      # package folder
//
// Configurations differing in any of these axes never share a directory.
type Layout struct {
	SourceDir     string
	BuildDir      string
	GeneratorsDir string
	PackageDir    string
}

// New returns the layout for building sourceDir with settings.
func New(sourceDir string, settings formula.Settings) Layout {
	build := filepath.Join(sourceDir, "build", settings.Key(), settings.BuildType)
	return Layout{
		SourceDir:     sourceDir,
		BuildDir:      build,
		GeneratorsDir: filepath.Join(build, "generators"),
		PackageDir:    filepath.Join(build, "package"),
	}
}

// Toolchain returns the path of the generated toolchain file.
func (l Layout) Toolchain() string {
	return filepath.Join(l.GeneratorsDir, ToolchainFile)
}

// Dependency is a resolved dependency available as a package folder.
type Dependency struct {
	Info *pack.Info
	Dir  string // package folder
}

// Generate writes the toolchain file for settings and opts (the options of
// the package being built) and the find-package files of every dependency
// into l.GeneratorsDir. Files whose content is unchanged are not rewritten
// and files left from dependencies no longer in deps are removed, so running
// Generate twice with the same input leaves the directory untouched.
//
// It returns the names of the files it wrote, sorted.
func Generate(l Layout, settings formula.Settings, opts formula.OptionSet, deps []Dependency) ([]string, error) {
	if err := os.MkdirAll(l.GeneratorsDir, 0o755); err != nil {
		return nil, err
	}
	deps = slices.Clone(deps)
	slices.SortFunc(deps, func(a, b Dependency) int { return strings.Compare(a.Info.Name, b.Info.Name) })

	files := map[string][]byte{}
	tc, err := toolchain(l, settings, opts, deps)
	if err != nil {
		return nil, err
	}
	files[ToolchainFile] = tc
	for _, dep := range deps {
		if err := dependencyFiles(files, dep); err != nil {
			return nil, err
		}
	}

	var written []string
	for _, name := range slices.Sorted(maps.Keys(files)) {
		changed, err := writeIfChanged(filepath.Join(l.GeneratorsDir, name), files[name])
		if err != nil {
			return nil, err
		}
		if changed {
			written = append(written, name)
		}
	}
	if err := removeStale(l.GeneratorsDir, files); err != nil {
		return nil, err
	}
	return written, nil
}

// -----------------------------------------------------------------------------

var toolchainTmpl = template.Must(template.New("toolchain").Parse(`# zpkg toolchain for {{.Triple}}. Generated, do not edit.
set(ZPKG_TARGET_TRIPLE "{{.Triple}}")
set(ZPKG_BUILD_TYPE "{{.BuildType}}")
{{- if .CMakeSystem}}
set(CMAKE_SYSTEM_NAME {{.CMakeSystem}})
set(CMAKE_SYSTEM_PROCESSOR {{.Processor}})
{{- end}}
{{- if .CompilerTarget}}
set(CMAKE_C_COMPILER_TARGET {{.CompilerTarget}})
set(CMAKE_CXX_COMPILER_TARGET {{.CompilerTarget}})
{{- end}}
{{- if .CppStd}}

set(CMAKE_CXX_STANDARD {{.CppStd}})
set(CMAKE_CXX_STANDARD_REQUIRED ON)
set(CMAKE_CXX_EXTENSIONS {{.Extensions}})
{{- end}}
{{- if .MSVCRuntime}}

set(CMAKE_MSVC_RUNTIME_LIBRARY "{{.MSVCRuntime}}")
{{- end}}
{{- if .StdLib}}

add_compile_options($<$<COMPILE_LANGUAGE:CXX>:{{.StdLib}}>)
add_link_options($<$<LINK_LANGUAGE:CXX>:{{.StdLib}}>)
{{- end}}
{{- if .PIC}}

set(CMAKE_POSITION_INDEPENDENT_CODE {{.PIC}})
{{- end}}
{{- if .Shared}}
set(BUILD_SHARED_LIBS {{.Shared}})
{{- end}}

list(PREPEND CMAKE_PREFIX_PATH "{{.Generators}}")
list(PREPEND CMAKE_MODULE_PATH "{{.Generators}}")
{{- range .Deps}}
list(APPEND CMAKE_PREFIX_PATH "{{.}}")
{{- end}}
set(CMAKE_FIND_PACKAGE_PREFER_CONFIG ON)
`))

type toolchainData struct {
	Triple         string
	BuildType      string
	CMakeSystem    string
	Processor      string
	CompilerTarget string
	CppStd         string
	Extensions     string
	MSVCRuntime    string
	StdLib         string
	PIC            string
	Shared         string
	Generators     string
	Deps           []string
}

func toolchain(l Layout, settings formula.Settings, opts formula.OptionSet, deps []Dependency) ([]byte, error) {
	data := toolchainData{
		Triple:     settings.Triple(),
		BuildType:  settings.BuildType,
		Generators: cmakePath(l.GeneratorsDir),
		Extensions: "OFF",
	}
	if settings.Cross() {
		data.CMakeSystem = map[string]string{"Windows": "Windows", "Linux": "Linux", "Macos": "Darwin"}[settings.OS]
		data.Processor = settings.Arch
	}
	if settings.Compiler == "clang" {
		data.CompilerTarget = settings.Triple()
	}
	if std, ok := strings.CutPrefix(settings.CppStd, "gnu"); ok {
		data.CppStd, data.Extensions = std, "ON"
	} else {
		data.CppStd = settings.CppStd
	}
	switch settings.Compiler {
	case "msvc":
		data.MSVCRuntime = "MultiThreaded$<$<CONFIG:Debug>:Debug>DLL"
	case "apple-clang":
		data.StdLib = "-stdlib=libc++"
	}
	if v, ok := opts.Bool("fPIC"); ok {
		data.PIC = onOff(v)
	}
	if v, ok := opts.Bool("shared"); ok {
		data.Shared = onOff(v)
	}
	for _, dep := range deps {
		data.Deps = append(data.Deps, cmakePath(dep.Dir))
	}
	var buf bytes.Buffer
	if err := toolchainTmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("toolchain: %w", err)
	}
	return buf.Bytes(), nil
}

func onOff(v bool) string {
	if v {
		return "ON"
	}
	return "OFF"
}

// -----------------------------------------------------------------------------

var configTmpl = template.Must(template.New("config").Parse(`# {{.Ref}} package {{.PackageID}}. Generated, do not edit.
set({{.Name}}_FOUND TRUE)
set({{.Name}}_VERSION "{{.Version}}")
set({{.Name}}_PACKAGE_FOLDER "{{.PackageFolder}}")
set({{.Name}}_INCLUDE_DIRS{{range .IncludeDirs}} "{{.}}"{{end}})
set({{.Name}}_LIB_DIRS{{range .LibDirs}} "{{.}}"{{end}})
set({{.Name}}_BIN_DIRS{{range .BinDirs}} "{{.}}"{{end}})
set({{.Name}}_LIBRARIES{{range .Libs}} {{.}}{{end}})

if(NOT TARGET {{.Name}}::{{.Name}})
  add_library({{.Name}}::{{.Name}} INTERFACE IMPORTED)
  set_target_properties({{.Name}}::{{.Name}} PROPERTIES
    INTERFACE_INCLUDE_DIRECTORIES "${ {{- .Name}}_INCLUDE_DIRS}"
    INTERFACE_LINK_DIRECTORIES "${ {{- .Name}}_LIB_DIRS}"
    INTERFACE_LINK_LIBRARIES "${ {{- .Name}}_LIBRARIES}")
endif()
`))

var versionTmpl = template.Must(template.New("version").Parse(`set(PACKAGE_VERSION "{{.Version}}")
if(PACKAGE_FIND_VERSION VERSION_GREATER PACKAGE_VERSION)
  set(PACKAGE_VERSION_COMPATIBLE FALSE)
else()
  set(PACKAGE_VERSION_COMPATIBLE TRUE)
  if(PACKAGE_FIND_VERSION STREQUAL PACKAGE_VERSION)
    set(PACKAGE_VERSION_EXACT TRUE)
  endif()
endif()
`))

// Data is the content of a generated "<name>-data.json" file.
type Data struct {
	Name          string   `json:"name"`
	Version       string   `json:"version"`
	PackageID     string   `json:"package_id"`
	PackageFolder string   `json:"package_folder"`
	IncludeDirs   []string `json:"include_dirs"`
	LibDirs       []string `json:"lib_dirs"`
	BinDirs       []string `json:"bin_dirs"`
	Libs          []string `json:"libs"`
}

type configData struct {
	Data
	Ref string
}

func dependencyFiles(files map[string][]byte, dep Dependency) error {
	info := dep.Info
	d := Data{
		Name:          info.Name,
		Version:       info.Version,
		PackageID:     info.PackageID,
		PackageFolder: cmakePath(dep.Dir),
		IncludeDirs:   abs(dep.Dir, info.IncludeDirs),
		LibDirs:       abs(dep.Dir, info.LibDirs),
		BinDirs:       abs(dep.Dir, info.BinDirs),
		Libs:          slices.Clone(info.Libs),
	}
	if d.Libs == nil {
		d.Libs = []string{}
	}

	js, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	files[info.Name+"-data.json"] = append(js, '\n')

	var buf bytes.Buffer
	if err := configTmpl.Execute(&buf, configData{Data: d, Ref: info.Ref().String()}); err != nil {
		return fmt.Errorf("%s config: %w", info.Name, err)
	}
	files[info.Name+"-config.cmake"] = slices.Clone(buf.Bytes())

	buf.Reset()
	if err := versionTmpl.Execute(&buf, d); err != nil {
		return fmt.Errorf("%s config version: %w", info.Name, err)
	}
	files[info.Name+"-config-version.cmake"] = slices.Clone(buf.Bytes())
	return nil
}

func abs(dir string, rel []string) []string {
	out := make([]string, len(rel))
	for i, r := range rel {
		out[i] = cmakePath(filepath.Join(dir, filepath.FromSlash(r)))
	}
	return out
}

// cmakePath converts a path to the forward-slash form CMake expects.
func cmakePath(p string) string {
	return filepath.ToSlash(p)
}

// -----------------------------------------------------------------------------

func writeIfChanged(name string, data []byte) (bool, error) {
	old, err := os.ReadFile(name)
	if err == nil && bytes.Equal(old, data) {
		return false, nil
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	return true, os.WriteFile(name, data, 0o644)
}

func removeStale(dir string, keep map[string][]byte) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || keep[name] != nil {
			continue
		}
		if strings.HasSuffix(name, "-config.cmake") || strings.HasSuffix(name, "-config-version.cmake") || strings.HasSuffix(name, "-data.json") {
			if err := os.Remove(filepath.Join(dir, name)); err != nil {
				return err
			}
		}
	}
	return nil
}
