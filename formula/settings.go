package formula

import (
	"fmt"
	"runtime"
	"slices"
	"sort"
	"strings"
)

// Setting axis names.
const (
	SettingOS              = "os"
	SettingArch            = "arch"
	SettingCompiler        = "compiler"
	SettingCompilerVersion = "compiler.version"
	SettingCppStd          = "compiler.cppstd"
	SettingBuildType       = "build_type"
)

var allowedSettings = map[string][]string{
	SettingOS:        {"Windows", "Linux", "Macos"},
	SettingArch:      {"x86", "x86_64", "armv7", "armv8"},
	SettingCompiler:  {"gcc", "clang", "apple-clang", "msvc"},
	SettingBuildType: {"Debug", "Release", "RelWithDebInfo", "MinSizeRel"},
}

// Settings are the axes a package configuration is built for.
type Settings struct {
	OS              string
	Arch            string
	Compiler        string
	CompilerVersion string
	CppStd          string
	BuildType       string
}

// HostSettings returns the settings of the machine zpkg runs on.
func HostSettings() Settings {
	s := Settings{BuildType: "Release", CppStd: "17"}
	switch runtime.GOOS {
	case "windows":
		s.OS, s.Compiler, s.CompilerVersion = "Windows", "msvc", "194"
	case "darwin":
		s.OS, s.Compiler, s.CompilerVersion = "Macos", "apple-clang", "15"
	default:
		s.OS, s.Compiler, s.CompilerVersion = "Linux", "gcc", "13"
	}
	switch runtime.GOARCH {
	case "arm64":
		s.Arch = "armv8"
	case "arm":
		s.Arch = "armv7"
	case "386":
		s.Arch = "x86"
	default:
		s.Arch = "x86_64"
	}
	return s
}

func (s *Settings) field(key string) *string {
	switch key {
	case SettingOS:
		return &s.OS
	case SettingArch:
		return &s.Arch
	case SettingCompiler:
		return &s.Compiler
	case SettingCompilerVersion:
		return &s.CompilerVersion
	case SettingCppStd:
		return &s.CppStd
	case SettingBuildType:
		return &s.BuildType
	}
	return nil
}

// Get returns the value of the named axis.
func (s Settings) Get(key string) string {
	if f := s.field(key); f != nil {
		return *f
	}
	return ""
}

// Set assigns value to the named axis. Unknown axes and values outside the
// allowed set are configuration errors.
func (s *Settings) Set(key, value string) error {
	f := s.field(key)
	if f == nil {
		return Configf("", "unknown setting %q", key)
	}
	if allowed, ok := allowedSettings[key]; ok && !slices.Contains(allowed, value) {
		return Configf("", "invalid value %q for setting %s (allowed: %s)", value, key, strings.Join(allowed, ", "))
	}
	*f = value
	return nil
}

// Validate checks that every axis with an allowed set holds a valid value.
func (s Settings) Validate() error {
	keys := make([]string, 0, len(allowedSettings))
	for k := range allowedSettings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := s.Get(k); !slices.Contains(allowedSettings[k], v) {
			return Configf("", "invalid value %q for setting %s", v, k)
		}
	}
	return nil
}

// Axes returns the key=value pairs for the given axes, sorted by key. An
// axis "compiler" also covers its sub-settings.
func (s Settings) Axes(axes []string) []string {
	var keys []string
	for _, a := range axes {
		keys = append(keys, a)
		if a == SettingCompiler {
			keys = append(keys, SettingCompilerVersion, SettingCppStd)
		}
	}
	sort.Strings(keys)
	keys = slices.Compact(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+s.Get(k))
	}
	return out
}

// Key returns a directory-safe name identifying os, arch, compiler and
// C++ standard, e.g. "linux-x86_64-gcc13-cpp17". Build type is kept out so
// that debug and release trees can sit side by side under one key.
func (s Settings) Key() string {
	key := fmt.Sprintf("%s-%s-%s%s", s.OS, s.Arch, s.Compiler, s.CompilerVersion)
	if s.CppStd != "" {
		key += "-cpp" + s.CppStd
	}
	return strings.ToLower(key)
}

// Cross reports whether s targets another os or arch than the host.
func (s Settings) Cross() bool {
	host := HostSettings()
	return host.OS != s.OS || host.Arch != s.Arch
}

// Triple returns the target triple for the settings.
func (s Settings) Triple() string {
	arch := map[string]string{
		"x86":    "i686",
		"x86_64": "x86_64",
		"armv7":  "armv7",
		"armv8":  "aarch64",
	}[s.Arch]
	switch s.OS {
	case "Windows":
		if s.Compiler == "msvc" {
			return arch + "-pc-windows-msvc"
		}
		return arch + "-w64-windows-gnu"
	case "Macos":
		return arch + "-apple-darwin"
	}
	if s.Arch == "armv7" {
		return arch + "-linux-gnueabihf"
	}
	return arch + "-linux-gnu"
}
