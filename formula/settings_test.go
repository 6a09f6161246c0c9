package formula

import (
	"reflect"
	"testing"
)

func TestHostSettingsValid(t *testing.T) {
	if err := HostSettings().Validate(); err != nil {
		t.Fatalf("HostSettings().Validate() error = %v", err)
	}
}

func TestSettingsSet(t *testing.T) {
	s := HostSettings()
	if err := s.Set(SettingOS, "Windows"); err != nil {
		t.Fatalf("Set(os) error = %v", err)
	}
	if err := s.Set(SettingCompilerVersion, "194"); err != nil {
		t.Fatalf("Set(compiler.version) error = %v", err)
	}
	if s.OS != "Windows" || s.Get(SettingCompilerVersion) != "194" {
		t.Fatalf("settings = %+v", s)
	}
	if err := s.Set(SettingOS, "Plan9"); err == nil {
		t.Fatal("Set(os, Plan9) expected error")
	}
	if err := s.Set("libc", "musl"); err == nil {
		t.Fatal("Set(libc) expected error")
	}
}

func TestSettingsAxes(t *testing.T) {
	s := Settings{OS: "Linux", Arch: "x86_64", Compiler: "gcc", CompilerVersion: "13", CppStd: "17", BuildType: "Debug"}
	got := s.Axes([]string{"os", "build_type"})
	want := []string{"build_type=Debug", "os=Linux"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Axes() = %v, want %v", got, want)
	}
	got = s.Axes([]string{"compiler"})
	want = []string{"compiler=gcc", "compiler.cppstd=17", "compiler.version=13"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Axes(compiler) = %v, want %v", got, want)
	}
}

func TestSettingsKeyAndTriple(t *testing.T) {
	tests := []struct {
		s      Settings
		key    string
		triple string
	}{
		{Settings{OS: "Linux", Arch: "x86_64", Compiler: "gcc", CompilerVersion: "13"}, "linux-x86_64-gcc13", "x86_64-linux-gnu"},
		{Settings{OS: "Windows", Arch: "x86_64", Compiler: "msvc", CompilerVersion: "194"}, "windows-x86_64-msvc194", "x86_64-pc-windows-msvc"},
		{Settings{OS: "Windows", Arch: "x86_64", Compiler: "msvc", CompilerVersion: "194", CppStd: "20"}, "windows-x86_64-msvc194-cpp20", "x86_64-pc-windows-msvc"},
		{Settings{OS: "Macos", Arch: "armv8", Compiler: "apple-clang", CompilerVersion: "15"}, "macos-armv8-apple-clang15", "aarch64-apple-darwin"},
	}
	for _, tt := range tests {
		if got := tt.s.Key(); got != tt.key {
			t.Errorf("Key() = %q, want %q", got, tt.key)
		}
		if got := tt.s.Triple(); got != tt.triple {
			t.Errorf("Triple() = %q, want %q", got, tt.triple)
		}
	}
}

func TestSettingsCross(t *testing.T) {
	s := HostSettings()
	if s.Cross() {
		t.Fatalf("host settings %+v report cross compiling", s)
	}
	if s.Arch == "armv8" {
		s.Arch = "x86_64"
	} else {
		s.Arch = "armv8"
	}
	if !s.Cross() {
		t.Fatalf("settings %+v should be cross compiling", s)
	}
}
