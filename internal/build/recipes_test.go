package build

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/zenplay/zpkg/formula"
	"github.com/zenplay/zpkg/internal/registry"
)

func resolveZenPlay(t *testing.T, s formula.Settings, profile string) *Result {
	t.Helper()
	reg, err := registry.Open(t.TempDir(), filepath.Join("..", "..", "recipes"))
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	b := NewBuilder(Options{Registry: reg, Settings: s, Profile: profile})
	res, err := b.Run(context.Background(), Request{Dir: filepath.Join("..", "..", "examples", "zenplay"), Upto: formula.StageResolve})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}

func TestZenPlayResolution(t *testing.T) {
	winSettings := formula.Settings{OS: "Windows", Arch: "x86_64", Compiler: "msvc", CompilerVersion: "194", CppStd: "17", BuildType: "Release"}
	tests := []struct {
		name     string
		settings formula.Settings
		profile  string
		versions map[string]string
		ffmpeg   map[string]string // option -> value, "" for absent
	}{
		{
			name:     "linux",
			settings: settings(),
			versions: map[string]string{"qt": "6.7.3", "ffmpeg": "7.1.1", "fmt": "11.1.3", "spdlog": "1.15.1", "nlohmann_json": "3.12.0", "sdl": "2.32.2", "gtest": "1.17.0"},
			ffmpeg:   map[string]string{"with_cuda": "True", "with_nvenc": "True", "shared": "False", "with_programs": "False", "fPIC": "True", "with_vaapi": "True", "with_d3d11va": ""},
		},
		{
			name:     "windows",
			settings: winSettings,
			versions: map[string]string{"qt": "6.7.3", "ffmpeg": "7.1.1"},
			ffmpeg:   map[string]string{"with_d3d11va": "True", "with_dxva2": "True", "with_amf": "True", "fPIC": "", "with_vaapi": ""},
		},
		{
			name:     "windows legacy",
			settings: winSettings,
			profile:  "legacy",
			versions: map[string]string{"qt": "6.5.3", "ffmpeg": "6.1", "fmt": "11.1.3"},
			ffmpeg:   map[string]string{"with_cuda": "True", "with_nvenc": "False", "with_amf": "False", "with_d3d11va": "True"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := resolveZenPlay(t, tt.settings, tt.profile)
			for name, want := range tt.versions {
				n, ok := res.Resolution.Node(name)
				if !ok || n.Ref.Version != want {
					t.Fatalf("%s resolved to %q, want %q", name, n.Ref.Version, want)
				}
			}
			opts, ok := res.Options.Of("ffmpeg")
			if !ok {
				t.Fatal("no options for ffmpeg")
			}
			for name, want := range tt.ffmpeg {
				got, present := opts.Get(name)
				if want == "" {
					if present {
						t.Fatalf("ffmpeg %s = %q, want absent", name, got)
					}
					continue
				}
				if got != want {
					t.Fatalf("ffmpeg %s = %q, want %q", name, got, want)
				}
			}
			if qt, _ := res.Options.Of("qt"); qt.Map()["shared"] != "True" || qt.Map()["qttools"] != "True" {
				t.Fatalf("qt options = %s", qt)
			}
			if res.PackageID == "" {
				t.Fatal("no package ID")
			}
		})
	}
}

func TestLokiModuleHeaderOnly(t *testing.T) {
	reg, err := registry.Open(t.TempDir(), filepath.Join("..", "..", "recipes"))
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	b := NewBuilder(Options{Registry: reg, Settings: settings()})
	res, err := b.Run(context.Background(), Request{Dir: filepath.Join("..", "..", "examples", "loki_module"), Upto: formula.StageResolve})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Descriptor.Version != "1.0.0" || !res.Descriptor.Type.HeaderOnly() {
		t.Fatalf("descriptor = %s %s", res.Descriptor.Version, res.Descriptor.Type)
	}

	other := settings()
	other.BuildType = "Debug"
	res2, err := NewBuilder(Options{Registry: reg, Settings: other}).Run(context.Background(), Request{Dir: filepath.Join("..", "..", "examples", "loki_module"), Upto: formula.StageResolve})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.PackageID != res2.PackageID {
		t.Fatalf("header-only package ID depends on build type: %s != %s", res.PackageID, res2.PackageID)
	}
}
