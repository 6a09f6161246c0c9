package depgraph

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"testing"

	"github.com/zenplay/zpkg/formula"
)

type mapRecipes map[string]*formula.Descriptor

func (m mapRecipes) Recipe(ctx context.Context, name string) (*formula.Descriptor, error) {
	d, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("recipe %s: %w", name, fs.ErrNotExist)
	}
	return d, nil
}

func desc(name string, requires ...string) *formula.Descriptor {
	d := &formula.Descriptor{Name: name}
	for _, ref := range requires {
		r, err := formula.ParseRequirement(ref, false)
		if err != nil {
			panic(err)
		}
		d.Requires = append(d.Requires, r)
	}
	return d
}

func TestDiscover(t *testing.T) {
	root := desc("ZenPlay", "qt/6.7.3", "ffmpeg/7.1.1", "spdlog/[^1.15.1]")
	gtest, _ := formula.ParseRequirement("gtest/1.17.0", true)
	root.Requires = append(root.Requires, gtest)

	libx264Test, _ := formula.ParseRequirement("catch2/3.0.0", true)
	x264 := desc("libx264")
	x264.Requires = []formula.Requirement{libx264Test}

	recipes := mapRecipes{
		"qt":      desc("qt", "zlib/[^1.3.0]"),
		"ffmpeg":  desc("ffmpeg", "libx264/*", "zlib/1.3.1"),
		"spdlog":  desc("spdlog", "fmt/[^11.1.3]"),
		"gtest":   desc("gtest"),
		"zlib":    desc("zlib"),
		"fmt":     desc("fmt"),
		"libx264": x264,
	}

	g, err := Discover(context.Background(), root, recipes)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	wantOrder := []string{"qt", "ffmpeg", "spdlog", "gtest", "zlib", "libx264", "fmt"}
	if !reflect.DeepEqual(g.Order, wantOrder) {
		t.Fatalf("Order = %v, want %v", g.Order, wantOrder)
	}
	if g.Has("catch2") {
		t.Fatal("test requirement of a dependency must not be followed")
	}
	wantBuild := []string{"zlib", "qt", "libx264", "ffmpeg", "fmt", "spdlog", "gtest"}
	if got := g.BuildOrder(); !reflect.DeepEqual(got, wantBuild) {
		t.Fatalf("BuildOrder() = %v, want %v", got, wantBuild)
	}
	if got := len(g.Descriptors()); got != len(wantOrder)+1 {
		t.Fatalf("Descriptors() len = %d", got)
	}
}

func TestDiscover_MissingRecipe(t *testing.T) {
	root := desc("ZenPlay", "sdl/2.32.2")
	_, err := Discover(context.Background(), root, mapRecipes{})
	var ce *formula.ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("Discover() error = %v, want ConfigurationError", err)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Discover() error = %v, want wrapped ErrNotExist", err)
	}
}

func TestDiscover_Cycle(t *testing.T) {
	root := desc("app", "b/1.0.0", "c/1.0.0")
	recipes := mapRecipes{
		"b": desc("b", "c/1.0.0"),
		"c": desc("c", "b/1.0.0"),
	}
	_, err := Discover(context.Background(), root, recipes)
	var ce *formula.ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("Discover() error = %v, want ConfigurationError", err)
	}
}
