// Package registry implements a file-based package registry: the recipes
// the resolver reads dependency schemas and versions from, and the package
// folders consumers link against.
//
// Registry layout:
//
//	<root>/
//	  recipes/<name>/zpkg.toml           # recipe of <name>, any descriptor format
//	  packages/<name>/<version>/<id>/    # package folder
//	    package_info.json
//	  .lock                              # held while publishing
package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/zenplay/zpkg/formula"
	"github.com/zenplay/zpkg/internal/pack"
	"github.com/zenplay/zpkg/pkgs/mod/constraint"
	"github.com/zenplay/zpkg/pkgs/mod/module"
)

// ErrNotFound is returned when a recipe or package is not in the registry.
var ErrNotFound = fmt.Errorf("not found in registry: %w", fs.ErrNotExist)

const lockRetry = 50 * time.Millisecond

// Local is a registry on the local file system. It is safe for concurrent
// use; publishing is serialized across processes by a file lock.
type Local struct {
	root        string
	searchPaths []string // recipe directories consulted before the registry's own

	mu      sync.Mutex
	recipes map[string]*formula.Descriptor
}

// Open opens the registry at dir, creating it if needed. Recipes are looked
// up in searchPaths first, then in the registry; the first match wins.
func Open(dir string, searchPaths ...string) (*Local, error) {
	for _, sub := range []string{"recipes", "packages"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, err
		}
	}
	return &Local{
		root:        dir,
		searchPaths: append(slices.Clone(searchPaths), filepath.Join(dir, "recipes")),
		recipes:     map[string]*formula.Descriptor{},
	}, nil
}

// Recipe returns the recipe of the named package.
func (r *Local) Recipe(ctx context.Context, name string) (*formula.Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.recipes[name]; ok {
		return d, nil
	}
	escaped, err := module.EscapePath(name)
	if err != nil {
		return nil, err
	}
	for _, dir := range r.searchPaths {
		file, err := formula.Find(filepath.Join(dir, escaped))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		d, err := formula.Load(file)
		if err != nil {
			return nil, err
		}
		if d.Name != name {
			return nil, formula.Configf(name, "recipe %s declares package %q", file, d.Name)
		}
		r.recipes[name] = d
		return d, nil
	}
	return nil, fmt.Errorf("recipe %s: %w", name, ErrNotFound)
}

// Versions returns the versions of name the registry knows: those its recipe
// lists and those published. A package with neither gives ErrNotFound.
func (r *Local) Versions(ctx context.Context, name string) ([]string, error) {
	var versions []string
	d, err := r.Recipe(ctx, name)
	switch {
	case err == nil:
		versions = append(versions, d.Versions...)
		if d.Version != "" {
			versions = append(versions, d.Version)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, err
	}

	dir, err := r.packageDir(name)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() && constraint.IsValid(e.Name()) {
			versions = append(versions, e.Name())
		}
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("versions of %s: %w", name, ErrNotFound)
	}
	slices.SortFunc(versions, constraint.Compare)
	return slices.CompactFunc(versions, func(a, b string) bool { return constraint.Compare(a, b) == 0 }), nil
}

// Lookup returns the metadata and folder of the published package ref with
// the given package ID.
func (r *Local) Lookup(ref module.Version, id string) (*pack.Info, string, error) {
	dir, err := r.packageDir(ref.Path, ref.Version, id)
	if err != nil {
		return nil, "", err
	}
	info, err := pack.ReadInfo(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("package %s:%s: %w", ref, id, ErrNotFound)
	}
	if err != nil {
		return nil, "", err
	}
	if info.PackageID != id || info.Name != ref.Path || info.Version != ref.Version {
		return nil, "", fmt.Errorf("package %s:%s: metadata describes %s:%s", ref, id, info.Ref(), info.PackageID)
	}
	return info, dir, nil
}

// Publish copies the package folder src into the registry and returns the
// published folder. A package already published under the same ID is
// replaced. Publishing waits for other publishers until ctx is done.
func (r *Local) Publish(ctx context.Context, src string) (string, error) {
	info, err := pack.ReadInfo(src)
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", src, err)
	}
	dst, err := r.packageDir(info.Name, info.Version, info.PackageID)
	if err != nil {
		return "", err
	}

	unlock, err := r.lock(ctx)
	if err != nil {
		return "", err
	}
	defer unlock()

	parent := filepath.Dir(dst)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.MkdirTemp(parent, ".publish-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmp)

	// CopyFS refuses to write into an existing directory
	staged := filepath.Join(tmp, "pkg")
	if err := os.CopyFS(staged, os.DirFS(src)); err != nil {
		return "", fmt.Errorf("publish %s: %w", info.Ref(), err)
	}
	if err := os.RemoveAll(dst); err != nil {
		return "", err
	}
	if err := os.Rename(staged, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// ExportRecipe copies the descriptor file of d into the registry so that
// other descriptors can depend on it.
func (r *Local) ExportRecipe(ctx context.Context, d *formula.Descriptor) error {
	src, err := formula.Find(d.Dir)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	escaped, err := module.EscapePath(d.Name)
	if err != nil {
		return err
	}
	dir := filepath.Join(r.root, "recipes", escaped)

	unlock, err := r.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, filepath.Base(src)), data, 0o644); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.recipes, d.Name)
	r.mu.Unlock()
	return nil
}

func (r *Local) lock(ctx context.Context) (func(), error) {
	fl := flock.New(filepath.Join(r.root, ".lock"))
	ok, err := fl.TryLockContext(ctx, lockRetry)
	if err != nil {
		return nil, fmt.Errorf("lock registry: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("lock registry: %w", ctx.Err())
	}
	return func() { fl.Unlock() }, nil
}

func (r *Local) packageDir(name string, elem ...string) (string, error) {
	escaped, err := module.EscapePath(name)
	if err != nil {
		return "", err
	}
	for _, e := range elem {
		if _, err := filepath.Localize(e); err != nil {
			return "", fmt.Errorf("invalid path element %q", e)
		}
	}
	return filepath.Join(append([]string{r.root, "packages", escaped}, elem...)...), nil
}
