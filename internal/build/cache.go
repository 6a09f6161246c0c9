package build

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Build directory layout:
//
//	<build>/
//	  .cache.json      # build cache: maps package ID to buildEntry
//	  .zpkg.lock       # held while an invocation owns the directory
//	  generators/
//	  package/
const (
	cacheFile = ".cache.json"
	lockFile  = ".zpkg.lock"
)

// buildEntry contains metadata about a single successful build.
type buildEntry struct {
	Fingerprint string    `json:"fingerprint"`
	BuildTime   time.Time `json:"build_time"`
}

// buildCache maps package IDs to their build entries.
type buildCache struct {
	Cache map[string]*buildEntry `json:"cache"`
}

func (c *buildCache) get(id string) (*buildEntry, bool) {
	entry, ok := c.Cache[id]
	return entry, ok
}

func (c *buildCache) set(id string, entry *buildEntry) {
	if c.Cache == nil {
		c.Cache = make(map[string]*buildEntry)
	}
	c.Cache[id] = entry
}

// hit reports whether the package id was built from sources with the given
// fingerprint. An empty fingerprint never hits: without exported sources
// there is nothing to tell a stale build from a fresh one.
func (c *buildCache) hit(id, fingerprint string) bool {
	entry, ok := c.get(id)
	return ok && fingerprint != "" && entry.Fingerprint == fingerprint
}

// loadCache reads the build cache of dir. A missing file gives an empty cache.
func loadCache(dir string) (*buildCache, error) {
	data, err := os.ReadFile(filepath.Join(dir, cacheFile))
	if os.IsNotExist(err) {
		return &buildCache{}, nil
	}
	if err != nil {
		return nil, err
	}
	var cache buildCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, err
	}
	return &cache, nil
}

// saveCache writes the build cache of dir.
func saveCache(dir string, cache *buildCache) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, cacheFile), data, 0o644)
}
