package build

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoadCache(t *testing.T) {
	tmpDir := t.TempDir()

	now := time.Now().Truncate(time.Second)
	cache := &buildCache{}
	cache.set("abc", &buildEntry{Fingerprint: "f1", BuildTime: now})

	if err := saveCache(tmpDir, cache); err != nil {
		t.Fatalf("saveCache failed: %v", err)
	}

	loaded, err := loadCache(tmpDir)
	if err != nil {
		t.Fatalf("loadCache failed: %v", err)
	}
	entry, ok := loaded.get("abc")
	if !ok {
		t.Fatal("entry missing after reload")
	}
	if entry.Fingerprint != "f1" {
		t.Errorf("Fingerprint mismatch: got %q, want %q", entry.Fingerprint, "f1")
	}
	if !entry.BuildTime.Truncate(time.Second).Equal(now) {
		t.Errorf("BuildTime mismatch: got %v, want %v", entry.BuildTime, now)
	}
}

func TestLoadCache_NotExist(t *testing.T) {
	cache, err := loadCache(t.TempDir())
	if err != nil {
		t.Fatalf("loadCache failed: %v", err)
	}
	if len(cache.Cache) != 0 {
		t.Fatalf("cache = %+v, want empty", cache)
	}
}

func TestLoadCache_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, cacheFile), []byte("{invalid"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadCache(tmpDir); err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

func TestCacheHit(t *testing.T) {
	cache := &buildCache{}
	cache.set("id1", &buildEntry{Fingerprint: "f1"})
	cache.set("id2", &buildEntry{})

	tests := []struct {
		id, fingerprint string
		want            bool
	}{
		{"id1", "f1", true},
		{"id1", "f2", false},
		{"id3", "f1", false},
		{"id2", "", false},
	}
	for _, tt := range tests {
		if got := cache.hit(tt.id, tt.fingerprint); got != tt.want {
			t.Errorf("hit(%q, %q) = %v, want %v", tt.id, tt.fingerprint, got, tt.want)
		}
	}
}
