package formula

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
)

// -----------------------------------------------------------------------------

// Project represents the source tree of a package being built.
type Project struct {
	DirFS fs.FS
}

// ReadFile reads the content of a file in the project.
func (p *Project) ReadFile(path string) ([]byte, error) {
	file, err := p.DirFS.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}

// Glob returns the files matching any of the doublestar patterns, sorted and
// without duplicates.
func (p *Project) Glob(patterns ...string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid pattern %q", pattern)
		}
		matches, err := doublestar.Glob(p.DirFS, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	slices.Sort(files)
	return slices.Compact(files), nil
}

// Fingerprint hashes the names and contents of the files matching patterns.
// It returns an empty string when no pattern is given.
func (p *Project) Fingerprint(patterns ...string) (string, error) {
	if len(patterns) == 0 {
		return "", nil
	}
	files, err := p.Glob(patterns...)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	for _, name := range files {
		data, err := p.ReadFile(name)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(h, "%s\x00%d\x00", name, len(data))
		h.Write(data)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
