// Package versions reads version source files and derives package versions.
package versions

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// DefaultFile is the version source consulted when a descriptor names none.
const DefaultFile = "version.json"

// ErrMalformed is wrapped by every error caused by the content of a version
// source, as opposed to failing to read it.
var ErrMalformed = errors.New("malformed version source")

// Descriptor is the structured version record of a package.
// Fields are pointers so that a missing key can be told apart from zero.
type Descriptor struct {
	Major *int `json:"major" toml:"major"`
	Minor *int `json:"minor" toml:"minor"`
	Patch *int `json:"patch" toml:"patch"`
}

// String returns the version as "{major}.{minor}.{patch}".
// It must only be called on a validated descriptor.
func (d *Descriptor) String() string {
	return fmt.Sprintf("%d.%d.%d", *d.Major, *d.Minor, *d.Patch)
}

func (d *Descriptor) validate() error {
	var missing []string
	for _, f := range []struct {
		name string
		val  *int
	}{{"major", d.Major}, {"minor", d.Minor}, {"patch", d.Patch}} {
		if f.val == nil {
			missing = append(missing, f.name)
			continue
		}
		if *f.val < 0 {
			return fmt.Errorf("%w: %s is negative (%d)", ErrMalformed, f.name, *f.val)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrMalformed, strings.Join(missing, ", "))
	}
	return nil
}

// Parse reads and parses a version file from either provided data or a file path.
// If data is non-nil, it is used directly and file only selects the format.
// Files ending in ".toml" are read as TOML, everything else as JSON.
func Parse(file string, data []byte) (*Descriptor, error) {
	var reader io.Reader

	if data != nil {
		reader = bytes.NewReader(data)
	} else {
		f, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		reader = f
	}

	var d Descriptor
	if strings.EqualFold(filepath.Ext(file), ".toml") {
		if err := toml.NewDecoder(reader).Decode(&d); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	} else {
		if err := json.NewDecoder(reader).Decode(&d); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Resolve reads the version source file relative to dir and returns the
// derived version string. The same file always yields the same string.
func Resolve(dir, file string) (string, error) {
	if file == "" {
		file = DefaultFile
	}
	if !filepath.IsAbs(file) {
		file = filepath.Join(dir, file)
	}
	d, err := Parse(file, nil)
	if err != nil {
		return "", fmt.Errorf("version source %s: %w", file, err)
	}
	return d.String(), nil
}
