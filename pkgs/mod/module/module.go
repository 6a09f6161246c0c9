// Package module defines the module.Version type along with support code.
package module

import (
	"fmt"
	"path/filepath"
	"strings"
)

// A Version (for clients, a module.Version) represents a specific version
// of a package identified by its path (package name) and optional user.
type Version struct {
	Path    string // Package name, e.g. "ffmpeg"
	Version string // Version string (e.g., "7.1.1")
	User    string // Optional namespace, e.g. "spider"
}

// String returns the reference form "name/version[@user]".
func (v Version) String() string {
	s := v.Path
	if v.Version != "" {
		s += "/" + v.Version
	}
	if v.User != "" {
		s += "@" + v.User
	}
	return s
}

// ParseRef parses a reference of the form "name/version[@user]".
// The version part may be omitted.
func ParseRef(ref string) (Version, error) {
	ref = strings.TrimSpace(ref)
	var v Version
	if before, user, ok := strings.Cut(ref, "@"); ok {
		ref, v.User = before, user
		if v.User == "" {
			return Version{}, fmt.Errorf("invalid reference %q: empty user", ref)
		}
	}
	name, ver, _ := strings.Cut(ref, "/")
	if name == "" {
		return Version{}, fmt.Errorf("invalid reference %q: empty name", ref)
	}
	if strings.ContainsAny(name, " \t") {
		return Version{}, fmt.Errorf("invalid reference %q: name contains whitespace", ref)
	}
	v.Path, v.Version = name, ver
	return v, nil
}

// VersionComparator compares two versions of the same package and returns
// a negative value, zero or a positive value.
type VersionComparator func(v1, v2 string) int

// EscapePath returns the escaped form of the given package path as a valid
// file system path. It fails if the path is invalid.
func EscapePath(path string) (escaped string, err error) {
	return filepath.Localize(path)
}
