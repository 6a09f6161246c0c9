// Package constraint parses and evaluates dependency version constraints.
//
// Supported forms, optionally wrapped in brackets as in "[^3.12.0]":
//
//	3.12.0     exact pin
//	^3.12.0    compatible range: >=3.12.0, <4.0.0 (<0.y+1.0 for 0.y.z)
//	~3.12.0    patch range: >=3.12.0, <3.13.0
//	*          unconstrained (also the empty string)
package constraint

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// Kind classifies a constraint.
type Kind int

const (
	Any Kind = iota
	Exact
	Caret
	Tilde
)

func (k Kind) String() string {
	switch k {
	case Exact:
		return "exact"
	case Caret:
		return "caret"
	case Tilde:
		return "tilde"
	}
	return "any"
}

// Constraint is a parsed version constraint.
type Constraint struct {
	Kind    Kind
	Version string // base version without operator; empty for Any
	raw     string
}

// Parse parses a constraint expression.
func Parse(expr string) (Constraint, error) {
	raw := strings.TrimSpace(expr)
	s := raw
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	c := Constraint{raw: raw}
	switch {
	case s == "" || s == "*":
		c.Kind = Any
		return c, nil
	case strings.HasPrefix(s, "^"):
		c.Kind, c.Version = Caret, strings.TrimSpace(s[1:])
	case strings.HasPrefix(s, "~"):
		c.Kind, c.Version = Tilde, strings.TrimSpace(s[1:])
	default:
		c.Kind, c.Version = Exact, s
	}
	if !IsValid(c.Version) {
		return Constraint{}, fmt.Errorf("invalid version constraint %q", raw)
	}
	return c, nil
}

// MustParse is like Parse but panics on error. It is intended for tests and
// static tables.
func MustParse(expr string) Constraint {
	c, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return c
}

// String returns the expression the constraint was parsed from.
func (c Constraint) String() string {
	if c.raw == "" {
		if c.Kind == Any {
			return "*"
		}
		return c.Version
	}
	return c.raw
}

// Check reports whether version satisfies the constraint.
func (c Constraint) Check(version string) bool {
	if !IsValid(version) {
		return false
	}
	v := canonical(version)
	switch c.Kind {
	case Any:
		return semver.Prerelease(v) == ""
	case Exact:
		return semver.Compare(v, canonical(c.Version)) == 0
	}
	if semver.Prerelease(v) != "" {
		return false
	}
	base := canonical(c.Version)
	if semver.Compare(v, base) < 0 {
		return false
	}
	return semver.Compare(v, c.upper()) < 0
}

// upper returns the exclusive upper bound of a range constraint.
func (c Constraint) upper() string {
	major, minor, patch := parts(canonical(c.Version))
	if c.Kind == Tilde {
		return fmt.Sprintf("v%d.%d.0", major, minor+1)
	}
	switch {
	case major > 0:
		return fmt.Sprintf("v%d.0.0", major+1)
	case minor > 0:
		return fmt.Sprintf("v0.%d.0", minor+1)
	}
	return fmt.Sprintf("v0.0.%d", patch+1)
}

// IsValid reports whether v is a version this package understands.
func IsValid(v string) bool {
	return v != "" && semver.IsValid(canonical(v))
}

// Compare compares two versions using semantic version ordering.
func Compare(v1, v2 string) int {
	return semver.Compare(canonical(v1), canonical(v2))
}

// Max returns the highest version in list satisfying every constraint.
func Max(list []string, cs ...Constraint) (string, bool) {
	best := ""
	for _, v := range list {
		ok := true
		for _, c := range cs {
			if !c.Check(v) {
				ok = false
				break
			}
		}
		if ok && (best == "" || Compare(v, best) > 0) {
			best = v
		}
	}
	return best, best != ""
}

func canonical(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

func parts(v string) (major, minor, patch int) {
	core := strings.TrimPrefix(semver.Canonical(v), "v")
	if i := strings.IndexAny(core, "-+"); i >= 0 {
		core = core[:i]
	}
	fields := strings.SplitN(core, ".", 3)
	nums := [3]int{}
	for i, f := range fields {
		nums[i], _ = strconv.Atoi(f)
	}
	return nums[0], nums[1], nums[2]
}
