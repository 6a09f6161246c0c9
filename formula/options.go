package formula

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// -----------------------------------------------------------------------------

// OptionDef declares one option of a package.
type OptionDef struct {
	Values    []string // allowed values; empty allows any value
	Default   string
	OnlyOS    []string // when set, the option exists only on these OSes
	ExcludeOS []string // the option does not exist on these OSes
}

// AppliesTo reports whether the option exists for packages built for os.
func (d OptionDef) AppliesTo(os string) bool {
	if len(d.OnlyOS) > 0 && !slices.Contains(d.OnlyOS, os) {
		return false
	}
	return !slices.Contains(d.ExcludeOS, os)
}

// Allows reports whether value is an accepted value for the option.
func (d OptionDef) Allows(value string) bool {
	return len(d.Values) == 0 || slices.Contains(d.Values, value)
}

// NormalizeValue converts an option value read from a descriptor or the
// command line into its canonical text. Booleans become "True" or "False".
func NormalizeValue(v any) (string, error) {
	switch x := v.(type) {
	case bool:
		if x {
			return "True", nil
		}
		return "False", nil
	case string:
		switch strings.ToLower(x) {
		case "true":
			return "True", nil
		case "false":
			return "False", nil
		}
		return x, nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	}
	return "", fmt.Errorf("unsupported option value %v (%T)", v, v)
}

// -----------------------------------------------------------------------------

// OptionSet is the effective option values of one package configuration.
// Options that do not apply to the target platform are absent, not false.
type OptionSet struct {
	values map[string]string
}

// NewOptionSet returns an OptionSet holding a copy of values.
func NewOptionSet(values map[string]string) OptionSet {
	return OptionSet{values: maps.Clone(values)}
}

// Get returns the value of the named option and whether it is present.
func (s OptionSet) Get(name string) (string, bool) {
	v, ok := s.values[name]
	return v, ok
}

// Bool returns the boolean value of the named option. present is false when
// the option is absent from the set.
func (s OptionSet) Bool(name string) (value, present bool) {
	v, ok := s.values[name]
	if !ok {
		return false, false
	}
	return v == "True", true
}

// Has reports whether the named option is present.
func (s OptionSet) Has(name string) bool {
	_, ok := s.values[name]
	return ok
}

// Names returns the option names in sorted order.
func (s OptionSet) Names() []string {
	names := make([]string, 0, len(s.values))
	for k := range s.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Map returns a copy of the values.
func (s OptionSet) Map() map[string]string {
	return maps.Clone(s.values)
}

// String returns "name=value" pairs joined by "," in name order.
func (s OptionSet) String() string {
	names := s.Names()
	for i, n := range names {
		names[i] = n + "=" + s.values[n]
	}
	return strings.Join(names, ",")
}

// EffectiveOptions computes the option set of a package built with settings
// from its declared options and explicit overrides. Options that do not
// apply to settings.OS are left out; overriding one of them, overriding an
// undeclared option, or using a value outside the allowed set is a
// ConfigurationError.
func EffectiveOptions(settings Settings, defs map[string]OptionDef, overrides map[string]string) (OptionSet, error) {
	values := make(map[string]string, len(defs))
	for name, def := range defs {
		if def.AppliesTo(settings.OS) {
			values[name] = def.Default
		}
	}
	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		value := overrides[name]
		def, ok := defs[name]
		if !ok {
			return OptionSet{}, &ConfigurationError{Option: name, Reason: "unknown option"}
		}
		if !def.AppliesTo(settings.OS) {
			return OptionSet{}, &ConfigurationError{Option: name, Reason: fmt.Sprintf("option does not exist on %s", settings.OS)}
		}
		if !def.Allows(value) {
			return OptionSet{}, &ConfigurationError{
				Option: name,
				Reason: fmt.Sprintf("invalid value %q (allowed: %s)", value, strings.Join(def.Values, ", ")),
			}
		}
		values[name] = value
	}
	return OptionSet{values: values}, nil
}

// -----------------------------------------------------------------------------

// OptionMatrix maps a dependency name to the option values a descriptor
// assigns to it. The name "*" addresses every dependency that declares the
// option.
type OptionMatrix map[string]map[string]string

// Wildcard is the dependency name matching all dependencies.
const Wildcard = "*"

// Clone returns a deep copy of the matrix.
func (m OptionMatrix) Clone() OptionMatrix {
	if m == nil {
		return nil
	}
	out := make(OptionMatrix, len(m))
	for dep, opts := range m {
		out[dep] = maps.Clone(opts)
	}
	return out
}

// Deps returns the dependency names in sorted order, with "*" first.
func (m OptionMatrix) Deps() []string {
	deps := make([]string, 0, len(m))
	for k := range m {
		deps = append(deps, k)
	}
	sort.Slice(deps, func(i, j int) bool {
		if deps[i] == Wildcard || deps[j] == Wildcard {
			return deps[i] == Wildcard && deps[j] != Wildcard
		}
		return deps[i] < deps[j]
	})
	return deps
}

// ParseAssignment parses a command-line option assignment of the form
// "dep:name=value" or "name=value" (the latter applies to the package itself
// and is returned with an empty dep).
func ParseAssignment(s string) (dep, name, value string, err error) {
	lhs, value, ok := strings.Cut(s, "=")
	if !ok || lhs == "" {
		return "", "", "", fmt.Errorf("invalid option assignment %q, want [dep:]name=value", s)
	}
	if d, n, ok := strings.Cut(lhs, ":"); ok {
		dep, name = d, n
	} else {
		name = lhs
	}
	if name == "" {
		return "", "", "", fmt.Errorf("invalid option assignment %q: empty option name", s)
	}
	value, err = NormalizeValue(value)
	return dep, name, value, err
}
