// Package options merges the option matrices declared across a dependency
// graph into the effective option set of every package.
//
// Merging is a pure function of its inputs: descriptors are never mutated
// and the same graph, settings and overrides always give the same result.
package options

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/zenplay/zpkg/formula"
	"github.com/zenplay/zpkg/internal/depgraph"
)

// CommandLine is the origin recorded for overrides given by the user.
const CommandLine = "command line"

// Resolved holds the effective options of the root and every dependency.
type Resolved struct {
	Root formula.OptionSet
	deps map[string]formula.OptionSet
}

// Of returns the effective options of the named package.
func (r *Resolved) Of(name string) (formula.OptionSet, bool) {
	set, ok := r.deps[name]
	return set, ok
}

// Deps returns the dependency names in sorted order.
func (r *Resolved) Deps() []string {
	return slices.Sorted(maps.Keys(r.deps))
}

type assignment struct {
	value  string
	origin string
}

// Merge computes the effective options for graph g built with settings.
// Assignments are gathered from the root descriptor (including its
// assignments for settings.OS), then from dependency
// recipes in discovery order, then from overrides (keyed by dependency name,
// with "" or the root's own name addressing the root). Overrides win over descriptors; two
// descriptors assigning different values to the same option is a conflict.
// A "*" key assigns to every dependency declaring the option and never
// overrides an explicit assignment.
func Merge(g *depgraph.Graph, settings formula.Settings, overrides formula.OptionMatrix) (*Resolved, error) {
	explicit := map[string]map[string]assignment{}
	wildcard := map[string]map[string]assignment{}

	for _, d := range g.Descriptors() {
		matrix := d.DependencyOptionsFor(settings.OS)
		for _, dep := range matrix.Deps() {
			if err := collect(g, settings, d.Name, dep, matrix[dep], explicit, wildcard, false); err != nil {
				return nil, err
			}
		}
	}
	for _, dep := range overrides.Deps() {
		if dep == "" || dep == g.Root.Name {
			continue
		}
		if err := collect(g, settings, CommandLine, dep, overrides[dep], explicit, wildcard, true); err != nil {
			return nil, err
		}
	}

	r := &Resolved{deps: make(map[string]formula.OptionSet, len(g.Order))}
	for _, name := range g.Order {
		recipe := g.Recipes[name]
		values := map[string]string{}
		origins := map[string]string{}
		for opt, a := range wildcard[name] {
			if def, ok := recipe.Options[opt]; ok && def.AppliesTo(settings.OS) {
				values[opt], origins[opt] = a.value, a.origin
			}
		}
		for opt, a := range explicit[name] {
			values[opt], origins[opt] = a.value, a.origin
		}
		set, err := formula.EffectiveOptions(settings, recipe.Options, values)
		if err != nil {
			return nil, annotate(err, name, origins)
		}
		r.deps[name] = set
	}

	root, err := g.Root.EffectiveOptions(settings, rootOverrides(g, overrides))
	if err != nil {
		return nil, err
	}
	r.Root = root
	return r, nil
}

// rootOverrides merges the overrides given for "" with those given under the
// root's name. The named ones win.
func rootOverrides(g *depgraph.Graph, overrides formula.OptionMatrix) map[string]string {
	named, ok := overrides[g.Root.Name]
	if !ok {
		return overrides[""]
	}
	out := maps.Clone(overrides[""])
	if out == nil {
		out = map[string]string{}
	}
	maps.Copy(out, named)
	return out
}

// collect records the assignments origin makes to dep. Overrides given for
// "*" are recorded as explicit assignments, restricted to the dependencies
// on which the option exists for settings.
func collect(g *depgraph.Graph, settings formula.Settings, origin, dep string, opts map[string]string, explicit, wildcard map[string]map[string]assignment, override bool) error {
	if dep == formula.Wildcard {
		for _, opt := range slices.Sorted(maps.Keys(opts)) {
			declared := false
			for _, name := range g.Order {
				def, ok := g.Recipes[name].Options[opt]
				if !ok {
					continue
				}
				declared = true
				to := wildcard
				if override {
					if !def.AppliesTo(settings.OS) {
						continue
					}
					to = explicit
				}
				if err := assign(to, name, opt, assignment{opts[opt], origin}, override); err != nil {
					return err
				}
			}
			if !declared {
				return &formula.ConfigurationError{
					Package: origin,
					Option:  "*:" + opt,
					Reason:  "no dependency declares this option",
				}
			}
		}
		return nil
	}
	if !g.Has(dep) {
		return &formula.ConfigurationError{
			Package: origin,
			Option:  dep + ":*",
			Reason:  fmt.Sprintf("%s is not a dependency", dep),
		}
	}
	for _, opt := range slices.Sorted(maps.Keys(opts)) {
		if err := assign(explicit, dep, opt, assignment{opts[opt], origin}, override); err != nil {
			return err
		}
	}
	return nil
}

func assign(to map[string]map[string]assignment, dep, opt string, a assignment, override bool) error {
	if to[dep] == nil {
		to[dep] = map[string]assignment{}
	}
	if prev, ok := to[dep][opt]; ok && !override && prev.value != a.value {
		return &formula.ConfigurationError{
			Package: dep,
			Option:  opt,
			Reason: fmt.Sprintf("conflicting values %q (from %s) and %q (from %s)",
				prev.value, prev.origin, a.value, a.origin),
		}
	}
	if _, ok := to[dep][opt]; !ok || override {
		to[dep][opt] = a
	}
	return nil
}

func annotate(err error, dep string, origins map[string]string) error {
	ce, ok := err.(*formula.ConfigurationError)
	if !ok {
		return err
	}
	ce.Package = dep
	if origin, ok := origins[ce.Option]; ok {
		ce.Reason = strings.TrimSpace(ce.Reason + " (set by " + origin + ")")
	}
	return ce
}
