// Package resolve selects one concrete version for every dependency of a
// discovered graph.
package resolve

import (
	"context"
	"errors"
	"io/fs"
	"maps"
	"slices"

	"github.com/zenplay/zpkg/formula"
	"github.com/zenplay/zpkg/internal/depgraph"
	"github.com/zenplay/zpkg/pkgs/mod/constraint"
	"github.com/zenplay/zpkg/pkgs/mod/module"
)

// Index lists the versions available for a package.
type Index interface {
	Versions(ctx context.Context, name string) ([]string, error)
}

// Node is a resolved dependency.
type Node struct {
	Ref         module.Version
	Recipe      *formula.Descriptor
	Direct      bool // required by the root descriptor
	Test        bool // only reachable through test requirements of the root
	Constraints []formula.ConstraintOrigin
}

// Result is the resolved dependency graph.
type Result struct {
	// Nodes are in build order: every node follows the nodes it requires.
	Nodes []Node

	byName  map[string]int
	edges   map[string][]string
	root    string
	runtime []string // runtime requirements of the root
}

// Node returns the resolved node for name.
func (r *Result) Node(name string) (Node, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Node{}, false
	}
	return r.Nodes[i], true
}

// Requires returns the resolved refs of everything the package name
// depends on, directly or not, sorted by name. For the root that is its
// runtime dependencies.
func (r *Result) Requires(name string) []module.Version {
	seen := map[string]bool{}
	var visit func([]string)
	visit = func(deps []string) {
		for _, dep := range deps {
			if seen[dep] || dep == r.root {
				continue
			}
			seen[dep] = true
			visit(r.edges[dep])
		}
	}
	if name == r.root {
		visit(r.runtime)
	} else {
		visit(r.edges[name])
	}
	out := make([]module.Version, 0, len(seen))
	for _, n := range slices.Sorted(maps.Keys(seen)) {
		node, _ := r.Node(n)
		out = append(out, node.Ref)
	}
	return out
}

// Runtime returns the nodes consumers of the root see, in build order.
func (r *Result) Runtime() []Node {
	var out []Node
	for _, n := range r.Nodes {
		if !n.Test {
			out = append(out, n)
		}
	}
	return out
}

// Resolve picks a version for every dependency in g. Each dependency gets
// the constraints of every descriptor requiring it. An exact pin is chosen
// when present and must satisfy every other constraint; otherwise the
// highest available version satisfying all constraints is chosen.
//
// No satisfying version yields a *formula.ResolutionConflict naming every
// constraint. A range with no known versions is a
// *formula.ConfigurationError since it cannot be narrowed to one version.
func Resolve(ctx context.Context, g *depgraph.Graph, index Index) (*Result, error) {
	runtimeDeps := reachable(g)
	res := &Result{byName: map[string]int{}, edges: g.Edges, root: g.Root.Name}
	for _, r := range g.Root.RuntimeRequires() {
		res.runtime = append(res.runtime, r.Name)
	}
	for _, name := range g.BuildOrder() {
		recipe := g.Recipes[name]
		var cs []constraint.Constraint
		var origins []formula.ConstraintOrigin
		user := recipe.User
		for _, d := range g.Descriptors() {
			if !slices.Contains(g.Edges[d.Name], name) {
				continue
			}
			r, _ := d.Requirement(name)
			cs = append(cs, r.Constraint)
			origins = append(origins, formula.ConstraintOrigin{Constraint: r.Constraint.String(), Origin: d.Name})
			if user == "" {
				user = r.User
			}
		}

		candidates, err := index.Versions(ctx, name)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		version, err := pick(name, cs, origins, candidates)
		if err != nil {
			return nil, err
		}
		res.byName[name] = len(res.Nodes)
		res.Nodes = append(res.Nodes, Node{
			Ref:         module.Version{Path: name, Version: version, User: user},
			Recipe:      recipe,
			Direct:      slices.Contains(g.Edges[g.Root.Name], name),
			Test:        !runtimeDeps[name],
			Constraints: origins,
		})
	}
	return res, nil
}

func pick(name string, cs []constraint.Constraint, origins []formula.ConstraintOrigin, candidates []string) (string, error) {
	conflict := func() error {
		return &formula.ResolutionConflict{
			Package:     name,
			Constraints: origins,
			Candidates:  sorted(candidates),
		}
	}
	for _, c := range cs {
		if c.Kind != constraint.Exact {
			continue
		}
		for _, other := range cs {
			if !other.Check(c.Version) {
				return "", conflict()
			}
		}
		if len(candidates) > 0 && !slices.ContainsFunc(candidates, func(v string) bool {
			return constraint.Compare(v, c.Version) == 0
		}) {
			return "", conflict()
		}
		return c.Version, nil
	}
	if len(candidates) == 0 {
		return "", formula.Configf(name, "cannot resolve %s: no exact version is pinned and no versions are known", name)
	}
	v, ok := constraint.Max(candidates, cs...)
	if !ok {
		return "", conflict()
	}
	return v, nil
}

// reachable returns the dependencies reachable from the root's runtime
// requirements.
func reachable(g *depgraph.Graph) map[string]bool {
	seen := map[string]bool{}
	var visit func(name string)
	visit = func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		for _, dep := range g.Edges[name] {
			visit(dep)
		}
	}
	for _, r := range g.Root.RuntimeRequires() {
		visit(r.Name)
	}
	return seen
}

func sorted(versions []string) []string {
	out := slices.Clone(versions)
	slices.SortFunc(out, constraint.Compare)
	return out
}
