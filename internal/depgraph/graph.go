// Package depgraph discovers the dependency graph of a descriptor by package
// name, before any version is selected.
package depgraph

import (
	"context"
	"slices"
	"strings"

	"github.com/zenplay/zpkg/formula"
)

// Recipes gives access to the recipe (descriptor) of a dependency by name.
type Recipes interface {
	Recipe(ctx context.Context, name string) (*formula.Descriptor, error)
}

// Graph is the set of packages reachable from a root descriptor.
type Graph struct {
	Root *formula.Descriptor

	// Order lists dependency names in discovery (breadth-first) order.
	Order []string

	// Recipes maps a dependency name to its recipe.
	Recipes map[string]*formula.Descriptor

	// Edges maps a package name (root included) to the names it requires
	// directly, in declaration order.
	Edges map[string][]string
}

// Descriptors returns the root followed by every dependency recipe in
// discovery order.
func (g *Graph) Descriptors() []*formula.Descriptor {
	out := make([]*formula.Descriptor, 0, len(g.Order)+1)
	out = append(out, g.Root)
	for _, name := range g.Order {
		out = append(out, g.Recipes[name])
	}
	return out
}

// Has reports whether name is a dependency in the graph.
func (g *Graph) Has(name string) bool {
	_, ok := g.Recipes[name]
	return ok
}

// Discover walks the requirements of root. Test requirements of the root are
// followed; test requirements of dependencies are not, since consumers never
// see them. Cycles are configuration errors.
func Discover(ctx context.Context, root *formula.Descriptor, recipes Recipes) (*Graph, error) {
	g := &Graph{
		Root:    root,
		Recipes: map[string]*formula.Descriptor{},
		Edges:   map[string][]string{},
	}
	queue := []*formula.Descriptor{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		reqs := cur.Requires
		if cur != root {
			reqs = cur.RuntimeRequires()
		}
		for _, r := range reqs {
			g.Edges[cur.Name] = append(g.Edges[cur.Name], r.Name)
			if r.Name == root.Name || g.Has(r.Name) {
				continue
			}
			dep, err := recipes.Recipe(ctx, r.Name)
			if err != nil {
				return nil, &formula.ConfigurationError{
					Package: cur.Name,
					Reason:  "load recipe of " + r.Name,
					Err:     err,
				}
			}
			g.Recipes[r.Name] = dep
			g.Order = append(g.Order, r.Name)
			queue = append(queue, dep)
		}
	}
	if cycle := g.cycle(); cycle != nil {
		return nil, formula.Configf(root.Name, "dependency cycle: %s", strings.Join(cycle, " -> "))
	}
	return g, nil
}

// cycle returns the first cycle found, as a path whose last element repeats
// an earlier one, or nil.
func (g *Graph) cycle() []string {
	const (
		unseen = iota
		active
		done
	)
	state := map[string]int{}
	var stack []string
	var visit func(name string) []string
	visit = func(name string) []string {
		state[name] = active
		stack = append(stack, name)
		for _, dep := range g.Edges[name] {
			switch state[dep] {
			case active:
				i := slices.Index(stack, dep)
				return append(slices.Clone(stack[i:]), dep)
			case unseen:
				if c := visit(dep); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = done
		return nil
	}
	return visit(g.Root.Name)
}

// BuildOrder returns dependency names ordered so that every package comes
// after everything it requires. Ties keep discovery order.
func (g *Graph) BuildOrder() []string {
	var order []string
	visited := map[string]bool{}
	var visit func(name string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		for _, dep := range g.Edges[name] {
			visit(dep)
		}
		order = append(order, name)
	}
	for _, name := range g.Order {
		visit(name)
	}
	return order
}
