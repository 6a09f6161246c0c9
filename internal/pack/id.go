package pack

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"

	"github.com/zenplay/zpkg/formula"
	"github.com/zenplay/zpkg/pkgs/mod/module"
)

// ID computes the package ID: a hash of the package reference, the settings
// axes the descriptor declares, its effective options and the resolved
// dependency refs.
//
// Header-only packages are the same for every configuration, so their ID
// leaves out settings and options. Under formula.CacheIgnoreDependencies
// the dependency refs are left out as well, and a package built once is
// reused after its dependencies change.
func ID(d *formula.Descriptor, settings formula.Settings, opts formula.OptionSet, deps []module.Version) string {
	h := sha256.New()
	fmt.Fprintf(h, "ref=%s\n", d.Ref())
	fmt.Fprintf(h, "type=%s\n", d.Type)
	if !d.Type.HeaderOnly() {
		for _, kv := range settings.Axes(d.Settings) {
			fmt.Fprintf(h, "setting.%s\n", kv)
		}
		for _, name := range opts.Names() {
			v, _ := opts.Get(name)
			fmt.Fprintf(h, "option.%s=%s\n", name, v)
		}
	}
	if d.CachePolicy.IncludesDependencies() {
		refs := make([]string, len(deps))
		for i, dep := range deps {
			refs[i] = dep.String()
		}
		slices.Sort(refs)
		for _, r := range refs {
			fmt.Fprintf(h, "requires=%s\n", r)
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:40]
}
