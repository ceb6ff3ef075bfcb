package hooks

import (
	"github.com/bmatcuk/doublestar/v4"

	"github.com/alucardeht/lspipe/pkg/protocol"
)

// ExpandMethods resolves glob patterns against the standard LSP method
// catalog, so "textDocument/*" registers a hook on every document method.
// A pattern that matches nothing is kept verbatim; that is how custom
// methods outside the catalog are named.
func ExpandMethods(patterns []string) []string {
	seen := make(map[string]bool)
	var methods []string
	add := func(m string) {
		if !seen[m] {
			seen[m] = true
			methods = append(methods, m)
		}
	}

	for _, pat := range patterns {
		matched := false
		for _, m := range protocol.StandardMethods {
			ok, err := doublestar.Match(pat, m)
			if err != nil {
				break
			}
			if ok {
				add(m)
				matched = true
			}
		}
		if !matched {
			add(pat)
		}
	}
	return methods
}
