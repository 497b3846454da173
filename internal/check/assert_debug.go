//go:build debug

// Package check holds invariant assertions that only fire in debug builds
// (go build -tags debug). Release builds compile them to no-ops.
package check

import "fmt"

// Assertf panics with the formatted message when cond is false.
func Assertf(cond bool, format string, args ...any) {
	if cond {
		return
	}
	panic("galley: invariant violated: " + fmt.Sprintf(format, args...))
}

// Unique panics when names contains the same value twice.
func Unique(what string, names []string) {
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, dup := seen[n]; dup {
			panic(fmt.Sprintf("galley: invariant violated: duplicate %s %q", what, n))
		}
		seen[n] = struct{}{}
	}
}
