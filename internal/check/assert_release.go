//go:build !debug

// Package check holds invariant assertions that only fire in debug builds
// (go build -tags debug). Release builds compile them to no-ops.
package check

func Assertf(_ bool, _ string, _ ...any) {}

func Unique(_ string, _ []string) {}
