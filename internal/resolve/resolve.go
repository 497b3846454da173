// Package resolve computes the set of cookbooks a run list needs.
//
// Resolution has three stages. Direct recipes contribute their base
// cookbook. Each referenced role contributes the base cookbooks of its own
// recipes (nested roles are expanded once each). The closure is then grown
// to a fixed point over declared cookbook dependencies: every cookbook in the
// closure is scanned exactly once, in insertion order, and dependencies that
// exist locally are appended behind it so they get scanned too. Dependencies
// missing from the kitchen are reported as warnings and left out.
package resolve

import (
	"context"
	"fmt"

	"galley/internal/catalog"
	"galley/internal/check"
	"galley/internal/logging"
	"galley/internal/runlist"
)

// Catalog is the read access resolution needs.
type Catalog interface {
	Role(name string) (catalog.Role, error)
	Cookbook(name string) (catalog.Cookbook, error)
	HasCookbook(name string) bool
}

// Warning records a declared dependency whose cookbook is not in the
// kitchen. It never fails resolution.
type Warning struct {
	Cookbook   string
	Dependency string
}

func (w Warning) String() string {
	return fmt.Sprintf("cookbook %q depends on %q, which was not found", w.Cookbook, w.Dependency)
}

// Result is the outcome of resolving one run list.
type Result struct {
	Cookbooks []string
	Roles     []string
	Warnings  []Warning
}

// Resolve computes the ordered, de-duplicated cookbook closure of runList.
// A missing or malformed role, or missing cookbook metadata for any member
// of the closure, is returned as a *catalog.Error.
func Resolve(ctx context.Context, cat Catalog, runList runlist.List) (Result, error) {
	log := logging.FromContext(ctx)
	closure := NewClosure()

	for _, recipe := range runList.Recipes() {
		closure.Add(runlist.Cookbook(recipe))
	}

	roles, err := expandRoles(cat, runList.Roles(), closure)
	if err != nil {
		return Result{}, err
	}

	var warnings []Warning
	warned := make(map[Warning]struct{})
	for i := 0; i < closure.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		name := closure.At(i)
		cb, err := cat.Cookbook(name)
		if err != nil {
			return Result{}, err
		}
		if !cb.HasBaseRecipe() {
			continue
		}
		for _, dep := range cb.DependencyNames() {
			if closure.Contains(dep) {
				continue
			}
			if cat.HasCookbook(dep) {
				closure.Add(dep)
				log.Debug("added cookbook dependency", "cookbook", name, "dependency", dep)
				continue
			}
			w := Warning{Cookbook: name, Dependency: dep}
			if _, dup := warned[w]; dup {
				continue
			}
			warned[w] = struct{}{}
			warnings = append(warnings, w)
			log.Warn("possible error because of missing dependency", "cookbook", name, "dependency", dep)
		}
	}

	out := closure.Names()
	check.Unique("cookbook", out)
	return Result{Cookbooks: out, Roles: roles, Warnings: warnings}, nil
}

// expandRoles adds the base cookbooks of every recipe reachable through
// names. It returns the role identities visited, in first-seen order.
func expandRoles(cat Catalog, names []string, closure *Closure) ([]string, error) {
	seen := make(map[string]struct{})
	var visited []string
	queue := append([]string(nil), names...)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}

		role, err := cat.Role(name)
		if err != nil {
			return nil, err
		}
		visited = append(visited, name)
		for _, recipe := range role.RunList.Recipes() {
			closure.Add(runlist.Cookbook(recipe))
		}
		queue = append(queue, role.RunList.Roles()...)
	}
	return visited, nil
}
