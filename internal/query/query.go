// Package query answers read-only questions about a kitchen: which nodes
// use a recipe or role, and what recipes and roles exist.
package query

import (
	"fmt"
	"slices"

	"github.com/ohler55/ojg/jp"

	"galley/internal/catalog"
	"galley/internal/runlist"
)

// Recipe describes one recipe of one cookbook.
type Recipe struct {
	Name         string
	Cookbook     string
	Description  string
	Dependencies []string
	Attributes   []string
}

type Service struct {
	store *catalog.Store
}

func New(store *catalog.Store) *Service {
	return &Service{store: store}
}

func (s *Service) Nodes() ([]catalog.Node, error) {
	return s.store.Nodes()
}

// NodesWithRecipe returns nodes whose run list names recipe directly or
// through one of their roles, nested roles included.
func (s *Service) NodesWithRecipe(recipe string) ([]catalog.Node, error) {
	nodes, err := s.store.Nodes()
	if err != nil {
		return nil, err
	}
	var out []catalog.Node
	for _, n := range nodes {
		if slices.Contains(n.RunList.Recipes(), recipe) {
			out = append(out, n)
			continue
		}
		found, err := s.rolesContain(n.RunList.Roles(), recipe)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", n.Identity.Name, err)
		}
		if found {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *Service) rolesContain(roles []string, recipe string) (bool, error) {
	seen := make(map[string]struct{})
	queue := slices.Clone(roles)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}

		role, err := s.store.Role(name)
		if err != nil {
			return false, err
		}
		if slices.Contains(role.RunList.Recipes(), recipe) {
			return true, nil
		}
		queue = append(queue, role.RunList.Roles()...)
	}
	return false, nil
}

// NodesWithRole returns nodes whose own run list names role.
func (s *Service) NodesWithRole(role string) ([]catalog.Node, error) {
	nodes, err := s.store.Nodes()
	if err != nil {
		return nil, err
	}
	var out []catalog.Node
	for _, n := range nodes {
		if n.RunList.Contains(runlist.Role(role)) {
			out = append(out, n)
		}
	}
	return out, nil
}

// Recipes lists every recipe of every cookbook, by cookbook then recipe
// name.
func (s *Service) Recipes() ([]Recipe, error) {
	names, err := s.store.CookbookNames()
	if err != nil {
		return nil, err
	}
	var out []Recipe
	for _, name := range names {
		cb, err := s.store.Cookbook(name)
		if err != nil {
			return nil, err
		}
		deps := cb.DependencyNames()
		attrs := cb.AttributeNames()
		for _, r := range cb.RecipeNames() {
			out = append(out, Recipe{
				Name:         r,
				Cookbook:     name,
				Description:  cb.Recipes[r],
				Dependencies: deps,
				Attributes:   attrs,
			})
		}
	}
	return out, nil
}

func (s *Service) Roles() ([]catalog.Role, error) {
	return s.store.Roles()
}

// NodesWhere returns nodes for which the JSONPath expression selects at
// least one value in the raw node document, e.g. "$.nginx.listen" or
// "$.tags[?(@ == 'frontend')]".
func (s *Service) NodesWhere(expr string) ([]catalog.Node, error) {
	x, err := jp.ParseString(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid jsonpath %q: %w", expr, err)
	}
	names, docs, err := s.store.RawNodes()
	if err != nil {
		return nil, err
	}
	var out []catalog.Node
	for i, doc := range docs {
		if len(x.Get(doc)) == 0 {
			continue
		}
		n, err := s.store.Node(names[i])
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
