package query_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"galley/internal/catalog"
	"galley/internal/query"
	"galley/internal/testkit/kitchen"
)

func names(nodes []catalog.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Identity.Name)
	}
	return out
}

func fixture(t *testing.T) *query.Service {
	t.Helper()
	k := kitchen.New(t)
	k.Node("db1", []string{"role[db]"}, map[string]any{"postgresql": map[string]any{"version": "16"}})
	k.Node("lb1", []string{"recipe[haproxy]"}, nil)
	k.Node("web1", []string{"role[base]", "recipe[nginx::ssl]"}, map[string]any{"tags": []string{"frontend"}})
	k.Node("web2", []string{"role[web]"}, map[string]any{"tags": []string{"canary"}})
	k.Role("base", "recipe[ntp]")
	k.Role("db", "role[base]", "recipe[postgresql]")
	k.Role("web", "role[base]", "recipe[nginx]")
	k.Cookbook("haproxy")
	k.Cookbook("nginx")
	k.CookbookMeta("ntp", catalog.Cookbook{
		Recipes:      map[string]string{"ntp": "Installs ntp", "ntp::undo": "Removes ntp"},
		Dependencies: map[string]any{},
		Attributes:   map[string]any{"ntp/servers": map[string]any{}},
	})
	k.Cookbook("postgresql", "ntp")
	return query.New(k.Store())
}

func TestNodesSorted(t *testing.T) {
	nodes, err := fixture(t).Nodes()
	if err != nil {
		t.Fatalf("Nodes() error = %v", err)
	}
	if diff := cmp.Diff([]string{"db1", "lb1", "web1", "web2"}, names(nodes)); diff != "" {
		t.Fatalf("Nodes() mismatch (-want +got):\n%s", diff)
	}
}

func TestNodesWithRecipe(t *testing.T) {
	svc := fixture(t)
	tests := []struct {
		recipe string
		want   []string
	}{
		{recipe: "ntp", want: []string{"db1", "web1", "web2"}},
		{recipe: "nginx", want: []string{"web2"}},
		{recipe: "nginx::ssl", want: []string{"web1"}},
		{recipe: "haproxy", want: []string{"lb1"}},
		{recipe: "mysql", want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.recipe, func(t *testing.T) {
			got, err := svc.NodesWithRecipe(tt.recipe)
			if err != nil {
				t.Fatalf("NodesWithRecipe() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, names(got)); diff != "" {
				t.Fatalf("NodesWithRecipe(%q) mismatch (-want +got):\n%s", tt.recipe, diff)
			}
		})
	}
}

func TestNodesWithRecipeMissingRole(t *testing.T) {
	k := kitchen.New(t)
	k.Node("web1", []string{"role[ghost]"}, nil)
	_, err := query.New(k.Store()).NodesWithRecipe("nginx")
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("NodesWithRecipe() error = %v, want not found", err)
	}
}

func TestNodesWithRoleIsDirectOnly(t *testing.T) {
	got, err := fixture(t).NodesWithRole("base")
	if err != nil {
		t.Fatalf("NodesWithRole() error = %v", err)
	}
	if diff := cmp.Diff([]string{"web1"}, names(got)); diff != "" {
		t.Fatalf("NodesWithRole() mismatch (-want +got):\n%s", diff)
	}
}

func TestRecipes(t *testing.T) {
	got, err := fixture(t).Recipes()
	if err != nil {
		t.Fatalf("Recipes() error = %v", err)
	}
	want := []query.Recipe{
		{Name: "haproxy", Cookbook: "haproxy", Description: "Installs haproxy", Dependencies: []string{}, Attributes: []string{}},
		{Name: "nginx", Cookbook: "nginx", Description: "Installs nginx", Dependencies: []string{}, Attributes: []string{}},
		{Name: "ntp", Cookbook: "ntp", Description: "Installs ntp", Dependencies: []string{}, Attributes: []string{"ntp/servers"}},
		{Name: "ntp::undo", Cookbook: "ntp", Description: "Removes ntp", Dependencies: []string{}, Attributes: []string{"ntp/servers"}},
		{Name: "postgresql", Cookbook: "postgresql", Description: "Installs postgresql", Dependencies: []string{"ntp"}, Attributes: []string{}},
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("Recipes() mismatch (-want +got):\n%s", diff)
	}
}

func TestRoles(t *testing.T) {
	roles, err := fixture(t).Roles()
	if err != nil {
		t.Fatalf("Roles() error = %v", err)
	}
	var got []string
	for _, r := range roles {
		got = append(got, r.Name)
	}
	if diff := cmp.Diff([]string{"base", "db", "web"}, got); diff != "" {
		t.Fatalf("Roles() mismatch (-want +got):\n%s", diff)
	}
}

func TestNodesWhere(t *testing.T) {
	svc := fixture(t)
	tests := []struct {
		expr string
		want []string
	}{
		{expr: "$.postgresql.version", want: []string{"db1"}},
		{expr: "$.tags[?(@ == 'canary')]", want: []string{"web2"}},
		{expr: "$.identity.nodename", want: []string{"db1", "lb1", "web1", "web2"}},
		{expr: "$.missing", want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := svc.NodesWhere(tt.expr)
			if err != nil {
				t.Fatalf("NodesWhere() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, names(got)); diff != "" {
				t.Fatalf("NodesWhere(%q) mismatch (-want +got):\n%s", tt.expr, diff)
			}
		})
	}
}

func TestNodesWhereInvalidExpression(t *testing.T) {
	if _, err := fixture(t).NodesWhere("$[?("); err == nil {
		t.Fatal("NodesWhere() expected parse error")
	}
}
