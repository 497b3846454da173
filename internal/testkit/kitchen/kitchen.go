// Package kitchen builds throwaway kitchens on disk for tests.
package kitchen

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"galley/internal/catalog"
	"galley/internal/remote"
)

// Kitchen is a kitchen rooted in a test temp directory.
type Kitchen struct {
	t    testing.TB
	Root string
}

// New creates an empty kitchen with nodes/, roles/ and cookbooks/.
func New(t testing.TB) *Kitchen {
	t.Helper()
	root := t.TempDir()
	for _, dir := range []string{catalog.NodesDir, catalog.RolesDir, catalog.CookbooksDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return &Kitchen{t: t, Root: root}
}

// Store opens the kitchen as a catalog.
func (k *Kitchen) Store() *catalog.Store {
	k.t.Helper()
	s, err := catalog.Open(k.Root)
	if err != nil {
		k.t.Fatalf("catalog.Open() error = %v", err)
	}
	return s
}

// WriteFile writes content at a path relative to the kitchen root.
func (k *Kitchen) WriteFile(rel, content string) {
	k.t.Helper()
	path := filepath.Join(k.Root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		k.t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		k.t.Fatal(err)
	}
}

func (k *Kitchen) writeJSON(rel string, v any) {
	k.t.Helper()
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		k.t.Fatal(err)
	}
	k.WriteFile(rel, string(data)+"\n")
}

// Node writes nodes/<name>.json with the given run list and attributes.
func (k *Kitchen) Node(name string, runList []string, attrs map[string]any) {
	k.t.Helper()
	doc := map[string]any{
		catalog.IdentityKey: map[string]string{"nodename": name, "nodeid": name + ".example.com"},
		"run_list":          runList,
	}
	for key, v := range attrs {
		doc[key] = v
	}
	k.writeJSON("nodes/"+name+".json", doc)
}

// Role writes roles/<path>.json with the given run list.
func (k *Kitchen) Role(path string, runList ...string) {
	k.t.Helper()
	if runList == nil {
		runList = []string{}
	}
	k.writeJSON("roles/"+path+".json", map[string]any{
		"name":                filepath.Base(path),
		"default_attributes":  map[string]any{},
		"override_attributes": map[string]any{},
		"run_list":            runList,
	})
}

// Cookbook writes a cookbook whose base recipe depends on deps, plus one
// recipe file so the directory has content to archive.
func (k *Kitchen) Cookbook(name string, deps ...string) {
	k.t.Helper()
	dependencies := make(map[string]any, len(deps))
	for _, d := range deps {
		dependencies[d] = ">= 0.0.0"
	}
	k.CookbookMeta(name, catalog.Cookbook{
		Recipes:      map[string]string{name: "Installs " + name},
		Dependencies: dependencies,
		Attributes:   map[string]any{},
	})
}

// CookbookMeta writes a cookbook with an explicit metadata document.
func (k *Kitchen) CookbookMeta(name string, meta catalog.Cookbook) {
	k.t.Helper()
	k.writeJSON("cookbooks/"+name+"/metadata.json", meta)
	k.WriteFile("cookbooks/"+name+"/recipes/default.rb", "# "+name+"\n")
}

// TargetLayout returns a remote layout inside a fresh temp directory, for
// syncing to the local channel without sudo.
func TargetLayout(t testing.TB) remote.Layout {
	t.Helper()
	dir := t.TempDir()
	l := remote.Layout{
		Root:      filepath.Join(dir, "chef-solo"),
		ConfigDir: filepath.Join(dir, "etc", "chef"),
		TempDir:   filepath.Join(dir, "tmp"),
	}
	if err := os.MkdirAll(l.TempDir, 0o755); err != nil {
		t.Fatal(err)
	}
	return l
}
