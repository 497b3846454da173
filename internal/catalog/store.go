// Package catalog reads the local kitchen: node documents under nodes/, role
// documents under roles/ (nested directories allowed) and cookbook metadata
// under cookbooks/<name>/metadata.json.
//
// The catalog is read-only apart from node documents. A document that fails
// to parse aborts the whole operation; partial catalogs are never returned.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const (
	NodesDir     = "nodes"
	RolesDir     = "roles"
	CookbooksDir = "cookbooks"
	MetadataFile = "metadata.json"
	docExt       = ".json"
)

// Store is a kitchen directory on disk.
type Store struct {
	root string
}

// Open checks that root looks like a kitchen and returns a Store over it.
func Open(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve kitchen path: %w", err)
	}
	for _, dir := range []string{NodesDir, RolesDir, CookbooksDir} {
		info, err := os.Stat(filepath.Join(abs, dir))
		if err != nil || !info.IsDir() {
			return nil, &Error{
				Kind: KindKitchen,
				Name: abs,
				Path: filepath.Join(abs, dir),
				Err:  fmt.Errorf("%s/ directory missing; run 'galley init' to create a kitchen", dir),
			}
		}
	}
	return &Store{root: abs}, nil
}

func (s *Store) Root() string { return s.root }

func (s *Store) NodePath(name string) string {
	return filepath.Join(s.root, NodesDir, name+docExt)
}

func (s *Store) RolePath(name string) string {
	return filepath.Join(s.root, RolesDir, filepath.FromSlash(name)+docExt)
}

func (s *Store) CookbookPath(name string) string {
	return filepath.Join(s.root, CookbooksDir, name)
}

// Node loads the node document named name.
func (s *Store) Node(name string) (Node, error) {
	return s.nodeAt(name, s.NodePath(name))
}

func (s *Store) nodeAt(name, path string) (Node, error) {
	var n Node
	if err := readDoc(KindNode, name, path, &n); err != nil {
		return Node{}, err
	}
	return n, nil
}

// ReadNodeFile loads a node document from an arbitrary path, such as the
// scratch document written for one-off runs.
func (s *Store) ReadNodeFile(path string) (Node, error) {
	name := strings.TrimSuffix(filepath.Base(path), docExt)
	return s.nodeAt(name, path)
}

// Nodes loads every node document, sorted by file name.
func (s *Store) Nodes() ([]Node, error) {
	names, err := s.nodeNames()
	if err != nil {
		return nil, err
	}
	out := make([]Node, 0, len(names))
	for _, name := range names {
		n, err := s.Node(name)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// RawNodes loads every node document as a generic JSON tree, sorted by
// file name, keyed by document name.
func (s *Store) RawNodes() ([]string, []any, error) {
	names, err := s.nodeNames()
	if err != nil {
		return nil, nil, err
	}
	docs := make([]any, 0, len(names))
	for _, name := range names {
		var doc any
		if err := readDoc(KindNode, name, s.NodePath(name), &doc); err != nil {
			return nil, nil, err
		}
		docs = append(docs, doc)
	}
	return names, docs, nil
}

func (s *Store) nodeNames() ([]string, error) {
	dir := filepath.Join(s.root, NodesDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &Error{Kind: KindNode, Name: "*", Path: dir, Err: err}
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), docExt) || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), docExt))
	}
	slices.Sort(names)
	return names, nil
}

// HasRole reports whether a role document exists for name.
func (s *Store) HasRole(name string) bool {
	if !validRoleName(name) {
		return false
	}
	info, err := os.Stat(s.RolePath(name))
	return err == nil && !info.IsDir()
}

// Role loads the role whose identity (path relative to roles/, no
// extension) is name.
func (s *Store) Role(name string) (Role, error) {
	if !validRoleName(name) {
		return Role{}, NotFound(KindRole, name, "")
	}
	var r Role
	if err := readDoc(KindRole, name, s.RolePath(name), &r); err != nil {
		return Role{}, err
	}
	r.Path = name
	return r, nil
}

// Roles walks roles/ recursively and loads every role, sorted by identity.
func (s *Store) Roles() ([]Role, error) {
	dir := filepath.Join(s.root, RolesDir)
	var names []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), docExt) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(strings.TrimSuffix(rel, docExt)))
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &Error{Kind: KindRole, Name: "*", Path: dir, Err: err}
	}
	slices.Sort(names)

	out := make([]Role, 0, len(names))
	for _, name := range names {
		r, err := s.Role(name)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// HasCookbook reports whether cookbooks/<name> is a directory.
func (s *Store) HasCookbook(name string) bool {
	if !ValidName(name) {
		return false
	}
	info, err := os.Stat(s.CookbookPath(name))
	return err == nil && info.IsDir()
}

// Cookbook loads cookbooks/<name>/metadata.json.
func (s *Store) Cookbook(name string) (Cookbook, error) {
	path := filepath.Join(s.CookbookPath(name), MetadataFile)
	if !s.HasCookbook(name) {
		return Cookbook{}, NotFound(KindCookbook, name, s.CookbookPath(name))
	}
	var c Cookbook
	if err := readDoc(KindCookbook, name, path, &c); err != nil {
		return Cookbook{}, err
	}
	if c.Name == "" {
		c.Name = name
	}
	return c, nil
}

// CookbookNames lists cookbook directories, sorted, hidden entries excluded.
func (s *Store) CookbookNames() ([]string, error) {
	dir := filepath.Join(s.root, CookbooksDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &Error{Kind: KindCookbook, Name: "*", Path: dir, Err: err}
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return names, nil
}

// ValidName reports whether name can be used as a single file or directory
// name inside the kitchen: non-empty, no path separators, not hidden.
func ValidName(name string) bool {
	return name != "" && !strings.ContainsAny(name, `/\`) && !strings.HasPrefix(name, ".")
}

func validRoleName(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}

func readDoc(kind Kind, name, path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NotFound(kind, name, path)
		}
		return &Error{Kind: kind, Name: name, Path: path, Err: err}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &Error{Kind: kind, Name: name, Path: path, Err: fmt.Errorf("parse: %w", err)}
	}
	return nil
}
