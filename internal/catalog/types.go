package catalog

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"galley/internal/runlist"
)

// Key under which a node document stores its identity.
const IdentityKey = "identity"

const runListKey = "run_list"

// Identity names a node: Name is the human-readable host name (and the
// document file name), ID is the address used to reach it.
type Identity struct {
	Name string `json:"nodename"`
	ID   string `json:"nodeid"`
}

// Node is a node configuration document. Attributes hold every top-level
// key other than identity and run_list.
type Node struct {
	Identity   Identity
	RunList    runlist.List
	Attributes map[string]any
}

// MarshalJSON encodes the node as a single flat object. Keys are emitted in
// sorted order so repeated encodings are byte-identical.
func (n Node) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(n.Attributes)+2)
	maps.Copy(doc, n.Attributes)
	doc[IdentityKey] = n.Identity
	runList := n.RunList
	if runList == nil {
		runList = runlist.List{}
	}
	doc[runListKey] = runList
	return json.Marshal(doc)
}

func (n *Node) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var out Node
	if v, ok := raw[IdentityKey]; ok {
		if err := json.Unmarshal(v, &out.Identity); err != nil {
			return fmt.Errorf("%s: %w", IdentityKey, err)
		}
		delete(raw, IdentityKey)
	}
	if v, ok := raw[runListKey]; ok {
		if err := json.Unmarshal(v, &out.RunList); err != nil {
			return err
		}
		delete(raw, runListKey)
	}
	if len(raw) > 0 {
		out.Attributes = make(map[string]any, len(raw))
		for k, v := range raw {
			var attr any
			if err := json.Unmarshal(v, &attr); err != nil {
				return fmt.Errorf("attribute %q: %w", k, err)
			}
			out.Attributes[k] = attr
		}
	}
	*n = out
	return nil
}

// Role is a named group of recipes with attribute defaults and overrides.
// Path is the role identity relative to roles/, without extension.
type Role struct {
	Name               string         `json:"name"`
	Description        string         `json:"description,omitempty"`
	DefaultAttributes  map[string]any `json:"default_attributes,omitempty"`
	OverrideAttributes map[string]any `json:"override_attributes,omitempty"`
	RunList            runlist.List   `json:"run_list"`

	Path string `json:"-"`
}

// Cookbook is a cookbook's metadata document. Dependency values are
// version constraints and are never interpreted.
type Cookbook struct {
	Name         string            `json:"name,omitempty"`
	Recipes      map[string]string `json:"recipes"`
	Dependencies map[string]any    `json:"dependencies"`
	Attributes   map[string]any    `json:"attributes"`
}

// RecipeNames returns the declared recipes in sorted order.
func (c Cookbook) RecipeNames() []string {
	return slices.Sorted(maps.Keys(c.Recipes))
}

// DependencyNames returns the declared dependency cookbooks in sorted order.
func (c Cookbook) DependencyNames() []string {
	return slices.Sorted(maps.Keys(c.Dependencies))
}

// AttributeNames returns the declared attributes in sorted order.
func (c Cookbook) AttributeNames() []string {
	return slices.Sorted(maps.Keys(c.Attributes))
}

// HasBaseRecipe reports whether the cookbook's own default recipe is
// declared. A cookbook declaring no recipes has none.
func (c Cookbook) HasBaseRecipe() bool {
	for name := range c.Recipes {
		if runlist.IsBase(name) {
			return true
		}
	}
	return false
}
