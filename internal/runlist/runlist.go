// Package runlist parses run-list entries of the form recipe[name],
// recipe[cookbook::sub] and role[name], and extracts recipes and roles from
// a run list in declared order.
package runlist

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind is the tag of a run-list entry.
type Kind string

const (
	KindRecipe Kind = "recipe"
	KindRole   Kind = "role"
)

// Entry is one reference in a run list.
type Entry struct {
	Kind Kind
	Name string
}

func Recipe(name string) Entry { return Entry{Kind: KindRecipe, Name: name} }
func Role(name string) Entry   { return Entry{Kind: KindRole, Name: name} }

func (e Entry) String() string {
	return string(e.Kind) + "[" + e.Name + "]"
}

// Parse reads a single entry. A bare name without a kind wrapper is a recipe.
func Parse(raw string) (Entry, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Entry{}, fmt.Errorf("empty run list entry")
	}

	open := strings.IndexByte(s, '[')
	if open < 0 {
		if strings.ContainsAny(s, "[] ") {
			return Entry{}, fmt.Errorf("invalid run list entry %q", raw)
		}
		return Recipe(s), nil
	}
	if !strings.HasSuffix(s, "]") {
		return Entry{}, fmt.Errorf("invalid run list entry %q: missing closing bracket", raw)
	}

	kind := Kind(s[:open])
	name := strings.TrimSpace(s[open+1 : len(s)-1])
	switch kind {
	case KindRecipe, KindRole:
	default:
		return Entry{}, fmt.Errorf("invalid run list entry %q: unknown kind %q", raw, kind)
	}
	if name == "" || strings.ContainsAny(name, "[]") {
		return Entry{}, fmt.Errorf("invalid run list entry %q: bad name", raw)
	}
	return Entry{Kind: kind, Name: name}, nil
}

// List is an ordered run list. It encodes as a JSON array of strings.
type List []Entry

// ParseList parses every entry, failing on the first malformed one.
func ParseList(raw []string) (List, error) {
	out := make(List, 0, len(raw))
	for _, r := range raw {
		e, err := Parse(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Recipes returns recipe references in declared order, duplicates kept.
func (l List) Recipes() []string {
	return l.names(KindRecipe)
}

// Roles returns role names in declared order, duplicates kept.
func (l List) Roles() []string {
	return l.names(KindRole)
}

func (l List) names(kind Kind) []string {
	var out []string
	for _, e := range l {
		if e.Kind == kind {
			out = append(out, e.Name)
		}
	}
	return out
}

// Contains reports whether the list holds e verbatim.
func (l List) Contains(e Entry) bool {
	for _, x := range l {
		if x == e {
			return true
		}
	}
	return false
}

func (l List) Strings() []string {
	out := make([]string, len(l))
	for i, e := range l {
		out[i] = e.String()
	}
	return out
}

func (l List) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Strings())
}

func (l *List) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("run_list: %w", err)
	}
	parsed, err := ParseList(raw)
	if err != nil {
		return fmt.Errorf("run_list: %w", err)
	}
	*l = parsed
	return nil
}

// Cookbook strips a recipe reference to its base cookbook name.
func Cookbook(recipe string) string {
	base, _, _ := strings.Cut(recipe, "::")
	return base
}

// IsBase reports whether recipe addresses a cookbook's default recipe.
func IsBase(recipe string) bool {
	return !strings.Contains(recipe, "::")
}
