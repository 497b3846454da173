package resolve

import "slices"

// Closure is an insertion-ordered set of base cookbook names.
type Closure struct {
	names []string
	index map[string]struct{}
}

func NewClosure() *Closure {
	return &Closure{index: make(map[string]struct{})}
}

// Add appends name unless already present and reports whether it was added.
func (c *Closure) Add(name string) bool {
	if c.index == nil {
		c.index = make(map[string]struct{})
	}
	if _, ok := c.index[name]; ok {
		return false
	}
	c.index[name] = struct{}{}
	c.names = append(c.names, name)
	return true
}

func (c *Closure) Contains(name string) bool {
	_, ok := c.index[name]
	return ok
}

func (c *Closure) Len() int { return len(c.names) }

// At returns the i-th cookbook in insertion order.
func (c *Closure) At(i int) string { return c.names[i] }

// Names returns a copy of the cookbooks in insertion order.
func (c *Closure) Names() []string { return slices.Clone(c.names) }
