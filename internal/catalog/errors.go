package catalog

import (
	"errors"
	"fmt"
)

// ErrNotFound is matched by errors.Is for any missing document.
var ErrNotFound = errors.New("not found")

// Kind names the collection a catalog error refers to.
type Kind string

const (
	KindNode     Kind = "node"
	KindRole     Kind = "role"
	KindCookbook Kind = "cookbook"
	KindKitchen  Kind = "kitchen"
)

// Error is a fatal catalog failure: a document that is missing or does not
// parse. It names the offending identity and file.
type Error struct {
	Kind Kind
	Name string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Path == "" {
		return fmt.Sprintf("%s %q: %v", e.Kind, e.Name, e.Err)
	}
	return fmt.Sprintf("%s %q (%s): %v", e.Kind, e.Name, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NotFound returns a not-found error for the named document.
func NotFound(kind Kind, name, path string) *Error {
	return &Error{Kind: kind, Name: name, Path: path, Err: ErrNotFound}
}
