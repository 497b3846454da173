package nodesync

import (
	"errors"
	"fmt"

	"galley/internal/catalog"
	"galley/internal/converge"
	"galley/internal/remote"
)

// Error names the node and step a sync failed in.
type Error struct {
	Node   string
	Target string
	Phase  Phase
	Err    error
}

func (e *Error) Error() string {
	if e.Node == "" {
		return fmt.Sprintf("sync %s failed in %s: %v", e.Target, e.Phase, e.Err)
	}
	return fmt.Sprintf("sync %s (%s) failed in %s: %v", e.Node, e.Target, e.Phase, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Outcome classifies err for the ledger and the exit status.
func Outcome(err error) string {
	if err == nil {
		return converge.Success.String()
	}
	var failure *converge.Failure
	if errors.As(err, &failure) {
		return converge.ConvergenceError.String()
	}
	var te *remote.TransportError
	if errors.As(err, &te) {
		return converge.TransportError.String()
	}
	var ce *catalog.Error
	if errors.As(err, &ce) {
		return "catalog_error"
	}
	return "error"
}
