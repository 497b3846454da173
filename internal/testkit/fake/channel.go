// Package fake provides a recording remote.Channel for tests.
package fake

import (
	"context"
	"slices"
	"sync"

	"galley/internal/remote"
)

// Call is one recorded channel operation.
type Call struct {
	Method string
	Args   []any
}

// Channel is a remote.Channel that records every call. The hostname probe
// is answered from Hostname; everything else goes to Delegate when set and
// succeeds silently otherwise.
type Channel struct {
	mu    sync.Mutex
	calls []Call

	Name     string
	Hostname string
	Delegate remote.Channel
	// PutErr fails every Put.
	PutErr error
}

var _ remote.Channel = (*Channel)(nil)

func (c *Channel) record(method string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, Call{Method: method, Args: args})
}

// Calls returns the recorded calls to method, or every call when method
// is empty.
func (c *Channel) Calls(method string) []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	if method == "" {
		return slices.Clone(c.calls)
	}
	return slices.DeleteFunc(slices.Clone(c.calls), func(call Call) bool {
		return call.Method != method
	})
}

// Forget drops the recorded calls.
func (c *Channel) Forget() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = nil
}

func (c *Channel) Target() string {
	if c.Name == "" {
		return "fake"
	}
	return c.Name
}

func (c *Channel) Run(ctx context.Context, script string) (string, error) {
	if script == remote.HostnameScript() {
		c.record("Hostname")
		return c.Hostname, nil
	}
	c.record("Run", script)
	if c.Delegate != nil {
		return c.Delegate.Run(ctx, script)
	}
	return "", nil
}

func (c *Channel) Exec(ctx context.Context, script string) (remote.Result, error) {
	c.record("Exec", script)
	if c.Delegate != nil {
		return c.Delegate.Exec(ctx, script)
	}
	return remote.Result{}, nil
}

func (c *Channel) Put(ctx context.Context, localPath, remotePath string) error {
	c.record("Put", localPath, remotePath)
	if c.PutErr != nil {
		return c.PutErr
	}
	if c.Delegate != nil {
		return c.Delegate.Put(ctx, localPath, remotePath)
	}
	return nil
}

func (c *Channel) Exists(ctx context.Context, remotePath string) (bool, error) {
	c.record("Exists", remotePath)
	if c.Delegate != nil {
		return c.Delegate.Exists(ctx, remotePath)
	}
	return false, nil
}
