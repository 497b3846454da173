// Package remote runs shell scripts and copies files on a target machine.
//
// Two channels are provided: SSH, which shells out to the ssh client the
// way an operator would, and Local, which runs the same scripts on this
// machine. Scripts are built in scripts.go and always start with the same
// preamble that selects sudo for non-root users.
package remote

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// Channel is a remote execution channel bound to one target.
type Channel interface {
	// Target names the machine for logs and errors.
	Target() string
	// Run executes script and fails with a *TransportError on non-zero exit.
	Run(ctx context.Context, script string) (string, error)
	// Exec executes script and reports its exit status. The error is only
	// set when the script could not be run at all.
	Exec(ctx context.Context, script string) (Result, error)
	// Put copies a local file to remotePath.
	Put(ctx context.Context, localPath, remotePath string) error
	// Exists reports whether remotePath exists.
	Exists(ctx context.Context, remotePath string) (bool, error)
}

// Result is the combined output and exit status of a script.
type Result struct {
	Output   string
	ExitCode int
}

// TransportError is a failure to move data to or run commands on a target.
type TransportError struct {
	Target string
	Op     string
	Output string
	// Unreachable is set when the target could not be contacted at all.
	Unreachable bool
	Err         error
}

func (e *TransportError) Error() string {
	if e == nil {
		return "<nil>"
	}
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("%s %s failed: %v", e.Op, e.Target, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v: %s", e.Op, e.Target, e.Err, out)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Layout holds the well-known paths on a target.
type Layout struct {
	// Root is the staging root holding cookbooks/ and roles/.
	Root string
	// ConfigDir holds node.json and solo.rb.
	ConfigDir string
	// TempDir receives uploads before they are moved into place.
	TempDir string
	// Sudo runs privileged steps through sudo when the user is not root.
	Sudo bool
}

func DefaultLayout() Layout {
	return Layout{Root: "/tmp/chef-solo", ConfigDir: "/etc/chef", TempDir: "/tmp", Sudo: true}
}

func (l Layout) Cookbooks() string  { return path.Join(l.Root, "cookbooks") }
func (l Layout) Roles() string      { return path.Join(l.Root, "roles") }
func (l Layout) NodeConfig() string { return path.Join(l.ConfigDir, "node.json") }
func (l Layout) SoloConfig() string { return path.Join(l.ConfigDir, "solo.rb") }

// Upload returns a unique upload path for name.
func (l Layout) Upload(runID, name string) string {
	return path.Join(l.TempDir, "galley-"+runID+"-"+name)
}

// Validate rejects relative paths; every script assumes absolute ones.
func (l Layout) Validate() error {
	if !path.IsAbs(l.Root) || path.Clean(l.Root) == "/" {
		return fmt.Errorf("remote root %q must be an absolute path below /", l.Root)
	}
	if !path.IsAbs(l.ConfigDir) {
		return fmt.Errorf("remote config dir %q must be an absolute path", l.ConfigDir)
	}
	if !path.IsAbs(l.TempDir) {
		return fmt.Errorf("remote temp dir %q must be an absolute path", l.TempDir)
	}
	return nil
}
