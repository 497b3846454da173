// Package cmdutil holds the wiring shared by galley commands.
package cmdutil

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"galley/config"
	"galley/internal/bundle"
	"galley/internal/catalog"
	"galley/internal/converge"
	"galley/internal/history"
	"galley/internal/nodesync"
	"galley/internal/remote"
)

// Exit statuses beyond the generic 1.
const (
	ExitConvergence = 2
	ExitTransport   = 3
	ExitCatalog     = 4
)

// Options are the global flags.
type Options struct {
	Kitchen       string
	Yes           bool
	NoInteraction bool
	Parallel      int
	LogLevel      string
	SSHKey        string
	SSHPort       int
}

func (o *Options) Bind(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVarP(&o.Kitchen, "kitchen", "k", ".", "Kitchen directory")
	f.BoolVarP(&o.Yes, "yes", "y", false, "Answer yes to confirmations")
	f.BoolVar(&o.NoInteraction, "no-interaction", false, "Never prompt")
	f.IntVar(&o.Parallel, "parallel", 0, "Targets to sync at once (default from galley.yaml)")
	f.StringVar(&o.LogLevel, "log-level", "", "Convergence engine log level (default from galley.yaml)")
	f.StringVar(&o.SSHKey, "ssh-key", "", "SSH private key")
	f.IntVar(&o.SSHPort, "ssh-port", 0, "SSH port")
}

// Env is an opened kitchen with its configuration.
type Env struct {
	Root   string
	Config *config.Config
	Store  *catalog.Store
}

// Open loads the kitchen named by opts and applies flag overrides.
func Open(opts *Options) (*Env, error) {
	root, err := filepath.Abs(opts.Kitchen)
	if err != nil {
		return nil, fmt.Errorf("resolve kitchen path: %w", err)
	}
	store, err := catalog.Open(root)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	if opts.Parallel > 0 {
		cfg.Parallel = opts.Parallel
	}
	if opts.LogLevel != "" {
		cfg.Converge.LogLevel = opts.LogLevel
	}
	if opts.SSHKey != "" {
		cfg.SSH.Key = opts.SSHKey
	}
	if opts.SSHPort > 0 {
		cfg.SSH.Port = opts.SSHPort
	}
	return &Env{Root: root, Config: cfg, Store: store}, nil
}

// Channel returns the execution channel for target. "local" and
// "localhost" run on this machine without ssh.
func (e *Env) Channel(target string) remote.Channel {
	switch strings.TrimSpace(target) {
	case "local", "localhost":
		return remote.NewLocal()
	}
	return remote.NewSSH(target, e.Config.SSHOptions())
}

// Sessions builds one session per target.
func (e *Env) Sessions(targets []string) []nodesync.Session {
	out := make([]nodesync.Session, 0, len(targets))
	for _, t := range targets {
		sess := nodesync.NewSession(t, e.Channel(t))
		sess.LogLevel = e.Config.Converge.LogLevel
		out = append(out, sess)
	}
	return out
}

// Syncer wires a syncer for this kitchen. The returned func closes the
// ledger.
func (e *Env) Syncer(tracer trace.Tracer) (*nodesync.Syncer, func(), error) {
	if err := e.Config.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid %s: %w", config.FileName, err)
	}
	layout := e.Config.Layout()
	s := &nodesync.Syncer{
		Store:    e.Store,
		Packager: &bundle.Packager{KitchenRoot: e.Root, Layout: layout},
		Invoker: &converge.Invoker{
			Layout:   layout,
			Command:  e.Config.Converge.Command,
			LogLevel: e.Config.Converge.LogLevel,
			Sentinel: e.Config.Converge.ErrorSentinel,
		},
		Tracer: tracer,
	}
	closeFn := func() {}
	if path := e.Config.HistoryPath(e.Root); path != "" {
		h, err := history.Open(path)
		if err != nil {
			return nil, nil, err
		}
		s.History = h
		closeFn = func() { _ = h.Close() }
	}
	return s, closeFn, nil
}

// History opens the ledger, or returns nil when it is disabled.
func (e *Env) History() (*history.Store, error) {
	path := e.Config.HistoryPath(e.Root)
	if path == "" {
		return nil, nil
	}
	return history.Open(path)
}

// AllTargets returns the node id of every node document, in node order.
func (e *Env) AllTargets() ([]string, error) {
	nodes, err := e.Store.Nodes()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, n := range nodes {
		if strings.TrimSpace(n.Identity.ID) == "" {
			return nil, fmt.Errorf("node %q has no nodeid", n.Identity.Name)
		}
		out = append(out, n.Identity.ID)
	}
	if len(out) == 0 {
		return nil, errors.New("no nodes found")
	}
	return out, nil
}

// ExitCode maps err to the process exit status. When several targets
// failed the most severe class wins.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	code := 1
	for _, e := range flatten(err) {
		var c int
		switch nodesync.Outcome(e) {
		case "catalog_error":
			c = ExitCatalog
		case "transport_error":
			c = ExitTransport
		case "convergence_error":
			c = ExitConvergence
		default:
			c = 1
		}
		code = max(code, c)
	}
	return code
}

func flatten(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []error
		for _, e := range joined.Unwrap() {
			out = append(out, flatten(e)...)
		}
		return out
	}
	return []error{err}
}
