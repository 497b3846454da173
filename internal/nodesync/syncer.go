// Package nodesync drives one sync of one node through its steps: resolve
// the cookbook closure, package it, deliver it, upload the node document
// and run the convergence engine.
package nodesync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"galley/internal/bundle"
	"galley/internal/catalog"
	"galley/internal/converge"
	"galley/internal/history"
	"galley/internal/logging"
	"galley/internal/nodeconfig"
	"galley/internal/remote"
	"galley/internal/resolve"
	"galley/internal/runlist"
	"galley/internal/telemetry"
)

const defaultProbeTimeout = 30 * time.Second

// SyncPlan lists the steps of one sync in order.
var SyncPlan = telemetry.Plan{Steps: []telemetry.Step{
	{ID: PhaseResolve.String(), Title: "resolving cookbooks"},
	{ID: PhasePackage.String(), Title: "packaging bundle"},
	{ID: PhaseDeliver.String(), Title: "delivering bundle"},
	{ID: PhaseUploadConfig.String(), Title: "uploading node configuration"},
	{ID: PhaseConverge.String(), Title: "converging"},
}}

type Syncer struct {
	Store    *catalog.Store
	Packager *bundle.Packager
	Invoker  *converge.Invoker
	// History records every sync when set.
	History *history.Store
	// Tracer defaults to the process-wide tracer.
	Tracer       trace.Tracer
	ProbeTimeout time.Duration
	Now          func() time.Time
}

// Result describes a completed or failed sync.
type Result struct {
	Node       string
	Target     string
	RunID      string
	ConfigPath string
	Resolution resolve.Result
	Report     converge.Report
}

func (s *Syncer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Syncer) tracer() trace.Tracer {
	if s.Tracer != nil {
		return s.Tracer
	}
	return telemetry.Tracer()
}

// Sync runs every step for the node document at configPath. The first
// failing step stops the sync and is named in the returned *Error. Catalog
// problems are found before anything is sent to the target.
func (s *Syncer) Sync(ctx context.Context, sess Session, configPath string) (res Result, err error) {
	res = Result{Target: sess.Target, RunID: sess.RunID, ConfigPath: configPath}
	started := s.now()
	phase := PhaseResolve

	node, err := s.Store.ReadNodeFile(configPath)
	if err != nil {
		return res, &Error{Target: sess.Target, Phase: phase, Err: err}
	}
	res.Node = node.Identity.Name
	if res.Node == "" {
		res.Node = strings.TrimSuffix(filepath.Base(configPath), filepath.Ext(configPath))
	}

	log := logging.FromContext(ctx).With("node", res.Node, "target", sess.Target, "run_id", sess.RunID)
	ctx = logging.WithLogger(ctx, log)

	op, err := telemetry.Start(ctx, s.tracer(), "sync "+res.Node, SyncPlan,
		attribute.String(telemetry.NodeKey, res.Node),
		attribute.String(telemetry.TargetKey, sess.Target),
	)
	if err != nil {
		return res, &Error{Node: res.Node, Target: sess.Target, Phase: phase, Err: err}
	}
	defer func() {
		op.End(err)
		s.record(ctx, res, started, err)
	}()

	fail := func(p Phase, err error) error {
		log.Error("Sync failed.", "phase", p.String(), "err", err)
		return &Error{Node: res.Node, Target: sess.Target, Phase: p, Err: err}
	}

	if err := op.Step(phase.String(), func(ctx context.Context) error {
		r, err := resolve.Resolve(ctx, s.Store, node.RunList)
		res.Resolution = r
		return err
	}); err != nil {
		return res, fail(phase, err)
	}
	log.Info("Resolved cookbooks.", "cookbooks", res.Resolution.Cookbooks, "warnings", len(res.Resolution.Warnings))
	op.Annotate(attribute.StringSlice(telemetry.CookbooksKey, res.Resolution.Cookbooks))

	phase = phase.Transition(PhasePackage)
	var archive string
	if err := op.Step(phase.String(), func(context.Context) error {
		var err error
		archive, err = s.Packager.Package(res.Resolution.Cookbooks)
		if err != nil {
			return &remote.TransportError{Target: sess.Channel.Target(), Op: "archive", Err: err}
		}
		return nil
	}); err != nil {
		return res, fail(phase, err)
	}
	defer os.Remove(archive)

	phase = phase.Transition(PhaseDeliver)
	if err := op.Step(phase.String(), func(ctx context.Context) error {
		return s.Packager.Ship(ctx, sess.Channel, sess.RunID, archive)
	}); err != nil {
		return res, fail(phase, err)
	}

	inv := *s.Invoker
	if sess.LogLevel != "" {
		inv.LogLevel = sess.LogLevel
	}

	phase = phase.Transition(PhaseUploadConfig)
	if err := op.Step(phase.String(), func(ctx context.Context) error {
		return inv.UploadConfig(ctx, sess.Channel, sess.RunID, configPath)
	}); err != nil {
		return res, fail(phase, err)
	}

	phase = phase.Transition(PhaseConverge)
	if err := op.Step(phase.String(), func(ctx context.Context) error {
		var err error
		res.Report, err = inv.Converge(ctx, sess.Channel)
		return err
	}); err != nil {
		return res, fail(phase, err)
	}

	_ = phase.Transition(PhaseDone)
	log.Info("Node converged.", "duration", s.now().Sub(started).Round(time.Millisecond))
	return res, nil
}

func (s *Syncer) record(ctx context.Context, res Result, started time.Time, err error) {
	if s.History == nil {
		return
	}
	run := history.Run{
		ID:         res.RunID,
		Node:       res.Node,
		Target:     res.Target,
		StartedAt:  started,
		FinishedAt: s.now(),
		Outcome:    Outcome(err),
		Cookbooks:  res.Resolution.Cookbooks,
		Warnings:   len(res.Resolution.Warnings),
	}
	var serr *Error
	if errors.As(err, &serr) {
		run.Phase = serr.Phase.String()
		run.Detail = serr.Err.Error()
	}
	if rerr := s.History.Record(ctx, run); rerr != nil {
		logging.FromContext(ctx).Warn("Failed to record sync run.", "err", rerr)
	}
}

// probe fills sess.Hostname.
func (s *Syncer) probe(ctx context.Context, sess *Session) error {
	timeout := s.ProbeTimeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	name, err := remote.Hostname(ctx, sess.Channel, timeout)
	if err != nil {
		return &Error{Target: sess.Target, Phase: PhasePrepare, Err: err}
	}
	// The hostname names the node document on disk.
	if !catalog.ValidName(name) {
		return &Error{Target: sess.Target, Phase: PhasePrepare,
			Err: fmt.Errorf("target reported unusable hostname %q", name)}
	}
	sess.Hostname = name
	return nil
}

// apply builds a one-off node document with entry as its only run list
// item, persists it and syncs it.
func (s *Syncer) apply(ctx context.Context, sess Session, entry runlist.Entry, save bool) (Result, error) {
	if err := s.probe(ctx, &sess); err != nil {
		return Result{Target: sess.Target}, err
	}
	logging.FromContext(ctx).Info(fmt.Sprintf("Applying %s.", entry), "node", sess.Hostname, "target", sess.Target)

	doc := nodeconfig.Build(catalog.Identity{Name: sess.Hostname, ID: sess.Target}, runlist.List{entry})
	path, err := nodeconfig.Persist(s.Store, doc, save)
	if err != nil {
		return Result{Node: sess.Hostname, Target: sess.Target}, &Error{Node: sess.Hostname, Target: sess.Target, Phase: PhasePrepare, Err: err}
	}

	// The scratch document is shared by concurrent one-off runs, so each
	// run uploads its own copy.
	private, err := writeTemp(doc)
	if err != nil {
		return Result{Node: sess.Hostname, Target: sess.Target}, &Error{Node: sess.Hostname, Target: sess.Target, Phase: PhasePrepare, Err: err}
	}
	defer os.Remove(private)

	res, err := s.Sync(ctx, sess, private)
	res.ConfigPath = path
	return res, err
}

func writeTemp(doc catalog.Node) (string, error) {
	data, err := nodeconfig.Encode(doc)
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp("", "galley-node-*.json")
	if err != nil {
		return "", fmt.Errorf("stage node document: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("stage node document: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("stage node document: %w", err)
	}
	return f.Name(), nil
}

// Recipe applies a single recipe to the target, ignoring its existing node
// document. With save the document is written to the node's canonical
// path; otherwise an existing canonical document is left untouched.
func (s *Syncer) Recipe(ctx context.Context, sess Session, recipe string, save bool) (Result, error) {
	entry, err := runlist.Parse(runlist.Recipe(recipe).String())
	if err != nil {
		return Result{Target: sess.Target}, &Error{Target: sess.Target, Phase: PhasePrepare, Err: err}
	}
	cookbook := runlist.Cookbook(entry.Name)
	if !s.Store.HasCookbook(cookbook) {
		return Result{Target: sess.Target}, &Error{Target: sess.Target, Phase: PhasePrepare,
			Err: catalog.NotFound(catalog.KindCookbook, cookbook, s.Store.CookbookPath(cookbook))}
	}
	return s.apply(ctx, sess, entry, save)
}

// Role applies a single role to the target.
func (s *Syncer) Role(ctx context.Context, sess Session, role string, save bool) (Result, error) {
	entry, err := runlist.Parse(runlist.Role(role).String())
	if err != nil {
		return Result{Target: sess.Target}, &Error{Target: sess.Target, Phase: PhasePrepare, Err: err}
	}
	if !s.Store.HasRole(entry.Name) {
		return Result{Target: sess.Target}, &Error{Target: sess.Target, Phase: PhasePrepare,
			Err: catalog.NotFound(catalog.KindRole, entry.Name, s.Store.RolePath(entry.Name))}
	}
	return s.apply(ctx, sess, entry, save)
}

// Configure syncs the target with its existing node document, found by the
// hostname the target reports.
func (s *Syncer) Configure(ctx context.Context, sess Session) (Result, error) {
	if err := s.probe(ctx, &sess); err != nil {
		return Result{Target: sess.Target}, err
	}
	if _, err := s.Store.Node(sess.Hostname); err != nil {
		return Result{Node: sess.Hostname, Target: sess.Target}, &Error{Node: sess.Hostname, Target: sess.Target, Phase: PhasePrepare, Err: err}
	}
	return s.Sync(ctx, sess, s.Store.NodePath(sess.Hostname))
}
