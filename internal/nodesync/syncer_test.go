package nodesync_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"galley/internal/bundle"
	"galley/internal/catalog"
	"galley/internal/converge"
	"galley/internal/history"
	"galley/internal/nodeconfig"
	"galley/internal/nodesync"
	"galley/internal/remote"
	"galley/internal/telemetry"
	"galley/internal/testkit/fake"
	"galley/internal/testkit/kitchen"
)

type harness struct {
	kitchen  *kitchen.Kitchen
	layout   remote.Layout
	syncer   *nodesync.Syncer
	history  *history.Store
	recorder *tracetest.SpanRecorder
}

func newHarness(t *testing.T, engineBody string) *harness {
	t.Helper()
	k := kitchen.New(t)
	layout := kitchen.TargetLayout(t)

	engine := filepath.Join(t.TempDir(), "engine")
	if err := os.WriteFile(engine, []byte("#!/bin/sh\n"+engineBody+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	hist, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("history.Open() error = %v", err)
	}
	t.Cleanup(func() { hist.Close() })

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	return &harness{
		kitchen: k,
		layout:  layout,
		history: hist,
		syncer: &nodesync.Syncer{
			Store:    k.Store(),
			Packager: &bundle.Packager{KitchenRoot: k.Root, Layout: layout, TempDir: t.TempDir()},
			Invoker: &converge.Invoker{
				Layout:   layout,
				Command:  engine,
				LogLevel: "info",
				Sentinel: "ERROR:",
			},
			History: hist,
			Tracer:  provider.Tracer("nodesync-test"),
		},
		recorder: recorder,
	}
}

func (h *harness) channel(hostname string) *fake.Channel {
	return &fake.Channel{Name: "deploy@" + hostname, Hostname: hostname, Delegate: remote.NewLocal()}
}

func (h *harness) session(ch *fake.Channel) nodesync.Session {
	return nodesync.NewSession(ch.Name, ch)
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir(%s) error = %v", dir, err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestRoleSyncsClosureAndConverges(t *testing.T) {
	h := newHarness(t, `echo "[2024-05-01T10:00:00+00:00] INFO: Chef Run complete"`)
	h.kitchen.Role("base", "recipe[nginx]")
	h.kitchen.Role("db", "recipe[postgresql]")
	h.kitchen.Cookbook("nginx", "monitoring_agent")
	h.kitchen.Cookbook("monitoring_agent")
	h.kitchen.Cookbook("postgresql")

	ch := h.channel("web1")
	res, err := h.syncer.Role(context.Background(), h.session(ch), "base", false)
	if err != nil {
		t.Fatalf("Role() error = %v", err)
	}
	if res.Node != "web1" {
		t.Fatalf("Node = %q, want web1", res.Node)
	}
	if diff := cmp.Diff([]string{"nginx", "monitoring_agent"}, res.Resolution.Cookbooks); diff != "" {
		t.Fatalf("closure mismatch (-want +got):\n%s", diff)
	}
	if res.Report.Outcome != converge.Success {
		t.Fatalf("Outcome = %v, want success", res.Report.Outcome)
	}

	if diff := cmp.Diff([]string{"monitoring_agent", "nginx"}, dirNames(t, h.layout.Cookbooks())); diff != "" {
		t.Fatalf("remote cookbooks mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"base.json", "db.json"}, dirNames(t, h.layout.Roles())); diff != "" {
		t.Fatalf("remote roles mismatch (-want +got):\n%s", diff)
	}

	uploaded, err := h.kitchen.Store().ReadNodeFile(h.layout.NodeConfig())
	if err != nil {
		t.Fatalf("ReadNodeFile(remote) error = %v", err)
	}
	if uploaded.Identity != (catalog.Identity{Name: "web1", ID: "deploy@web1"}) {
		t.Fatalf("uploaded identity = %+v", uploaded.Identity)
	}
	if got := uploaded.RunList.Strings(); !cmp.Equal(got, []string{"role[base]"}) {
		t.Fatalf("uploaded run list = %v", got)
	}
	if res.ConfigPath != h.kitchen.Store().NodePath("web1") {
		t.Fatalf("ConfigPath = %q, want canonical path", res.ConfigPath)
	}

	last, found, err := h.history.Last(context.Background(), "web1")
	if err != nil || !found {
		t.Fatalf("Last() = found %v, err %v", found, err)
	}
	if last.Outcome != "success" || last.ID != res.RunID {
		t.Fatalf("recorded run = %+v", last)
	}

	var names []string
	for _, span := range h.recorder.Ended() {
		names = append(names, span.Name())
		if span.Name() != "sync web1" {
			continue
		}
		for _, kv := range span.Attributes() {
			if string(kv.Key) == telemetry.CookbooksKey {
				if diff := cmp.Diff([]string{"nginx", "monitoring_agent"}, kv.Value.AsStringSlice()); diff != "" {
					t.Fatalf("span cookbooks mismatch (-want +got):\n%s", diff)
				}
			}
		}
	}
	sort.Strings(names)
	want := []string{"converge", "deliver", "package", "resolve", "sync web1", "upload_config"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("spans mismatch (-want +got):\n%s", diff)
	}
}

func TestSyncMissingRoleNeverTransfers(t *testing.T) {
	h := newHarness(t, "exit 0")
	h.kitchen.Node("web1", []string{"role[ghost]"}, nil)

	ch := &fake.Channel{Name: "deploy@web1", Hostname: "web1"}
	_, err := h.syncer.Configure(context.Background(), h.session(ch))

	var serr *nodesync.Error
	if !errors.As(err, &serr) {
		t.Fatalf("Configure() error = %v, want *nodesync.Error", err)
	}
	if serr.Phase != nodesync.PhaseResolve {
		t.Fatalf("Phase = %v, want resolve", serr.Phase)
	}
	var cerr *catalog.Error
	if !errors.As(err, &cerr) || cerr.Kind != catalog.KindRole || !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("error = %v, want role not found", err)
	}
	if puts := ch.Calls("Put"); len(puts) != 0 {
		t.Fatalf("Put called %d times, want 0", len(puts))
	}
	if runs := ch.Calls("Run"); len(runs) != 0 {
		t.Fatalf("Run called %d times, want 0", len(runs))
	}

	last, found, err := h.history.Last(context.Background(), "web1")
	if err != nil || !found {
		t.Fatalf("Last() = found %v, err %v", found, err)
	}
	if last.Outcome != "catalog_error" || last.Phase != "resolve" {
		t.Fatalf("recorded run = %+v", last)
	}
}

func TestSyncMissingDependencyWarnsAndProceeds(t *testing.T) {
	h := newHarness(t, "exit 0")
	h.kitchen.Node("web1", []string{"role[base]"}, nil)
	h.kitchen.Role("base", "recipe[nginx]")
	h.kitchen.Cookbook("nginx", "monitoring_agent")

	res, err := h.syncer.Configure(context.Background(), h.session(h.channel("web1")))
	if err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if diff := cmp.Diff([]string{"nginx"}, res.Resolution.Cookbooks); diff != "" {
		t.Fatalf("closure mismatch (-want +got):\n%s", diff)
	}
	if len(res.Resolution.Warnings) != 1 {
		t.Fatalf("warnings = %v, want 1", res.Resolution.Warnings)
	}
	if diff := cmp.Diff([]string{"nginx"}, dirNames(t, h.layout.Cookbooks())); diff != "" {
		t.Fatalf("remote cookbooks mismatch (-want +got):\n%s", diff)
	}
}

func TestRecipeKeepsExistingNodeDocument(t *testing.T) {
	h := newHarness(t, "exit 0")
	h.kitchen.Node("web1", []string{"role[base]"}, map[string]any{"tier": "frontend"})
	h.kitchen.Cookbook("nginx")
	canonical := h.kitchen.Store().NodePath("web1")
	before, err := os.ReadFile(canonical)
	if err != nil {
		t.Fatal(err)
	}

	res, err := h.syncer.Recipe(context.Background(), h.session(h.channel("web1")), "nginx", false)
	if err != nil {
		t.Fatalf("Recipe() error = %v", err)
	}
	if filepath.Base(res.ConfigPath) != nodeconfig.ScratchFile {
		t.Fatalf("ConfigPath = %q, want scratch file", res.ConfigPath)
	}
	after, err := os.ReadFile(canonical)
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Fatal("canonical node document was modified")
	}
	if diff := cmp.Diff([]string{"nginx"}, res.Resolution.Cookbooks); diff != "" {
		t.Fatalf("closure mismatch (-want +got):\n%s", diff)
	}
}

func TestRecipeUnknownCookbookFailsBeforeProbe(t *testing.T) {
	h := newHarness(t, "exit 0")
	ch := &fake.Channel{Name: "deploy@web1", Hostname: "web1"}

	_, err := h.syncer.Recipe(context.Background(), h.session(ch), "ghost::server", false)
	var serr *nodesync.Error
	if !errors.As(err, &serr) || serr.Phase != nodesync.PhasePrepare {
		t.Fatalf("Recipe() error = %v, want prepare failure", err)
	}
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("Recipe() error = %v, want not found", err)
	}
	if calls := ch.Calls(""); len(calls) != 0 {
		t.Fatalf("channel used: %+v", calls)
	}
}

func TestUnsafeHostnameNeverTouchesDisk(t *testing.T) {
	for _, hostname := range []string{"../../escaped", "web1/../../x", `..\x`, ".hidden"} {
		t.Run(hostname, func(t *testing.T) {
			h := newHarness(t, "exit 0")
			h.kitchen.Cookbook("nginx")
			ch := &fake.Channel{Name: "deploy@target", Hostname: hostname}

			_, err := h.syncer.Recipe(context.Background(), h.session(ch), "nginx", true)
			var serr *nodesync.Error
			if !errors.As(err, &serr) || serr.Phase != nodesync.PhasePrepare {
				t.Fatalf("Recipe() error = %v, want prepare failure", err)
			}
			if _, err := h.syncer.Configure(context.Background(), h.session(ch)); err == nil {
				t.Fatal("Configure() succeeded with unsafe hostname")
			}
			if puts := ch.Calls("Put"); len(puts) != 0 {
				t.Fatalf("uploads = %+v, want none", puts)
			}
			parent := filepath.Dir(h.kitchen.Root)
			if _, err := os.Stat(filepath.Join(parent, "escaped.json")); err == nil {
				t.Fatal("node document written outside the kitchen")
			}
			if got := dirNames(t, filepath.Join(h.kitchen.Root, catalog.NodesDir)); len(got) != 0 {
				t.Fatalf("nodes/ = %v, want empty", got)
			}
		})
	}
}

func TestConfigureWithoutDocument(t *testing.T) {
	h := newHarness(t, "exit 0")
	ch := &fake.Channel{Name: "deploy@web9", Hostname: "web9"}

	_, err := h.syncer.Configure(context.Background(), h.session(ch))
	var serr *nodesync.Error
	if !errors.As(err, &serr) || serr.Phase != nodesync.PhasePrepare || serr.Node != "web9" {
		t.Fatalf("Configure() error = %v, want prepare failure for web9", err)
	}
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("Configure() error = %v, want not found", err)
	}
}

func TestSyncArchiveFailureIsTransportError(t *testing.T) {
	h := newHarness(t, "exit 0")
	h.kitchen.Node("web1", []string{"recipe[nginx]"}, nil)
	h.kitchen.Cookbook("nginx")
	h.syncer.Packager.TempDir = filepath.Join(t.TempDir(), "missing")
	ch := h.channel("web1")

	_, err := h.syncer.Configure(context.Background(), h.session(ch))
	var serr *nodesync.Error
	if !errors.As(err, &serr) || serr.Phase != nodesync.PhasePackage {
		t.Fatalf("Configure() error = %v, want package failure", err)
	}
	var te *remote.TransportError
	if !errors.As(err, &te) || te.Op != "archive" {
		t.Fatalf("Configure() error = %v, want archive transport error", err)
	}
	if got := nodesync.Outcome(err); got != "transport_error" {
		t.Fatalf("Outcome() = %q, want transport_error", got)
	}
	if puts := ch.Calls("Put"); len(puts) != 0 {
		t.Fatalf("uploads = %+v, want none", puts)
	}
	last, found, err := h.history.Last(context.Background(), "web1")
	if err != nil || !found || last.Outcome != "transport_error" {
		t.Fatalf("Last() = %+v, found %v, err %v", last, found, err)
	}
}

func TestSyncConvergenceFailure(t *testing.T) {
	h := newHarness(t, `echo "[2024-05-01T10:00:00+00:00] ERROR: service[nginx] failed"`)
	h.kitchen.Node("web1", []string{"recipe[nginx]"}, nil)
	h.kitchen.Cookbook("nginx")

	res, err := h.syncer.Configure(context.Background(), h.session(h.channel("web1")))
	var serr *nodesync.Error
	if !errors.As(err, &serr) || serr.Phase != nodesync.PhaseConverge {
		t.Fatalf("Configure() error = %v, want converge failure", err)
	}
	var failure *converge.Failure
	if !errors.As(err, &failure) {
		t.Fatalf("Configure() error = %v, want *converge.Failure", err)
	}
	if res.Report.Outcome != converge.ConvergenceError {
		t.Fatalf("Outcome = %v, want convergence_error", res.Report.Outcome)
	}
	if got := nodesync.Outcome(err); got != "convergence_error" {
		t.Fatalf("Outcome() = %q", got)
	}

	last, _, err := h.history.Last(context.Background(), "web1")
	if err != nil {
		t.Fatal(err)
	}
	if last.Phase != "converge" || !strings.Contains(last.Detail, "service[nginx] failed") {
		t.Fatalf("recorded run = %+v", last)
	}
}

func TestSyncTransportFailureStopsBeforeConfig(t *testing.T) {
	h := newHarness(t, "exit 0")
	h.kitchen.Node("web1", []string{"recipe[nginx]"}, nil)
	h.kitchen.Cookbook("nginx")

	ch := h.channel("web1")
	ch.PutErr = &remote.TransportError{Target: ch.Name, Op: "put", Unreachable: true, Err: errors.New("exit status 255")}

	_, err := h.syncer.Configure(context.Background(), h.session(ch))
	var serr *nodesync.Error
	if !errors.As(err, &serr) || serr.Phase != nodesync.PhaseDeliver {
		t.Fatalf("Configure() error = %v, want deliver failure", err)
	}
	if got := nodesync.Outcome(err); got != "transport_error" {
		t.Fatalf("Outcome() = %q", got)
	}
	if puts := ch.Calls("Put"); len(puts) != 1 {
		t.Fatalf("Put called %d times, want 1", len(puts))
	}
	if execs := ch.Calls("Exec"); len(execs) != 0 {
		t.Fatalf("engine invoked after transport failure")
	}
}

func TestEachSequentialOrder(t *testing.T) {
	sessions := []nodesync.Session{{Target: "a"}, {Target: "b"}, {Target: "c"}}
	var order []string
	err := nodesync.Each(context.Background(), sessions, 1, func(_ context.Context, s nodesync.Session) error {
		order = append(order, s.Target)
		return nil
	})
	if err != nil {
		t.Fatalf("Each() error = %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, order); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestEachAttemptsEveryTargetAndJoinsErrors(t *testing.T) {
	sessions := []nodesync.Session{{Target: "a"}, {Target: "b"}, {Target: "c"}, {Target: "d"}}
	errB := errors.New("b failed")
	errD := errors.New("d failed")
	var attempted atomic.Int32

	err := nodesync.Each(context.Background(), sessions, 3, func(_ context.Context, s nodesync.Session) error {
		attempted.Add(1)
		switch s.Target {
		case "b":
			return errB
		case "d":
			return errD
		}
		return nil
	})
	if attempted.Load() != 4 {
		t.Fatalf("attempted = %d, want 4", attempted.Load())
	}
	if !errors.Is(err, errB) || !errors.Is(err, errD) {
		t.Fatalf("Each() error = %v, want both failures", err)
	}
}

func TestPhaseTransition(t *testing.T) {
	p := nodesync.PhasePrepare
	for _, next := range []nodesync.Phase{
		nodesync.PhaseResolve,
		nodesync.PhasePackage,
		nodesync.PhaseDeliver,
		nodesync.PhaseUploadConfig,
		nodesync.PhaseConverge,
		nodesync.PhaseDone,
	} {
		p = p.Transition(next)
		if p != next {
			t.Fatalf("Transition() = %v, want %v", p, next)
		}
	}
	if nodesync.Phase(0).IsValid() {
		t.Fatal("zero phase is valid")
	}
	if got := nodesync.PhaseUploadConfig.String(); got != "upload_config" {
		t.Fatalf("String() = %q", got)
	}
}
