package cmdutil

import (
	"errors"
	"fmt"
	"testing"

	"galley/internal/catalog"
	"galley/internal/converge"
	"galley/internal/nodesync"
	"galley/internal/remote"
	"galley/internal/testkit/kitchen"
)

func TestExitCode(t *testing.T) {
	convergence := &nodesync.Error{Node: "web1", Phase: nodesync.PhaseConverge, Err: &converge.Failure{Target: "web1"}}
	transport := &nodesync.Error{Node: "web2", Phase: nodesync.PhaseDeliver, Err: &remote.TransportError{Op: "put", Err: errors.New("exit status 255")}}
	missing := &nodesync.Error{Node: "web3", Phase: nodesync.PhaseResolve, Err: catalog.NotFound(catalog.KindRole, "base", "")}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: 0},
		{name: "generic", err: errors.New("boom"), want: 1},
		{name: "convergence", err: convergence, want: ExitConvergence},
		{name: "transport", err: fmt.Errorf("wrapped: %w", transport), want: ExitTransport},
		{name: "catalog", err: missing, want: ExitCatalog},
		{name: "joined keeps most severe", err: errors.Join(convergence, missing, transport), want: ExitCatalog},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Fatalf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestOpenAppliesOverrides(t *testing.T) {
	k := kitchen.New(t)
	k.WriteFile("galley.yaml", "ssh:\n  user: deploy\nparallel: 2\n")

	env, err := Open(&Options{Kitchen: k.Root, Parallel: 5, LogLevel: "debug", SSHPort: 2222})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if env.Config.Parallel != 5 || env.Config.Converge.LogLevel != "debug" || env.Config.SSH.Port != 2222 {
		t.Fatalf("overrides not applied: %+v", env.Config)
	}
	if env.Config.SSH.User != "deploy" {
		t.Fatalf("SSH.User = %q, want deploy", env.Config.SSH.User)
	}
}

func TestOpenRejectsNonKitchen(t *testing.T) {
	if _, err := Open(&Options{Kitchen: t.TempDir()}); err == nil {
		t.Fatal("Open() expected error for directory without kitchen layout")
	}
}

func TestAllTargetsUsesNodeIDs(t *testing.T) {
	k := kitchen.New(t)
	k.Node("web2", []string{"recipe[nginx]"}, nil)
	k.Node("web1", []string{"recipe[nginx]"}, nil)
	env, err := Open(&Options{Kitchen: k.Root})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	got, err := env.AllTargets()
	if err != nil {
		t.Fatalf("AllTargets() error = %v", err)
	}
	if len(got) != 2 || got[0] != "web1.example.com" || got[1] != "web2.example.com" {
		t.Fatalf("AllTargets() = %v", got)
	}
}

func TestAllTargetsEmptyKitchen(t *testing.T) {
	env, err := Open(&Options{Kitchen: kitchen.New(t).Root})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := env.AllTargets(); err == nil {
		t.Fatal("AllTargets() expected error for empty kitchen")
	}
}

func TestChannelLocalhost(t *testing.T) {
	env, err := Open(&Options{Kitchen: kitchen.New(t).Root})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := env.Channel("localhost").(*remote.Local); !ok {
		t.Fatal("Channel(localhost) is not local")
	}
	if _, ok := env.Channel("deploy@web1").(*remote.SSH); !ok {
		t.Fatal("Channel(deploy@web1) is not ssh")
	}
}
