package remote

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSSHArgs(t *testing.T) {
	s := NewSSH("web1.example.com", SSHOptions{
		User:           "deploy",
		Port:           2222,
		KeyPath:        "/home/deploy/.ssh/id_ed25519",
		ConnectTimeout: 10 * time.Second,
	})
	got := strings.Join(s.args("sh", "-s"), " ")
	want := "-o BatchMode=yes -o StrictHostKeyChecking=accept-new -o ConnectTimeout=10 -p 2222 -i /home/deploy/.ssh/id_ed25519 deploy@web1.example.com sh -s"
	if got != want {
		t.Fatalf("args() = %q, want %q", got, want)
	}
}

func TestSSHTargetKeepsExplicitUser(t *testing.T) {
	s := NewSSH("root@10.0.0.5", SSHOptions{User: "deploy"})
	if got := s.Target(); got != "root@10.0.0.5" {
		t.Fatalf("Target() = %q, want root@10.0.0.5", got)
	}
}

func TestLocalExecReportsExitCode(t *testing.T) {
	res, err := NewLocal().Exec(context.Background(), "echo hello\nexit 3\n")
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("ExitCode = %d, want 3", res.ExitCode)
	}
	if strings.TrimSpace(res.Output) != "hello" {
		t.Fatalf("Output = %q, want hello", res.Output)
	}
}

func TestLocalRunFailsOnNonZeroExit(t *testing.T) {
	_, err := NewLocal().Run(context.Background(), "echo broken >&2\nexit 2\n")
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("Run() error = %v, want *TransportError", err)
	}
	if te.Unreachable {
		t.Fatal("Unreachable = true for a script failure")
	}
	if !strings.Contains(te.Error(), "broken") {
		t.Fatalf("error %q does not carry output", te.Error())
	}
}

func TestLocalPutAndExists(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	if err := os.WriteFile(src, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(dir, "nested", "dst.txt")
	ch := NewLocal()
	ctx := context.Background()

	ok, err := ch.Exists(ctx, dst)
	if err != nil || ok {
		t.Fatalf("Exists() before Put = %v, %v", ok, err)
	}
	if err := ch.Put(ctx, src, dst); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("copied %q, want payload", data)
	}
	ok, err = ch.Exists(ctx, dst)
	if err != nil || !ok {
		t.Fatalf("Exists() after Put = %v, %v", ok, err)
	}
}

func TestExistsScriptThroughShell(t *testing.T) {
	dir := t.TempDir()
	odd := filepath.Join(dir, "it's here")
	if err := os.WriteFile(odd, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	ok, err := existsVia(context.Background(), NewLocal(), odd)
	if err != nil || !ok {
		t.Fatalf("existsVia() = %v, %v, want true", ok, err)
	}
	ok, err = existsVia(context.Background(), NewLocal(), filepath.Join(dir, "missing"))
	if err != nil || ok {
		t.Fatalf("existsVia() = %v, %v, want false", ok, err)
	}
}

func TestInstallFilesScript(t *testing.T) {
	dir := t.TempDir()
	l := Layout{Root: filepath.Join(dir, "root"), ConfigDir: filepath.Join(dir, "etc"), Sudo: false}
	staged := filepath.Join(dir, "node.json.upload")
	if err := os.WriteFile(staged, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	script := InstallFilesScript(l, Install{From: staged, To: l.NodeConfig()})
	if _, err := NewLocal().Run(context.Background(), script); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if _, err := os.Stat(l.NodeConfig()); err != nil {
		t.Fatalf("node config not installed: %v", err)
	}
	if _, err := os.Stat(staged); !os.IsNotExist(err) {
		t.Fatalf("staged file still present: %v", err)
	}
}

func TestConvergeScript(t *testing.T) {
	l := DefaultLayout()
	script := ConvergeScript(l, "chef-solo", "info")
	want := "$SUDO 'chef-solo' -c '/etc/chef/solo.rb' -l 'info' -j '/etc/chef/node.json' 2>&1\n"
	if !strings.HasSuffix(script, want) {
		t.Fatalf("ConvergeScript() = %q, want suffix %q", script, want)
	}
	if !strings.Contains(script, `SUDO="sudo"`) {
		t.Fatal("ConvergeScript() missing sudo preamble")
	}
	if strings.Contains(script, "set -eu") {
		t.Fatal("ConvergeScript() must not abort before reporting the engine exit status")
	}
}

func TestSoloConfig(t *testing.T) {
	got := SoloConfig(DefaultLayout())
	want := "file_cache_path \"/tmp/chef-solo\"\ncookbook_path \"/tmp/chef-solo/cookbooks\"\nrole_path \"/tmp/chef-solo/roles\"\n"
	if got != want {
		t.Fatalf("SoloConfig() = %q, want %q", got, want)
	}
}

func TestLayoutValidate(t *testing.T) {
	tests := []struct {
		name    string
		layout  Layout
		wantErr bool
	}{
		{name: "default", layout: DefaultLayout()},
		{name: "relative root", layout: Layout{Root: "chef", ConfigDir: "/etc/chef", TempDir: "/tmp"}, wantErr: true},
		{name: "slash root", layout: Layout{Root: "/", ConfigDir: "/etc/chef", TempDir: "/tmp"}, wantErr: true},
		{name: "relative config", layout: Layout{Root: "/tmp/x", ConfigDir: "etc", TempDir: "/tmp"}, wantErr: true},
		{name: "relative temp", layout: Layout{Root: "/tmp/x", ConfigDir: "/etc/chef", TempDir: "tmp"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.layout.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestShellQuote(t *testing.T) {
	if got := shellQuote("it's"); got != `'it'"'"'s'` {
		t.Fatalf("shellQuote() = %s", got)
	}
}

type flakyChannel struct {
	Local
	failures int
	calls    int
	err      error
}

func (f *flakyChannel) Run(ctx context.Context, script string) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", f.err
	}
	return "web1", nil
}

func TestHostnameRetriesUnreachable(t *testing.T) {
	ch := &flakyChannel{failures: 2, err: &TransportError{Target: "web1", Op: "ssh", Unreachable: true, Err: errors.New("exit status 255")}}
	name, err := Hostname(context.Background(), ch, 10*time.Second)
	if err != nil {
		t.Fatalf("Hostname() error = %v", err)
	}
	if name != "web1" {
		t.Fatalf("Hostname() = %q, want web1", name)
	}
	if ch.calls != 3 {
		t.Fatalf("calls = %d, want 3", ch.calls)
	}
}

func TestHostnameStopsOnScriptFailure(t *testing.T) {
	ch := &flakyChannel{failures: 5, err: &TransportError{Target: "web1", Op: "ssh", Err: errors.New("exit status 1")}}
	if _, err := Hostname(context.Background(), ch, 10*time.Second); err == nil {
		t.Fatal("Hostname() expected error")
	}
	if ch.calls != 1 {
		t.Fatalf("calls = %d, want 1", ch.calls)
	}
}
