package remote

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Local is a Channel that runs scripts with the local shell. It is used for
// "localhost" targets and in tests.
type Local struct{}

func NewLocal() *Local { return &Local{} }

func (l *Local) Target() string { return "local" }

func (l *Local) Exec(ctx context.Context, script string) (Result, error) {
	cmd := exec.CommandContext(ctx, "sh", "-s")
	cmd.Stdin = strings.NewReader(script)
	res, err := runCommand(cmd)
	if err != nil {
		return Result{}, &TransportError{Target: l.Target(), Op: "exec", Err: err}
	}
	return res, nil
}

func (l *Local) Run(ctx context.Context, script string) (string, error) {
	res, err := l.Exec(ctx, script)
	if err != nil {
		return "", err
	}
	return checkExit(l.Target(), "exec", res)
}

func (l *Local) Put(ctx context.Context, localPath, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := copyFile(localPath, remotePath); err != nil {
		return &TransportError{Target: l.Target(), Op: "put", Err: err}
	}
	return nil
}

func (l *Local) Exists(ctx context.Context, remotePath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(remotePath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(dst), err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	return out.Close()
}
