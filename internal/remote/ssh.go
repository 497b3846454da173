package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// sshUnreachable is the exit status the ssh client uses for its own errors.
const sshUnreachable = 255

type SSHOptions struct {
	User           string
	Port           int
	KeyPath        string
	ConnectTimeout time.Duration
}

// SSH is a Channel that shells out to the ssh client.
type SSH struct {
	host string
	opts SSHOptions
}

// NewSSH returns a channel to target, which is host or user@host. A user in
// target wins over opts.User.
func NewSSH(target string, opts SSHOptions) *SSH {
	return &SSH{host: strings.TrimSpace(target), opts: opts}
}

func (s *SSH) Target() string {
	if strings.Contains(s.host, "@") || strings.TrimSpace(s.opts.User) == "" {
		return s.host
	}
	return strings.TrimSpace(s.opts.User) + "@" + s.host
}

func (s *SSH) args(remoteCmd ...string) []string {
	args := []string{"-o", "BatchMode=yes", "-o", "StrictHostKeyChecking=accept-new"}
	if s.opts.ConnectTimeout > 0 {
		secs := int(s.opts.ConnectTimeout.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		args = append(args, "-o", "ConnectTimeout="+strconv.Itoa(secs))
	}
	if s.opts.Port > 0 {
		args = append(args, "-p", strconv.Itoa(s.opts.Port))
	}
	if strings.TrimSpace(s.opts.KeyPath) != "" {
		args = append(args, "-i", s.opts.KeyPath)
	}
	args = append(args, s.Target())
	return append(args, remoteCmd...)
}

func (s *SSH) Exec(ctx context.Context, script string) (Result, error) {
	cmd := exec.CommandContext(ctx, "ssh", s.args("sh", "-s")...)
	cmd.Stdin = strings.NewReader(script)
	res, err := runCommand(cmd)
	if err != nil {
		return Result{}, &TransportError{Target: s.Target(), Op: "ssh", Err: err}
	}
	if res.ExitCode == sshUnreachable {
		return Result{}, &TransportError{
			Target:      s.Target(),
			Op:          "ssh",
			Output:      res.Output,
			Unreachable: true,
			Err:         fmt.Errorf("exit status %d", res.ExitCode),
		}
	}
	return res, nil
}

func (s *SSH) Run(ctx context.Context, script string) (string, error) {
	res, err := s.Exec(ctx, script)
	if err != nil {
		return "", err
	}
	return checkExit(s.Target(), "ssh", res)
}

func (s *SSH) Put(ctx context.Context, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	cmd := exec.CommandContext(ctx, "ssh", s.args("cat > "+shellQuote(remotePath))...)
	cmd.Stdin = f
	res, err := runCommand(cmd)
	if err != nil {
		return &TransportError{Target: s.Target(), Op: "put", Err: err}
	}
	if res.ExitCode != 0 {
		return &TransportError{
			Target:      s.Target(),
			Op:          "put",
			Output:      res.Output,
			Unreachable: res.ExitCode == sshUnreachable,
			Err:         fmt.Errorf("copy to %s: exit status %d", remotePath, res.ExitCode),
		}
	}
	return nil
}

func (s *SSH) Exists(ctx context.Context, remotePath string) (bool, error) {
	return existsVia(ctx, s, remotePath)
}

func existsVia(ctx context.Context, ch Channel, remotePath string) (bool, error) {
	res, err := ch.Exec(ctx, ExistsScript(remotePath))
	if err != nil {
		return false, err
	}
	switch res.ExitCode {
	case 0:
		return true, nil
	case 1:
		return false, nil
	default:
		_, err := checkExit(ch.Target(), "exists", res)
		return false, err
	}
}

// runCommand runs cmd capturing combined output. Only failures to start or
// wait for the process are returned as errors; exit codes go in Result.
func runCommand(cmd *exec.Cmd) (Result, error) {
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	if err == nil {
		return Result{Output: out.String()}, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		return Result{Output: out.String(), ExitCode: exitErr.ExitCode()}, nil
	}
	if msg := strings.TrimSpace(out.String()); msg != "" {
		return Result{}, fmt.Errorf("%w: %s", err, msg)
	}
	return Result{}, err
}

func checkExit(target, op string, res Result) (string, error) {
	if res.ExitCode != 0 {
		return "", &TransportError{
			Target: target,
			Op:     op,
			Output: res.Output,
			Err:    fmt.Errorf("exit status %d", res.ExitCode),
		}
	}
	return strings.TrimSpace(res.Output), nil
}
