// Package converge uploads a node document to a target and runs the
// convergence engine against it.
package converge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"galley/internal/remote"
)

// Invoker runs the engine on targets sharing one layout.
type Invoker struct {
	Layout   remote.Layout
	Command  string
	LogLevel string
	Sentinel string
}

// UploadConfig installs the node document and the generated engine
// configuration at their fixed paths on the target.
func (inv *Invoker) UploadConfig(ctx context.Context, ch remote.Channel, runID, configPath string) error {
	dir, err := os.MkdirTemp("", "galley-config-*")
	if err != nil {
		return fmt.Errorf("stage engine config: %w", err)
	}
	defer os.RemoveAll(dir)

	solo := filepath.Join(dir, "solo.rb")
	if err := os.WriteFile(solo, []byte(remote.SoloConfig(inv.Layout)), 0o644); err != nil {
		return fmt.Errorf("stage engine config: %w", err)
	}

	uploads := []remote.Install{
		{From: inv.Layout.Upload(runID, "node.json"), To: inv.Layout.NodeConfig()},
		{From: inv.Layout.Upload(runID, "solo.rb"), To: inv.Layout.SoloConfig()},
	}
	if err := ch.Put(ctx, configPath, uploads[0].From); err != nil {
		return fmt.Errorf("upload node config: %w", err)
	}
	if err := ch.Put(ctx, solo, uploads[1].From); err != nil {
		return fmt.Errorf("upload engine config: %w", err)
	}
	if _, err := ch.Run(ctx, remote.InstallFilesScript(inv.Layout, uploads...)); err != nil {
		return fmt.Errorf("install config: %w", err)
	}
	return nil
}

// Converge runs the engine and classifies its output. The error is a
// *remote.TransportError when the engine could not be run and a *Failure
// when it ran and failed. Runs are never retried.
func (inv *Invoker) Converge(ctx context.Context, ch remote.Channel) (Report, error) {
	res, err := ch.Exec(ctx, remote.ConvergeScript(inv.Layout, inv.Command, inv.LogLevel))
	if err != nil {
		var te *remote.TransportError
		detail := err.Error()
		if errors.As(err, &te) {
			detail = te.Error()
		}
		return Report{Outcome: TransportError, Detail: detail}, err
	}

	report := Classify(res.Output, res.ExitCode, inv.Sentinel)
	slog.Debug("Convergence finished.", "target", ch.Target(), "outcome", report.Outcome, "exit_code", res.ExitCode)
	if report.Outcome != Success {
		return report, &Failure{Target: ch.Target(), Report: report}
	}
	return report, nil
}

// Configure uploads the document at configPath and converges.
func (inv *Invoker) Configure(ctx context.Context, ch remote.Channel, runID, configPath string) (Report, error) {
	if err := inv.UploadConfig(ctx, ch, runID, configPath); err != nil {
		return Report{Outcome: TransportError, Detail: err.Error()}, err
	}
	return inv.Converge(ctx, ch)
}
