package bundle

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"galley/internal/remote"
)

// Packager ships bundles from a kitchen to targets.
type Packager struct {
	KitchenRoot string
	Layout      remote.Layout
	// TempDir holds the local archive; empty means the system default.
	TempDir string
}

// Package archives the given cookbooks with all roles. The caller removes
// the returned file.
func (p *Packager) Package(cookbooks []string) (string, error) {
	return Create(p.TempDir, p.KitchenRoot, cookbooks)
}

// Ship uploads archive and swaps it into place on the target. On failure
// the target keeps its previous bundle.
func (p *Packager) Ship(ctx context.Context, ch remote.Channel, runID, archive string) error {
	if info, err := os.Stat(archive); err == nil {
		slog.Debug("Shipping bundle.", "target", ch.Target(), "bytes", info.Size())
	}
	upload := p.Layout.Upload(runID, "bundle.tar.gz")
	if err := ch.Put(ctx, archive, upload); err != nil {
		return fmt.Errorf("upload bundle: %w", err)
	}
	if _, err := ch.Run(ctx, remote.SwapBundleScript(p.Layout, upload, runID)); err != nil {
		return fmt.Errorf("unpack bundle: %w", err)
	}
	return nil
}

// Deliver packages and ships in one call. On success the target's
// cookbooks/ holds exactly the given cookbooks and roles/ holds every role.
func (p *Packager) Deliver(ctx context.Context, ch remote.Channel, runID string, cookbooks []string) error {
	archive, err := p.Package(cookbooks)
	if err != nil {
		return err
	}
	defer os.Remove(archive)
	return p.Ship(ctx, ch, runID, archive)
}
