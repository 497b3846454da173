package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"galley/cmd/galley/cmdutil"
	"galley/cmd/galley/ui"
	"galley/internal/nodesync"
	"galley/internal/resolve"
)

type syncFunc func(ctx context.Context, s *nodesync.Syncer, sess nodesync.Session) (nodesync.Result, error)

// runSync syncs every target with fn and prints a line per target.
func runSync(cmd *cobra.Command, opts *cmdutil.Options, targets []string, fn syncFunc) error {
	env, err := cmdutil.Open(opts)
	if err != nil {
		return err
	}
	out := ui.NewTelemetryOutput(cmd.ErrOrStderr())
	defer out.Close()

	syncer, closeFn, err := env.Syncer(out.Tracer())
	if err != nil {
		return err
	}
	defer closeFn()

	w := cmd.OutOrStdout()
	return nodesync.Each(cmd.Context(), env.Sessions(targets), env.Config.Parallel, func(ctx context.Context, sess nodesync.Session) error {
		res, err := fn(ctx, syncer, sess)
		printWarnings(cmd, res.Resolution.Warnings)
		if err != nil {
			fmt.Fprintln(w, ui.ErrorMsg("%s: %v", sess.Target, err))
			return err
		}
		fmt.Fprintln(w, ui.SuccessMsg("%s converged (%s)", ui.Accent(res.Node), strings.Join(res.Resolution.Cookbooks, ", ")))
		return nil
	})
}

func printWarnings(cmd *cobra.Command, warnings []resolve.Warning) {
	for _, w := range warnings {
		fmt.Fprintln(cmd.ErrOrStderr(), ui.WarnMsg("%s", w))
	}
}

func recipeCmd(opts *cmdutil.Options) *cobra.Command {
	var save bool
	cmd := &cobra.Command{
		Use:   "recipe <recipe> <target>...",
		Short: "Apply a single recipe to targets, ignoring their node documents",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			recipe := args[0]
			return runSync(cmd, opts, args[1:], func(ctx context.Context, s *nodesync.Syncer, sess nodesync.Session) (nodesync.Result, error) {
				return s.Recipe(ctx, sess, recipe, save)
			})
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "Overwrite the node's document with the one-off run list")
	return cmd
}

func roleCmd(opts *cmdutil.Options) *cobra.Command {
	var save bool
	cmd := &cobra.Command{
		Use:   "role <role> <target>...",
		Short: "Apply a single role to targets, ignoring their node documents",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role := args[0]
			return runSync(cmd, opts, args[1:], func(ctx context.Context, s *nodesync.Syncer, sess nodesync.Session) (nodesync.Result, error) {
				return s.Role(ctx, sess, role, save)
			})
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "Overwrite the node's document with the one-off run list")
	return cmd
}

func configureCmd(opts *cmdutil.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "configure <target>... | all",
		Short: "Converge targets using their node documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targets := args
			if len(args) == 1 && args[0] == "all" {
				env, err := cmdutil.Open(opts)
				if err != nil {
					return err
				}
				if targets, err = env.AllTargets(); err != nil {
					return err
				}
				if !opts.Yes {
					ok, err := ui.Confirm(fmt.Sprintf("Configure all %d nodes?", len(targets)), "use --yes to skip")
					if err != nil {
						return err
					}
					if !ok {
						return ui.ErrCancelled
					}
				}
			}
			return runSync(cmd, opts, targets, func(ctx context.Context, s *nodesync.Syncer, sess nodesync.Session) (nodesync.Result, error) {
				return s.Configure(ctx, sess)
			})
		},
	}
}
