package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"galley/cmd/galley/cmdutil"
	"galley/cmd/galley/ui"
	"galley/internal/resolve"
)

func resolveCmd(opts *cmdutil.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <node>",
		Short: "Show the cookbooks a node's run list would ship",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := cmdutil.Open(opts)
			if err != nil {
				return err
			}
			node, err := env.Store.Node(args[0])
			if err != nil {
				return err
			}
			res, err := resolve.Resolve(cmd.Context(), env.Store, node.RunList)
			if err != nil {
				return err
			}

			printWarnings(cmd, res.Warnings)
			fmt.Fprint(cmd.OutOrStdout(), ui.KeyValues("",
				ui.KV("Node", ui.Accent(node.Identity.Name)),
				ui.KV("Run list", ui.List(node.RunList.Strings())),
				ui.KV("Roles", ui.List(res.Roles)),
				ui.KV("Cookbooks", ui.List(res.Cookbooks)),
			))
			return nil
		},
	}
}
