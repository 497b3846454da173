package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"galley/cmd/galley/cmdutil"
	"galley/cmd/galley/ui"
	"galley/internal/catalog"
	"galley/internal/query"
)

func listCmd(opts *cmdutil.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List nodes, recipes and roles in the kitchen",
	}
	cmd.AddCommand(listNodesCmd(opts))
	cmd.AddCommand(listRecipesCmd(opts))
	cmd.AddCommand(listRolesCmd(opts))
	return cmd
}

func listNodesCmd(opts *cmdutil.Options) *cobra.Command {
	var recipe, role, where string
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "List nodes, optionally filtered",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set := 0
			for _, f := range []string{recipe, role, where} {
				if f != "" {
					set++
				}
			}
			if set > 1 {
				return errors.New("--recipe, --role and --where are mutually exclusive")
			}

			env, err := cmdutil.Open(opts)
			if err != nil {
				return err
			}
			q := query.New(env.Store)

			var nodes []catalog.Node
			switch {
			case recipe != "":
				nodes, err = q.NodesWithRecipe(recipe)
			case role != "":
				nodes, err = q.NodesWithRole(role)
			case where != "":
				nodes, err = q.NodesWhere(where)
			default:
				nodes, err = q.Nodes()
			}
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if len(nodes) == 0 {
				fmt.Fprintln(w, ui.Muted("No nodes."))
				return nil
			}
			rows := make([][]string, 0, len(nodes))
			for _, n := range nodes {
				rows = append(rows, []string{n.Identity.Name, n.Identity.ID, strings.Join(n.RunList.Strings(), ", ")})
			}
			fmt.Fprintln(w, ui.Table([]string{"NODE", "ADDRESS", "RUN LIST"}, rows))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&recipe, "recipe", "", "Only nodes that apply this recipe, directly or through a role")
	f.StringVar(&role, "role", "", "Only nodes whose run list names this role")
	f.StringVar(&where, "where", "", "Only nodes where this JSONPath expression selects a value")
	return cmd
}

func listRecipesCmd(opts *cmdutil.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "recipes",
		Short: "List recipes of every cookbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := cmdutil.Open(opts)
			if err != nil {
				return err
			}
			recipes, err := query.New(env.Store).Recipes()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, r := range recipes {
				fmt.Fprintln(w, ui.Bold(r.Name))
				fmt.Fprint(w, ui.KeyValues("  ",
					ui.KV("Description", r.Description),
					ui.KV("Dependencies", ui.List(r.Dependencies)),
					ui.KV("Attributes", ui.List(r.Attributes)),
				))
			}
			return nil
		},
	}
}

func listRolesCmd(opts *cmdutil.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "roles",
		Short: "List roles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := cmdutil.Open(opts)
			if err != nil {
				return err
			}
			roles, err := query.New(env.Store).Roles()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, r := range roles {
				fmt.Fprintln(w, ui.Bold(r.Path))
				fmt.Fprint(w, ui.KeyValues("  ",
					ui.KV("Description", r.Description),
					ui.KV("Run list", ui.List(r.RunList.Strings())),
				))
			}
			return nil
		},
	}
}
