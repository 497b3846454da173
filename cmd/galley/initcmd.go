package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"galley/cmd/galley/ui"
	"galley/config"
	"galley/internal/catalog"
)

func initCmd() *cobra.Command {
	var user string
	var force bool
	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Create a kitchen skeleton",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			if _, err := os.Stat(config.Path(dir)); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", config.Path(dir))
			}

			if user == "" {
				var err error
				user, err = ui.Prompt("SSH user", "root", "use --user <name>")
				if err != nil {
					return err
				}
			}
			return initKitchen(cmd, dir, user)
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "SSH user for targets")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing galley.yaml")
	return cmd
}

func initKitchen(cmd *cobra.Command, dir, user string) error {
	for _, sub := range []string{catalog.NodesDir, catalog.RolesDir, catalog.CookbooksDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", sub, err)
		}
	}
	cfg := config.Default()
	cfg.SSH.User = user
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.Save(dir); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), ui.SuccessMsg("Kitchen ready in %s", ui.Accent(dir)))
	fmt.Fprintln(cmd.OutOrStdout(), ui.InfoMsg("Add node documents under %s and run 'galley configure all'.", filepath.Join(dir, catalog.NodesDir)))
	return nil
}
