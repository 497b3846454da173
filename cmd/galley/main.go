package main

import (
	"os"

	"github.com/spf13/cobra"

	"galley/cmd/galley/cmdutil"
	"galley/cmd/galley/ui"
	"galley/internal/logging"
)

var version = "dev"

func main() {
	var (
		debug bool
		opts  cmdutil.Options
	)
	if err := logging.Configure(logging.LevelWarn); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:           "galley",
		Short:         "Sync cookbooks to nodes and converge them with chef-solo over ssh",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LevelWarn
			if debug {
				level = logging.LevelDebug
			}
			if err := logging.Configure(level); err != nil {
				return err
			}
			ui.ConfigureInteraction(opts.NoInteraction)
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	opts.Bind(root)

	root.AddCommand(recipeCmd(&opts))
	root.AddCommand(roleCmd(&opts))
	root.AddCommand(configureCmd(&opts))
	root.AddCommand(listCmd(&opts))
	root.AddCommand(resolveCmd(&opts))
	root.AddCommand(historyCmd(&opts))
	root.AddCommand(initCmd())

	if err := root.Execute(); err != nil {
		ui.Errorf("%v", err)
		os.Exit(cmdutil.ExitCode(err))
	}
}
