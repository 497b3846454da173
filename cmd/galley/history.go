package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"galley/cmd/galley/cmdutil"
	"galley/cmd/galley/ui"
)

func historyCmd(opts *cmdutil.Options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [node]",
		Short: "Show recent sync runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := cmdutil.Open(opts)
			if err != nil {
				return err
			}
			h, err := env.History()
			if err != nil {
				return err
			}
			if h == nil {
				return errors.New("run history is disabled in galley.yaml")
			}
			defer h.Close()

			var node string
			if len(args) == 1 {
				node = args[0]
			}
			runs, err := h.List(cmd.Context(), node, limit)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(w, ui.Muted("No runs recorded."))
				return nil
			}
			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				rows = append(rows, []string{
					r.StartedAt.Local().Format(time.DateTime),
					r.Node,
					r.Target,
					ui.Outcome(r.Outcome),
					r.Phase,
					r.Duration().Round(time.Millisecond).String(),
					strings.Join(r.Cookbooks, ", "),
				})
			}
			fmt.Fprintln(w, ui.Table([]string{"STARTED", "NODE", "TARGET", "OUTCOME", "PHASE", "DURATION", "COOKBOOKS"}, rows))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum runs to show")
	return cmd
}
