package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sbl8/echokern/bootstrap"
)

func newBootCmd(a *app) *cobra.Command {
	var stage string

	cmd := &cobra.Command{
		Use:   "boot",
		Short: "Bootstrap a kernel up to a stage and report subsystem state",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := bootstrap.ParseStage(stage)
			if err != nil {
				return err
			}

			k := a.newKernel()
			defer k.Shutdown()

			out := cmd.OutOrStdout()
			bootErr := k.Bootstrap(cmd.Context(), target)

			fmt.Fprintln(out, titleStyle.Render("echokern boot"))
			fmt.Fprintf(out, "  kernel: %s\n\n", dimStyle.Render(k.ID()))
			for _, s := range bootstrap.Stages() {
				mark := dimStyle.Render("·")
				switch {
				case s <= k.Stage():
					mark = successStyle.Render("✓")
				case s == k.Stage()+1 && bootErr != nil:
					mark = errorStyle.Render("✗")
				}
				fmt.Fprintf(out, "  %s stage %d  %s\n", mark, int(s), s)
			}
			fmt.Fprintln(out)

			if bootErr != nil {
				return bootErr
			}
			printKernelStats(out, k)
			return nil
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "cognitive", "target stage: init, hypergraph, scheduler, cognitive (or 0-3)")
	return cmd
}
