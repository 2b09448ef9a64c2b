package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReconcileCommand(opts *serviceOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Drop registry entries for files missing from the target directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, service, err := loadService(cmd, opts)
			if err != nil {
				return err
			}
			result, err := service.Reconcile(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !result.Recovered && len(result.DroppedFiles) == 0 {
				fmt.Fprintln(out, "Registry matches the target directory")
				return nil
			}
			if result.Recovered {
				fmt.Fprintln(out, "Recovered installs from a transaction whose registry was not saved")
			}
			for _, file := range result.DroppedFiles {
				fmt.Fprintf(out, "missing %s\n", file)
			}
			for _, id := range result.DroppedModules {
				fmt.Fprintf(out, "dropped %s\n", id)
			}
			fmt.Fprintf(out, "Registry now at generation %d\n", result.Generation)
			return nil
		},
	}
}
