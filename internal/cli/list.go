package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"modkeeper/internal/app"
)

func newListCommand(opts *serviceOptions) *cobra.Command {
	var sortBy string
	var descending bool
	var installedOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog modules and their install state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, service, err := loadService(cmd, opts)
			if err != nil {
				return err
			}
			rows, err := service.ListModules(ctx, app.ListRequest{
				SortBy:        app.ListColumn(sortBy),
				Descending:    descending,
				InstalledOnly: installedOnly,
			})
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STATE\tIDENTIFIER\tINSTALLED\tLATEST\tHOST MAX\tNAME")
			for _, row := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					rowState(row),
					row.Identifier,
					orDash(row.InstalledVersion),
					orDash(row.LatestVersion),
					orDash(row.HostVersionMax),
					row.Name,
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&sortBy, "sort", string(app.ListByName), "Sort column: name, version or host_max")
	cmd.Flags().BoolVar(&descending, "desc", false, "Sort descending")
	cmd.Flags().BoolVar(&installedOnly, "installed", false, "Only list installed modules")
	return cmd
}

func rowState(row app.ModuleRow) string {
	switch {
	case !row.Installed:
		return "-"
	case row.AutoInstalled:
		return "A"
	default:
		return "I"
	}
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}
