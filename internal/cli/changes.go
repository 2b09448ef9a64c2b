package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"modkeeper/internal/app"
	"modkeeper/internal/types"
)

type changeOptions struct {
	DryRun      bool
	PurgeConfig bool
	AllModules  bool
}

func newInstallCommand(opts *serviceOptions) *cobra.Command {
	change := changeOptions{}
	cmd := &cobra.Command{
		Use:   "install <module[=version]>...",
		Short: "Install modules and their dependencies",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChange(cmd, opts, change, app.ChangeRequest{Install: args})
		},
	}
	bindChangeFlags(cmd, &change)
	return cmd
}

func newRemoveCommand(opts *serviceOptions) *cobra.Command {
	change := changeOptions{}
	cmd := &cobra.Command{
		Use:   "remove <module>...",
		Short: "Remove modules and anything left without a dependent",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChange(cmd, opts, change, app.ChangeRequest{Remove: args})
		},
	}
	bindChangeFlags(cmd, &change)
	cmd.Flags().BoolVar(&change.PurgeConfig, "purge-config", false, "Delete directories left holding only unmanaged files")
	return cmd
}

func newUpgradeCommand(opts *serviceOptions) *cobra.Command {
	change := changeOptions{}
	cmd := &cobra.Command{
		Use:   "upgrade [module[=version]]...",
		Short: "Upgrade installed modules",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !change.AllModules {
				return errbuilder.New().
					WithCode(errbuilder.CodeInvalidArgument).
					WithMsg("name modules to upgrade or pass --all")
			}
			return runChange(cmd, opts, change, app.ChangeRequest{Upgrade: args})
		},
	}
	bindChangeFlags(cmd, &change)
	cmd.Flags().BoolVar(&change.AllModules, "all", false, "Upgrade every installed module")
	cmd.Flags().BoolVar(&change.PurgeConfig, "purge-config", false, "Delete directories left holding only unmanaged files")
	return cmd
}

func bindChangeFlags(cmd *cobra.Command, change *changeOptions) {
	cmd.Flags().BoolVar(&change.DryRun, "dry-run", false, "Print the change set without applying it")
}

func runChange(cmd *cobra.Command, opts *serviceOptions, change changeOptions, req app.ChangeRequest) error {
	ctx, service, err := loadService(cmd, opts)
	if err != nil {
		return err
	}
	change.PurgeConfig = resolveBool(cmd, change.PurgeConfig, "purge_config", "purge-config")
	if change.AllModules {
		req.Upgrade = append(req.Upgrade, service.Registry().InstalledIDs()...)
	}

	preview, err := service.RequestChanges(ctx, req)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if preview.ChangeSet.Empty() {
		fmt.Fprintln(out, "Nothing to do")
		return nil
	}
	printChangeSet(out, preview.ChangeSet)
	if change.DryRun {
		return nil
	}

	result, err := service.Commit(ctx, preview, app.CommitOptions{
		Confirmer: purgeConfirmer{purge: change.PurgeConfig, out: out},
	})
	printCommitResult(out, result)
	return err
}

func printChangeSet(out io.Writer, changeSet types.ChangeSet) {
	for _, op := range changeSet.Operations {
		fmt.Fprintln(out, describeOperation(op))
	}
	for _, mark := range changeSet.Marks {
		provenance := "manual"
		if mark.AutoInstalled {
			provenance = "auto"
		}
		fmt.Fprintf(out, "mark %s %s\n", mark.Identifier, provenance)
	}
}

func describeOperation(op types.Operation) string {
	var b strings.Builder
	b.WriteString(string(op.Kind))
	b.WriteString(" ")
	b.WriteString(op.Identifier)
	switch op.Kind {
	case types.OperationInstall:
		fmt.Fprintf(&b, " %s", op.To.Version)
	case types.OperationUpgrade:
		fmt.Fprintf(&b, " %s -> %s", op.From.Version, op.To.Version)
	case types.OperationRemove:
		fmt.Fprintf(&b, " %s", op.From.Version)
	}
	var notes []string
	if op.AutoInstalled && op.Kind != types.OperationRemove {
		notes = append(notes, "auto")
	}
	if op.Reason != "" && op.Reason != types.RemoveRequested {
		notes = append(notes, string(op.Reason))
	}
	if len(notes) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(notes, ", "))
	}
	return b.String()
}

func printCommitResult(out io.Writer, result app.CommitResult) {
	if result.TransactionID == "" {
		return
	}
	fmt.Fprintf(out, "Applied %d operation(s) in transaction %s\n", len(result.Applied), result.TransactionID)
	if result.Failed != nil {
		fmt.Fprintf(out, "Failed: %s\n", describeOperation(*result.Failed))
	}
	for _, dir := range result.ConfigOnlyDirs {
		fmt.Fprintf(out, "Kept %s: holds files no module owns\n", dir)
	}
	if !result.Persisted && len(result.Applied) > 0 {
		fmt.Fprintln(out, "Registry was not saved; run reconcile")
	}
}

// purgeConfirmer answers the installer's config-only directory prompt
// from the --purge-config flag.
type purgeConfirmer struct {
	purge bool
	out   io.Writer
}

func (c purgeConfirmer) ConfirmDelete(ctx context.Context, dir string, leftovers []string) bool {
	log.Ctx(ctx).Info().
		Str("dir", dir).
		Strs("leftovers", leftovers).
		Bool("purge", c.purge).
		Msg("directory holds only unmanaged files")
	if c.purge && c.out != nil {
		fmt.Fprintf(c.out, "Deleting %s (%d unmanaged file(s))\n", dir, len(leftovers))
	}
	return c.purge
}
