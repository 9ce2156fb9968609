package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ibero-data/modgate/internal/modules"
)

func newModulesCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "modules",
		Short: "Inspect and toggle modules",
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the modules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				list, err := a.modules.All(cmd.Context())
				if err != nil {
					return err
				}
				writeModules(cmd, list)
				return nil
			})
		},
	}

	cmd.AddCommand(status,
		newModulesSwitchCmd(opts, "enable", true),
		newModulesSwitchCmd(opts, "disable", false),
	)
	return cmd
}

func newModulesSwitchCmd(opts *cliOptions, use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:     use + " ID[,ID...]",
		Short:   fmt.Sprintf("%s one or more modules", strings.ToUpper(use[:1])+use[1:]),
		Example: fmt.Sprintf("  modgate modules %s ventas,stock", use),
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				return setModules(cmd, a, splitIDs(args), enabled)
			})
		},
	}
}

// splitIDs accepts ids as separate arguments, comma separated, or both.
func splitIDs(args []string) []string {
	var ids []string
	for _, arg := range args {
		for _, id := range strings.Split(arg, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// setModules updates each existing id and warns about unknown ones.
func setModules(cmd *cobra.Command, a *app, ids []string, enabled bool) error {
	ctx, out := cmd.Context(), cmd.OutOrStdout()

	// Seed the defaults so a fresh store knows every standard module.
	if _, err := a.modules.All(ctx); err != nil {
		return err
	}

	label := "disabled"
	if enabled {
		label = "enabled"
	}
	for _, id := range ids {
		err := a.modules.SetEnabled(ctx, id, enabled)
		if errors.Is(err, modules.ErrNotFound) {
			fmt.Fprintf(out, "  warning: module %q does not exist\n", id)
			continue
		}
		if err != nil {
			return fmt.Errorf("update module %s: %w", id, err)
		}
		fmt.Fprintf(out, "  %s: %s\n", label, id)
	}
	return nil
}

func writeModules(cmd *cobra.Command, list []modules.Module) {
	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintln(out, "No modules configured")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ORDER\tID\tNAME\tSTATUS\tROUTE")
	for _, m := range list {
		status := "disabled"
		if m.IsEnabled() {
			status = "enabled"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", m.Order, m.ID, m.Name, status, m.Route)
	}
	w.Flush()
}
