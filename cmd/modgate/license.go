package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ibero-data/modgate/internal/license"
)

func newLicenseCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "license",
		Short: "Inspect and change the license",
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the license",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				return printLicense(cmd, a)
			})
		},
	}

	days := &cobra.Command{
		Use:   "days N",
		Short: "Create or reset the license for N days from now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseDays(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(a *app) error {
				l, err := a.licenses.Reset(cmd.Context(), n)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "License set for %d days, expires %s\n", n, formatExpiry(l.ExpiresAt))
				return nil
			})
		},
	}

	extend := &cobra.Command{
		Use:   "extend N",
		Short: "Extend the license by N days",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseDays(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(a *app) error {
				return extendLicense(cmd, a, n)
			})
		},
	}

	unlimited := &cobra.Command{
		Use:   "unlimited",
		Short: "Remove the expiry date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				if err := a.licenses.SetUnlimited(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "License set without expiry")
				return nil
			})
		},
	}

	cmd.AddCommand(status, days, extend, unlimited,
		newLicenseSwitchCmd(opts, "activate", true),
		newLicenseSwitchCmd(opts, "deactivate", false),
	)
	return cmd
}

func newLicenseSwitchCmd(opts *cliOptions, use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Set the license kill switch (%s)", use),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				err := a.licenses.SetActive(cmd.Context(), active)
				if errors.Is(err, license.ErrNotFound) {
					return errors.New("no license found, run 'modgate license days N' first")
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "License %sd\n", use)
				return nil
			})
		},
	}
}

// withApp opens the app with quiet logging, runs fn and closes it.
func withApp(cmd *cobra.Command, opts *cliOptions, fn func(a *app) error) error {
	a, err := opts.openApp(cmd, "error")
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func parseDays(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid number of days %q: %w", s, license.ErrInvalidDays)
	}
	return n, nil
}

// extendLicense adds days to an existing license or creates one for days
// when none exists yet.
func extendLicense(cmd *cobra.Command, a *app, days int) error {
	out := cmd.OutOrStdout()
	_, err := a.licenses.Get(cmd.Context())
	if errors.Is(err, license.ErrNotFound) {
		fmt.Fprintln(out, "No license found, creating a new one")
		l, err := a.licenses.Reset(cmd.Context(), days)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "License extended until %s\n", formatExpiry(l.ExpiresAt))
		return nil
	}
	if err != nil {
		return err
	}

	l, err := a.licenses.Extend(cmd.Context(), days)
	if err != nil {
		return err
	}
	note := fmt.Sprintf("License extended %d days - %s", days, a.licenses.Now().Format("2006-01-02"))
	if err := a.licenses.Update(cmd.Context(), license.Patch{Notes: &note}); err != nil {
		return err
	}
	fmt.Fprintf(out, "License extended until %s\n", formatExpiry(l.ExpiresAt))
	return nil
}

func printLicense(cmd *cobra.Command, a *app) error {
	out := cmd.OutOrStdout()
	l, err := a.licenses.Get(cmd.Context())
	if errors.Is(err, license.ErrNotFound) {
		fmt.Fprintln(out, "No license found. Use 'modgate license days N' to create one.")
		return nil
	}
	if err != nil {
		return err
	}

	now := a.licenses.Now()
	info := license.Describe(l, now, a.cfg.Access.ExpiringSoonDays)
	writeLicense(out, l, info, now)
	return nil
}

func writeLicense(out io.Writer, l *license.License, info license.Info, now time.Time) {
	fmt.Fprintln(out, "License Status")
	fmt.Fprintln(out, "==============")

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Active:\t%s\n", yesNo(l.IsActive))
	fmt.Fprintf(w, "Demo mode:\t%s\n", yesNo(l.DemoMode))
	if l.ExpiresAt == nil {
		fmt.Fprintf(w, "Expires:\tnever\n")
	} else {
		fmt.Fprintf(w, "Expires:\t%s\n", formatExpiry(l.ExpiresAt))
		fmt.Fprintf(w, "Remaining:\t%s (%d days)\n", license.FormatRemaining(l.ExpiresAt.Sub(now)), info.DaysRemaining)
	}

	state := "VALID"
	switch {
	case !info.Valid:
		state = "EXPIRED"
	case info.ExpiringSoon:
		state = "EXPIRING SOON"
	}
	fmt.Fprintf(w, "Status:\t%s\n", state)
	fmt.Fprintf(w, "Message:\t%s\n", info.Message)
	if l.Notes != "" {
		fmt.Fprintf(w, "Notes:\t%s\n", l.Notes)
	}
	w.Flush()
}

func formatExpiry(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
