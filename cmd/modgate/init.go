package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ibero-data/modgate/internal/auth"
	"github.com/ibero-data/modgate/internal/modules"
)

func newInitCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize modgate with an interactive setup wizard",
		Long: `Runs an interactive setup wizard.

This will:
  1. Create the data directory and run migrations
  2. Generate a signing secret for API tokens
  3. Provision the trial license and the default modules
  4. Create an admin user
  5. Optionally configure MaxMind GeoIP`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, opts)
		},
	}
}

func runInit(cmd *cobra.Command, opts *cliOptions) error {
	out := cmd.OutOrStdout()
	p := newPrompter(cmd.InOrStdin(), out)

	fmt.Fprintln(out, "===========================================")
	fmt.Fprintln(out, "  modgate Setup Wizard")
	fmt.Fprintln(out, "===========================================")
	fmt.Fprintln(out)

	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfg.DataDir); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(out, "Creating data directory: %s\n", cfg.DataDir)
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
	}

	a, err := opts.openApp(cmd, "error")
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()
	fmt.Fprintf(out, "Store ready (%s).\n", a.cfg.Store.Driver)

	if _, err := a.jwtSecret(ctx); err != nil {
		return fmt.Errorf("generate secret: %w", err)
	}
	fmt.Fprintln(out, "Token signing secret ready.")

	l, err := a.licenses.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("provision license: %w", err)
	}
	fmt.Fprintf(out, "License expires: %s\n", formatExpiry(l.ExpiresAt))

	list, err := a.modules.All(ctx)
	if err != nil {
		return fmt.Errorf("seed modules: %w", err)
	}
	fmt.Fprintf(out, "Modules: %d configured, %d enabled\n", len(list), len(modules.FilterEnabled(list)))

	count, err := a.users.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 && !p.confirm("\nUsers already exist. Do you want to create another admin user?") {
		fmt.Fprintln(out, "\nSetup complete! Run 'modgate serve' to start the server.")
		return nil
	}

	fmt.Fprintln(out, "\n--- Admin User Setup ---")
	email, err := p.line("Admin email: ")
	if err != nil {
		return err
	}
	if !validEmail(email) {
		return errors.New("invalid email address")
	}
	name, err := p.line("Admin name (optional): ")
	if err != nil {
		return err
	}
	password, err := p.newPassword("Admin password")
	if err != nil {
		return err
	}
	if _, err := a.users.Create(ctx, email, password, name, auth.RoleAdmin); err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	fmt.Fprintf(out, "Admin user created: %s\n", email)

	if p.confirm("\nConfigure MaxMind GeoIP for audit enrichment?") {
		if err := configureMaxMind(ctx, p, a); err != nil {
			return err
		}
	}

	fmt.Fprintln(out, "\n===========================================")
	fmt.Fprintln(out, "  Setup complete!")
	fmt.Fprintln(out, "===========================================")
	fmt.Fprintf(out, "\nRun 'modgate serve --data %s' to start the server.\n", a.cfg.DataDir)
	return nil
}
