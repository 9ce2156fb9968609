package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ibero-data/modgate/internal/geoip"
	"github.com/ibero-data/modgate/internal/settings"
)

func newGeoIPCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "geoip",
		Short: "Manage the GeoIP database",
		Long:  `Commands for managing the MaxMind database used to tag audit entries with a country.`,
	}

	download := &cobra.Command{
		Use:   "download",
		Short: "Download the GeoIP database from MaxMind",
		Long: `Downloads the GeoLite2-City database from MaxMind into the data directory.

Requires MaxMind account credentials, saved with 'modgate geoip configure'.
Free credentials are available at https://www.maxmind.com/en/geolite2/signup`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				return runGeoIPDownload(cmd, a)
			})
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show GeoIP database status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				return runGeoIPStatus(cmd, a)
			})
		},
	}

	configure := &cobra.Command{
		Use:   "configure",
		Short: "Configure MaxMind credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				return configureMaxMind(cmd.Context(), newPrompter(cmd.InOrStdin(), cmd.OutOrStdout()), a)
			})
		},
	}

	cmd.AddCommand(download, status, configure)
	return cmd
}

func runGeoIPDownload(cmd *cobra.Command, a *app) error {
	ctx, out := cmd.Context(), cmd.OutOrStdout()
	accountID := a.settings.GetWithDefault(ctx, settings.KeyMaxMindAccountID, "")
	licenseKey := a.settings.GetWithDefault(ctx, settings.KeyMaxMindLicenseKey, "")

	d := geoip.NewDownloader(accountID, licenseKey, a.cfg.DataDir, geoip.WithLogger(a.logger))
	fmt.Fprintln(out, "Downloading GeoIP database from MaxMind...")
	fmt.Fprintf(out, "Destination: %s\n", d.Path())

	err := d.Download(ctx)
	if errors.Is(err, geoip.ErrMissingCredentials) {
		return errors.New("MaxMind credentials not configured, run 'modgate geoip configure' first")
	}
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}

	if err := a.settings.Set(ctx, settings.KeyGeoIPUpdatedAt, time.Now().Format(time.RFC3339)); err != nil {
		return err
	}
	fmt.Fprintln(out, "GeoIP database downloaded successfully!")
	return nil
}

func runGeoIPStatus(cmd *cobra.Command, a *app) error {
	ctx, out := cmd.Context(), cmd.OutOrStdout()
	st := geoip.NewDownloader("", "", a.cfg.DataDir).GetStatus()
	if a.cfg.GeoIPPath != "" {
		st.Path = a.cfg.GeoIPPath
	}

	fmt.Fprintln(out, "GeoIP Database Status")
	fmt.Fprintln(out, "=====================")
	fmt.Fprintf(out, "Path: %s\n", st.Path)
	if st.Exists {
		fmt.Fprintln(out, "Status: Installed")
		fmt.Fprintf(out, "File size: %.2f MB\n", float64(st.FileSize)/(1024*1024))
		fmt.Fprintf(out, "File modified: %s\n", st.LastModified.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Fprintln(out, "Status: Not installed")
	}

	if updated := a.settings.GetWithDefault(ctx, settings.KeyGeoIPUpdatedAt, ""); updated != "" {
		fmt.Fprintf(out, "Last downloaded: %s\n", updated)
	}
	if accountID := a.settings.GetWithDefault(ctx, settings.KeyMaxMindAccountID, ""); accountID != "" {
		fmt.Fprintf(out, "MaxMind account: configured (ID: %s...)\n", accountID[:min(6, len(accountID))])
	} else {
		fmt.Fprintln(out, "MaxMind account: not configured")
	}
	return nil
}

func configureMaxMind(ctx context.Context, p *prompter, a *app) error {
	fmt.Fprintln(p.out, "MaxMind GeoIP Configuration")
	fmt.Fprintln(p.out, "Get your free credentials at: https://www.maxmind.com/en/geolite2/signup")

	accountID, err := p.line("Account ID: ")
	if err != nil {
		return err
	}
	licenseKey, err := p.secret("License key: ")
	if err != nil {
		return err
	}
	if accountID == "" || licenseKey == "" {
		return errors.New("both account ID and license key are required")
	}

	if err := a.settings.SetMany(ctx, map[string]string{
		settings.KeyMaxMindAccountID:  accountID,
		settings.KeyMaxMindLicenseKey: licenseKey,
	}); err != nil {
		return err
	}
	fmt.Fprintln(p.out, "Credentials saved. Run 'modgate geoip download' to fetch the database.")
	return nil
}
