package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibero-data/modgate/internal/license"
)

// cli runs commands against a private sqlite data directory.
type cli struct {
	t       *testing.T
	dataDir string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("MODGATE_CONFIG", filepath.Join(dir, "missing.yaml"))
	t.Setenv("MODGATE_STORE_DRIVER", "sqlite")
	return &cli{t: t, dataDir: filepath.Join(dir, "data")}
}

func (c *cli) run(stdin string, args ...string) (string, error) {
	c.t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs(append([]string{"--data", c.dataDir}, args...))
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&out)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (c *cli) mustRun(stdin string, args ...string) string {
	c.t.Helper()
	out, err := c.run(stdin, args...)
	require.NoError(c.t, err, out)
	return out
}

func TestVersionCommand(t *testing.T) {
	out := newCLI(t).mustRun("", "version")
	assert.Contains(t, out, "modgate dev")
}

func TestLicenseCommands(t *testing.T) {
	c := newCLI(t)

	out := c.mustRun("", "license", "status")
	assert.Contains(t, out, "No license found")

	out = c.mustRun("", "license", "days", "10")
	assert.Contains(t, out, "License set for 10 days")

	out = c.mustRun("", "license", "status")
	assert.Contains(t, out, "Active:")
	assert.Contains(t, out, "VALID")
	assert.Contains(t, out, "(10 days)")

	out = c.mustRun("", "license", "extend", "5")
	assert.Contains(t, out, "License extended until")
	out = c.mustRun("", "license", "status")
	assert.Contains(t, out, "(15 days)")
	assert.Contains(t, out, "Notes:      License extended 5 days - ")

	c.mustRun("", "license", "deactivate")
	out = c.mustRun("", "license", "status")
	assert.Contains(t, out, "EXPIRED")
	assert.Contains(t, out, license.MessageExpired)

	c.mustRun("", "license", "activate")
	c.mustRun("", "license", "unlimited")
	out = c.mustRun("", "license", "status")
	assert.Contains(t, out, "never")
	assert.Contains(t, out, "VALID")
}

func TestLicenseExtendCreatesMissingLicense(t *testing.T) {
	out := newCLI(t).mustRun("", "license", "extend", "3")
	assert.Contains(t, out, "No license found, creating a new one")
	assert.Contains(t, out, "License extended until")
}

func TestLicenseRejectsInvalidDays(t *testing.T) {
	c := newCLI(t)
	for _, arg := range []string{"0", "-4", "ten"} {
		_, err := c.run("", "license", "days", arg)
		assert.ErrorIs(t, err, license.ErrInvalidDays, arg)
	}
}

func TestModulesCommands(t *testing.T) {
	c := newCLI(t)

	out := c.mustRun("", "modules", "disable", "ventas,nope", "stock")
	assert.Contains(t, out, "disabled: ventas")
	assert.Contains(t, out, "disabled: stock")
	assert.Contains(t, out, `warning: module "nope" does not exist`)

	out = c.mustRun("", "modules", "status")
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[1] {
		case "ventas", "stock":
			assert.Contains(t, line, "disabled")
		case "dashboard":
			assert.Contains(t, line, "enabled")
		}
	}

	out = c.mustRun("", "modules", "enable", "ventas")
	assert.Contains(t, out, "enabled: ventas")

	_, err := c.run("", "modules", "enable")
	assert.Error(t, err)
}

func TestSplitIDs(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitIDs([]string{"a, b", ",c,"}))
	assert.Empty(t, splitIDs([]string{" , "}))
}

func TestUserCommands(t *testing.T) {
	c := newCLI(t)

	out := c.mustRun("password1\npassword1\n", "user", "create", "-e", "ana@example.com", "-n", "Ana", "-r", "admin")
	assert.Contains(t, out, "User created successfully: ana@example.com (admin)")

	out = c.mustRun("bob@example.com\nlongenough\nlongenough\n", "user", "create")
	assert.Contains(t, out, "User created successfully: bob@example.com (viewer)")

	_, err := c.run("password1\npassword1\n", "user", "create", "-e", "ana@example.com")
	assert.ErrorContains(t, err, "already exists")

	_, err = c.run("short\nshort\n", "user", "create", "-e", "carl@example.com")
	assert.ErrorContains(t, err, "at least 8 characters")

	_, err = c.run("password1\npassword2\n", "user", "create", "-e", "carl@example.com")
	assert.ErrorContains(t, err, "do not match")

	_, err = c.run("", "user", "create", "-e", "ana@example.com", "-r", "owner")
	assert.ErrorContains(t, err, "role must be")

	out = c.mustRun("", "user", "list")
	assert.Contains(t, out, "ana@example.com")
	assert.Contains(t, out, "bob@example.com")
	assert.Contains(t, out, "Total: 2 user(s)")

	out = c.mustRun("n\n", "user", "delete", "bob@example.com")
	assert.Contains(t, out, "Cancelled.")

	out = c.mustRun("", "user", "delete", "bob@example.com", "--yes")
	assert.Contains(t, out, "User deleted: bob@example.com")

	_, err = c.run("", "user", "delete", "bob@example.com", "-y")
	assert.ErrorContains(t, err, "user not found")
}

func TestInitWizard(t *testing.T) {
	c := newCLI(t)

	out := c.mustRun("admin@example.com\nAdmin\nsupersecret\nsupersecret\nn\n", "init")
	assert.Contains(t, out, "Creating data directory")
	assert.Contains(t, out, "Modules: 10 configured, 10 enabled")
	assert.Contains(t, out, "Admin user created: admin@example.com")
	assert.Contains(t, out, "Setup complete!")

	out = c.mustRun("", "license", "status")
	assert.Contains(t, out, "Demo mode:  yes")

	out = c.mustRun("n\n", "init")
	assert.Contains(t, out, "Users already exist")
	assert.NotContains(t, out, "Admin user created")
}

func TestGeoIPStatusAndConfigure(t *testing.T) {
	c := newCLI(t)

	out := c.mustRun("", "geoip", "status")
	assert.Contains(t, out, "Status: Not installed")
	assert.Contains(t, out, "MaxMind account: not configured")

	_, err := c.run("", "geoip", "download")
	assert.ErrorContains(t, err, "credentials not configured")

	c.mustRun("123456789\nkey\n", "geoip", "configure")
	out = c.mustRun("", "geoip", "status")
	assert.Contains(t, out, "MaxMind account: configured (ID: 123456...)")
}
