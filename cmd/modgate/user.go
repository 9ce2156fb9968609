package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ibero-data/modgate/internal/auth"
)

func newUserCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
		Long:  `Commands for managing the users allowed to call the admin API.`,
	}

	var email, name, role string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a new user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserCreate(cmd, opts, email, name, role)
		},
	}
	create.Flags().StringVarP(&email, "email", "e", "", "User email (prompted when empty)")
	create.Flags().StringVarP(&name, "name", "n", "", "Display name")
	create.Flags().StringVarP(&role, "role", "r", auth.RoleViewer, "User role (admin or viewer)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List all users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserList(cmd, opts)
		},
	}

	var yes bool
	del := &cobra.Command{
		Use:   "delete [email]",
		Short: "Delete a user by email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserDelete(cmd, opts, args[0], yes)
		},
	}
	del.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	cmd.AddCommand(create, list, del)
	return cmd
}

func runUserCreate(cmd *cobra.Command, opts *cliOptions, email, name, role string) error {
	if role != auth.RoleAdmin && role != auth.RoleViewer {
		return fmt.Errorf("role must be %q or %q", auth.RoleAdmin, auth.RoleViewer)
	}

	a, err := opts.openApp(cmd, "error")
	if err != nil {
		return err
	}
	defer a.Close()

	p := newPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
	if email == "" {
		if email, err = p.line("Email: "); err != nil {
			return err
		}
	}
	if !validEmail(email) {
		return errors.New("invalid email address")
	}
	password, err := p.newPassword("Password")
	if err != nil {
		return err
	}

	user, err := a.users.Create(cmd.Context(), email, password, name, role)
	if errors.Is(err, auth.ErrUserExists) {
		return errors.New("a user with this email already exists")
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "User created successfully: %s (%s)\n", user.Email, user.Role)
	return nil
}

func runUserList(cmd *cobra.Command, opts *cliOptions) error {
	a, err := opts.openApp(cmd, "error")
	if err != nil {
		return err
	}
	defer a.Close()

	users, err := a.users.List(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEMAIL\tNAME\tROLE\tCREATED")
	for _, u := range users {
		name := u.Name
		if name == "" {
			name = "-"
		}
		created := "-"
		if u.CreatedAt != nil {
			created = u.CreatedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", shortID(u.ID), u.Email, name, u.Role, created)
	}
	w.Flush()

	fmt.Fprintf(out, "\nTotal: %d user(s)\n", len(users))
	return nil
}

func runUserDelete(cmd *cobra.Command, opts *cliOptions, email string, yes bool) error {
	a, err := opts.openApp(cmd, "error")
	if err != nil {
		return err
	}
	defer a.Close()

	user, err := a.users.Get(cmd.Context(), email)
	if errors.Is(err, auth.ErrUserNotFound) {
		return fmt.Errorf("user not found: %s", email)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !yes {
		p := newPrompter(cmd.InOrStdin(), out)
		if !p.confirm(fmt.Sprintf("Are you sure you want to delete user '%s' (%s, %s)?", user.Email, user.Name, user.Role)) {
			fmt.Fprintln(out, "Cancelled.")
			return nil
		}
	}

	if err := a.users.Delete(cmd.Context(), email); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	fmt.Fprintf(out, "User deleted: %s\n", user.Email)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
