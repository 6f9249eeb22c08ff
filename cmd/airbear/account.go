package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/airbear/internal/models"
	"github.com/example/airbear/internal/supabase"
)

type credentialFlags struct {
	email    string
	password string
}

func (c *credentialFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.email, "email", "", "account email")
	cmd.Flags().StringVar(&c.password, "password", "", "account password (default $AIRBEAR_PASSWORD)")
	_ = cmd.MarkFlagRequired("email")
}

func (c *credentialFlags) resolve() error {
	if c.password == "" {
		c.password = os.Getenv("AIRBEAR_PASSWORD")
	}
	if c.password == "" {
		return errors.New("a password is required")
	}
	return nil
}

func newLoginCmd(a *app) *cobra.Command {
	var creds credentialFlags
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and remember the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := creds.resolve(); err != nil {
				return err
			}
			if err := a.session.SignIn(cmd.Context(), creds.email, creds.password); err != nil {
				return err
			}
			s := a.session.Snapshot()
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", s.User.Email, s.Role)
			return nil
		},
	}
	creds.bind(cmd)
	return cmd
}

func newSignupCmd(a *app) *cobra.Command {
	var (
		creds credentialFlags
		role  string
	)
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := creds.resolve(); err != nil {
				return err
			}
			err := a.session.SignUp(cmd.Context(), creds.email, creds.password, models.Role(role))
			if errors.Is(err, supabase.ErrConfirmationRequired) {
				fmt.Fprintln(cmd.OutOrStdout(), "Account created. "+err.Error()+" before signing in.")
				return nil
			}
			if err != nil {
				return err
			}
			s := a.session.Snapshot()
			fmt.Fprintf(cmd.OutOrStdout(), "Welcome aboard, %s (%s)\n", s.User.Email, s.Role)
			return nil
		},
	}
	creds.bind(cmd)
	cmd.Flags().StringVar(&role, "role", string(models.RoleUser), "user or driver")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := a.session.SignOut(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return err
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show who the API thinks you are",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if a.token() == "" {
				if u := a.user(); u != nil {
					fmt.Fprintf(out, "%s (unverified, from --user)\n", u.ID)
					return nil
				}
				fmt.Fprintln(out, "Not signed in")
				return nil
			}
			u, err := a.api.Me(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s <%s> role=%s\n", u.ID, u.Email, u.Role)
			return nil
		},
	}
}
