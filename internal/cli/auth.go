package cli

import (
	"fmt"

	"coachapp/internal/client"
	"coachapp/models"

	"github.com/spf13/cobra"
)

// RegisterCmd returns the register command
func RegisterCmd() *cobra.Command {
	var password, displayName, role string

	cmd := &cobra.Command{
		Use:   "register <nickname>",
		Short: "Create a coach or client account",
		Long: `Create an account on the server.

Examples:
  coachctl register anna --password secret --role coach --name "Coach Anna"
  coachctl register max --password secret --role client`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := NewContext()
			defer cancel()

			session, err := loadSession()
			if err != nil {
				return err
			}
			c := client.New(resolveURL(session), "")
			profile, err := c.Register(ctx, args[0], password, displayName, models.Role(role))
			if err != nil {
				return err
			}

			fmt.Printf("✓ Registered %s as %s (%s)\n", nameStyle.Sprint(profile.DisplayName), profile.Role, idStyle.Sprint(profile.ID))
			return nil
		},
	}

	cmd.Flags().StringVarP(&password, "password", "p", "", "Account password (required)")
	cmd.Flags().StringVar(&displayName, "name", "", "Display name (defaults to nickname)")
	cmd.Flags().StringVar(&role, "role", string(models.RoleClient), "Account role: coach or client")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

// LoginCmd returns the login command
func LoginCmd() *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "login <nickname>",
		Short: "Log in and remember the session token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := NewContext()
			defer cancel()

			session, err := loadSession()
			if err != nil {
				return err
			}
			url := resolveURL(session)
			c := client.New(url, "")
			auth, err := c.Login(ctx, args[0], password)
			if err != nil {
				return err
			}

			if err := saveSession(&savedSession{URL: url, UserID: auth.UserID, Nickname: args[0], Token: auth.Token}); err != nil {
				return err
			}
			fmt.Printf("✓ Logged in as %s (%s)\n", nameStyle.Sprint(args[0]), idStyle.Sprint(auth.UserID))
			return nil
		},
	}

	cmd.Flags().StringVarP(&password, "password", "p", "", "Account password (required)")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

// LogoutCmd returns the logout command
func LogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session token and forget it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := NewContext()
			defer cancel()

			c, _, err := authorizedClient()
			if err != nil {
				return err
			}
			if err := c.Logout(ctx); err != nil {
				return fmt.Errorf("failed to logout: %w", err)
			}
			if err := removeSession(); err != nil {
				return err
			}
			fmt.Println("✓ Logged out")
			return nil
		},
	}
}
