package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"appraisal/server/internal/auth"
	"appraisal/server/internal/database"

	"github.com/spf13/cobra"
)

func newCreateAdminCmd() *cobra.Command {
	var in auth.RegisterInput

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an administrator account",
		Long:  "Create a user with the admin role. The password is read from --password or ADMIN_PASSWORD.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if in.Password == "" {
				in.Password = os.Getenv("ADMIN_PASSWORD")
			}
			if in.Password == "" {
				return errors.New("a password is required (--password or ADMIN_PASSWORD)")
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			tokens := auth.NewTokenService(a.cfg.Auth.SecretKey, a.cfg.Auth.Issuer, a.cfg.Auth.TokenTTL)
			svc := auth.NewService(database.NewUserStore(a.db), tokens, a.logger)
			u, err := svc.CreateAdmin(cmd.Context(), in)
			if err != nil {
				return fmt.Errorf("creating admin: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Created admin %s (id %d) at %s\n", u.Username, u.ID, u.CreatedAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&in.Email, "email", "", "email address")
	cmd.Flags().StringVar(&in.Username, "username", "", "login name")
	cmd.Flags().StringVar(&in.FullName, "full-name", "", "display name")
	cmd.Flags().StringVar(&in.Password, "password", "", "password (prefer ADMIN_PASSWORD)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}
