package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/PrakarshaKondour/ETracking-sub000/internal/auth"
	"github.com/PrakarshaKondour/ETracking-sub000/internal/config"
)

func newTokenCmd() *cobra.Command {
	var (
		role     string
		username string
		userID   string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed access token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch role {
			case auth.RoleAdmin, auth.RoleVendor, auth.RoleCustomer:
			default:
				return fmt.Errorf("unknown role %q (want admin, vendor or customer)", role)
			}
			if username == "" {
				return fmt.Errorf("--username is required")
			}
			if userID == "" {
				userID = uuid.New().String()
			}

			cfg := config.Load()
			token, err := auth.NewJWTService(cfg.JWTSecret).GenerateToken(userID, username, role)
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}
			fmt.Println(token)
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", auth.RoleAdmin, "Token role (admin, vendor or customer)")
	cmd.Flags().StringVar(&username, "username", "", "Username carried in the token")
	cmd.Flags().StringVar(&userID, "id", "", "Subject id (random when empty)")
	return cmd
}
