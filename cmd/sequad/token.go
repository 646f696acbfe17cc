package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/foch-qualite/sequad/internal/shared/auth"
)

var (
	tokenUser  string
	tokenRoles []string
	tokenTTL   time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a signed access token",
	Long: `Sign a JWT with JWT_SECRET for a dashboard user or a service account.
Roles: full_access, easily, lifen, analysis.`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "token subject")
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "role", []string{auth.RoleAnalysis}, "granted roles")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default TOKEN_TTL)")
	tokenCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	for _, role := range tokenRoles {
		switch role {
		case auth.RoleFullAccess, auth.RoleEasily, auth.RoleLifen, auth.RoleAnalysis:
		default:
			return fmt.Errorf("unknown role %q", role)
		}
	}

	ttl := tokenTTL
	if ttl <= 0 {
		ttl = cfg.Auth.TokenTTL
	}
	token, err := auth.IssueToken(cfg.Auth, tokenUser, tokenRoles, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
