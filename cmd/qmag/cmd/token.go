package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/quatton/qmag/pkg/qauth"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage server tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a bearer token for a qmag server",
	Long: `Sign a token with the server's AUTH_SECRET. Hand the token to a client,
which stores it with 'qmag auth login --token'.

Examples:
  AUTH_SECRET=... qmag token issue --subject alice --ttl 720h`,
	RunE: issueToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenIssueCmd)
	tokenIssueCmd.Flags().String("subject", "", "Token subject, usually a user name")
	tokenIssueCmd.Flags().Duration("ttl", 30*24*time.Hour, "Token lifetime (0 = never expires)")
	tokenIssueCmd.Flags().String("secret", "", "Signing secret (default $AUTH_SECRET)")
}

func issueToken(cmd *cobra.Command, args []string) error {
	subject, _ := cmd.Flags().GetString("subject")
	ttl, _ := cmd.Flags().GetDuration("ttl")
	secret, _ := cmd.Flags().GetString("secret")

	if subject == "" {
		return errors.New("--subject is required")
	}
	if secret == "" {
		secret = os.Getenv("AUTH_SECRET")
	}
	if secret == "" {
		return errors.New("no signing secret: pass --secret or set AUTH_SECRET")
	}

	token, err := qauth.Issue([]byte(secret), subject, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
