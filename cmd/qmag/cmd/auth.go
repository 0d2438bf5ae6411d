package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quatton/qmag/pkg/qauth"
	"github.com/quatton/qmag/pkg/qsdk"
	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage credentials for the remote qmag server (login, logout, status)",
	Long: `Manage the bearer token used by the remote runner.

Tokens are stored in the OS keyring under the configured remote.url.

Examples:
  qmag auth login --token <TOKEN>
  qmag auth status
  qmag auth logout`,
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store a token for the configured remote server",
	RunE:  login,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := remoteConfig(cmd)
		if err != nil {
			return err
		}
		if err := qsdk.DeleteToken(cfg.Remote.URL); err != nil {
			return fmt.Errorf("removing token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Logged out of", cfg.Remote.URL)
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored token's subject and expiry",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := remoteConfig(cmd)
		if err != nil {
			return err
		}
		token, err := cfg.RemoteToken()
		if err != nil {
			return err
		}
		if token == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "Not logged in to", cfg.Remote.URL)
			return nil
		}
		printClaims(cmd, token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd, logoutCmd, authStatusCmd)
	loginCmd.Flags().String("token", "", "Token issued by the server admin (prompted when omitted)")
	authCmd.PersistentFlags().String(qsdk.RemoteURLKey, "", "Remote server URL (overrides config)")
}

func remoteConfig(cmd *cobra.Command) (*qsdk.Config, error) {
	cfg, err := GetConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.Remote.URL == "" {
		return nil, errors.New("remote.url is not configured")
	}
	return cfg, nil
}

func login(cmd *cobra.Command, args []string) error {
	cfg, err := remoteConfig(cmd)
	if err != nil {
		return err
	}

	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		fmt.Fprint(cmd.OutOrStdout(), "Token: ")
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("reading token: %w", err)
		}
		token = strings.TrimSpace(line)
	}
	if token == "" {
		return errors.New("empty token")
	}

	if expired, err := qauth.IsTokenExpired(token, 0); err != nil {
		return fmt.Errorf("not a valid token: %w", err)
	} else if expired {
		return errors.New("token has expired")
	}

	if err := qsdk.SaveToken(cfg.Remote.URL, token); err != nil {
		return fmt.Errorf("saving token to keyring: %w", err)
	}
	printClaims(cmd, token)
	fmt.Fprintln(cmd.OutOrStdout(), "Access token saved")
	return nil
}

func printClaims(cmd *cobra.Command, token string) {
	c, err := qauth.FromToken(token)
	if err != nil {
		GetLogger(cmd).Warn("failed to parse token claims", "error", err)
		return
	}
	expStr := "never"
	if c.Exp > 0 {
		expStr = time.Unix(c.Exp, 0).Format(time.RFC3339)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Logged in as: %s\n", c.Subject)
	fmt.Fprintf(cmd.OutOrStdout(), "Token expires: %s\n", expStr)
}
