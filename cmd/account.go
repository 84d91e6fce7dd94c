package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rogeecn/fub-assistant/internal/account"
	"github.com/rogeecn/fub-assistant/internal/config"
	"github.com/rogeecn/fub-assistant/internal/oauth"
	"github.com/spf13/cobra"
)

// refreshAccountTokens runs one OAuth refresh for acct and stores the pair.
var refreshAccountTokens = func(ctx context.Context, cfg *config.Config, dir *account.Directory, acct *account.Account) error {
	refresher := oauth.NewRefresher(oauth.NewClient(oauthConfig(cfg)))
	_, err := refresher.RefreshAccount(ctx, dir, acct)
	return err
}

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Inspect and maintain CRM accounts",
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known accounts",
	Args:  cobra.NoArgs,
	RunE:  runAccountList,
}

var accountRefreshCmd = &cobra.Command{
	Use:   "refresh <fub-account-id>",
	Short: "Refresh an account's Follow Up Boss tokens",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountRefresh,
}

func init() {
	rootCmd.AddCommand(accountCmd)
	accountCmd.AddCommand(accountListCmd)
	accountCmd.AddCommand(accountRefreshCmd)
}

func runAccountList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	dir, _, err := loadAccountDirectory(ctx)
	if err != nil {
		return err
	}
	defer dir.Close()

	accounts, err := dir.List(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}

	if len(accounts) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No accounts found.")
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), "ID\tFUB_ACCOUNT\tSTATUS\tCRM\tUPDATED_AT")
	for _, acct := range accounts {
		connected := "no"
		if acct.HasCRMCredentials() {
			connected = "yes"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\t%s\t%s\n",
			acct.ID,
			acct.FUBAccountID,
			acct.SubscriptionStatus,
			connected,
			acct.UpdatedAt.Format(time.RFC3339),
		)
	}
	return nil
}

func runAccountRefresh(cmd *cobra.Command, args []string) error {
	fubAccountID := strings.TrimSpace(args[0])
	if fubAccountID == "" {
		return fmt.Errorf("fub account id is required")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	dir, cfg, err := loadAccountDirectory(ctx)
	if err != nil {
		return err
	}
	defer dir.Close()

	acct, err := dir.GetByFUBAccountID(ctx, fubAccountID)
	if errors.Is(err, account.ErrNotFound) {
		return fmt.Errorf("account %s not found", fubAccountID)
	}
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	if !acct.HasCRMCredentials() {
		return fmt.Errorf("account %s is not connected to Follow Up Boss", fubAccountID)
	}

	if err := refreshAccountTokens(ctx, cfg, dir, acct); err != nil {
		return fmt.Errorf("refresh tokens: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Tokens refreshed: %s\n", fubAccountID)
	return nil
}

func loadAccountDirectory(ctx context.Context) (*account.Directory, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	dir, err := openAccountDirectory(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return dir, cfg, nil
}
