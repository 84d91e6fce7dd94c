package cmd

import (
	"fmt"
	"strings"

	"github.com/rogeecn/fub-assistant/internal/auth"
	"github.com/rogeecn/fub-assistant/internal/config"
	"github.com/spf13/cobra"
)

var signSecret string

var signCmd = &cobra.Command{
	Use:   "sign <context>",
	Short: "Sign an iframe context for local testing",
	Args:  cobra.ExactArgs(1),
	RunE:  runSign,
}

func init() {
	rootCmd.AddCommand(signCmd)
	signCmd.Flags().StringVar(&signSecret, "secret", "", "embed secret (default: FUB_EMBED_SECRET)")
}

func runSign(cmd *cobra.Command, args []string) error {
	secret := signSecret
	if secret == "" {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		secret = cfg.EmbedSecret
	}
	if strings.TrimSpace(secret) == "" {
		return fmt.Errorf("embed secret is empty, set FUB_EMBED_SECRET or pass --secret")
	}

	fmt.Fprintln(cmd.OutOrStdout(), auth.Sign(secret, args[0]))
	return nil
}
