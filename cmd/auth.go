package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jessdabre/gmail-to-sheets/credential"
)

func newAuthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authorize Gmail and Sheets access and store the OAuth token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, cleanup, err := prepare(cmd)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			oauthCfg, err := credential.OAuthConfig(cfg.CredentialsFile)
			if err != nil {
				return err
			}
			tokens, err := openTokenStore(cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Open this URL in a browser and authorize access:")
			fmt.Fprintln(out, credential.AuthURL(oauthCfg, uuid.NewString()))
			fmt.Fprint(out, "Authorization code: ")

			scanner := bufio.NewScanner(cmd.InOrStdin())
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					return fmt.Errorf("read authorization code: %w", err)
				}
				return fmt.Errorf("no authorization code entered")
			}
			code := strings.TrimSpace(scanner.Text())
			if code == "" {
				return fmt.Errorf("no authorization code entered")
			}

			if _, err := credential.Exchange(cmd.Context(), oauthCfg, tokens, code); err != nil {
				return err
			}
			logger.Info("oauth token stored", "tokenStore", cfg.TokenStore)
			fmt.Fprintln(out, "Token stored.")
			return nil
		},
	}
}
