package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"spot2yoto/config"
	"spot2yoto/core/errs"
	"spot2yoto/core/spotify"
	"spot2yoto/core/yoto"
	"spot2yoto/logger"
)

var authFlags struct {
	clientID     string
	clientSecret string
	service      string
	account      string
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage Yoto and Spotify credentials",
}

var authYotoCmd = &cobra.Command{
	Use:   "yoto [ACCOUNT]",
	Short: "Log in to a Yoto account with the device code flow",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		account := "default"
		if len(args) == 1 {
			account = args[0]
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		authn, err := yoto.NewAuthenticator(cfg.Yoto, nil)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		da, err := authn.StartDeviceFlow(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		link := da.VerificationURIComplete
		if link == "" {
			link = da.VerificationURI
		}
		fmt.Fprintf(out, "Open %s in your browser and confirm the code %s\n", link, da.UserCode)
		if !da.Expiry.IsZero() {
			fmt.Fprintf(out, "The code expires in %s.\n", time.Until(da.Expiry).Round(time.Second))
		}

		tokens, err := authn.WaitForToken(ctx, da)
		if err != nil {
			return err
		}
		if err := tokenStore(cfg).Save(account, tokens); err != nil {
			return err
		}
		logger.Info("[authYoto] 登录成功", logger.String("account", account))
		fmt.Fprintf(out, "Yoto account %q authenticated.\n", account)
		return nil
	},
}

var authSpotifyCmd = &cobra.Command{
	Use:   "spotify",
	Short: "Store and verify Spotify client credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		in := bufio.NewReader(cmd.InOrStdin())
		out := cmd.OutOrStdout()
		id, err := valueOrPrompt(in, out, authFlags.clientID, cfg.Spotify.ClientID, "Spotify client id")
		if err != nil {
			return err
		}
		secret, err := valueOrPrompt(in, out, authFlags.clientSecret, cfg.Spotify.ClientSecret, "Spotify client secret")
		if err != nil {
			return err
		}
		cfg.Spotify = config.SpotifyConfig{ClientID: id, ClientSecret: secret}

		client, err := spotify.NewClient(cmd.Context(), cfg.Spotify, spotify.WithRetryPolicy(cfg.Sync))
		if err != nil {
			return err
		}
		if err := client.VerifyCredentials(cmd.Context()); err != nil {
			return err
		}
		if err := config.Save(cfg, configPath()); err != nil {
			return err
		}
		fmt.Fprintln(out, "Spotify credentials verified and saved.")
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store := tokenStore(cfg)
		accounts, err := store.Accounts()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SERVICE\tACCOUNT\tSTATUS")
		for _, account := range accounts {
			fmt.Fprintf(tw, "yoto\t%s\t%s\n", account, tokenStatus(store, account, time.Now()))
		}
		if len(accounts) == 0 {
			fmt.Fprintln(tw, "yoto\t-\tnot logged in")
		}
		spotifyStatus := "not configured"
		if cfg.Spotify.Configured() {
			spotifyStatus = "configured"
		}
		fmt.Fprintf(tw, "spotify\t-\t%s\n", spotifyStatus)
		return tw.Flush()
	},
}

var authClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove stored credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		switch authFlags.service {
		case "yoto":
			store := tokenStore(cfg)
			accounts := []string{authFlags.account}
			if authFlags.account == "" {
				if accounts, err = store.Accounts(); err != nil {
					return err
				}
			}
			for _, account := range accounts {
				existed, err := store.Delete(account)
				if err != nil {
					return err
				}
				if existed {
					fmt.Fprintf(out, "Removed Yoto tokens for %q.\n", account)
				} else {
					fmt.Fprintf(out, "No Yoto tokens stored for %q.\n", account)
				}
			}
		case "spotify":
			cfg.Spotify = config.SpotifyConfig{}
			if err := config.Save(cfg, configPath()); err != nil {
				return err
			}
			fmt.Fprintln(out, "Spotify credentials removed.")
		default:
			return &errs.ConfigError{Msg: fmt.Sprintf("unknown service %q (yoto, spotify)", authFlags.service)}
		}
		return nil
	},
}

func init() {
	authSpotifyCmd.Flags().StringVar(&authFlags.clientID, "client-id", "", "Spotify client id")
	authSpotifyCmd.Flags().StringVar(&authFlags.clientSecret, "client-secret", "", "Spotify client secret")
	authClearCmd.Flags().StringVar(&authFlags.service, "service", "yoto", "yoto or spotify")
	authClearCmd.Flags().StringVarP(&authFlags.account, "account", "a", "", "Yoto account (default: all)")

	authCmd.AddCommand(authYotoCmd, authSpotifyCmd, authStatusCmd, authClearCmd)
	rootCmd.AddCommand(authCmd)
}

// tokenStatus valid / expired / invalid
func tokenStatus(store *yoto.TokenStore, account string, now time.Time) string {
	tokens, err := store.Load(account)
	switch {
	case err != nil || tokens == nil:
		return "invalid"
	case tokens.IsExpired(now):
		if tokens.RefreshToken != "" {
			return "expired (will refresh)"
		}
		return "expired"
	default:
		return "valid until " + tokens.Expiry().Local().Format("2006-01-02 15:04")
	}
}

// valueOrPrompt 优先使用命令行参数，其次是已有配置，最后交互输入
func valueOrPrompt(in *bufio.Reader, out io.Writer, flagValue, current, label string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if current != "" {
		return current, nil
	}
	fmt.Fprintf(out, "%s: ", label)
	line, err := in.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		if err != nil && err != io.EOF {
			return "", err
		}
		return "", &errs.ConfigError{Msg: label + " is required"}
	}
	return line, nil
}
