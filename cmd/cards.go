package cmd

import (
	"bytes"
	"fmt"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"spot2yoto/core/sync"
	"spot2yoto/core/yoto"
)

var cardsAccount string

var cardsCmd = &cobra.Command{
	Use:   "cards",
	Short: "Inspect Yoto MYO cards",
}

var cardsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List MYO cards and whether they link a playlist",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := openYotoClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		cards, err := client.ListMYOCards(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(cards) == 0 {
			fmt.Fprintln(out, "No MYO cards found.")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CARD\tTITLE\tPLAYLISTS")
		for _, c := range cards {
			fmt.Fprintf(tw, "%s\t%s\t%d\n", c.ID, c.Title, len(sync.ExtractPlaylistURLs(c.Description)))
		}
		return tw.Flush()
	},
}

var cardsShowCmd = &cobra.Command{
	Use:   "show CARD_ID",
	Short: "Print the content JSON of one card",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := openYotoClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		raw, err := client.GetCardContent(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			buf.Reset()
			buf.Write(raw)
		}
		buf.WriteByte('\n')
		_, err = buf.WriteTo(cmd.OutOrStdout())
		return err
	},
}

func init() {
	cardsCmd.PersistentFlags().StringVarP(&cardsAccount, "account", "a", "default", "Yoto account")
	cardsCmd.AddCommand(cardsListCmd, cardsShowCmd)
	rootCmd.AddCommand(cardsCmd)
}

// openYotoClient 加载配置并为 --account 创建已认证的客户端
func openYotoClient(cmd *cobra.Command) (*yoto.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	session := yoto.NewSession(cardsAccount, tokenStore(cfg), newAuthenticator(cfg))
	if err := session.EnsureValid(cmd.Context()); err != nil {
		return nil, err
	}
	return yoto.NewClient(cfg.Yoto, cfg.Sync, session), nil
}
