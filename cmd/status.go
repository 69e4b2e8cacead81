package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"spot2yoto/db"
	"spot2yoto/repository"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last sync of every card",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		gdb, err := db.Open(cfg.State)
		if err != nil {
			return err
		}
		defer db.CloseGormDB(gdb)

		ctx := cmd.Context()
		repo := repository.NewGormSyncStateRepository(gdb)
		states, err := repo.ListCardStates(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(states) == 0 {
			fmt.Fprintln(out, "No cards have been synced yet.")
			return nil
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CARD\tTRACKS\tLAST SYNCED\tFINGERPRINT")
		for _, s := range states {
			n, err := repo.CountTracks(ctx, s.CardID)
			if err != nil {
				return err
			}
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", s.CardID, n, s.LastSyncedAt.Local().Format("2006-01-02 15:04:05"), s.Fingerprint)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
