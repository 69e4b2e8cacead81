package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"spot2yoto/config"
	"spot2yoto/core/audio"
	"spot2yoto/core/errs"
	"spot2yoto/core/spotify"
	"spot2yoto/core/sync"
	"spot2yoto/core/yoto"
	"spot2yoto/db"
	"spot2yoto/logger"
	"spot2yoto/repository"
	"spot2yoto/storage"
)

var syncFlags struct {
	account string
	dryRun  bool
	force   bool
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync every card that links a Spotify playlist",
	Long:  `扫描所有 MYO 卡片的描述，找到 Spotify 歌单链接后下载新歌、上传到 Yoto 并重建卡片内容。`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd.Context(), cmd.OutOrStdout())
	},
}

func init() {
	syncCmd.Flags().StringVarP(&syncFlags.account, "account", "a", "", "only sync this Yoto account")
	syncCmd.Flags().BoolVarP(&syncFlags.dryRun, "dry-run", "n", false, "show what would change without uploading")
	syncCmd.Flags().BoolVarP(&syncFlags.force, "force", "f", false, "rebuild cards even when playlists are unchanged")
	rootCmd.AddCommand(syncCmd)
}

func runSync(ctx context.Context, out io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	gdb, err := db.Open(cfg.State)
	if err != nil {
		return err
	}
	defer db.CloseGormDB(gdb)

	lock, err := db.AcquireStoreLock(ctx, cfg.State)
	if err != nil {
		if errors.Is(err, db.ErrStoreLocked) {
			return &errs.SyncError{Msg: "another sync is already running against this state store", Err: err}
		}
		return err
	}
	defer func() {
		if err := lock.Release(context.Background()); err != nil {
			logger.Warn("[runSync] 释放状态锁失败", logger.ErrorField(err))
		}
	}()

	sp, err := spotify.NewClient(ctx, cfg.Spotify, spotify.WithRetryPolicy(cfg.Sync))
	if err != nil {
		return err
	}
	if err := sp.VerifyCredentials(ctx); err != nil {
		return err
	}

	store := tokenStore(cfg)
	accounts, err := resolveAccounts(store, syncFlags.account)
	if err != nil {
		return err
	}

	deps := sync.Deps{
		Playlists: sp,
		Fetcher:   audio.NewYtDlpFetcher(cfg.Download, openArchive(ctx, cfg.Archive)),
		Repo:      repository.NewGormSyncStateRepository(gdb),
	}
	authn := newAuthenticator(cfg)

	total := &sync.Report{}
	for _, account := range accounts {
		report, err := syncAccount(ctx, cfg, deps, yoto.NewSession(account, store, authn))
		total.Merge(report)
		if err != nil {
			printReport(out, total, syncFlags.dryRun)
			return err
		}
	}

	printReport(out, total, syncFlags.dryRun)
	if code := total.ExitCode(); code != 0 {
		return &exitError{code: code, err: fmt.Errorf("%d of %d cards failed to sync", total.Failed, total.Total())}
	}
	return nil
}

func syncAccount(ctx context.Context, cfg *config.Config, deps sync.Deps, session *yoto.Session) (*sync.Report, error) {
	if err := session.EnsureValid(ctx); err != nil {
		return nil, err
	}
	client := yoto.NewClient(cfg.Yoto, cfg.Sync, session)
	defer client.Close()

	deps.Cards = client
	opts := sync.Options{DryRun: syncFlags.dryRun, Force: syncFlags.force, Account: session.Account()}
	logger.Info("[syncAccount] 开始同步", logger.String("account", session.Account()), logger.Bool("dry_run", opts.DryRun))
	return sync.NewEngine(deps, cfg.Sync, opts).Run(ctx)
}

// resolveAccounts 指定账号时只同步该账号，否则同步所有已登录账号
func resolveAccounts(store *yoto.TokenStore, account string) ([]string, error) {
	if account != "" {
		return []string{account}, nil
	}
	accounts, err := store.Accounts()
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, &errs.AuthError{Msg: "no Yoto accounts found, run 'spot2yoto auth yoto' first"}
	}
	return accounts, nil
}

// newAuthenticator 没有 client_id 时无法刷新，过期 token 会变成认证错误
func newAuthenticator(cfg *config.Config) *yoto.Authenticator {
	authn, err := yoto.NewAuthenticator(cfg.Yoto, nil)
	if err != nil {
		logger.Warn("[newAuthenticator] 未配置 yoto.client_id，无法刷新 token", logger.ErrorField(err))
		return nil
	}
	return authn
}

// openArchive 归档不可用时只记录警告
func openArchive(ctx context.Context, ac config.ArchiveConfig) audio.Archive {
	if !ac.Enabled {
		return nil
	}
	archive, err := storage.NewMinioArchive(ctx, ac)
	if err != nil {
		logger.Warn("[openArchive] 音频归档不可用，直接下载", logger.ErrorField(err))
		return nil
	}
	return archive
}

func printReport(out io.Writer, r *sync.Report, dryRun bool) {
	if r.Total() == 0 {
		fmt.Fprintln(out, "No cards with Spotify playlist links found.")
		return
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tCARD\tTITLE\tSTATUS\tNEW\tREMOVED\tCHAPTERS")
	for _, m := range r.Mappings {
		status := m.Status.String()
		if m.Unchanged {
			status += " (unchanged)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			m.Account, m.CardID, m.CardTitle, status, len(m.New), len(m.Removed), m.Chapters)
	}
	_ = tw.Flush()

	for _, m := range r.Mappings {
		if dryRun {
			for _, t := range m.New {
				fmt.Fprintf(out, "  + [%s] %s\n", m.CardID, t.DisplayTitle())
			}
			for _, id := range m.Removed {
				fmt.Fprintf(out, "  - [%s] track %s\n", m.CardID, id)
			}
		}
		for _, it := range m.Items {
			if it.Err != nil {
				fmt.Fprintf(out, "  ! [%s] %s: %v\n", m.CardID, it.Title, it.Err)
			}
		}
		if m.Err != nil {
			fmt.Fprintf(out, "  ! [%s] %v\n", m.CardID, m.Err)
		}
	}

	fmt.Fprintf(out, "\nSynced: %d  Skipped: %d  Failed: %d  Downloaded: %d  Uploaded: %d  Reused: %d  Removed: %d\n",
		r.Synced, r.Skipped, r.Failed, r.Downloaded, r.Uploaded, r.Reused, r.Removed)
}
