package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"spot2yoto/config"
	"spot2yoto/core/yoto"
	"spot2yoto/logger"
)

var (
	cfgFile string
	verbose bool
	quiet   bool
)

var rootCmd = &cobra.Command{
	Use:           "spot2yoto",
	Short:         "Sync Spotify playlists to Yoto MYO cards",
	Long:          `在 Yoto MYO 卡片的描述中放入 Spotify 歌单链接，spot2yoto 会下载歌曲、上传到 Yoto 并重建卡片内容。`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default ~/.config/spot2yoto/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only log errors")
}

// exitError 携带进程退出码
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

// Execute executes the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	logger.Sync()
	if code := exitCode(err); code != 0 {
		os.Exit(code)
	}
}

// initLogging -v/-q 优先于配置文件中的级别
func initLogging(lc *config.LogConfig) {
	cfg := logger.Config{Level: logger.InfoLevel}
	if lc != nil {
		cfg = logger.Config{
			Level:      logger.LogLevel(lc.Level),
			OutputPath: lc.File,
			MaxSize:    lc.MaxSize,
			MaxBackups: lc.MaxBackups,
			MaxAge:     lc.MaxAge,
		}
	}
	switch {
	case verbose:
		cfg.Level = logger.DebugLevel
	case quiet:
		cfg.Level = logger.ErrorLevel
	}
	logger.InitLogger(cfg)
}

func configPath() string {
	return config.Path(cfgFile)
}

// loadConfig 读取配置并初始化日志
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		initLogging(nil)
		return nil, err
	}
	initLogging(&cfg.Log)
	return cfg, nil
}

func tokenStore(cfg *config.Config) *yoto.TokenStore {
	return yoto.NewTokenStore(afero.NewOsFs(), cfg.Tokens.Dir)
}
