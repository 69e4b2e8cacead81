package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"spot2yoto/core/errs"
)

const (
	// EnvConfigPath 覆盖默认配置文件路径
	EnvConfigPath = "SPOT2YOTO_CONFIG"
	envPrefix     = "SPOT2YOTO"
)

// Config 应用配置。各组件在构造时接收其中的子结构，不直接读取环境变量。
type Config struct {
	Yoto     YotoConfig     `mapstructure:"yoto"`
	Spotify  SpotifyConfig  `mapstructure:"spotify"`
	Download DownloadConfig `mapstructure:"download"`
	Sync     SyncConfig     `mapstructure:"sync"`
	State    StateConfig    `mapstructure:"state"`
	Tokens   TokensConfig   `mapstructure:"tokens"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Log      LogConfig      `mapstructure:"log"`
}

type YotoConfig struct {
	ClientID string `mapstructure:"client_id"`
	APIBase  string `mapstructure:"api_base"`
	AuthBase string `mapstructure:"auth_base"`
}

type SpotifyConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// Configured reports whether client credentials are present.
func (s SpotifyConfig) Configured() bool {
	return s.ClientID != "" && s.ClientSecret != ""
}

type DownloadConfig struct {
	Format     string `mapstructure:"format"`
	OutputDir  string `mapstructure:"output_dir"`
	YtDlpPath  string `mapstructure:"ytdlp_path"`
	TimeoutSec int    `mapstructure:"timeout"`
}

func (d DownloadConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSec) * time.Second
}

type SyncConfig struct {
	MaxRetries               int     `mapstructure:"max_retries"`
	TranscodePollInterval    int     `mapstructure:"transcode_poll_interval"`
	TranscodePollMaxAttempts int     `mapstructure:"transcode_poll_max_attempts"`
	CleanupDownloads         bool    `mapstructure:"cleanup_downloads"`
	MaxRetryAfter            int     `mapstructure:"max_retry_after"`
	RequestsPerSecond        float64 `mapstructure:"requests_per_second"`
}

func (s SyncConfig) PollInterval() time.Duration {
	return time.Duration(s.TranscodePollInterval) * time.Second
}

func (s SyncConfig) RetryAfterCap() time.Duration {
	return time.Duration(s.MaxRetryAfter) * time.Second
}

// StateConfig 状态库配置。driver 为 sqlite 时使用 Path，为 mysql 时使用 DSN；
// RedisAddr 非空时用 redis 做跨主机的运行锁。
type StateConfig struct {
	Driver        string `mapstructure:"driver"`
	Path          string `mapstructure:"path"`
	DSN           string `mapstructure:"dsn"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

type TokensConfig struct {
	Dir string `mapstructure:"dir"`
}

// ArchiveConfig MinIO 音频归档，多台机器共享已下载的音频
type ArchiveConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("yoto.client_id", "")
	v.SetDefault("yoto.api_base", "https://api.yotoplay.com")
	v.SetDefault("yoto.auth_base", "https://login.yotoplay.com")

	v.SetDefault("spotify.client_id", "")
	v.SetDefault("spotify.client_secret", "")

	v.SetDefault("download.format", "mp3")
	v.SetDefault("download.output_dir", "~/.cache/spot2yoto/downloads")
	v.SetDefault("download.ytdlp_path", "yt-dlp")
	v.SetDefault("download.timeout", 300)

	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.transcode_poll_interval", 2)
	v.SetDefault("sync.transcode_poll_max_attempts", 60)
	v.SetDefault("sync.cleanup_downloads", true)
	v.SetDefault("sync.max_retry_after", 60)
	v.SetDefault("sync.requests_per_second", 5.0)

	v.SetDefault("state.driver", "sqlite")
	v.SetDefault("state.path", "~/.local/share/spot2yoto/state.db")
	v.SetDefault("state.dsn", "")
	v.SetDefault("state.redis_addr", "")
	v.SetDefault("state.redis_password", "")
	v.SetDefault("state.redis_db", 0)

	v.SetDefault("tokens.dir", "~/.config/spot2yoto/tokens")

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.endpoint", "")
	v.SetDefault("archive.access_key", "")
	v.SetDefault("archive.secret_key", "")
	v.SetDefault("archive.bucket", "spot2yoto")
	v.SetDefault("archive.region", "")
	v.SetDefault("archive.use_ssl", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Default 返回全部默认值，路径已展开
func Default() *Config {
	cfg := &Config{}
	if err := newViper().Unmarshal(cfg); err != nil {
		panic(err)
	}
	cfg.expandPaths()
	return cfg
}

// Path 解析配置文件路径：命令行参数 > SPOT2YOTO_CONFIG > ~/.config/spot2yoto/config.yaml
func Path(override string) string {
	if override != "" {
		return expandHome(override)
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return expandHome(env)
	}
	return expandHome("~/.config/spot2yoto/config.yaml")
}

// Load 读取 YAML 配置。会先加载当前目录的 .env（不覆盖已有环境变量），
// 之后 SPOT2YOTO_<SECTION>_<KEY> 形式的环境变量可以覆盖文件中的值。
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &errs.ConfigError{Msg: fmt.Sprintf("config file not found: %s (run 'spot2yoto config init' to create one)", path)}
		}
		return nil, &errs.ConfigError{Msg: "cannot stat " + path, Err: err}
	}

	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, &errs.ConfigError{Msg: "invalid YAML in " + path, Err: err}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, &errs.ConfigError{Msg: "cannot decode " + path, Err: err}
	}
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查取值范围
func (c *Config) Validate() error {
	switch {
	case c.Download.Format == "":
		return &errs.ConfigError{Msg: "download.format must not be empty"}
	case c.Download.TimeoutSec <= 0:
		return &errs.ConfigError{Msg: "download.timeout must be positive"}
	case c.Sync.MaxRetries <= 0:
		return &errs.ConfigError{Msg: "sync.max_retries must be positive"}
	case c.Sync.TranscodePollInterval < 0:
		return &errs.ConfigError{Msg: "sync.transcode_poll_interval must not be negative"}
	case c.Sync.TranscodePollMaxAttempts <= 0:
		return &errs.ConfigError{Msg: "sync.transcode_poll_max_attempts must be positive"}
	case c.State.Driver != "sqlite" && c.State.Driver != "mysql":
		return &errs.ConfigError{Msg: fmt.Sprintf("state.driver %q is not supported (sqlite, mysql)", c.State.Driver)}
	case c.State.Driver == "mysql" && c.State.DSN == "":
		return &errs.ConfigError{Msg: "state.dsn is required for the mysql driver"}
	case c.Archive.Enabled && c.Archive.Endpoint == "":
		return &errs.ConfigError{Msg: "archive.endpoint is required when the archive is enabled"}
	}
	return nil
}

// Save 以 YAML 写入 path（权限 0600，文件中可能包含密钥）
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return &errs.ConfigError{Msg: "cannot create config directory", Err: err}
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigPermissions(0o600)
	for key, val := range cfg.settings() {
		v.Set(key, val)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return &errs.ConfigError{Msg: "cannot write " + path, Err: err}
	}
	return nil
}

// Init 写入默认配置，文件已存在时报错
func Init(path string) error {
	if _, err := os.Stat(path); err == nil {
		return &errs.ConfigError{Msg: "config already exists: " + path}
	}
	return Save(Default(), path)
}

func (c *Config) settings() map[string]interface{} {
	return map[string]interface{}{
		"yoto.client_id":                   c.Yoto.ClientID,
		"yoto.api_base":                    c.Yoto.APIBase,
		"yoto.auth_base":                   c.Yoto.AuthBase,
		"spotify.client_id":                c.Spotify.ClientID,
		"spotify.client_secret":            c.Spotify.ClientSecret,
		"download.format":                  c.Download.Format,
		"download.output_dir":              c.Download.OutputDir,
		"download.ytdlp_path":              c.Download.YtDlpPath,
		"download.timeout":                 c.Download.TimeoutSec,
		"sync.max_retries":                 c.Sync.MaxRetries,
		"sync.transcode_poll_interval":     c.Sync.TranscodePollInterval,
		"sync.transcode_poll_max_attempts": c.Sync.TranscodePollMaxAttempts,
		"sync.cleanup_downloads":           c.Sync.CleanupDownloads,
		"sync.max_retry_after":             c.Sync.MaxRetryAfter,
		"sync.requests_per_second":         c.Sync.RequestsPerSecond,
		"state.driver":                     c.State.Driver,
		"state.path":                       c.State.Path,
		"state.dsn":                        c.State.DSN,
		"state.redis_addr":                 c.State.RedisAddr,
		"tokens.dir":                       c.Tokens.Dir,
		"archive.enabled":                  c.Archive.Enabled,
		"archive.endpoint":                 c.Archive.Endpoint,
		"archive.bucket":                   c.Archive.Bucket,
		"archive.use_ssl":                  c.Archive.UseSSL,
		"log.level":                        c.Log.Level,
		"log.file":                         c.Log.File,
	}
}

// Redacted 用于展示的配置项，密钥被遮盖
func (c *Config) Redacted() map[string]interface{} {
	out := c.settings()
	for _, key := range []string{"spotify.client_secret", "state.dsn"} {
		if s, _ := out[key].(string); s != "" {
			out[key] = "********"
		}
	}
	return out
}

func (c *Config) expandPaths() {
	c.Download.OutputDir = expandHome(c.Download.OutputDir)
	c.State.Path = expandHome(c.State.Path)
	c.Tokens.Dir = expandHome(c.Tokens.Dir)
	c.Log.File = expandHome(c.Log.File)
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
