package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"spot2yoto/config"
	"spot2yoto/core/errs"
	"spot2yoto/logger"
)

const defaultTimeout = 300 * time.Second

var unsafeName = regexp.MustCompile(`[^\w\-. ]+`)

// YtDlpFetcher 通过 yt-dlp 搜索并提取音频
type YtDlpFetcher struct {
	binaryPath string
	format     string
	outputDir  string
	timeout    time.Duration
	archive    Archive
}

// NewYtDlpFetcher 创建抓取器，archive 可以为 nil
func NewYtDlpFetcher(cfg config.DownloadConfig, archive Archive) *YtDlpFetcher {
	f := &YtDlpFetcher{
		binaryPath: cfg.YtDlpPath,
		format:     cfg.Format,
		outputDir:  cfg.OutputDir,
		timeout:    cfg.Timeout(),
		archive:    archive,
	}
	if f.binaryPath == "" {
		f.binaryPath = "yt-dlp"
	}
	if f.format == "" {
		f.format = "mp3"
	}
	if f.timeout <= 0 {
		f.timeout = defaultTimeout
	}
	return f
}

// OutputPath 歌曲对应的本地文件路径，文件名取 track id
func (f *YtDlpFetcher) OutputPath(req FetchRequest) string {
	return filepath.Join(f.outputDir, fileStem(req)+"."+f.format)
}

// SearchQuery yt-dlp 的搜索表达式
func SearchQuery(artist, title string) string {
	return fmt.Sprintf("ytsearch1:%s - %s", artist, title)
}

// Fetch 文件已存在时直接返回，不调用外部工具
func (f *YtDlpFetcher) Fetch(ctx context.Context, req FetchRequest) (string, error) {
	if err := os.MkdirAll(f.outputDir, 0o755); err != nil {
		return "", &errs.DownloadError{TrackID: req.TrackID, Msg: "cannot create output directory", Err: err}
	}

	out := f.OutputPath(req)
	if cached := f.cachedFile(req); cached != "" {
		logger.Debug("[Fetch] 命中本地缓存", logger.String("track_id", req.TrackID), logger.String("path", cached))
		return cached, nil
	}

	key := filepath.Base(out)
	if f.archive != nil {
		ok, err := f.archive.Fetch(ctx, key, out)
		if err != nil {
			logger.Warn("[Fetch] 读取音频归档失败", logger.String("key", key), logger.ErrorField(err))
		} else if ok {
			logger.Info("[Fetch] 命中音频归档", logger.String("track_id", req.TrackID))
			return out, nil
		}
	}

	if err := f.run(ctx, req); err != nil {
		return "", err
	}

	if _, err := os.Stat(out); err != nil {
		return "", &errs.DownloadError{
			TrackID: req.TrackID,
			Msg:     fmt.Sprintf("no %s file found after yt-dlp download", f.format),
		}
	}

	if f.archive != nil {
		if err := f.archive.Store(ctx, key, out); err != nil {
			logger.Warn("[Fetch] 写入音频归档失败", logger.String("key", key), logger.ErrorField(err))
		}
	}
	return out, nil
}

// yt-dlp 下载中途留下的临时文件
var partialExts = map[string]bool{".part": true, ".ytdl": true, ".temp": true, ".tmp": true}

// cachedFile 查找 <stem>.<任意扩展名> 的已下载文件，优先当前格式
func (f *YtDlpFetcher) cachedFile(req FetchRequest) string {
	preferred := f.OutputPath(req)
	if info, err := os.Stat(preferred); err == nil && info.Mode().IsRegular() && info.Size() > 0 {
		return preferred
	}

	entries, err := os.ReadDir(f.outputDir)
	if err != nil {
		return ""
	}
	stem := fileStem(req)
	for _, e := range entries {
		name := e.Name()
		ext := filepath.Ext(name)
		if ext == "" || partialExts[ext] || strings.TrimSuffix(name, ext) != stem {
			continue
		}
		if info, err := e.Info(); err == nil && info.Mode().IsRegular() && info.Size() > 0 {
			return filepath.Join(f.outputDir, name)
		}
	}
	return ""
}

func (f *YtDlpFetcher) run(ctx context.Context, req FetchRequest) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	query := SearchQuery(req.Artist, req.Title)
	template := filepath.Join(f.outputDir, fileStem(req)+".%(ext)s")
	args := []string{
		query,
		"--extract-audio",
		"--audio-format", f.format,
		"--output", template,
		"--no-playlist",
		"--no-progress",
		"--quiet",
	}

	logger.Info("[Fetch] 开始下载", logger.String("track_id", req.TrackID), logger.String("query", query))

	cmd := exec.CommandContext(ctx, f.binaryPath, args...)
	cmd.WaitDelay = 2 * time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &errs.DownloadError{
				TrackID: req.TrackID,
				Msg:     fmt.Sprintf("yt-dlp timed out after %s for %q", f.timeout, query),
				Err:     ctx.Err(),
			}
		}
		return &errs.DownloadError{
			TrackID: req.TrackID,
			Msg:     fmt.Sprintf("yt-dlp failed for %q", query),
			Detail:  strings.TrimSpace(stderr.String()),
			Err:     err,
		}
	}

	logger.Debug("[Fetch] 下载完成", logger.String("track_id", req.TrackID), logger.Duration("elapsed", time.Since(start)))
	return nil
}

// fileStem 优先使用 track id，缺失时退回清洗后的标题
func fileStem(req FetchRequest) string {
	if req.TrackID != "" {
		return req.TrackID
	}
	return strings.TrimSpace(unsafeName.ReplaceAllString(req.Title, "_"))
}
