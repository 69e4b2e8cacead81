package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"spot2yoto/core/errs"
	"spot2yoto/core/yoto"
	"spot2yoto/logger"
)

// MediaUploader 上传与转码相关的网关调用
type MediaUploader interface {
	RequestUploadSlot(ctx context.Context, sha256, filename string) (*yoto.UploadSlot, error)
	TransferBytes(ctx context.Context, target string, data []byte) error
	PollTranscode(ctx context.Context, uploadID string) (*yoto.TranscodeStatus, error)
}

// Uploader 单曲上传状态机：申请上传 -> (传输) -> 轮询转码 -> 完成 | 超时 | 失败
type Uploader struct {
	gw          MediaUploader
	interval    time.Duration
	maxAttempts int
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewUploader interval 为轮询间隔，maxAttempts 为最多查询次数
func NewUploader(gw MediaUploader, interval time.Duration, maxAttempts int) *Uploader {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Uploader{gw: gw, interval: interval, maxAttempts: maxAttempts, sleep: sleepContext}
}

// Upload 上传本地文件并等待转码完成
func (u *Uploader) Upload(ctx context.Context, path, fileSHA string) (*yoto.TranscodeStatus, error) {
	slot, err := u.gw.RequestUploadSlot(ctx, fileSHA, filepath.Base(path))
	if err != nil {
		return nil, err
	}

	if slot.UploadURL != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &errs.UploadError{Msg: "cannot read downloaded file", Err: err}
		}
		if err := u.gw.TransferBytes(ctx, slot.UploadURL, data); err != nil {
			return nil, err
		}
	} else {
		logger.Debug("[Upload] 服务端已有相同内容，跳过传输", logger.String("sha256", fileSHA))
	}

	return u.waitTranscode(ctx, slot.UploadID)
}

func (u *Uploader) waitTranscode(ctx context.Context, uploadID string) (*yoto.TranscodeStatus, error) {
	for attempt := 1; attempt <= u.maxAttempts; attempt++ {
		st, err := u.gw.PollTranscode(ctx, uploadID)
		if err != nil {
			return nil, err
		}
		if !st.Pending {
			logger.Debug("[waitTranscode] 转码完成",
				logger.String("upload_id", uploadID),
				logger.Int("attempts", attempt))
			return st, nil
		}
		if attempt == u.maxAttempts {
			break
		}
		if err := u.sleep(ctx, u.interval); err != nil {
			return nil, fmt.Errorf("等待转码被取消: %w", err)
		}
	}
	return nil, &errs.TranscodeTimeoutError{UploadID: uploadID, Attempts: u.maxAttempts}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
