package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"spot2yoto/config"
	"spot2yoto/logger"
)

// MinioArchive 把下载好的音频归档到 MinIO，供其他机器直接取用
type MinioArchive struct {
	client *minio.Client
	bucket string
}

// NewMinioArchive 创建客户端并确保存储桶存在
func NewMinioArchive(ctx context.Context, cfg config.ArchiveConfig) (*MinioArchive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(checkCtx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("检查存储桶失败: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(checkCtx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("创建存储桶失败: %w", err)
		}
		logger.Info("[NewMinioArchive] 已创建存储桶", logger.String("bucket", cfg.Bucket))
	}

	return &MinioArchive{client: client, bucket: cfg.Bucket}, nil
}

// Fetch 把 key 对应的对象下载到 dst。对象不存在时返回 false。
func (a *MinioArchive) Fetch(ctx context.Context, key, dst string) (bool, error) {
	if _, err := a.client.StatObject(ctx, a.bucket, key, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("查询归档对象失败: %w", err)
	}

	// 先写临时文件，避免中断后留下半个文件被当作缓存命中
	tmp := dst + ".part"
	if err := a.client.FGetObject(ctx, a.bucket, key, tmp, minio.GetObjectOptions{}); err != nil {
		_ = os.Remove(tmp)
		return false, fmt.Errorf("下载归档对象失败: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return false, err
	}
	return true, nil
}

// Store 上传本地文件，对象名为 key
func (a *MinioArchive) Store(ctx context.Context, key, src string) error {
	_, err := a.client.FPutObject(ctx, a.bucket, key, src, minio.PutObjectOptions{
		ContentType: contentTypeFor(src),
	})
	if err != nil {
		return fmt.Errorf("上传归档对象失败: %w", err)
	}
	return nil
}

func contentTypeFor(path string) string {
	switch filepath.Ext(path) {
	case ".mp3":
		return "audio/mpeg"
	case ".m4a", ".aac":
		return "audio/mp4"
	case ".opus", ".ogg":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}
