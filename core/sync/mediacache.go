package sync

import (
	"context"
	"fmt"

	"spot2yoto/logger"
	"spot2yoto/model"
	"spot2yoto/repository"
)

// ArtworkUploader 封面和图标上传
type ArtworkUploader interface {
	UploadCoverImage(ctx context.Context, imageURL string) (string, error)
	UploadDisplayIcon(ctx context.Context, imageURL string) (string, error)
}

// MediaResolver 图片 URL -> Yoto 媒体标识。先查本次运行的内存缓存，再查持久缓存，
// 都没有才上传；上传成功后写回两级缓存，失败不缓存。
type MediaResolver struct {
	gw   ArtworkUploader
	repo repository.SyncStateRepository
	memo map[string]string
}

// NewMediaResolver 每次运行创建一个
func NewMediaResolver(gw ArtworkUploader, repo repository.SyncStateRepository) *MediaResolver {
	return &MediaResolver{gw: gw, repo: repo, memo: make(map[string]string)}
}

// Resolve 返回媒体标识
func (r *MediaResolver) Resolve(ctx context.Context, kind model.MediaKind, sourceURL string) (string, error) {
	key := string(kind) + "|" + sourceURL
	if id, ok := r.memo[key]; ok {
		return id, nil
	}

	entry, err := r.repo.GetMedia(ctx, sourceURL)
	if err != nil {
		logger.Warn("[MediaResolver] 读取媒体缓存失败", logger.String("url", sourceURL), logger.ErrorField(err))
	}
	if entry != nil && entry.Kind == kind && entry.MediaID != "" {
		r.memo[key] = entry.MediaID
		return entry.MediaID, nil
	}

	var id string
	switch kind {
	case model.MediaCover:
		id, err = r.gw.UploadCoverImage(ctx, sourceURL)
	case model.MediaIcon:
		id, err = r.gw.UploadDisplayIcon(ctx, sourceURL)
	default:
		return "", fmt.Errorf("unknown media kind %q", kind)
	}
	if err != nil {
		return "", err
	}

	r.memo[key] = id
	if err := r.repo.PutMedia(ctx, &model.MediaCacheEntry{SourceURL: sourceURL, MediaID: id, Kind: kind}); err != nil {
		logger.Warn("[MediaResolver] 写入媒体缓存失败", logger.String("url", sourceURL), logger.ErrorField(err))
	}
	return id, nil
}
