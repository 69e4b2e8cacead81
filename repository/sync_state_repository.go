package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"spot2yoto/model"
)

// ErrEmptyDigest 不允许以空的转码摘要记录“成功”
var ErrEmptyDigest = errors.New("transcoded sha256 must not be empty")

// SyncStateRepository 同步状态存储接口
type SyncStateRepository interface {
	// 卡片指纹
	GetCardState(ctx context.Context, cardID string) (*model.CardSyncState, error)
	ListCardStates(ctx context.Context) ([]*model.CardSyncState, error)
	SaveCardState(ctx context.Context, cardID, fingerprint string, syncedAt time.Time) error

	// 单曲上传结果
	GetTrack(ctx context.Context, trackID, cardID string) (*model.TrackSyncState, error)
	FindTrackAnyCard(ctx context.Context, trackID string) (*model.TrackSyncState, error)
	ListTracks(ctx context.Context, cardID string) ([]*model.TrackSyncState, error)
	CountTracks(ctx context.Context, cardID string) (int64, error)
	UpsertTrack(ctx context.Context, row *model.TrackSyncState) error
	UpdatePositions(ctx context.Context, cardID string, positions map[string]int) error
	RemoveTracks(ctx context.Context, cardID string, trackIDs []string) error

	// 图片缓存
	GetMedia(ctx context.Context, sourceURL string) (*model.MediaCacheEntry, error)
	PutMedia(ctx context.Context, entry *model.MediaCacheEntry) error
}

// gormSyncStateRepository GORM 实现
type gormSyncStateRepository struct {
	db *gorm.DB
}

// NewGormSyncStateRepository 创建基于 GORM 的状态存储
func NewGormSyncStateRepository(db *gorm.DB) SyncStateRepository {
	return &gormSyncStateRepository{db: db}
}

func (r *gormSyncStateRepository) GetCardState(ctx context.Context, cardID string) (*model.CardSyncState, error) {
	var state model.CardSyncState
	err := r.db.WithContext(ctx).Where("card_id = ?", cardID).First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get card state: %w", err)
	}
	return &state, nil
}

func (r *gormSyncStateRepository) ListCardStates(ctx context.Context) ([]*model.CardSyncState, error) {
	var states []*model.CardSyncState
	if err := r.db.WithContext(ctx).Order("last_synced_at DESC").Find(&states).Error; err != nil {
		return nil, fmt.Errorf("failed to list card states: %w", err)
	}
	return states, nil
}

// SaveCardState 指纹和时间戳在同一条语句中写入
func (r *gormSyncStateRepository) SaveCardState(ctx context.Context, cardID, fingerprint string, syncedAt time.Time) error {
	state := model.CardSyncState{CardID: cardID, Fingerprint: fingerprint, LastSyncedAt: syncedAt.UTC()}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "card_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"fingerprint", "last_synced_at"}),
	}).Create(&state).Error
	if err != nil {
		return fmt.Errorf("failed to save card state: %w", err)
	}
	return nil
}

func (r *gormSyncStateRepository) GetTrack(ctx context.Context, trackID, cardID string) (*model.TrackSyncState, error) {
	var row model.TrackSyncState
	err := r.db.WithContext(ctx).
		Where("track_id = ? AND card_id = ?", trackID, cardID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get track state: %w", err)
	}
	return &row, nil
}

// FindTrackAnyCard 跨卡片查找已经转码过的同一首歌
func (r *gormSyncStateRepository) FindTrackAnyCard(ctx context.Context, trackID string) (*model.TrackSyncState, error) {
	var row model.TrackSyncState
	err := r.db.WithContext(ctx).
		Where("track_id = ? AND transcoded_sha256 <> ''", trackID).
		Order("updated_at DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find track state: %w", err)
	}
	return &row, nil
}

func (r *gormSyncStateRepository) ListTracks(ctx context.Context, cardID string) ([]*model.TrackSyncState, error) {
	var rows []*model.TrackSyncState
	err := r.db.WithContext(ctx).
		Where("card_id = ?", cardID).
		Order("position ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list track states: %w", err)
	}
	return rows, nil
}

func (r *gormSyncStateRepository) CountTracks(ctx context.Context, cardID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.TrackSyncState{}).Where("card_id = ?", cardID).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count track states: %w", err)
	}
	return n, nil
}

// UpsertTrack 插入或更新。新值未带文件摘要时保留旧的文件摘要。
func (r *gormSyncStateRepository) UpsertTrack(ctx context.Context, row *model.TrackSyncState) error {
	if row.TranscodedSHA256 == "" {
		return ErrEmptyDigest
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if row.FileSHA256 == "" {
			var existing model.TrackSyncState
			err := tx.Select("file_sha256").
				Where("track_id = ? AND card_id = ?", row.TrackID, row.CardID).
				First(&existing).Error
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("failed to read track state: %w", err)
			}
			row.FileSHA256 = existing.FileSHA256
		}

		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error; err != nil {
			return fmt.Errorf("failed to upsert track state: %w", err)
		}
		return nil
	})
}

// UpdatePositions 卡片重建后同步各曲目的序号
func (r *gormSyncStateRepository) UpdatePositions(ctx context.Context, cardID string, positions map[string]int) error {
	if len(positions) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for trackID, pos := range positions {
			err := tx.Model(&model.TrackSyncState{}).
				Where("track_id = ? AND card_id = ? AND position <> ?", trackID, cardID, pos).
				Update("position", pos).Error
			if err != nil {
				return fmt.Errorf("failed to update position of %s: %w", trackID, err)
			}
		}
		return nil
	})
}

func (r *gormSyncStateRepository) RemoveTracks(ctx context.Context, cardID string, trackIDs []string) error {
	if len(trackIDs) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Where("card_id = ? AND track_id IN ?", cardID, trackIDs).
		Delete(&model.TrackSyncState{}).Error
	if err != nil {
		return fmt.Errorf("failed to remove track states: %w", err)
	}
	return nil
}

func (r *gormSyncStateRepository) GetMedia(ctx context.Context, sourceURL string) (*model.MediaCacheEntry, error) {
	var entry model.MediaCacheEntry
	err := r.db.WithContext(ctx).Where("source_url = ?", sourceURL).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get media cache: %w", err)
	}
	return &entry, nil
}

// PutMedia 已存在则覆盖
func (r *gormSyncStateRepository) PutMedia(ctx context.Context, entry *model.MediaCacheEntry) error {
	if entry.MediaID == "" {
		return fmt.Errorf("media id for %s must not be empty", entry.SourceURL)
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(entry).Error
	if err != nil {
		return fmt.Errorf("failed to put media cache: %w", err)
	}
	return nil
}
