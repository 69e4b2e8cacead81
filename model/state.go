package model

import "time"

// CardSyncState 每张卡片最近一次成功同步的歌单指纹
type CardSyncState struct {
	CardID       string    `gorm:"primaryKey;size:64" json:"cardId"`
	Fingerprint  string    `gorm:"size:1024;not null" json:"fingerprint"`
	LastSyncedAt time.Time `gorm:"not null" json:"lastSyncedAt"`
}

// TableName 指定表名
func (CardSyncState) TableName() string {
	return "card_state"
}

// TrackSyncState 某首歌在某张卡片上的上传结果。
// 只有拿到转码摘要后才会写入，TranscodedSHA256 不允许为空。
type TrackSyncState struct {
	TrackID          string    `gorm:"primaryKey;size:64" json:"trackId"`
	CardID           string    `gorm:"primaryKey;size:64" json:"cardId"`
	Position         int       `gorm:"not null" json:"position"`
	FileSHA256       string    `gorm:"size:64" json:"fileSha256"`
	TranscodedSHA256 string    `gorm:"size:128;not null;index" json:"transcodedSha256"`
	Duration         int       `json:"duration"` // 秒
	FileSize         int64     `json:"fileSize"`
	Channels         string    `gorm:"size:16" json:"channels"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func (TrackSyncState) TableName() string {
	return "sync_state"
}

// MediaKind 媒体缓存类型
type MediaKind string

const (
	MediaCover MediaKind = "cover"
	MediaIcon  MediaKind = "icon"
)

// MediaCacheEntry 外部图片 URL 到 Yoto 媒体标识的映射，上传成功后才写入
type MediaCacheEntry struct {
	SourceURL string    `gorm:"primaryKey;size:512" json:"sourceUrl"`
	MediaID   string    `gorm:"size:512;not null" json:"mediaId"`
	Kind      MediaKind `gorm:"size:16;not null" json:"kind"`
	CreatedAt time.Time `json:"createdAt"`
}

func (MediaCacheEntry) TableName() string {
	return "media_cache"
}

// StateModels 需要自动迁移的模型
func StateModels() []interface{} {
	return []interface{}{&CardSyncState{}, &TrackSyncState{}, &MediaCacheEntry{}}
}
