package model

import "strings"

// Track 一次运行中抓取到的歌曲快照，运行结束即丢弃
type Track struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Artist        string `json:"artist"`        // 所有艺人，", " 连接
	PrimaryArtist string `json:"primaryArtist"` // 第一位艺人，用于搜索音频
	DurationMs    int    `json:"durationMs"`
	URL           string `json:"url"`
	Position      int    `json:"position"` // 合并去重后重新编号，从 0 开始
	ImageURL      string `json:"imageUrl"` // 专辑小图，用作章节图标
}

// DisplayTitle 章节标题："艺人 - 歌名"
func (t Track) DisplayTitle() string {
	if t.Artist == "" {
		return t.Title
	}
	return t.Artist + " - " + t.Title
}

// SearchArtist 搜索用的艺人名，没有主艺人时退回完整艺人串
func (t Track) SearchArtist() string {
	if t.PrimaryArtist != "" {
		return t.PrimaryArtist
	}
	if i := strings.Index(t.Artist, ", "); i >= 0 {
		return t.Artist[:i]
	}
	return t.Artist
}

// Playlist 歌单元数据，Tracks 已经展开全部分页
type Playlist struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	SnapshotID    string  `json:"snapshotId"`
	CoverImageURL string  `json:"coverImageUrl"`
	Tracks        []Track `json:"tracks"`
}
