package sync

import (
	"sort"
	"strings"

	"spot2yoto/model"
)

// TrackDiff 当前歌曲与已记录状态的差异
type TrackDiff struct {
	New     []model.Track
	Removed []string // 按 id 排序，顺序本身没有含义
	All     []model.Track
}

// ComputeDiff 纯函数：New 保持 all 的顺序，Removed 为已记录但当前不存在的 id
func ComputeDiff(all []model.Track, prior map[string]bool) TrackDiff {
	current := make(map[string]bool, len(all))
	diff := TrackDiff{All: all}

	for _, t := range all {
		current[t.ID] = true
		if !prior[t.ID] {
			diff.New = append(diff.New, t)
		}
	}
	for id := range prior {
		if !current[id] {
			diff.Removed = append(diff.Removed, id)
		}
	}
	sort.Strings(diff.Removed)
	return diff
}

// MergePlaylists 按引用顺序拼接歌单，按 id 去重（保留第一次出现），并重新编号 0..n-1
func MergePlaylists(playlists []*model.Playlist) []model.Track {
	seen := make(map[string]bool)
	var merged []model.Track
	for _, p := range playlists {
		for _, t := range p.Tracks {
			if seen[t.ID] {
				continue
			}
			seen[t.ID] = true
			t.Position = len(merged)
			merged = append(merged, t)
		}
	}
	return merged
}

// Fingerprint 各歌单 snapshot id 排序后用 "|" 连接，与链接顺序无关
func Fingerprint(playlists []*model.Playlist) string {
	ids := make([]string, 0, len(playlists))
	for _, p := range playlists {
		ids = append(ids, p.SnapshotID)
	}
	sort.Strings(ids)
	return strings.Join(ids, "|")
}
