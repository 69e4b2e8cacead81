package sync

import (
	"spot2yoto/model"
)

// ItemStatus 单曲处理结果
type ItemStatus int

const (
	ItemUploaded ItemStatus = iota
	ItemReused
	ItemFailed
)

func (s ItemStatus) String() string {
	switch s {
	case ItemUploaded:
		return "uploaded"
	case ItemReused:
		return "reused"
	default:
		return "failed"
	}
}

// ItemResult 一首新歌的处理结果
type ItemResult struct {
	Status     ItemStatus
	TrackID    string
	Title      string
	Downloaded bool
	Err        error
}

// MappingStatus 单个映射的结果
type MappingStatus int

const (
	MappingSynced MappingStatus = iota
	MappingUpToDate
	MappingPreview
	MappingFailed
)

func (s MappingStatus) String() string {
	switch s {
	case MappingSynced:
		return "synced"
	case MappingUpToDate:
		return "up-to-date"
	case MappingPreview:
		return "dry-run"
	default:
		return "failed"
	}
}

// MappingResult 一张卡片的同步结果
type MappingResult struct {
	CardID    string
	CardTitle string
	Account   string
	Status    MappingStatus
	New       []model.Track
	Removed   []string
	Items     []ItemResult
	Chapters  int
	Unchanged bool // 没有增删，只推进了指纹
	Err       error
}

// Report 一次运行的汇总
type Report struct {
	RunID    string
	Mappings []MappingResult

	Synced     int
	Skipped    int
	Failed     int
	Downloaded int
	Uploaded   int
	Reused     int
	Removed    int
}

// Add 记录一个映射结果并更新计数
func (r *Report) Add(m MappingResult) {
	r.Mappings = append(r.Mappings, m)

	switch m.Status {
	case MappingSynced:
		r.Synced++
	case MappingUpToDate, MappingPreview:
		r.Skipped++
	default:
		r.Failed++
	}
	if m.Status != MappingPreview {
		r.Removed += len(m.Removed)
	}
	for _, it := range m.Items {
		if it.Downloaded {
			r.Downloaded++
		}
		switch it.Status {
		case ItemUploaded:
			r.Uploaded++
		case ItemReused:
			r.Reused++
		}
	}
}

// Merge 合并另一个账号的结果
func (r *Report) Merge(other *Report) {
	if other == nil {
		return
	}
	for _, m := range other.Mappings {
		r.Add(m)
	}
}

// Total 映射总数
func (r *Report) Total() int {
	return len(r.Mappings)
}

// ExitCode 0 全部成功或没有映射；1 部分失败；2 全部失败
func (r *Report) ExitCode() int {
	switch {
	case r.Failed == 0:
		return 0
	case r.Failed == r.Total():
		return 2
	default:
		return 1
	}
}
