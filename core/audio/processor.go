package audio

import "context"

// FetchRequest 待抓取的歌曲
type FetchRequest struct {
	TrackID string
	Title   string
	Artist  string // 主艺人
}

// Fetcher 把一首歌抓取到本地文件，返回文件路径
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (string, error)
}

// Archive 可选的远端音频归档（见 storage.MinioArchive）
type Archive interface {
	Fetch(ctx context.Context, key, dst string) (bool, error)
	Store(ctx context.Context, key, src string) error
}
