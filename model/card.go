package model

// Card Yoto MYO 卡片
type Card struct {
	ID          string `json:"cardId"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Chapter 卡片上的一个可播放单元，由已转码的歌曲生成
type Chapter struct {
	Title            string `json:"title"`
	TranscodedSHA256 string `json:"transcodedSha256"`
	Duration         int    `json:"duration"` // 秒
	FileSize         int64  `json:"fileSize"`
	Channels         string `json:"channels"`
	IconMediaID      string `json:"iconMediaId,omitempty"`
}

// ContentPayload 推送到卡片的完整内容
type ContentPayload struct {
	CardID        string    `json:"cardId"`
	Title         string    `json:"title"`
	Description   string    `json:"description,omitempty"`
	CoverImageURL string    `json:"coverImageUrl,omitempty"`
	Chapters      []Chapter `json:"chapters"`
}
