package yoto

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"spot2yoto/logger"
	"spot2yoto/model"
)

type displayBody struct {
	Icon16x16 string `json:"icon16x16"`
}

type trackBody struct {
	Key          string       `json:"key"`
	Title        string       `json:"title"`
	TrackURL     string       `json:"trackUrl"`
	Duration     int          `json:"duration"`
	FileSize     int64        `json:"fileSize"`
	Channels     string       `json:"channels"`
	Format       string       `json:"format"`
	Type         string       `json:"type"`
	OverlayLabel string       `json:"overlayLabel"`
	Display      *displayBody `json:"display,omitempty"`
}

type chapterBody struct {
	Key          string       `json:"key"`
	Title        string       `json:"title"`
	OverlayLabel string       `json:"overlayLabel"`
	Duration     int          `json:"duration"`
	Tracks       []trackBody  `json:"tracks"`
	Display      *displayBody `json:"display,omitempty"`
}

type coverBody struct {
	ImageL string `json:"imageL"`
}

type metadataBody struct {
	Description string     `json:"description,omitempty"`
	Cover       *coverBody `json:"cover,omitempty"`
}

type contentBody struct {
	CardID  string `json:"cardId,omitempty"`
	Title   string `json:"title"`
	Content struct {
		Chapters []chapterBody `json:"chapters"`
	} `json:"content"`
	Metadata *metadataBody `json:"metadata,omitempty"`
}

// buildContentBody 每首歌一个章节，key 从 01 开始
func buildContentBody(p model.ContentPayload) contentBody {
	var body contentBody
	body.CardID = p.CardID
	body.Title = p.Title
	body.Content.Chapters = make([]chapterBody, 0, len(p.Chapters))

	for i, ch := range p.Chapters {
		key := fmt.Sprintf("%02d", i+1)
		track := trackBody{
			Key:          key,
			Title:        ch.Title,
			TrackURL:     "yoto:#" + ch.TranscodedSHA256,
			Duration:     ch.Duration,
			FileSize:     ch.FileSize,
			Channels:     ch.Channels,
			Format:       "aac",
			Type:         "audio",
			OverlayLabel: key,
		}
		chapter := chapterBody{
			Key:          key,
			Title:        ch.Title,
			OverlayLabel: key,
			Duration:     ch.Duration,
		}
		if ch.IconMediaID != "" {
			icon := &displayBody{Icon16x16: "yoto:#" + ch.IconMediaID}
			track.Display = icon
			chapter.Display = icon
		}
		chapter.Tracks = []trackBody{track}
		body.Content.Chapters = append(body.Content.Chapters, chapter)
	}

	if p.Description != "" || p.CoverImageURL != "" {
		body.Metadata = &metadataBody{Description: p.Description}
		if p.CoverImageURL != "" {
			body.Metadata.Cover = &coverBody{ImageL: p.CoverImageURL}
		}
	}
	return body
}

// PushCardContent 用完整章节列表覆盖卡片内容
func (c *Client) PushCardContent(ctx context.Context, payload model.ContentPayload) error {
	data, err := json.Marshal(buildContentBody(payload))
	if err != nil {
		return fmt.Errorf("编码卡片内容失败: %w", err)
	}

	cl := call{path: "/content", body: data, contentType: "application/json"}
	if err := c.post(ctx, cl, nil); err != nil {
		logger.Error("[PushCardContent] 更新卡片失败", logger.String("card_id", payload.CardID), logger.ErrorField(err))
		return err
	}
	logger.Info("[PushCardContent] 卡片已更新",
		logger.String("card_id", payload.CardID),
		logger.Int("chapters", len(payload.Chapters)))
	return nil
}
