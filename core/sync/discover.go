// Package sync keeps Yoto MYO cards in step with the Spotify playlists linked from their descriptions.
package sync

import (
	"context"
	"regexp"
	"strings"

	"spot2yoto/logger"
	"spot2yoto/model"
)

var playlistURLPattern = regexp.MustCompile(`https?://open\.spotify\.com/playlist/[A-Za-z0-9]+(?:\?[^\s]*)?`)

// CardLister 列出候选卡片
type CardLister interface {
	ListMYOCards(ctx context.Context) ([]model.Card, error)
}

// PlaylistValidator 轻量检查歌单是否存在
type PlaylistValidator interface {
	ValidateReachable(ctx context.Context, playlistURL string) error
}

// Mapping 一张卡片和它描述里引用的歌单，每次运行重新计算，不落库
type Mapping struct {
	Card         model.Card
	PlaylistURLs []string
}

// ExtractPlaylistURLs 提取描述中的歌单链接，去掉查询参数，按原始字符串去重并保持出现顺序
func ExtractPlaylistURLs(text string) []string {
	var (
		urls []string
		seen = make(map[string]bool)
	)
	for _, m := range playlistURLPattern.FindAllString(text, -1) {
		if i := strings.IndexByte(m, '?'); i >= 0 {
			m = m[:i]
		}
		if seen[m] {
			continue
		}
		seen[m] = true
		urls = append(urls, m)
	}
	return urls
}

// DiscoverMappings 找出描述中含有可访问歌单链接的卡片。
// 单个链接校验失败只丢弃该链接，所有链接都失败的卡片不参与同步。
func DiscoverMappings(ctx context.Context, cards CardLister, validator PlaylistValidator) ([]Mapping, error) {
	all, err := cards.ListMYOCards(ctx)
	if err != nil {
		return nil, err
	}

	var mappings []Mapping
	for _, card := range all {
		refs := ExtractPlaylistURLs(card.Description)
		if len(refs) == 0 {
			continue
		}

		valid := make([]string, 0, len(refs))
		for _, ref := range refs {
			if err := validator.ValidateReachable(ctx, ref); err != nil {
				logger.Warn("[DiscoverMappings] 歌单不可访问，已忽略",
					logger.String("card_id", card.ID),
					logger.String("url", ref),
					logger.ErrorField(err))
				continue
			}
			valid = append(valid, ref)
		}
		if len(valid) == 0 {
			logger.Warn("[DiscoverMappings] 卡片没有可用的歌单链接", logger.String("card_id", card.ID))
			continue
		}
		mappings = append(mappings, Mapping{Card: card, PlaylistURLs: valid})
	}

	logger.Info("[DiscoverMappings] 发现映射",
		logger.Int("cards", len(all)),
		logger.Int("mappings", len(mappings)))
	return mappings, nil
}
