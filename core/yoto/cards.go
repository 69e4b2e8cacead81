package yoto

import (
	"context"
	"net/http"
	"net/url"

	"spot2yoto/logger"
	"spot2yoto/model"
)

type cardListResponse struct {
	Cards []struct {
		CardID   string `json:"cardId"`
		Title    string `json:"title"`
		Metadata struct {
			Description string `json:"description"`
		} `json:"metadata"`
	} `json:"cards"`
}

// ListMYOCards 列出当前账号自己制作的卡片
func (c *Client) ListMYOCards(ctx context.Context) ([]model.Card, error) {
	var resp cardListResponse
	if err := c.getJSON(ctx, "/content/mine", nil, &resp); err != nil {
		logger.Error("[ListMYOCards] 获取卡片失败", logger.ErrorField(err))
		return nil, err
	}

	cards := make([]model.Card, 0, len(resp.Cards))
	for _, card := range resp.Cards {
		cards = append(cards, model.Card{
			ID:          card.CardID,
			Title:       card.Title,
			Description: card.Metadata.Description,
		})
	}
	logger.Debug("[ListMYOCards] 获取卡片成功", logger.Int("count", len(cards)))
	return cards, nil
}

// GetCardContent 返回卡片内容的原始 JSON
func (c *Client) GetCardContent(ctx context.Context, cardID string) ([]byte, error) {
	path := "/content/" + url.PathEscape(cardID)
	r, err := c.send(ctx, call{method: http.MethodGet, path: path})
	if err != nil {
		return nil, err
	}
	if r.status != http.StatusOK {
		return nil, newStatusError(http.MethodGet, path, r)
	}
	return r.body, nil
}
