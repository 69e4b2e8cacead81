package spotify

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"spot2yoto/core/errs"
	"spot2yoto/logger"
	"spot2yoto/model"
)

var playlistIDPattern = regexp.MustCompile(`playlist/([a-zA-Z0-9]+)`)

type image struct {
	URL string `json:"url"`
}

type artist struct {
	Name string `json:"name"`
}

type trackObject struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	DurationMs   int      `json:"duration_ms"`
	Artists      []artist `json:"artists"`
	ExternalURLs struct {
		Spotify string `json:"spotify"`
	} `json:"external_urls"`
	Album struct {
		Images []image `json:"images"`
	} `json:"album"`
}

// playlistEntry 歌单条目有两种形态：{"item": {...}} 和 {"track": {...}}
type playlistEntry struct {
	Item  *trackObject `json:"item"`
	Track *trackObject `json:"track"`
}

type trackPage struct {
	Items []playlistEntry `json:"items"`
	Next  string          `json:"next"`
}

type playlistResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	SnapshotID string    `json:"snapshot_id"`
	Images     []image   `json:"images"`
	Tracks     trackPage `json:"tracks"`
}

// ExtractPlaylistID 从歌单 URL 中取出 id
func ExtractPlaylistID(rawURL string) (string, error) {
	m := playlistIDPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", &errs.PlaylistError{URL: rawURL, Msg: "cannot extract playlist ID"}
	}
	return m[1], nil
}

// extractTrack 取出条目中的歌曲，"item" 优先于 "track"；没有 id 的条目（本地文件等）返回 nil
func extractTrack(e playlistEntry) *trackObject {
	t := e.Item
	if t == nil {
		t = e.Track
	}
	if t == nil || t.ID == "" {
		return nil
	}
	return t
}

func toTrack(t *trackObject, position int) model.Track {
	names := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		names = append(names, a.Name)
	}
	tr := model.Track{
		ID:         t.ID,
		Title:      t.Name,
		Artist:     strings.Join(names, ", "),
		DurationMs: t.DurationMs,
		URL:        t.ExternalURLs.Spotify,
		Position:   position,
	}
	if len(names) > 0 {
		tr.PrimaryArtist = names[0]
	}
	// 图片按尺寸从大到小排列，最后一张最小，适合做图标
	if n := len(t.Album.Images); n > 0 {
		tr.ImageURL = t.Album.Images[n-1].URL
	}
	return tr
}

// FetchPlaylist 拉取歌单及全部分页
func (c *Client) FetchPlaylist(ctx context.Context, playlistURL string) (*model.Playlist, error) {
	id, err := ExtractPlaylistID(playlistURL)
	if err != nil {
		return nil, err
	}

	logger.Info("[FetchPlaylist] 获取歌单详情", logger.String("playlist_id", id))

	var resp playlistResponse
	if err := c.getJSON(ctx, c.baseURL+"/playlists/"+url.PathEscape(id), &resp); err != nil {
		logger.Error("[FetchPlaylist] 请求失败", logger.String("playlist_id", id), logger.ErrorField(err))
		return nil, &errs.PlaylistError{URL: playlistURL, Msg: "fetch failed", Err: err}
	}

	p := &model.Playlist{
		ID:         id,
		Name:       resp.Name,
		SnapshotID: resp.SnapshotID,
	}
	if len(resp.Images) > 0 {
		p.CoverImageURL = resp.Images[0].URL
	}

	page := resp.Tracks
	for {
		for _, entry := range page.Items {
			t := extractTrack(entry)
			if t == nil {
				continue
			}
			p.Tracks = append(p.Tracks, toTrack(t, len(p.Tracks)))
		}
		if page.Next == "" {
			break
		}
		next := page.Next
		page = trackPage{}
		if err := c.getJSON(ctx, c.resolve(next), &page); err != nil {
			return nil, &errs.PlaylistError{URL: playlistURL, Msg: "fetch next page failed", Err: err}
		}
	}

	logger.Info("[FetchPlaylist] 成功获取歌单详情",
		logger.String("playlist_id", id),
		logger.String("name", p.Name),
		logger.Int("tracks", len(p.Tracks)))
	return p, nil
}

// ValidateReachable 轻量检查歌单是否存在且可访问
func (c *Client) ValidateReachable(ctx context.Context, playlistURL string) error {
	id, err := ExtractPlaylistID(playlistURL)
	if err != nil {
		return err
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/playlists/"+url.PathEscape(id)+"?fields=id", &resp); err != nil {
		return &errs.PlaylistError{URL: playlistURL, Msg: "not reachable", Err: err}
	}
	return nil
}
