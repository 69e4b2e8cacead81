package yoto

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"spot2yoto/core/errs"
)

const maxIconBytes = 5 << 20

// UploadCoverImage 让 Yoto 从 URL 拉取封面，返回 Yoto 的图片地址
func (c *Client) UploadCoverImage(ctx context.Context, imageURL string) (string, error) {
	var resp struct {
		CoverImage struct {
			MediaURL string `json:"mediaUrl"`
		} `json:"coverImage"`
	}
	query := url.Values{"autoconvert": {"true"}, "coverType": {"myo"}, "imageUrl": {imageURL}}
	if err := c.post(ctx, call{path: "/media/coverImage/user/me/upload", query: query}, &resp); err != nil {
		return "", err
	}
	if resp.CoverImage.MediaURL == "" {
		return "", &errs.UploadError{Msg: "cover upload returned no mediaUrl"}
	}
	return resp.CoverImage.MediaURL, nil
}

// UploadDisplayIcon 先下载图片再上传为 16x16 图标，返回媒体 id
func (c *Client) UploadDisplayIcon(ctx context.Context, imageURL string) (string, error) {
	data, contentType, err := c.downloadImage(ctx, imageURL)
	if err != nil {
		return "", err
	}

	var resp struct {
		DisplayIcon struct {
			MediaID string `json:"mediaId"`
		} `json:"displayIcon"`
	}
	cl := call{
		path:        "/media/displayIcons/user/me/upload",
		query:       url.Values{"autoConvert": {"true"}},
		body:        data,
		contentType: contentType,
	}
	if err := c.post(ctx, cl, &resp); err != nil {
		return "", err
	}
	if resp.DisplayIcon.MediaID == "" {
		return "", &errs.UploadError{Msg: "icon upload returned no mediaId"}
	}
	return resp.DisplayIcon.MediaID, nil
}

func (c *Client) downloadImage(ctx context.Context, imageURL string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", &errs.UploadError{Msg: "invalid icon image url", Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", &errs.UploadError{Msg: "failed to download icon image", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", &errs.UploadError{StatusCode: resp.StatusCode, Msg: "failed to download icon image"}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxIconBytes))
	if err != nil {
		return nil, "", &errs.UploadError{Msg: "failed to read icon image", Err: err}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mimetype.Detect(data).String()
	}
	return data, contentType, nil
}
