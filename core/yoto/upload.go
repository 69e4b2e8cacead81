package yoto

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"spot2yoto/core/errs"
	"spot2yoto/logger"
)

// UploadSlot 上传句柄。UploadURL 为空表示服务端已有相同内容，无需传输
type UploadSlot struct {
	UploadURL string
	UploadID  string
}

// TranscodeStatus 一次转码查询的结果
type TranscodeStatus struct {
	Pending          bool
	TranscodedSHA256 string
	Duration         int
	FileSize         int64
	Channels         string
}

type slotJSON struct {
	UploadURL string `json:"uploadUrl"`
	UploadID  string `json:"uploadId"`
}

type transcodedInfo struct {
	Duration float64     `json:"duration"`
	FileSize float64     `json:"fileSize"`
	Channels interface{} `json:"channels"`
}

type transcodeJSON struct {
	TranscodedSHA256 string        `json:"transcodedSha256"`
	TranscodedInfo   transcodedInfo `json:"transcodedInfo"`
}

func newStatusError(method, path string, r *rawResponse) error {
	return errs.NewGatewayError(method, path, r.status, string(r.body))
}

// RequestUploadSlot 按文件内容摘要申请上传地址
func (c *Client) RequestUploadSlot(ctx context.Context, sha256, filename string) (*UploadSlot, error) {
	var resp struct {
		Upload    *slotJSON `json:"upload"`
		UploadURL string    `json:"uploadUrl"`
		UploadID  string    `json:"uploadId"`
	}
	query := url.Values{"sha256": {sha256}, "filename": {filename}}
	if err := c.getJSON(ctx, "/media/transcode/audio/uploadUrl", query, &resp); err != nil {
		return nil, err
	}

	slot := slotJSON{UploadURL: resp.UploadURL, UploadID: resp.UploadID}
	if resp.Upload != nil {
		slot = *resp.Upload
	}
	if slot.UploadID == "" {
		return nil, &errs.UploadError{Msg: "upload slot response has no uploadId"}
	}
	return &UploadSlot{UploadURL: slot.UploadURL, UploadID: slot.UploadID}, nil
}

// TransferBytes 把音频 PUT 到预签名地址，非 200/201 视为上传失败
func (c *Client) TransferBytes(ctx context.Context, target string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(data))
	if err != nil {
		return &errs.UploadError{Msg: "cannot build upload request", Err: err}
	}
	req.Header.Set("Content-Type", audioContentType(data))
	req.ContentLength = int64(len(data))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &errs.UploadError{Msg: "file upload failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &errs.UploadError{StatusCode: resp.StatusCode, Msg: "file upload failed", Err: fmt.Errorf("%s", body)}
	}
	logger.Debug("[TransferBytes] 上传完成", logger.Int("bytes", len(data)))
	return nil
}

// PollTranscode 查询一次转码状态；202 或缺少摘要都表示仍在处理
func (c *Client) PollTranscode(ctx context.Context, uploadID string) (*TranscodeStatus, error) {
	path := "/media/upload/" + url.PathEscape(uploadID) + "/transcoded"
	r, err := c.send(ctx, call{method: http.MethodGet, path: path, query: url.Values{"loudnorm": {"false"}}})
	if err != nil {
		return nil, err
	}

	switch r.status {
	case http.StatusAccepted:
		return &TranscodeStatus{Pending: true}, nil
	case http.StatusOK:
	default:
		return nil, newStatusError(http.MethodGet, path, r)
	}

	var resp struct {
		Transcode        *transcodeJSON `json:"transcode"`
		TranscodedSHA256 string         `json:"transcodedSha256"`
		TranscodedInfo   transcodedInfo `json:"transcodedInfo"`
	}
	if err := decode(r.body, &resp); err != nil {
		return nil, err
	}
	t := transcodeJSON{TranscodedSHA256: resp.TranscodedSHA256, TranscodedInfo: resp.TranscodedInfo}
	if resp.Transcode != nil {
		t = *resp.Transcode
	}
	if t.TranscodedSHA256 == "" {
		return &TranscodeStatus{Pending: true}, nil
	}

	return &TranscodeStatus{
		TranscodedSHA256: t.TranscodedSHA256,
		Duration:         int(math.Round(t.TranscodedInfo.Duration)),
		FileSize:         int64(t.TranscodedInfo.FileSize),
		Channels:         channelLayout(t.TranscodedInfo.Channels),
	}, nil
}

// channelLayout 接口可能返回 "stereo"/"mono" 或声道数
func channelLayout(v interface{}) string {
	switch ch := v.(type) {
	case string:
		if ch != "" {
			return ch
		}
	case float64:
		if ch == 1 {
			return "mono"
		}
	}
	return "stereo"
}

// audioContentType 识别不出音频类型时按 mp3 处理
func audioContentType(data []byte) string {
	mt := mimetype.Detect(data)
	if strings.HasPrefix(mt.String(), "audio/") {
		return mt.String()
	}
	return "audio/mpeg"
}
