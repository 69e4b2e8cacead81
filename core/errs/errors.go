// Package errs holds the error taxonomy shared by the gateways and the sync engine.
package errs

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ConfigError 配置文件缺失、无效或不完整
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: %s: %v", e.Msg, e.Err)
	}
	return "config: " + e.Msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// AuthError 没有可用凭证，且无法刷新
type AuthError struct {
	Msg string
	Err error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Msg, e.Err)
	}
	return "auth: " + e.Msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// GatewayKind classifies a failed HTTP exchange with an external API.
type GatewayKind int

const (
	KindClient GatewayKind = iota
	KindTransient
	KindRateLimited
)

func (k GatewayKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate-limited"
	case KindTransient:
		return "transient"
	default:
		return "client"
	}
}

// GatewayError 外部 API 返回了非预期响应
type GatewayError struct {
	Kind       GatewayKind
	Method     string
	Path       string
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("%s %s failed (%d %s)", e.Method, e.Path, e.StatusCode, e.Kind)
	if e.Kind == KindRateLimited && e.RetryAfter > 0 {
		msg += fmt.Sprintf(", retry after %s", e.RetryAfter)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// NewGatewayError 根据状态码归类
func NewGatewayError(method, path string, status int, body string) *GatewayError {
	kind := KindClient
	switch {
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status >= 500:
		kind = KindTransient
	}
	return &GatewayError{Kind: kind, Method: method, Path: path, StatusCode: status, Body: truncate(body, 512)}
}

// PlaylistError 歌单地址无效或无法访问
type PlaylistError struct {
	URL string
	Msg string
	Err error
}

func (e *PlaylistError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("playlist %s: %s: %v", e.URL, e.Msg, e.Err)
	}
	return fmt.Sprintf("playlist %s: %s", e.URL, e.Msg)
}

func (e *PlaylistError) Unwrap() error { return e.Err }

// DownloadError 音频抓取失败，Detail 为外部工具的诊断输出
type DownloadError struct {
	TrackID string
	Msg     string
	Detail  string
	Err     error
}

func (e *DownloadError) Error() string {
	msg := e.Msg
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += fmt.Sprintf(" (%v)", e.Err)
	}
	return msg
}

func (e *DownloadError) Unwrap() error { return e.Err }

// UploadError 字节传输或图片上传失败
type UploadError struct {
	StatusCode int
	Msg        string
	Err        error
}

func (e *UploadError) Error() string {
	msg := e.Msg
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (%d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UploadError) Unwrap() error { return e.Err }

// TranscodeTimeoutError 轮询次数用尽仍未完成转码
type TranscodeTimeoutError struct {
	UploadID string
	Attempts int
}

func (e *TranscodeTimeoutError) Error() string {
	return fmt.Sprintf("transcode timed out for upload %s after %d attempts", e.UploadID, e.Attempts)
}

// SyncError 单个映射的编排失败
type SyncError struct {
	CardID string
	Msg    string
	Err    error
}

func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sync %s: %s: %v", e.CardID, e.Msg, e.Err)
	}
	return fmt.Sprintf("sync %s: %s", e.CardID, e.Msg)
}

func (e *SyncError) Unwrap() error { return e.Err }

// IsAuth reports whether err carries an AuthError anywhere in its chain.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsRateLimited reports whether err is a rate-limited GatewayError.
func IsRateLimited(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge) && ge.Kind == KindRateLimited
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
