package yoto

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"spot2yoto/config"
	"spot2yoto/core/errs"
	"spot2yoto/logger"
)

const (
	DefaultAPIBase  = "https://api.yotoplay.com"
	DefaultAuthBase = "https://login.yotoplay.com"

	defaultMaxRetryAfter = 60 * time.Second
)

// TokenProvider 提供 access token，并在 401 时刷新
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// Client Yoto API 客户端：卡片、媒体上传、转码轮询、卡片内容
type Client struct {
	baseURL       string
	httpClient    *http.Client
	tokens        TokenProvider
	limiter       *rate.Limiter
	maxAttempts   uint
	maxRetryAfter time.Duration
	timer         retry.Timer
}

// Option 客户端选项
type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimer 替换重试等待的计时器（测试用）
func WithTimer(t retry.Timer) Option {
	return func(c *Client) { c.timer = t }
}

// NewClient 创建客户端
func NewClient(yc config.YotoConfig, sc config.SyncConfig, tokens TokenProvider, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(yc.APIBase, "/"),
		httpClient:    &http.Client{Timeout: 120 * time.Second},
		tokens:        tokens,
		limiter:       rate.NewLimiter(rate.Inf, 1),
		maxAttempts:   3,
		maxRetryAfter: defaultMaxRetryAfter,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultAPIBase
	}
	if sc.MaxRetries > 0 {
		c.maxAttempts = uint(sc.MaxRetries)
	}
	if sc.MaxRetryAfter > 0 {
		c.maxRetryAfter = sc.RetryAfterCap()
	}
	if sc.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(sc.RequestsPerSecond), 1)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close 释放空闲连接
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

type call struct {
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
}

type rawResponse struct {
	status int
	header http.Header
	body   []byte
}

// retryableError 携带下一次重试前应等待的时间
type retryableError struct {
	err   error
	delay time.Duration
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// send 发送请求。429、5xx、网络错误和 401（先刷新 token）在本层重试，
// 最多 maxAttempts 次；Retry-After 超过上限时立即失败，不等待。
// 其余状态码原样返回给调用方判断。
func (c *Client) send(ctx context.Context, cl call) (*rawResponse, error) {
	var (
		resp    *rawResponse
		attempt int
	)

	err := retry.Do(
		func() error {
			n := attempt
			attempt++

			if err := c.limiter.Wait(ctx); err != nil {
				return retry.Unrecoverable(err)
			}
			token, err := c.tokens.AccessToken(ctx)
			if err != nil {
				return retry.Unrecoverable(err)
			}

			r, err := c.do(ctx, cl, token)
			if err != nil {
				if ctx.Err() != nil {
					return retry.Unrecoverable(err)
				}
				return &retryableError{err: err, delay: backoff(n)}
			}

			switch {
			case r.status == http.StatusTooManyRequests:
				ge := errs.NewGatewayError(cl.method, cl.path, r.status, string(r.body))
				ge.RetryAfter = retryAfter(r.header, n)
				if ge.RetryAfter > c.maxRetryAfter {
					logger.Warn("[Yoto] Retry-After 超过上限，放弃重试",
						logger.String("path", cl.path),
						logger.Duration("retry_after", ge.RetryAfter),
						logger.Duration("cap", c.maxRetryAfter))
					return retry.Unrecoverable(ge)
				}
				return &retryableError{err: ge, delay: ge.RetryAfter}
			case r.status == http.StatusUnauthorized:
				ge := errs.NewGatewayError(cl.method, cl.path, r.status, string(r.body))
				if uint(n) >= c.maxAttempts-1 {
					return retry.Unrecoverable(&errs.AuthError{Msg: "access token still rejected after refresh", Err: ge})
				}
				if _, err := c.tokens.Refresh(ctx); err != nil {
					return retry.Unrecoverable(err)
				}
				return &retryableError{err: ge}
			case r.status >= 500:
				return &retryableError{
					err:   errs.NewGatewayError(cl.method, cl.path, r.status, string(r.body)),
					delay: backoff(n),
				}
			}

			resp = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.maxAttempts),
		retry.LastErrorOnly(true),
		retry.DelayType(func(_ uint, err error, _ *retry.Config) time.Duration {
			var re *retryableError
			if errors.As(err, &re) {
				return re.delay
			}
			return 0
		}),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("[Yoto] 请求失败，准备重试",
				logger.String("method", cl.method),
				logger.String("path", cl.path),
				logger.Int("attempt", int(n)+1),
				logger.ErrorField(err))
		}),
		c.timerOption(),
	)
	if err != nil {
		var re *retryableError
		if errors.As(err, &re) {
			return nil, re.err
		}
		return nil, err
	}
	return resp, nil
}

func (c *Client) timerOption() retry.Option {
	if c.timer == nil {
		return func(*retry.Config) {}
	}
	return retry.WithTimer(c.timer)
}

func (c *Client) do(ctx context.Context, cl call, token string) (*rawResponse, error) {
	u := c.baseURL + cl.path
	if len(cl.query) > 0 {
		u += "?" + cl.query.Encode()
	}

	var body io.Reader
	if cl.body != nil {
		body = bytes.NewReader(cl.body)
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, u, body)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if cl.contentType != "" {
		req.Header.Set("Content-Type", cl.contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}
	return &rawResponse{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

// getJSON GET 请求，只接受 200
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	r, err := c.send(ctx, call{method: http.MethodGet, path: path, query: query})
	if err != nil {
		return err
	}
	if r.status != http.StatusOK {
		return errs.NewGatewayError(http.MethodGet, path, r.status, string(r.body))
	}
	return decode(r.body, out)
}

// post POST 请求，接受 200/201
func (c *Client) post(ctx context.Context, cl call, out interface{}) error {
	cl.method = http.MethodPost
	r, err := c.send(ctx, cl)
	if err != nil {
		return err
	}
	if r.status != http.StatusOK && r.status != http.StatusCreated {
		return errs.NewGatewayError(cl.method, cl.path, r.status, string(r.body))
	}
	return decode(r.body, out)
}

func decode(body []byte, out interface{}) error {
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}

// retryAfter 解析 Retry-After（秒数或 HTTP 日期），缺省时按 2^attempt 秒退避
func retryAfter(h http.Header, attempt int) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
		if t, err := http.ParseTime(v); err == nil {
			if d := time.Until(t); d > 0 {
				return d.Round(time.Second)
			}
			return 0
		}
	}
	return backoff(attempt)
}

func backoff(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}
