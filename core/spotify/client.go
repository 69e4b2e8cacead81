package spotify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"spot2yoto/config"
	"spot2yoto/core/errs"
	"spot2yoto/logger"
)

const (
	DefaultAPIBase  = "https://api.spotify.com/v1"
	DefaultTokenURL = "https://accounts.spotify.com/api/token"

	defaultMaxAttempts   = 3
	defaultMaxRetryAfter = 60 * time.Second
)

// Client Spotify Web API 客户端（client credentials 授权，只读取公开歌单）
type Client struct {
	baseURL     string
	httpClient  *http.Client
	tokenSource oauth2.TokenSource
	breaker     *gobreaker.CircuitBreaker[[]byte]

	maxAttempts   uint
	maxRetryAfter time.Duration
	timer         retry.Timer
}

// Option 客户端选项
type Option func(*Client)

// WithBaseURL 替换 API 地址
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient 使用现成的 http.Client，此时不再做 OAuth
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryPolicy 使用 sync.max_retries 和 sync.max_retry_after
func WithRetryPolicy(sc config.SyncConfig) Option {
	return func(c *Client) {
		if sc.MaxRetries > 0 {
			c.maxAttempts = uint(sc.MaxRetries)
		}
		if sc.MaxRetryAfter > 0 {
			c.maxRetryAfter = sc.RetryAfterCap()
		}
	}
}

// WithTimer 替换重试等待的计时器（测试用）
func WithTimer(t retry.Timer) Option {
	return func(c *Client) { c.timer = t }
}

// NewClient 创建客户端
func NewClient(ctx context.Context, cfg config.SpotifyConfig, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:       DefaultAPIBase,
		maxAttempts:   defaultMaxAttempts,
		maxRetryAfter: defaultMaxRetryAfter,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		if !cfg.Configured() {
			return nil, &errs.ConfigError{Msg: "spotify.client_id and spotify.client_secret are required (run 'spot2yoto auth spotify')"}
		}
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     DefaultTokenURL,
		}
		c.tokenSource = cc.TokenSource(ctx)
		c.httpClient = oauth2.NewClient(ctx, c.tokenSource)
		c.httpClient.Timeout = 30 * time.Second
	}

	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "spotify-api",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// 404/400 属于调用方问题，不计入熔断
		IsSuccessful: func(err error) bool {
			var ge *errs.GatewayError
			return err == nil || (errors.As(err, &ge) && ge.Kind == errs.KindClient)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("[Spotify] 熔断器状态变化",
				logger.String("name", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		},
	})
	return c, nil
}

// VerifyCredentials 立即换取一次 token，凭证错误时返回 AuthError
func (c *Client) VerifyCredentials(ctx context.Context) error {
	if c.tokenSource == nil {
		return nil
	}
	if _, err := c.tokenSource.Token(); err != nil {
		return &errs.AuthError{Msg: "spotify client credentials rejected", Err: err}
	}
	return nil
}

// getJSON GET 并解码。重试在熔断器内部完成，熔断器只看最终结果
func (c *Client) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.fetchWithRetry(ctx, rawURL)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("spotify api unavailable: %w", err)
		}
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}

// retryableError 携带下一次重试前应等待的时间
type retryableError struct {
	err   error
	delay time.Duration
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// fetchWithRetry 429、5xx 和网络错误最多尝试 maxAttempts 次；
// Retry-After 超过上限时立即失败，不等待。4xx 不重试。
func (c *Client) fetchWithRetry(ctx context.Context, rawURL string) ([]byte, error) {
	var (
		body    []byte
		attempt int
	)
	err := retry.Do(
		func() error {
			n := attempt
			attempt++

			b, header, err := c.fetch(ctx, rawURL)
			if err == nil {
				body = b
				return nil
			}

			var ge *errs.GatewayError
			switch {
			case errs.IsAuth(err) || ctx.Err() != nil:
				return retry.Unrecoverable(err)
			case errors.As(err, &ge) && ge.StatusCode == http.StatusTooManyRequests:
				ge.RetryAfter = retryAfter(header, n)
				if ge.RetryAfter > c.maxRetryAfter {
					logger.Warn("[Spotify] Retry-After 超过上限，放弃重试",
						logger.String("path", ge.Path),
						logger.Duration("retry_after", ge.RetryAfter),
						logger.Duration("cap", c.maxRetryAfter))
					return retry.Unrecoverable(ge)
				}
				return &retryableError{err: ge, delay: ge.RetryAfter}
			case errors.As(err, &ge) && ge.StatusCode < 500:
				return retry.Unrecoverable(ge)
			}
			return &retryableError{err: err, delay: backoff(n)}
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
			logger.Warn("[Spotify] 请求失败，准备重试",
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
	return body, nil
}

func (c *Client) timerOption() retry.Option {
	if c.timer == nil {
		return func(*retry.Config) {}
	}
	return retry.WithTimer(c.timer)
}

func (c *Client) fetch(ctx context.Context, rawURL string) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return nil, nil, &errs.AuthError{Msg: "spotify token request failed", Err: err}
		}
		return nil, nil, fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("读取响应失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.Header, errs.NewGatewayError(http.MethodGet, req.URL.Path, resp.StatusCode, string(body))
	}
	return body, resp.Header, nil
}

func (c *Client) resolve(next string) string {
	if strings.HasPrefix(next, "http://") || strings.HasPrefix(next, "https://") {
		return next
	}
	return c.baseURL + "/" + strings.TrimLeft(next, "/")
}

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
