package yoto

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"spot2yoto/config"
	"spot2yoto/core/errs"
	"spot2yoto/model"
)

const (
	apiAudience      = "https://api.yotoplay.com"
	defaultTokenLife = 24 * time.Hour
)

// Authenticator Yoto 设备码登录与 token 刷新
type Authenticator struct {
	conf       *oauth2.Config
	httpClient *http.Client
	now        func() time.Time
}

// NewAuthenticator 需要配置 yoto.client_id
func NewAuthenticator(cfg config.YotoConfig, httpClient *http.Client) (*Authenticator, error) {
	if cfg.ClientID == "" {
		return nil, &errs.ConfigError{Msg: "yoto.client_id is not set"}
	}
	base := strings.TrimRight(cfg.AuthBase, "/")
	if base == "" {
		base = DefaultAuthBase
	}
	return &Authenticator{
		conf: &oauth2.Config{
			ClientID: cfg.ClientID,
			Scopes:   []string{"offline_access"},
			Endpoint: oauth2.Endpoint{
				DeviceAuthURL: base + "/oauth/device/code",
				TokenURL:      base + "/oauth/token",
				AuthStyle:     oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
		now:        time.Now,
	}, nil
}

func (a *Authenticator) withClient(ctx context.Context) context.Context {
	if a.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
}

// StartDeviceFlow 申请设备码，返回需要展示给用户的地址和验证码
func (a *Authenticator) StartDeviceFlow(ctx context.Context) (*oauth2.DeviceAuthResponse, error) {
	da, err := a.conf.DeviceAuth(a.withClient(ctx), oauth2.SetAuthURLParam("audience", apiAudience))
	if err != nil {
		return nil, &errs.AuthError{Msg: "device code request failed", Err: err}
	}
	return da, nil
}

// WaitForToken 轮询直到用户完成授权（authorization_pending / slow_down 由 oauth2 处理）
func (a *Authenticator) WaitForToken(ctx context.Context, da *oauth2.DeviceAuthResponse) (*model.TokenData, error) {
	tok, err := a.conf.DeviceAccessToken(a.withClient(ctx), da)
	if err != nil {
		return nil, &errs.AuthError{Msg: "device authorization failed", Err: err}
	}
	return a.toTokenData(tok, ""), nil
}

// Refresh 使用 refresh token 换取新 token；服务端未返回新的 refresh token 时沿用旧的
func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (*model.TokenData, error) {
	if refreshToken == "" {
		return nil, &errs.AuthError{Msg: "no refresh token available"}
	}
	src := a.conf.TokenSource(a.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, &errs.AuthError{Msg: "token refresh failed", Err: err}
	}
	return a.toTokenData(tok, refreshToken), nil
}

func (a *Authenticator) toTokenData(tok *oauth2.Token, previousRefresh string) *model.TokenData {
	td := &model.TokenData{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if td.RefreshToken == "" {
		td.RefreshToken = previousRefresh
	}
	if td.TokenType == "" {
		td.TokenType = "Bearer"
	}

	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = jwtExpiry(tok.AccessToken)
	}
	if expiry.IsZero() {
		expiry = a.now().Add(defaultTokenLife)
	}
	td.ExpiresAt = float64(expiry.UnixNano()) / 1e9
	return td
}

// jwtExpiry 读取 access token 的 exp（不校验签名），失败时返回零值
func jwtExpiry(accessToken string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
