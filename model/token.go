package model

import "time"

// TokenData Yoto 账号的 OAuth 令牌，按账号名保存到磁盘
type TokenData struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	TokenType    string  `json:"token_type"`
	ExpiresAt    float64 `json:"expires_at"` // unix 秒
}

// Expiry returns ExpiresAt as a time.
func (t *TokenData) Expiry() time.Time {
	sec := int64(t.ExpiresAt)
	nsec := int64((t.ExpiresAt - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// IsExpired 到期时间已过（或未设置）即视为过期
func (t *TokenData) IsExpired(now time.Time) bool {
	return !now.Before(t.Expiry())
}
