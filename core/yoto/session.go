package yoto

import (
	"context"
	"fmt"
	"sync"
	"time"

	"spot2yoto/core/errs"
	"spot2yoto/logger"
	"spot2yoto/model"
)

// tokenRefresher 便于测试替换
type tokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*model.TokenData, error)
}

// Session 一个账号的凭证，实现 TokenProvider。刷新后立即写回 TokenStore。
type Session struct {
	account   string
	store     *TokenStore
	refresher tokenRefresher
	now       func() time.Time

	mu     sync.Mutex
	tokens *model.TokenData
}

// NewSession refresher 可以为 nil，此时过期即视为无法恢复
func NewSession(account string, store *TokenStore, refresher *Authenticator) *Session {
	s := &Session{account: account, store: store, now: time.Now}
	if refresher != nil {
		s.refresher = refresher
	}
	return s
}

// Account 账号名
func (s *Session) Account() string {
	return s.account
}

// EnsureValid 加载 token，过期则刷新。没有 token 或刷新失败都是 AuthError。
func (s *Session) EnsureValid(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLocked(ctx)
}

func (s *Session) ensureLocked(ctx context.Context) error {
	if s.tokens == nil {
		tokens, err := s.store.Load(s.account)
		if err != nil {
			return &errs.AuthError{Msg: "cannot read tokens for account " + s.account, Err: err}
		}
		if tokens == nil {
			return &errs.AuthError{Msg: fmt.Sprintf("no Yoto tokens found for account %q, run 'spot2yoto auth yoto %s' first", s.account, s.account)}
		}
		s.tokens = tokens
	}
	if s.tokens.IsExpired(s.now()) {
		_, err := s.refreshLocked(ctx)
		return err
	}
	return nil
}

// AccessToken 返回可用的 access token
func (s *Session) AccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLocked(ctx); err != nil {
		return "", err
	}
	return s.tokens.AccessToken, nil
}

// Refresh 强制刷新（收到 401 时调用）
func (s *Session) Refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokens == nil {
		if err := s.ensureLocked(ctx); err != nil {
			return "", err
		}
	}
	return s.refreshLocked(ctx)
}

func (s *Session) refreshLocked(ctx context.Context) (string, error) {
	if s.refresher == nil {
		return "", &errs.AuthError{Msg: "token expired and no refresh path is configured"}
	}
	tokens, err := s.refresher.Refresh(ctx, s.tokens.RefreshToken)
	if err != nil {
		return "", err
	}
	if err := s.store.Save(s.account, tokens); err != nil {
		logger.Warn("[Session] 保存刷新后的 token 失败", logger.String("account", s.account), logger.ErrorField(err))
	}
	s.tokens = tokens
	logger.Info("[Session] token 已刷新", logger.String("account", s.account))
	return tokens.AccessToken, nil
}
