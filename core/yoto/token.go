package yoto

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/afero"

	"spot2yoto/logger"
	"spot2yoto/model"
)

var accountNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// TokenStore 每个账号一个 JSON 文件：<dir>/<account>.json，权限 0600
type TokenStore struct {
	fs  afero.Fs
	dir string
}

// NewTokenStore 创建存储，fs 通常为 afero.NewOsFs()
func NewTokenStore(fs afero.Fs, dir string) *TokenStore {
	return &TokenStore{fs: fs, dir: dir}
}

func (s *TokenStore) path(account string) (string, error) {
	if !accountNamePattern.MatchString(account) || account == "." || account == ".." {
		return "", fmt.Errorf("invalid account name %q", account)
	}
	return filepath.Join(s.dir, account+".json"), nil
}

// Save 写入 token
func (s *TokenStore) Save(account string, tokens *model.TokenData) error {
	p, err := s.path(account)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return err
	}
	if err := afero.WriteFile(s.fs, p, data, 0o600); err != nil {
		return fmt.Errorf("failed to write tokens: %w", err)
	}
	// WriteFile 只在新建时使用权限位
	return s.fs.Chmod(p, 0o600)
}

// Load 文件不存在或内容无效时返回 nil, nil
func (s *TokenStore) Load(account string) (*model.TokenData, error) {
	p, err := s.path(account)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read tokens: %w", err)
	}

	var tokens model.TokenData
	if err := json.Unmarshal(data, &tokens); err != nil || tokens.AccessToken == "" {
		logger.Warn("[TokenStore] token 文件无效", logger.String("account", account), logger.String("path", p))
		return nil, nil
	}
	return &tokens, nil
}

// Delete 返回文件是否存在
func (s *TokenStore) Delete(account string) (bool, error) {
	p, err := s.path(account)
	if err != nil {
		return false, err
	}
	if err := s.fs.Remove(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Accounts 列出已保存 token 的账号，按名称排序
func (s *TokenStore) Accounts() ([]string, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}
