package db

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"spot2yoto/config"
	"spot2yoto/logger"
)

// ErrStoreLocked 另一个同步进程正持有状态库
var ErrStoreLocked = errors.New("state store is locked by another sync run")

// Lock 状态库的运行锁
type Lock interface {
	Release(ctx context.Context) error
}

// AcquireStoreLock 在整个同步期间独占状态库。
// sqlite 使用状态文件旁的 .lock 文件；mysql 在配置了 redis 时使用 redis 锁，否则只告警。
func AcquireStoreLock(ctx context.Context, cfg config.StateConfig) (Lock, error) {
	switch {
	case cfg.Driver == "mysql" && cfg.RedisAddr != "":
		l, err := AcquireRedisLock(ctx, cfg, "spot2yoto:sync-lock", 6*time.Hour)
		if err != nil {
			return nil, err
		}
		return l, nil
	case cfg.Driver == "mysql":
		logger.Warn("[AcquireStoreLock] mysql 状态库未配置 redis，跳过运行锁")
		return noopLock{}, nil
	default:
		l, err := AcquireFileLock(cfg.Path+".lock", 0)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
}

type noopLock struct{}

func (noopLock) Release(context.Context) error { return nil }

// FileLock 基于 flock / LockFileEx 的咨询锁
type FileLock struct {
	path string
	file *os.File
}

// AcquireFileLock 尝试加锁，timeout 为 0 时只尝试一次
func AcquireFileLock(path string, timeout time.Duration) (*FileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	for {
		locked, err := tryLock(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		if locked {
			return &FileLock{path: path, file: f}, nil
		}
		if !time.Now().Before(deadline) {
			f.Close()
			return nil, ErrStoreLocked
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// Release 释放锁。锁文件保留，删除它会让并发进程锁住不同的 inode。
func (l *FileLock) Release(context.Context) error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unlock(l.file)
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	return err
}
