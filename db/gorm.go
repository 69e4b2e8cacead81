package db

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"spot2yoto/config"
	"spot2yoto/logger"
	"spot2yoto/model"
)

// ConnectGormDB 打开状态库。sqlite 为默认驱动，mysql 用于多台机器共享同一份状态。
func ConnectGormDB(cfg config.StateConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
		dialector = sqlite.Open(cfg.Path + "?_busy_timeout=5000")
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported state driver %q", cfg.Driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database with GORM: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if cfg.Driver == "mysql" {
		sqlDB.SetMaxIdleConns(2)
		sqlDB.SetMaxOpenConns(4)
		sqlDB.SetConnMaxLifetime(time.Hour)
	} else {
		// 单进程顺序写入，一个连接即可，避免 sqlite 的锁竞争
		sqlDB.SetMaxOpenConns(1)
	}

	logger.Debug("[ConnectGormDB] 状态库已连接", logger.String("driver", cfg.Driver))
	return gdb, nil
}

// CloseGormDB 关闭连接
func CloseGormDB(gdb *gorm.DB) error {
	if gdb == nil {
		return nil
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AutoMigrateModels 迁移状态表
func AutoMigrateModels(gdb *gorm.DB) error {
	if gdb == nil {
		return fmt.Errorf("GORM database not initialized")
	}
	if err := gdb.AutoMigrate(model.StateModels()...); err != nil {
		return fmt.Errorf("failed to auto migrate models: %w", err)
	}
	return nil
}

// Open 连接并迁移，供命令层一次性调用
func Open(cfg config.StateConfig) (*gorm.DB, error) {
	gdb, err := ConnectGormDB(cfg)
	if err != nil {
		return nil, err
	}
	if err := AutoMigrateModels(gdb); err != nil {
		_ = CloseGormDB(gdb)
		return nil, err
	}
	return gdb, nil
}
