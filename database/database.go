// Package database 读取社交应用的关系库：帖子、点赞、评论。
//
// 训练侧通过 InteractionRepository 得到交互日志与稠密 ID 映射；
// 在线侧通过 CandidateRepository 得到热用户与冷启动候选池。
// 只有 embedded_flg 为 true（内容 embedding 已生成）的帖子参与训练与排序。
package database

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rushteam/mmrec/core"
)

// Config 是关系库连接配置。
type Config struct {
	// Driver 为 postgres 或 sqlite
	Driver string `json:"driver" yaml:"driver" koanf:"driver"`
	DSN    string `json:"dsn" yaml:"dsn" koanf:"dsn"`
	// LogLevel 为 silent / error / warn / info，默认 warn
	LogLevel string `json:"log_level" yaml:"log_level" koanf:"log_level"`
}

// Open 按驱动打开连接。
func Open(cfg Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres", "":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, core.ConfigurationErrorf(core.ModuleDatabase, "database: unsupported driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  logger.Default.LogMode(logLevel(cfg.LogLevel)),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, core.ExternalError(core.ModuleDatabase, fmt.Sprintf("database: open %s", cfg.Driver), err)
	}
	return db, nil
}

// Migrate 建表，仅用于本地开发与测试；生产表结构由应用后端维护。
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&User{}, &Post{}, &Like{}, &Comment{})
}

func logLevel(s string) logger.LogLevel {
	switch s {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}
