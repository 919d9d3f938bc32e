package utils

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"lingua_chat/model"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// CustomLogger 自定义 GORM 日志器：只打印慢查询和真实错误
type CustomLogger struct {
	SlowThreshold time.Duration // 慢查询阈值
}

func (l *CustomLogger) LogMode(level logger.LogLevel) logger.Interface {
	return l
}

func (l *CustomLogger) Info(ctx context.Context, msg string, data ...interface{}) {}

func (l *CustomLogger) Warn(ctx context.Context, msg string, data ...interface{}) {}

func (l *CustomLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if msg != "record not found" {
		log.Printf("[GORM Error] "+msg, data...)
	}
}

func (l *CustomLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)

	// 唯一约束冲突（ON CONFLICT DO NOTHING 之外的）和 not found 都是业务预期内的
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && !errors.Is(err, gorm.ErrDuplicatedKey) {
		sql, rows := fc()
		log.Printf("[GORM Error] %s [%v] [rows:%d] %s", err, elapsed, rows, sql)
	} else if l.SlowThreshold > 0 && elapsed >= l.SlowThreshold {
		sql, rows := fc()
		log.Printf("[SLOW SQL] [%v] [rows:%d] %s", elapsed, rows, sql)
	}
}

// OpenDB 根据 URL 打开数据库
// postgres://... 使用 PostgreSQL；sqlite://path 或 sqlite::memory: 使用 SQLite（本地开发 / 测试）
func OpenDB(databaseURL string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(databaseURL, "sqlite://"):
		dialector = sqlite.Open(strings.TrimPrefix(databaseURL, "sqlite://"))
	case strings.HasPrefix(databaseURL, "sqlite:"):
		dialector = sqlite.Open(strings.TrimPrefix(databaseURL, "sqlite:"))
	default:
		dialector = postgres.Open(databaseURL)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         &CustomLogger{SlowThreshold: 100 * time.Millisecond},
		TranslateError: true, // 唯一约束冲突统一翻译成 gorm.ErrDuplicatedKey
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if db.Dialector.Name() == "sqlite" {
		// SQLite 需要显式打开外键（翻译表依赖级联删除）
		if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}
	return db, nil
}

// Migrate 自动建表 / 补齐索引
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Conversation{},
		&model.ConversationMember{},
		&model.Message{},
		&model.MessageTranslation{},
		&model.UserRelationship{},
		&model.Friendship{},
		&model.DmRequest{},
		&model.ChatLanguagePreference{},
		&model.Notification{},
		&model.SystemSettings{},
	)
}

// InitDB 初始化数据库连接
func InitDB(databaseURL string, autoMigrate bool) error {
	var err error
	DB, err = OpenDB(databaseURL)
	if err != nil {
		return err
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}

	if DB.Dialector.Name() == "sqlite" {
		// SQLite 只有一个写者
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetMaxIdleConns(20)
	}

	if autoMigrate {
		if err := Migrate(DB); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	log.Println("✅ Database connected")
	return nil
}

// GetDB 获取数据库连接
func GetDB() *gorm.DB {
	return DB
}

// CloseDB 关闭数据库连接
func CloseDB() error {
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
