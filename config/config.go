package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	DatabaseURL   string
	AutoMigrate   bool
	RedisURL      string
	RedisPassword string
	RedisDB       int
	JWTSecret     string
	AdminUserIDs  []uuid.UUID // 可以访问 /api/admin 的用户

	Translation TranslationConfig
}

// TranslationConfig 翻译管线配置
type TranslationConfig struct {
	Provider     string // 'libre' | 'mock'
	ProviderURL  string
	APIKey       string
	Workers      int           // worker 并发数
	RatePerSec   float64       // 每秒最多调用翻译服务次数
	MaxAttempts  int           // 单个任务最多尝试次数
	BackoffBase  time.Duration // 指数退避基数
	Timeout      time.Duration // 单次翻译调用超时
	MaxLanguages int           // 单条消息最多翻译的目标语言数
}

func Load() *Config {
	// 加载 .env 文件
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		AutoMigrate:   getEnvAsBool("AUTO_MIGRATE", true),
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		AdminUserIDs:  getEnvAsUUIDs("ADMIN_USER_IDS"),
	}

	cfg.Translation = TranslationConfig{
		Provider:     getEnv("TRANSLATOR_PROVIDER", "libre"),
		ProviderURL:  getEnv("TRANSLATOR_URL", "http://localhost:5000"),
		APIKey:       os.Getenv("TRANSLATOR_API_KEY"),
		Workers:      getEnvAsInt("TRANSLATION_WORKERS", 5),
		RatePerSec:   getEnvAsFloat("TRANSLATION_RATE_PER_SEC", 5),
		MaxAttempts:  getEnvAsInt("TRANSLATION_MAX_ATTEMPTS", 3),
		BackoffBase:  time.Duration(getEnvAsInt("TRANSLATION_BACKOFF_MS", 2000)) * time.Millisecond,
		Timeout:      time.Duration(getEnvAsInt("TRANSLATION_TIMEOUT_SEC", 10)) * time.Second,
		MaxLanguages: getEnvAsInt("MAX_TRANSLATION_LANGUAGES", 10),
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

// getEnvAsUUIDs 逗号分隔的 UUID 列表，非法项跳过
func getEnvAsUUIDs(key string) []uuid.UUID {
	var ids []uuid.UUID
	for _, part := range strings.Split(os.Getenv(key), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := uuid.Parse(part)
		if err != nil {
			log.Printf("[WARN] Ignoring invalid %s entry %q", key, part)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
