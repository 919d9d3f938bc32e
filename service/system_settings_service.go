package service

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"

	"lingua_chat/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SystemSettingsService 系统配置服务（数据库 + 内存缓存）
// nil 接收者也可以调用，全部返回默认值
type SystemSettingsService struct {
	db              *gorm.DB
	settingsCache   map[string]string
	settingsCacheMu sync.RWMutex
}

func NewSystemSettingsService(db *gorm.DB) *SystemSettingsService {
	s := &SystemSettingsService{
		db:            db,
		settingsCache: make(map[string]string),
	}
	if err := s.LoadSettings(context.Background()); err != nil {
		log.Printf("[WARN] %v, using defaults", err)
	}
	return s
}

// LoadSettings 从数据库加载所有配置到内存缓存
func (s *SystemSettingsService) LoadSettings(ctx context.Context) error {
	var settings []model.SystemSettings
	if err := s.db.WithContext(ctx).Find(&settings).Error; err != nil {
		return fmt.Errorf("failed to load system settings: %w", err)
	}

	fresh := make(map[string]string, len(settings))
	for _, setting := range settings {
		fresh[setting.SettingKey] = setting.SettingValue
	}

	s.settingsCacheMu.Lock()
	s.settingsCache = fresh
	s.settingsCacheMu.Unlock()
	return nil
}

// GetSetting 获取配置值（从缓存）
func (s *SystemSettingsService) GetSetting(key string) (string, bool) {
	if s == nil {
		return "", false
	}
	s.settingsCacheMu.RLock()
	defer s.settingsCacheMu.RUnlock()

	value, exists := s.settingsCache[key]
	return value, exists
}

// GetBoolSetting 获取布尔类型配置
func (s *SystemSettingsService) GetBoolSetting(key string, defaultValue bool) bool {
	value, exists := s.GetSetting(key)
	if !exists {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

// GetIntSetting 获取整数类型配置，非正数视为未配置
func (s *SystemSettingsService) GetIntSetting(key string, defaultValue int) int {
	value, exists := s.GetSetting(key)
	if !exists {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return defaultValue
	}
	return n
}

// TranslationEnabled 是否自动翻译新消息（默认开启）
func (s *SystemSettingsService) TranslationEnabled() bool {
	return s.GetBoolSetting(model.SettingAutoTranslation, true)
}

// DmRequestsEnabled 非好友私信是否走私信请求流程（默认开启）
func (s *SystemSettingsService) DmRequestsEnabled() bool {
	return s.GetBoolSetting(model.SettingDmRequests, true)
}

// MaxTranslationLanguages 单条消息最多翻译的语言数
func (s *SystemSettingsService) MaxTranslationLanguages(defaultValue int) int {
	return s.GetIntSetting(model.SettingMaxTranslationTargets, defaultValue)
}

// UpdateSetting 更新配置（不存在则创建），同时刷新缓存
func (s *SystemSettingsService) UpdateSetting(ctx context.Context, key, value string) error {
	setting := model.SystemSettings{SettingKey: key, SettingValue: value}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "setting_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"setting_value", "updated_at"}),
	}).Create(&setting).Error
	if err != nil {
		return fmt.Errorf("failed to update setting: %w", err)
	}

	s.settingsCacheMu.Lock()
	s.settingsCache[key] = value
	s.settingsCacheMu.Unlock()
	return nil
}

// GetAllSettings 获取所有配置（缓存副本）
func (s *SystemSettingsService) GetAllSettings() map[string]string {
	s.settingsCacheMu.RLock()
	defer s.settingsCacheMu.RUnlock()

	result := make(map[string]string, len(s.settingsCache))
	for k, v := range s.settingsCache {
		result[k] = v
	}
	return result
}
