package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 运行时可调的系统配置项
const (
	SettingAutoTranslation       = "enable_auto_translation"
	SettingMaxTranslationTargets = "max_translation_languages"
	SettingDmRequests            = "enable_dm_requests"
)

// SystemSettings 系统配置（超管全局配置）
type SystemSettings struct {
	ID           uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	SettingKey   string    `json:"setting_key" gorm:"type:varchar(100);uniqueIndex;not null"`
	SettingValue string    `json:"setting_value" gorm:"not null"`
	Description  string    `json:"description"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (SystemSettings) TableName() string {
	return "system_settings"
}

func (s *SystemSettings) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
