package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultLanguage 用户没有设置语言偏好时使用的系统默认语言
const DefaultLanguage = "en"

// ChatLanguagePreference 每个会话成员的语言偏好
// MyLanguage: 我写消息用的语言；ViewLanguage: 我想看到的语言
type ChatLanguagePreference struct {
	ID             uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	ConversationID uuid.UUID `json:"conversation_id" gorm:"type:uuid;not null;uniqueIndex:idx_chat_lang_pref,priority:1"`
	UserID         uuid.UUID `json:"user_id" gorm:"type:uuid;not null;index;uniqueIndex:idx_chat_lang_pref,priority:2"`
	MyLanguage     string    `json:"my_language" gorm:"type:varchar(16);not null"`
	ViewLanguage   string    `json:"view_language" gorm:"type:varchar(16);not null"`
	CreatedAt      time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (ChatLanguagePreference) TableName() string {
	return "chat_language_preferences"
}

func (p *ChatLanguagePreference) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// LanguagePreference 对外返回的语言偏好（没有记录时为默认值）
type LanguagePreference struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
	MyLanguage     string    `json:"my_language"`
	ViewLanguage   string    `json:"view_language"`
	IsDefault      bool      `json:"is_default"`
}
