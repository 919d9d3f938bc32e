package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MessageTranslation 消息译文，(message_id, lang) 唯一，只追加不更新
// 父消息删除时级联删除
type MessageTranslation struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	MessageID uuid.UUID `json:"message_id" gorm:"type:uuid;not null;uniqueIndex:idx_message_translations_key,priority:1"`
	Lang      string    `json:"lang" gorm:"type:varchar(16);not null;uniqueIndex:idx_message_translations_key,priority:2"`
	Content   string    `json:"content" gorm:"type:text;not null"`
	Provider  string    `json:"provider" gorm:"type:varchar(50);not null"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`

	Message *Message `json:"-" gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE"`
}

func (MessageTranslation) TableName() string {
	return "message_translations"
}

func (t *MessageTranslation) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// LocalizedMessage 按读者语言偏好组装后的消息
// ContentOriginal 只在展示的是译文时返回
type LocalizedMessage struct {
	ID               uuid.UUID  `json:"id"`
	ConversationID   uuid.UUID  `json:"conversation_id"`
	SenderID         uuid.UUID  `json:"sender_id"`
	MessageType      string     `json:"message_type"`
	Content          string     `json:"content"`
	ContentOriginal  *string    `json:"content_original,omitempty"`
	LangOriginal     string     `json:"lang_original"`
	LangShown        string     `json:"lang_shown"`
	Status           string     `json:"status"`
	ReplyToMessageID *uuid.UUID `json:"reply_to_message_id,omitempty"`
	IsRecalled       bool       `json:"is_recalled"`
	CreatedAt        time.Time  `json:"created_at"`
}
