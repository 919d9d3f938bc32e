package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeVideo = "video"
	MessageTypeEmoji = "emoji"
)

// Message 消息表
type Message struct {
	ID               uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	ConversationID   uuid.UUID  `json:"conversation_id" gorm:"type:uuid;not null;index"`
	SenderID         uuid.UUID  `json:"sender_id" gorm:"type:uuid;not null;index"`
	MessageType      string     `json:"message_type" gorm:"type:varchar(20);not null"` // 'text' | 'image' | 'video' | 'emoji'
	Content          *string    `json:"content,omitempty" gorm:"type:text"`
	Status           string     `json:"status" gorm:"type:varchar(20);default:sent"`
	ReplyToMessageID *uuid.UUID `json:"reply_to_message_id,omitempty" gorm:"type:uuid"`
	IsRecalled       bool       `json:"is_recalled" gorm:"default:false"` // 撤回即软删除
	RecalledAt       *time.Time `json:"recalled_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at" gorm:"autoCreateTime;index"`
}

func (Message) TableName() string {
	return "messages"
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// Translatable 只有未撤回且有内容的文本消息需要翻译
func (m *Message) Translatable() bool {
	return m.MessageType == MessageTypeText && !m.IsRecalled && m.Content != nil && *m.Content != ""
}

// Text 消息文本（非文本消息为空串）
func (m *Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}
