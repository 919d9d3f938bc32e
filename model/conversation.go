package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ConversationPrivate = "private"
	ConversationGroup   = "group"
)

// Conversation 会话表
type Conversation struct {
	ID               uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	ConversationType string     `json:"conversation_type" gorm:"type:varchar(20);not null"` // 'private' | 'group'
	GroupName        *string    `json:"group_name,omitempty" gorm:"type:varchar(100)"`
	CreatedAt        time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt        time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
	LastMessageAt    *time.Time `json:"last_message_at,omitempty"`
	LastMessageID    *uuid.UUID `json:"last_message_id,omitempty" gorm:"type:uuid"`
}

func (Conversation) TableName() string {
	return "conversations"
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// ConversationMember 会话成员表
type ConversationMember struct {
	ID             uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	ConversationID uuid.UUID  `json:"conversation_id" gorm:"type:uuid;not null;index"`
	UserID         uuid.UUID  `json:"user_id" gorm:"type:uuid;not null;index"`
	Role           string     `json:"role" gorm:"type:varchar(20);default:member"` // 'owner' | 'admin' | 'member'
	JoinedAt       time.Time  `json:"joined_at" gorm:"autoCreateTime"`
	LeftAt         *time.Time `json:"left_at,omitempty"`
	UnreadCount    int        `json:"unread_count" gorm:"default:0"`
}

func (ConversationMember) TableName() string {
	return "conversation_members"
}

func (m *ConversationMember) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
