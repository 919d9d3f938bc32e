package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	NotificationSystem    = "system"
	NotificationDmRequest = "dm_request"
)

// Notification 通知表
type Notification struct {
	ID               uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	UserID           uuid.UUID       `json:"user_id" gorm:"type:uuid;not null;index"`
	NotificationType string          `json:"notification_type" gorm:"type:varchar(30);not null"` // 'system' | 'dm_request'
	Title            string          `json:"title" gorm:"type:varchar(200);not null"`
	Content          *string         `json:"content,omitempty" gorm:"type:text"`
	Metadata         json.RawMessage `json:"metadata,omitempty" gorm:"type:jsonb"`
	IsRead           bool            `json:"is_read" gorm:"default:false"`
	ReadAt           *time.Time      `json:"read_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at" gorm:"autoCreateTime"`
}

func (Notification) TableName() string {
	return "notifications"
}

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}
