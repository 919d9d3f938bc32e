package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const RelationshipBlocked = "blocked"

// UserRelationship 用户关系表（有向边），目前只存拉黑关系
// user_id 拉黑了 target_user_id
type UserRelationship struct {
	ID               uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	UserID           uuid.UUID `json:"user_id" gorm:"type:uuid;not null;uniqueIndex:idx_user_relationships_edge,priority:1"`
	TargetUserID     uuid.UUID `json:"target_user_id" gorm:"type:uuid;not null;index;uniqueIndex:idx_user_relationships_edge,priority:2"`
	RelationshipType string    `json:"relationship_type" gorm:"type:varchar(20);not null;uniqueIndex:idx_user_relationships_edge,priority:3"`
	CreatedAt        time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (UserRelationship) TableName() string {
	return "user_relationships"
}

func (r *UserRelationship) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// RelationStatus 好友关系 / 私信请求共用的状态
type RelationStatus string

const (
	StatusPending  RelationStatus = "PENDING"
	StatusAccepted RelationStatus = "ACCEPTED"
	StatusDeclined RelationStatus = "DECLINED"
	StatusBlocked  RelationStatus = "BLOCKED"
)

// Friendship 好友关系（无向，按规范化用户对唯一）
type Friendship struct {
	ID          uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	UserLowID   uuid.UUID      `json:"user_low_id" gorm:"type:uuid;not null;uniqueIndex:idx_friendships_pair,priority:1"`
	UserHighID  uuid.UUID      `json:"user_high_id" gorm:"type:uuid;not null;index;uniqueIndex:idx_friendships_pair,priority:2"`
	Status      RelationStatus `json:"status" gorm:"type:varchar(20);not null"`
	RequestedBy uuid.UUID      `json:"requested_by" gorm:"type:uuid;not null"`
	CreatedAt   time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Friendship) TableName() string {
	return "friendships"
}

func (f *Friendship) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}

func (f *Friendship) Pair() UserPair {
	return UserPair{Low: f.UserLowID, High: f.UserHighID}
}
