package model

import (
	"fmt"
	"time"

	"lingua_chat/apperr"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DmStateNone 还没有请求记录时的隐式初始态，不落库
const DmStateNone RelationStatus = "NONE"

// DmRequest 私信请求：非好友之间能否互发消息的协商记录，按规范化用户对唯一
type DmRequest struct {
	ID            uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	UserLowID     uuid.UUID      `json:"user_low_id" gorm:"type:uuid;not null;uniqueIndex:idx_dm_requests_pair,priority:1"`
	UserHighID    uuid.UUID      `json:"user_high_id" gorm:"type:uuid;not null;index;uniqueIndex:idx_dm_requests_pair,priority:2"`
	InitiatedBy   uuid.UUID      `json:"initiated_by" gorm:"type:uuid;not null"` // 创建后不再修改
	Status        RelationStatus `json:"status" gorm:"type:varchar(20);not null;index"`
	LastMessageAt time.Time      `json:"last_message_at" gorm:"not null;index"`
	CreatedAt     time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

func (DmRequest) TableName() string {
	return "dm_requests"
}

func (r *DmRequest) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

func (r *DmRequest) Pair() UserPair {
	return UserPair{Low: r.UserLowID, High: r.UserHighID}
}

// Recipient 请求的接收方（非发起方）
func (r *DmRequest) Recipient() uuid.UUID {
	return r.Pair().Other(r.InitiatedBy)
}

// DmStateOf 把“没有记录”折叠成 NONE 状态
func DmStateOf(req *DmRequest) RelationStatus {
	if req == nil {
		return DmStateNone
	}
	return req.Status
}

// NextOnSend 一方发送消息后的状态迁移
//
//	NONE      -> PENDING（发起方 = sender）
//	PENDING   -> PENDING（发起方再发）/ ACCEPTED（对方回复即自动接受）
//	DECLINED  -> PENDING（不论谁发，initiated_by 保持不变）
//	ACCEPTED  -> ACCEPTED
//	BLOCKED   -> 终态，拒绝
func NextOnSend(req *DmRequest, senderID uuid.UUID) (RelationStatus, error) {
	switch DmStateOf(req) {
	case DmStateNone, StatusDeclined:
		return StatusPending, nil
	case StatusPending:
		if senderID == req.InitiatedBy {
			return StatusPending, nil
		}
		return StatusAccepted, nil
	case StatusAccepted:
		return StatusAccepted, nil
	case StatusBlocked:
		return "", apperr.Forbidden("direct messages between these users are blocked")
	default:
		return "", fmt.Errorf("unknown dm request status %q", req.Status)
	}
}

// checkResponder 显式接受 / 拒绝 / 拉黑只能由接收方操作
func checkResponder(req *DmRequest, actorID uuid.UUID) error {
	if req == nil {
		return apperr.NotFound("dm request not found")
	}
	if actorID == req.InitiatedBy {
		return apperr.Forbidden("only the recipient can respond to this dm request")
	}
	return nil
}

// NextOnAccept 接收方显式接受
func NextOnAccept(req *DmRequest, actorID uuid.UUID) (RelationStatus, error) {
	if err := checkResponder(req, actorID); err != nil {
		return "", err
	}
	if req.Status != StatusPending {
		return "", apperr.Conflict(fmt.Sprintf("dm request is already %s", req.Status))
	}
	return StatusAccepted, nil
}

// NextOnDecline 接收方显式拒绝
func NextOnDecline(req *DmRequest, actorID uuid.UUID) (RelationStatus, error) {
	if err := checkResponder(req, actorID); err != nil {
		return "", err
	}
	if req.Status != StatusPending {
		return "", apperr.Conflict(fmt.Sprintf("dm request is already %s", req.Status))
	}
	return StatusDeclined, nil
}

// NextOnBlock 接收方通过请求拉黑，任何已有状态都进入 BLOCKED（重复拉黑幂等）
func NextOnBlock(req *DmRequest, actorID uuid.UUID) (RelationStatus, error) {
	if err := checkResponder(req, actorID); err != nil {
		return "", err
	}
	return StatusBlocked, nil
}
