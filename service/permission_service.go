package service

import (
	"context"
	"errors"
	"fmt"

	"lingua_chat/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ReasonBlockedByReceiver = "blocked by receiver"
	ReasonBlockedBySender   = "blocked by sender"
)

// PermissionResult 私信权限判定结果
// RequiresRequest=true 表示允许发送，但需要走私信请求流程
type PermissionResult struct {
	Allowed         bool   `json:"allowed"`
	Reason          string `json:"reason,omitempty"`
	RequiresRequest bool   `json:"requires_request"`
}

// PermissionService 判定 sender 能否给 receiver 发私信，只读
type PermissionService struct {
	db *gorm.DB
}

func NewPermissionService(db *gorm.DB) *PermissionService {
	return &PermissionService{db: db}
}

// CanSendMessage 判定顺序：对方拉黑我 > 我拉黑对方 > 已是好友 > 需要私信请求
func (s *PermissionService) CanSendMessage(ctx context.Context, senderID, receiverID uuid.UUID) (*PermissionResult, error) {
	pair, err := model.NewUserPair(senderID, receiverID)
	if err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)

	reason, err := blockReason(db, senderID, receiverID)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		return &PermissionResult{Allowed: false, Reason: reason}, nil
	}

	var friendship model.Friendship
	err = db.Where("user_low_id = ? AND user_high_id = ?", pair.Low, pair.High).First(&friendship).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check friendship: %w", err)
	}
	if err == nil && friendship.Status == model.StatusAccepted {
		return &PermissionResult{Allowed: true}, nil
	}

	return &PermissionResult{Allowed: true, RequiresRequest: true}, nil
}

// blockReason 任一方向存在拉黑时返回原因，对方拉黑优先；没有拉黑返回空串
func blockReason(db *gorm.DB, senderID, receiverID uuid.UUID) (string, error) {
	var blockers []uuid.UUID
	err := db.Model(&model.UserRelationship{}).
		Where("relationship_type = ? AND ((user_id = ? AND target_user_id = ?) OR (user_id = ? AND target_user_id = ?))",
			model.RelationshipBlocked, receiverID, senderID, senderID, receiverID).
		Pluck("user_id", &blockers).Error
	if err != nil {
		return "", fmt.Errorf("failed to check blocks: %w", err)
	}

	reason := ""
	for _, id := range blockers {
		if id == receiverID {
			return ReasonBlockedByReceiver, nil
		}
		reason = ReasonBlockedBySender
	}
	return reason, nil
}
