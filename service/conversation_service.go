package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"lingua_chat/apperr"
	"lingua_chat/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

type ConversationService struct {
	db *gorm.DB
}

func NewConversationService(db *gorm.DB) *ConversationService {
	return &ConversationService{db: db}
}

// ConversationListItem 会话列表项
type ConversationListItem struct {
	model.Conversation
	UnreadCount int `json:"unread_count"`
}

// GetConversations 获取用户的会话列表，最近有消息的在前
func (s *ConversationService) GetConversations(ctx context.Context, userID uuid.UUID, limit, offset int) ([]ConversationListItem, error) {
	var items []ConversationListItem
	err := s.db.WithContext(ctx).Table("conversations c").
		Select("c.*, m.unread_count").
		Joins("INNER JOIN conversation_members m ON m.conversation_id = c.id AND m.user_id = ? AND m.left_at IS NULL", userID).
		Order("COALESCE(c.last_message_at, c.created_at) DESC").
		Limit(limit).
		Offset(offset).
		Scan(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	return items, nil
}

// CreateGroupConversation 创建群聊，创建者为 owner
func (s *ConversationService) CreateGroupConversation(ctx context.Context, creatorID uuid.UUID, groupName string, memberIDs []uuid.UUID) (*model.Conversation, error) {
	groupName = strings.TrimSpace(groupName)
	if groupName == "" {
		return nil, apperr.Validation("group_name is required")
	}

	var conversation *model.Conversation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conversation = &model.Conversation{
			ConversationType: model.ConversationGroup,
			GroupName:        &groupName,
		}
		if err := tx.Create(conversation).Error; err != nil {
			return fmt.Errorf("failed to create conversation: %w", err)
		}

		// 加入时间递增，保证成员顺序和请求里一致
		joinedAt := time.Now()
		owner := &model.ConversationMember{
			ConversationID: conversation.ID,
			UserID:         creatorID,
			Role:           RoleOwner,
			JoinedAt:       joinedAt,
		}
		if err := tx.Create(owner).Error; err != nil {
			return err
		}

		seen := map[uuid.UUID]bool{creatorID: true}
		for i, memberID := range memberIDs {
			if seen[memberID] {
				continue
			}
			seen[memberID] = true

			member := &model.ConversationMember{
				ConversationID: conversation.ID,
				UserID:         memberID,
				Role:           RoleMember,
				JoinedAt:       joinedAt.Add(time.Duration(i+1) * time.Microsecond),
			}
			if err := tx.Create(member).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return conversation, nil
}

// groupOperator 校验是群聊且操作者是当前成员
func (s *ConversationService) groupOperator(db *gorm.DB, conversationID, userID uuid.UUID) (*model.ConversationMember, error) {
	var conversation model.Conversation
	if err := db.Where("id = ?", conversationID).First(&conversation).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("conversation not found")
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if conversation.ConversationType != model.ConversationGroup {
		return nil, apperr.Validation("operation is only allowed on group conversations")
	}

	var member model.ConversationMember
	err := db.Where("conversation_id = ? AND user_id = ? AND left_at IS NULL", conversationID, userID).
		First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Forbidden("you are not a member of this conversation")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check membership: %w", err)
	}
	return &member, nil
}

// AddMembersToGroup 添加群聊成员（owner / admin）
func (s *ConversationService) AddMembersToGroup(ctx context.Context, userID, conversationID uuid.UUID, memberIDs []uuid.UUID) error {
	db := s.db.WithContext(ctx)
	operator, err := s.groupOperator(db, conversationID, userID)
	if err != nil {
		return err
	}
	if operator.Role != RoleOwner && operator.Role != RoleAdmin {
		return apperr.Forbidden("only owner or admin can add members")
	}

	return db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		for i, memberID := range memberIDs {
			var count int64
			if err := tx.Model(&model.ConversationMember{}).
				Where("conversation_id = ? AND user_id = ? AND left_at IS NULL", conversationID, memberID).
				Count(&count).Error; err != nil {
				return fmt.Errorf("failed to check membership: %w", err)
			}
			if count > 0 {
				continue
			}

			newMember := &model.ConversationMember{
				ConversationID: conversationID,
				UserID:         memberID,
				Role:           RoleMember,
				JoinedAt:       now.Add(time.Duration(i) * time.Microsecond),
			}
			if err := tx.Create(newMember).Error; err != nil {
				return fmt.Errorf("failed to add member: %w", err)
			}
		}
		return nil
	})
}

// RemoveMemberFromGroup 移除群聊成员（标记为已离开，不能移除 owner）
func (s *ConversationService) RemoveMemberFromGroup(ctx context.Context, userID, conversationID, targetUserID uuid.UUID) error {
	db := s.db.WithContext(ctx)
	operator, err := s.groupOperator(db, conversationID, userID)
	if err != nil {
		return err
	}
	if operator.Role != RoleOwner && operator.Role != RoleAdmin {
		return apperr.Forbidden("only owner or admin can remove members")
	}

	var target model.ConversationMember
	err = db.Where("conversation_id = ? AND user_id = ? AND left_at IS NULL", conversationID, targetUserID).
		First(&target).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound("target user is not a member")
	}
	if err != nil {
		return fmt.Errorf("failed to get member: %w", err)
	}
	if target.Role == RoleOwner {
		return apperr.Forbidden("cannot remove owner")
	}

	return db.Model(&target).Update("left_at", time.Now()).Error
}

// LeaveGroup 离开群聊，离开后不再参与翻译目标语言计算
func (s *ConversationService) LeaveGroup(ctx context.Context, userID, conversationID uuid.UUID) error {
	db := s.db.WithContext(ctx)
	member, err := s.groupOperator(db, conversationID, userID)
	if err != nil {
		return err
	}
	if member.Role == RoleOwner {
		return apperr.Conflict("owner cannot leave group")
	}

	return db.Model(member).Update("left_at", time.Now()).Error
}
