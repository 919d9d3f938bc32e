package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"lingua_chat/apperr"
	"lingua_chat/model"
	"lingua_chat/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// RecallWindow 发送后多久内可以撤回
const RecallWindow = 2 * time.Minute

type MessageService struct {
	db        *gorm.DB
	rdb       *redis.Client
	sysSvc    *SystemSettingsService
	permSvc   *PermissionService
	dmSvc     *DmRequestService
	pipeline  *TranslationPipeline
	publisher EventPublisher
}

func NewMessageService(db *gorm.DB, rdb *redis.Client, sysSvc *SystemSettingsService, permSvc *PermissionService, dmSvc *DmRequestService) *MessageService {
	return &MessageService{
		db:        db,
		rdb:       rdb,
		sysSvc:    sysSvc,
		permSvc:   permSvc,
		dmSvc:     dmSvc,
		publisher: nopPublisher{},
	}
}

// SetPipeline 设置翻译管线（用于依赖注入）
func (s *MessageService) SetPipeline(pipeline *TranslationPipeline) {
	s.pipeline = pipeline
}

// SetPublisher 设置实时推送（用于依赖注入）
func (s *MessageService) SetPublisher(publisher EventPublisher) {
	if publisher != nil {
		s.publisher = publisher
	}
}

// SendMessageRequest 发送消息请求
type SendMessageRequest struct {
	ConversationID   uuid.UUID  `json:"conversation_id"`
	ReceiverID       *uuid.UUID `json:"receiver_id,omitempty"` // 私聊且还没有会话时传
	MessageType      string     `json:"message_type"`          // 'text' | 'image' | 'video' | 'emoji'
	Content          *string    `json:"content,omitempty"`
	ReplyToMessageID *uuid.UUID `json:"reply_to_message_id,omitempty"`
}

func (r *SendMessageRequest) validate() error {
	switch r.MessageType {
	case model.MessageTypeText:
		if r.Content == nil || *r.Content == "" {
			return apperr.Validation("content is required for text messages")
		}
	case model.MessageTypeImage, model.MessageTypeVideo, model.MessageTypeEmoji:
	default:
		return apperr.Validation(fmt.Sprintf("unsupported message type %q", r.MessageType))
	}
	if r.ConversationID == uuid.Nil && r.ReceiverID == nil {
		return apperr.Validation("conversation_id or receiver_id is required")
	}
	return nil
}

// SendMessage 发送消息
//  1. 私聊：权限判定（拉黑直接拒绝），非好友推进私信请求状态
//  2. 消息、会话最后消息、未读数、私信请求在同一个事务里
//  3. 提交后触发翻译分发并推送给会话成员
func (s *MessageService) SendMessage(ctx context.Context, senderID uuid.UUID, req *SendMessageRequest) (*model.Message, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	conversationID := req.ConversationID
	if conversationID == uuid.Nil {
		if *req.ReceiverID == senderID {
			return nil, apperr.Validation("cannot send message to yourself")
		}
		// 先判定权限，被拉黑时不创建会话
		if _, err := s.checkPermission(ctx, senderID, *req.ReceiverID); err != nil {
			return nil, err
		}
		var err error
		conversationID, _, err = s.getOrCreatePrivateConversation(ctx, senderID, *req.ReceiverID)
		if err != nil {
			return nil, err
		}
	}

	db := s.db.WithContext(ctx)
	if err := requireMember(db, conversationID, senderID); err != nil {
		return nil, err
	}

	var conversation model.Conversation
	if err := db.Where("id = ?", conversationID).First(&conversation).Error; err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	var (
		receiverID      uuid.UUID
		requiresRequest bool
	)
	if conversation.ConversationType == model.ConversationPrivate {
		other, err := s.otherMember(ctx, conversationID, senderID)
		if err != nil {
			return nil, err
		}
		receiverID = other
		perm, err := s.checkPermission(ctx, senderID, receiverID)
		if err != nil {
			return nil, err
		}
		requiresRequest = perm.RequiresRequest && s.sysSvc.DmRequestsEnabled()
	}

	if req.ReplyToMessageID != nil {
		var count int64
		if err := db.Model(&model.Message{}).
			Where("id = ? AND conversation_id = ?", *req.ReplyToMessageID, conversationID).
			Count(&count).Error; err != nil {
			return nil, fmt.Errorf("failed to check reply target: %w", err)
		}
		if count == 0 {
			return nil, apperr.Validation("reply_to_message_id is not in this conversation")
		}
	}

	message := &model.Message{
		ConversationID:   conversationID,
		SenderID:         senderID,
		MessageType:      req.MessageType,
		Content:          req.Content,
		Status:           "sent",
		ReplyToMessageID: req.ReplyToMessageID,
	}

	var outcome *DmSendOutcome
	err := db.Transaction(func(tx *gorm.DB) error {
		// 权限判定之后可能刚被拉黑，提交前再查一次
		if receiverID != uuid.Nil {
			reason, err := blockReason(tx, senderID, receiverID)
			if err != nil {
				return err
			}
			if reason != "" {
				return apperr.Forbidden(reason)
			}
		}

		if requiresRequest {
			var err error
			if outcome, err = s.dmSvc.ApplySend(tx, senderID, receiverID); err != nil {
				return err
			}
		}

		if err := tx.Create(message).Error; err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}

		now := time.Now()
		if err := tx.Model(&model.Conversation{}).Where("id = ?", conversationID).Updates(map[string]interface{}{
			"last_message_at": now,
			"last_message_id": message.ID,
			"updated_at":      now,
		}).Error; err != nil {
			return fmt.Errorf("failed to update conversation: %w", err)
		}

		if err := tx.Model(&model.ConversationMember{}).
			Where("conversation_id = ? AND user_id <> ? AND left_at IS NULL", conversationID, senderID).
			Update("unread_count", gorm.Expr("unread_count + ?", 1)).Error; err != nil {
			return fmt.Errorf("failed to update conversation member: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.dmSvc.AfterSend(ctx, outcome)
	if s.pipeline != nil {
		s.pipeline.OnMessageSent(message)
	}
	if err := s.publisher.Publish(ctx, ChatTopic(conversationID), Event{Type: EventMessage, Data: message}); err != nil {
		log.Printf("[ERROR] Failed to publish message %s: %v", message.ID, err)
	}

	return message, nil
}

// checkPermission 拉黑时返回 Forbidden，原因来自权限判定
func (s *MessageService) checkPermission(ctx context.Context, senderID, receiverID uuid.UUID) (*PermissionResult, error) {
	perm, err := s.permSvc.CanSendMessage(ctx, senderID, receiverID)
	if err != nil {
		return nil, err
	}
	if !perm.Allowed {
		return nil, apperr.Forbidden(perm.Reason)
	}
	return perm, nil
}

// RecallMessage 撤回消息（只能撤回自己 RecallWindow 内的消息），撤回即软删除
func (s *MessageService) RecallMessage(ctx context.Context, userID, messageID uuid.UUID) (*model.Message, error) {
	message, err := s.GetMessageByID(ctx, messageID)
	if err != nil {
		return nil, err
	}

	if message.SenderID != userID {
		return nil, apperr.Forbidden("you can only recall your own messages")
	}
	if message.IsRecalled {
		return nil, apperr.Conflict("message already recalled")
	}
	if elapsed := time.Since(message.CreatedAt); elapsed > RecallWindow {
		return nil, apperr.Validation(fmt.Sprintf("can only recall messages within %s (elapsed: %.0f seconds)", RecallWindow, elapsed.Seconds()))
	}

	now := time.Now()
	result := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("id = ? AND is_recalled = ?", messageID, false).
		Updates(map[string]interface{}{
			"is_recalled": true,
			"recalled_at": now,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to recall message: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, apperr.Conflict("message already recalled")
	}
	message.IsRecalled = true
	message.RecalledAt = &now

	event := Event{Type: EventRecalled, Data: map[string]interface{}{
		"message_id":      message.ID,
		"conversation_id": message.ConversationID,
	}}
	if err := s.publisher.Publish(ctx, ChatTopic(message.ConversationID), event); err != nil {
		log.Printf("[ERROR] Failed to publish recall %s: %v", message.ID, err)
	}
	return message, nil
}

// GetMessageByID 根据ID获取消息
func (s *MessageService) GetMessageByID(ctx context.Context, messageID uuid.UUID) (*model.Message, error) {
	var message model.Message
	err := s.db.WithContext(ctx).Where("id = ?", messageID).First(&message).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("message not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &message, nil
}

// MarkConversationRead 清零未读数
func (s *MessageService) MarkConversationRead(ctx context.Context, userID, conversationID uuid.UUID) error {
	db := s.db.WithContext(ctx)
	if err := requireMember(db, conversationID, userID); err != nil {
		return err
	}
	err := db.Model(&model.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ? AND left_at IS NULL", conversationID, userID).
		Update("unread_count", 0).Error
	if err != nil {
		return fmt.Errorf("failed to mark conversation read: %w", err)
	}
	return nil
}

// GetConversationMembers 当前成员，按加入顺序
func (s *MessageService) GetConversationMembers(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	var userIDs []uuid.UUID
	err := s.db.WithContext(ctx).Model(&model.ConversationMember{}).
		Where("conversation_id = ? AND left_at IS NULL", conversationID).
		Order("joined_at ASC, user_id ASC").
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation members: %w", err)
	}
	return userIDs, nil
}

// IsConversationMember 检查用户是否是会话成员
func (s *MessageService) IsConversationMember(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ? AND left_at IS NULL", conversationID, userID).
		Count(&count).Error
	return count > 0, err
}

// otherMember 私聊里的另一方
func (s *MessageService) otherMember(ctx context.Context, conversationID, userID uuid.UUID) (uuid.UUID, error) {
	var member model.ConversationMember
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id <> ?", conversationID, userID).
		First(&member).Error
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to find the other member: %w", err)
	}
	return member.UserID, nil
}

// requireMember 会话不存在返回 NotFound，不是成员返回 Forbidden
func requireMember(db *gorm.DB, conversationID, userID uuid.UUID) error {
	var conversations int64
	if err := db.Model(&model.Conversation{}).Where("id = ?", conversationID).Count(&conversations).Error; err != nil {
		return fmt.Errorf("failed to get conversation: %w", err)
	}
	if conversations == 0 {
		return apperr.NotFound("conversation not found")
	}

	var members int64
	err := db.Model(&model.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ? AND left_at IS NULL", conversationID, userID).
		Count(&members).Error
	if err != nil {
		return fmt.Errorf("failed to check membership: %w", err)
	}
	if members == 0 {
		return apperr.Forbidden("user is not a member of this conversation")
	}
	return nil
}

// findPrivateConversation 查找两人之间的私聊
func (s *MessageService) findPrivateConversation(ctx context.Context, user1ID, user2ID uuid.UUID) (*model.Conversation, error) {
	var conversation model.Conversation
	err := s.db.WithContext(ctx).Table("conversations c").
		Select("c.*").
		Joins("INNER JOIN conversation_members m1 ON c.id = m1.conversation_id AND m1.user_id = ?", user1ID).
		Joins("INNER JOIN conversation_members m2 ON c.id = m2.conversation_id AND m2.user_id = ?", user2ID).
		Where("c.conversation_type = ?", model.ConversationPrivate).
		First(&conversation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	return &conversation, nil
}

// getOrCreatePrivateConversation 获取或创建私聊会话（带分布式锁）
// 返回值: (conversationID, conversationJustCreated, error)
func (s *MessageService) getOrCreatePrivateConversation(ctx context.Context, user1ID, user2ID uuid.UUID) (uuid.UUID, bool, error) {
	pair, err := model.NewUserPair(user1ID, user2ID)
	if err != nil {
		return uuid.Nil, false, err
	}

	conversation, err := s.findPrivateConversation(ctx, user1ID, user2ID)
	if err != nil {
		return uuid.Nil, false, err
	}
	if conversation != nil {
		return conversation.ID, false, nil
	}

	// 按规范化用户对加锁，双方同时发起时只创建一个会话
	if s.rdb != nil {
		release, ok := utils.AcquireLock(ctx, s.rdb, "lock:create_conversation:"+pair.Key(), 5*time.Second, 30)
		if !ok {
			return uuid.Nil, false, fmt.Errorf("failed to acquire lock for creating conversation")
		}
		defer release()

		// 获得锁后再查一次
		conversation, err = s.findPrivateConversation(ctx, user1ID, user2ID)
		if err != nil {
			return uuid.Nil, false, err
		}
		if conversation != nil {
			return conversation.ID, false, nil
		}
	}

	var conversationID uuid.UUID
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conv := &model.Conversation{ConversationType: model.ConversationPrivate}
		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		conversationID = conv.ID

		for _, userID := range []uuid.UUID{user1ID, user2ID} {
			member := &model.ConversationMember{
				ConversationID: conversationID,
				UserID:         userID,
				Role:           "member",
			}
			if err := tx.Create(member).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conversationID, true, nil
}
