package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"lingua_chat/apperr"
	"lingua_chat/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type NotificationService struct {
	db        *gorm.DB
	publisher EventPublisher
}

func NewNotificationService(db *gorm.DB) *NotificationService {
	return &NotificationService{
		db:        db,
		publisher: nopPublisher{},
	}
}

// SetPublisher 设置实时推送（用于依赖注入）
func (s *NotificationService) SetPublisher(publisher EventPublisher) {
	if publisher != nil {
		s.publisher = publisher
	}
}

// CreateNotification 创建通知并推送给用户
func (s *NotificationService) CreateNotification(ctx context.Context, userID uuid.UUID, notifType, title string, content *string, metadata map[string]interface{}) (*model.Notification, error) {
	notification := &model.Notification{
		UserID:           userID,
		NotificationType: notifType,
		Title:            title,
		Content:          content,
	}

	if metadata != nil {
		metadataBytes, err := json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("invalid metadata: %w", err)
		}
		notification.Metadata = metadataBytes
	}

	if err := s.db.WithContext(ctx).Create(notification).Error; err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}

	if err := s.publisher.Publish(ctx, UserTopic(userID), Event{Type: EventNotification, Data: notification}); err != nil {
		log.Printf("[ERROR] Failed to push notification %s to user %s: %v", notification.ID, userID, err)
	}

	return notification, nil
}

// NotifyDmRequest 收到新的私信请求
func (s *NotificationService) NotifyDmRequest(ctx context.Context, req *model.DmRequest) error {
	recipient := req.Recipient()
	_, err := s.CreateNotification(ctx, recipient, model.NotificationDmRequest, "New message request", nil, map[string]interface{}{
		"dm_request_id": req.ID,
		"from_user_id":  req.InitiatedBy,
	})
	return err
}

// GetNotifications 获取用户的通知列表
func (s *NotificationService) GetNotifications(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]model.Notification, error) {
	var notifications []model.Notification

	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		query = query.Where("is_read = ?", false)
	}

	err := query.Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&notifications).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}

	return notifications, nil
}

// GetNotificationDetail 获取通知详情并标记为已读
func (s *NotificationService) GetNotificationDetail(ctx context.Context, userID, notificationID uuid.UUID) (*model.Notification, error) {
	db := s.db.WithContext(ctx)

	var notification model.Notification
	if err := db.Where("id = ? AND user_id = ?", notificationID, userID).First(&notification).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("notification not found")
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}

	if !notification.IsRead {
		now := time.Now()
		notification.IsRead = true
		notification.ReadAt = &now

		if err := db.Model(&notification).Updates(map[string]interface{}{
			"is_read": true,
			"read_at": now,
		}).Error; err != nil {
			// 读取成功但标记失败，仍然返回通知内容
			log.Printf("[ERROR] Failed to mark notification %s as read: %v", notificationID, err)
		}
	}

	return &notification, nil
}

// MarkAllAsRead 标记所有通知为已读
func (s *NotificationService) MarkAllAsRead(ctx context.Context, userID uuid.UUID) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&model.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Updates(map[string]interface{}{
			"is_read": true,
			"read_at": now,
		}).Error
}

// GetUnreadCount 获取未读通知数量
func (s *NotificationService) GetUnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error

	return int(count), err
}

// DeleteNotification 删除通知
func (s *NotificationService) DeleteNotification(ctx context.Context, userID, notificationID uuid.UUID) error {
	result := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", notificationID, userID).
		Delete(&model.Notification{})

	if result.Error != nil {
		return fmt.Errorf("failed to delete notification: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return apperr.NotFound("notification not found")
	}

	return nil
}
