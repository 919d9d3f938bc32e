package handler

import (
	"lingua_chat/middleware"
	"lingua_chat/service"
	"lingua_chat/utils"

	"github.com/gin-gonic/gin"
)

type NotificationHandler struct {
	notifSvc *service.NotificationService
}

func NewNotificationHandler(notifSvc *service.NotificationService) *NotificationHandler {
	return &NotificationHandler{notifSvc: notifSvc}
}

// GetNotifications 获取通知列表
func (h *NotificationHandler) GetNotifications(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	limit, offset := pagination(c, 50)
	unreadOnly := c.DefaultQuery("unread_only", "false") == "true"

	notifications, err := h.notifSvc.GetNotifications(c.Request.Context(), userID, limit, offset, unreadOnly)
	if err != nil {
		utils.HandleError(c, err)
		return
	}

	unreadCount, err := h.notifSvc.GetUnreadCount(c.Request.Context(), userID)
	if err != nil {
		utils.HandleError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"notifications": notifications,
		"unread_count":  unreadCount,
	})
}

// GetNotificationDetail 获取通知详情（自动标记为已读）
func (h *NotificationHandler) GetNotificationDetail(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	notificationID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	notification, err := h.notifSvc.GetNotificationDetail(c.Request.Context(), userID, notificationID)
	if err != nil {
		utils.HandleError(c, err)
		return
	}

	utils.SuccessResponse(c, notification)
}

// MarkAllAsRead 全部已读
func (h *NotificationHandler) MarkAllAsRead(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	if err := h.notifSvc.MarkAllAsRead(c.Request.Context(), userID); err != nil {
		utils.HandleError(c, err)
		return
	}

	utils.SuccessWithMessage(c, "all notifications marked as read", nil)
}

// DeleteNotification 删除通知
func (h *NotificationHandler) DeleteNotification(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	notificationID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	if err := h.notifSvc.DeleteNotification(c.Request.Context(), userID, notificationID); err != nil {
		utils.HandleError(c, err)
		return
	}

	utils.SuccessWithMessage(c, "notification deleted", nil)
}
