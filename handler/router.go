package handler

import (
	"lingua_chat/middleware"
	"lingua_chat/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handlers 路由需要的全部处理器
type Handlers struct {
	Conversation *ConversationHandler
	Message      *MessageHandler
	DmRequest    *DmRequestHandler
	Relationship *RelationshipHandler
	Notification *NotificationHandler
	Settings     *SystemSettingsHandler
	Hub          *Hub
}

// NewRouter 注册所有路由
func NewRouter(h *Handlers, adminIDs []uuid.UUID) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), middleware.ErrorHandlerMiddleware())

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		utils.SuccessResponse(c, gin.H{"status": "ok"})
	})

	// WebSocket 连接（使用 token 认证，不需要 HTTP 中间件）
	r.GET("/ws", HandleWebSocket(h.Hub))

	api := r.Group("/api/v1")
	api.Use(middleware.AuthMiddleware())
	{
		// 会话
		api.GET("/conversations", h.Conversation.GetConversations)
		api.POST("/conversations/group", h.Conversation.CreateGroup)
		api.POST("/conversations/:id/members", h.Conversation.AddMembers)
		api.POST("/conversations/:id/members/remove", h.Conversation.RemoveMember)
		api.POST("/conversations/:id/leave", h.Conversation.LeaveGroup)
		api.GET("/conversations/:id/language", h.Conversation.GetLanguage)
		api.PUT("/conversations/:id/language", h.Conversation.SetLanguage)
		api.GET("/conversations/:id/messages", h.Message.GetMessages)
		api.POST("/conversations/:id/read", h.Message.MarkRead)

		// 消息
		api.POST("/messages", h.Message.SendMessage)
		api.POST("/messages/:id/recall", h.Message.RecallMessage)
		api.POST("/messages/:id/translations/:lang/retry", h.Message.RetryTranslation)

		// 私信权限与私信请求
		api.GET("/permissions/:user_id", h.DmRequest.CheckPermission)
		api.GET("/dm-requests", h.DmRequest.ListPending)
		api.GET("/dm-requests/sent", h.DmRequest.ListSent)
		api.POST("/dm-requests/:user_id/accept", h.DmRequest.Accept)
		api.POST("/dm-requests/:user_id/decline", h.DmRequest.Decline)
		api.POST("/dm-requests/:user_id/block", h.DmRequest.Block)

		// 拉黑
		api.POST("/relationships/block", h.Relationship.BlockUser)
		api.POST("/relationships/unblock", h.Relationship.UnblockUser)
		api.GET("/relationships/blocked", h.Relationship.GetBlockedUsers)

		// 好友
		api.GET("/friends", h.Relationship.ListFriends)
		api.GET("/friends/requests", h.Relationship.ListFriendRequests)
		api.POST("/friends/requests", h.Relationship.SendFriendRequest)
		api.POST("/friends/:user_id/accept", h.Relationship.AcceptFriendRequest)
		api.POST("/friends/:user_id/decline", h.Relationship.DeclineFriendRequest)
		api.DELETE("/friends/:user_id", h.Relationship.RemoveFriend)

		// 通知
		api.GET("/notifications", h.Notification.GetNotifications)
		api.GET("/notifications/:id", h.Notification.GetNotificationDetail) // 查看详情（自动标记已读）
		api.POST("/notifications/read-all", h.Notification.MarkAllAsRead)
		api.POST("/notifications/:id/delete", h.Notification.DeleteNotification)
	}

	admin := r.Group("/api/admin")
	admin.Use(middleware.AuthMiddleware(), middleware.AdminMiddleware(adminIDs))
	{
		admin.GET("/settings", h.Settings.GetSystemSettings)
		admin.POST("/settings/reload", h.Settings.ReloadSystemSettings)
		admin.POST("/settings/:key", h.Settings.UpdateSystemSetting)
	}

	return r
}
