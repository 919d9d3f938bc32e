package handler

import (
	"lingua_chat/middleware"
	"lingua_chat/service"
	"lingua_chat/utils"

	"github.com/gin-gonic/gin"
)

type MessageHandler struct {
	msgSvc    *service.MessageService
	localizer *service.LocalizationService
	pipeline  *service.TranslationPipeline
}

func NewMessageHandler(msgSvc *service.MessageService, localizer *service.LocalizationService, pipeline *service.TranslationPipeline) *MessageHandler {
	return &MessageHandler{
		msgSvc:    msgSvc,
		localizer: localizer,
		pipeline:  pipeline,
	}
}

// SendMessage 发送消息
// POST /api/v1/messages
func (h *MessageHandler) SendMessage(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	var req service.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	message, err := h.msgSvc.SendMessage(c.Request.Context(), userID, &req)
	if err != nil {
		utils.HandleError(c, err)
		return
	}

	utils.SuccessResponse(c, message)
}

// GetMessages 按当前用户的阅读语言返回消息历史
// GET /api/v1/conversations/:id/messages
func (h *MessageHandler) GetMessages(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	conversationID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	limit, offset := pagination(c, 50)

	messages, err := h.localizer.GetLocalizedMessages(c.Request.Context(), userID, conversationID, limit, offset)
	if err != nil {
		utils.HandleError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"messages": messages})
}

// MarkRead 清零会话未读数
// POST /api/v1/conversations/:id/read
func (h *MessageHandler) MarkRead(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	conversationID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	if err := h.msgSvc.MarkConversationRead(c.Request.Context(), userID, conversationID); err != nil {
		utils.HandleError(c, err)
		return
	}

	utils.SuccessWithMessage(c, "conversation marked as read", nil)
}

// RecallMessage 撤回消息
// POST /api/v1/messages/:id/recall
func (h *MessageHandler) RecallMessage(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	msgID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	if _, err := h.msgSvc.RecallMessage(c.Request.Context(), userID, msgID); err != nil {
		utils.HandleError(c, err)
		return
	}

	utils.SuccessWithMessage(c, "Message recalled successfully", nil)
}

// RetryTranslation 手动重新排队某个语言的翻译
// POST /api/v1/messages/:id/translations/:lang/retry
func (h *MessageHandler) RetryTranslation(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	msgID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	queued, err := h.pipeline.RetryTranslation(c.Request.Context(), userID, msgID, c.Param("lang"))
	if err != nil {
		utils.HandleError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"queued": queued})
}
