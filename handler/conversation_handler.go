package handler

import (
	"lingua_chat/middleware"
	"lingua_chat/service"
	"lingua_chat/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type ConversationHandler struct {
	convSvc *service.ConversationService
	langSvc *service.LanguagePreferenceService
}

func NewConversationHandler(convSvc *service.ConversationService, langSvc *service.LanguagePreferenceService) *ConversationHandler {
	return &ConversationHandler{convSvc: convSvc, langSvc: langSvc}
}

// GetConversations 获取会话列表
func (h *ConversationHandler) GetConversations(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	limit, offset := pagination(c, 20)
	conversations, err := h.convSvc.GetConversations(c.Request.Context(), userID, limit, offset)
	if err != nil {
		utils.HandleError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"conversations": conversations})
}

// CreateGroup 创建群聊
func (h *ConversationHandler) CreateGroup(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	var req struct {
		GroupName string      `json:"group_name" binding:"required"`
		MemberIDs []uuid.UUID `json:"member_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	conversation, err := h.convSvc.CreateGroupConversation(c.Request.Context(), userID, req.GroupName, req.MemberIDs)
	if err != nil {
		utils.HandleError(c, err)
		return
	}

	utils.SuccessResponse(c, conversation)
}

// AddMembers 添加群聊成员
func (h *ConversationHandler) AddMembers(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	conversationID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		MemberIDs []uuid.UUID `json:"member_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	if err := h.convSvc.AddMembersToGroup(c.Request.Context(), userID, conversationID, req.MemberIDs); err != nil {
		utils.HandleError(c, err)
		return
	}

	utils.SuccessWithMessage(c, "members added successfully", nil)
}

// RemoveMember 移除群聊成员
func (h *ConversationHandler) RemoveMember(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	conversationID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		UserID uuid.UUID `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	if err := h.convSvc.RemoveMemberFromGroup(c.Request.Context(), userID, conversationID, req.UserID); err != nil {
		utils.HandleError(c, err)
		return
	}

	utils.SuccessWithMessage(c, "member removed successfully", nil)
}

// LeaveGroup 离开群聊
func (h *ConversationHandler) LeaveGroup(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	conversationID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	if err := h.convSvc.LeaveGroup(c.Request.Context(), userID, conversationID); err != nil {
		utils.HandleError(c, err)
		return
	}

	utils.SuccessWithMessage(c, "left group successfully", nil)
}

// GetLanguage 当前用户在该会话的语言设置，未设置时返回默认值
// GET /api/v1/conversations/:id/language
func (h *ConversationHandler) GetLanguage(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	conversationID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	pref, err := h.langSvc.GetLanguagePreference(c.Request.Context(), userID, conversationID)
	if err != nil {
		utils.HandleError(c, err)
		return
	}

	utils.SuccessResponse(c, pref)
}

// SetLanguage 设置写作语言和阅读语言
// PUT /api/v1/conversations/:id/language
func (h *ConversationHandler) SetLanguage(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	conversationID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		MyLanguage   string `json:"my_language" binding:"required"`
		ViewLanguage string `json:"view_language" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	pref, err := h.langSvc.SetLanguagePreference(c.Request.Context(), userID, conversationID, req.MyLanguage, req.ViewLanguage)
	if err != nil {
		utils.HandleError(c, err)
		return
	}

	utils.SuccessResponse(c, pref)
}
