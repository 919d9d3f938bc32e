package handler

import (
	"lingua_chat/middleware"
	"lingua_chat/service"
	"lingua_chat/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type RelationshipHandler struct {
	relSvc *service.RelationshipService
}

func NewRelationshipHandler(relSvc *service.RelationshipService) *RelationshipHandler {
	return &RelationshipHandler{relSvc: relSvc}
}

type targetUserRequest struct {
	TargetUserID uuid.UUID `json:"target_user_id" binding:"required"`
}

// BlockUser 拉黑用户
func (h *RelationshipHandler) BlockUser(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	var req targetUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	if err := h.relSvc.BlockUser(c.Request.Context(), userID, req.TargetUserID); err != nil {
		utils.HandleError(c, err)
		return
	}

	utils.SuccessWithMessage(c, "user blocked successfully", nil)
}

// UnblockUser 取消拉黑
func (h *RelationshipHandler) UnblockUser(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	var req targetUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	if err := h.relSvc.UnblockUser(c.Request.Context(), userID, req.TargetUserID); err != nil {
		utils.HandleError(c, err)
		return
	}

	utils.SuccessWithMessage(c, "user unblocked successfully", nil)
}

// GetBlockedUsers 获取拉黑列表
func (h *RelationshipHandler) GetBlockedUsers(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	blockedUsers, err := h.relSvc.GetBlockedUsers(c.Request.Context(), userID)
	if err != nil {
		utils.HandleError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"blocked_users": blockedUsers})
}

// SendFriendRequest 发送好友请求，对方已向自己发过请求时直接成为好友
// POST /api/v1/friends/requests
func (h *RelationshipHandler) SendFriendRequest(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	var req targetUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	friendship, err := h.relSvc.SendFriendRequest(c.Request.Context(), userID, req.TargetUserID)
	if err != nil {
		utils.HandleError(c, err)
		return
	}

	utils.SuccessResponse(c, friendship)
}

// AcceptFriendRequest POST /api/v1/friends/:user_id/accept
func (h *RelationshipHandler) AcceptFriendRequest(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	requesterID, ok := uuidParam(c, "user_id")
	if !ok {
		return
	}

	friendship, err := h.relSvc.AcceptFriendRequest(c.Request.Context(), userID, requesterID)
	if err != nil {
		utils.HandleError(c, err)
		return
	}

	utils.SuccessResponse(c, friendship)
}

// DeclineFriendRequest POST /api/v1/friends/:user_id/decline
func (h *RelationshipHandler) DeclineFriendRequest(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	requesterID, ok := uuidParam(c, "user_id")
	if !ok {
		return
	}

	friendship, err := h.relSvc.DeclineFriendRequest(c.Request.Context(), userID, requesterID)
	if err != nil {
		utils.HandleError(c, err)
		return
	}

	utils.SuccessResponse(c, friendship)
}

// RemoveFriend DELETE /api/v1/friends/:user_id
func (h *RelationshipHandler) RemoveFriend(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	friendID, ok := uuidParam(c, "user_id")
	if !ok {
		return
	}

	if err := h.relSvc.RemoveFriend(c.Request.Context(), userID, friendID); err != nil {
		utils.HandleError(c, err)
		return
	}

	utils.SuccessWithMessage(c, "friend removed successfully", nil)
}

// ListFriends GET /api/v1/friends
func (h *RelationshipHandler) ListFriends(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	limit, offset := pagination(c, 50)
	friends, err := h.relSvc.ListFriends(c.Request.Context(), userID, limit, offset)
	if err != nil {
		utils.HandleError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"friends": friends})
}

// ListFriendRequests 收到的待处理好友请求
// GET /api/v1/friends/requests
func (h *RelationshipHandler) ListFriendRequests(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	limit, offset := pagination(c, 50)
	requests, err := h.relSvc.ListIncomingFriendRequests(c.Request.Context(), userID, limit, offset)
	if err != nil {
		utils.HandleError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"friend_requests": requests})
}
