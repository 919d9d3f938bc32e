package handler

import (
	"context"

	"lingua_chat/middleware"
	"lingua_chat/model"
	"lingua_chat/service"
	"lingua_chat/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type DmRequestHandler struct {
	dmSvc   *service.DmRequestService
	permSvc *service.PermissionService
}

func NewDmRequestHandler(dmSvc *service.DmRequestService, permSvc *service.PermissionService) *DmRequestHandler {
	return &DmRequestHandler{dmSvc: dmSvc, permSvc: permSvc}
}

// CheckPermission 当前用户能否给对方发私信
// GET /api/v1/permissions/:user_id
func (h *DmRequestHandler) CheckPermission(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	targetID, ok := uuidParam(c, "user_id")
	if !ok {
		return
	}

	result, err := h.permSvc.CanSendMessage(c.Request.Context(), userID, targetID)
	if err != nil {
		utils.HandleError(c, err)
		return
	}

	utils.SuccessResponse(c, result)
}

// ListPending 收到的待处理私信请求
// GET /api/v1/dm-requests
func (h *DmRequestHandler) ListPending(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	limit, offset := pagination(c, 20)
	requests, err := h.dmSvc.ListPendingDmRequests(c.Request.Context(), userID, limit, offset)
	if err != nil {
		utils.HandleError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"dm_requests": requests})
}

// ListSent 自己发起的私信请求
// GET /api/v1/dm-requests/sent
func (h *DmRequestHandler) ListSent(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	limit, offset := pagination(c, 20)
	requests, err := h.dmSvc.ListSentDmRequests(c.Request.Context(), userID, limit, offset)
	if err != nil {
		utils.HandleError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"dm_requests": requests})
}

// Accept POST /api/v1/dm-requests/:user_id/accept
func (h *DmRequestHandler) Accept(c *gin.Context) {
	h.respond(c, h.dmSvc.AcceptDmRequest)
}

// Decline POST /api/v1/dm-requests/:user_id/decline
func (h *DmRequestHandler) Decline(c *gin.Context) {
	h.respond(c, h.dmSvc.DeclineDmRequest)
}

// Block POST /api/v1/dm-requests/:user_id/block
// 拒绝并拉黑，之后双方都不能再发私信
func (h *DmRequestHandler) Block(c *gin.Context) {
	h.respond(c, h.dmSvc.BlockViaDmRequest)
}

func (h *DmRequestHandler) respond(c *gin.Context, action func(ctx context.Context, actorID, otherID uuid.UUID) (*model.DmRequest, error)) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	otherID, ok := uuidParam(c, "user_id")
	if !ok {
		return
	}

	req, err := action(c.Request.Context(), userID, otherID)
	if err != nil {
		utils.HandleError(c, err)
		return
	}

	utils.SuccessResponse(c, req)
}
