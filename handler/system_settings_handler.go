package handler

import (
	"strconv"

	"lingua_chat/model"
	"lingua_chat/service"
	"lingua_chat/utils"

	"github.com/gin-gonic/gin"
)

type SystemSettingsHandler struct {
	sysSvc *service.SystemSettingsService
}

func NewSystemSettingsHandler(sysSvc *service.SystemSettingsService) *SystemSettingsHandler {
	return &SystemSettingsHandler{
		sysSvc: sysSvc,
	}
}

// settingValidators 可配置的项及其取值校验
var settingValidators = map[string]func(string) bool{
	model.SettingAutoTranslation: isBool,
	model.SettingDmRequests:      isBool,
	model.SettingMaxTranslationTargets: func(v string) bool {
		n, err := strconv.Atoi(v)
		return err == nil && n > 0 && n <= service.DefaultMaxTranslationLanguages
	},
}

func isBool(v string) bool {
	return v == "true" || v == "false"
}

// GetSystemSettings 获取所有系统配置
// GET /api/admin/settings
func (h *SystemSettingsHandler) GetSystemSettings(c *gin.Context) {
	utils.SuccessResponse(c, gin.H{
		"settings": h.sysSvc.GetAllSettings(),
	})
}

// UpdateSystemSetting 更新系统配置
// POST /api/admin/settings/:key
func (h *SystemSettingsHandler) UpdateSystemSetting(c *gin.Context) {
	key := c.Param("key")
	validate, known := settingValidators[key]
	if !known {
		utils.BadRequest(c, "unknown setting "+key)
		return
	}

	var req struct {
		Value string `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "invalid request body")
		return
	}
	if !validate(req.Value) {
		utils.BadRequest(c, "invalid value for "+key)
		return
	}

	if err := h.sysSvc.UpdateSetting(c.Request.Context(), key, req.Value); err != nil {
		utils.HandleError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": "setting updated successfully",
		"key":     key,
		"value":   req.Value,
	})
}

// ReloadSystemSettings 重新加载系统配置（从数据库）
// POST /api/admin/settings/reload
func (h *SystemSettingsHandler) ReloadSystemSettings(c *gin.Context) {
	if err := h.sysSvc.LoadSettings(c.Request.Context()); err != nil {
		utils.HandleError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": "settings reloaded successfully",
	})
}
