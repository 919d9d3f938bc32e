package handler

import (
	"strconv"

	"lingua_chat/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const maxPageSize = 100

// pagination 读取 limit / offset，非法值回落到默认值
func pagination(c *gin.Context, defaultLimit int) (int, int) {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset, err := strconv.Atoi(c.Query("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}

// uuidParam 解析路径参数，失败时已写入 400
func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		utils.BadRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
