package middleware

import (
	"log"

	"lingua_chat/utils"

	"github.com/gin-gonic/gin"
)

// ErrorHandlerMiddleware 统一错误处理中间件
// 捕获 panic 和 c.Error 记录的错误，返回统一格式的错误响应
func ErrorHandlerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("[ERROR] Panic recovered on %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
				if !c.Writer.Written() {
					utils.InternalServerError(c, "internal server error")
				}
				c.Abort()
			}
		}()

		c.Next()

		if len(c.Errors) > 0 {
			err := c.Errors.Last()
			// 按错误分类映射状态码
			if !c.Writer.Written() {
				utils.HandleError(c, err.Err)
				return
			}
			log.Printf("[ERROR] Request error: %v", err.Err)
		}
	}
}
