package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"trancheflow/internal/handler"
	"trancheflow/internal/model"
)

// ActorRoleHeader 调用方声明的角色，不做身份校验
const ActorRoleHeader = "X-Actor-Role"

// ActorRoleMiddleware 解析 X-Actor-Role 写入 context，未声明时留空
func ActorRoleMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(ActorRoleHeader)
		role, ok := model.ParseRole(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "unknown actor role: " + raw,
				"kind":  "INVALID_INPUT",
			})
			c.Abort()
			return
		}

		c.Set(handler.ActorRoleKey, role)
		c.Next()
	}
}
