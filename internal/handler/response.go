package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trancheflow/internal/model"
	"trancheflow/internal/service/escrow"
	"trancheflow/pkg/logger"
)

// ActorRoleKey 角色中间件写入 gin.Context 的键
const ActorRoleKey = "actor_role"

var kindStatus = map[escrow.Kind]int{
	escrow.KindNotFound:        http.StatusNotFound,
	escrow.KindInvalidState:    http.StatusConflict,
	escrow.KindInvalidInput:    http.StatusBadRequest,
	escrow.KindMissingEvidence: http.StatusUnprocessableEntity,
	escrow.KindForbidden:       http.StatusForbidden,
}

// StatusFor 业务错误类别对应的 HTTP 状态码
func StatusFor(kind escrow.Kind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// actorRole 未声明角色时返回空字符串
func actorRole(c *gin.Context) model.Role {
	if v, ok := c.Get(ActorRoleKey); ok {
		if role, ok := v.(model.Role); ok {
			return role
		}
	}
	return ""
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error": message,
		"kind":  escrow.KindInvalidInput,
	})
}

// writeError 业务错误按类别返回，其余错误记录日志后返回 500
func writeError(c *gin.Context, log *zap.Logger, op string, err error) {
	if kind, ok := escrow.KindOf(err); ok {
		logger.WithTrace(c.Request.Context(), log).Info(op+": rejected",
			zap.String("kind", string(kind)),
			zap.String("reason", err.Error()),
		)
		c.JSON(StatusFor(kind), gin.H{
			"error": err.Error(),
			"kind":  kind,
		})
		return
	}

	logger.WithTrace(c.Request.Context(), log).Error(op+": failed",
		zap.String("path", c.FullPath()),
		zap.Error(err),
	)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
