package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trancheflow/internal/service/escrow"
	"trancheflow/internal/service/judge"
)

type JudgeHandler struct {
	svc    *escrow.Service
	logger *zap.Logger
}

func NewJudgeHandler(svc *escrow.Service, logger *zap.Logger) *JudgeHandler {
	return &JudgeHandler{svc: svc, logger: logger}
}

type verifyConditionRequest struct {
	ConditionDescription string `json:"conditionDescription"`
	ImageURL             string `json:"imageUrl"`
	ImageBase64          string `json:"imageBase64"`
}

// VerifyCondition POST /api/verify-condition
// 判定失败也返回 200 和降级 verdict
func (h *JudgeHandler) VerifyCondition(c *gin.Context) {
	var req verifyConditionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.ConditionDescription) == "" {
		badRequest(c, "Condition description is required")
		return
	}

	verdict := h.svc.JudgeCondition(c.Request.Context(), req.ConditionDescription, judge.ImageInput{
		URL:  strings.TrimSpace(req.ImageURL),
		Data: req.ImageBase64,
	})

	h.logger.Info("VerifyCondition: verdict",
		zap.Bool("verified", verdict.Verified),
		zap.Bool("has_image_url", req.ImageURL != ""),
		zap.Bool("has_image_data", req.ImageBase64 != ""),
	)
	c.JSON(http.StatusOK, verdict)
}
