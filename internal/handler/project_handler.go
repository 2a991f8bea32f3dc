package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trancheflow/internal/model"
	"trancheflow/internal/service/escrow"
)

type ProjectHandler struct {
	svc    *escrow.Service
	logger *zap.Logger
}

func NewProjectHandler(svc *escrow.Service, logger *zap.Logger) *ProjectHandler {
	return &ProjectHandler{svc: svc, logger: logger}
}

// ListProjects GET /api/projects
func (h *ProjectHandler) ListProjects(c *gin.Context) {
	projects, err := h.svc.ListProjects(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, "ListProjects", err)
		return
	}
	if projects == nil {
		projects = []*model.Project{}
	}
	c.JSON(http.StatusOK, projects)
}

// CreateProject POST /api/projects
func (h *ProjectHandler) CreateProject(c *gin.Context) {
	var in escrow.CreateProjectInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.logger.Warn("CreateProject: invalid request body", zap.Error(err))
		badRequest(c, "Invalid project data: "+err.Error())
		return
	}

	p, err := h.svc.CreateProject(c.Request.Context(), in)
	if err != nil {
		writeError(c, h.logger, "CreateProject", err)
		return
	}

	h.logger.Info("CreateProject: success",
		zap.String("project_id", p.ID),
		zap.Int("milestone_count", len(p.Milestones)),
	)
	c.JSON(http.StatusCreated, p)
}

// GetProject GET /api/projects/:id
func (h *ProjectHandler) GetProject(c *gin.Context) {
	p, err := h.svc.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "GetProject", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type auditEntryView struct {
	model.AuditEntry
	Label string `json:"label"`
}

// GetAuditLog GET /api/projects/:id/audit，最新的在前
func (h *ProjectHandler) GetAuditLog(c *gin.Context) {
	p, err := h.svc.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "GetAuditLog", err)
		return
	}

	entries := model.RecentFirst(p.AuditLog)
	views := make([]auditEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, auditEntryView{AuditEntry: e, Label: e.Action.Label()})
	}
	c.JSON(http.StatusOK, gin.H{
		"projectId": p.ID,
		"entries":   views,
	})
}

// SubmitEvidence POST /api/projects/:id/milestones/:milestoneId/evidence
func (h *ProjectHandler) SubmitEvidence(c *gin.Context) {
	var in escrow.EvidenceInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "Invalid evidence payload: "+err.Error())
		return
	}

	p, err := h.svc.SubmitEvidence(c.Request.Context(), actorRole(c), c.Param("id"), c.Param("milestoneId"), in)
	if err != nil {
		writeError(c, h.logger, "SubmitEvidence", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type reviewRequest struct {
	Decision escrow.Decision `json:"decision"`
	Comment  string          `json:"comment"`
}

// ReviewMilestone POST /api/projects/:id/milestones/:milestoneId/review
func (h *ProjectHandler) ReviewMilestone(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid review payload: "+err.Error())
		return
	}

	p, err := h.svc.ReviewMilestone(c.Request.Context(), actorRole(c), c.Param("id"), c.Param("milestoneId"), req.Decision, req.Comment)
	if err != nil {
		writeError(c, h.logger, "ReviewMilestone", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// ReleaseFunds POST /api/projects/:id/milestones/:milestoneId/release
func (h *ProjectHandler) ReleaseFunds(c *gin.Context) {
	p, err := h.svc.ReleaseFunds(c.Request.Context(), actorRole(c), c.Param("id"), c.Param("milestoneId"))
	if err != nil {
		writeError(c, h.logger, "ReleaseFunds", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// ReturnFunds POST /api/projects/:id/milestones/:milestoneId/return
func (h *ProjectHandler) ReturnFunds(c *gin.Context) {
	p, err := h.svc.ReturnFunds(c.Request.Context(), actorRole(c), c.Param("id"), c.Param("milestoneId"))
	if err != nil {
		writeError(c, h.logger, "ReturnFunds", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// MilestoneVerdicts GET /api/projects/:id/milestones/:milestoneId/verdicts
func (h *ProjectHandler) MilestoneVerdicts(c *gin.Context) {
	start := time.Now()
	verdicts, err := h.svc.JudgeMilestone(c.Request.Context(), c.Param("id"), c.Param("milestoneId"))
	if err != nil {
		writeError(c, h.logger, "MilestoneVerdicts", err)
		return
	}
	if verdicts == nil {
		verdicts = []escrow.ConditionVerdict{}
	}

	h.logger.Info("MilestoneVerdicts: success",
		zap.String("project_id", c.Param("id")),
		zap.String("milestone_id", c.Param("milestoneId")),
		zap.Int("verdict_count", len(verdicts)),
		zap.Duration("took", time.Since(start)),
	)
	c.JSON(http.StatusOK, gin.H{
		"milestoneId": c.Param("milestoneId"),
		"verdicts":    verdicts,
	})
}

// EscrowTemplate GET /api/projects/:id/milestones/:milestoneId/escrow-template?kind=create
func (h *ProjectHandler) EscrowTemplate(c *gin.Context) {
	kind := escrow.TemplateKind(c.DefaultQuery("kind", string(escrow.TemplateCreate)))

	tx, err := h.svc.EscrowTemplate(c.Request.Context(), c.Param("id"), c.Param("milestoneId"), kind)
	if err != nil {
		writeError(c, h.logger, "EscrowTemplate", err)
		return
	}
	c.JSON(http.StatusOK, tx)
}
