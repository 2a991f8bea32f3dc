package httpserver

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"trancheflow/internal/handler"
	"trancheflow/pkg/metrics"
	"trancheflow/pkg/otel"
	"trancheflow/pkg/trace"
)

// ReadinessCheck readyz 依赖检查，返回 error 表示未就绪
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Router struct {
	Engine *gin.Engine
}

// NewRouter adminHandler 为 nil 时不注册 outbox 管理路由
func NewRouter(
	projectHandler *handler.ProjectHandler,
	judgeHandler *handler.JudgeHandler,
	adminHandler *handler.AdminHandler,
	checks []ReadinessCheck,
	logger *zap.Logger,
) *Router {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(trace.GinMiddleware())
	r.Use(otel.GinMiddleware())
	r.Use(accessLog(logger))

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(200)
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.HEAD("/health", func(c *gin.Context) {
		c.Status(200)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		for _, check := range checks {
			if err := check.Check(ctx); err != nil {
				logger.Warn("Readiness check failed",
					zap.String("dependency", check.Name),
					zap.Error(err),
				)
				c.JSON(500, gin.H{"status": check.Name + "_not_ready", "error": err.Error()})
				return
			}
		}

		c.JSON(200, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(ActorRoleMiddleware())
	{
		api.GET("/projects", projectHandler.ListProjects)
		api.POST("/projects", projectHandler.CreateProject)
		api.GET("/projects/:id", projectHandler.GetProject)
		api.GET("/projects/:id/audit", projectHandler.GetAuditLog)

		ms := api.Group("/projects/:id/milestones/:milestoneId")
		ms.POST("/evidence", projectHandler.SubmitEvidence)
		ms.POST("/review", projectHandler.ReviewMilestone)
		ms.POST("/release", projectHandler.ReleaseFunds)
		ms.POST("/return", projectHandler.ReturnFunds)
		ms.GET("/verdicts", projectHandler.MilestoneVerdicts)
		ms.GET("/escrow-template", projectHandler.EscrowTemplate)

		api.POST("/verify-condition", judgeHandler.VerifyCondition)

		if adminHandler != nil {
			api.POST("/admin/outbox/replay", adminHandler.ReplayOutboxEvent)
			api.POST("/admin/outbox/replay-failed", adminHandler.ReplayFailedEvents)
		}
	}

	return &Router{Engine: r}
}

func (r *Router) Run(port string) error {
	return r.Engine.Run(port)
}

// accessLog 访问日志和 HTTP 延迟指标
func accessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTPRequestDuration(c.Request.Method, route, strconv.Itoa(status), latency)

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("query", c.Request.URL.RawQuery),
			zap.Int("status", status),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
			zap.String("user_agent", c.Request.UserAgent()),
			zap.String("trace_id", trace.FromContext(c.Request.Context())),
		)
	}
}
