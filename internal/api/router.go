package api

import (
	"net/http"
	"time"

	"github.com/apk-analysis/apk-triage-go/internal/api/handlers"
	"github.com/apk-analysis/apk-triage-go/internal/config"
	"github.com/apk-analysis/apk-triage-go/internal/middleware"
	"github.com/apk-analysis/apk-triage-go/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Version 服务版本
const Version = "1.0.0"

// Dependencies 路由依赖
type Dependencies struct {
	Submitter handlers.Submitter
	Tracker   handlers.JobTracker
	Reports   repository.ReportRepository // 可为 nil，未配置数据库时不注册报告接口
	Threats   handlers.ThreatStore
	Metrics   *middleware.PrometheusMetrics // 可为 nil
}

func SetupRouter(cfg *config.Config, logger *logrus.Logger, deps Dependencies) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	if deps.Metrics != nil {
		r.Use(deps.Metrics.HTTPMiddleware())
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	health := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": Version,
		})
	}
	r.GET("/health", health)

	jobHandler := handlers.NewJobHandler(deps.Submitter, deps.Tracker, logger, cfg.UploadDir, cfg.Server.MaxUploadMB)

	var onThreatChange func(int)
	if deps.Metrics != nil {
		onThreatChange = deps.Metrics.UpdateThreatRecords
	}
	threatHandler := handlers.NewThreatHandler(deps.Threats, logger, onThreatChange)

	v1 := r.Group("/api")
	{
		v1.GET("/health", health)

		// 上传与任务
		v1.POST("/analyze", jobHandler.Analyze)
		v1.GET("/jobs", jobHandler.ListJobs)
		v1.GET("/jobs/:id", jobHandler.GetJob)
		v1.GET("/jobs/:id/ws", jobHandler.WatchJob)

		// 历史报告
		if deps.Reports != nil {
			reportHandler := handlers.NewReportHandler(deps.Reports, logger)
			v1.GET("/reports", reportHandler.ListReports)
			v1.GET("/reports/:id", reportHandler.GetReport)
			v1.DELETE("/reports/:id", middleware.AdminAuth(cfg.Admin.Token), reportHandler.DeleteReport)
		}

		// 威胁库管理（需要管理员 token）
		admin := v1.Group("/threats", middleware.AdminAuth(cfg.Admin.Token))
		{
			admin.GET("", threatHandler.ListThreats)
			admin.POST("", threatHandler.AddThreat)
			admin.GET("/search", threatHandler.SearchThreats)
			admin.GET("/summary", threatHandler.Summary)
			admin.GET("/patterns", threatHandler.ListPatterns)
			admin.POST("/patterns", threatHandler.AddPattern)
			admin.DELETE("/:id", threatHandler.RemoveThreat)
		}
	}

	return r
}

// LoggerMiddleware 日志中间件
func LoggerMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		logger.WithFields(logrus.Fields{
			"status":  c.Writer.Status(),
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"latency": time.Since(startTime).Milliseconds(),
		}).Info("HTTP Request")
	}
}

// CORSMiddleware CORS 中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+middleware.AdminTokenHeader)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
