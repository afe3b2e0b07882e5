package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/apk-analysis/apk-triage-go/internal/domain"
	"github.com/apk-analysis/apk-triage-go/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ReportHandler 已落库的分析报告
type ReportHandler struct {
	repo   repository.ReportRepository
	logger *logrus.Logger
}

// NewReportHandler 创建报告处理器
func NewReportHandler(repo repository.ReportRepository, logger *logrus.Logger) *ReportHandler {
	return &ReportHandler{
		repo:   repo,
		logger: logger,
	}
}

// reportResponse 报告响应，result 以 JSON 对象返回而非字符串
type reportResponse struct {
	*domain.AnalysisReport
	ResultJSON string          `json:"result_json,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}

func toReportResponse(report *domain.AnalysisReport) reportResponse {
	resp := reportResponse{AnalysisReport: report}
	if report.ResultJSON != "" && json.Valid([]byte(report.ResultJSON)) {
		resp.Result = json.RawMessage(report.ResultJSON)
	}
	return resp
}

// GetReport 按任务 ID 获取报告
// GET /api/reports/:id
func (h *ReportHandler) GetReport(c *gin.Context) {
	report, err := h.repo.FindByJobID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "报告不存在"})
			return
		}
		h.logger.WithError(err).Error("Failed to load report")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询报告失败"})
		return
	}
	c.JSON(http.StatusOK, toReportResponse(report))
}

// ListReports 报告列表
// GET /api/reports?risk_level=high&package_name=com.x&sha256=...&limit=50&offset=0
func (h *ReportHandler) ListReports(c *gin.Context) {
	if sha := c.Query("sha256"); sha != "" {
		reports, err := h.repo.FindBySHA256(c.Request.Context(), sha)
		if err != nil {
			h.logger.WithError(err).Error("Failed to query reports by sha256")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "查询报告失败"})
			return
		}
		for _, r := range reports {
			r.ResultJSON = ""
		}
		c.JSON(http.StatusOK, gin.H{"total": len(reports), "reports": reports})
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	reports, total, err := h.repo.List(c.Request.Context(), repository.ReportFilter{
		RiskLevel:   c.Query("risk_level"),
		PackageName: c.Query("package_name"),
		Limit:       limit,
		Offset:      max(offset, 0),
	})
	if err != nil {
		h.logger.WithError(err).Error("Failed to list reports")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询报告失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":   total,
		"reports": reports,
	})
}

// DeleteReport 删除报告
// DELETE /api/reports/:id
func (h *ReportHandler) DeleteReport(c *gin.Context) {
	err := h.repo.Delete(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "报告不存在"})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to delete report")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "删除报告失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("id")})
}
