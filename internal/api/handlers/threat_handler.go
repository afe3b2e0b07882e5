package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/apk-analysis/apk-triage-go/internal/threatdb"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ThreatStore 威胁库管理接口
type ThreatStore interface {
	List() []threatdb.ThreatRecord
	Search(query string) []threatdb.ThreatRecord
	Summary() *threatdb.Summary
	Add(record *threatdb.ThreatRecord) error
	Remove(id string) (bool, error)
	Patterns() []threatdb.ScanPattern
	AddPattern(pattern *threatdb.ScanPattern) error
}

// ThreatHandler 威胁库管理
type ThreatHandler struct {
	store    ThreatStore
	logger   *logrus.Logger
	onChange func(total int)
}

// NewThreatHandler 创建威胁库处理器，onChange 在记录数变化后调用，可为 nil
func NewThreatHandler(store ThreatStore, logger *logrus.Logger, onChange func(total int)) *ThreatHandler {
	if onChange == nil {
		onChange = func(int) {}
	}
	return &ThreatHandler{
		store:    store,
		logger:   logger,
		onChange: onChange,
	}
}

// ListThreats 全部记录
// GET /api/threats
func (h *ThreatHandler) ListThreats(c *gin.Context) {
	records := h.store.List()
	c.JSON(http.StatusOK, gin.H{
		"total":   len(records),
		"threats": records,
	})
}

// SearchThreats 按包名、家族、描述或标签模糊搜索
// GET /api/threats/search?q=joker
func (h *ThreatHandler) SearchThreats(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少查询参数 q"})
		return
	}
	records := h.store.Search(q)
	c.JSON(http.StatusOK, gin.H{
		"total":   len(records),
		"threats": records,
	})
}

// Summary 统计
// GET /api/threats/summary
func (h *ThreatHandler) Summary(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Summary())
}

// AddThreat 添加记录
// POST /api/threats
func (h *ThreatHandler) AddThreat(c *gin.Context) {
	var record threatdb.ThreatRecord
	if err := c.ShouldBindJSON(&record); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求体格式错误: " + err.Error()})
		return
	}

	if err := h.store.Add(&record); err != nil {
		if errors.Is(err, threatdb.ErrNoKey) || !record.Severity.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.WithError(err).Error("Failed to add threat record")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "保存威胁记录失败"})
		return
	}

	h.onChange(len(h.store.List()))
	c.JSON(http.StatusCreated, record)
}

// RemoveThreat 删除记录
// DELETE /api/threats/:id
func (h *ThreatHandler) RemoveThreat(c *gin.Context) {
	id := c.Param("id")
	removed, err := h.store.Remove(id)
	if err != nil {
		h.logger.WithError(err).WithField("id", id).Error("Failed to remove threat record")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "删除威胁记录失败"})
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "威胁记录不存在"})
		return
	}

	h.onChange(len(h.store.List()))
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// ListPatterns 代码扫描特征
// GET /api/threats/patterns
func (h *ThreatHandler) ListPatterns(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"patterns": h.store.Patterns()})
}

// AddPattern 添加扫描特征，新特征对之后提交的任务生效
// POST /api/threats/patterns
func (h *ThreatHandler) AddPattern(c *gin.Context) {
	var pattern threatdb.ScanPattern
	if err := c.ShouldBindJSON(&pattern); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求体格式错误: " + err.Error()})
		return
	}
	if err := h.store.AddPattern(&pattern); err != nil {
		if errors.Is(err, threatdb.ErrInvalidPattern) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.WithError(err).Error("Failed to add scan pattern")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "保存扫描特征失败"})
		return
	}
	c.JSON(http.StatusCreated, pattern)
}
