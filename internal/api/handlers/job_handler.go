package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/apk-analysis/apk-triage-go/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Submitter 提交分析任务
type Submitter interface {
	Submit(filePath, filename string) (string, error)
}

// JobTracker 任务状态查询
type JobTracker interface {
	Get(id string) (*domain.AnalysisJob, bool)
	List() []*domain.AnalysisJob
	Subscribe(id string) (<-chan domain.AnalysisJob, func())
}

// JobHandler 上传与任务查询
type JobHandler struct {
	submitter  Submitter
	tracker    JobTracker
	logger     *logrus.Logger
	uploadDir  string
	maxUpload  int64
	upgrader   websocket.Upgrader
	pingPeriod time.Duration
}

// NewJobHandler 创建任务处理器
func NewJobHandler(submitter Submitter, tracker JobTracker, logger *logrus.Logger, uploadDir string, maxUploadMB int64) *JobHandler {
	if maxUploadMB <= 0 {
		maxUploadMB = 200
	}
	return &JobHandler{
		submitter: submitter,
		tracker:   tracker,
		logger:    logger,
		uploadDir: uploadDir,
		maxUpload: maxUploadMB << 20,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		pingPeriod: 30 * time.Second,
	}
}

// Analyze 上传 APK 并创建分析任务
// POST /api/analyze (multipart, 字段 file)
func (h *JobHandler) Analyze(c *gin.Context) {
	if c.Request.ContentLength > h.maxUpload {
		h.tooLarge(c)
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.tooLarge(c)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "缺少上传文件字段 file",
		})
		return
	}

	filename := filepath.Base(fileHeader.Filename)
	if !strings.HasSuffix(strings.ToLower(filename), ".apk") {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "只支持 .apk 文件",
		})
		return
	}

	if err := os.MkdirAll(h.uploadDir, 0755); err != nil {
		h.logger.WithError(err).Error("Failed to create upload directory")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "保存文件失败"})
		return
	}

	// 加前缀避免同名文件互相覆盖
	dst := filepath.Join(h.uploadDir, uuid.New().String()+"_"+filename)
	if err := c.SaveUploadedFile(fileHeader, dst); err != nil {
		h.logger.WithError(err).WithField("filename", filename).Error("Failed to save uploaded file")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "保存文件失败"})
		return
	}

	jobID, err := h.submitter.Submit(dst, filename)
	if err != nil {
		h.logger.WithError(err).WithField("filename", filename).Error("Failed to submit analysis job")
		_ = os.Remove(dst)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":  "任务提交失败",
			"job_id": jobID,
		})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"job_id":   jobID,
		"filename": filename,
		"size":     fileHeader.Size,
	}).Info("APK uploaded")

	c.JSON(http.StatusAccepted, gin.H{
		"job_id": jobID,
		"status": domain.JobStatusQueued,
	})
}

func (h *JobHandler) tooLarge(c *gin.Context) {
	c.JSON(http.StatusRequestEntityTooLarge, gin.H{
		"error": fmt.Sprintf("文件超过 %d MB 上限", h.maxUpload>>20),
	})
}

// GetJob 获取任务状态
// GET /api/jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	job, ok := h.tracker.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "任务不存在"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// ListJobs 获取内存中的任务列表
// GET /api/jobs?status=completed&limit=50
// 列表不带完整结果，结果通过 GetJob 或报告接口获取
func (h *JobHandler) ListJobs(c *gin.Context) {
	status := domain.JobStatus(c.Query("status"))
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	all := h.tracker.List()
	jobs := make([]*domain.AnalysisJob, 0, min(limit, len(all)))
	for _, job := range all {
		if status != "" && job.Status != status {
			continue
		}
		job.Result = nil
		jobs = append(jobs, job)
		if len(jobs) == limit {
			break
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"total": len(jobs),
		"jobs":  jobs,
	})
}

// WatchJob 通过 WebSocket 推送任务进度，任务结束后关闭连接
// GET /api/jobs/:id/ws
func (h *JobHandler) WatchJob(c *gin.Context) {
	jobID := c.Param("id")
	if _, ok := h.tracker.Get(jobID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "任务不存在"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade to WebSocket")
		return
	}
	defer conn.Close()

	updates, cancel := h.tracker.Subscribe(jobID)
	defer cancel()

	// 读协程只用于感知客户端断开
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.WithError(err).Debug("WebSocket read error")
				}
				return
			}
		}
	}()

	ping := time.NewTicker(h.pingPeriod)
	defer ping.Stop()

	h.logger.WithField("job_id", jobID).Debug("WebSocket client connected")

	for {
		select {
		case <-closed:
			h.logger.WithField("job_id", jobID).Debug("WebSocket client disconnected")
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case job, ok := <-updates:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(job); err != nil {
				h.logger.WithError(err).Warn("Failed to write to WebSocket client")
				return
			}
		}
	}
}
