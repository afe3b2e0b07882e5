package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// PrometheusMetrics Prometheus 指标收集器
type PrometheusMetrics struct {
	logger   *logrus.Logger
	registry *prometheus.Registry

	// HTTP 请求指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 任务指标
	jobsTotal      *prometheus.CounterVec
	jobsInProgress prometheus.Gauge
	jobDuration    *prometheus.HistogramVec

	// 分析结果指标
	verdictsTotal      *prometheus.CounterVec
	stageFailuresTotal *prometheus.CounterVec
	extractionsTotal   *prometheus.CounterVec
	threatMatchesTotal *prometheus.CounterVec

	// Worker Pool 指标
	workerPoolSize      prometheus.Gauge
	workerPoolQueueSize prometheus.Gauge

	threatRecords prometheus.Gauge
}

// NewPrometheusMetrics 创建 Prometheus 指标收集器，指标注册在独立的 registry 上
func NewPrometheusMetrics(logger *logrus.Logger, namespace string) *PrometheusMetrics {
	if namespace == "" {
		namespace = "apk_triage"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	pm := &PrometheusMetrics{
		logger:   logger,
		registry: reg,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latencies in seconds",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"method", "path"},
		),

		jobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_total",
				Help:      "Total number of analysis jobs by status",
			},
			[]string{"status"}, // queued, completed, failed
		),
		jobsInProgress: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "jobs_in_progress",
				Help:      "Number of jobs currently being analyzed",
			},
		),
		jobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Analysis job duration in seconds",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),

		verdictsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "verdicts_total",
				Help:      "Verdicts produced by risk level",
			},
			[]string{"risk_level"},
		),
		stageFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_failures_total",
				Help:      "Pipeline stages that fell back to defaults",
			},
			[]string{"stage"},
		),
		extractionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extractions_total",
				Help:      "Archive extractions by winning strategy",
			},
			[]string{"strategy"},
		),
		threatMatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "threat_matches_total",
				Help:      "Threat database matches by key",
			},
			[]string{"matched_by"},
		),

		workerPoolSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_pool_size",
				Help:      "Number of analysis workers",
			},
		),
		workerPoolQueueSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_pool_queue_size",
				Help:      "Jobs waiting for a worker",
			},
		),
		threatRecords: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "threatdb_records",
				Help:      "Records in the threat database",
			},
		),
	}

	logger.WithField("namespace", namespace).Info("Prometheus metrics initialized")
	return pm
}

// HTTPMiddleware 记录请求数与耗时
func (pm *PrometheusMetrics) HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// 使用路由模板避免高基数
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())

		pm.httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		pm.httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler /metrics 处理器
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{Registry: pm.registry})
}

// Registry 返回底层 registry
func (pm *PrometheusMetrics) Registry() *prometheus.Registry {
	return pm.registry
}

// RecordJobQueued 任务入队
func (pm *PrometheusMetrics) RecordJobQueued() {
	pm.jobsTotal.WithLabelValues("queued").Inc()
}

// RecordJobStarted 任务开始
func (pm *PrometheusMetrics) RecordJobStarted() {
	pm.jobsInProgress.Inc()
}

// RecordJobFinished 任务结束，status 为 completed 或 failed
func (pm *PrometheusMetrics) RecordJobFinished(status string, duration time.Duration) {
	pm.jobsTotal.WithLabelValues(status).Inc()
	pm.jobsInProgress.Dec()
	pm.jobDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordVerdict 记录判定等级
func (pm *PrometheusMetrics) RecordVerdict(riskLevel string) {
	pm.verdictsTotal.WithLabelValues(riskLevel).Inc()
}

// RecordStageFailure 记录降级阶段
func (pm *PrometheusMetrics) RecordStageFailure(stage string) {
	pm.stageFailuresTotal.WithLabelValues(stage).Inc()
}

// RecordExtraction 记录解压策略
func (pm *PrometheusMetrics) RecordExtraction(strategy string) {
	pm.extractionsTotal.WithLabelValues(strategy).Inc()
}

// RecordThreatMatch 记录威胁库命中
func (pm *PrometheusMetrics) RecordThreatMatch(matchedBy string) {
	pm.threatMatchesTotal.WithLabelValues(matchedBy).Inc()
}

// UpdateWorkerPoolStats 更新 Worker Pool 统计
func (pm *PrometheusMetrics) UpdateWorkerPoolStats(size, queueSize int) {
	pm.workerPoolSize.Set(float64(size))
	pm.workerPoolQueueSize.Set(float64(queueSize))
}

// UpdateThreatRecords 更新威胁库记录数
func (pm *PrometheusMetrics) UpdateThreatRecords(count int) {
	pm.threatRecords.Set(float64(count))
}
