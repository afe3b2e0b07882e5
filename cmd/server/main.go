package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apk-analysis/apk-triage-go/internal/api"
	"github.com/apk-analysis/apk-triage-go/internal/api/handlers"
	"github.com/apk-analysis/apk-triage-go/internal/config"
	"github.com/apk-analysis/apk-triage-go/internal/middleware"
	"github.com/apk-analysis/apk-triage-go/internal/queue"
	"github.com/apk-analysis/apk-triage-go/internal/repository"
	"github.com/apk-analysis/apk-triage-go/internal/threatdb"
	"github.com/apk-analysis/apk-triage-go/internal/tracker"
	"github.com/apk-analysis/apk-triage-go/internal/watcher"
	"github.com/apk-analysis/apk-triage-go/internal/worker"
	"github.com/sirupsen/logrus"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	fmt.Printf("APK Triage Service\n")
	fmt.Printf("Version: %s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n\n", GitCommit)

	// 1. 加载配置
	configPath := "./configs/config.yaml"
	if len(os.Args) > 2 && os.Args[1] == "--config" {
		configPath = os.Args[2]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. 初始化日志
	logger := config.InitLogger(&cfg.Log)
	logger.Infof("Starting APK triage service %s", Version)
	logger.Infof("Config loaded from: %s", configPath)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 3. 初始化数据库（报告落库）
	db, err := repository.InitDB(&cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to init database: %v", err)
	}
	reports := repository.NewReportRepository(db)

	// 4. 威胁库
	threats, err := threatdb.Open(cfg.ThreatDB.DataDir, logger)
	if err != nil {
		logger.Fatalf("Failed to open threat database: %v", err)
	}

	// 5. Prometheus 指标
	promMetrics := middleware.NewPrometheusMetrics(logger, "apk_triage")
	promMetrics.UpdateThreatRecords(len(threats.List()))

	// 6. 任务跟踪器，定期清理过期的终态任务
	jobs := tracker.New(logger)
	retention := time.Duration(cfg.Analysis.RetentionHours) * time.Hour
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	go jobs.RunRetention(ctx, 10*time.Minute, retention)

	// 7. 分析流水线与 Worker 池
	pipeline := worker.NewPipeline(&cfg.Analysis, threats, jobs, logger).
		WithReports(reports).
		WithMetrics(promMetrics)

	workerPool := worker.NewPool(cfg.Analysis.Workers, cfg.Analysis.QueueSize, pipeline, logger)
	workerPool.Start(ctx)
	logger.Infof("Worker pool started with %d workers", cfg.Analysis.Workers)

	// 8. 任务入口：启用 RabbitMQ 时经队列投递，否则直接进入本地 Worker 池
	var submitter handlers.Submitter = workerPool
	var consumer *queue.Consumer
	var mq *queue.RabbitMQ
	if cfg.RabbitMQ.Enabled {
		mq, err = queue.NewRabbitMQ(&cfg.RabbitMQ, cfg.Analysis.Workers, logger)
		if err != nil {
			logger.Fatalf("Failed to init RabbitMQ: %v", err)
		}
		logger.WithField("queue", cfg.RabbitMQ.Queue).Info("RabbitMQ connected successfully")

		submitter = queue.NewProducer(mq, jobs, logger)

		consumer = queue.NewConsumer(mq, workerPool, logger)
		if err := consumer.Start(ctx); err != nil {
			logger.Fatalf("Failed to start consumer: %v", err)
		}
	}

	// 9. 入站目录监控
	var fileWatcher *watcher.FileWatcher
	if cfg.Watcher.Enabled {
		fileWatcher, err = watcher.NewFileWatcher(cfg.Watcher.Dir, cfg.Watcher.Pattern, submitter, logger)
		if err != nil {
			logger.Fatalf("Failed to create file watcher: %v", err)
		}
		fileWatcher.Start(ctx)
		logger.Infof("File watcher started for directory: %s", cfg.Watcher.Dir)
	}

	go reportPoolStats(ctx, workerPool, mq, promMetrics, cfg.Analysis.Workers, logger)

	// 10. HTTP Server
	router := api.SetupRouter(cfg, logger, api.Dependencies{
		Submitter: submitter,
		Tracker:   jobs,
		Reports:   reports,
		Threats:   threats,
		Metrics:   promMetrics,
	})
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Minute, // 大文件上传
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Infof("HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server error: %v", err)
		}
	}()

	// 11. 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("HTTP server shutdown error: %v", err)
	}
	if fileWatcher != nil {
		_ = fileWatcher.Stop()
	}
	if consumer != nil {
		consumer.Stop()
	}

	// 取消运行中的任务，未开始的任务不再执行
	stop()
	workerPool.Stop()

	if mq != nil {
		if err := mq.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close RabbitMQ")
		}
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}

	logger.Info("Server stopped")
}

// reportPoolStats 定期刷新 Worker 池与消息队列积压指标
func reportPoolStats(ctx context.Context, pool *worker.Pool, mq *queue.RabbitMQ, metrics *middleware.PrometheusMetrics, workers int, logger *logrus.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.UpdateWorkerPoolStats(workers, pool.QueueSize())
			if mq == nil || !mq.IsConnected() {
				continue
			}
			depth, err := mq.QueueDepth()
			if err != nil {
				logger.WithError(err).Debug("Failed to inspect queue depth")
				continue
			}
			logger.WithField("pending", depth).Debug("RabbitMQ queue depth")
		}
	}
}
