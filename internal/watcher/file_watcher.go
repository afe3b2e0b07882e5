package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Submitter 接收新发现的 APK，返回任务 ID
type Submitter interface {
	Submit(filePath, filename string) (string, error)
}

// FileWatcher 入站目录监控器，新的 APK 写入完成后提交分析
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	watchDir  string
	pattern   string // 文件匹配模式 (如 "*.apk")
	submitter Submitter
	logger    *logrus.Logger

	debounce     time.Duration
	pollInterval time.Duration
	maxPolls     int

	mu         sync.Mutex
	timers     map[string]*time.Timer
	processing map[string]bool
	stopOnce   sync.Once
	stopChan   chan struct{}
}

// NewFileWatcher 创建文件监控器
func NewFileWatcher(watchDir, pattern string, submitter Submitter, logger *logrus.Logger) (*FileWatcher, error) {
	if pattern == "" {
		pattern = "*.apk"
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := os.MkdirAll(watchDir, 0755); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to create watch directory: %w", err)
	}

	if err := watcher.Add(watchDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to add watch directory: %w", err)
	}

	fw := &FileWatcher{
		watcher:      watcher,
		watchDir:     watchDir,
		pattern:      pattern,
		submitter:    submitter,
		logger:       logger,
		debounce:     2 * time.Second,
		pollInterval: 500 * time.Millisecond,
		maxPolls:     10,
		timers:       make(map[string]*time.Timer),
		processing:   make(map[string]bool),
		stopChan:     make(chan struct{}),
	}

	logger.WithFields(logrus.Fields{
		"watch_dir": watchDir,
		"pattern":   pattern,
	}).Info("File watcher created")

	return fw, nil
}

// SetTiming 调整防抖和写入完成检测的节奏
func (fw *FileWatcher) SetTiming(debounce, pollInterval time.Duration) {
	fw.debounce = debounce
	fw.pollInterval = pollInterval
}

// Start 启动文件监控
// 启动时不扫描目录中已有的文件，避免重启后重复提交
func (fw *FileWatcher) Start(ctx context.Context) {
	fw.logger.Info("Starting file watcher")
	go fw.eventLoop(ctx)
}

// eventLoop 事件循环
func (fw *FileWatcher) eventLoop(ctx context.Context) {
	defer fw.stopTimers()

	for {
		select {
		case <-ctx.Done():
			fw.logger.Info("File watcher context done")
			return
		case <-fw.stopChan:
			fw.logger.Info("File watcher stopped")
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				fw.logger.Warn("Watcher events channel closed")
				return
			}

			// 只处理创建和写入事件
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}

			fileName := filepath.Base(event.Name)
			if !fw.matchPattern(fileName) {
				continue
			}

			fw.logger.WithFields(logrus.Fields{
				"event": event.Op.String(),
				"file":  fileName,
			}).Debug("File event detected")

			fw.schedule(ctx, event.Name)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				fw.logger.Warn("Watcher errors channel closed")
				return
			}
			fw.logger.WithError(err).Error("Watcher error")
		}
	}
}

// schedule 防抖: 同一文件在短时间内多次触发只处理一次
func (fw *FileWatcher) schedule(ctx context.Context, path string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if timer, exists := fw.timers[path]; exists {
		timer.Stop()
	}
	fw.timers[path] = time.AfterFunc(fw.debounce, func() {
		fw.mu.Lock()
		delete(fw.timers, path)
		fw.mu.Unlock()
		fw.handleFile(ctx, path)
	})
}

func (fw *FileWatcher) stopTimers() {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	for path, timer := range fw.timers {
		timer.Stop()
		delete(fw.timers, path)
	}
}

// handleFile 等待写入完成后提交
func (fw *FileWatcher) handleFile(ctx context.Context, filePath string) {
	fw.mu.Lock()
	if fw.processing[filePath] {
		fw.mu.Unlock()
		fw.logger.WithField("file", filePath).Debug("File is already being processed")
		return
	}
	fw.processing[filePath] = true
	fw.mu.Unlock()

	defer func() {
		fw.mu.Lock()
		delete(fw.processing, filePath)
		fw.mu.Unlock()
	}()

	if err := fw.waitForFileReady(ctx, filePath); err != nil {
		fw.logger.WithError(err).WithField("file", filePath).Warn("File not ready")
		return
	}

	jobID, err := fw.submitter.Submit(filePath, filepath.Base(filePath))
	if err != nil {
		fw.logger.WithError(err).WithField("file", filePath).Error("Failed to submit file")
		return
	}

	fw.logger.WithFields(logrus.Fields{
		"file":   filePath,
		"job_id": jobID,
	}).Info("File submitted for analysis")
}

// waitForFileReady 文件大小在两次采样间保持不变且非空视为写入完成
func (fw *FileWatcher) waitForFileReady(ctx context.Context, filePath string) error {
	var lastSize int64 = -1
	for i := 0; i < fw.maxPolls; i++ {
		info, err := os.Stat(filePath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("file does not exist")
			}
			return err
		}
		if info.Size() > 0 && info.Size() == lastSize {
			return nil
		}
		lastSize = info.Size()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-fw.stopChan:
			return errors.New("watcher stopped")
		case <-time.After(fw.pollInterval):
		}
	}

	return fmt.Errorf("file not ready after %d attempts", fw.maxPolls)
}

// matchPattern 检查文件名是否匹配模式，扩展名不区分大小写
func (fw *FileWatcher) matchPattern(fileName string) bool {
	if fw.pattern == "*" {
		return true
	}

	if strings.HasPrefix(fw.pattern, "*.") {
		ext := strings.TrimPrefix(fw.pattern, "*")
		return strings.HasSuffix(strings.ToLower(fileName), strings.ToLower(ext))
	}

	return fileName == fw.pattern
}

// Stop 停止文件监控，可重复调用
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		fw.logger.Info("Stopping file watcher")
		close(fw.stopChan)
		err = fw.watcher.Close()
	})
	return err
}

// WatchDir 获取监控目录
func (fw *FileWatcher) WatchDir() string {
	return fw.watchDir
}
