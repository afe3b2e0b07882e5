package unpacker

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

var (
	errTooManyEntries = errors.New("archive exceeds entry limit")
	errEntryTooLarge  = errors.New("archive entry exceeds size limit")
	errTotalTooLarge  = errors.New("archive exceeds total size limit")
)

// Extractor 按顺序尝试多种策略解压 APK
type Extractor struct {
	logger      *logrus.Logger
	scratchBase string
	strategies  []Strategy
}

// NewExtractor 创建解压器，默认策略顺序为 stream -> in_memory -> placeholder
func NewExtractor(logger *logrus.Logger, scratchBase string, limits Limits) *Extractor {
	return &Extractor{
		logger:      logger,
		scratchBase: scratchBase,
		strategies: []Strategy{
			{Name: StrategyStream, Run: StreamStrategy(limits)},
			{Name: StrategyInMemory, Run: InMemoryStrategy(limits)},
			{Name: StrategyPlaceholder, Run: PlaceholderStrategy},
		},
	}
}

// WithStrategies 替换策略列表
func (e *Extractor) WithStrategies(strategies ...Strategy) *Extractor {
	e.strategies = strategies
	return e
}

// ScratchDir 任务对应的临时目录
func (e *Extractor) ScratchDir(jobID string) string {
	return filepath.Join(e.scratchBase, "apk-"+jobID)
}

// Extract 依次尝试各策略，第一个成功即返回
// 策略失败只记录日志，不向上返回错误
func (e *Extractor) Extract(ctx context.Context, apkPath, jobID string) *ExtractResult {
	result := &ExtractResult{
		Dir:      e.ScratchDir(jobID),
		Attempts: make(map[string]string),
	}

	for _, s := range e.strategies {
		if err := resetDir(result.Dir); err != nil {
			result.Attempts[s.Name] = err.Error()
			e.logger.WithError(err).WithField("dir", result.Dir).Warn("Failed to prepare scratch dir")
			continue
		}

		count, err := s.Run(ctx, apkPath, result.Dir)
		if err != nil {
			result.Attempts[s.Name] = err.Error()
			e.logger.WithFields(logrus.Fields{
				"job_id":   jobID,
				"strategy": s.Name,
				"error":    err.Error(),
			}).Warn("Extraction strategy failed, trying next")
			continue
		}

		result.Strategy = s.Name
		result.FileCount = count
		e.logger.WithFields(logrus.Fields{
			"job_id":     jobID,
			"strategy":   s.Name,
			"file_count": count,
		}).Debug("APK extracted")
		return result
	}

	e.logger.WithField("job_id", jobID).Error("All extraction strategies failed")
	return result
}

// Cleanup 删除临时目录
func (e *Extractor) Cleanup(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove scratch dir %s: %w", dir, err)
	}
	return nil
}

func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to clear %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return nil
}

// StreamStrategy 使用 zip.OpenReader 逐条目流式写盘
func StreamStrategy(limits Limits) StrategyFunc {
	return func(ctx context.Context, apkPath, destDir string) (n int, err error) {
		reader, err := zip.OpenReader(apkPath)
		if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
			return 0, fmt.Errorf("open zip: %w", err)
		}
		defer func() {
			err = multierr.Append(err, reader.Close())
		}()
		return extractFiles(ctx, reader.File, destDir, limits)
	}
}

// InMemoryStrategy 整体读入内存后用 zip.NewReader 解压
func InMemoryStrategy(limits Limits) StrategyFunc {
	return func(ctx context.Context, apkPath, destDir string) (int, error) {
		data, err := os.ReadFile(apkPath)
		if err != nil {
			return 0, fmt.Errorf("read archive: %w", err)
		}
		reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
			return 0, fmt.Errorf("parse zip: %w", err)
		}
		return extractFiles(ctx, reader.File, destDir, limits)
	}
}

// PlaceholderStrategy 目录已由调用方创建，直接返回空树
func PlaceholderStrategy(ctx context.Context, apkPath, destDir string) (int, error) {
	return 0, nil
}

func extractFiles(ctx context.Context, files []*zip.File, destDir string, limits Limits) (int, error) {
	if limits.MaxEntries > 0 && len(files) > limits.MaxEntries {
		return 0, fmt.Errorf("%w: %d entries", errTooManyEntries, len(files))
	}

	root := filepath.Clean(destDir) + string(os.PathSeparator)
	count := 0
	var total int64

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return count, err
		}

		target := filepath.Join(destDir, f.Name)
		// 防止 zip-slip，跳过越界条目
		if !strings.HasPrefix(target, root) {
			continue
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return count, err
			}
			continue
		}

		written, err := extractEntry(f, target, limits.MaxEntrySize)
		if err != nil {
			return count, fmt.Errorf("extract %s: %w", f.Name, err)
		}
		total += written
		if limits.MaxTotalSize > 0 && total > limits.MaxTotalSize {
			return count, errTotalTooLarge
		}
		count++
	}
	return count, nil
}

func extractEntry(f *zip.File, target string, maxSize int64) (written int64, err error) {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return 0, err
	}

	src, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer func() {
		err = multierr.Append(err, src.Close())
	}()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, err
	}
	defer func() {
		err = multierr.Append(err, dst.Close())
	}()

	if maxSize <= 0 {
		return io.Copy(dst, src)
	}
	written, err = io.CopyN(dst, src, maxSize+1)
	if err != nil && !errors.Is(err, io.EOF) {
		return written, err
	}
	if written > maxSize {
		return written, errEntryTooLarge
	}
	return written, nil
}
