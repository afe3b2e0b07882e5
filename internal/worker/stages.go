package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/apk-analysis/apk-triage-go/internal/packer"
	"github.com/apk-analysis/apk-triage-go/internal/staticanalysis"
	"github.com/apk-analysis/apk-triage-go/internal/threatdb"
	"github.com/apk-analysis/apk-triage-go/internal/unpacker"
)

// 流水线阶段名
const (
	StageValidate    = "validate"
	StageExtract     = "extract"
	StageManifest    = "manifest"
	StagePermissions = "permissions"
	StageCodeScan    = "code_scan"
	StageProtection  = "protection"
	StageThreat      = "threat_lookup"
	StageAggregate   = "aggregate"
)

// Extractor 解压阶段
type Extractor interface {
	ScratchDir(jobID string) string
	Extract(ctx context.Context, apkPath, jobID string) *unpacker.ExtractResult
	Cleanup(dir string) error
}

// ManifestParser Manifest 解析阶段
type ManifestParser interface {
	Parse(dir string) *staticanalysis.ManifestInfo
}

// CodeScanner 代码特征扫描阶段
type CodeScanner interface {
	Scan(ctx context.Context, dir string, registry *staticanalysis.PatternRegistry) *staticanalysis.CodeAssessment
}

// ProtectionDetector 加固检测阶段
type ProtectionDetector interface {
	Detect(ctx context.Context, dir string) *packer.PackerInfo
}

// ThreatLookup 威胁库只读视图
type ThreatLookup interface {
	Lookup(hash, packageName string) *threatdb.ThreatRecord
	Patterns() []threatdb.ScanPattern
}

// Metrics 流水线与 Worker 池上报的指标
type Metrics interface {
	RecordJobQueued()
	RecordJobStarted()
	RecordJobFinished(status string, duration time.Duration)
	RecordVerdict(riskLevel string)
	RecordStageFailure(stage string)
	RecordExtraction(strategy string)
	RecordThreatMatch(matchedBy string)
	UpdateWorkerPoolStats(size, queueSize int)
}

type noopMetrics struct{}

func (noopMetrics) RecordJobQueued() {}
func (noopMetrics) RecordJobStarted() {}
func (noopMetrics) RecordJobFinished(string, time.Duration) {}
func (noopMetrics) RecordVerdict(string) {}
func (noopMetrics) RecordStageFailure(string) {}
func (noopMetrics) RecordExtraction(string) {}
func (noopMetrics) RecordThreatMatch(string) {}
func (noopMetrics) UpdateWorkerPoolStats(int, int) {}

// StageError 阶段内的 panic 或错误
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// runStage 执行 fn 并把 panic 转为 StageError
func runStage(stage string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &StageError{Stage: stage, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if e := fn(); e != nil {
		return &StageError{Stage: stage, Err: e}
	}
	return nil
}
