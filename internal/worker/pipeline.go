package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/apk-analysis/apk-triage-go/internal/config"
	"github.com/apk-analysis/apk-triage-go/internal/domain"
	"github.com/apk-analysis/apk-triage-go/internal/packer"
	"github.com/apk-analysis/apk-triage-go/internal/repository"
	"github.com/apk-analysis/apk-triage-go/internal/retry"
	"github.com/apk-analysis/apk-triage-go/internal/scoring"
	"github.com/apk-analysis/apk-triage-go/internal/staticanalysis"
	"github.com/apk-analysis/apk-triage-go/internal/tracker"
	"github.com/apk-analysis/apk-triage-go/internal/unpacker"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// 各阶段完成时的进度
const (
	progressValidated = 5
	progressExtracted = 20
	progressManifest  = 40
	progressPerms     = 60
	progressCode      = 80
	progressThreat    = 90
	progressAggregate = 95
)

// DefaultTimeout 单个任务的超时时间
const DefaultTimeout = 5 * time.Minute

// errTimeout 超时由看门狗写入任务错误
var errTimeout = errors.New("analysis timed out")

// Pipeline 单个 APK 的分析流水线
// 超时由看门狗判定：任务标记为 failed，阶段上下文被取消，阶段之后的结果全部丢弃
type Pipeline struct {
	logger   *logrus.Logger
	tracker  *tracker.Tracker
	threats  ThreatLookup
	validate func(path string) (*staticanalysis.FileMetadata, error)

	extractor  Extractor
	manifest   ManifestParser
	perms      staticanalysis.PermissionWeights
	scanner    CodeScanner
	protection ProtectionDetector
	aggregator *scoring.Aggregator

	reports repository.ReportRepository
	metrics Metrics
	timeout time.Duration
	now     func() time.Time
}

// NewPipeline 按配置装配默认阶段
func NewPipeline(cfg *config.AnalysisConfig, threats ThreatLookup, tr *tracker.Tracker, logger *logrus.Logger) *Pipeline {
	model := cfg.ScoringModel()
	return &Pipeline{
		logger:     logger,
		tracker:    tr,
		threats:    threats,
		validate:   staticanalysis.ValidateFile,
		extractor:  unpacker.NewExtractor(logger, cfg.ScratchDir, unpacker.DefaultLimits()),
		manifest:   staticanalysis.NewManifestParser(logger),
		perms:      model.Permissions,
		scanner:    staticanalysis.NewCodeScanner(logger, cfg.MaxScanFiles, cfg.MaxScanFileMB*1024*1024).WithWeights(model.Code),
		protection: packer.NewDetector(logger),
		aggregator: scoring.NewAggregator(logger, model.Thresholds),
		metrics:    noopMetrics{},
		timeout:    cfg.Timeout(),
		now:        time.Now,
	}
}

// WithReports 启用报告落库
func (p *Pipeline) WithReports(reports repository.ReportRepository) *Pipeline {
	p.reports = reports
	return p
}

// WithMetrics 设置指标上报
func (p *Pipeline) WithMetrics(m Metrics) *Pipeline {
	if m != nil {
		p.metrics = m
	}
	return p
}

// WithTimeout 设置任务超时
func (p *Pipeline) WithTimeout(d time.Duration) *Pipeline {
	if d > 0 {
		p.timeout = d
	}
	return p
}

// WithExtractor 替换解压阶段
func (p *Pipeline) WithExtractor(e Extractor) *Pipeline {
	p.extractor = e
	return p
}

// WithManifestParser 替换 Manifest 解析阶段
func (p *Pipeline) WithManifestParser(m ManifestParser) *Pipeline {
	p.manifest = m
	return p
}

// WithCodeScanner 替换代码扫描阶段
func (p *Pipeline) WithCodeScanner(s CodeScanner) *Pipeline {
	p.scanner = s
	return p
}

// WithPermissionWeights 替换权限评分权重
func (p *Pipeline) WithPermissionWeights(w staticanalysis.PermissionWeights) *Pipeline {
	p.perms = w
	return p
}

// WithAggregator 替换聚合器
func (p *Pipeline) WithAggregator(a *scoring.Aggregator) *Pipeline {
	p.aggregator = a
	return p
}

// Tracker 返回任务追踪器
func (p *Pipeline) Tracker() *tracker.Tracker {
	return p.tracker
}

// outcome 流水线主体的执行结果
type outcome struct {
	result *domain.AnalysisResult
	err    error
}

// Analyze 分析一个 APK，任务总会进入终态
// 失败或超时返回 nil，原因记录在任务的 error 字段
func (p *Pipeline) Analyze(ctx context.Context, filePath, jobID string) *domain.Verdict {
	if _, ok := p.tracker.Get(jobID); !ok {
		p.tracker.Create(jobID, filepath.Base(filePath))
	}
	p.tracker.Start(jobID)
	p.metrics.RecordJobStarted()

	log := p.logger.WithFields(logrus.Fields{
		"job_id": jobID,
		"file":   filePath,
	})
	log.Info("Starting analysis")

	stageCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		result, err := p.run(stageCtx, filePath, jobID)
		done <- outcome{result: result, err: err}
	}()

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	var verdict *domain.Verdict
	select {
	case out := <-done:
		if out.err != nil {
			log.WithError(out.err).Error("Analysis failed")
			p.tracker.Fail(jobID, out.err.Error())
			break
		}
		if p.tracker.Complete(jobID, out.result) {
			verdict = verdictOf(out.result)
			p.metrics.RecordVerdict(string(verdict.RiskLevel))
			log.WithFields(logrus.Fields{
				"risk_level": verdict.RiskLevel,
				"risk_score": verdict.RiskScore,
			}).Info("Analysis completed")
		}

	case <-timer.C:
		msg := fmt.Sprintf("%s after %s", errTimeout, p.timeout)
		p.tracker.Fail(jobID, msg)
		log.WithField("timeout", p.timeout).Warn("Analysis timed out, discarding in-flight stages")

	case <-ctx.Done():
		p.tracker.Fail(jobID, fmt.Sprintf("analysis canceled: %v", ctx.Err()))
		log.Warn("Analysis canceled")
	}

	p.finish(ctx, jobID)
	return verdict
}

// finish 上报指标并落库
func (p *Pipeline) finish(ctx context.Context, jobID string) {
	job, ok := p.tracker.Get(jobID)
	if !ok {
		return
	}
	p.metrics.RecordJobFinished(string(job.Status), job.Duration())

	if p.reports == nil {
		return
	}
	report, err := reportFromJob(job)
	if err != nil {
		p.logger.WithError(err).WithField("job_id", jobID).Error("Failed to build report")
		return
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	err = retry.Do(saveCtx, p.logger, "save report", retry.ReportPolicy(), func(ctx context.Context) error {
		return p.reports.Save(ctx, report)
	})
	if err != nil {
		p.logger.WithError(err).WithField("job_id", jobID).Error("Failed to persist report")
	}
}

// run 流水线主体，scratch 目录在任何路径下都会被清理
func (p *Pipeline) run(ctx context.Context, filePath, jobID string) (result *domain.AnalysisResult, err error) {
	var notes []string
	stageFailed := func(stage string, e error) {
		notes = append(notes, e.Error())
		p.metrics.RecordStageFailure(stage)
		p.logger.WithError(e).WithFields(logrus.Fields{
			"job_id": jobID,
			"stage":  stage,
		}).Warn("Stage failed, using defaults")
	}

	// 1. 文件校验，文件不可读是唯一的硬错误
	var meta *staticanalysis.FileMetadata
	err = runStage(StageValidate, func() error {
		var e error
		meta, e = p.validate(filePath)
		return e
	})
	if err != nil {
		if errors.Is(err, staticanalysis.ErrValidation) {
			return nil, err
		}
		stageFailed(StageValidate, err)
		meta = staticanalysis.DefaultFileMetadata()
	}
	p.tracker.Advance(jobID, progressValidated, StageValidate, validateStep(meta))

	// 2. 解压，清理先于解压登记，解压阶段 panic 也不会遗留目录
	scratch := p.extractor.ScratchDir(jobID)
	defer func() {
		if e := p.extractor.Cleanup(scratch); e != nil {
			p.logger.WithError(e).WithField("dir", scratch).Warn("Failed to remove scratch dir")
		}
	}()

	var extracted *unpacker.ExtractResult
	if e := runStage(StageExtract, func() error {
		extracted = p.extractor.Extract(ctx, filePath, jobID)
		return nil
	}); e != nil {
		stageFailed(StageExtract, e)
	}
	if extracted == nil {
		extracted = &unpacker.ExtractResult{Dir: scratch, Strategy: unpacker.StrategyPlaceholder}
	} else if extracted.Dir != "" && extracted.Dir != scratch {
		dir := extracted.Dir
		defer func() {
			if e := p.extractor.Cleanup(dir); e != nil {
				p.logger.WithError(e).WithField("dir", dir).Warn("Failed to remove scratch dir")
			}
		}()
	}
	p.metrics.RecordExtraction(extracted.Strategy)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	step := fmt.Sprintf("Extracted %d files (%s)", extracted.FileCount, extracted.Strategy)
	if extracted.Degraded() {
		step = fmt.Sprintf("Archive not extracted, continuing with empty tree (%s)", extracted.Strategy)
	}
	p.tracker.Advance(jobID, progressExtracted, StageExtract, step)

	// 3. Manifest
	var manifest *staticanalysis.ManifestInfo
	if e := runStage(StageManifest, func() error {
		manifest = p.manifest.Parse(extracted.Dir)
		return nil
	}); e != nil || manifest == nil {
		if e == nil {
			e = &StageError{Stage: StageManifest, Err: errors.New("no manifest info")}
		}
		stageFailed(StageManifest, e)
		manifest = staticanalysis.DefaultManifestInfo()
	}
	p.tracker.Advance(jobID, progressManifest, StageManifest,
		fmt.Sprintf("Package %s, %d permissions (%s)", manifest.PackageName, len(manifest.Permissions), manifest.ParseMethod))

	// 4. 权限评分、代码扫描、加固检测并行
	registry := staticanalysis.NewPatternRegistry(p.threats.Patterns())
	p.logger.WithFields(logrus.Fields{
		"job_id":   jobID,
		"patterns": registry.Len(),
	}).Debug("Pattern registry ready")
	var (
		perms      *staticanalysis.PermissionAssessment
		code       *staticanalysis.CodeAssessment
		protection *packer.PackerInfo
		permErr    error
		codeErr    error
		protErr    error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		permErr = runStage(StagePermissions, func() error {
			perms = p.perms.Score(manifest.Permissions)
			return nil
		})
		return nil
	})
	g.Go(func() error {
		codeErr = runStage(StageCodeScan, func() error {
			code = p.scanner.Scan(gctx, extracted.Dir, registry)
			return nil
		})
		return gctx.Err()
	})
	g.Go(func() error {
		protErr = runStage(StageProtection, func() error {
			protection = p.protection.Detect(gctx, extracted.Dir)
			return nil
		})
		return nil
	})
	if e := g.Wait(); e != nil {
		return nil, e
	}

	if permErr != nil || perms == nil {
		if permErr == nil {
			permErr = &StageError{Stage: StagePermissions, Err: errors.New("no assessment")}
		}
		stageFailed(StagePermissions, permErr)
		perms = staticanalysis.ScorePermissions(nil)
	}
	p.tracker.Advance(jobID, progressPerms, StagePermissions, permissionStep(perms))

	if codeErr != nil || code == nil {
		if codeErr == nil {
			codeErr = &StageError{Stage: StageCodeScan, Err: errors.New("no assessment")}
		}
		stageFailed(StageCodeScan, codeErr)
		code = staticanalysis.DefaultCodeAssessment()
	}
	if protErr != nil {
		stageFailed(StageProtection, protErr)
		protection = nil
	}
	p.tracker.Advance(jobID, progressCode, StageCodeScan,
		fmt.Sprintf("%d patterns matched in %d files, score %d", len(code.MatchedPatterns), code.FilesScanned, code.RiskScore))

	// 5. 威胁库
	var threat domain.ThreatAnalysis
	if e := runStage(StageThreat, func() error {
		threat = p.lookupThreat(meta, manifest)
		return nil
	}); e != nil {
		stageFailed(StageThreat, e)
		threat = domain.ThreatAnalysis{}
	}
	if threat.Matched {
		p.metrics.RecordThreatMatch(threat.MatchedBy)
	}
	p.tracker.Advance(jobID, progressThreat, StageThreat, threatStep(threat))

	// 6. 聚合，失败则任务失败
	var verdict *domain.Verdict
	if e := runStage(StageAggregate, func() error {
		verdict = p.aggregator.Aggregate(scoring.Input{
			Filename:    filepath.Base(filePath),
			File:        meta,
			Manifest:    manifest,
			Permissions: perms,
			Code:        code,
			Threat:      threat.Record,
		})
		if verdict == nil {
			return errors.New("aggregator returned no verdict")
		}
		return nil
	}); e != nil {
		return nil, e
	}
	p.tracker.Advance(jobID, progressAggregate, StageAggregate,
		fmt.Sprintf("Risk %s (%d)", verdict.RiskLevel, verdict.RiskScore))

	filename := filepath.Base(filePath)
	if job, ok := p.tracker.Get(jobID); ok && job.Filename != "" {
		filename = job.Filename
	}

	return &domain.AnalysisResult{
		ID:     jobID,
		Status: domain.JobStatusCompleted,
		Summary: domain.ResultSummary{
			RiskLevel:  verdict.RiskLevel,
			RiskScore:  verdict.RiskScore,
			IsSafe:     verdict.IsSafe,
			Confidence: verdict.Confidence,
		},
		Details: domain.ResultDetails{
			FileAnalysis: domain.FileAnalysis{
				Filename:           filename,
				Metadata:           meta,
				ExtractionStrategy: extracted.Strategy,
				ExtractedFiles:     extracted.FileCount,
				Protection:         protection,
			},
			ManifestAnalysis:   manifest,
			PermissionAnalysis: perms,
			CodeAnalysis:       code,
			ThreatAnalysis:     threat,
		},
		Breakdown:       verdict.Breakdown,
		Recommendations: verdict.Recommendations,
		StageErrors:     notes,
		AnalyzedAt:      p.now(),
	}, nil
}

// lookupThreat 先按 sha256 与包名，再按 sha1
func (p *Pipeline) lookupThreat(meta *staticanalysis.FileMetadata, manifest *staticanalysis.ManifestInfo) domain.ThreatAnalysis {
	pkg := manifest.PackageName
	if pkg == staticanalysis.DefaultManifestInfo().PackageName {
		pkg = ""
	}

	if rec := p.threats.Lookup(meta.SHA256, pkg); rec != nil {
		by := "package_name"
		if meta.SHA256 != "" && strings.EqualFold(rec.Hash, meta.SHA256) {
			by = "sha256"
		}
		return domain.ThreatAnalysis{Matched: true, MatchedBy: by, Record: rec}
	}
	if meta.SHA1 != "" {
		if rec := p.threats.Lookup(meta.SHA1, ""); rec != nil {
			return domain.ThreatAnalysis{Matched: true, MatchedBy: "sha1", Record: rec}
		}
	}
	return domain.ThreatAnalysis{}
}

func validateStep(meta *staticanalysis.FileMetadata) string {
	if !meta.IsValidArchive {
		return fmt.Sprintf("File is not a valid archive (%d bytes)", meta.SizeBytes)
	}
	return fmt.Sprintf("Valid archive, %d bytes", meta.SizeBytes)
}

func permissionStep(perms *staticanalysis.PermissionAssessment) string {
	names := perms.SuspiciousNames()
	if len(names) == 0 {
		return fmt.Sprintf("No suspicious permissions, score %d", perms.RiskScore)
	}
	short := make([]string, len(names))
	for i, n := range names {
		short[i] = strings.TrimPrefix(n, "android.permission.")
	}
	return fmt.Sprintf("%d suspicious permissions (%s), score %d", len(names), strings.Join(short, ", "), perms.RiskScore)
}

func threatStep(t domain.ThreatAnalysis) string {
	if !t.Matched {
		return "No threat database match"
	}
	return fmt.Sprintf("Matched %s by %s", t.Record.ID, t.MatchedBy)
}

func verdictOf(r *domain.AnalysisResult) *domain.Verdict {
	return &domain.Verdict{
		RiskLevel:       r.Summary.RiskLevel,
		RiskScore:       r.Summary.RiskScore,
		IsSafe:          r.Summary.IsSafe,
		Confidence:      r.Summary.Confidence,
		Breakdown:       r.Breakdown,
		Recommendations: r.Recommendations,
	}
}

// reportFromJob 终态任务转为落库记录
func reportFromJob(job *domain.AnalysisJob) (*domain.AnalysisReport, error) {
	report := &domain.AnalysisReport{
		JobID:       job.ID,
		Filename:    job.Filename,
		Status:      string(job.Status),
		Error:       job.Error,
		DurationMs:  job.Duration().Milliseconds(),
		CompletedAt: job.EndTime,
		CreatedAt:   job.StartTime,
	}

	if r := job.Result; r != nil {
		data, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
		report.ResultJSON = string(data)
		report.RiskLevel = string(r.Summary.RiskLevel)
		report.RiskScore = r.Summary.RiskScore
		report.Confidence = r.Summary.Confidence
		report.IsSafe = r.Summary.IsSafe
		if m := r.Details.ManifestAnalysis; m != nil {
			report.PackageName = m.PackageName
		}
		if f := r.Details.FileAnalysis.Metadata; f != nil {
			report.SHA256 = f.SHA256
		}
	}
	return report, nil
}
