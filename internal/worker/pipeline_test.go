package worker

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/apk-analysis/apk-triage-go/internal/config"
	"github.com/apk-analysis/apk-triage-go/internal/domain"
	"github.com/apk-analysis/apk-triage-go/internal/repository"
	"github.com/apk-analysis/apk-triage-go/internal/staticanalysis"
	"github.com/apk-analysis/apk-triage-go/internal/threatdb"
	"github.com/apk-analysis/apk-triage-go/internal/tracker"
	"github.com/apk-analysis/apk-triage-go/internal/unpacker"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const notesManifest = `<manifest xmlns:android="http://schemas.android.com/apk/res/android" package="com.example.notes">
  <uses-permission android:name="android.permission.INTERNET"/>
  <application><activity android:name=".MainActivity"/></application>
</manifest>`

const bankManifest = `<manifest xmlns:android="http://schemas.android.com/apk/res/android" package="com.example.bank">
  <uses-permission android:name="android.permission.INTERNET"/>
  <uses-permission android:name="android.permission.READ_SMS"/>
</manifest>`

type testEnv struct {
	pipeline *Pipeline
	tracker  *tracker.Tracker
	threats  *threatdb.Store
	scratch  string
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func newTestEnv(t *testing.T) *testEnv {
	logger := newTestLogger()
	threats, err := threatdb.Open(t.TempDir(), logger)
	require.NoError(t, err)

	scratch := filepath.Join(t.TempDir(), "scratch")
	cfg := &config.AnalysisConfig{
		TimeoutSeconds: 30,
		ScratchDir:     scratch,
		MaxScanFiles:   100,
		MaxScanFileMB:  8,
	}
	tr := tracker.New(logger)
	return &testEnv{
		pipeline: NewPipeline(cfg, threats, tr, logger),
		tracker:  tr,
		threats:  threats,
		scratch:  scratch,
	}
}

// writeAPK 生成测试 APK，带一个未压缩的填充条目保证超过最小体积
func writeAPK(t *testing.T, name string, files map[string]string) string {
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for n, content := range files {
		w, err := zw.Create(n)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "assets/padding.bin", Method: zip.Store})
	require.NoError(t, err)
	_, err = w.Write([]byte(strings.Repeat("0123456789abcdef", 128)))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return path
}

func scratchEntries(t *testing.T, dir string) []os.DirEntry {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return entries
}

// TestAnalyze_CleanApp 测试无风险信号的应用
func TestAnalyze_CleanApp(t *testing.T) {
	env := newTestEnv(t)
	apk := writeAPK(t, "notes.apk", map[string]string{
		"AndroidManifest.xml": notesManifest,
		"classes.dex":         "dex\n035 hello world",
	})

	verdict := env.pipeline.Analyze(context.Background(), apk, "job-clean")
	require.NotNil(t, verdict)
	assert.Equal(t, domain.RiskLevelSafe, verdict.RiskLevel)
	assert.LessOrEqual(t, verdict.RiskScore, 20)
	assert.True(t, verdict.IsSafe)

	job, ok := env.tracker.Get("job-clean")
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.Result)

	res := job.Result
	assert.Equal(t, "com.example.notes", res.Details.ManifestAnalysis.PackageName)
	assert.True(t, res.Details.FileAnalysis.Metadata.IsValidArchive)
	assert.Equal(t, "stream", res.Details.FileAnalysis.ExtractionStrategy)
	assert.False(t, res.Details.ThreatAnalysis.Matched)
	assert.Empty(t, res.StageErrors)
	assert.Empty(t, scratchEntries(t, env.scratch), "scratch dir removed")
}

// TestAnalyze_MissingManifest 测试缺少 Manifest 仍然完成
func TestAnalyze_MissingManifest(t *testing.T) {
	env := newTestEnv(t)
	apk := writeAPK(t, "empty.apk", map[string]string{"classes.dex": "dex\n035"})

	verdict := env.pipeline.Analyze(context.Background(), apk, "job-nomanifest")
	require.NotNil(t, verdict)

	job, _ := env.tracker.Get("job-nomanifest")
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	m := job.Result.Details.ManifestAnalysis
	assert.Equal(t, "Unknown", m.PackageName)
	assert.Empty(t, m.Permissions)
	assert.Equal(t, staticanalysis.ParseMethodMissing, m.ParseMethod)
}

// TestAnalyze_InvalidArchive 测试非 zip 输入走占位解压并完成
func TestAnalyze_InvalidArchive(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(t.TempDir(), "junk.apk")
	require.NoError(t, os.WriteFile(path, []byte("not an archive"), 0644))

	verdict := env.pipeline.Analyze(context.Background(), path, "job-junk")
	require.NotNil(t, verdict)

	job, _ := env.tracker.Get("job-junk")
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.False(t, job.Result.Details.FileAnalysis.Metadata.IsValidArchive)
	assert.Equal(t, "placeholder", job.Result.Details.FileAnalysis.ExtractionStrategy)
	assert.Contains(t, stepDescription(job, StageExtract), "Archive not extracted")
	assert.Empty(t, scratchEntries(t, env.scratch))
}

func stepDescription(job *domain.AnalysisJob, name string) string {
	for _, s := range job.Steps {
		if s.Name == name {
			return s.Description
		}
	}
	return ""
}

// TestAnalyze_StepDescriptions 测试进度步骤带出可疑权限名
func TestAnalyze_StepDescriptions(t *testing.T) {
	env := newTestEnv(t)
	apk := writeAPK(t, "bank.apk", map[string]string{"AndroidManifest.xml": bankManifest})

	require.NotNil(t, env.pipeline.Analyze(context.Background(), apk, "job-steps"))

	job, _ := env.tracker.Get("job-steps")
	assert.Contains(t, stepDescription(job, StageExtract), "(stream)")
	assert.Contains(t, stepDescription(job, StagePermissions), "READ_SMS")
	assert.NotContains(t, stepDescription(job, StagePermissions), "android.permission.")
}

// TestAnalyze_UnreadableFile 测试文件不可读时任务失败
func TestAnalyze_UnreadableFile(t *testing.T) {
	env := newTestEnv(t)

	verdict := env.pipeline.Analyze(context.Background(), filepath.Join(t.TempDir(), "missing.apk"), "job-missing")
	assert.Nil(t, verdict)

	job, _ := env.tracker.Get("job-missing")
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "validation")
}

// TestAnalyze_ThreatHashMatch 测试命中威胁库 hash 时分数不低于 90
func TestAnalyze_ThreatHashMatch(t *testing.T) {
	env := newTestEnv(t)
	apk := writeAPK(t, "notes.apk", map[string]string{"AndroidManifest.xml": notesManifest})

	meta, err := staticanalysis.ValidateFile(apk)
	require.NoError(t, err)
	require.NoError(t, env.threats.Add(&threatdb.ThreatRecord{
		Hash:        strings.ToUpper(meta.SHA256),
		Type:        "banking_trojan",
		Family:      "TestFamily",
		Confidence:  90,
		Description: "test sample",
		Severity:    threatdb.SeverityHigh,
	}))

	verdict := env.pipeline.Analyze(context.Background(), apk, "job-threat")
	require.NotNil(t, verdict)
	assert.GreaterOrEqual(t, verdict.RiskScore, 90)
	assert.False(t, verdict.IsSafe)

	job, _ := env.tracker.Get("job-threat")
	threat := job.Result.Details.ThreatAnalysis
	assert.True(t, threat.Matched)
	assert.Equal(t, "sha256", threat.MatchedBy)
	assert.Equal(t, "TestFamily", threat.Record.Family)
}

// TestAnalyze_ThreatPackageMatch 测试按包名命中种子记录
func TestAnalyze_ThreatPackageMatch(t *testing.T) {
	env := newTestEnv(t)
	manifest := strings.Replace(notesManifest, "com.example.notes", "com.flashlight.free.pro", 1)
	apk := writeAPK(t, "torch.apk", map[string]string{"AndroidManifest.xml": manifest})

	verdict := env.pipeline.Analyze(context.Background(), apk, "job-pkg")
	require.NotNil(t, verdict)
	assert.GreaterOrEqual(t, verdict.RiskScore, 90)

	job, _ := env.tracker.Get("job-pkg")
	assert.Equal(t, "package_name", job.Result.Details.ThreatAnalysis.MatchedBy)
}

// TestAnalyze_SuspiciousCode 测试权限与代码特征共同推高分数
func TestAnalyze_SuspiciousCode(t *testing.T) {
	env := newTestEnv(t)
	apk := writeAPK(t, "reader.apk", map[string]string{
		"AndroidManifest.xml": bankManifest,
		"classes.dex":         "dex\n035 DexClassLoader TYPE_APPLICATION_OVERLAY SmsManager",
	})

	verdict := env.pipeline.Analyze(context.Background(), apk, "job-code")
	require.NotNil(t, verdict)

	job, _ := env.tracker.Get("job-code")
	code := job.Result.Details.CodeAnalysis
	assert.NotEmpty(t, code.MatchedPatterns)
	assert.Equal(t, 1, code.DexFileCount)
	assert.Greater(t, verdict.RiskScore, 20)
	assert.NotEmpty(t, verdict.Breakdown.Adjustments)
}

type panicManifestParser struct{}

func (panicManifestParser) Parse(string) *staticanalysis.ManifestInfo {
	panic("corrupt string pool")
}

// TestAnalyze_StagePanicUsesDefaults 测试阶段 panic 时使用默认值继续
func TestAnalyze_StagePanicUsesDefaults(t *testing.T) {
	env := newTestEnv(t)
	env.pipeline.WithManifestParser(panicManifestParser{})
	apk := writeAPK(t, "notes.apk", map[string]string{"AndroidManifest.xml": notesManifest})

	verdict := env.pipeline.Analyze(context.Background(), apk, "job-panic")
	require.NotNil(t, verdict)

	job, _ := env.tracker.Get("job-panic")
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, "Unknown", job.Result.Details.ManifestAnalysis.PackageName)
	require.Len(t, job.Result.StageErrors, 1)
	assert.Contains(t, job.Result.StageErrors[0], "manifest stage failed")
	assert.Empty(t, scratchEntries(t, env.scratch))
}

// panicAfterExtract 解压完成后再 panic，目录已经落盘
type panicAfterExtract struct {
	*unpacker.Extractor
}

func (e panicAfterExtract) Extract(ctx context.Context, apkPath, jobID string) *unpacker.ExtractResult {
	e.Extractor.Extract(ctx, apkPath, jobID)
	panic("extractor crashed")
}

// TestAnalyze_ExtractPanicCleansScratch 测试解压阶段 panic 后临时目录仍被清理
func TestAnalyze_ExtractPanicCleansScratch(t *testing.T) {
	env := newTestEnv(t)
	env.pipeline.WithExtractor(panicAfterExtract{
		Extractor: unpacker.NewExtractor(newTestLogger(), env.scratch, unpacker.DefaultLimits()),
	})
	apk := writeAPK(t, "notes.apk", map[string]string{"AndroidManifest.xml": notesManifest})

	verdict := env.pipeline.Analyze(context.Background(), apk, "job-extract-panic")
	require.NotNil(t, verdict)

	job, _ := env.tracker.Get("job-extract-panic")
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, unpacker.StrategyPlaceholder, job.Result.Details.FileAnalysis.ExtractionStrategy)
	require.Len(t, job.Result.StageErrors, 1)
	assert.Contains(t, job.Result.StageErrors[0], "extract stage failed")
	assert.Empty(t, scratchEntries(t, env.scratch))
}

// slowScanner 阻塞直到上下文取消
type slowScanner struct {
	started chan struct{}
}

func (s *slowScanner) Scan(ctx context.Context, _ string, _ *staticanalysis.PatternRegistry) *staticanalysis.CodeAssessment {
	close(s.started)
	<-ctx.Done()
	return staticanalysis.DefaultCodeAssessment()
}

// TestAnalyze_SlowStageTimesOut 测试慢阶段超时后任务失败且临时目录被清理
func TestAnalyze_SlowStageTimesOut(t *testing.T) {
	env := newTestEnv(t)
	scanner := &slowScanner{started: make(chan struct{})}
	env.pipeline.WithCodeScanner(scanner).WithTimeout(200 * time.Millisecond)
	apk := writeAPK(t, "slow.apk", map[string]string{"AndroidManifest.xml": notesManifest})

	start := time.Now()
	verdict := env.pipeline.Analyze(context.Background(), apk, "job-slow")
	assert.Nil(t, verdict)
	assert.Less(t, time.Since(start), 5*time.Second)

	job, _ := env.tracker.Get("job-slow")
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "timed out")
	assert.Nil(t, job.Result)
	assert.Less(t, job.Progress, 100)

	require.Eventually(t, func() bool {
		return len(scratchEntries(t, env.scratch)) == 0
	}, 2*time.Second, 20*time.Millisecond, "scratch dir removed after cancellation")

	// 超时后流水线不能再改写终态
	again, _ := env.tracker.Get("job-slow")
	assert.Equal(t, domain.JobStatusFailed, again.Status)
}

// TestAnalyze_ProgressMonotonic 测试进度单调且终态只出现一次
func TestAnalyze_ProgressMonotonic(t *testing.T) {
	env := newTestEnv(t)
	apk := writeAPK(t, "bank.apk", map[string]string{"AndroidManifest.xml": bankManifest})

	env.tracker.Create("job-progress", "bank.apk")
	updates, cancel := env.tracker.Subscribe("job-progress")
	defer cancel()

	collected := make(chan []domain.AnalysisJob, 1)
	go func() {
		var all []domain.AnalysisJob
		for u := range updates {
			all = append(all, u)
		}
		collected <- all
	}()

	require.NotNil(t, env.pipeline.Analyze(context.Background(), apk, "job-progress"))

	var all []domain.AnalysisJob
	select {
	case all = <-collected:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed after terminal state")
	}

	last := 0
	terminal := 0
	for _, u := range all {
		assert.GreaterOrEqual(t, u.Progress, last)
		last = u.Progress
		if u.Status.IsTerminal() {
			terminal++
		}
	}
	assert.Equal(t, 100, last)
	assert.Equal(t, 1, terminal)

	job, _ := env.tracker.Get("job-progress")
	var names []string
	for _, s := range job.Steps {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{
		"queued", "processing", StageValidate, StageExtract, StageManifest,
		StagePermissions, StageCodeScan, StageThreat, StageAggregate, "completed",
	}, names)
}

// TestAnalyze_PersistsReport 测试终态报告落库
func TestAnalyze_PersistsReport(t *testing.T) {
	env := newTestEnv(t)
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.AnalysisReport{}))
	repo := repository.NewReportRepository(db)
	env.pipeline.WithReports(repo)

	apk := writeAPK(t, "bank.apk", map[string]string{"AndroidManifest.xml": bankManifest})
	verdict := env.pipeline.Analyze(context.Background(), apk, "job-report")
	require.NotNil(t, verdict)

	report, err := repo.FindByJobID(context.Background(), "job-report")
	require.NoError(t, err)
	assert.Equal(t, "completed", report.Status)
	assert.Equal(t, "com.example.bank", report.PackageName)
	assert.Equal(t, string(verdict.RiskLevel), report.RiskLevel)
	assert.Equal(t, verdict.RiskScore, report.RiskScore)
	assert.Contains(t, report.ResultJSON, `"risk_level"`)
	assert.NotNil(t, report.CompletedAt)

	env.pipeline.Analyze(context.Background(), filepath.Join(t.TempDir(), "gone.apk"), "job-gone")
	failed, err := repo.FindByJobID(context.Background(), "job-gone")
	require.NoError(t, err)
	assert.Equal(t, "failed", failed.Status)
	assert.NotEmpty(t, failed.Error)
	assert.Empty(t, failed.ResultJSON)
}

// TestAnalyze_CanceledContext 测试调用方取消
func TestAnalyze_CanceledContext(t *testing.T) {
	env := newTestEnv(t)
	scanner := &slowScanner{started: make(chan struct{})}
	env.pipeline.WithCodeScanner(scanner)
	apk := writeAPK(t, "slow.apk", map[string]string{"AndroidManifest.xml": notesManifest})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-scanner.started
		cancel()
	}()

	assert.Nil(t, env.pipeline.Analyze(ctx, apk, "job-cancel"))
	job, _ := env.tracker.Get("job-cancel")
	assert.Equal(t, domain.JobStatusFailed, job.Status)
}

// TestNewPipeline_ScoringFromConfig 测试配置中的评分权重进入流水线
func TestNewPipeline_ScoringFromConfig(t *testing.T) {
	env := newTestEnv(t)
	apk := writeAPK(t, "bank.apk", map[string]string{"AndroidManifest.xml": bankManifest})
	baseline := env.pipeline.Analyze(context.Background(), apk, "job-default-weights")
	require.NotNil(t, baseline)

	model := config.DefaultScoringConfig()
	model.Permissions.Base = 90
	cfg := &config.AnalysisConfig{
		TimeoutSeconds: 30,
		ScratchDir:     env.scratch,
		MaxScanFiles:   100,
		MaxScanFileMB:  8,
		Scoring:        model,
	}
	tuned := NewPipeline(cfg, env.threats, env.tracker, newTestLogger())

	verdict := tuned.Analyze(context.Background(), apk, "job-tuned-weights")
	require.NotNil(t, verdict)

	job, _ := env.tracker.Get("job-tuned-weights")
	assert.Equal(t, 100, job.Result.Details.PermissionAnalysis.RiskScore)
	assert.Equal(t, 100, verdict.Breakdown.PermissionScore)
	assert.Greater(t, verdict.RiskScore, baseline.RiskScore)
}
