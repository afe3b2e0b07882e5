package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apk-analysis/apk-triage-go/internal/scoring"
	"github.com/apk-analysis/apk-triage-go/internal/staticanalysis"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

// TestLoad_Defaults 测试未配置字段使用默认值
func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, 4, cfg.Analysis.Workers)
	assert.Equal(t, 5*time.Minute, cfg.Analysis.Timeout())
	assert.Equal(t, "*.apk", cfg.Watcher.Pattern)
	assert.Equal(t, "apk_analysis", cfg.RabbitMQ.Queue)
}

// TestLoad_Overrides 测试 YAML 覆盖默认值
func TestLoad_Overrides(t *testing.T) {
	path := writeConfig(t, `
analysis:
  workers: 2
  timeout_seconds: 30
threatdb:
  data_dir: /tmp/threats
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Analysis.Workers)
	assert.Equal(t, 30*time.Second, cfg.Analysis.Timeout())
	assert.Equal(t, "/tmp/threats", cfg.ThreatDB.DataDir)

	logger := InitLogger(&cfg.Log)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	_, isJSON := logger.Formatter.(*logrus.JSONFormatter)
	assert.True(t, isJSON)
}

// TestLoad_MissingFile 测试配置文件不存在
func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

// TestAnalysisConfig_TimeoutFallback 测试非法超时回退到 5 分钟
func TestAnalysisConfig_TimeoutFallback(t *testing.T) {
	assert.Equal(t, 5*time.Minute, AnalysisConfig{}.Timeout())
}

// TestLoad_ScoringDefaults 测试未配置评分模型时使用内置默认值
func TestLoad_ScoringDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultScoringConfig(), cfg.Analysis.Scoring)
	assert.Equal(t, DefaultScoringConfig(), AnalysisConfig{}.ScoringModel())
}

// TestLoad_ScoringOverrides 测试部分覆盖评分权重，其余键保持默认
func TestLoad_ScoringOverrides(t *testing.T) {
	path := writeConfig(t, `
analysis:
  scoring:
    permissions:
      high: 30
    code:
      high_cap: 50
    thresholds:
      permission_weight: 0.6
      code_weight: 0.4
      malicious_at: 90
      permission_floors:
        high_one: 60
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	model := cfg.Analysis.ScoringModel()

	wantPerms := staticanalysis.DefaultPermissionWeights()
	wantPerms.High = 30
	assert.Equal(t, wantPerms, model.Permissions)

	wantCode := staticanalysis.DefaultCodeWeights()
	wantCode.HighCap = 50
	assert.Equal(t, wantCode, model.Code)

	wantThresholds := scoring.DefaultThresholds()
	wantThresholds.PermissionWeight = 0.6
	wantThresholds.CodeWeight = 0.4
	wantThresholds.MaliciousAt = 90
	wantThresholds.PermissionFloors.HighOne = 60
	assert.Equal(t, wantThresholds, model.Thresholds)
}

// TestLoad_ShippedConfig 测试仓库自带配置与内置默认评分模型一致
func TestLoad_ShippedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultScoringConfig(), cfg.Analysis.Scoring)
}
