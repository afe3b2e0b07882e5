package domain

import (
	"time"

	"github.com/apk-analysis/apk-triage-go/internal/packer"
	"github.com/apk-analysis/apk-triage-go/internal/staticanalysis"
	"github.com/apk-analysis/apk-triage-go/internal/threatdb"
)

// RiskLevel 风险等级（按分数升序）
type RiskLevel string

const (
	RiskLevelSafe       RiskLevel = "safe"
	RiskLevelLowRisk    RiskLevel = "low_risk"
	RiskLevelSuspicious RiskLevel = "suspicious"
	RiskLevelHighRisk   RiskLevel = "high_risk"
	RiskLevelMalicious  RiskLevel = "malicious"
)

// Adjustment 一次命名的分数调整
type Adjustment struct {
	Rule   string `json:"rule"`
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

// ScoreBreakdown 分数构成
type ScoreBreakdown struct {
	PermissionScore int          `json:"permission_score"`
	CodeScore       int          `json:"code_score"`
	BaseScore       int          `json:"base_score"`
	Adjustments     []Adjustment `json:"adjustments"`
}

// Verdict 最终风险判定
type Verdict struct {
	RiskLevel       RiskLevel      `json:"risk_level"`
	RiskScore       int            `json:"risk_score"`
	IsSafe          bool           `json:"is_safe"`
	Confidence      int            `json:"confidence"`
	Breakdown       ScoreBreakdown `json:"breakdown"`
	Recommendations []string       `json:"recommendations"`
}

// ResultSummary 结果摘要
type ResultSummary struct {
	RiskLevel  RiskLevel `json:"risk_level"`
	RiskScore  int       `json:"risk_score"`
	IsSafe     bool      `json:"is_safe"`
	Confidence int       `json:"confidence"`
}

// FileAnalysis 文件层面的分析结果
type FileAnalysis struct {
	Filename           string                       `json:"filename"`
	Metadata           *staticanalysis.FileMetadata `json:"metadata"`
	ExtractionStrategy string                       `json:"extraction_strategy"`
	ExtractedFiles     int                          `json:"extracted_files"`
	Protection         *packer.PackerInfo           `json:"protection,omitempty"`
}

// ThreatAnalysis 威胁库比对结果
type ThreatAnalysis struct {
	Matched   bool                   `json:"matched"`
	MatchedBy string                 `json:"matched_by,omitempty"` // sha256 / sha1 / package_name
	Record    *threatdb.ThreatRecord `json:"record,omitempty"`
}

// ResultDetails 各阶段详细结果
type ResultDetails struct {
	FileAnalysis       FileAnalysis                         `json:"file_analysis"`
	ManifestAnalysis   *staticanalysis.ManifestInfo         `json:"manifest_analysis"`
	PermissionAnalysis *staticanalysis.PermissionAssessment `json:"permission_analysis"`
	CodeAnalysis       *staticanalysis.CodeAssessment       `json:"code_analysis"`
	ThreatAnalysis     ThreatAnalysis                       `json:"threat_analysis"`
}

// AnalysisResult 任务完成后对外返回的结果
type AnalysisResult struct {
	ID              string         `json:"id"`
	Status          JobStatus      `json:"status"`
	Summary         ResultSummary  `json:"summary"`
	Details         ResultDetails  `json:"details"`
	Breakdown       ScoreBreakdown `json:"breakdown"`
	Recommendations []string       `json:"recommendations"`
	StageErrors     []string       `json:"stage_errors,omitempty"` // 降级阶段的错误说明
	AnalyzedAt      time.Time      `json:"analyzed_at"`
}
