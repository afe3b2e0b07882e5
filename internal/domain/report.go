package domain

import "time"

// AnalysisReport 分析报告表（终态任务落库）
type AnalysisReport struct {
	ID          uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	JobID       string `gorm:"type:varchar(36);uniqueIndex:uk_job_id;not null" json:"job_id"`
	Filename    string `gorm:"type:varchar(255)" json:"filename"`
	Status      string `gorm:"type:varchar(20);index:idx_status" json:"status"`
	PackageName string `gorm:"type:varchar(255);index:idx_package_name" json:"package_name,omitempty"`
	SHA256      string `gorm:"type:varchar(64);index:idx_sha256" json:"sha256,omitempty"`

	RiskLevel  string `gorm:"type:varchar(20);index:idx_risk_level" json:"risk_level,omitempty"`
	RiskScore  int    `gorm:"default:0" json:"risk_score"`
	Confidence int    `gorm:"default:0" json:"confidence"`
	IsSafe     bool   `json:"is_safe"`

	Error      string `gorm:"type:text" json:"error,omitempty"`
	ResultJSON string `gorm:"type:mediumtext" json:"result_json,omitempty"`

	DurationMs  int64      `json:"duration_ms"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"not null" json:"created_at"`
}

func (AnalysisReport) TableName() string {
	return "analysis_reports"
}
