package domain

import (
	"time"
)

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal 是否为终态（终态不可再变更）
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobStep 任务步骤日志
type JobStep struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// AnalysisJob 单个分析任务的内存记录
type AnalysisJob struct {
	ID        string          `json:"id"`
	Status    JobStatus       `json:"status"`
	Progress  int             `json:"progress"`
	Steps     []JobStep       `json:"steps"`
	Filename  string          `json:"filename"`
	StartTime time.Time       `json:"start_time"`
	EndTime   *time.Time      `json:"end_time,omitempty"`
	Result    *AnalysisResult `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Clone 返回任务的深拷贝
// Result 在终态后不可变，因此共享同一指针
func (j *AnalysisJob) Clone() *AnalysisJob {
	if j == nil {
		return nil
	}
	c := *j
	c.Steps = make([]JobStep, len(j.Steps))
	copy(c.Steps, j.Steps)
	if j.EndTime != nil {
		end := *j.EndTime
		c.EndTime = &end
	}
	return &c
}

// Duration 任务耗时，未结束时按当前时间计算
func (j *AnalysisJob) Duration() time.Duration {
	if j.EndTime != nil {
		return j.EndTime.Sub(j.StartTime)
	}
	return time.Since(j.StartTime)
}
