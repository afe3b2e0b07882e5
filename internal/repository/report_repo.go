package repository

import (
	"context"
	"errors"

	"github.com/apk-analysis/apk-triage-go/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound 报告不存在
var ErrNotFound = errors.New("report not found")

// ReportFilter 报告列表过滤条件
type ReportFilter struct {
	RiskLevel   string
	PackageName string
	Limit       int
	Offset      int
}

// ReportRepository 分析报告 Repository
type ReportRepository interface {
	Save(ctx context.Context, report *domain.AnalysisReport) error
	FindByJobID(ctx context.Context, jobID string) (*domain.AnalysisReport, error)
	FindBySHA256(ctx context.Context, sha256 string) ([]*domain.AnalysisReport, error)
	List(ctx context.Context, filter ReportFilter) ([]*domain.AnalysisReport, int64, error)
	Delete(ctx context.Context, jobID string) error
}

type reportRepo struct {
	db *gorm.DB
}

// NewReportRepository 创建分析报告 Repository
func NewReportRepository(db *gorm.DB) ReportRepository {
	return &reportRepo{db: db}
}

// Save 按 job_id 插入或覆盖报告
func (r *reportRepo) Save(ctx context.Context, report *domain.AnalysisReport) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "job_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"filename", "status", "package_name", "sha256",
				"risk_level", "risk_score", "confidence", "is_safe",
				"error", "result_json", "duration_ms", "completed_at",
			}),
		}).
		Create(report).Error
}

// FindByJobID 根据任务 ID 查询报告
func (r *reportRepo) FindByJobID(ctx context.Context, jobID string) (*domain.AnalysisReport, error) {
	var report domain.AnalysisReport
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&report).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// FindBySHA256 查询同一文件的历史报告，最新在前
func (r *reportRepo) FindBySHA256(ctx context.Context, sha256 string) ([]*domain.AnalysisReport, error) {
	var reports []*domain.AnalysisReport
	err := r.db.WithContext(ctx).
		Where("sha256 = ?", sha256).
		Order("created_at DESC").
		Find(&reports).Error
	return reports, err
}

// List 分页查询报告
func (r *reportRepo) List(ctx context.Context, filter ReportFilter) ([]*domain.AnalysisReport, int64, error) {
	query := r.db.WithContext(ctx).Model(&domain.AnalysisReport{})
	if filter.RiskLevel != "" {
		query = query.Where("risk_level = ?", filter.RiskLevel)
	}
	if filter.PackageName != "" {
		query = query.Where("package_name = ?", filter.PackageName)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var reports []*domain.AnalysisReport
	err := query.
		Omit("result_json").
		Order("created_at DESC").
		Limit(limit).
		Offset(filter.Offset).
		Find(&reports).Error
	if err != nil {
		return nil, 0, err
	}
	return reports, total, nil
}

// Delete 删除报告
func (r *reportRepo) Delete(ctx context.Context, jobID string) error {
	res := r.db.WithContext(ctx).Where("job_id = ?", jobID).Delete(&domain.AnalysisReport{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
