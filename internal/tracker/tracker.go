package tracker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/apk-analysis/apk-triage-go/internal/domain"
	"github.com/sirupsen/logrus"
)

// subscriberBuffer 每个订阅通道的缓冲
const subscriberBuffer = 16

// Tracker 任务状态机，持有全部任务的内存记录
// 状态: queued -> processing -> completed / failed，终态只写一次
type Tracker struct {
	mu     sync.RWMutex
	jobs   map[string]*domain.AnalysisJob
	subs   map[string]map[int]chan domain.AnalysisJob
	nextID int
	logger *logrus.Logger
	now    func() time.Time
}

// New 创建任务追踪器
func New(logger *logrus.Logger) *Tracker {
	return &Tracker{
		jobs:   make(map[string]*domain.AnalysisJob),
		subs:   make(map[string]map[int]chan domain.AnalysisJob),
		logger: logger,
		now:    time.Now,
	}
}

// Create 创建 queued 状态的任务，id 已存在时返回现有任务
func (t *Tracker) Create(id, filename string) *domain.AnalysisJob {
	t.mu.Lock()
	defer t.mu.Unlock()

	if job, ok := t.jobs[id]; ok {
		return job.Clone()
	}

	now := t.now()
	job := &domain.AnalysisJob{
		ID:        id,
		Status:    domain.JobStatusQueued,
		Filename:  filename,
		StartTime: now,
		Steps: []domain.JobStep{{
			Name:        "queued",
			Description: "Analysis job accepted",
			Timestamp:   now,
		}},
	}
	t.jobs[id] = job
	return job.Clone()
}

// Register 登记 queued 任务，供消息生产端在发布前调用
func (t *Tracker) Register(id, filename string) {
	t.Create(id, filename)
}

// Start queued -> processing
func (t *Tracker) Start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[id]
	if !ok || job.Status != domain.JobStatusQueued {
		return false
	}
	job.Status = domain.JobStatusProcessing
	t.appendStep(job, "processing", "Analysis started")
	t.notify(job)
	return true
}

// Advance 记录阶段进度，进度只增不减，终态任务忽略
func (t *Tracker) Advance(id string, progress int, step, description string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[id]
	if !ok || job.Status.IsTerminal() {
		return false
	}
	if job.Status == domain.JobStatusQueued {
		job.Status = domain.JobStatusProcessing
	}
	if progress > 100 {
		progress = 100
	}
	if progress > job.Progress {
		job.Progress = progress
	}
	t.appendStep(job, step, description)
	t.notify(job)
	return true
}

// Complete 标记完成，终态已存在时返回 false
func (t *Tracker) Complete(id string, result *domain.AnalysisResult) bool {
	return t.finish(id, domain.JobStatusCompleted, result, "")
}

// Fail 标记失败，终态已存在时返回 false
func (t *Tracker) Fail(id, message string) bool {
	return t.finish(id, domain.JobStatusFailed, nil, message)
}

func (t *Tracker) finish(id string, status domain.JobStatus, result *domain.AnalysisResult, message string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[id]
	if !ok {
		return false
	}
	if job.Status.IsTerminal() {
		t.logger.WithFields(logrus.Fields{
			"job_id":   id,
			"status":   job.Status,
			"rejected": status,
		}).Debug("Terminal state already set, ignoring")
		return false
	}

	end := t.now()
	job.Status = status
	job.EndTime = &end
	if status == domain.JobStatusCompleted {
		job.Progress = 100
		job.Result = result
		t.appendStep(job, "completed", "Analysis completed")
	} else {
		job.Error = message
		t.appendStep(job, "failed", message)
	}

	t.notify(job)
	// 终态后关闭全部订阅
	for sid, ch := range t.subs[id] {
		close(ch)
		delete(t.subs[id], sid)
	}
	delete(t.subs, id)
	return true
}

// Get 返回任务快照
func (t *Tracker) Get(id string) (*domain.AnalysisJob, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	job, ok := t.jobs[id]
	if !ok {
		return nil, false
	}
	return job.Clone(), true
}

// List 返回全部任务快照，按创建时间倒序
func (t *Tracker) List() []*domain.AnalysisJob {
	t.mu.RLock()
	jobs := make([]*domain.AnalysisJob, 0, len(t.jobs))
	for _, job := range t.jobs {
		jobs = append(jobs, job.Clone())
	}
	t.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].StartTime.Equal(jobs[j].StartTime) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].StartTime.After(jobs[j].StartTime)
	})
	return jobs
}

// Subscribe 订阅任务变更，立即推送一次当前快照
// 任务进入终态后通道关闭；返回的函数用于提前取消订阅
func (t *Tracker) Subscribe(id string) (<-chan domain.AnalysisJob, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan domain.AnalysisJob, subscriberBuffer)
	job, ok := t.jobs[id]
	if !ok {
		close(ch)
		return ch, func() {}
	}

	ch <- *job.Clone()
	if job.Status.IsTerminal() {
		close(ch)
		return ch, func() {}
	}

	t.nextID++
	sid := t.nextID
	if t.subs[id] == nil {
		t.subs[id] = make(map[int]chan domain.AnalysisJob)
	}
	t.subs[id][sid] = ch

	return ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if c, ok := t.subs[id][sid]; ok {
			close(c)
			delete(t.subs[id], sid)
		}
	}
}

// Prune 删除结束时间早于 olderThan 之前的终态任务，返回删除数量
func (t *Tracker) Prune(olderThan time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-olderThan)
	removed := 0
	for id, job := range t.jobs {
		if job.Status.IsTerminal() && job.EndTime != nil && job.EndTime.Before(cutoff) {
			delete(t.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		t.logger.WithField("removed", removed).Info("Pruned finished jobs")
	}
	return removed
}

// RunRetention 周期性清理终态任务，直到 ctx 结束
func (t *Tracker) RunRetention(ctx context.Context, every, keep time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Prune(keep)
		}
	}
}

func (t *Tracker) appendStep(job *domain.AnalysisJob, name, description string) {
	job.Steps = append(job.Steps, domain.JobStep{
		Name:        name,
		Description: description,
		Timestamp:   t.now(),
	})
}

// notify 非阻塞推送，缓冲已满时丢弃最旧的一条
func (t *Tracker) notify(job *domain.AnalysisJob) {
	for _, ch := range t.subs[job.ID] {
		snapshot := *job.Clone()
		select {
		case ch <- snapshot:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
}
