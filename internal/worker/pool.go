package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/apk-analysis/apk-triage-go/internal/domain"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrQueueFull 任务队列已满
var ErrQueueFull = errors.New("task queue is full")

// ErrPoolStopped Worker 池已停止
var ErrPoolStopped = errors.New("worker pool stopped")

// errNotStarted 停止时仍在队列中的任务
var errNotStarted = errors.New("worker pool stopped before the job started")

// Pool Worker 池
type Pool struct {
	workers  int
	taskChan chan *Task
	pipeline *Pipeline
	logger   *logrus.Logger
	wg       sync.WaitGroup

	mu       sync.Mutex
	accepted map[string]struct{}
	stopped  bool
	closeMu  sync.RWMutex
}

// Task 任务
type Task struct {
	ID       string
	APKPath  string
	Filename string
}

// NewPool 创建 Worker 池
func NewPool(workers, queueSize int, pipeline *Pipeline, logger *logrus.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Pool{
		workers:  workers,
		taskChan: make(chan *Task, queueSize),
		pipeline: pipeline,
		logger:   logger,
		accepted: make(map[string]struct{}),
	}
}

// Start 启动 Worker 池
func (p *Pool) Start(ctx context.Context) {
	p.logger.WithField("workers", p.workers).Info("Starting worker pool")
	p.pipeline.metrics.UpdateWorkerPoolStats(p.workers, 0)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// worker Worker 协程
func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	p.logger.WithField("worker_id", id).Debug("Worker started")

	for {
		select {
		case <-ctx.Done():
			p.logger.WithField("worker_id", id).Info("Worker shutting down")
			return

		case task, ok := <-p.taskChan:
			if !ok {
				p.logger.WithField("worker_id", id).Debug("Task channel closed, worker exiting")
				return
			}
			p.pipeline.metrics.UpdateWorkerPoolStats(p.workers, len(p.taskChan))

			p.logger.WithFields(logrus.Fields{
				"worker_id": id,
				"job_id":    task.ID,
				"apk_path":  task.APKPath,
			}).Debug("Processing task")

			p.pipeline.Analyze(ctx, task.APKPath, task.ID)
			p.release(task.ID)
		}
	}
}

// Submit 创建任务并放入队列，返回任务 ID
// 队列已满时任务直接标记为 failed
func (p *Pool) Submit(filePath, filename string) (string, error) {
	return p.SubmitWithID(uuid.New().String(), filePath, filename)
}

// SubmitWithID 使用调用方给定的任务 ID 提交，不阻塞
func (p *Pool) SubmitWithID(jobID, filePath, filename string) (string, error) {
	return jobID, p.enqueue(context.Background(), &Task{ID: jobID, APKPath: filePath, Filename: filename}, false)
}

// SubmitWait 队列满时阻塞等待，用于消息队列消费端形成背压
func (p *Pool) SubmitWait(ctx context.Context, jobID, filePath, filename string) error {
	return p.enqueue(ctx, &Task{ID: jobID, APKPath: filePath, Filename: filename}, true)
}

// enqueue 同一任务只会被接收一次，已接收、运行中或已结束的任务直接忽略
func (p *Pool) enqueue(ctx context.Context, task *Task, block bool) error {
	// 持有读锁期间 Stop 不会关闭通道
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrPoolStopped
	}
	tr := p.pipeline.Tracker()
	if job, exists := tr.Get(task.ID); exists && job.Status != domain.JobStatusQueued {
		p.mu.Unlock()
		return nil
	}
	if _, dup := p.accepted[task.ID]; dup {
		p.mu.Unlock()
		return nil
	}
	p.accepted[task.ID] = struct{}{}
	tr.Create(task.ID, task.Filename)
	p.mu.Unlock()

	if !block {
		select {
		case p.taskChan <- task:
		default:
			p.release(task.ID)
			tr.Fail(task.ID, ErrQueueFull.Error())
			return ErrQueueFull
		}
	} else {
		select {
		case p.taskChan <- task:
		case <-ctx.Done():
			p.release(task.ID)
			return ctx.Err()
		}
	}

	p.pipeline.metrics.RecordJobQueued()
	p.pipeline.metrics.UpdateWorkerPoolStats(p.workers, len(p.taskChan))
	p.logger.WithFields(logrus.Fields{
		"job_id":   task.ID,
		"filename": task.Filename,
	}).Info("Task submitted to pool")
	return nil
}

func (p *Pool) release(jobID string) {
	p.mu.Lock()
	delete(p.accepted, jobID)
	p.mu.Unlock()
}

// Stop 停止 Worker 池并等待运行中的任务
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	p.closeMu.Lock()
	close(p.taskChan)
	p.closeMu.Unlock()

	p.logger.Info("Stopping worker pool")
	p.wg.Wait()

	// 上下文已取消时 worker 提前退出，剩余任务在这里进入终态
	drained := 0
	for task := range p.taskChan {
		p.pipeline.Tracker().Fail(task.ID, errNotStarted.Error())
		p.pipeline.finish(context.Background(), task.ID)
		p.release(task.ID)
		drained++
	}
	if drained > 0 {
		p.logger.WithField("count", drained).Warn("Failed queued tasks on shutdown")
	}
	p.logger.Info("Worker pool stopped")
}

// QueueSize 获取队列中任务数
func (p *Pool) QueueSize() int {
	return len(p.taskChan)
}
