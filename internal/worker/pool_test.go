package worker

import (
	"context"
	"testing"
	"time"

	"github.com/apk-analysis/apk-triage-go/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPool_SubmitAndProcess 测试提交后任务被处理完成
func TestPool_SubmitAndProcess(t *testing.T) {
	env := newTestEnv(t)
	pool := NewPool(2, 10, env.pipeline, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	apk := writeAPK(t, "notes.apk", map[string]string{"AndroidManifest.xml": notesManifest})
	id, err := pool.Submit(apk, "notes.apk")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		job, ok := env.tracker.Get(id)
		return ok && job.Status.IsTerminal()
	}, 5*time.Second, 20*time.Millisecond)

	job, _ := env.tracker.Get(id)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, "notes.apk", job.Filename)
	assert.Equal(t, "notes.apk", job.Result.Details.FileAnalysis.Filename)
}

// TestPool_QueueFull 测试队列满时任务直接失败
func TestPool_QueueFull(t *testing.T) {
	env := newTestEnv(t)
	pool := NewPool(1, 1, env.pipeline, newTestLogger())

	// 未启动 worker，队列只能容纳一个任务
	_, err := pool.Submit("/tmp/a.apk", "a.apk")
	require.NoError(t, err)

	id, err := pool.Submit("/tmp/b.apk", "b.apk")
	assert.ErrorIs(t, err, ErrQueueFull)

	job, ok := env.tracker.Get(id)
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Equal(t, 1, pool.QueueSize())
}

// TestPool_SubmitWithIDIdempotent 测试重复 ID 不会重复入队
func TestPool_SubmitWithIDIdempotent(t *testing.T) {
	env := newTestEnv(t)
	pool := NewPool(1, 5, env.pipeline, newTestLogger())

	_, err := pool.SubmitWithID("job-1", "/tmp/a.apk", "a.apk")
	require.NoError(t, err)
	_, err = pool.SubmitWithID("job-1", "/tmp/a.apk", "a.apk")
	require.NoError(t, err)
	assert.Equal(t, 1, pool.QueueSize())
}

// TestPool_SubmitAfterStop 测试停止后拒绝提交
func TestPool_SubmitAfterStop(t *testing.T) {
	env := newTestEnv(t)
	pool := NewPool(1, 5, env.pipeline, newTestLogger())
	pool.Start(context.Background())
	pool.Stop()
	pool.Stop()

	_, err := pool.Submit("/tmp/a.apk", "a.apk")
	assert.ErrorIs(t, err, ErrPoolStopped)
}

// TestPool_StopFailsQueuedTasks 测试停止时未开始的任务进入 failed
func TestPool_StopFailsQueuedTasks(t *testing.T) {
	env := newTestEnv(t)
	pool := NewPool(1, 5, env.pipeline, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pool.Start(ctx)

	var ids []string
	for _, name := range []string{"a.apk", "b.apk", "c.apk"} {
		id, err := pool.Submit("/tmp/"+name, name)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	pool.Stop()

	assert.Equal(t, 0, pool.QueueSize())
	for _, id := range ids {
		job, ok := env.tracker.Get(id)
		require.True(t, ok)
		assert.True(t, job.Status.IsTerminal(), "job %s left %s", id, job.Status)
		assert.Equal(t, domain.JobStatusFailed, job.Status)
		assert.NotNil(t, job.EndTime)
	}
}
