package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSubmitter struct {
	mu    sync.Mutex
	files []string
}

func (r *recordingSubmitter) Submit(filePath, filename string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = append(r.files, filename)
	return "job-" + filename, nil
}

func (r *recordingSubmitter) submitted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.files...)
}

func newTestWatcher(t *testing.T, sub Submitter) (*FileWatcher, string) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	dir := t.TempDir()
	fw, err := NewFileWatcher(dir, "*.apk", sub, logger)
	require.NoError(t, err)
	fw.SetTiming(50*time.Millisecond, 20*time.Millisecond)
	t.Cleanup(func() { _ = fw.Stop() })
	return fw, dir
}

// TestFileWatcher_SubmitsAPK 测试新写入的 APK 被提交一次
func TestFileWatcher_SubmitsAPK(t *testing.T) {
	sub := &recordingSubmitter{}
	fw, dir := newTestWatcher(t, sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fw.Start(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "sample.APK"), []byte("PK\x03\x04payload"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	assert.Eventually(t, func() bool {
		return len(sub.submitted()) == 1
	}, 3*time.Second, 20*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, []string{"sample.APK"}, sub.submitted())
}

// TestFileWatcher_EmptyFileNotSubmitted 测试空文件不会被提交
func TestFileWatcher_EmptyFileNotSubmitted(t *testing.T) {
	sub := &recordingSubmitter{}
	fw, dir := newTestWatcher(t, sub)
	fw.maxPolls = 3

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fw.Start(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.apk"), nil, 0644))

	time.Sleep(400 * time.Millisecond)
	assert.Empty(t, sub.submitted())
}

// TestFileWatcher_MatchPattern 测试文件名匹配
func TestFileWatcher_MatchPattern(t *testing.T) {
	tests := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"*.apk", "app.apk", true},
		{"*.apk", "APP.APK", true},
		{"*.apk", "app.apk.part", false},
		{"*", "anything", true},
		{"inbound.apk", "inbound.apk", true},
		{"inbound.apk", "other.apk", false},
	}

	for _, tt := range tests {
		fw := &FileWatcher{pattern: tt.pattern}
		assert.Equal(t, tt.want, fw.matchPattern(tt.name), "%s vs %s", tt.pattern, tt.name)
	}
}

// TestFileWatcher_StopIdempotent 测试重复停止
func TestFileWatcher_StopIdempotent(t *testing.T) {
	fw, dir := newTestWatcher(t, &recordingSubmitter{})
	assert.Equal(t, dir, fw.WatchDir())
	assert.NoError(t, fw.Stop())
	assert.NoError(t, fw.Stop())
}
