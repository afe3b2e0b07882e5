package packer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDetector() *Detector {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewDetector(logger)
}

func writeTree(t *testing.T, files map[string]string) string {
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return dir
}

// TestDetect_NativeLibAndClass 测试 Native 库和类名同时命中
func TestDetect_NativeLibAndClass(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"lib/arm64-v8a/libjiagu_a64.so": "elf",
		"classes.dex":                   "dex\n035 Lcom/stub/StubApp; other",
	})

	info := newTestDetector().Detect(context.Background(), dir)

	assert.True(t, info.IsPacked)
	assert.Equal(t, "360 Jiagu", info.PackerName)
	assert.Equal(t, PackerTypeNative, info.PackerType)
	assert.Equal(t, 1.0, info.Confidence)
	assert.Contains(t, info.Indicators, "class:com.stub.StubApp")
	assert.Equal(t, "packed with 360 Jiagu (native)", Summary(info))
}

// TestDetect_VersionedLibName 测试带版本号的库名
func TestDetect_VersionedLibName(t *testing.T) {
	dir := writeTree(t, map[string]string{"lib/armeabi-v7a/libshellx-3.0.0.0.so": "elf"})

	info := newTestDetector().Detect(context.Background(), dir)

	assert.True(t, info.IsPacked)
	assert.Equal(t, "Tencent Legu", info.PackerName)
}

// TestDetect_Clean 测试普通应用
func TestDetect_Clean(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"AndroidManifest.xml": "<manifest/>",
		"classes.dex":         "dex\n035 Lcom/example/MainActivity;",
	})

	info := newTestDetector().Detect(context.Background(), dir)

	assert.False(t, info.IsPacked)
	assert.Empty(t, info.Indicators)
	assert.Equal(t, "no packer detected", Summary(info))
}

// TestDetect_MissingDir 测试目录不存在
func TestDetect_MissingDir(t *testing.T) {
	info := newTestDetector().Detect(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.False(t, info.IsPacked)
}

// TestMatchLibName 测试库名模糊匹配
func TestMatchLibName(t *testing.T) {
	assert.True(t, matchLibName("libjiagu.so", "libjiagu.so"))
	assert.True(t, matchLibName("libjiagu.so", "libjiagu_a64.so"))
	assert.True(t, matchLibName("libshellx-2.10.3.4.so", "libshellx-3.1.so"))
	assert.False(t, matchLibName("libjiagu.so", "libc++_shared.so"))
}
