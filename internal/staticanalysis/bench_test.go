package staticanalysis

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

// BenchmarkScorePermissions 测试权限评分性能
func BenchmarkScorePermissions(b *testing.B) {
	perms := []string{
		"android.permission.INTERNET",
		"android.permission.READ_SMS",
		"android.permission.SEND_SMS",
		"android.permission.CAMERA",
		"android.permission.ACCESS_FINE_LOCATION",
		"android.permission.SYSTEM_ALERT_WINDOW",
		"android.permission.BIND_ACCESSIBILITY_SERVICE",
		"com.example.permission.C2D_MESSAGE",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ScorePermissions(perms)
	}
}

// BenchmarkCodeScanner_Scan 测试代码扫描性能
func BenchmarkCodeScanner_Scan(b *testing.B) {
	dir := b.TempDir()
	body := strings.Repeat("const a = 1; fetch('https://api.example.com');\n", 200)
	for i := 0; i < 20; i++ {
		content := body
		if i%5 == 0 {
			content += "eval(atob(payload)); Runtime.getRuntime().exec(cmd);\n"
		}
		name := fmt.Sprintf("classes%d.dex", i+2)
		if i%2 == 0 {
			name = fmt.Sprintf("res/layout/view%02d.xml", i)
		}
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			b.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			b.Fatal(err)
		}
	}

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	scanner := NewCodeScanner(logger, 500, 8<<20)
	registry := NewPatternRegistry(nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = scanner.Scan(context.Background(), dir, registry)
	}
}
