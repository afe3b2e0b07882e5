package staticanalysis

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/apk-analysis/apk-triage-go/internal/threatdb"
	"github.com/sirupsen/logrus"
)

var dexNameRe = regexp.MustCompile(`^classes\d*\.dex$`)

// builtinPatterns 内置高信号 API 特征
var builtinPatterns = []string{
	"TYPE_APPLICATION_OVERLAY",
	"TYPE_SYSTEM_OVERLAY",
	"AccessibilityService",
	"performGlobalAction",
	"DevicePolicyManager",
	"DeviceAdminReceiver",
	"MediaProjectionManager",
	"DexClassLoader",
	"SmsManager",
	"sendTextMessage",
	"getDeviceId",
	"TelephonyManager",
	"addJavascriptInterface",
	"java/lang/reflect/Method",
	"/system/bin/su",
	"getInstalledPackages",
	"ClipboardManager",
	"getLastKnownLocation",
	"javax/crypto/Cipher",
}

// 按特征名关键词分层（名称先转小写并去掉分隔符）
var (
	highPatternKeywords = []string{
		"overlay", "accessibility", "deviceadmin", "devicepolicymanager",
		"mediaprojection", "screencapture", "dexclassloader", "performglobalaction",
	}
	mediumPatternKeywords = []string{
		"smsmanager", "sendtextmessage", "telephony", "getdeviceid",
		"reflect", "addjavascriptinterface", "runtime",
	}
)

// ClassifyPatternName 根据特征名判断风险层级
func ClassifyPatternName(name string) RiskTier {
	key := strings.NewReplacer("_", "", " ", "", "-", "").Replace(strings.ToLower(name))
	for _, kw := range highPatternKeywords {
		if strings.Contains(key, kw) {
			return TierHigh
		}
	}
	for _, kw := range mediumPatternKeywords {
		if strings.Contains(key, kw) {
			return TierMedium
		}
	}
	return TierLow
}

// PatternEntry 注册表中的单条特征
type PatternEntry struct {
	Name   string
	Needle []byte // 小写匹配串
	Tier   RiskTier
}

// PatternRegistry 内置特征与威胁库特征合并去重后的注册表
type PatternRegistry struct {
	entries []PatternEntry
}

// NewPatternRegistry 合并内置特征与威胁库中每个特征的示例串
func NewPatternRegistry(dbPatterns []threatdb.ScanPattern) *PatternRegistry {
	r := &PatternRegistry{}
	seen := make(map[string]bool)

	add := func(name, needle string, tier RiskTier) {
		key := strings.ToLower(strings.TrimSpace(needle))
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		r.entries = append(r.entries, PatternEntry{Name: name, Needle: []byte(key), Tier: tier})
	}

	for _, p := range builtinPatterns {
		add(p, p, ClassifyPatternName(p))
	}
	for _, p := range dbPatterns {
		tier := ClassifyPatternName(p.Name)
		if stored := RiskTier(strings.ToLower(p.RiskLevel)); stored.rank() > tier.rank() {
			tier = stored
		}
		for _, example := range p.Examples {
			add(p.Name, example, tier)
		}
	}
	return r
}

// Len 特征数量
func (r *PatternRegistry) Len() int {
	return len(r.entries)
}

// CodeWeights 代码特征评分权重
type CodeWeights struct {
	HighBase            int `mapstructure:"high_base"`
	HighPerMatch        int `mapstructure:"high_per_match"`
	HighCap             int `mapstructure:"high_cap"`
	MediumMinMatches    int `mapstructure:"medium_min_matches"`
	MediumPerMatch      int `mapstructure:"medium_per_match"`
	MediumCap           int `mapstructure:"medium_cap"`
	LowMinMatches       int `mapstructure:"low_min_matches"`
	LowPerMatch         int `mapstructure:"low_per_match"`
	LowCap              int `mapstructure:"low_cap"`
	IsolatedLowDiscount int `mapstructure:"isolated_low_discount"`
	NoStrongDiscount    int `mapstructure:"no_strong_discount"`
}

// DefaultCodeWeights 默认权重
func DefaultCodeWeights() CodeWeights {
	return CodeWeights{
		HighBase:            25,
		HighPerMatch:        8,
		HighCap:             60,
		MediumMinMatches:    2,
		MediumPerMatch:      10,
		MediumCap:           40,
		LowMinMatches:       3,
		LowPerMatch:         6,
		LowCap:              30,
		IsolatedLowDiscount: 5,
		NoStrongDiscount:    10,
	}
}

// Score 根据各层级命中数计算分数
func (w CodeWeights) Score(high, medium, low int) int {
	score := 0
	if high > 0 {
		score += min(w.HighCap, w.HighBase+w.HighPerMatch*high)
	}
	if medium >= w.MediumMinMatches {
		score += min(w.MediumCap, w.MediumPerMatch*medium)
	}
	if low >= w.LowMinMatches {
		score += min(w.LowCap, w.LowPerMatch*low)
	}
	if low == 1 && high == 0 && medium == 0 {
		score -= w.IsolatedLowDiscount
	}
	if high == 0 && medium == 0 {
		score -= w.NoStrongDiscount
	}
	return clampScore(score)
}

// CodeScanner 代码特征扫描器
type CodeScanner struct {
	logger      *logrus.Logger
	maxFiles    int
	maxFileSize int64
	weights     CodeWeights
}

// NewCodeScanner 创建扫描器，maxFiles/maxFileSize 为 0 表示不限制
func NewCodeScanner(logger *logrus.Logger, maxFiles int, maxFileSize int64) *CodeScanner {
	return &CodeScanner{
		logger:      logger,
		maxFiles:    maxFiles,
		maxFileSize: maxFileSize,
		weights:     DefaultCodeWeights(),
	}
}

// WithWeights 替换评分权重
func (s *CodeScanner) WithWeights(w CodeWeights) *CodeScanner {
	s.weights = w
	return s
}

// Scan 扫描 classesN.dex 与 XML 文件
func (s *CodeScanner) Scan(ctx context.Context, dir string, registry *PatternRegistry) *CodeAssessment {
	result := DefaultCodeAssessment()
	if registry == nil {
		registry = NewPatternRegistry(nil)
	}

	var candidates []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		name := strings.ToLower(d.Name())
		switch {
		case dexNameRe.MatchString(name):
			result.DexFileCount++
			candidates = append(candidates, path)
		case strings.HasSuffix(name, ".xml"):
			candidates = append(candidates, path)
		}
		return nil
	})
	if err != nil {
		s.logger.WithError(err).WithField("dir", dir).Warn("Failed to walk extracted tree")
	}

	for _, path := range candidates {
		if ctx.Err() != nil {
			s.logger.WithField("dir", dir).Warn("Code scan cancelled")
			break
		}
		if s.maxFiles > 0 && result.FilesScanned >= s.maxFiles {
			s.logger.WithField("max_files", s.maxFiles).Debug("Code scan file budget reached")
			break
		}

		rel, _ := filepath.Rel(dir, path)
		matches, err := s.scanFile(path, rel, registry)
		if err != nil {
			s.logger.WithError(err).WithField("file", rel).Debug("Skip file")
			continue
		}
		result.FilesScanned++
		result.MatchedPatterns = append(result.MatchedPatterns, matches...)
	}

	result.RiskScore = s.weights.Score(
		result.CountTier(TierHigh),
		result.CountTier(TierMedium),
		result.CountTier(TierLow),
	)

	s.logger.WithFields(logrus.Fields{
		"dex_files":     result.DexFileCount,
		"files_scanned": result.FilesScanned,
		"matches":       len(result.MatchedPatterns),
		"risk_score":    result.RiskScore,
	}).Debug("Code scan completed")

	return result
}

func (s *CodeScanner) scanFile(path, rel string, registry *PatternRegistry) ([]PatternMatch, error) {
	if s.maxFileSize > 0 {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if info.Size() > s.maxFileSize {
			return nil, fmt.Errorf("file size %d exceeds limit %d", info.Size(), s.maxFileSize)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	content := bytes.ToLower(data)

	var matches []PatternMatch
	for _, e := range registry.entries {
		if bytes.Contains(content, e.Needle) {
			matches = append(matches, PatternMatch{
				Pattern:    e.Name,
				SourceFile: filepath.ToSlash(rel),
				Confidence: e.Tier,
			})
		}
	}
	return matches, nil
}
