package packer

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// detectThreshold 判定为加固的最低置信度
const detectThreshold = 0.4

// Detector 壳检测器，基于解压后的目录
type Detector struct {
	rules  []PackerRule
	logger *logrus.Logger
}

// NewDetector 创建壳检测器
func NewDetector(logger *logrus.Logger) *Detector {
	rules := BuiltinRules()
	// 按优先级降序排序
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})

	return &Detector{
		rules:  rules,
		logger: logger,
	}
}

// Detect 检测解压目录是否呈现加固特征
func (d *Detector) Detect(ctx context.Context, dir string) *PackerInfo {
	result := &PackerInfo{Indicators: []string{}}

	stats, err := collectTreeStats(dir)
	if err != nil {
		d.logger.WithError(err).WithField("dir", dir).Warn("Failed to collect tree stats")
		return result
	}

	var dexContent [][]byte
	for _, rule := range d.rules {
		if ctx.Err() != nil {
			return result
		}
		if len(rule.ClassNames) > 0 && dexContent == nil {
			dexContent = readDEX(stats.DEXFiles)
		}

		confidence, indicators := matchRule(rule, stats, dexContent)
		if confidence < detectThreshold {
			continue
		}

		result.IsPacked = true
		result.PackerName = rule.Name
		result.PackerType = rule.Type
		result.Confidence = min(confidence, 1.0)
		result.Indicators = indicators

		d.logger.WithFields(logrus.Fields{
			"packer_name": result.PackerName,
			"packer_type": result.PackerType,
			"confidence":  result.Confidence,
		}).Info("Packer detected")
		return result
	}

	return result
}

// collectTreeStats 遍历解压目录
func collectTreeStats(dir string) (*TreeStats, error) {
	stats := &TreeStats{}
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return err
		}
		info, err := entry.Info()
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(dir, path)
		rel = filepath.ToSlash(rel)

		switch {
		case strings.HasPrefix(rel, "lib/") && strings.HasSuffix(rel, ".so"):
			stats.NativeLibs = append(stats.NativeLibs, filepath.Base(rel))
			stats.NativeSize += info.Size()
		case strings.HasSuffix(rel, ".dex"):
			stats.DEXFiles = append(stats.DEXFiles, path)
			stats.DEXSize += info.Size()
		}
		if strings.HasPrefix(rel, "assets/") {
			stats.SuspiciousFiles = append(stats.SuspiciousFiles, rel)
		}
		return nil
	})
	return stats, err
}

// readDEX 读取全部 DEX 内容，单个文件读取失败则跳过
func readDEX(paths []string) [][]byte {
	content := make([][]byte, 0, len(paths))
	for _, p := range paths {
		if data, err := os.ReadFile(p); err == nil {
			content = append(content, data)
		}
	}
	return content
}

// matchRule 匹配单个规则
func matchRule(rule PackerRule, stats *TreeStats, dexContent [][]byte) (float64, []string) {
	confidence := 0.0
	indicators := []string{}

	for _, ruleLib := range rule.NativeLibs {
		for _, lib := range stats.NativeLibs {
			if matchLibName(ruleLib, lib) {
				confidence += 0.4
				indicators = append(indicators, "native_lib:"+lib)
			}
		}
	}

	for _, class := range rule.ClassNames {
		// DEX 中类型描述符形如 Lcom/stub/StubApp;
		descriptor := []byte("L" + strings.ReplaceAll(class, ".", "/") + ";")
		for _, data := range dexContent {
			if bytes.Contains(data, descriptor) {
				confidence += 0.4
				indicators = append(indicators, "class:"+class)
				break
			}
		}
	}

	if rule.FileSize.DEXMaxKB > 0 && stats.DEXSize > 0 && stats.DEXSize/1024 < rule.FileSize.DEXMaxKB {
		confidence += 0.3
		indicators = append(indicators, "dex_size_anomaly")
	}
	if rule.FileSize.NativeMinMB > 0 && stats.NativeSize/(1024*1024) > rule.FileSize.NativeMinMB {
		confidence += 0.3
		indicators = append(indicators, "native_size_anomaly")
	}

	for _, file := range stats.SuspiciousFiles {
		for _, marker := range rule.Strings {
			if strings.Contains(strings.ToLower(file), strings.ToLower(marker)) {
				confidence += 0.2
				indicators = append(indicators, "suspicious_file:"+file)
			}
		}
	}

	return confidence, indicators
}

// matchLibName 匹配库名（忽略版本号后缀）
func matchLibName(pattern, name string) bool {
	if pattern == name {
		return true
	}

	patternBase := strings.TrimSuffix(pattern, ".so")
	nameBase := strings.TrimSuffix(name, ".so")
	if strings.HasPrefix(nameBase, patternBase) {
		return true
	}

	// libshellx-2.10.3.4.so -> shellx
	patternCore := strings.Split(strings.TrimPrefix(patternBase, "lib"), "-")[0]
	nameCore := strings.Split(strings.TrimPrefix(nameBase, "lib"), "-")[0]
	return patternCore == nameCore
}

// Summary 检测结果的一句话描述
func Summary(info *PackerInfo) string {
	if info == nil || !info.IsPacked {
		return "no packer detected"
	}
	return "packed with " + info.PackerName + " (" + info.PackerType + ")"
}
