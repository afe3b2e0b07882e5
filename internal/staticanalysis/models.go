package staticanalysis

import (
	"time"
)

const unknownValue = "Unknown"

// FileMetadata 文件校验结果
type FileMetadata struct {
	SizeBytes      int64     `json:"size_bytes"`
	SHA256         string    `json:"sha256"`
	SHA1           string    `json:"sha1"`
	LastModified   time.Time `json:"last_modified"`
	IsValidArchive bool      `json:"is_valid_archive"`
}

// DefaultFileMetadata 校验阶段失败时使用的占位结果
func DefaultFileMetadata() *FileMetadata {
	return &FileMetadata{}
}

// ParseMethod Manifest 解析方式
type ParseMethod string

const (
	ParseMethodXML        ParseMethod = "xml"         // 明文 XML 结构化解析
	ParseMethodBinaryScan ParseMethod = "binary_scan" // 二进制字符串扫描
	ParseMethodTextRegex  ParseMethod = "text_regex"  // 文本正则兜底
	ParseMethodMissing    ParseMethod = "missing"     // 文件不存在
)

// ManifestInfo 从 AndroidManifest.xml 恢复的信息
type ManifestInfo struct {
	PackageName string      `json:"package_name"`
	VersionName string      `json:"version_name"`
	VersionCode string      `json:"version_code"`
	Permissions []string    `json:"permissions"`
	Activities  []string    `json:"activities"`
	Services    []string    `json:"services"`
	Receivers   []string    `json:"receivers"`
	Providers   []string    `json:"providers"`
	ParseMethod ParseMethod `json:"parse_method"`
}

// DefaultManifestInfo 所有字段为 "Unknown" 或空
func DefaultManifestInfo() *ManifestInfo {
	return &ManifestInfo{
		PackageName: unknownValue,
		VersionName: unknownValue,
		VersionCode: unknownValue,
		Permissions: []string{},
		Activities:  []string{},
		Services:    []string{},
		Receivers:   []string{},
		Providers:   []string{},
		ParseMethod: ParseMethodMissing,
	}
}

// RiskTier 风险层级
type RiskTier string

const (
	TierHigh   RiskTier = "high"
	TierMedium RiskTier = "medium"
	TierLow    RiskTier = "low"
	TierOther  RiskTier = "other" // 可疑但不属于三档
)

// rank 用于比较层级高低
func (t RiskTier) rank() int {
	switch t {
	case TierHigh:
		return 3
	case TierMedium:
		return 2
	case TierLow:
		return 1
	default:
		return 0
	}
}

// SuspiciousPermission 命中风险表的权限
type SuspiciousPermission struct {
	Name string   `json:"name"`
	Tier RiskTier `json:"tier"`
}

// PermissionAssessment 权限风险评估
type PermissionAssessment struct {
	Total      int                    `json:"total"`
	Suspicious []SuspiciousPermission `json:"suspicious"`
	Banking    []string               `json:"banking"`
	RiskScore  int                    `json:"risk_score"`
}

// CountTier 统计某一层级的可疑权限数量
func (p *PermissionAssessment) CountTier(tier RiskTier) int {
	n := 0
	for _, s := range p.Suspicious {
		if s.Tier == tier {
			n++
		}
	}
	return n
}

// SuspiciousNames 可疑权限名列表
func (p *PermissionAssessment) SuspiciousNames() []string {
	names := make([]string, 0, len(p.Suspicious))
	for _, s := range p.Suspicious {
		names = append(names, s.Name)
	}
	return names
}

// PatternMatch 代码特征命中
type PatternMatch struct {
	Pattern    string   `json:"pattern"`
	SourceFile string   `json:"source_file"`
	Confidence RiskTier `json:"confidence"`
}

// CodeAssessment 代码特征扫描结果
type CodeAssessment struct {
	DexFileCount    int            `json:"dex_file_count"`
	FilesScanned    int            `json:"files_scanned"`
	MatchedPatterns []PatternMatch `json:"matched_patterns"`
	RiskScore       int            `json:"risk_score"`
}

// CountTier 统计某一层级的命中次数
func (c *CodeAssessment) CountTier(tier RiskTier) int {
	n := 0
	for _, m := range c.MatchedPatterns {
		if m.Confidence == tier {
			n++
		}
	}
	return n
}

// DefaultCodeAssessment 扫描阶段失败时使用的占位结果
func DefaultCodeAssessment() *CodeAssessment {
	return &CodeAssessment{MatchedPatterns: []PatternMatch{}}
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
