package packer

// PackerInfo 加固检测结果（仅作参考，不参与评分）
type PackerInfo struct {
	IsPacked   bool     `json:"is_packed"`
	PackerName string   `json:"packer_name,omitempty"`
	PackerType string   `json:"packer_type,omitempty"` // native / dex_encrypt / vmp / unknown
	Confidence float64  `json:"confidence"`            // 0-1
	Indicators []string `json:"indicators"`
}

// PackerType 壳类型枚举
const (
	PackerTypeNative     = "native"      // 原生库加密
	PackerTypeDexEncrypt = "dex_encrypt" // DEX加密
	PackerTypeVMP        = "vmp"         // 虚拟机保护
	PackerTypeUnknown    = "unknown"     // 未知类型
)

// PackerRule 壳检测规则
type PackerRule struct {
	Name       string       // 壳名称
	Type       string       // 壳类型
	NativeLibs []string     // 特征 Native 库
	Strings    []string     // 特征文件路径片段
	ClassNames []string     // 特征类名（在 DEX 字符串中查找）
	FileSize   FileSizeRule // DEX/Native 大小异常规则
	Priority   int          // 优先级 (越大越优先匹配)
}

// FileSizeRule 文件大小规则
type FileSizeRule struct {
	DEXMaxKB    int64 // DEX最大KB（小于此值可疑）
	NativeMinMB int64 // Native库最小MB（大于此值可疑）
}

// TreeStats 解压目录中与加固相关的统计
type TreeStats struct {
	NativeLibs      []string
	DEXFiles        []string // DEX 文件绝对路径
	DEXSize         int64
	NativeSize      int64
	SuspiciousFiles []string // 相对路径
}
