package unpacker

import (
	"context"
)

// 解压策略名称
const (
	StrategyStream      = "stream"      // 流式解压
	StrategyInMemory    = "in_memory"   // 整体读入内存后解压
	StrategyPlaceholder = "placeholder" // 仅创建空目录
)

// StrategyFunc 解压策略，返回写出的文件数
type StrategyFunc func(ctx context.Context, apkPath, destDir string) (int, error)

// Strategy 命名的解压策略
type Strategy struct {
	Name string
	Run  StrategyFunc
}

// Limits 解压上限
type Limits struct {
	MaxEntries   int   // 条目数上限
	MaxEntrySize int64 // 单个条目解压后大小上限
	MaxTotalSize int64 // 解压后总大小上限
}

// DefaultLimits 默认解压上限
func DefaultLimits() Limits {
	return Limits{
		MaxEntries:   20000,
		MaxEntrySize: 256 * 1024 * 1024,
		MaxTotalSize: 1024 * 1024 * 1024,
	}
}

// ExtractResult 解压结果
type ExtractResult struct {
	Dir       string            `json:"dir"`
	Strategy  string            `json:"strategy"`  // 成功的策略
	FileCount int               `json:"file_count"`
	Attempts  map[string]string `json:"attempts"`  // 失败策略 -> 错误信息
}

// Degraded 是否未能真正解压
func (r *ExtractResult) Degraded() bool {
	return r.Strategy != StrategyStream && r.Strategy != StrategyInMemory
}
