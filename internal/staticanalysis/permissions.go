package staticanalysis

import "strings"

// permissionTiers 权限风险分层表
var permissionTiers = map[string]RiskTier{
	// 高风险：无障碍、悬浮窗、安装应用、设备管理
	"android.permission.BIND_ACCESSIBILITY_SERVICE": TierHigh,
	"android.permission.SYSTEM_ALERT_WINDOW":        TierHigh,
	"android.permission.REQUEST_INSTALL_PACKAGES":   TierHigh,
	"android.permission.INSTALL_PACKAGES":           TierHigh,
	"android.permission.BIND_DEVICE_ADMIN":          TierHigh,

	// 中风险：短信、通讯录、通话记录
	"android.permission.READ_SMS":               TierMedium,
	"android.permission.SEND_SMS":               TierMedium,
	"android.permission.RECEIVE_SMS":            TierMedium,
	"android.permission.RECEIVE_MMS":            TierMedium,
	"android.permission.WRITE_SMS":              TierMedium,
	"android.permission.READ_CONTACTS":          TierMedium,
	"android.permission.WRITE_CONTACTS":         TierMedium,
	"android.permission.READ_CALL_LOG":          TierMedium,
	"android.permission.WRITE_CALL_LOG":         TierMedium,
	"android.permission.PROCESS_OUTGOING_CALLS": TierMedium,

	// 低风险：相机、麦克风、粗略位置、网络变更
	"android.permission.CAMERA":                 TierLow,
	"android.permission.RECORD_AUDIO":           TierLow,
	"android.permission.ACCESS_COARSE_LOCATION": TierLow,
	"android.permission.ACCESS_FINE_LOCATION":   TierLow,
	"android.permission.CHANGE_NETWORK_STATE":   TierLow,
	"android.permission.CHANGE_WIFI_STATE":      TierLow,

	// 其他可疑
	"android.permission.RECEIVE_BOOT_COMPLETED":               TierOther,
	"android.permission.REQUEST_IGNORE_BATTERY_OPTIMIZATIONS": TierOther,
	"android.permission.DISABLE_KEYGUARD":                     TierOther,
	"android.permission.KILL_BACKGROUND_PROCESSES":            TierOther,
	"android.permission.GET_TASKS":                            TierOther,
	"android.permission.READ_PHONE_STATE":                     TierOther,
}

// bankingPermissions 金融类应用常见的敏感但无害权限
var bankingPermissions = map[string]bool{
	"android.permission.INTERNET":               true,
	"android.permission.READ_EXTERNAL_STORAGE":  true,
	"android.permission.WRITE_EXTERNAL_STORAGE": true,
	"android.permission.ACCESS_NETWORK_STATE":   true,
	"android.permission.ACCESS_WIFI_STATE":      true,
}

// PermissionWeights 权限评分权重
type PermissionWeights struct {
	Base              int `mapstructure:"base"`
	High              int `mapstructure:"high"`
	Medium            int `mapstructure:"medium"`
	Low               int `mapstructure:"low"`
	Other             int `mapstructure:"other"`
	SingleLowDiscount int `mapstructure:"single_low_discount"`
	BreadthThreshold  int `mapstructure:"breadth_threshold"`
	BreadthBonus      int `mapstructure:"breadth_bonus"`
}

// DefaultPermissionWeights 默认权重
func DefaultPermissionWeights() PermissionWeights {
	return PermissionWeights{
		Base:              10,
		High:              25,
		Medium:            15,
		Low:               8,
		Other:             10,
		SingleLowDiscount: 5,
		BreadthThreshold:  5,
		BreadthBonus:      15,
	}
}

// ScorePermissions 使用默认权重评估权限集合
func ScorePermissions(perms []string) *PermissionAssessment {
	return DefaultPermissionWeights().Score(perms)
}

// Score 评估权限集合，结果限制在 [0,100]
func (w PermissionWeights) Score(perms []string) *PermissionAssessment {
	result := &PermissionAssessment{
		Suspicious: []SuspiciousPermission{},
		Banking:    []string{},
	}

	seen := make(map[string]bool, len(perms))
	score := w.Base
	for _, raw := range perms {
		name := normalizePermission(raw)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		result.Total++

		if tier, ok := permissionTiers[name]; ok {
			result.Suspicious = append(result.Suspicious, SuspiciousPermission{Name: name, Tier: tier})
			score += w.increment(tier)
		}
		if bankingPermissions[name] {
			result.Banking = append(result.Banking, name)
		}
	}

	if len(result.Suspicious) == 1 && result.Suspicious[0].Tier == TierLow {
		score -= w.SingleLowDiscount
	}
	if len(result.Suspicious) >= w.BreadthThreshold {
		score += w.BreadthBonus
	}

	result.RiskScore = clampScore(score)
	return result
}

func (w PermissionWeights) increment(tier RiskTier) int {
	switch tier {
	case TierHigh:
		return w.High
	case TierMedium:
		return w.Medium
	case TierLow:
		return w.Low
	default:
		return w.Other
	}
}

// normalizePermission 短名补全为 android.permission.X
func normalizePermission(name string) string {
	name = strings.TrimSpace(name)
	if name != "" && !strings.Contains(name, ".") {
		return permissionPrefix + name
	}
	return name
}
