package scoring

// Thresholds 聚合评分使用的全部常量，均可通过配置覆盖
type Thresholds struct {
	PermissionWeight float64 `mapstructure:"permission_weight"`
	CodeWeight       float64 `mapstructure:"code_weight"`

	// 任一子分达到 SubscoreTrigger 时保底 SubscoreFloor
	SubscoreTrigger  int `mapstructure:"subscore_trigger"`
	SubscoreFloor    int `mapstructure:"subscore_floor"`
	KnownThreatFloor int `mapstructure:"known_threat_floor"`
	// 两个子分都低于 LowSignalMax 且未命中威胁库时封顶 LowSignalCap
	LowSignalMax int `mapstructure:"low_signal_max"`
	LowSignalCap int `mapstructure:"low_signal_cap"`

	MalwareNameFloor int `mapstructure:"malware_name_floor"`
	ModdedNameFloor  int `mapstructure:"modded_name_floor"`

	PermissionFloors TierFloors `mapstructure:"permission_floors"`
	CodeFloors       TierFloors `mapstructure:"code_floors"`

	// 分数低于 Ceiling 时才减分
	BankingReduction  int `mapstructure:"banking_reduction"`
	BankingCeiling    int `mapstructure:"banking_ceiling"`
	PlatformReduction int `mapstructure:"platform_reduction"`
	PlatformCeiling   int `mapstructure:"platform_ceiling"`
	NoSignalCap       int `mapstructure:"no_signal_cap"`

	// 风险等级下界
	LowRiskAt    int `mapstructure:"low_risk_at"`
	SuspiciousAt int `mapstructure:"suspicious_at"`
	HighRiskAt   int `mapstructure:"high_risk_at"`
	MaliciousAt  int `mapstructure:"malicious_at"`

	ThreatConfidence  int `mapstructure:"threat_confidence"`
	StrongConfidence  int `mapstructure:"strong_confidence"`
	DefaultConfidence int `mapstructure:"default_confidence"`
	// 任一子分超过该值时使用 StrongConfidence
	StrongSubscore int `mapstructure:"strong_subscore"`
}

// TierFloors 按各层级命中数量给出的保底分
type TierFloors struct {
	HighMany    int `mapstructure:"high_many"`
	HighOne     int `mapstructure:"high_one"`
	MediumCount int `mapstructure:"medium_count"`
	MediumFloor int `mapstructure:"medium_floor"`
	LowCount    int `mapstructure:"low_count"`
	LowFloor    int `mapstructure:"low_floor"`
}

// floor 返回命中数对应的保底分，无则为 0
func (f TierFloors) floor(high, medium, low int) int {
	switch {
	case high >= 2:
		return f.HighMany
	case high == 1:
		return f.HighOne
	case f.MediumCount > 0 && medium >= f.MediumCount:
		return f.MediumFloor
	case f.LowCount > 0 && low >= f.LowCount:
		return f.LowFloor
	}
	return 0
}

// DefaultThresholds 默认阈值
func DefaultThresholds() Thresholds {
	return Thresholds{
		PermissionWeight:  0.55,
		CodeWeight:        0.45,
		SubscoreTrigger:   60,
		SubscoreFloor:     70,
		KnownThreatFloor:  90,
		LowSignalMax:      15,
		LowSignalCap:      20,
		MalwareNameFloor:  80,
		ModdedNameFloor:   55,
		PermissionFloors:  TierFloors{HighMany: 75, HighOne: 55, MediumCount: 3, MediumFloor: 50, LowCount: 5, LowFloor: 35},
		CodeFloors:        TierFloors{HighMany: 75, HighOne: 60, MediumCount: 2, MediumFloor: 45, LowCount: 3, LowFloor: 30},
		BankingReduction:  15,
		BankingCeiling:    80,
		PlatformReduction: 10,
		PlatformCeiling:   50,
		NoSignalCap:       20,
		LowRiskAt:         30,
		SuspiciousAt:      50,
		HighRiskAt:        70,
		MaliciousAt:       85,
		ThreatConfidence:  95,
		StrongConfidence:  85,
		DefaultConfidence: 70,
		StrongSubscore:    50,
	}
}
