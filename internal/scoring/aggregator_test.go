package scoring

import (
	"testing"

	"github.com/apk-analysis/apk-triage-go/internal/domain"
	"github.com/apk-analysis/apk-triage-go/internal/staticanalysis"
	"github.com/apk-analysis/apk-triage-go/internal/threatdb"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAggregator() *Aggregator {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewAggregator(logger, DefaultThresholds())
}

func perms(names ...string) *staticanalysis.PermissionAssessment {
	full := make([]string, 0, len(names))
	for _, n := range names {
		full = append(full, "android.permission."+n)
	}
	return staticanalysis.ScorePermissions(full)
}

func manifest(pkg string) *staticanalysis.ManifestInfo {
	m := staticanalysis.DefaultManifestInfo()
	m.PackageName = pkg
	return m
}

func adjustmentRules(v *domain.Verdict) []string {
	names := []string{}
	for _, a := range v.Breakdown.Adjustments {
		names = append(names, a.Rule)
	}
	return names
}

// TestLevelFor_Boundaries 测试风险等级边界
func TestLevelFor_Boundaries(t *testing.T) {
	a := newTestAggregator()
	tests := map[int]domain.RiskLevel{
		0:   domain.RiskLevelSafe,
		29:  domain.RiskLevelSafe,
		30:  domain.RiskLevelLowRisk,
		49:  domain.RiskLevelLowRisk,
		50:  domain.RiskLevelSuspicious,
		69:  domain.RiskLevelSuspicious,
		70:  domain.RiskLevelHighRisk,
		84:  domain.RiskLevelHighRisk,
		85:  domain.RiskLevelMalicious,
		100: domain.RiskLevelMalicious,
	}
	for score, expected := range tests {
		assert.Equal(t, expected, a.LevelFor(score), "score %d", score)
	}
}

// TestAggregate_ScoreAlwaysInRange 测试任意子分组合下分数在 [0,100]
func TestAggregate_ScoreAlwaysInRange(t *testing.T) {
	a := newTestAggregator()
	threat := &threatdb.ThreatRecord{ID: "threat-x", Family: "X"}

	for p := 0; p <= 100; p += 5 {
		for c := 0; c <= 100; c += 5 {
			for _, matched := range []*threatdb.ThreatRecord{nil, threat} {
				v := a.Aggregate(Input{
					Filename:    "bank_wallet_hack.apk",
					Manifest:    manifest("com.google.bank"),
					Permissions: &staticanalysis.PermissionAssessment{RiskScore: p},
					Code:        &staticanalysis.CodeAssessment{RiskScore: c},
					Threat:      matched,
				})
				require.GreaterOrEqual(t, v.RiskScore, 0)
				require.LessOrEqual(t, v.RiskScore, 100)
				require.Equal(t, a.LevelFor(v.RiskScore), v.RiskLevel)
				require.Equal(t, v.RiskLevel == domain.RiskLevelSafe, v.IsSafe)
			}
		}
	}
}

// TestAggregate_NoSignalIsSafe 无可疑权限、无代码特征、无威胁命中时必定安全
func TestAggregate_NoSignalIsSafe(t *testing.T) {
	a := newTestAggregator()

	for _, name := range []string{"calculator.apk", "trojan_hack_modded.apk"} {
		v := a.Aggregate(Input{
			Filename:    name,
			Manifest:    manifest("com.example.calc"),
			Permissions: perms("INTERNET"),
			Code:        staticanalysis.DefaultCodeAssessment(),
		})
		assert.LessOrEqual(t, v.RiskScore, 20, name)
		assert.Equal(t, domain.RiskLevelSafe, v.RiskLevel, name)
		assert.True(t, v.IsSafe)
	}
}

// TestAggregate_KnownThreatFloor 命中威胁库时分数至少为 90
func TestAggregate_KnownThreatFloor(t *testing.T) {
	a := newTestAggregator()
	threat := &threatdb.ThreatRecord{ID: "threat-1", Family: "Anubis", Type: "banking_trojan", Severity: threatdb.SeverityCritical}

	v := a.Aggregate(Input{
		Filename:    "mybank.apk",
		Manifest:    manifest("com.android.bank"),
		Permissions: perms(),
		Code:        staticanalysis.DefaultCodeAssessment(),
		Threat:      threat,
	})

	assert.GreaterOrEqual(t, v.RiskScore, 90)
	assert.Equal(t, domain.RiskLevelMalicious, v.RiskLevel)
	assert.Equal(t, 95, v.Confidence)
	assert.Contains(t, adjustmentRules(v), RuleKnownThreat)
	assert.Contains(t, v.Recommendations, "Matches known threat Anubis (banking_trojan, severity critical).")
}

// TestAggregate_BankingReduction 测试金融类命名减分
func TestAggregate_BankingReduction(t *testing.T) {
	v := newTestAggregator().Aggregate(Input{
		Filename:    "bank.apk",
		Manifest:    manifest("com.example.bank"),
		Permissions: perms("INTERNET", "READ_SMS"),
		Code:        staticanalysis.DefaultCodeAssessment(),
	})

	assert.Equal(t, 25, v.Breakdown.PermissionScore)
	assert.Equal(t, 14, v.Breakdown.BaseScore)
	assert.Equal(t, []string{RuleBankingDomain}, adjustmentRules(v))
	assert.Equal(t, -15, v.Breakdown.Adjustments[0].Delta)
	assert.Equal(t, 0, v.RiskScore)
	assert.Equal(t, domain.RiskLevelSafe, v.RiskLevel)
	assert.Equal(t, 70, v.Confidence)
}

// TestAggregate_SubscoreAndPermissionFloors 测试子分保底与权限层级保底
func TestAggregate_SubscoreAndPermissionFloors(t *testing.T) {
	v := newTestAggregator().Aggregate(Input{
		Filename:    "helper.apk",
		Manifest:    manifest("com.example.helper"),
		Permissions: perms("SYSTEM_ALERT_WINDOW", "BIND_ACCESSIBILITY_SERVICE"),
		Code:        staticanalysis.DefaultCodeAssessment(),
	})

	assert.Equal(t, 60, v.Breakdown.PermissionScore)
	assert.Equal(t, 33, v.Breakdown.BaseScore)
	assert.Equal(t, []string{RuleSubscoreFloor, RulePermissionFloor}, adjustmentRules(v))
	assert.Equal(t, 75, v.RiskScore)
	assert.Equal(t, domain.RiskLevelHighRisk, v.RiskLevel)
	assert.Equal(t, 85, v.Confidence)
}

// TestAggregate_NameIndicators 测试恶意/修改版命名
func TestAggregate_NameIndicators(t *testing.T) {
	a := newTestAggregator()

	malware := a.Aggregate(Input{Filename: "trojan.apk", Permissions: perms("CAMERA"), Code: staticanalysis.DefaultCodeAssessment()})
	assert.Equal(t, 80, malware.RiskScore)
	assert.Equal(t, domain.RiskLevelHighRisk, malware.RiskLevel)

	modded := a.Aggregate(Input{Filename: "game_mod.apk", Permissions: perms("CAMERA"), Code: staticanalysis.DefaultCodeAssessment()})
	assert.Equal(t, 55, modded.RiskScore)
	assert.Equal(t, []string{RuleModdedName}, adjustmentRules(modded))
}

// TestAggregate_PlatformSignature 测试平台包名减分
func TestAggregate_PlatformSignature(t *testing.T) {
	v := newTestAggregator().Aggregate(Input{
		Filename:    "gms.apk",
		Manifest:    manifest("com.google.android.gms"),
		Permissions: perms("CAMERA", "RECORD_AUDIO"),
		Code:        staticanalysis.DefaultCodeAssessment(),
	})

	assert.Equal(t, 14, v.Breakdown.BaseScore)
	assert.Equal(t, []string{RulePlatformSignature}, adjustmentRules(v))
	assert.Equal(t, 4, v.RiskScore)
}

// TestAggregate_CodeFloor 测试代码特征层级保底
func TestAggregate_CodeFloor(t *testing.T) {
	code := &staticanalysis.CodeAssessment{
		MatchedPatterns: []staticanalysis.PatternMatch{{Pattern: "DexClassLoader", SourceFile: "classes.dex", Confidence: staticanalysis.TierHigh}},
		RiskScore:       33,
	}

	v := newTestAggregator().Aggregate(Input{Filename: "x.apk", Permissions: perms(), Code: code})

	assert.Equal(t, 20, v.Breakdown.BaseScore)
	assert.Equal(t, []string{RuleCodeFloor}, adjustmentRules(v))
	assert.Equal(t, 60, v.RiskScore)
	assert.Equal(t, domain.RiskLevelSuspicious, v.RiskLevel)
}

// TestAggregate_Deterministic 测试相同输入得到相同结果
func TestAggregate_Deterministic(t *testing.T) {
	a := newTestAggregator()
	in := Input{
		Filename:    "wallet_cracked.apk",
		Manifest:    manifest("com.example.wallet"),
		Permissions: perms("READ_SMS", "SEND_SMS", "READ_CONTACTS", "CAMERA", "SYSTEM_ALERT_WINDOW"),
		Code:        staticanalysis.DefaultCodeAssessment(),
	}

	assert.Equal(t, a.Aggregate(in), a.Aggregate(in))
}

// TestAggregate_NilInputs 测试全部输入缺失
func TestAggregate_NilInputs(t *testing.T) {
	v := newTestAggregator().Aggregate(Input{})

	assert.Equal(t, 0, v.RiskScore)
	assert.Equal(t, domain.RiskLevelSafe, v.RiskLevel)
	assert.NotEmpty(t, v.Recommendations)
}

// TestRules_Order 测试规则顺序固定
func TestRules_Order(t *testing.T) {
	names := []string{}
	for _, r := range DefaultThresholds().Rules() {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{
		RuleSubscoreFloor, RuleKnownThreat, RuleLowSignalCap, RuleMalwareName, RuleModdedName,
		RulePermissionFloor, RuleCodeFloor, RuleBankingDomain, RulePlatformSignature, RuleNoSignalCap,
	}, names)
}

// TestRecommendations 测试建议生成
func TestRecommendations(t *testing.T) {
	recs := Recommendations(domain.RiskLevelSuspicious, perms("READ_SMS", "RECEIVE_SMS", "READ_CONTACTS", "CAMERA"), nil)

	assert.Equal(t, []string{
		levelAdvice[domain.RiskLevelSuspicious],
		"SMS access can intercept one-time passwords.",
		"Confirm the app needs READ_CONTACTS (medium risk).",
	}, recs)
}
