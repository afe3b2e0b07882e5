package scoring

import (
	"fmt"
	"math"
	"strings"

	"github.com/apk-analysis/apk-triage-go/internal/domain"
	"github.com/apk-analysis/apk-triage-go/internal/staticanalysis"
	"github.com/apk-analysis/apk-triage-go/internal/threatdb"
	"github.com/sirupsen/logrus"
)

// Input 聚合评分的输入，任一字段可以为 nil
type Input struct {
	Filename    string
	File        *staticanalysis.FileMetadata
	Manifest    *staticanalysis.ManifestInfo
	Permissions *staticanalysis.PermissionAssessment
	Code        *staticanalysis.CodeAssessment
	Threat      *threatdb.ThreatRecord
}

func (in *Input) permissionScore() int {
	if in.Permissions == nil {
		return 0
	}
	return in.Permissions.RiskScore
}

func (in *Input) codeScore() int {
	if in.Code == nil {
		return 0
	}
	return in.Code.RiskScore
}

func (in *Input) packageName() string {
	if in.Manifest == nil {
		return ""
	}
	return strings.ToLower(in.Manifest.PackageName)
}

// nameContains 在文件名和包名中查找关键词
func (in *Input) nameContains(words []string) (string, bool) {
	names := []string{strings.ToLower(in.Filename), in.packageName()}
	for _, w := range words {
		for _, n := range names {
			if n != "" && strings.Contains(n, w) {
				return w, true
			}
		}
	}
	return "", false
}

// Aggregator 风险聚合器
type Aggregator struct {
	logger     *logrus.Logger
	thresholds Thresholds
	rules      []Rule
}

// NewAggregator 创建风险聚合器
func NewAggregator(logger *logrus.Logger, thresholds Thresholds) *Aggregator {
	return &Aggregator{
		logger:     logger,
		thresholds: thresholds,
		rules:      thresholds.Rules(),
	}
}

// Aggregate 计算基础分后依次应用调整规则，得出最终判定
func (a *Aggregator) Aggregate(in Input) *domain.Verdict {
	p, c := in.permissionScore(), in.codeScore()
	base := int(math.Round(a.thresholds.PermissionWeight*float64(p) + a.thresholds.CodeWeight*float64(c)))

	breakdown := domain.ScoreBreakdown{
		PermissionScore: p,
		CodeScore:       c,
		BaseScore:       base,
		Adjustments:     []domain.Adjustment{},
	}

	score := base
	for _, rule := range a.rules {
		next, adj := rule.Apply(score, &in)
		if adj == nil {
			continue
		}
		a.logger.WithFields(logrus.Fields{
			"rule":   adj.Rule,
			"delta":  adj.Delta,
			"score":  next,
			"reason": adj.Reason,
		}).Debug("Score adjusted")
		breakdown.Adjustments = append(breakdown.Adjustments, *adj)
		score = next
	}
	score = max(0, min(100, score))

	level := a.LevelFor(score)
	verdict := &domain.Verdict{
		RiskLevel:  level,
		RiskScore:  score,
		IsSafe:     level == domain.RiskLevelSafe,
		Confidence: a.confidence(p, c, in.Threat != nil),
		Breakdown:  breakdown,
	}
	verdict.Recommendations = Recommendations(level, in.Permissions, in.Threat)
	return verdict
}

// LevelFor 分数到风险等级的映射
func (a *Aggregator) LevelFor(score int) domain.RiskLevel {
	t := a.thresholds
	switch {
	case score < t.LowRiskAt:
		return domain.RiskLevelSafe
	case score < t.SuspiciousAt:
		return domain.RiskLevelLowRisk
	case score < t.HighRiskAt:
		return domain.RiskLevelSuspicious
	case score < t.MaliciousAt:
		return domain.RiskLevelHighRisk
	default:
		return domain.RiskLevelMalicious
	}
}

func (a *Aggregator) confidence(p, c int, matched bool) int {
	switch {
	case matched:
		return a.thresholds.ThreatConfidence
	case p > a.thresholds.StrongSubscore || c > a.thresholds.StrongSubscore:
		return a.thresholds.StrongConfidence
	default:
		return a.thresholds.DefaultConfidence
	}
}

var levelAdvice = map[domain.RiskLevel]string{
	domain.RiskLevelSafe:       "No significant risk indicators were found.",
	domain.RiskLevelLowRisk:    "Low risk: review the requested permissions before installing.",
	domain.RiskLevelSuspicious: "Suspicious: install only from a trusted source after manual review.",
	domain.RiskLevelHighRisk:   "High risk: do not install without escalation to a security analyst.",
	domain.RiskLevelMalicious:  "Malicious: block installation and quarantine the package.",
}

var permissionAdvice = map[string]string{
	"android.permission.BIND_ACCESSIBILITY_SERVICE": "Accessibility service access can read the screen and perform actions for the user.",
	"android.permission.SYSTEM_ALERT_WINDOW":        "Overlay windows can be used to phish credentials on top of other apps.",
	"android.permission.REQUEST_INSTALL_PACKAGES":   "The app can install further packages; verify the update channel.",
	"android.permission.INSTALL_PACKAGES":           "The app can install further packages; verify the update channel.",
	"android.permission.BIND_DEVICE_ADMIN":          "Device admin rights can block uninstallation and lock the device.",
	"android.permission.READ_SMS":                   "SMS access can intercept one-time passwords.",
	"android.permission.RECEIVE_SMS":                "SMS access can intercept one-time passwords.",
	"android.permission.SEND_SMS":                   "Sending SMS can incur premium charges.",
}

// Recommendations 根据风险等级和可疑权限生成建议，结果确定
func Recommendations(level domain.RiskLevel, perms *staticanalysis.PermissionAssessment, threat *threatdb.ThreatRecord) []string {
	recs := []string{levelAdvice[level]}
	if threat != nil {
		family := threat.Family
		if family == "" {
			family = "unknown family"
		}
		recs = append(recs, fmt.Sprintf("Matches known threat %s (%s, severity %s).", family, threat.Type, threat.Severity))
	}
	if perms == nil {
		return recs
	}

	seen := make(map[string]bool)
	for _, s := range perms.Suspicious {
		advice, ok := permissionAdvice[s.Name]
		if !ok {
			if s.Tier != staticanalysis.TierHigh && s.Tier != staticanalysis.TierMedium {
				continue
			}
			advice = fmt.Sprintf("Confirm the app needs %s (%s risk).", strings.TrimPrefix(s.Name, "android.permission."), s.Tier)
		}
		if !seen[advice] {
			seen[advice] = true
			recs = append(recs, advice)
		}
	}
	return recs
}
