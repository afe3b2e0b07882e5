package scoring

import (
	"fmt"
	"strings"

	"github.com/apk-analysis/apk-triage-go/internal/domain"
	"github.com/apk-analysis/apk-triage-go/internal/staticanalysis"
)

// 规则名称
const (
	RuleSubscoreFloor     = "subscore_floor"
	RuleKnownThreat       = "known_threat"
	RuleLowSignalCap      = "low_signal_cap"
	RuleMalwareName       = "malware_indicator_name"
	RuleModdedName        = "modded_app_name"
	RulePermissionFloor   = "permission_tier_floor"
	RuleCodeFloor         = "code_tier_floor"
	RuleBankingDomain     = "banking_domain"
	RulePlatformSignature = "platform_signature"
	RuleNoSignalCap       = "no_signal_cap"
)

var (
	malwareIndicators = []string{
		"malware", "trojan", "virus", "spyware", "keylogger", "stealer",
		"ransom", "botnet", "backdoor", "exploit", "payload", "rootkit",
	}
	moddedIndicators = []string{
		"modded", "mod_apk", "_mod", "-mod", ".mod.", "hack", "crack", "cheat", "unlocked", "patched",
	}
	bankingIndicators = []string{"bank", "pay", "wallet", "finance", "credit"}
	platformPrefixes  = []string{"com.google.", "com.android.", "com.samsung.", "com.microsoft."}
)

// RuleFunc 纯函数：根据当前分数和输入给出新分数，未调整时返回 nil
type RuleFunc func(score int, in *Input) (int, *domain.Adjustment)

// Rule 命名的调整规则
type Rule struct {
	Name  string
	Apply RuleFunc
}

// Rules 按固定顺序返回全部调整规则
func (t Thresholds) Rules() []Rule {
	return []Rule{
		{RuleSubscoreFloor, t.subscoreFloor},
		{RuleKnownThreat, t.knownThreat},
		{RuleLowSignalCap, t.lowSignalCap},
		{RuleMalwareName, t.malwareName},
		{RuleModdedName, t.moddedName},
		{RulePermissionFloor, t.permissionFloor},
		{RuleCodeFloor, t.codeFloor},
		{RuleBankingDomain, t.bankingDomain},
		{RulePlatformSignature, t.platformSignature},
		{RuleNoSignalCap, t.noSignalCap},
	}
}

func raiseTo(rule string, score, floor int, reason string) (int, *domain.Adjustment) {
	if score >= floor {
		return score, nil
	}
	return floor, &domain.Adjustment{Rule: rule, Delta: floor - score, Reason: reason}
}

func capAt(rule string, score, limit int, reason string) (int, *domain.Adjustment) {
	if score <= limit {
		return score, nil
	}
	return limit, &domain.Adjustment{Rule: rule, Delta: limit - score, Reason: reason}
}

func reduceBy(rule string, score, amount int, reason string) (int, *domain.Adjustment) {
	if amount <= 0 {
		return score, nil
	}
	return score - amount, &domain.Adjustment{Rule: rule, Delta: -amount, Reason: reason}
}

func (t Thresholds) subscoreFloor(score int, in *Input) (int, *domain.Adjustment) {
	p, c := in.permissionScore(), in.codeScore()
	if p < t.SubscoreTrigger && c < t.SubscoreTrigger {
		return score, nil
	}
	return raiseTo(RuleSubscoreFloor, score, t.SubscoreFloor,
		fmt.Sprintf("sub-score at or above %d (permissions %d, code %d)", t.SubscoreTrigger, p, c))
}

func (t Thresholds) knownThreat(score int, in *Input) (int, *domain.Adjustment) {
	if in.Threat == nil {
		return score, nil
	}
	return raiseTo(RuleKnownThreat, score, t.KnownThreatFloor,
		fmt.Sprintf("matches known threat %s (%s)", in.Threat.ID, in.Threat.Family))
}

func (t Thresholds) lowSignalCap(score int, in *Input) (int, *domain.Adjustment) {
	if in.Threat != nil || in.permissionScore() >= t.LowSignalMax || in.codeScore() >= t.LowSignalMax {
		return score, nil
	}
	return capAt(RuleLowSignalCap, score, t.LowSignalCap, "both sub-scores below low-signal threshold")
}

func (t Thresholds) malwareName(score int, in *Input) (int, *domain.Adjustment) {
	word, ok := in.nameContains(malwareIndicators)
	if !ok {
		return score, nil
	}
	return raiseTo(RuleMalwareName, score, t.MalwareNameFloor, fmt.Sprintf("name contains %q", word))
}

func (t Thresholds) moddedName(score int, in *Input) (int, *domain.Adjustment) {
	word, ok := in.nameContains(moddedIndicators)
	if !ok {
		return score, nil
	}
	return raiseTo(RuleModdedName, score, t.ModdedNameFloor, fmt.Sprintf("name suggests modified app (%q)", word))
}

func (t Thresholds) permissionFloor(score int, in *Input) (int, *domain.Adjustment) {
	if in.Permissions == nil {
		return score, nil
	}
	h := in.Permissions.CountTier(staticanalysis.TierHigh)
	m := in.Permissions.CountTier(staticanalysis.TierMedium)
	l := in.Permissions.CountTier(staticanalysis.TierLow)
	floor := t.PermissionFloors.floor(h, m, l)
	if floor == 0 {
		return score, nil
	}
	return raiseTo(RulePermissionFloor, score, floor,
		fmt.Sprintf("permission tiers high=%d medium=%d low=%d", h, m, l))
}

func (t Thresholds) codeFloor(score int, in *Input) (int, *domain.Adjustment) {
	if in.Code == nil {
		return score, nil
	}
	h := in.Code.CountTier(staticanalysis.TierHigh)
	m := in.Code.CountTier(staticanalysis.TierMedium)
	l := in.Code.CountTier(staticanalysis.TierLow)
	floor := t.CodeFloors.floor(h, m, l)
	if floor == 0 {
		return score, nil
	}
	return raiseTo(RuleCodeFloor, score, floor,
		fmt.Sprintf("code pattern tiers high=%d medium=%d low=%d", h, m, l))
}

func (t Thresholds) bankingDomain(score int, in *Input) (int, *domain.Adjustment) {
	if score >= t.BankingCeiling {
		return score, nil
	}
	word, ok := in.nameContains(bankingIndicators)
	if !ok {
		return score, nil
	}
	return reduceBy(RuleBankingDomain, score, t.BankingReduction, fmt.Sprintf("banking-domain naming (%q)", word))
}

func (t Thresholds) platformSignature(score int, in *Input) (int, *domain.Adjustment) {
	if score >= t.PlatformCeiling {
		return score, nil
	}
	pkg := in.packageName()
	for _, prefix := range platformPrefixes {
		if strings.HasPrefix(pkg, prefix) {
			return reduceBy(RulePlatformSignature, score, t.PlatformReduction, "recognised platform package "+prefix+"*")
		}
	}
	return score, nil
}

func (t Thresholds) noSignalCap(score int, in *Input) (int, *domain.Adjustment) {
	if in.Threat != nil {
		return score, nil
	}
	if in.Permissions != nil && len(in.Permissions.Suspicious) > 0 {
		return score, nil
	}
	if in.Code != nil && len(in.Code.MatchedPatterns) > 0 {
		return score, nil
	}
	return capAt(RuleNoSignalCap, score, t.NoSignalCap, "no suspicious permissions, code patterns or threat match")
}
