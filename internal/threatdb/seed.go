package threatdb

import "time"

// seedThreats 首次启动写入的代表性威胁记录
func seedThreats(now time.Time) []ThreatRecord {
	now = now.UTC()
	return []ThreatRecord{
		{
			ID:          "threat-seed-anubis",
			Hash:        "5d0c0ac0d3a0d1a7d4f6b1c2e3f4a5b6c7d8e9f0a1b2c3d4e5f6a7b8c9d0e1f2",
			PackageName: "com.android.security.update",
			Type:        "banking_trojan",
			Family:      "Anubis",
			Confidence:  95,
			Description: "Banking trojan abusing accessibility service for overlay attacks",
			Severity:    SeverityCritical,
			Tags:        []string{"banking", "overlay", "accessibility"},
			FirstSeen:   now,
			LastSeen:    now,
		},
		{
			ID:          "threat-seed-joker",
			PackageName: "com.flashlight.free.pro",
			Type:        "fleeceware",
			Family:      "Joker",
			Confidence:  85,
			Description: "Premium SMS subscription fraud with dynamic code loading",
			Severity:    SeverityHigh,
			Tags:        []string{"sms", "dexloader"},
			FirstSeen:   now,
			LastSeen:    now,
		},
		{
			ID:          "threat-seed-cerberus",
			Hash:        "9a8b7c6d5e4f3a2b1c0d9e8f7a6b5c4d3e2f1a0b",
			PackageName: "com.cleaner.booster.master",
			Type:        "banking_trojan",
			Family:      "Cerberus",
			Confidence:  90,
			Description: "Credential stealer with SMS interception and keylogging",
			Severity:    SeverityCritical,
			Tags:        []string{"banking", "sms", "keylogger"},
			FirstSeen:   now,
			LastSeen:    now,
		},
		{
			ID:          "threat-seed-hiddad",
			PackageName: "com.game.puzzle.hd",
			Type:        "adware",
			Family:      "Hiddad",
			Confidence:  70,
			Description: "Aggressive adware that hides its launcher icon",
			Severity:    SeverityMedium,
			Tags:        []string{"adware"},
			FirstSeen:   now,
			LastSeen:    now,
		},
		{
			ID:          "threat-seed-spynote",
			Hash:        "e3b5c1d2a4f6e8b0c2d4e6f8a0b2c4d6e8f0a2b4c6d8e0f2a4b6c8d0e2f4a6b8",
			Type:        "rat",
			Family:      "SpyNote",
			Confidence:  92,
			Description: "Remote access trojan with screen capture and call recording",
			Severity:    SeverityCritical,
			Tags:        []string{"rat", "spyware", "mediaprojection"},
			FirstSeen:   now,
			LastSeen:    now,
		},
	}
}

// seedPatterns 首次启动写入的扫描特征
func seedPatterns() []ScanPattern {
	return []ScanPattern{
		{
			ID:          "pattern-seed-overlay",
			Name:        "overlay_attack",
			Pattern:     "TYPE_APPLICATION_OVERLAY",
			Description: "Draws windows over other apps to phish credentials",
			RiskLevel:   "high",
			Tags:        []string{"overlay", "phishing"},
			Examples:    []string{"TYPE_APPLICATION_OVERLAY", "TYPE_SYSTEM_ALERT"},
		},
		{
			ID:          "pattern-seed-accessibility",
			Name:        "accessibility_abuse",
			Pattern:     "AccessibilityService",
			Description: "Reads screen content and performs gestures on behalf of the user",
			RiskLevel:   "high",
			Tags:        []string{"accessibility"},
			Examples:    []string{"AccessibilityNodeInfo", "performGlobalAction", "onAccessibilityEvent"},
		},
		{
			ID:          "pattern-seed-sms",
			Name:        "sms_interception",
			Pattern:     "SmsManager",
			Description: "Sends or intercepts SMS messages",
			RiskLevel:   "medium",
			Tags:        []string{"sms"},
			Examples:    []string{"SmsManager", "sendTextMessage", "android.provider.Telephony.SMS_RECEIVED"},
		},
		{
			ID:          "pattern-seed-dynamic",
			Name:        "dynamic_code_loading",
			Pattern:     "DexClassLoader",
			Description: "Loads additional bytecode at runtime",
			RiskLevel:   "high",
			Tags:        []string{"dexloader"},
			Examples:    []string{"DexClassLoader", "InMemoryDexClassLoader"},
		},
		{
			ID:          "pattern-seed-root",
			Name:        "root_detection",
			Pattern:     "/system/xbin/su",
			Description: "Probes for root binaries",
			RiskLevel:   "low",
			Tags:        []string{"root"},
			Examples:    []string{"/system/xbin/su", "Superuser.apk"},
		},
		{
			ID:          "pattern-seed-webview",
			Name:        "webview_bridge",
			Pattern:     "addJavascriptInterface",
			Description: "Exposes Java objects to web content",
			RiskLevel:   "medium",
			Tags:        []string{"webview"},
			Examples:    []string{"addJavascriptInterface"},
		},
	}
}
