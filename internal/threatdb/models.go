package threatdb

import "time"

// Severity 威胁严重程度
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid 是否为合法取值
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// ThreatRecord 已知恶意样本记录，按 hash 和包名双索引
type ThreatRecord struct {
	ID          string    `json:"id"`
	Hash        string    `json:"hash,omitempty"`
	PackageName string    `json:"packageName,omitempty"`
	Type        string    `json:"type"`
	Family      string    `json:"family,omitempty"`
	Confidence  int       `json:"confidence"`
	Description string    `json:"description"`
	Severity    Severity  `json:"severity"`
	Tags        []string  `json:"tags"`
	FirstSeen   time.Time `json:"firstSeen"`
	LastSeen    time.Time `json:"lastSeen"`
}

func (r ThreatRecord) clone() ThreatRecord {
	c := r
	c.Tags = append([]string{}, r.Tags...)
	return c
}

// ScanPattern 可复用的代码扫描特征
type ScanPattern struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Pattern     string   `json:"pattern"`
	Description string   `json:"description"`
	RiskLevel   string   `json:"riskLevel"`
	Tags        []string `json:"tags"`
	Examples    []string `json:"examples"`
}

func (p ScanPattern) clone() ScanPattern {
	c := p
	c.Tags = append([]string{}, p.Tags...)
	c.Examples = append([]string{}, p.Examples...)
	return c
}

// Summary 威胁库统计
type Summary struct {
	Total      int            `json:"total"`
	ByType     map[string]int `json:"byType"`
	ByFamily   map[string]int `json:"byFamily"`
	BySeverity map[string]int `json:"bySeverity"`
	Recent     []ThreatRecord `json:"recent"`
}
