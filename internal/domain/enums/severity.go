package enums

type Severity string

const (
	SeverityNone     Severity = ""
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

func ParseSeverity(raw string) (Severity, bool) {
	switch Severity(raw) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(raw), true
	default:
		return SeverityNone, false
	}
}

type PatternType string

const (
	PatternHighVolume    PatternType = "high_volume"
	PatternAccountFarm   PatternType = "account_farm"
	PatternSybilActivity PatternType = "sybil_activity"
)
