package rules

import (
	"fmt"

	"github.com/ivankudzin/voxclip-safety/internal/domain/enums"
)

// Bands maps a count or score to a severity. A value reaches a band once it is
// greater than or equal to the band's threshold; zero disables a band.
type Bands struct {
	Low      int64 `yaml:"low" json:"low"`
	Medium   int64 `yaml:"medium" json:"medium"`
	High     int64 `yaml:"high" json:"high"`
	Critical int64 `yaml:"critical" json:"critical"`
}

func (b Bands) Validate() error {
	prev := int64(0)
	for _, threshold := range []int64{b.Low, b.Medium, b.High, b.Critical} {
		if threshold < 0 {
			return fmt.Errorf("band threshold must be non-negative")
		}
		if threshold == 0 {
			continue
		}
		if threshold <= prev {
			return fmt.Errorf("band thresholds must be strictly increasing")
		}
		prev = threshold
	}
	return nil
}

func (b Bands) Classify(value int64) enums.Severity {
	switch {
	case b.Critical > 0 && value >= b.Critical:
		return enums.SeverityCritical
	case b.High > 0 && value >= b.High:
		return enums.SeverityHigh
	case b.Medium > 0 && value >= b.Medium:
		return enums.SeverityMedium
	case b.Low > 0 && value >= b.Low:
		return enums.SeverityLow
	default:
		return enums.SeverityNone
	}
}

// Range returns the inclusive lower bound and the exclusive upper bound of a band.
// A nil upper bound means the band is open-ended.
func (b Bands) Range(severity enums.Severity) (int64, *int64, bool) {
	thresholds := []struct {
		severity enums.Severity
		value    int64
	}{
		{enums.SeverityLow, b.Low},
		{enums.SeverityMedium, b.Medium},
		{enums.SeverityHigh, b.High},
		{enums.SeverityCritical, b.Critical},
	}

	for i, th := range thresholds {
		if th.severity != severity {
			continue
		}
		if th.value <= 0 {
			return 0, nil, false
		}
		for _, next := range thresholds[i+1:] {
			if next.value > 0 {
				upper := next.value
				return th.value, &upper, true
			}
		}
		return th.value, nil, true
	}
	return 0, nil, false
}

// DefaultRiskBands classify moderation risk scores on a 0..100 scale.
func DefaultRiskBands() Bands {
	return Bands{Low: 1, Medium: 40, High: 70, Critical: 90}
}

// PriorityForSeverity is the initial queue priority of a new moderation item.
func PriorityForSeverity(severity enums.Severity) int {
	return severity.Rank()
}

const MaxRiskScore = 100

func ClampRiskScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > MaxRiskScore {
		return MaxRiskScore
	}
	return score
}
