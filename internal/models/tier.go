package models

import "fmt"

// ConfidenceTier is a discretization of a win probability. The zero value is
// TierValue, the lowest tier.
type ConfidenceTier int

const (
	TierValue ConfidenceTier = iota
	TierMedium
	TierSafe
)

// Tier boundaries in percent. Both lower bounds are inclusive.
const (
	SafeThresholdPct   = 70.0
	MediumThresholdPct = 55.0
)

// ClassifyConfidence maps a win probability (0–1) to its tier.
func ClassifyConfidence(winProbability float64) ConfidenceTier {
	pct := winProbability * 100
	switch {
	case pct >= SafeThresholdPct:
		return TierSafe
	case pct >= MediumThresholdPct:
		return TierMedium
	default:
		return TierValue
	}
}

// Tiers lists every tier from highest to lowest.
func Tiers() []ConfidenceTier {
	return []ConfidenceTier{TierSafe, TierMedium, TierValue}
}

func (t ConfidenceTier) String() string {
	switch t {
	case TierSafe:
		return "Safe"
	case TierMedium:
		return "Medium"
	case TierValue:
		return "Value"
	default:
		return fmt.Sprintf("ConfidenceTier(%d)", int(t))
	}
}

// ParseTier is the inverse of String.
func ParseTier(s string) (ConfidenceTier, error) {
	switch s {
	case "Safe":
		return TierSafe, nil
	case "Medium":
		return TierMedium, nil
	case "Value":
		return TierValue, nil
	}
	return 0, fmt.Errorf("unknown confidence tier %q", s)
}

// MarshalText renders the tier by name so it reads well in JSON bodies and map keys.
func (t ConfidenceTier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *ConfidenceTier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
