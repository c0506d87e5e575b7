package format

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OneLineReason summarises the free-form stats block into at most two short reasons.
// Stats arrive as decoded JSON, so every lookup tolerates missing or mistyped keys.
func OneLineReason(stats map[string]any) string {
	var reasons []string

	if form, ok := side(stats, "form_last5", "home").(string); ok {
		if strings.Count(form, "W") >= strongFormMinimumWin {
			reasons = append(reasons, "strong home form")
		}
	}

	homeXG, _ := number(side(stats, "xg_last5", "home"))
	awayXG, _ := number(side(stats, "xg_last5", "away"))
	if homeXG > awayXG+xgTrendMargin {
		reasons = append(reasons, fmt.Sprintf("+%s xG trend", Fixed(homeXG-awayXG, 1)))
	}

	if hasKeyInjury(stats["injuries_key"]) {
		reasons = append(reasons, "key player out")
	}

	homeRest, ok := number(side(stats, "rest_days", "home"))
	if !ok {
		homeRest = defaultRestDays
	}
	awayRest, ok := number(side(stats, "rest_days", "away"))
	if !ok {
		awayRest = defaultRestDays
	}
	if homeRest > awayRest+restAdvantageDays {
		reasons = append(reasons, "better rest")
	}

	if len(reasons) == 0 {
		return defaultReason
	}
	if len(reasons) > maxReasons {
		reasons = reasons[:maxReasons]
	}
	return strings.Join(reasons, ", ")
}

func side(stats map[string]any, key, team string) any {
	switch m := stats[key].(type) {
	case map[string]any:
		return m[team]
	case map[string]string:
		return m[team]
	case map[string]float64:
		if v, ok := m[team]; ok {
			return v
		}
	}
	return nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func hasKeyInjury(v any) bool {
	var injuries []string
	switch list := v.(type) {
	case []string:
		injuries = list
	case []any:
		for _, item := range list {
			if s, ok := item.(string); ok {
				injuries = append(injuries, s)
			}
		}
	}
	for _, injury := range injuries {
		if strings.Contains(strings.ToLower(injury), "out") {
			return true
		}
	}
	return false
}
