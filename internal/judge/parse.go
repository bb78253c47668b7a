package judge

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

// ParseEvaluation turns raw judge output into an Evaluation. LLMs wrap JSON
// in code fences, truncate it, or single-quote it; the parse chain is
// strip fences -> direct parse -> bounded repair -> reparse -> gjson field
// extraction -> fixed default. This function never fails.
func ParseEvaluation(raw string) *Evaluation {
	cleaned := stripCodeFences(raw)

	if eval, ok := decode(cleaned); ok {
		return normalize(eval)
	}

	repaired := repairJSON(cleaned)
	if eval, ok := decode(repaired); ok {
		return normalize(eval)
	}

	if score := gjson.Get(repaired, "score"); score.Exists() {
		eval := &Evaluation{
			Score:    score.Float(),
			Reasons:  gjson.Get(repaired, "reasons").String(),
			Criteria: map[string]float64{},
		}
		gjson.Get(repaired, "criteria").ForEach(func(key, value gjson.Result) bool {
			eval.Criteria[key.String()] = value.Float()
			return true
		})
		return normalize(eval)
	}

	return DefaultEvaluation("Failed to parse evaluation response")
}

// NormalizeScore maps a raw judge score onto [0,1]. Models are unreliable
// about the scale they answered on: >10 is read as 0-100, >1 as 0-10, and
// anything already in [0,1] passes through unchanged.
func NormalizeScore(raw float64) float64 {
	switch {
	case raw > 10:
		raw = raw / 100
	case raw > 1:
		raw = raw / 10
	}
	if raw < 0 {
		return 0
	}
	if raw > 1 {
		return 1
	}
	return raw
}

func decode(s string) (*Evaluation, bool) {
	var eval Evaluation
	if err := json.Unmarshal([]byte(s), &eval); err != nil {
		return nil, false
	}
	return &eval, true
}

func normalize(eval *Evaluation) *Evaluation {
	eval.Score = NormalizeScore(eval.Score)
	if eval.Criteria == nil {
		eval.Criteria = map[string]float64{}
	}
	return eval
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.Index(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}

// repairJSON applies bounded fixes: cut leading prose before the first
// brace, normalize single quotes when the text has no double quotes at all,
// drop trailing commas, and balance unmatched braces and brackets.
func repairJSON(s string) string {
	if idx := strings.Index(s, "{"); idx > 0 {
		s = s[idx:]
	}

	if !strings.Contains(s, `"`) && strings.Contains(s, "'") {
		s = strings.ReplaceAll(s, "'", `"`)
	}

	s = trailingCommaRe.ReplaceAllString(s, "$1")

	if open, closed := strings.Count(s, "["), strings.Count(s, "]"); open > closed {
		s += strings.Repeat("]", open-closed)
	}
	if open, closed := strings.Count(s, "{"), strings.Count(s, "}"); open > closed {
		s += strings.Repeat("}", open-closed)
	}
	return s
}
