package judge

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	maxReasoningChars = 500
	defaultConfidence = 50
)

// parseStrategy turns raw model output into a result, or reports that it
// could not.
type parseStrategy struct {
	name  string
	parse func(raw string) (AdjudicationResult, bool)
}

// Parser runs its strategies in order; the first success wins and
// conservativeReject is the guaranteed last resort.
type Parser struct {
	strategies []parseStrategy
}

// NewParser returns the standard chain: strict JSON, first balanced object,
// keyword heuristic.
func NewParser() *Parser {
	return &Parser{
		strategies: []parseStrategy{
			{name: "strict_json", parse: parseStrictJSON},
			{name: "embedded_json", parse: parseEmbeddedJSON},
			{name: "keyword_heuristic", parse: parseKeywords},
		},
	}
}

// Parse never fails.
func (p *Parser) Parse(raw string) AdjudicationResult {
	for _, s := range p.strategies {
		if result, ok := s.parse(raw); ok {
			result.ParsedBy = s.name
			result.Confidence = ClampConfidence(result.Confidence)
			return result
		}
	}
	return conservativeReject(raw)
}

func conservativeReject(raw string) AdjudicationResult {
	reasoning := truncate(strings.TrimSpace(raw), maxReasoningChars)
	if reasoning == "" {
		reasoning = "Model returned an empty response. Defaulting to rejection."
	}
	return AdjudicationResult{
		Approved:   false,
		Confidence: 0,
		Reasoning:  reasoning,
		Degraded:   true,
		ParsedBy:   "conservative_reject",
	}
}

func parseStrictJSON(raw string) (AdjudicationResult, bool) {
	return decodeVerdict(strings.TrimSpace(raw))
}

func parseEmbeddedJSON(raw string) (AdjudicationResult, bool) {
	candidate, ok := firstBalancedObject(raw)
	if !ok {
		return AdjudicationResult{}, false
	}
	return decodeVerdict(candidate)
}

func decodeVerdict(text string) (AdjudicationResult, bool) {
	if text == "" || text[0] != '{' {
		return AdjudicationResult{}, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return AdjudicationResult{}, false
	}
	if _, ok := obj["approved"]; !ok {
		if v, ok := obj["verified"]; ok {
			obj["approved"] = v
		}
	}
	if err := verdictSchema.Validate(obj); err != nil {
		return AdjudicationResult{}, false
	}

	result := AdjudicationResult{
		Approved:   obj["approved"].(bool),
		Confidence: normalizeConfidence(obj["confidence"]),
		Reasoning:  "No reasoning provided",
	}
	if r, ok := obj["reasoning"].(string); ok && strings.TrimSpace(r) != "" {
		result.Reasoning = r
	}
	if m, ok := obj["manipulation_detected"].(bool); ok {
		result.ManipulationSuspected = m
	}
	return result, true
}

func normalizeConfidence(v any) int {
	switch c := v.(type) {
	case float64:
		if math.IsNaN(c) {
			return defaultConfidence
		}
		if c > 100 {
			return 100
		}
		if c < 0 {
			return 0
		}
		return int(c)
	case string:
		digits := leadingNumber.FindString(strings.TrimSpace(c))
		if digits == "" {
			return defaultConfidence
		}
		n, err := strconv.Atoi(digits)
		if err != nil {
			// Out of int range; only the sign matters once clamped.
			if strings.HasPrefix(digits, "-") {
				return 0
			}
			return 100
		}
		return ClampConfidence(n)
	default:
		return defaultConfidence
	}
}

// firstBalancedObject returns the first {...} span whose braces balance,
// ignoring braces inside JSON strings.
func firstBalancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

var (
	leadingNumber   = regexp.MustCompile(`^-?\d+`)
	labelledVerdict = regexp.MustCompile(`(?i)["']?\b(approved|verified|verdict|confidence)\b["']?\s*[:=]`)
	affirmedVerdict = regexp.MustCompile(`(?i)["']?\b(approved|verified|verdict)\b["']?\s*[:=]\s*["']?\s*(true|yes|approved|pass|passed)\b`)
	confidenceValue = regexp.MustCompile(`(?i)\bconfidence\b[^0-9\n]{0,20}(\d{1,6})`)
	manipulationKV  = regexp.MustCompile(`(?i)\bmanipulation(_detected)?\b["']?\s*[:=]\s*["']?\s*(true|yes)\b`)
	manipulationKW  = regexp.MustCompile(`(?i)\b(fake|faked|fraud|fraudulent|forged|fabricated|dishonest)\b`)
)

// parseKeywords only fires on text that carries a labelled verdict field;
// free prose without one is left to the conservative reject.
func parseKeywords(raw string) (AdjudicationResult, bool) {
	if !labelledVerdict.MatchString(raw) {
		return AdjudicationResult{}, false
	}
	result := AdjudicationResult{
		Approved:              affirmedVerdict.MatchString(raw),
		Confidence:            defaultConfidence,
		Reasoning:             truncate(strings.TrimSpace(raw), maxReasoningChars),
		ManipulationSuspected: manipulationKV.MatchString(raw) || manipulationKW.MatchString(raw),
	}
	if m := confidenceValue.FindStringSubmatch(raw); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			result.Confidence = n
		}
	}
	return result, true
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
