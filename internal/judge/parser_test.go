package judge

import (
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		approved     bool
		confidence   int
		manipulation bool
		parsedBy     string
		degraded     bool
	}{
		{
			name:       "strict json",
			raw:        `{"approved": true, "confidence": 87, "reasoning": "Commit log matches.", "manipulation_detected": false}`,
			approved:   true,
			confidence: 87,
			parsedBy:   "strict_json",
		},
		{
			name:       "embedded json with prose around it",
			raw:        "Sure! Here is my verdict:\n```json\n{\"approved\": false, \"confidence\": 40, \"reasoning\": \"No timestamps {or} logs.\"}\n```\nThanks.",
			approved:   false,
			confidence: 40,
			parsedBy:   "embedded_json",
		},
		{
			name:       "legacy verified field",
			raw:        `{"verified": true, "confidence": 70, "reasoning": "ok"}`,
			approved:   true,
			confidence: 70,
			parsedBy:   "strict_json",
		},
		{
			name:       "string confidence",
			raw:        `{"approved": true, "confidence": "92%"}`,
			approved:   true,
			confidence: 92,
			parsedBy:   "strict_json",
		},
		{
			name:       "missing confidence defaults to middle",
			raw:        `{"approved": true}`,
			approved:   true,
			confidence: 50,
			parsedBy:   "strict_json",
		},
		{
			name:       "confidence above range is clamped",
			raw:        `{"approved": true, "confidence": 250}`,
			approved:   true,
			confidence: 100,
			parsedBy:   "strict_json",
		},
		{
			name:       "huge negative string confidence is zero",
			raw:        `{"approved": true, "confidence": "-99999999999999999999"}`,
			approved:   true,
			confidence: 0,
			parsedBy:   "strict_json",
		},
		{
			name:       "huge positive string confidence is clamped",
			raw:        `{"approved": true, "confidence": "99999999999999999999"}`,
			approved:   true,
			confidence: 100,
			parsedBy:   "strict_json",
		},
		{
			name:         "keyword heuristic",
			raw:          "Approved: yes\nConfidence: 80\nThe screenshot looks fabricated though.",
			approved:     true,
			confidence:   80,
			manipulation: true,
			parsedBy:     "keyword_heuristic",
		},
		{
			name:       "keyword heuristic without confidence",
			raw:        "verdict = rejected, insufficient evidence",
			approved:   false,
			confidence: 50,
			parsedBy:   "keyword_heuristic",
		},
		{
			name:       "free prose is rejected conservatively",
			raw:        "I think this looks fine",
			approved:   false,
			confidence: 0,
			parsedBy:   "conservative_reject",
			degraded:   true,
		},
		{
			name:       "approved with wrong type falls through to heuristic",
			raw:        `{"approved": "maybe"}`,
			approved:   false,
			confidence: 50,
			parsedBy:   "keyword_heuristic",
		},
		{
			name:       "truncated json is recovered by heuristic",
			raw:        `{"approved": true, "confidence": 90`,
			approved:   true,
			confidence: 90,
			parsedBy:   "keyword_heuristic",
		},
		{
			name:       "unbalanced braces without fields",
			raw:        `{{{ looks good`,
			approved:   false,
			confidence: 0,
			parsedBy:   "conservative_reject",
			degraded:   true,
		},
		{
			name:       "empty",
			raw:        "   ",
			approved:   false,
			confidence: 0,
			parsedBy:   "conservative_reject",
			degraded:   true,
		},
	}

	p := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Parse(tt.raw)
			assert.Equal(t, tt.approved, got.Approved)
			assert.Equal(t, tt.confidence, got.Confidence)
			assert.Equal(t, tt.manipulation, got.ManipulationSuspected)
			assert.Equal(t, tt.parsedBy, got.ParsedBy)
			assert.Equal(t, tt.degraded, got.Degraded)
			assert.NotEmpty(t, got.Reasoning)
		})
	}
}

func TestParse_MalformedReasoningIsTruncatedRawText(t *testing.T) {
	got := NewParser().Parse("I think this looks fine")
	assert.Equal(t, "I think this looks fine", got.Reasoning)

	long := strings.Repeat("x", 800)
	got = NewParser().Parse(long)
	assert.Equal(t, strings.Repeat("x", 500), got.Reasoning)
}

func TestFirstBalancedObject(t *testing.T) {
	got, ok := firstBalancedObject(`noise {"a": "}", "b": {"c": 1}} trailing {"d": 2}`)
	assert.True(t, ok)
	assert.Equal(t, `{"a": "}", "b": {"c": 1}}`, got)

	_, ok = firstBalancedObject("no braces")
	assert.False(t, ok)
}

func TestParse_ConservativeDegradationProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	p := NewParser()

	properties.Property("unstructured output never approves", prop.ForAll(
		func(raw string) bool {
			got := p.Parse(raw)
			return !got.Approved && got.Confidence == 0 && got.Degraded
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestParse_ConfidenceClampingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	p := NewParser()

	inRange := func(r AdjudicationResult) bool { return r.Confidence >= 0 && r.Confidence <= 100 }

	properties.Property("json confidence is clamped", prop.ForAll(
		func(n int) bool {
			return inRange(p.Parse(fmt.Sprintf(`{"approved": true, "confidence": %d}`, n)))
		},
		gen.Int(),
	))
	properties.Property("heuristic confidence is clamped", prop.ForAll(
		func(n int) bool {
			return inRange(p.Parse(fmt.Sprintf("approved: yes, confidence: %d", n)))
		},
		gen.Int(),
	))
	properties.Property("string confidence is clamped", prop.ForAll(
		func(n int) bool {
			return inRange(p.Parse(fmt.Sprintf(`{"approved": false, "confidence": "%d"}`, n)))
		},
		gen.Int(),
	))

	properties.TestingRun(t)
}
