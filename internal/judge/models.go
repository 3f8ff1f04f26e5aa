package judge

import "time"

// Goal is what the user committed to, as shown to the model.
type Goal struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	GoalType    string `json:"goal_type"`
	Target      string `json:"target,omitempty"`
}

// AdjudicationResult is the judge's decision on one proof.
type AdjudicationResult struct {
	Approved              bool          `json:"approved"`
	Confidence            int           `json:"confidence"`
	Reasoning             string        `json:"reasoning"`
	ManipulationSuspected bool          `json:"manipulation_detected"`
	Degraded              bool          `json:"degraded"`
	ParsedBy              string        `json:"parsed_by"`
	Model                 string        `json:"model"`
	InferenceTime         time.Duration `json:"inference_time"`
	RawResponse           string        `json:"-"`
}

// ClampConfidence bounds c to [0,100].
func ClampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
