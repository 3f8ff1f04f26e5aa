package judge

import (
	"fmt"
	"strings"

	"lock-in/validator-node/pkg/storage"
)

const systemPrompt = "You are an objective goal verification validator. Always respond with a single valid JSON object."

// BuildPrompt renders the verification task. The output depends only on its
// inputs so that every validator judging a request sees the same prompt.
func BuildPrompt(goal Goal, proof storage.ProofPayload) string {
	var b strings.Builder

	b.WriteString("You are an objective, impartial validator in a decentralized accountability network.\n")
	b.WriteString("Your role is to verify whether submitted proof genuinely demonstrates completion of a stated goal.\n")
	b.WriteString("Be strict but fair. The user has staked money on this, so accuracy is critical.\n\n")

	b.WriteString("GOAL INFORMATION:\n")
	fmt.Fprintf(&b, "Title: %s\n", goal.Title)
	fmt.Fprintf(&b, "Description: %s\n", goal.Description)
	fmt.Fprintf(&b, "Type: %s\n", goal.GoalType)
	if goal.Target != "" {
		fmt.Fprintf(&b, "Target: %s\n", goal.Target)
	}

	b.WriteString("\nUSER'S SUBMITTED PROOF:\n")
	b.WriteString(proof.Text)
	b.WriteString("\n\n")

	if len(proof.Images) == 0 {
		b.WriteString("NO IMAGES PROVIDED\n")
	} else {
		fmt.Fprintf(&b, "PROOF INCLUDES %d IMAGES (references listed below)\n", len(proof.Images))
		for i, ref := range proof.Images {
			fmt.Fprintf(&b, "Image %d: %s\n", i+1, ref)
		}
	}

	b.WriteString(`
VALIDATION TASK:
Analyze the proof and determine:
1. Does the proof genuinely demonstrate completion of the stated goal?
2. Is there evidence of manipulation, fakery, or dishonesty?
3. What is your confidence level (0-100)?
4. Provide clear, specific reasoning for your decision.

IMPORTANT GUIDELINES:
- Look for specific, concrete evidence
- Screenshots can be faked; consider this
- Time-based claims need timestamps or other verification
- Generic statements without specific evidence should be questioned
- If proof is ambiguous, err on the side of requiring more evidence (reject)
- Confidence reflects certainty: 100 = absolutely certain, 50 = unclear, 0 = no confidence

RESPOND ONLY IN THIS JSON FORMAT:
{
  "approved": true or false,
  "confidence": 0-100,
  "reasoning": "Specific explanation of your decision (2-3 sentences)",
  "manipulation_detected": true or false
}

JSON RESPONSE:`)

	return b.String()
}
