package contract

import (
	"fmt"

	"github.com/hcpsim/coachgate/internal/models"
)

// RubricKeys is the canonical 10-key sales-coach rubric. Every value in
// an embedded coach block's scores object must be a number in [1,5].
var RubricKeys = []string{
	"clarity", "empathy", "objection_handling", "compliance", "discovery",
	"accuracy", "structure", "listening", "value_framing", "next_steps",
}

// requiredCoachKeys are the top-level keys an embedded coach block must carry.
var requiredCoachKeys = []string{"scores", "rationales", "worked", "improve", "feedback", "rubric_version"}

// ValidateCoachRubric checks an extracted coach object against the
// sales-coach schema and returns violations for every defect found.
func ValidateCoachRubric(coach map[string]interface{}) []models.Violation {
	var violations []models.Violation

	for _, key := range requiredCoachKeys {
		if _, ok := coach[key]; !ok {
			violations = append(violations, models.Violation{
				Code:   "coach_missing_key:" + key,
				Detail: fmt.Sprintf("coach block missing required key %q", key),
			})
		}
	}

	scores, ok := coach["scores"].(map[string]interface{})
	if !ok {
		if _, present := coach["scores"]; present {
			violations = append(violations, models.Violation{Code: "coach_scores_not_object", Detail: "scores is not a JSON object"})
		}
		return violations
	}

	for _, key := range RubricKeys {
		raw, present := scores[key]
		if !present {
			violations = append(violations, models.Violation{
				Code:   "coach_rubric_missing:" + key,
				Detail: fmt.Sprintf("scores missing rubric key %q", key),
			})
			continue
		}
		val, isNum := raw.(float64)
		if !isNum || val < 1 || val > 5 {
			violations = append(violations, models.Violation{
				Code:   "coach_rubric_out_of_range:" + key,
				Detail: fmt.Sprintf("rubric key %q must be a number in [1,5], got %v", key, raw),
			})
		}
	}

	return violations
}
