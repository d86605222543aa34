// Package scoring computes fallback coach scores and the stricter
// emotional-intelligence heuristic payload from reply text.
//
// Everything here is a pure function of its inputs: the same text
// always yields the same scores. The deterministic scorer is invoked
// only when the model's own coach payload is absent or invalid; it
// never overrides a valid model-supplied payload.
package scoring

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hcpsim/coachgate/internal/contract"
	"github.com/hcpsim/coachgate/internal/models"
)

// FallbackRubricVersion marks deterministically scored payloads.
const FallbackRubricVersion = "coach-fallback-v1"

// Word-count bands for the clarity score and overall bonuses.
const (
	idealLengthMin = 40
	idealLengthMax = 120
	excessiveWords = 250
)

var (
	labelRefRe = regexp.MustCompile(`(?i)\b(?:label|guideline|indication|prescribing information|fda|ema|package insert|approved)\b`)
	objectionRe = regexp.MustCompile(`(?i)\b(?:concern|objection|hesitant|worry|risk|side effect|safety|adverse)\b`)
	empathyRe   = regexp.MustCompile(`(?i)\b(?:i understand|i hear you|that makes sense|i appreciate|it sounds like|thank you for sharing)\b`)
	domainRe    = regexp.MustCompile(`(?i)\b(?:efficacy|adherence|dosing|titration|contraindication|renal|hepatic|pharmacokinetic|prep|viral suppression|formulary)\b`)
	listeningRe = regexp.MustCompile(`(?i)\b(?:you mentioned|you said|as you noted|going back to your point)\b`)
	valueRe     = regexp.MustCompile(`(?i)\b(?:value|benefit|outcome|save time|reduce burden|improve)\b`)
	nextStepRe  = regexp.MustCompile(`(?i)\b(?:next step|follow up|schedule|sample|trial|let's plan|can we agree)\b`)
	bulletRe    = regexp.MustCompile(`(?m)^\s*(?:[-*•]|\d+[.)])\s+\S`)
	wordRe      = regexp.MustCompile(`\S+`)
)

// overallWeights combines sub-scores into the 0-100 overall score.
// Keys match the canonical rubric; weights sum to 1.
var overallWeights = map[string]float64{
	"clarity":            0.15,
	"empathy":            0.10,
	"objection_handling": 0.10,
	"compliance":         0.15,
	"discovery":          0.10,
	"accuracy":           0.15,
	"structure":          0.05,
	"listening":          0.05,
	"value_framing":      0.05,
	"next_steps":         0.10,
}

// workedText and improveText are the fixed bullets selected per dimension.
var workedText = map[string]string{
	"clarity":            "Reply length sat in the readable range.",
	"empathy":            "Acknowledged the HCP's perspective before advancing.",
	"objection_handling": "Engaged directly with the stated concern.",
	"compliance":         "Anchored claims to label or guideline language.",
	"discovery":          "Used open questions to keep the dialogue moving.",
	"accuracy":           "Grounded the answer in concrete clinical vocabulary.",
	"structure":          "Organized the reply into scannable points.",
	"listening":          "Referred back to what the HCP actually said.",
	"value_framing":      "Tied the product to patient and practice outcomes.",
	"next_steps":         "Closed toward a concrete next step.",
}

var improveText = map[string]string{
	"clarity":            "Tighten the reply toward 40-120 words.",
	"empathy":            "Acknowledge the HCP's viewpoint before pivoting to your message.",
	"objection_handling": "Name the objection explicitly and address it head on.",
	"compliance":         "Reference the label or guidelines to stay on firm ground.",
	"discovery":          "End with an open question to uncover what matters to this HCP.",
	"accuracy":           "Use precise clinical terms instead of generalities.",
	"structure":          "Break dense prose into short bullets the rep can act on.",
	"listening":          "Mirror the HCP's own words to show you heard them.",
	"value_framing":      "Connect features to what changes for patients.",
	"next_steps":         "Propose one specific follow-up action.",
}

// bandScore maps a raw hit count to an integer sub-score in [1,5]:
// one point per threshold reached.
func bandScore(hits int, bands [4]int) int {
	score := 1
	for _, b := range bands {
		if hits >= b {
			score++
		}
	}
	return score
}

func clarityScore(words int) int {
	switch {
	case words >= idealLengthMin && words <= idealLengthMax:
		return 5
	case (words >= 20 && words < idealLengthMin) || (words > idealLengthMax && words <= 180):
		return 4
	case (words >= 10 && words < 20) || (words > 180 && words <= excessiveWords):
		return 3
	default:
		return 2
	}
}

// Score computes a deterministic fallback CoachPayload from reply text.
// The user text rides along in the context block for traceability only.
func Score(userText, replyText string) models.CoachPayload {
	words := len(wordRe.FindAllString(replyText, -1))
	questions := contract.QuestionCount(replyText)
	structureSignals := len(bulletRe.FindAllString(replyText, -1))
	for _, label := range contract.CoachingLabels {
		if strings.Contains(replyText, label) {
			structureSignals++
		}
	}

	scores := map[string]float64{
		"clarity":            float64(clarityScore(words)),
		"empathy":            float64(bandScore(len(empathyRe.FindAllString(replyText, -1)), [4]int{1, 2, 3, 4})),
		"objection_handling": float64(bandScore(len(objectionRe.FindAllString(replyText, -1)), [4]int{1, 2, 3, 4})),
		"compliance":         float64(bandScore(len(labelRefRe.FindAllString(replyText, -1)), [4]int{1, 2, 3, 4})),
		"discovery":          float64(bandScore(questions, [4]int{1, 2, 3, 4})),
		"accuracy":           float64(bandScore(len(domainRe.FindAllString(replyText, -1)), [4]int{1, 2, 3, 5})),
		"structure":          float64(bandScore(structureSignals, [4]int{1, 2, 3, 5})),
		"listening":          float64(bandScore(len(listeningRe.FindAllString(replyText, -1)), [4]int{1, 2, 3, 4})),
		"value_framing":      float64(bandScore(len(valueRe.FindAllString(replyText, -1)), [4]int{1, 2, 3, 4})),
		"next_steps":         float64(bandScore(len(nextStepRe.FindAllString(replyText, -1)), [4]int{1, 2, 3, 4})),
	}

	weighted := 0.0
	for key, w := range overallWeights {
		weighted += scores[key] * w
	}
	overall := int(weighted / 5.0 * 100.0)
	if words >= idealLengthMin && words <= idealLengthMax {
		overall += 5
	}
	if strings.HasSuffix(strings.TrimSpace(replyText), "?") {
		overall += 5
	}
	if words > excessiveWords {
		overall -= 10
	}
	if overall < 0 {
		overall = 0
	}
	if overall > 100 {
		overall = 100
	}

	var worked, improve []string
	for _, key := range contract.RubricKeys {
		if scores[key] >= 4 {
			if len(worked) < 3 {
				worked = append(worked, workedText[key])
			}
		} else if len(improve) < 3 {
			improve = append(improve, improveText[key])
		}
	}

	return models.CoachPayload{
		Overall:       &overall,
		Scores:        scores,
		Worked:        worked,
		Improve:       improve,
		Feedback:      fmt.Sprintf("Heuristic fallback score: %d/100 across %d dimensions.", overall, len(scores)),
		RubricVersion: FallbackRubricVersion,
		Context: &models.CoachContext{
			RepQuestion: userText,
			HCPReply:    replyText,
		},
	}
}

// CoachFromMap converts a validated model-supplied coach object into the
// typed payload attached to the response envelope.
func CoachFromMap(raw map[string]interface{}, userText, replyText string) *models.CoachPayload {
	p := &models.CoachPayload{
		Scores:     map[string]float64{},
		Rationales: map[string]string{},
		Context: &models.CoachContext{
			RepQuestion: userText,
			HCPReply:    replyText,
		},
	}
	if scores, ok := raw["scores"].(map[string]interface{}); ok {
		for k, v := range scores {
			if f, isNum := v.(float64); isNum {
				p.Scores[k] = f
			}
		}
	}
	if overall, ok := raw["overall"].(float64); ok {
		n := int(overall)
		p.Overall = &n
	}
	if rationales, ok := raw["rationales"].(map[string]interface{}); ok {
		for k, v := range rationales {
			if s, isStr := v.(string); isStr {
				p.Rationales[k] = s
			}
		}
	}
	p.Worked = stringSlice(raw["worked"])
	p.Improve = stringSlice(raw["improve"])
	if s, ok := raw["phrasing"].(string); ok {
		p.Phrasing = s
	}
	if s, ok := raw["feedback"].(string); ok {
		p.Feedback = s
	}
	if s, ok := raw["rubric_version"].(string); ok {
		p.RubricVersion = s
	}
	return p
}

func stringSlice(raw interface{}) []string {
	items, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, isStr := item.(string); isStr {
			out = append(out, s)
		}
	}
	return out
}
