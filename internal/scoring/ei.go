package scoring

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hcpsim/coachgate/internal/contract"
	"github.com/hcpsim/coachgate/internal/models"
)

// EiDimensions is the fixed five-dimension EI rubric, in emission order.
var EiDimensions = []string{"empathy", "discovery", "compliance", "clarity", "accuracy"}

var (
	eiComplianceRe = regexp.MustCompile(`(?i)\b(?:on-label|approved|guideline|per the label|indicated|contraindicated)\b`)
	sentenceEndRe  = regexp.MustCompile(`[.!?]+`)
)

// eiTips are the fixed coaching tips selected for low-scoring dimensions.
var eiTips = map[string]string{
	"empathy":    "Open by validating the HCP's concern before making your point.",
	"discovery":  "Ask at least one open question per exchange.",
	"compliance": "Keep claims anchored to approved labeling.",
	"clarity":    "Shorten sentences; one idea per sentence.",
	"accuracy":   "Swap vague claims for specific clinical data points.",
}

// ScoreEi computes the strict-schema EI payload from reply text. All
// five scores are integers clamped to [1,5] and the rubric version is a
// fixed literal; the result always passes ValidateEi by construction.
func ScoreEi(text string, mode models.Mode) models.EiPayload {
	scores := models.EiScores{
		Empathy:    clampEi(bandScore(len(empathyRe.FindAllString(text, -1)), [4]int{1, 2, 3, 4})),
		Discovery:  clampEi(bandScore(contract.QuestionCount(text), [4]int{1, 2, 3, 4})),
		Compliance: clampEi(bandScore(len(eiComplianceRe.FindAllString(text, -1)), [4]int{1, 2, 3, 4})),
		Clarity:    clampEi(eiClarityScore(text)),
		Accuracy:   clampEi(bandScore(len(domainRe.FindAllString(text, -1)), [4]int{1, 2, 3, 5})),
	}

	byName := map[string]int{
		"empathy":    scores.Empathy,
		"discovery":  scores.Discovery,
		"compliance": scores.Compliance,
		"clarity":    scores.Clarity,
		"accuracy":   scores.Accuracy,
	}

	rationales := make(map[string]string, len(EiDimensions))
	var tips []string
	for _, dim := range EiDimensions {
		rationales[dim] = fmt.Sprintf("%s scored %d/5 from keyword and pattern density.", dim, byName[dim])
		if byName[dim] <= 3 && len(tips) < models.MaxEiTips {
			tips = append(tips, eiTips[dim])
		}
	}

	return models.EiPayload{
		Scores:        scores,
		Rationales:    rationales,
		Tips:          tips,
		RubricVersion: models.EiRubricVersion,
	}
}

// eiClarityScore scores sentence economy: shorter average sentences and
// a bounded total length read clearer.
func eiClarityScore(text string) int {
	words := len(wordRe.FindAllString(text, -1))
	if words == 0 {
		return 1
	}
	sentences := len(sentenceEndRe.FindAllString(text, -1))
	if sentences == 0 {
		sentences = 1
	}
	avg := float64(words) / float64(sentences)
	switch {
	case avg <= 16 && words <= 180:
		return 5
	case avg <= 22 && words <= 220:
		return 4
	case avg <= 28:
		return 3
	default:
		return 2
	}
}

func clampEi(n int) int {
	if n < 1 {
		return 1
	}
	if n > 5 {
		return 5
	}
	return n
}

// ValidateEi hard-rejects any EI payload missing a required score, with
// an out-of-range score, with too many tips, or with the wrong rubric
// version literal.
func ValidateEi(p models.EiPayload) error {
	check := map[string]int{
		"empathy":    p.Scores.Empathy,
		"discovery":  p.Scores.Discovery,
		"compliance": p.Scores.Compliance,
		"clarity":    p.Scores.Clarity,
		"accuracy":   p.Scores.Accuracy,
	}
	for _, dim := range EiDimensions {
		v := check[dim]
		if v < 1 || v > 5 {
			return fmt.Errorf("ei score %q out of range: %d", dim, v)
		}
	}
	if len(p.Tips) > models.MaxEiTips {
		return fmt.Errorf("ei tips exceed maximum: %d > %d", len(p.Tips), models.MaxEiTips)
	}
	if strings.TrimSpace(p.RubricVersion) != models.EiRubricVersion {
		return fmt.Errorf("ei rubric_version must be %q, got %q", models.EiRubricVersion, p.RubricVersion)
	}
	return nil
}
