// Package contract defines the per-mode structural rules a reply must
// satisfy and a single generic validator that consumes them.
//
// Every mode's contract is a row in one table: required section labels
// in order, bullet rules, forbidden patterns, and whether an embedded
// coach block is required or forbidden. The validator is deterministic
// and pure: the same input always yields the same violation list.
package contract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hcpsim/coachgate/internal/models"
)

// Section labels used by the sales-coach contract, in required order.
const (
	SectionChallenge         = "Challenge:"
	SectionRepApproach       = "Rep Approach:"
	SectionImpact            = "Impact:"
	SectionSuggestedPhrasing = "Suggested Phrasing:"
)

// CoachingLabels is every known coaching-structure label. Any of these
// appearing inside an HCP-voice reply is a leak.
var CoachingLabels = []string{
	SectionChallenge,
	SectionRepApproach,
	SectionImpact,
	SectionSuggestedPhrasing,
	"Coach Guidance:",
	"Next-Move Planner:",
	"Risk Flags:",
}

// RepApproachBullets is the exact bullet count required under Rep Approach:.
const RepApproachBullets = 3

// Rule pairs a stable violation code with the pattern that triggers it.
type Rule struct {
	Code    string
	Pattern *regexp.Regexp
}

// Contract holds the structural rules for one mode.
type Contract struct {
	Mode               models.Mode
	Description        string
	RequiredSections   []string
	BulletSection      string
	BulletCount        int
	Forbidden          []Rule
	RequiresCoachBlock bool
	ForbidsCoachBlock  bool
	RequiresCitations  bool
	CountsQuestions    bool
	SupportsEi         bool
}

var (
	bulletLineRe   = regexp.MustCompile(`(?m)^\s*(?:[-*•]|\d+[.)])\s+\S`)
	inlineCiteRe   = regexp.MustCompile(`\[(\d+)\]`)
	refsHeaderRe   = regexp.MustCompile(`(?mi)^\s*References:\s*$`)
	refLineRe      = regexp.MustCompile(`(?m)^\s*\[?(\d+)\]?[.)]?\s+(.+)$`)
	urlRe          = regexp.MustCompile(`https?://\S+`)
	hcpVoiceRe     = regexp.MustCompile(`(?i)\b(?:in my practice|my patients|i typically|i usually|i tend to|i've seen)\b`)
	secondPersonRe = regexp.MustCompile(`(?i)\byou (?:should|could|need to|might want to) (?:ask|try|lead|open|focus|frame|position)\b|\btry (?:asking|opening|leading) with\b`)
	personaDriftRe = regexp.MustCompile(`(?i)\b(?:as (?:the |an? )?(?:hcp|persona|physician character))\b|\bi am (?:simulating|role-?playing)\b`)
	salesSimHCPRe  = regexp.MustCompile(`(?i)\b(?:in my practice|my patients|when patients come to me)\b`)
)

// headerLeakRules builds one pass1_leak rule per coaching label.
func headerLeakRules() []Rule {
	codes := []string{
		"challenge_header", "rep_approach_header", "impact_header",
		"suggested_phrasing_header", "coach_guidance_header",
		"next_move_planner_header", "risk_flags_header",
	}
	rules := make([]Rule, 0, len(CoachingLabels)+1)
	for i, label := range CoachingLabels {
		rules = append(rules, Rule{
			Code:    "pass1_leak:" + codes[i],
			Pattern: regexp.MustCompile(regexp.QuoteMeta(label)),
		})
	}
	rules = append(rules, Rule{Code: "pass1_leak:coach_block", Pattern: regexp.MustCompile(`<coach>`)})
	return rules
}

// salesHeaderLeakRules flags any sales-coach structure in informational modes.
func salesHeaderLeakRules() []Rule {
	rules := make([]Rule, 0, len(CoachingLabels))
	for _, label := range CoachingLabels {
		rules = append(rules, Rule{
			Code:    "sales_header_leak",
			Pattern: regexp.MustCompile(regexp.QuoteMeta(label)),
		})
	}
	return rules
}

var registry = map[models.Mode]Contract{
	models.ModeSalesCoach: {
		Mode:        models.ModeSalesCoach,
		Description: "structured coaching guidance with a scored coach block",
		RequiredSections: []string{
			SectionChallenge, SectionRepApproach, SectionImpact, SectionSuggestedPhrasing,
		},
		BulletSection:      SectionRepApproach,
		BulletCount:        RepApproachBullets,
		Forbidden:          []Rule{{Code: "hcp_voice_in_sales_sim", Pattern: salesSimHCPRe}},
		RequiresCoachBlock: true,
		SupportsEi:         true,
	},
	models.ModeRolePlay: {
		Mode:        models.ModeRolePlay,
		Description: "first-person HCP-voice simulation reply",
		Forbidden: append(headerLeakRules(),
			Rule{Code: "second_person_coaching", Pattern: secondPersonRe},
			Rule{Code: "persona_self_identification", Pattern: personaDriftRe},
		),
		ForbidsCoachBlock: true,
		SupportsEi:        true,
	},
	models.ModeProductKnowledge: {
		Mode:              models.ModeProductKnowledge,
		Description:       "cited product answer with a numbered References section",
		Forbidden:         salesHeaderLeakRules(),
		ForbidsCoachBlock: true,
		RequiresCitations: true,
	},
	models.ModeEmotionalAssessment: {
		Mode:            models.ModeEmotionalAssessment,
		Description:     "reflective assessment; question count is informational only",
		CountsQuestions: true,
	},
	models.ModeGeneralKnowledge: {
		Mode:              models.ModeGeneralKnowledge,
		Description:       "plain informational answer, isolated from coaching structure",
		Forbidden:         salesHeaderLeakRules(),
		ForbidsCoachBlock: true,
	},
}

// Get returns the contract for a mode, resolving aliases first.
func Get(mode models.Mode) (Contract, bool) {
	c, ok := registry[models.CanonicalMode(mode)]
	return c, ok
}

// Validate checks cleanText and the extracted coach object against the
// mode's contract and returns an ordered list of violations. An empty
// list means the reply is compliant. Inputs are never mutated.
func Validate(mode models.Mode, cleanText string, coach map[string]interface{}) []models.Violation {
	c, ok := Get(mode)
	if !ok {
		return []models.Violation{{Code: "unknown_mode", Detail: string(mode)}}
	}

	var violations []models.Violation

	for _, rule := range c.Forbidden {
		if m := rule.Pattern.FindString(cleanText); m != "" {
			violations = append(violations, models.Violation{Code: rule.Code, Detail: m})
		}
	}

	violations = append(violations, checkSections(c, cleanText)...)
	violations = append(violations, checkBullets(c, cleanText)...)
	violations = append(violations, checkCoachBlock(c, coach)...)
	if c.RequiresCitations {
		violations = append(violations, checkCitations(cleanText)...)
	}

	return violations
}

// checkSections enforces section presence and relative order: each
// subsequent header's index must be at or after the previous one.
func checkSections(c Contract, text string) []models.Violation {
	var violations []models.Violation
	prev := -1
	for _, label := range c.RequiredSections {
		idx := strings.Index(text, label)
		if idx < 0 {
			violations = append(violations, models.Violation{
				Code:   "missing_section:" + strings.TrimSuffix(label, ":"),
				Detail: fmt.Sprintf("required section %q not found", label),
			})
			continue
		}
		if idx < prev {
			violations = append(violations, models.Violation{
				Code:   "section_order:" + strings.TrimSuffix(label, ":"),
				Detail: fmt.Sprintf("section %q appears before its predecessor", label),
			})
		}
		prev = idx
	}
	return violations
}

// checkBullets counts bulleted/numbered lines inside the bullet section.
func checkBullets(c Contract, text string) []models.Violation {
	if c.BulletSection == "" {
		return nil
	}
	body := ExtractSection(text, c.BulletSection)
	if body == "" {
		// The missing section is already reported by checkSections.
		return nil
	}
	count := len(bulletLineRe.FindAllString(body, -1))
	if count != c.BulletCount {
		return []models.Violation{{
			Code:   "rep_approach_wrong_bullet_count",
			Detail: fmt.Sprintf("expected %d bullets, found %d", c.BulletCount, count),
		}}
	}
	return nil
}

func checkCoachBlock(c Contract, coach map[string]interface{}) []models.Violation {
	if c.RequiresCoachBlock {
		if coach == nil {
			return []models.Violation{{Code: "missing_coach_block", Detail: "no parseable <coach> block found"}}
		}
		return ValidateCoachRubric(coach)
	}
	if c.ForbidsCoachBlock && coach != nil {
		return []models.Violation{{Code: "coach_block_forbidden", Detail: "coach block present in a mode that forbids it"}}
	}
	return nil
}

// checkCitations verifies that inline [n] citations exist, that a
// References: section is present, and that every reference index has a
// matching inline citation and contains a URL.
func checkCitations(text string) []models.Violation {
	var violations []models.Violation

	loc := refsHeaderRe.FindStringIndex(text)
	if loc == nil {
		violations = append(violations, models.Violation{Code: "missing_references_section", Detail: "no References: section found"})
	}

	body := text
	refsBody := ""
	if loc != nil {
		body = text[:loc[0]]
		refsBody = text[loc[1]:]
	}

	inline := make(map[string]bool)
	for _, m := range inlineCiteRe.FindAllStringSubmatch(body, -1) {
		inline[m[1]] = true
	}
	if len(inline) == 0 {
		violations = append(violations, models.Violation{Code: "missing_inline_citation", Detail: "no inline [n] citations found"})
	}

	for _, m := range refLineRe.FindAllStringSubmatch(refsBody, -1) {
		n, refText := m[1], m[2]
		if !inline[n] {
			violations = append(violations, models.Violation{
				Code:   "missing_citation_for_reference_" + n,
				Detail: fmt.Sprintf("reference %s has no inline citation", n),
			})
		}
		if !urlRe.MatchString(refText) {
			violations = append(violations, models.Violation{
				Code:   "reference_missing_url_" + n,
				Detail: fmt.Sprintf("reference %s does not contain a URL", n),
			})
		}
	}

	return violations
}

// ExtractSection returns the body of a labeled section: everything from
// the end of the label up to the next known coaching label or end of text.
func ExtractSection(text, label string) string {
	start := strings.Index(text, label)
	if start < 0 {
		return ""
	}
	body := text[start+len(label):]
	end := len(body)
	for _, other := range CoachingLabels {
		if other == label {
			continue
		}
		if idx := strings.Index(body, other); idx >= 0 && idx < end {
			end = idx
		}
	}
	return body[:end]
}

// QuestionCount reports how many question marks a reply contains. For
// emotional-assessment, zero is only a warning and two or more is a
// positive signal, so this never produces a violation.
func QuestionCount(text string) int {
	return strings.Count(text, "?")
}

// HCPVoiceSignals counts first-person clinical framing phrases, the
// positive signal for role-play voice.
func HCPVoiceSignals(text string) int {
	return len(hcpVoiceRe.FindAllString(text, -1))
}
