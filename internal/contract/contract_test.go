package contract

import (
	"strings"
	"testing"

	"github.com/hcpsim/coachgate/internal/models"
)

const goldenSalesReply = `Challenge: The cardiologist doubts the adherence data from the pivotal trial.
Rep Approach:
- Acknowledge the concern about the trial population.
- Share the renal subgroup analysis most relevant to her panel.
- Ask what evidence would change her assessment.
Impact: The conversation stays open and the data lands with credibility.
Suggested Phrasing: "Which outcomes matter most when you evaluate a new therapy?"`

func validCoach() map[string]interface{} {
	scores := make(map[string]interface{}, len(RubricKeys))
	for _, key := range RubricKeys {
		scores[key] = 4.0
	}
	return map[string]interface{}{
		"scores":         scores,
		"rationales":     map[string]interface{}{"clarity": "direct opener"},
		"worked":         []interface{}{"acknowledged the concern early"},
		"improve":        []interface{}{"ask a discovery question sooner"},
		"feedback":       "Solid structure with a credible close.",
		"rubric_version": "coach-v1",
	}
}

func hasCode(violations []models.Violation, code string) bool {
	for _, v := range violations {
		if v.Code == code {
			return true
		}
	}
	return false
}

func TestSalesCoachGoldenReplyPasses(t *testing.T) {
	violations := Validate(models.ModeSalesCoach, goldenSalesReply, validCoach())
	if len(violations) != 0 {
		t.Fatalf("expected zero violations, got %v", violations)
	}
}

func TestSalesCoachMissingSection(t *testing.T) {
	text := strings.Replace(goldenSalesReply, "Impact:", "Result:", 1)
	violations := Validate(models.ModeSalesCoach, text, validCoach())
	if !hasCode(violations, "missing_section:Impact") {
		t.Errorf("expected missing_section:Impact, got %v", violations)
	}
}

func TestSalesCoachSectionOrder(t *testing.T) {
	text := `Impact: Out of order.
Challenge: The order is wrong.
Rep Approach:
- One thing.
- Second thing.
- Third thing.
Suggested Phrasing: "A line."`
	violations := Validate(models.ModeSalesCoach, text, validCoach())
	if !hasCode(violations, "section_order:Impact") {
		t.Errorf("expected section_order:Impact, got %v", violations)
	}
}

func TestSalesCoachWrongBulletCount(t *testing.T) {
	text := strings.Replace(goldenSalesReply,
		"- Ask what evidence would change her assessment.\n", "", 1)
	violations := Validate(models.ModeSalesCoach, text, validCoach())
	if !hasCode(violations, "rep_approach_wrong_bullet_count") {
		t.Errorf("expected bullet count violation, got %v", violations)
	}
}

func TestSalesCoachNumberedBulletsAccepted(t *testing.T) {
	text := strings.NewReplacer(
		"- Acknowledge", "1. Acknowledge",
		"- Share", "2. Share",
		"- Ask", "3. Ask",
	).Replace(goldenSalesReply)
	violations := Validate(models.ModeSalesCoach, text, validCoach())
	if hasCode(violations, "rep_approach_wrong_bullet_count") {
		t.Errorf("numbered bullets should count, got %v", violations)
	}
}

func TestSalesCoachMissingCoachBlock(t *testing.T) {
	violations := Validate(models.ModeSalesCoach, goldenSalesReply, nil)
	if !hasCode(violations, "missing_coach_block") {
		t.Errorf("expected missing_coach_block, got %v", violations)
	}
}

func TestSalesCoachHCPVoiceForbidden(t *testing.T) {
	text := goldenSalesReply + "\nIn my practice I see this objection weekly."
	violations := Validate(models.ModeSalesCoach, text, validCoach())
	if !hasCode(violations, "hcp_voice_in_sales_sim") {
		t.Errorf("expected hcp_voice_in_sales_sim, got %v", violations)
	}
}

func TestSalesSimulationAliasResolves(t *testing.T) {
	violations := Validate(models.Mode("sales-simulation"), goldenSalesReply, validCoach())
	if len(violations) != 0 {
		t.Errorf("alias should resolve to sales-coach contract, got %v", violations)
	}
}

func TestRolePlayHeaderLeak(t *testing.T) {
	text := "Challenge: you need to open differently.\nI'm not convinced by that trial."
	violations := Validate(models.ModeRolePlay, text, nil)
	if !hasCode(violations, "pass1_leak:challenge_header") {
		t.Errorf("expected pass1_leak:challenge_header, got %v", violations)
	}
}

func TestRolePlaySecondPersonCoaching(t *testing.T) {
	text := "You should ask about my formulary constraints before pitching."
	violations := Validate(models.ModeRolePlay, text, nil)
	if !hasCode(violations, "second_person_coaching") {
		t.Errorf("expected second_person_coaching, got %v", violations)
	}
}

func TestRolePlayPersonaSelfIdentification(t *testing.T) {
	text := "As the HCP, I am simulating a skeptical cardiologist for you."
	violations := Validate(models.ModeRolePlay, text, nil)
	if !hasCode(violations, "persona_self_identification") {
		t.Errorf("expected persona_self_identification, got %v", violations)
	}
}

func TestRolePlayCoachBlockForbidden(t *testing.T) {
	violations := Validate(models.ModeRolePlay, "I'm not convinced the data holds up.", validCoach())
	if !hasCode(violations, "coach_block_forbidden") {
		t.Errorf("expected coach_block_forbidden, got %v", violations)
	}
}

func TestRolePlayCleanReplyPasses(t *testing.T) {
	text := "Honestly, I'm not convinced. The renal subgroup was tiny. What am I missing?"
	violations := Validate(models.ModeRolePlay, text, nil)
	if len(violations) != 0 {
		t.Errorf("expected clean role-play reply to pass, got %v", violations)
	}
}

const goldenCitedReply = `The recommended starting dose is 10 mg once daily [1], titrated after four weeks based on renal function [2].

References:
1. Prescribing information, https://example.org/pi.pdf
2. KDIGO dosing guidance, https://example.org/kdigo`

func TestProductKnowledgeCitedReplyPasses(t *testing.T) {
	violations := Validate(models.ModeProductKnowledge, goldenCitedReply, nil)
	if len(violations) != 0 {
		t.Fatalf("expected zero violations, got %v", violations)
	}
}

func TestProductKnowledgeMissingReferences(t *testing.T) {
	text := "The starting dose is 10 mg once daily [1]."
	violations := Validate(models.ModeProductKnowledge, text, nil)
	if !hasCode(violations, "missing_references_section") {
		t.Errorf("expected missing_references_section, got %v", violations)
	}
}

func TestProductKnowledgeMissingInlineCitation(t *testing.T) {
	text := `The starting dose is 10 mg once daily.

References:
1. Prescribing information, https://example.org/pi.pdf`
	violations := Validate(models.ModeProductKnowledge, text, nil)
	if !hasCode(violations, "missing_inline_citation") {
		t.Errorf("expected missing_inline_citation, got %v", violations)
	}
	if !hasCode(violations, "missing_citation_for_reference_1") {
		t.Errorf("expected missing_citation_for_reference_1, got %v", violations)
	}
}

func TestProductKnowledgeUncitedReference(t *testing.T) {
	text := `The starting dose is 10 mg once daily [1].

References:
1. Prescribing information, https://example.org/pi.pdf
2. Orphan reference nobody cited, https://example.org/extra`
	violations := Validate(models.ModeProductKnowledge, text, nil)
	if !hasCode(violations, "missing_citation_for_reference_2") {
		t.Errorf("expected missing_citation_for_reference_2, got %v", violations)
	}
}

func TestProductKnowledgeReferenceWithoutURL(t *testing.T) {
	text := `The starting dose is 10 mg once daily [1].

References:
1. Prescribing information, section 2.1`
	violations := Validate(models.ModeProductKnowledge, text, nil)
	if !hasCode(violations, "reference_missing_url_1") {
		t.Errorf("expected reference_missing_url_1, got %v", violations)
	}
}

func TestEmotionalAssessmentNeverViolatesOnQuestions(t *testing.T) {
	violations := Validate(models.ModeEmotionalAssessment, "That sounds exhausting. It makes sense you feel drained.", nil)
	if len(violations) != 0 {
		t.Errorf("question count is informational only, got %v", violations)
	}
}

func TestGeneralKnowledgeRejectsSalesStructure(t *testing.T) {
	text := "Rep Approach:\n- Irrelevant coaching in a trivia answer."
	violations := Validate(models.ModeGeneralKnowledge, text, nil)
	if !hasCode(violations, "sales_header_leak") {
		t.Errorf("expected sales_header_leak, got %v", violations)
	}
}

func TestValidateIsDeterministic(t *testing.T) {
	text := strings.Replace(goldenSalesReply, "Impact:", "Result:", 1)
	first := Validate(models.ModeSalesCoach, text, nil)
	for i := 0; i < 5; i++ {
		again := Validate(models.ModeSalesCoach, text, nil)
		if len(again) != len(first) {
			t.Fatalf("violation count changed between runs: %d vs %d", len(first), len(again))
		}
		for j := range again {
			if again[j].Code != first[j].Code {
				t.Fatalf("violation order changed: %v vs %v", first, again)
			}
		}
	}
}

func TestValidateCoachRubricDefects(t *testing.T) {
	coach := validCoach()
	delete(coach, "feedback")
	coach["scores"].(map[string]interface{})["empathy"] = 7.0
	delete(coach["scores"].(map[string]interface{}), "next_steps")

	violations := ValidateCoachRubric(coach)
	if !hasCode(violations, "coach_missing_key:feedback") {
		t.Errorf("expected coach_missing_key:feedback, got %v", violations)
	}
	if !hasCode(violations, "coach_rubric_out_of_range:empathy") {
		t.Errorf("expected coach_rubric_out_of_range:empathy, got %v", violations)
	}
	if !hasCode(violations, "coach_rubric_missing:next_steps") {
		t.Errorf("expected coach_rubric_missing:next_steps, got %v", violations)
	}
}

func TestExtractSectionStopsAtNextLabel(t *testing.T) {
	body := ExtractSection(goldenSalesReply, SectionRepApproach)
	if !strings.Contains(body, "Acknowledge the concern") {
		t.Errorf("section body missing bullets: %q", body)
	}
	if strings.Contains(body, "Impact:") {
		t.Errorf("section body ran past the next label: %q", body)
	}
}

func TestQuestionCount(t *testing.T) {
	if n := QuestionCount("How so? And then? Fine."); n != 2 {
		t.Errorf("expected 2 questions, got %d", n)
	}
}
