package api

import (
	"fmt"
	"strings"

	"github.com/hcpsim/coachgate/internal/contract"
	"github.com/hcpsim/coachgate/internal/extract"
	"github.com/hcpsim/coachgate/internal/models"
)

// systemPrompts hold the per-mode instruction templates. Each template
// states the output contract for its mode so most completions validate
// on the first pass.
var systemPrompts = map[models.Mode]string{
	models.ModeSalesCoach: `You are a pharmaceutical sales coach reviewing a rep's practice conversation.
Respond with exactly these four sections, in this order:
Challenge: one sentence naming the hardest part of the rep's situation.
Rep Approach: exactly three bullet points describing what the rep should do.
Impact: one or two sentences on the expected outcome.
Suggested Phrasing: a short verbatim line the rep could say.
After the visible text, append a machine-readable coaching block wrapped in ` + extract.OpenSentinel + `...` + extract.CloseSentinel + ` containing JSON with keys scores, rationales, worked, improve, feedback, and rubric_version.`,

	models.ModeRolePlay: `You are role-playing a healthcare professional in a sales conversation.
Stay in character as the HCP at all times. Speak in the first person as the HCP.
Never coach the rep, never use section headers such as "Challenge:" or "Rep Approach:", and never describe yourself as an assistant or simulator.`,

	models.ModeProductKnowledge: `You are a medical information assistant.
Answer factually and cite your sources: use inline numeric citations like [1] in the body,
and finish with a "References:" section listing each citation with a URL.`,

	models.ModeEmotionalAssessment: `You are an empathetic listener helping someone reflect on how they feel.
Ask open questions, acknowledge emotions, and keep replies short and warm.
Do not give sales advice and do not use coaching section headers.`,

	models.ModeGeneralKnowledge: `You are a helpful assistant. Answer the question directly and concisely.
Do not use coaching section headers and do not append any coaching block.`,
}

// buildMessages assembles the provider conversation for one chat turn:
// system template, optional scenario context, prior history, then the
// current user turn.
func buildMessages(req *models.ChatRequest, mode models.Mode) []models.Message {
	msgs := make([]models.Message, 0, len(req.History)+len(req.Messages)+2)

	system := systemPrompts[mode]
	if ctx := scenarioContext(req); ctx != "" {
		system = system + "\n\n" + ctx
	}
	msgs = append(msgs, models.Message{Role: models.RoleSystem, Content: system})

	msgs = append(msgs, req.History...)
	if len(req.Messages) > 0 {
		msgs = append(msgs, req.Messages...)
	} else {
		msgs = append(msgs, models.Message{Role: models.RoleUser, Content: req.User})
	}
	return msgs
}

// scenarioContext renders the optional disease, persona, and goal
// fields into a context block for the system prompt.
func scenarioContext(req *models.ChatRequest) string {
	var lines []string
	if req.Disease != "" {
		lines = append(lines, fmt.Sprintf("Therapeutic area: %s.", req.Disease))
	}
	if req.Persona != "" {
		lines = append(lines, fmt.Sprintf("HCP persona: %s.", req.Persona))
	}
	if req.Goal != "" {
		lines = append(lines, fmt.Sprintf("Call goal: %s.", req.Goal))
	}
	if len(lines) == 0 {
		return ""
	}
	return "Scenario context:\n" + strings.Join(lines, "\n")
}

// modeDescriptor is the /modes registry entry for one mode.
type modeDescriptor struct {
	Mode        models.Mode `json:"mode"`
	CoachBlock  string      `json:"coach_block"`
	Citations   bool        `json:"citations"`
	SupportsEi  bool        `json:"supports_ei"`
	SectionPlan []string    `json:"sections,omitempty"`
}

func describeMode(mode models.Mode) modeDescriptor {
	d := modeDescriptor{Mode: mode, CoachBlock: "ignored"}
	c, ok := contract.Get(mode)
	if !ok {
		return d
	}
	if c.RequiresCoachBlock {
		d.CoachBlock = "required"
	} else if c.ForbidsCoachBlock {
		d.CoachBlock = "forbidden"
	}
	d.Citations = c.RequiresCitations
	d.SupportsEi = c.SupportsEi
	d.SectionPlan = append(d.SectionPlan, c.RequiredSections...)
	return d
}
