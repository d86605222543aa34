// Package repair orchestrates bounded corrective passes over a reply
// that violates its mode contract: deterministic text surgery first,
// then corrective re-querying, then a last-resort canned substitution.
//
// The pass loop is an explicit finite-state loop with a hard counter,
// so termination never depends on call-stack depth. The engine always
// produces some reply; contract violations are never surfaced to the
// caller as errors.
package repair

import (
	"context"
	"log/slog"

	"github.com/openai/openai-go"

	"github.com/hcpsim/coachgate/internal/contract"
	"github.com/hcpsim/coachgate/internal/extract"
	"github.com/hcpsim/coachgate/internal/models"
	"github.com/hcpsim/coachgate/internal/provider"
)

// MaxPasses is the hard bound on escalating repair passes.
const MaxPasses = 3

// Provider is the outbound completion dependency, satisfied by
// provider.Client and by mocks in tests.
type Provider interface {
	Send(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, opts provider.SendOptions) (string, error)
}

// Result is the outcome of a repair run.
type Result struct {
	Text            string
	Coach           map[string]interface{}
	PassesUsed      int
	FellBack        bool
	EntryViolations []models.Violation
}

// strictInstructions is the per-mode corrective system instruction used
// by the re-query passes.
var strictInstructions = map[models.Mode]string{
	models.ModeRolePlay:            "Rewrite strictly as the HCP, in the first person, 2-5 sentences. No advice to the rep, no lists, no headings, no JSON.",
	models.ModeSalesCoach:          "Rewrite as structured coaching with exactly these sections in this order: Challenge:, Rep Approach: (exactly 3 bullet points), Impact:, Suggested Phrasing:. Then append a <coach>{...}</coach> JSON block with keys scores (clarity, empathy, objection_handling, compliance, discovery, accuracy, structure, listening, value_framing, next_steps, each a number 1-5), rationales, worked, improve, feedback, rubric_version.",
	models.ModeProductKnowledge:    "Rewrite with inline [n] citations and a References: section of numbered entries, each containing a URL. No coaching sections, no JSON.",
	models.ModeEmotionalAssessment: "Rewrite as a short, reflective reply that ends with an open question.",
	models.ModeGeneralKnowledge:    "Answer plainly and directly. No coaching sections, no JSON block.",
}

// Engine runs the escalating repair passes.
type Engine struct {
	provider Provider
	sendOpts provider.SendOptions
}

// NewEngine creates a repair engine over a completion provider.
func NewEngine(p Provider, opts provider.SendOptions) *Engine {
	return &Engine{provider: p, sendOpts: opts}
}

// Repair runs up to MaxPasses escalating passes and stops at the first
// pass that yields zero violations. If every pass fails, it substitutes
// a mode-appropriate canned reply. The violations observed at entry are
// recorded on the result for observability even though callers only
// forward the final text.
func (e *Engine) Repair(ctx context.Context, mode models.Mode, payload models.ExtractedPayload, violations []models.Violation, conversation []openai.ChatCompletionMessageParamUnion) Result {
	result := Result{
		Text:            payload.CleanText,
		Coach:           payload.Coach,
		EntryViolations: violations,
	}
	if len(violations) == 0 {
		return result
	}

	slog.Info("Engine.Repair: entering repair loop", "mode", mode, "violations", codes(violations))

	current := payload
	for pass := 1; pass <= MaxPasses; pass++ {
		result.PassesUsed = pass
		var candidate models.ExtractedPayload

		switch pass {
		case 1:
			// Text surgery removes coaching sections and JSON wholesale,
			// which would gut a reply whose contract demands exactly that
			// structure. Those modes go straight to the re-query passes,
			// keeping the intact prior reply as rewrite context.
			if c, ok := contract.Get(mode); ok && (len(c.RequiredSections) > 0 || c.RequiresCoachBlock) {
				slog.Debug("Engine.Repair: skipping text surgery for structured mode", "mode", mode)
				continue
			}
			candidate = models.ExtractedPayload{CleanText: StripLeaks(current.CleanText)}
		case 2:
			text, err := e.provider.Send(ctx, e.rewriteMessages(mode, current.CleanText, conversation), e.sendOpts)
			if err != nil || text == "" {
				slog.Warn("Engine.Repair: corrective re-query failed", "pass", pass, "error", err)
				continue
			}
			candidate = extract.Extract(text)
		case 3:
			text, err := e.provider.Send(ctx, e.freshMessages(mode, conversation), e.sendOpts)
			if err != nil || text == "" {
				slog.Warn("Engine.Repair: fresh completion failed", "pass", pass, "error", err)
				continue
			}
			candidate = extract.Extract(text)
		}

		remaining := contract.Validate(mode, candidate.CleanText, candidate.Coach)
		if len(remaining) == 0 {
			slog.Info("Engine.Repair: pass resolved all violations", "mode", mode, "pass", pass)
			result.Text = candidate.CleanText
			result.Coach = candidate.Coach
			return result
		}
		slog.Debug("Engine.Repair: pass left violations", "mode", mode, "pass", pass, "violations", codes(remaining))
		current = candidate
	}

	slog.Warn("Engine.Repair: all passes exhausted, substituting canned reply", "mode", mode, "entry_violations", codes(violations))
	result.Text = CannedReply(mode)
	result.Coach = nil
	result.FellBack = true
	return result
}

// rewriteMessages asks the model to redo its prior reply under the
// stricter instruction, keeping the original conversation as context.
func (e *Engine) rewriteMessages(mode models.Mode, priorReply string, conversation []openai.ChatCompletionMessageParamUnion) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(conversation)+3)
	msgs = append(msgs, openai.SystemMessage(strictInstructions[models.CanonicalMode(mode)]))
	msgs = append(msgs, conversation...)
	msgs = append(msgs,
		openai.AssistantMessage(priorReply),
		openai.UserMessage("Your previous reply broke the required format. Rewrite it now, following the system instruction exactly."),
	)
	return msgs
}

// freshMessages re-runs the full original conversation under the
// stricter instruction, as a last attempt to escape a bad trajectory.
func (e *Engine) freshMessages(mode models.Mode, conversation []openai.ChatCompletionMessageParamUnion) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(conversation)+1)
	msgs = append(msgs, openai.SystemMessage(strictInstructions[models.CanonicalMode(mode)]))
	msgs = append(msgs, conversation...)
	return msgs
}

func codes(violations []models.Violation) []string {
	out := make([]string, len(violations))
	for i, v := range violations {
		out[i] = v.Code
	}
	return out
}
