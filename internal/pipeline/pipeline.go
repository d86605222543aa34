// Package pipeline runs the mode contract enforcement pipeline for a
// single conversational turn: completion, extraction, validation,
// bounded repair, loop guarding, and scoring.
//
// The turn is an explicit state machine. The terminal state is always
// DONE: the canned fallback guarantees some reply is produced for
// every turn that gets a completion.
package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/openai/openai-go"

	"github.com/hcpsim/coachgate/internal/contract"
	"github.com/hcpsim/coachgate/internal/extract"
	"github.com/hcpsim/coachgate/internal/models"
	"github.com/hcpsim/coachgate/internal/provider"
	"github.com/hcpsim/coachgate/internal/repair"
	"github.com/hcpsim/coachgate/internal/scoring"
	"github.com/hcpsim/coachgate/internal/session"
)

// Stage names of the per-turn state machine.
type Stage string

const (
	StageReceived    Stage = "RECEIVED"
	StageExtracted   Stage = "EXTRACTED"
	StageValidated   Stage = "VALIDATED"
	StageRepaired    Stage = "REPAIRED"
	StageFallback    Stage = "FALLBACK"
	StageLoopChecked Stage = "LOOP_CHECKED"
	StageScored      Stage = "SCORED"
	StageDone        Stage = "DONE"
)

// Provider is the outbound completion dependency.
type Provider interface {
	Send(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, opts provider.SendOptions) (string, error)
}

// TurnRequest carries everything the pipeline needs for one turn.
type TurnRequest struct {
	Mode      models.Mode
	SessionID string
	UserText  string
	Messages  []models.Message
	WantEi    bool
}

// TurnResult is the outcome of one completed turn.
type TurnResult struct {
	Reply           string
	Coach           *models.CoachPayload
	Ei              *models.EiPayload
	Plan            *models.Plan
	FellBack        bool
	LoopSubstituted bool
}

// Pipeline wires the stages together. Each inbound request is handled
// by an independent invocation; the only mutable cross-request state is
// the best-effort stats counters and the external session store.
type Pipeline struct {
	provider Provider
	repairer *repair.Engine
	guard    *session.Guard
	sendOpts provider.SendOptions
	stats    *Stats
}

// New creates a pipeline over a completion provider and session guard.
func New(p Provider, guard *session.Guard, sendOpts provider.SendOptions) *Pipeline {
	return &Pipeline{
		provider: p,
		repairer: repair.NewEngine(p, sendOpts),
		guard:    guard,
		sendOpts: sendOpts,
		stats:    NewStats(),
	}
}

// Stats exposes the pipeline's per-instance counters.
func (pl *Pipeline) Stats() *Stats {
	return pl.stats
}

// RunTurn executes the full turn state machine. Provider failures and
// empty completions are the only error returns; contract violations are
// always resolved into some reply.
func (pl *Pipeline) RunTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	mode := models.CanonicalMode(req.Mode)
	pl.stats.incTurn(string(mode))
	slog.Debug("Pipeline.RunTurn: turn started", "stage", StageReceived, "mode", mode, "session", req.SessionID)

	conversation := provider.Messages(req.Messages)
	raw, err := pl.provider.Send(ctx, conversation, pl.sendOpts)
	if err != nil {
		pl.stats.incProviderFailure()
		slog.Error("Pipeline.RunTurn: provider call failed", "error", err, "mode", mode)
		return nil, err
	}
	if strings.TrimSpace(raw) == "" {
		pl.stats.incProviderFailure()
		slog.Error("Pipeline.RunTurn: provider returned empty completion", "mode", mode)
		return nil, models.ErrEmptyCompletion
	}

	payload := extract.Extract(raw)
	slog.Debug("Pipeline.RunTurn: completion extracted", "stage", StageExtracted, "mode", mode, "coach_present", payload.Coach != nil)

	violations := contract.Validate(mode, payload.CleanText, payload.Coach)
	slog.Debug("Pipeline.RunTurn: contract validated", "stage", StageValidated, "mode", mode, "violations", len(violations))
	switch mode {
	case models.ModeEmotionalAssessment:
		logQuestionSignals(payload.CleanText)
	case models.ModeRolePlay:
		if n := contract.HCPVoiceSignals(payload.CleanText); n > 0 {
			slog.Debug("Pipeline.RunTurn: reply carries first-person clinical framing", "signals", n)
		}
	}

	stage := StageValidated
	repaired := pl.repairer.Repair(ctx, mode, payload, violations, conversation)
	if repaired.PassesUsed > 0 {
		stage = StageRepaired
		pl.stats.incRepairPass(repaired.PassesUsed)
	}
	if repaired.FellBack {
		stage = StageFallback
		pl.stats.incFallback()
	}

	finalText, substituted := pl.guard.Check(ctx, req.SessionID, repaired.Text, mode)
	if substituted {
		pl.stats.incLoopSubstitution()
	}
	slog.Debug("Pipeline.RunTurn: loop guard checked", "stage", StageLoopChecked, "mode", mode, "substituted", substituted)

	result := &TurnResult{
		Reply:           finalText,
		FellBack:        repaired.FellBack,
		LoopSubstituted: substituted,
	}
	result.Coach = pl.scoreCoach(mode, req.UserText, finalText, repaired, substituted)
	if mode == models.ModeSalesCoach {
		result.Plan = &models.Plan{ID: uuid.NewString()}
	}
	if req.WantEi {
		result.Ei = pl.scoreEi(ctx, mode, finalText)
	}
	slog.Debug("Pipeline.RunTurn: scoring complete", "stage", StageScored, "mode", mode)

	pl.guard.Commit(ctx, req.SessionID, finalText, map[string]string{
		"stage": string(StageDone),
		"mode":  string(mode),
		"path":  string(stage),
	})

	slog.Info("Pipeline.RunTurn: turn complete", "stage", StageDone, "mode", mode,
		"repair_passes", repaired.PassesUsed, "fell_back", repaired.FellBack, "loop_substituted", substituted)
	return result, nil
}

// scoreCoach prefers a valid model-supplied coach payload and falls
// back to the deterministic scorer otherwise. A loop-guard substitution
// invalidates the model payload because it scored different text.
func (pl *Pipeline) scoreCoach(mode models.Mode, userText, finalText string, repaired repair.Result, substituted bool) *models.CoachPayload {
	if !substituted && repaired.Coach != nil && len(contract.ValidateCoachRubric(repaired.Coach)) == 0 {
		return scoring.CoachFromMap(repaired.Coach, userText, finalText)
	}
	fallback := scoring.Score(userText, finalText)
	return &fallback
}

// scoreEi emits the opt-in EI payload for supported modes, suppressing
// (never failing) on validation defects.
func (pl *Pipeline) scoreEi(ctx context.Context, mode models.Mode, text string) *models.EiPayload {
	c, ok := contract.Get(mode)
	if !ok || !c.SupportsEi {
		slog.Debug("Pipeline.scoreEi: mode does not support EI", "mode", mode)
		return nil
	}
	ei := scoring.ScoreEi(text, mode)
	if err := scoring.ValidateEi(ei); err != nil {
		pl.stats.incEiRejected()
		scoring.RecordEiRejected(ctx, err.Error())
		slog.Warn("Pipeline.scoreEi: EI payload rejected by validation", "error", err, "mode", mode)
		return nil
	}
	pl.stats.incEiEmitted()
	scoring.RecordEiEmitted(ctx, string(mode))
	return &ei
}

// logQuestionSignals reports the informational question-mark count for
// emotional-assessment replies: zero is a warning, two or more is a
// positive engagement signal.
func logQuestionSignals(text string) {
	n := contract.QuestionCount(text)
	switch {
	case n == 0:
		slog.Warn("Pipeline: emotional-assessment reply contains no questions", "question_count", n)
	case n >= 2:
		slog.Debug("Pipeline: emotional-assessment reply engages with questions", "question_count", n)
	}
}
