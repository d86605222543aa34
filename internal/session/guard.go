package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/hcpsim/coachgate/internal/models"
)

// antiRepetitionReplies are the canned substitutes used when a candidate
// exactly repeats the previous accepted reply for the session.
var antiRepetitionReplies = map[models.Mode]string{
	models.ModeRolePlay:            "Hmm, I feel like we just covered that. Let me put it differently: what I really need to understand is how this fits the patients I actually see day to day.",
	models.ModeSalesCoach:          "Challenge: The conversation has stalled on a repeated point.\nRep Approach:\n- Acknowledge the ground already covered and name it explicitly.\n- Ask one new open question to move to unexplored territory.\n- Offer a concrete next step tied to the HCP's stated priority.\nImpact: Repeating the same guidance erodes credibility; a fresh angle re-earns attention.\nSuggested Phrasing: \"We've touched on this already - can I ask what would make the biggest difference for your patients this quarter?\"",
	models.ModeProductKnowledge:    "It looks like we covered that just now. Is there a different aspect of the product or guideline data you'd like me to go into?",
	models.ModeEmotionalAssessment: "We seem to be circling the same ground. What feels most unresolved for you right now?",
	models.ModeGeneralKnowledge:    "We just went over that - is there another angle or a different question I can help with?",
}

// Guard implements the single best-effort loop check: consecutive
// repeats are caught, non-adjacent repeats are not guaranteed to be.
type Guard struct {
	store Store
}

// NewGuard creates a loop guard over a session store.
func NewGuard(store Store) *Guard {
	return &Guard{store: store}
}

// Check compares the candidate against the session's last accepted
// reply and substitutes a mode-specific canned alternative on an exact
// normalized match. A store failure degrades to allowing the candidate;
// the guard never blocks a request on infrastructure errors.
func (g *Guard) Check(ctx context.Context, sessionID, candidate string, mode models.Mode) (string, bool) {
	if sessionID == "" {
		return candidate, false
	}
	state, err := g.store.Get(ctx, sessionID)
	if err != nil {
		slog.Warn("Guard.Check: store unavailable, skipping loop check", "error", err, "session", sessionID)
		return candidate, false
	}
	if state == nil || state.LastNormalizedReply == "" {
		return candidate, false
	}
	if Normalize(candidate) != state.LastNormalizedReply {
		return candidate, false
	}

	slog.Info("Guard.Check: duplicate reply detected, substituting canned alternative", "session", sessionID, "mode", mode)
	if canned, ok := antiRepetitionReplies[models.CanonicalMode(mode)]; ok {
		return canned, true
	}
	return antiRepetitionReplies[models.ModeGeneralKnowledge], true
}

// Commit persists the normalized form of the text actually returned to
// the caller as the session's new last reply, along with the final
// pipeline machine state. Store failures are logged and swallowed;
// persistence is best effort.
func (g *Guard) Commit(ctx context.Context, sessionID, finalReply string, fsm map[string]string) {
	if sessionID == "" {
		return
	}
	state := models.SessionState{
		LastNormalizedReply: Normalize(finalReply),
		FSM:                 fsm,
		UpdatedAt:           time.Now(),
	}
	if err := g.store.Put(ctx, sessionID, state); err != nil {
		slog.Warn("Guard.Commit: failed to persist session state", "error", err, "session", sessionID)
	}
}
