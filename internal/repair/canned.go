package repair

import "github.com/hcpsim/coachgate/internal/models"

// cannedReplies are the terminal fallbacks substituted when every
// repair pass fails. Each is safe for its mode's contract audience.
var cannedReplies = map[models.Mode]string{
	models.ModeRolePlay:            "I hear what you're describing. In my practice, the first thing I weigh with any change like this is how it fits my patients' day-to-day adherence. Walk me through the data you have on that, and then we can talk about where it might fit.",
	models.ModeSalesCoach:          "Challenge: The conversation needs a reset around the HCP's core concern.\nRep Approach:\n- Restate the HCP's last concern in their own words before responding.\n- Ask one open question to surface what evidence would move them.\n- Anchor your answer to approved labeling rather than broad claims.\nImpact: Re-centering on the HCP's concern rebuilds trust and keeps the call compliant.\nSuggested Phrasing: \"Before I go further - what would you need to see to feel confident bringing this to your patients?\"",
	models.ModeProductKnowledge:    "I want to give you a properly sourced answer on that, and I don't have a citable reference at hand for this specific point. Could you narrow the question to the indication or guideline you're working from?",
	models.ModeEmotionalAssessment: "Let's pause and take stock for a moment. What part of this situation is weighing on you most right now?",
	models.ModeGeneralKnowledge:    "I wasn't able to put together a reliable answer to that just now. Could you rephrase the question or narrow it down a little?",
}

// CannedReply returns the terminal fallback text for a mode.
func CannedReply(mode models.Mode) string {
	if reply, ok := cannedReplies[models.CanonicalMode(mode)]; ok {
		return reply
	}
	return cannedReplies[models.ModeGeneralKnowledge]
}
