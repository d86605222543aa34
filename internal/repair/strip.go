package repair

import (
	"regexp"
	"sort"
	"strings"

	"github.com/hcpsim/coachgate/internal/contract"
	"github.com/hcpsim/coachgate/internal/extract"
)

var (
	coachBlockRe   = regexp.MustCompile(`(?s)<coach>.*?(?:</coach>|$)`)
	jsonFragmentRe = regexp.MustCompile(`(?m)^\s*[{\[].*[}\]],?\s*$`)
	coachingVerbRe = regexp.MustCompile(`[^.!?\n]*\b(?i:you should|you could|you might want to|try asking|consider asking)\b[^.!?\n]*[.!?]?`)
)

// StripLeaks is the pass-1 deterministic text surgery: it removes
// coaching-structure sections and their bodies, embedded coach blocks,
// stray JSON fragments, and residual coaching-verb sentences, then
// re-sanitizes the remainder.
func StripLeaks(text string) string {
	out := coachBlockRe.ReplaceAllString(text, "")
	out = stripCoachingSections(out)
	out = jsonFragmentRe.ReplaceAllString(out, "")
	out = coachingVerbRe.ReplaceAllString(out, "")
	return extract.Sanitize(out)
}

// stripCoachingSections removes every known coaching label together
// with its body, up to the next label or end of text. Spans are
// computed first and removed back-to-front so indexes stay valid.
func stripCoachingSections(text string) string {
	var starts []int
	for _, label := range contract.CoachingLabels {
		offset := 0
		for {
			idx := strings.Index(text[offset:], label)
			if idx < 0 {
				break
			}
			starts = append(starts, offset+idx)
			offset += idx + len(label)
		}
	}
	if len(starts) == 0 {
		return text
	}
	sort.Ints(starts)

	// Each section runs from its label to the next label or end of text.
	out := text
	for i := len(starts) - 1; i >= 0; i-- {
		end := len(out)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		out = out[:starts[i]] + out[end:]
	}
	return out
}
