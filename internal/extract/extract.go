// Package extract splits a raw model completion into human-visible text
// and an optional embedded coach object delimited by sentinel tags.
package extract

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/hcpsim/coachgate/internal/models"
)

const (
	// OpenSentinel and CloseSentinel delimit the embedded coach JSON block.
	OpenSentinel  = "<coach>"
	CloseSentinel = "</coach>"
)

var (
	fenceLineRe      = regexp.MustCompile("(?m)^```[a-zA-Z0-9_-]*[ \t]*$\n?")
	preBlockRe       = regexp.MustCompile(`(?s)<pre[^>]*>.*?</pre>`)
	headerPrefixRe   = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	excessNewlinesRe = regexp.MustCompile(`\n{3,}`)
)

// Extract locates the sentinel block in a raw completion, recovers the
// embedded JSON object via a balanced-brace scan, and sanitizes the
// remaining text. The coach object is nil when no balanced block was
// found or its JSON failed to parse; CleanText is always derived.
func Extract(raw string) models.ExtractedPayload {
	idx := strings.Index(raw, OpenSentinel)
	if idx < 0 {
		return models.ExtractedPayload{CleanText: Sanitize(raw)}
	}

	head := raw[:idx]
	rest := raw[idx+len(OpenSentinel):]

	// The scan region ends at the closing sentinel when one exists, so
	// stray braces in later prose are never mistaken for the coach object.
	region := rest
	tail := ""
	closeIdx := strings.Index(rest, CloseSentinel)
	if closeIdx >= 0 {
		region = rest[:closeIdx]
		tail = rest[closeIdx+len(CloseSentinel):]
	}

	obj, leftover := scanBalancedObject(region)
	if closeIdx < 0 {
		tail = leftover
	}

	payload := models.ExtractedPayload{CleanText: Sanitize(head + " " + tail)}
	if obj == "" {
		slog.Debug("extract.Extract: sentinel tag without balanced object")
		return payload
	}

	var coach map[string]interface{}
	if err := json.Unmarshal([]byte(obj), &coach); err != nil {
		slog.Warn("extract.Extract: coach block failed to parse", "error", err)
		return payload
	}
	payload.Coach = coach
	return payload
}

// scanBalancedObject finds the first '{' and walks a depth counter over
// braces until it closes, skipping brace characters inside JSON strings.
// An explicit scanner is used instead of a regex so nested objects are
// handled correctly. Returns the object text and everything after it;
// returns "" when no balanced object exists.
func scanBalancedObject(s string) (string, string) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", s
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], s[i+1:]
			}
		}
	}
	return "", s
}

// Sanitize applies the mode-agnostic cleanup every reply passes through:
// code-fence markers, HTML <pre> blocks, and leading markdown header
// prefixes are stripped, and runs of 3+ newlines collapse to 2.
// Mode-specific cleanup belongs to the repair engine, not here.
func Sanitize(text string) string {
	out := fenceLineRe.ReplaceAllString(text, "")
	out = preBlockRe.ReplaceAllString(out, "")
	out = headerPrefixRe.ReplaceAllString(out, "")
	out = excessNewlinesRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}
