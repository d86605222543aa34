// Package session persists per-session conversation state with a TTL
// and implements the loop guard that blocks consecutive duplicate
// replies.
//
// The store is a plain get/put key-value surface with no transactions
// or locking. Two concurrent turns of the same session can both read
// the same last reply and both pass the loop guard; this race is an
// accepted, documented weakness of the design, not a bug.
package session

import (
	"context"
	"regexp"
	"strings"

	"github.com/hcpsim/coachgate/internal/models"
)

// Store is the external session key-value collaborator. Get returns
// (nil, nil) when the key is absent or expired.
type Store interface {
	Get(ctx context.Context, key string) (*models.SessionState, error)
	Put(ctx context.Context, key string, state models.SessionState) error
	Ping(ctx context.Context) error
	Close() error
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// Normalize lowercases, collapses whitespace, and trims a reply for
// duplicate comparison.
func Normalize(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(strings.ToLower(s), " "))
}
