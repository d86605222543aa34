// Package models defines the core data structures for CoachGate.
//
// It includes the mode registry types, chat messages, contract violations,
// coaching payloads, and session state, which are shared across modules.
package models

import (
	"errors"
	"time"
)

// Mode identifies which conversational contract a reply must satisfy.
type Mode string

const (
	// ModeSalesCoach produces structured coaching guidance for the rep.
	ModeSalesCoach Mode = "sales-coach"
	// ModeRolePlay produces first-person HCP-voice simulation replies.
	ModeRolePlay Mode = "role-play"
	// ModeProductKnowledge produces cited product/guideline answers.
	ModeProductKnowledge Mode = "product-knowledge"
	// ModeEmotionalAssessment produces reflective assessment questions.
	ModeEmotionalAssessment Mode = "emotional-assessment"
	// ModeGeneralKnowledge produces plain informational answers.
	ModeGeneralKnowledge Mode = "general-knowledge"
)

// modeAliases maps legacy mode spellings onto canonical modes.
var modeAliases = map[Mode]Mode{
	"sales-simulation": ModeSalesCoach,
}

// CanonicalMode resolves aliases to their canonical mode identifier.
func CanonicalMode(m Mode) Mode {
	if canonical, ok := modeAliases[m]; ok {
		return canonical
	}
	return m
}

// IsValidMode checks if the given mode is part of the fixed registry.
func IsValidMode(m Mode) bool {
	switch CanonicalMode(m) {
	case ModeSalesCoach, ModeRolePlay, ModeProductKnowledge, ModeEmotionalAssessment, ModeGeneralKnowledge:
		return true
	default:
		return false
	}
}

// AllModes returns the canonical mode registry in a stable order.
func AllModes() []Mode {
	return []Mode{ModeSalesCoach, ModeRolePlay, ModeProductKnowledge, ModeEmotionalAssessment, ModeGeneralKnowledge}
}

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single entry in an ordered conversation. Messages are
// immutable once sent to the provider.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ExtractedPayload is the result of splitting a raw completion into
// human-visible text and an optional embedded coach object.
// CleanText is always usable; Coach is nil when no well-formed
// sentinel block was found or its JSON failed to parse.
type ExtractedPayload struct {
	CleanText string
	Coach     map[string]interface{}
}

// Violation records a single contract breach detected by the validator.
// Codes are stable strings, e.g. "missing_section:Impact" or
// "pass1_leak:challenge_header".
type Violation struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// SessionState is the per-session record persisted between turns.
// LastNormalizedReply always reflects the normalized form of the text
// actually returned to the caller, never a pre-repair candidate.
type SessionState struct {
	LastNormalizedReply string            `json:"last_normalized_reply"`
	FSM                 map[string]string `json:"fsm,omitempty"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// SessionTTL is how long session state survives between turns.
const SessionTTL = 12 * time.Hour

// CoachContext ties a coach payload back to the exchange it scores.
type CoachContext struct {
	RepQuestion string `json:"rep_question,omitempty"`
	HCPReply    string `json:"hcp_reply,omitempty"`
}

// CoachPayload is the structured coaching block attached to a turn.
// It is constructed fresh per turn and never mutated after being
// attached to the response envelope.
type CoachPayload struct {
	Overall       *int               `json:"overall,omitempty"`
	Scores        map[string]float64 `json:"scores"`
	Rationales    map[string]string  `json:"rationales,omitempty"`
	Worked        []string           `json:"worked,omitempty"`
	Improve       []string           `json:"improve,omitempty"`
	Phrasing      string             `json:"phrasing,omitempty"`
	Feedback      string             `json:"feedback,omitempty"`
	RubricVersion string             `json:"rubric_version,omitempty"`
	Context       *CoachContext      `json:"context,omitempty"`
}

// EiScores holds the five fixed emotional-intelligence dimensions.
// Every score is an integer in [1,5].
type EiScores struct {
	Empathy    int `json:"empathy"`
	Discovery  int `json:"discovery"`
	Compliance int `json:"compliance"`
	Clarity    int `json:"clarity"`
	Accuracy   int `json:"accuracy"`
}

// EiPayload is the strict-schema emotional-intelligence block, emitted
// only when the caller opts in.
type EiPayload struct {
	Scores        EiScores          `json:"scores"`
	Rationales    map[string]string `json:"rationales,omitempty"`
	Tips          []string          `json:"tips,omitempty"`
	RubricVersion string            `json:"rubric_version"`
}

// MaxEiTips bounds the tips array in an EiPayload.
const MaxEiTips = 5

// EiRubricVersion is the fixed literal stamped on every EI payload.
const EiRubricVersion = "v1.2"

// Plan is the optional next-move planner stub attached to coached turns.
type Plan struct {
	ID string `json:"id"`
}

// CoachExtras carries opt-in payloads under the response's "_coach" key.
type CoachExtras struct {
	Ei *EiPayload `json:"ei,omitempty"`
}

// ChatRequest is the payload for POST /chat.
type ChatRequest struct {
	Mode     Mode      `json:"mode"`
	User     string    `json:"user,omitempty"`
	Messages []Message `json:"messages,omitempty"`
	History  []Message `json:"history,omitempty"`
	Session  string    `json:"session,omitempty"`
	Disease  string    `json:"disease,omitempty"`
	Persona  string    `json:"persona,omitempty"`
	Goal     string    `json:"goal,omitempty"`
}

// ChatResponse is the envelope returned by POST /chat.
type ChatResponse struct {
	Reply  string        `json:"reply"`
	Coach  *CoachPayload `json:"coach"`
	Plan   *Plan         `json:"plan,omitempty"`
	XCoach *CoachExtras  `json:"_coach,omitempty"`
}

// Error variables for better error handling and testability.
var (
	ErrMissingMode        = errors.New("mode is required")
	ErrInvalidMode        = errors.New("unknown mode")
	ErrMissingUserContent = errors.New("user text or messages are required")
	ErrEmptyCompletion    = errors.New("provider returned an empty completion")
	ErrNoChoices          = errors.New("provider returned no choices")
)

// Stable error codes surfaced to callers for provider failures.
const (
	ErrCodeProviderTimeout    = "provider_timeout"
	ErrCodeProviderEmpty      = "provider_empty_completion"
	ErrCodeProviderNetwork    = "provider_network_error"
	ErrCodeProviderHTTPPrefix = "provider_http_"
)

// Validate performs structural validation on a ChatRequest.
func (r *ChatRequest) Validate() error {
	if r.Mode == "" {
		return ErrMissingMode
	}
	if !IsValidMode(r.Mode) {
		return ErrInvalidMode
	}
	if r.User == "" && len(r.Messages) == 0 {
		return ErrMissingUserContent
	}
	return nil
}

// UserText returns the most recent user utterance in the request.
func (r *ChatRequest) UserText() string {
	if r.User != "" {
		return r.User
	}
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Content
		}
	}
	return ""
}
