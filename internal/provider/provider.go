// Package provider wraps the OpenAI chat-completion API with the
// reliability behavior the pipeline depends on: a per-call timeout,
// capped exponential retry, and an auto-continue step for apparently
// truncated output.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hcpsim/coachgate/internal/models"
)

// Defaults for the provider client.
const (
	DefaultModel       = "gpt-4o-mini"
	DefaultTimeout     = 30 * time.Second
	DefaultRetryBase   = 500 * time.Millisecond
	// DefaultMaxAttempts is the initial call plus 2 retries.
	DefaultMaxAttempts = 3
	// maxContinuations caps the "finish the last sentence" follow-up calls.
	maxContinuations = 2
	// minTruncationLength is the shortest reply the truncation heuristic
	// considers; very short replies without terminal punctuation are
	// usually intentional one-liners.
	minTruncationLength = 160
)

// continueInstruction asks the model to complete a cut-off reply.
const continueInstruction = "Your previous reply was cut off. Continue exactly where you left off and finish the last sentence. Do not repeat anything you already wrote."

var terminalPunctRe = regexp.MustCompile(`[.!?]["')\]]?$`)

// chatService defines the minimal interface for chat completions,
// satisfied by the OpenAI SDK and by mocks in tests.
type chatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// openaiChat adapts an openai.Client to the chatService interface.
type openaiChat struct {
	client openai.Client
}

func (o openaiChat) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	return o.client.Chat.Completions.New(ctx, params, opts...)
}

// SendOptions control a single logical completion. A nil Temperature
// leaves the provider default in place; a pointer distinguishes that
// from an explicit 0.
type SendOptions struct {
	MaxTokens   int64
	Temperature *float64
}

// HTTPError carries the provider HTTP status so handlers can surface a
// stable provider_http_<status> code.
type HTTPError struct {
	StatusCode int
	Err        error
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider http %d: %v", e.StatusCode, e.Err)
}

func (e *HTTPError) Unwrap() error { return e.Err }

// TimeoutError distinguishes a timed-out call from a network failure.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("provider timeout: %v", e.Err) }

func (e *TimeoutError) Unwrap() error { return e.Err }

// Client sends chat-completion requests to the provider.
type Client struct {
	chat        chatService
	model       string
	timeout     time.Duration
	retryBase   time.Duration
	maxAttempts int
}

// Option customizes a Client.
type Option func(*Client)

// WithAPIKey overrides the OPENAI_API_KEY environment variable.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		cli := openai.NewClient(option.WithAPIKey(key))
		c.chat = openaiChat{client: cli}
	}
}

// WithBaseURL points the client at a different chat-completion endpoint.
func WithBaseURL(apiKey, baseURL string) Option {
	return func(c *Client) {
		cli := openai.NewClient(option.WithAPIKey(apiKey), option.WithBaseURL(baseURL))
		c.chat = openaiChat{client: cli}
	}
}

// WithModel selects the completion model.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRetryBase sets the base delay for exponential backoff.
func WithRetryBase(d time.Duration) Option {
	return func(c *Client) { c.retryBase = d }
}

// withChatService injects a mock chat service in tests.
func withChatService(svc chatService) Option {
	return func(c *Client) { c.chat = svc }
}

// NewClient initializes a provider client, defaulting the API key from
// the OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		model:       DefaultModel,
		timeout:     DefaultTimeout,
		retryBase:   DefaultRetryBase,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.chat == nil {
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY not set")
		}
		cli := openai.NewClient(option.WithAPIKey(apiKey))
		c.chat = openaiChat{client: cli}
	}
	return c, nil
}

// Send issues a chat completion with retry and truncation continuation.
// On a provider failure that survives all retries it returns an empty
// string plus a classified error, which the caller must distinguish
// from "output present but invalid".
func (c *Client) Send(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, opts SendOptions) (string, error) {
	text, err := c.completeWithRetry(ctx, messages, opts)
	if err != nil {
		return "", err
	}

	for i := 0; i < maxContinuations && looksTruncated(text); i++ {
		slog.Debug("Client.Send: completion looks truncated, requesting continuation", "attempt", i+1, "length", len(text))
		contMessages := append(append([]openai.ChatCompletionMessageParamUnion{}, messages...),
			openai.AssistantMessage(text),
			openai.UserMessage(continueInstruction),
		)
		more, contErr := c.completeWithRetry(ctx, contMessages, opts)
		if contErr != nil {
			slog.Warn("Client.Send: continuation call failed, keeping partial text", "error", contErr)
			break
		}
		text = strings.TrimRight(text, " ") + " " + strings.TrimSpace(more)
	}

	return text, nil
}

// completeWithRetry performs one completion with up to maxAttempts tries.
// 5xx, timeout, and network errors are retried with exponential backoff;
// 4xx errors and caller cancellation are permanent.
func (c *Client) completeWithRetry(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, opts SendOptions) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: messages,
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(opts.MaxTokens)
	}
	if opts.Temperature != nil {
		params.Temperature = openai.Float(*opts.Temperature)
	}

	operation := func() (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		resp, err := c.chat.New(callCtx, params)
		if err != nil {
			if ctx.Err() != nil {
				// The inbound request was cancelled; do not keep calling.
				return "", backoff.Permanent(ctx.Err())
			}
			if errors.Is(err, context.DeadlineExceeded) {
				slog.Warn("Client.completeWithRetry: call timed out", "timeout", c.timeout)
				return "", &TimeoutError{Err: err}
			}
			var apiErr *openai.Error
			if errors.As(err, &apiErr) {
				if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
					return "", backoff.Permanent(&HTTPError{StatusCode: apiErr.StatusCode, Err: err})
				}
				slog.Warn("Client.completeWithRetry: provider HTTP error, retrying", "status", apiErr.StatusCode)
				return "", &HTTPError{StatusCode: apiErr.StatusCode, Err: err}
			}
			slog.Warn("Client.completeWithRetry: network error, retrying", "error", err)
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", backoff.Permanent(models.ErrNoChoices)
		}
		return resp.Choices[0].Message.Content, nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.retryBase

	text, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(c.maxAttempts)),
	)
	if err != nil {
		slog.Error("Client.completeWithRetry: all attempts failed", "attempts", c.maxAttempts, "error", err)
		return "", err
	}
	return text, nil
}

// looksTruncated reports whether text appears cut off: it ends with an
// ellipsis marker, or it exceeds the minimum length and does not end
// with terminal punctuation (optionally followed by a quote or paren).
func looksTruncated(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return false
	}
	if strings.HasSuffix(t, "...") || strings.HasSuffix(t, "…") {
		return true
	}
	if len(t) < minTruncationLength {
		return false
	}
	return !terminalPunctRe.MatchString(t)
}

// Messages converts pipeline messages into provider message params.
func Messages(msgs []models.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case models.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case models.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
