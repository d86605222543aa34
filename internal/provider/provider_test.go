package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hcpsim/coachgate/internal/models"
)

// fakeChat replays scripted responses and records every call it receives.
type fakeChat struct {
	responses []fakeResponse
	calls     []openai.ChatCompletionNewParams
}

type fakeResponse struct {
	text string
	err  error
}

func (f *fakeChat) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	f.calls = append(f.calls, params)
	if len(f.responses) == 0 {
		return nil, errors.New("fakeChat: no scripted response left")
	}
	next := f.responses[0]
	f.responses = f.responses[1:]
	if next.err != nil {
		return nil, next.err
	}
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: next.text}},
		},
	}, nil
}

func newTestClient(t *testing.T, chat *fakeChat) *Client {
	t.Helper()
	c, err := NewClient(
		withChatService(chat),
		WithRetryBase(time.Millisecond),
		WithTimeout(time.Second),
	)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func userTurn(text string) []openai.ChatCompletionMessageParamUnion {
	return []openai.ChatCompletionMessageParamUnion{openai.UserMessage(text)}
}

func apiError(status int) *openai.Error {
	req := httptest.NewRequest(http.MethodPost, "https://api.openai.com/v1/chat/completions", nil)
	return &openai.Error{StatusCode: status, Request: req}
}

func TestSendReturnsCompletion(t *testing.T) {
	chat := &fakeChat{responses: []fakeResponse{{text: "A complete answer."}}}
	client := newTestClient(t, chat)

	text, err := client.Send(context.Background(), userTurn("hello"), SendOptions{})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if text != "A complete answer." {
		t.Errorf("unexpected text: %q", text)
	}
	if len(chat.calls) != 1 {
		t.Errorf("expected 1 provider call, got %d", len(chat.calls))
	}
}

func TestSendForwardsZeroTemperature(t *testing.T) {
	chat := &fakeChat{responses: []fakeResponse{{text: "Deterministic answer."}}}
	client := newTestClient(t, chat)

	temp := 0.0
	_, err := client.Send(context.Background(), userTurn("hello"), SendOptions{Temperature: &temp})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	got := chat.calls[0].Temperature
	if !got.Valid() || got.Value != 0 {
		t.Errorf("explicit temperature 0 was not forwarded: %+v", got)
	}
}

func TestSendOmitsUnsetTemperature(t *testing.T) {
	chat := &fakeChat{responses: []fakeResponse{{text: "An answer."}}}
	client := newTestClient(t, chat)

	_, err := client.Send(context.Background(), userTurn("hello"), SendOptions{})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if chat.calls[0].Temperature.Valid() {
		t.Errorf("nil temperature must leave the parameter unset, got %v", chat.calls[0].Temperature.Value)
	}
}

func TestSendRetriesOn5xx(t *testing.T) {
	chat := &fakeChat{responses: []fakeResponse{
		{err: apiError(503)},
		{text: "Recovered after retry."},
	}}
	client := newTestClient(t, chat)

	text, err := client.Send(context.Background(), userTurn("hello"), SendOptions{})
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if text != "Recovered after retry." {
		t.Errorf("unexpected text: %q", text)
	}
	if len(chat.calls) != 2 {
		t.Errorf("expected 2 provider calls, got %d", len(chat.calls))
	}
}

func TestSend4xxIsPermanent(t *testing.T) {
	chat := &fakeChat{responses: []fakeResponse{
		{err: apiError(401)},
		{text: "should never be requested"},
	}}
	client := newTestClient(t, chat)

	_, err := client.Send(context.Background(), userTurn("hello"), SendOptions{})
	if err == nil {
		t.Fatal("expected an error for 401")
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != 401 {
		t.Errorf("expected HTTPError with status 401, got %v", err)
	}
	if len(chat.calls) != 1 {
		t.Errorf("4xx must not be retried, got %d calls", len(chat.calls))
	}
}

func TestSendExhaustsRetries(t *testing.T) {
	chat := &fakeChat{responses: []fakeResponse{
		{err: apiError(500)},
		{err: apiError(500)},
		{err: apiError(500)},
	}}
	client := newTestClient(t, chat)

	_, err := client.Send(context.Background(), userTurn("hello"), SendOptions{})
	if err == nil {
		t.Fatal("expected failure after exhausted retries")
	}
	if len(chat.calls) != DefaultMaxAttempts {
		t.Errorf("expected %d attempts, got %d", DefaultMaxAttempts, len(chat.calls))
	}
}

func TestSendContinuesTruncatedCompletion(t *testing.T) {
	truncated := strings.Repeat("The rep should lead with outcome data ", 5) + "and then"
	chat := &fakeChat{responses: []fakeResponse{
		{text: truncated},
		{text: "close with a clear next step."},
	}}
	client := newTestClient(t, chat)

	text, err := client.Send(context.Background(), userTurn("hello"), SendOptions{})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !strings.HasSuffix(text, "close with a clear next step.") {
		t.Errorf("continuation not appended: %q", text)
	}
	if len(chat.calls) != 2 {
		t.Fatalf("expected 2 provider calls, got %d", len(chat.calls))
	}
	// The continuation request must carry the partial assistant turn.
	cont := chat.calls[1]
	if len(cont.Messages) != 3 {
		t.Errorf("continuation should append assistant and user turns, got %d messages", len(cont.Messages))
	}
}

func TestSendStopsContinuingAfterLimit(t *testing.T) {
	truncated := strings.Repeat("an unfinished clause going on and on ", 6) + "still going"
	chat := &fakeChat{responses: []fakeResponse{
		{text: truncated},
		{text: truncated},
		{text: truncated},
		{text: truncated},
	}}
	client := newTestClient(t, chat)

	_, err := client.Send(context.Background(), userTurn("hello"), SendOptions{})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	// Initial call plus at most two continuations.
	if len(chat.calls) != 3 {
		t.Errorf("expected 3 provider calls, got %d", len(chat.calls))
	}
}

func TestLooksTruncated(t *testing.T) {
	long := strings.Repeat("word ", 40)
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"ellipsis", "I was about to say...", true},
		{"short without punctuation", "Done", false},
		{"long without punctuation", long + "and then the rep", true},
		{"long with punctuation", long + "and that closes it.", false},
		{"quoted terminal punctuation", long + `she said "measure outcomes."`, false},
		{"empty", "   ", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := looksTruncated(tt.text); got != tt.want {
				t.Errorf("looksTruncated(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestMessagesConversion(t *testing.T) {
	msgs := Messages([]models.Message{
		{Role: models.RoleSystem, Content: "be brief"},
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "hello"},
	})
	if len(msgs) != 3 {
		t.Fatalf("expected 3 converted messages, got %d", len(msgs))
	}
}
