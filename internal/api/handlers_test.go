package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openai/openai-go"

	"github.com/hcpsim/coachgate/internal/models"
	"github.com/hcpsim/coachgate/internal/pipeline"
	"github.com/hcpsim/coachgate/internal/provider"
	"github.com/hcpsim/coachgate/internal/session"
)

type stubProvider struct {
	reply string
	err   error
	calls int
}

func (p *stubProvider) Send(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, opts provider.SendOptions) (string, error) {
	p.calls++
	return p.reply, p.err
}

const salesCompletion = `Challenge: The cardiologist doubts the adherence data from the pivotal trial.
Rep Approach:
- Acknowledge the concern about the trial population.
- Share the renal subgroup analysis most relevant to her panel.
- Ask what evidence would change her assessment.
Impact: The conversation stays open and the data lands with credibility.
Suggested Phrasing: "Which outcomes matter most when you evaluate a new therapy?"
<coach>{"scores":{"clarity":4,"empathy":4,"objection_handling":5,"compliance":4,"discovery":4,"accuracy":4,"structure":5,"listening":3,"value_framing":4,"next_steps":4},"rationales":{"clarity":"tight sections"},"worked":["named the objection"],"improve":["mirror her words"],"feedback":"Credible, well structured turn.","rubric_version":"coach-v1"}</coach>`

func newTestServer(p pipeline.Provider) *Server {
	store := session.NewMemoryStore()
	pl := pipeline.New(p, session.NewGuard(store), provider.SendOptions{})
	return NewServer(pl, store, Options{})
}

func doRequest(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func chatRequest(t *testing.T, body string, header map[string]string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	return req
}

func TestChatHappyPath(t *testing.T) {
	p := &stubProvider{reply: salesCompletion}
	s := newTestServer(p)

	rec := doRequest(s, chatRequest(t, `{"mode":"sales-coach","user":"How do I open?"}`, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp models.ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if resp.Reply == "" {
		t.Error("reply must not be empty")
	}
	if strings.Contains(resp.Reply, "<coach>") {
		t.Errorf("sentinel leaked to the caller: %q", resp.Reply)
	}
	if resp.Coach == nil {
		t.Error("coach payload missing")
	}
	if resp.Plan == nil {
		t.Error("plan stub missing for sales-coach")
	}
	if resp.XCoach != nil {
		t.Error("EI payload must stay opt-in")
	}
	if rec.Header().Get("X-Session-ID") == "" {
		t.Error("minted session id must be returned")
	}
}

func TestChatUnknownModeRejectedBeforeProviderCall(t *testing.T) {
	p := &stubProvider{reply: salesCompletion}
	s := newTestServer(p)

	rec := doRequest(s, chatRequest(t, `{"mode":"mystery-mode","user":"hi"}`, nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if p.calls != 0 {
		t.Errorf("provider must not be called for an unknown mode, got %d calls", p.calls)
	}
}

func TestChatMissingModeRejected(t *testing.T) {
	s := newTestServer(&stubProvider{reply: salesCompletion})
	rec := doRequest(s, chatRequest(t, `{"user":"hi"}`, nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestChatMissingUserContentRejected(t *testing.T) {
	s := newTestServer(&stubProvider{reply: salesCompletion})
	rec := doRequest(s, chatRequest(t, `{"mode":"sales-coach"}`, nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestChatMalformedJSONRejected(t *testing.T) {
	s := newTestServer(&stubProvider{reply: salesCompletion})
	rec := doRequest(s, chatRequest(t, `{"mode":`, nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestChatMethodNotAllowed(t *testing.T) {
	s := newTestServer(&stubProvider{reply: salesCompletion})
	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/chat", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestChatEmptyCompletionIs502(t *testing.T) {
	s := newTestServer(&stubProvider{reply: "   "})
	rec := doRequest(s, chatRequest(t, `{"mode":"general-knowledge","user":"hi"}`, nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}

	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid error body: %v", err)
	}
	if resp.Code != models.ErrCodeProviderEmpty {
		t.Errorf("expected code %q, got %q", models.ErrCodeProviderEmpty, resp.Code)
	}
}

func TestChatProviderHTTPErrorCode(t *testing.T) {
	s := newTestServer(&stubProvider{err: &provider.HTTPError{StatusCode: 503, Err: errors.New("upstream")}})
	rec := doRequest(s, chatRequest(t, `{"mode":"general-knowledge","user":"hi"}`, nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}

	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid error body: %v", err)
	}
	if resp.Code != "provider_http_503" {
		t.Errorf("expected provider_http_503, got %q", resp.Code)
	}
}

func TestChatUnclassifiedProviderErrorCode(t *testing.T) {
	s := newTestServer(&stubProvider{err: errors.New("connection reset by peer")})
	rec := doRequest(s, chatRequest(t, `{"mode":"general-knowledge","user":"hi"}`, nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}

	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid error body: %v", err)
	}
	if resp.Code != models.ErrCodeProviderNetwork {
		t.Errorf("expected %q, got %q", models.ErrCodeProviderNetwork, resp.Code)
	}
}

func TestChatTimeoutErrorCode(t *testing.T) {
	s := newTestServer(&stubProvider{err: &provider.TimeoutError{Err: context.DeadlineExceeded}})
	rec := doRequest(s, chatRequest(t, `{"mode":"general-knowledge","user":"hi"}`, nil))

	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid error body: %v", err)
	}
	if resp.Code != models.ErrCodeProviderTimeout {
		t.Errorf("expected %q, got %q", models.ErrCodeProviderTimeout, resp.Code)
	}
}

func TestChatEiOptInViaQuery(t *testing.T) {
	s := newTestServer(&stubProvider{reply: salesCompletion})
	req := chatRequest(t, `{"mode":"sales-coach","user":"How do I open?"}`, nil)
	req.URL.RawQuery = "ei=1"

	rec := doRequest(s, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp models.ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if resp.XCoach == nil || resp.XCoach.Ei == nil {
		t.Fatal("expected an EI payload under _coach.ei")
	}
	if resp.XCoach.Ei.RubricVersion != models.EiRubricVersion {
		t.Errorf("unexpected EI rubric version: %q", resp.XCoach.Ei.RubricVersion)
	}
}

func TestChatEiOptInViaHeader(t *testing.T) {
	s := newTestServer(&stubProvider{reply: salesCompletion})
	rec := doRequest(s, chatRequest(t, `{"mode":"sales-coach","user":"hi"}`, map[string]string{"X-Coach-EI": "1"}))

	var resp models.ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if resp.XCoach == nil || resp.XCoach.Ei == nil {
		t.Error("expected an EI payload when the header opts in")
	}
}

func TestChatSSEStream(t *testing.T) {
	s := newTestServer(&stubProvider{reply: salesCompletion})
	req := chatRequest(t, `{"mode":"sales-coach","user":"hi"}`, map[string]string{
		"Accept":     "text/event-stream",
		"X-Coach-EI": "1",
	})

	rec := doRequest(s, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected event-stream content type, got %q", ct)
	}

	body := rec.Body.String()
	for _, want := range []string{"event: coach.partial", "event: coach.final", "data: [DONE]"} {
		if !strings.Contains(body, want) {
			t.Errorf("SSE body missing %q:\n%s", want, body)
		}
	}
	partialIdx := strings.Index(body, "event: coach.partial")
	finalIdx := strings.Index(body, "event: coach.final")
	doneIdx := strings.Index(body, "data: [DONE]")
	if !(partialIdx < finalIdx && finalIdx < doneIdx) {
		t.Error("SSE events out of order")
	}
}

func TestChatPreservesCallerSession(t *testing.T) {
	reply := "Honestly, I'm not convinced. The renal subgroup was tiny. What am I missing?"
	s := newTestServer(&stubProvider{reply: reply})

	first := doRequest(s, chatRequest(t, `{"mode":"role-play","user":"hi","session":"abc"}`, nil))
	if got := first.Header().Get("X-Session-ID"); got != "abc" {
		t.Errorf("caller session id must be echoed, got %q", got)
	}

	// Same session, identical completion: the loop guard substitutes.
	second := doRequest(s, chatRequest(t, `{"mode":"role-play","user":"hi","session":"abc"}`, nil))
	var firstResp, secondResp models.ChatResponse
	if err := json.Unmarshal(first.Body.Bytes(), &firstResp); err != nil {
		t.Fatalf("invalid first body: %v", err)
	}
	if err := json.Unmarshal(second.Body.Bytes(), &secondResp); err != nil {
		t.Fatalf("invalid second body: %v", err)
	}
	if firstResp.Reply == secondResp.Reply {
		t.Error("repeated reply in the same session must be substituted")
	}
}

func TestModesEndpoint(t *testing.T) {
	s := newTestServer(&stubProvider{})
	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/modes", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Status string           `json:"status"`
		Result []modeDescriptor `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if len(resp.Result) != len(models.AllModes()) {
		t.Errorf("expected %d modes, got %d", len(models.AllModes()), len(resp.Result))
	}
	for _, d := range resp.Result {
		if d.Mode == models.ModeSalesCoach && d.CoachBlock != "required" {
			t.Errorf("sales-coach must require the coach block, got %q", d.CoachBlock)
		}
		if d.Mode == models.ModeProductKnowledge && !d.Citations {
			t.Error("product-knowledge must require citations")
		}
	}
}

func TestStatsEndpoint(t *testing.T) {
	s := newTestServer(&stubProvider{reply: salesCompletion})
	doRequest(s, chatRequest(t, `{"mode":"sales-coach","user":"hi"}`, nil))

	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "turns_by_mode") {
		t.Errorf("stats body missing counters: %s", rec.Body.String())
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(&stubProvider{})
	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
