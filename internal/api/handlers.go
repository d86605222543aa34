package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hcpsim/coachgate/internal/models"
	"github.com/hcpsim/coachgate/internal/pipeline"
	"github.com/hcpsim/coachgate/internal/provider"
)

// chatHandler serves POST /chat: it validates the request, runs the
// turn through the pipeline, and writes either a JSON envelope or an
// SSE stream when the caller negotiated one.
func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is allowed")
		return
	}

	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.chatHandler: invalid request body", "error", err)
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "request body must be valid JSON")
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.chatHandler: request rejected", "error", err, "mode", req.Mode)
		writeAPIError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	mode := models.CanonicalMode(req.Mode)
	sessionID := req.Session
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.deadline)
	defer cancel()

	result, err := s.pipeline.RunTurn(ctx, pipeline.TurnRequest{
		Mode:      mode,
		SessionID: sessionID,
		UserText:  req.UserText(),
		Messages:  buildMessages(&req, mode),
		WantEi:    wantEi(r),
	})
	if err != nil {
		code := providerErrorCode(err)
		slog.Error("Server.chatHandler: turn failed", "error", err, "code", code, "mode", mode, "session", sessionID)
		writeAPIError(w, http.StatusBadGateway, code, "upstream completion failed")
		return
	}

	resp := models.ChatResponse{
		Reply: result.Reply,
		Coach: result.Coach,
		Plan:  result.Plan,
	}
	if result.Ei != nil {
		resp.XCoach = &models.CoachExtras{Ei: result.Ei}
	}

	w.Header().Set("X-Session-ID", sessionID)
	if wantsSSE(r) {
		s.writeSSE(w, resp, result)
		return
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

// wantEi reports whether the caller opted in to the EI payload, via
// the ei=1 query parameter or the X-Coach-EI header.
func wantEi(r *http.Request) bool {
	if v := r.URL.Query().Get("ei"); v == "1" || strings.EqualFold(v, "true") {
		return true
	}
	v := r.Header.Get("X-Coach-EI")
	return v == "1" || strings.EqualFold(v, "true")
}

func wantsSSE(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// writeSSE streams the turn result as server-sent events. The first
// event carries the full chat envelope; when an EI payload is present
// it is followed by coach.partial (scores only) and coach.final.
func (s *Server) writeSSE(w http.ResponseWriter, resp models.ChatResponse, result *pipeline.TurnResult) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONResponse(w, http.StatusOK, resp)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSEEvent(w, "", resp)
	if result.Ei != nil {
		writeSSEEvent(w, "coach.partial", map[string]interface{}{
			"scores":         result.Ei.Scores,
			"rubric_version": result.Ei.RubricVersion,
		})
		writeSSEEvent(w, "coach.final", result.Ei)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func writeSSEEvent(w http.ResponseWriter, event string, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("writeSSEEvent: failed to marshal event payload", "event", event, "error", err)
		return
	}
	if event != "" {
		fmt.Fprintf(w, "event: %s\n", event)
	}
	fmt.Fprintf(w, "data: %s\n\n", body)
}

// providerErrorCode maps a pipeline error to its stable error code.
func providerErrorCode(err error) string {
	var httpErr *provider.HTTPError
	var timeoutErr *provider.TimeoutError
	switch {
	case errors.Is(err, models.ErrEmptyCompletion), errors.Is(err, models.ErrNoChoices):
		return models.ErrCodeProviderEmpty
	case errors.As(err, &timeoutErr), errors.Is(err, context.DeadlineExceeded):
		return models.ErrCodeProviderTimeout
	case errors.As(err, &httpErr):
		return fmt.Sprintf("%s%d", models.ErrCodeProviderHTTPPrefix, httpErr.StatusCode)
	default:
		return models.ErrCodeProviderNetwork
	}
}

// modesHandler serves GET /modes with the mode registry and each
// mode's contract summary.
func (s *Server) modesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is allowed")
		return
	}
	modes := make([]modeDescriptor, 0, len(models.AllModes()))
	for _, m := range models.AllModes() {
		modes = append(modes, describeMode(m))
	}
	writeJSONResponse(w, http.StatusOK, models.Success(modes))
}

// statsHandler serves GET /stats with the pipeline's counters.
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is allowed")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.pipeline.Stats().Snapshot()))
}

// healthHandler serves GET /health. A failing session store degrades
// the service but does not stop /chat, so it reports 503 degraded
// rather than hard failure.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		slog.Warn("Server.healthHandler: session store unreachable", "error", err)
		writeJSONResponse(w, http.StatusServiceUnavailable, models.ErrorWithCode("store_unavailable", "session store unreachable"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("healthy", nil))
}
