package api

import (
	"errors"
	"net/http"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/influix/influix/internal/inference"
	"github.com/influix/influix/internal/prompts"
	"github.com/influix/influix/internal/provider"
	"github.com/influix/influix/internal/schema"
)

// MaxAnalysisLength caps the text accepted for a single analysis.
const MaxAnalysisLength = 50000

type promptResponse struct {
	prompts.Template
	Versions []int `json:"versions"`
}

type AnalyzeRequest struct {
	Template string         `json:"template"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

type CompareRequest struct {
	ContentA string         `json:"content_a"`
	ContentB string         `json:"content_b"`
	Metadata map[string]any `json:"metadata"`
}

type failureResponse struct {
	Reason    inference.Reason `json:"reason"`
	Detail    string           `json:"detail"`
	Violation schema.ErrorKind `json:"violation,omitempty"`
}

// OutcomeResponse is the wire form of an analysis outcome.
type OutcomeResponse struct {
	Success   bool                  `json:"success"`
	Template  inference.TemplateRef `json:"template"`
	Result    schema.Output         `json:"result,omitempty"`
	Error     *failureResponse      `json:"error,omitempty"`
	Usage     *provider.Usage       `json:"usage,omitempty"`
	LatencyMs int64                 `json:"latency_ms"`
	Attempts  int                   `json:"attempts"`
}

func newOutcomeResponse(o inference.Outcome) OutcomeResponse {
	resp := OutcomeResponse{
		Success:   o.OK(),
		Template:  o.Template,
		Result:    o.Result,
		Usage:     o.Usage,
		LatencyMs: o.LatencyMs,
		Attempts:  o.Attempts,
	}
	if o.Failure != nil {
		resp.Error = &failureResponse{
			Reason:    o.Failure.Reason,
			Detail:    o.Failure.Detail,
			Violation: o.ViolationKind(),
		}
	}
	return resp
}

// outcomeStatus maps a failure reason to an HTTP status.
func outcomeStatus(o inference.Outcome) int {
	if o.Failure == nil {
		return http.StatusOK
	}
	switch o.Failure.Reason {
	case inference.ReasonUnknownTemplate:
		return http.StatusNotFound
	case inference.ReasonInvalidInput:
		return http.StatusBadRequest
	case inference.ReasonSchemaViolation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func handleListPrompts(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list := deps.Catalog.List()
		out := make([]promptResponse, len(list))
		for i, t := range list {
			out[i] = promptResponse{Template: t, Versions: deps.Catalog.Versions(t.ID)}
		}
		writeJSON(w, http.StatusOK, map[string]any{"prompts": out})
	}
}

func handleGetPrompt(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		t, err := deps.Catalog.Get(id)
		if errors.Is(err, prompts.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "prompt %q not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get prompt: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, promptResponse{Template: t, Versions: deps.Catalog.Versions(id)})
	}
}

func handleAnalyze(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AnalyzeRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}
		if utf8.RuneCountInString(req.Content) > MaxAnalysisLength {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content exceeds %d characters", MaxAnalysisLength)
			return
		}
		if req.Template == "" {
			req.Template = inference.DefaultTemplate
		}

		outcome := deps.Engine.Run(r.Context(), req.Template, req.Content, req.Metadata)
		writeJSON(w, outcomeStatus(outcome), newOutcomeResponse(outcome))
	}
}

func handleCompare(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CompareRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.ContentA == "" || req.ContentB == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content_a and content_b are required")
			return
		}
		if utf8.RuneCountInString(req.ContentA)+utf8.RuneCountInString(req.ContentB) > MaxAnalysisLength {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "combined content exceeds %d characters", MaxAnalysisLength)
			return
		}

		outcome := deps.Engine.Compare(r.Context(), req.ContentA, req.ContentB, req.Metadata)
		writeJSON(w, outcomeStatus(outcome), newOutcomeResponse(outcome))
	}
}
