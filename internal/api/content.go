package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/influix/influix/internal/insight"
	"github.com/influix/influix/internal/prompts"
	"github.com/influix/influix/internal/storage"
)

const (
	MaxTitleLength      = 500
	MaxTranscriptLength = 50000

	defaultPageSize = 20
	maxPageSize     = 100

	// Requests without these headers fall into a shared default workspace.
	workspaceHeader  = "X-Workspace-ID"
	userHeader       = "X-User-ID"
	defaultWorkspace = "default"
	defaultUser      = "api"
)

type CreateContentRequest struct {
	Title      string         `json:"title"`
	SourceURL  string         `json:"source_url"`
	SourceType string         `json:"source_type"`
	Platform   string         `json:"platform"`
	Metadata   map[string]any `json:"metadata"`
}

type AnalyzeContentRequest struct {
	Template string `json:"template"`
	// Wait runs the analysis inside the request instead of queueing it.
	Wait bool `json:"wait"`
}

type contentResponse struct {
	ID             string          `json:"id"`
	WorkspaceID    string          `json:"workspace_id"`
	CreatedBy      string          `json:"created_by"`
	Title          string          `json:"title"`
	SourceURL      string          `json:"source_url,omitempty"`
	SourceType     string          `json:"source_type"`
	Platform       string          `json:"platform"`
	Metadata       json.RawMessage `json:"metadata"`
	Status         string          `json:"status"`
	LastAnalyzedAt *time.Time      `json:"last_analyzed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func newContentResponse(c storage.Content) contentResponse {
	meta := json.RawMessage(c.Metadata)
	if !json.Valid(meta) {
		meta = json.RawMessage("{}")
	}
	return contentResponse{
		ID:             c.ID,
		WorkspaceID:    c.WorkspaceID,
		CreatedBy:      c.CreatedBy,
		Title:          c.Title,
		SourceURL:      c.SourceURL,
		SourceType:     c.SourceType,
		Platform:       c.Platform,
		Metadata:       meta,
		Status:         c.Status,
		LastAnalyzedAt: c.LastAnalyzedAt,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

// insightResponse omits the failure reason, which is kept for operators.
type insightResponse struct {
	ID               string          `json:"id"`
	ContentID        string          `json:"content_id"`
	WorkspaceID      string          `json:"workspace_id"`
	PromptID         string          `json:"prompt_id"`
	PromptVersion    int             `json:"prompt_version"`
	Analysis         json.RawMessage `json:"analysis,omitempty"`
	Confidence       float64         `json:"confidence"`
	Status           string          `json:"status"`
	LatencyMs        int64           `json:"latency_ms"`
	PromptTokens     int             `json:"prompt_tokens"`
	CompletionTokens int             `json:"completion_tokens"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func newInsightResponse(i storage.Insight) insightResponse {
	resp := insightResponse{
		ID:               i.ID,
		ContentID:        i.ContentID,
		WorkspaceID:      i.WorkspaceID,
		PromptID:         i.PromptID,
		PromptVersion:    i.PromptVersion,
		Confidence:       i.Confidence,
		Status:           i.Status,
		LatencyMs:        i.LatencyMs,
		PromptTokens:     i.PromptTokens,
		CompletionTokens: i.CompletionTokens,
		CreatedAt:        i.CreatedAt,
		UpdatedAt:        i.UpdatedAt,
	}
	if i.Analysis != "" {
		resp.Analysis = json.RawMessage(i.Analysis)
	}
	return resp
}

// validate returns one message per invalid field, keyed by field name.
func (req CreateContentRequest) validate() map[string]string {
	errs := make(map[string]string)
	switch n := utf8.RuneCountInString(strings.TrimSpace(req.Title)); {
	case n == 0:
		errs["title"] = "is required"
	case n > MaxTitleLength:
		errs["title"] = fmt.Sprintf("must be at most %d characters", MaxTitleLength)
	}
	if req.SourceURL != "" {
		u, err := url.ParseRequestURI(req.SourceURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs["source_url"] = "must be an http(s) URL"
		}
	}
	if !slices.Contains(storage.SourceTypes, req.SourceType) {
		errs["source_type"] = fmt.Sprintf("must be one of %s", strings.Join(storage.SourceTypes, ", "))
	}
	if !slices.Contains(storage.Platforms, req.Platform) {
		errs["platform"] = fmt.Sprintf("must be one of %s", strings.Join(storage.Platforms, ", "))
	}
	if v, ok := req.Metadata["transcript"]; ok {
		s, isString := v.(string)
		switch {
		case !isString:
			errs["metadata.transcript"] = "must be a string"
		case utf8.RuneCountInString(s) > MaxTranscriptLength:
			errs["metadata.transcript"] = fmt.Sprintf("must be at most %d characters", MaxTranscriptLength)
		}
	}
	return errs
}

func validationMessage(errs map[string]string) string {
	fields := make([]string, 0, len(errs))
	for f := range errs {
		fields = append(fields, f)
	}
	slices.Sort(fields)
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f + " " + errs[f]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func handleCreateContent(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateContentRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if errs := req.validate(); len(errs) > 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", validationMessage(errs))
			return
		}

		metadata := "{}"
		if len(req.Metadata) > 0 {
			b, err := json.Marshal(req.Metadata)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid metadata: %v", err)
				return
			}
			metadata = string(b)
		}

		id := uuid.New().String()
		caller := CallerFrom(r.Context())
		c := storage.Content{
			ID:          id,
			WorkspaceID: caller.WorkspaceID,
			CreatedBy:   caller.UserID,
			Title:       strings.TrimSpace(req.Title),
			SourceURL:   req.SourceURL,
			SourceType:  req.SourceType,
			Platform:    req.Platform,
			Metadata:    metadata,
		}
		if err := deps.Store.CreateContent(c); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save content: %v", err)
			return
		}
		created, err := deps.Store.GetContent(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load content: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, newContentResponse(created))
	}
}

func handleListContent(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultPageSize
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = min(n, maxPageSize)
			}
		}
		offset := 0
		if v := r.URL.Query().Get("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}

		items, err := deps.Store.ListContents(CallerFrom(r.Context()).WorkspaceID, limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list content: %v", err)
			return
		}
		out := make([]contentResponse, len(items))
		for i, c := range items {
			out[i] = newContentResponse(c)
		}
		writeJSON(w, http.StatusOK, map[string]any{"content": out, "limit": limit, "offset": offset})
	}
}

func handleGetContent(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		c, err := deps.Store.GetContent(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "content %q not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get content: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, newContentResponse(c))
	}
}

func handleDeleteContent(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		err := deps.Store.DeleteContent(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "content %q not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete content: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleAnalyzeContent(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req AnalyzeContentRequest
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		var ins storage.Insight
		var err error
		status := http.StatusAccepted
		if req.Wait {
			ins, err = deps.Insights.AnalyzeNow(r.Context(), id, req.Template)
			status = http.StatusOK
		} else {
			ins, err = deps.Insights.RequestAnalysis(r.Context(), id, req.Template)
		}
		if err != nil {
			writeInsightError(w, err)
			return
		}
		writeJSON(w, status, newInsightResponse(ins))
	}
}

func handleListInsights(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Store.GetContent(id); err != nil {
			writeInsightError(w, err)
			return
		}
		items, err := deps.Store.ListInsights(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list insights: %v", err)
			return
		}
		out := make([]insightResponse, len(items))
		for i, ins := range items {
			out[i] = newInsightResponse(ins)
		}
		writeJSON(w, http.StatusOK, map[string]any{"insights": out})
	}
}

func handleGetInsight(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ins, err := deps.Store.GetInsight(chi.URLParam(r, "id"))
		if err != nil {
			writeInsightError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newInsightResponse(ins))
	}
}

func handleRegenerate(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ins, err := deps.Insights.Regenerate(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeInsightError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, newInsightResponse(ins))
	}
}

func writeInsightError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, prompts.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found_error", "%v", err)
	case errors.Is(err, insight.ErrUnsupportedTemplate):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, storage.ErrInvalidTransition):
		httpError(w, http.StatusConflict, "conflict_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}
