// Package api exposes the analysis engine and the content store over HTTP
// and MCP.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/influix/influix/internal/inference"
	"github.com/influix/influix/internal/prompts"
	"github.com/influix/influix/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Analyzer runs stateless analyses.
type Analyzer interface {
	Run(ctx context.Context, templateID, content string, metadata map[string]any) inference.Outcome
	Compare(ctx context.Context, contentA, contentB string, metadata map[string]any) inference.Outcome
}

// Catalog lists prompt templates.
type Catalog interface {
	Get(id string) (prompts.Template, error)
	List() []prompts.Template
	Versions(id string) []int
}

// Insights drives persisted analyses.
type Insights interface {
	RequestAnalysis(ctx context.Context, contentID, templateID string) (storage.Insight, error)
	AnalyzeNow(ctx context.Context, contentID, templateID string) (storage.Insight, error)
	Regenerate(ctx context.Context, insightID string) (storage.Insight, error)
}

type AppDeps struct {
	Store    *storage.Store
	Engine   Analyzer
	Catalog  Catalog
	Insights Insights
	// Token enables bearer authentication on every route except /health.
	Token string
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Use(Identify)

		r.Get("/prompts", handleListPrompts(deps))
		r.Get("/prompts/{id}", handleGetPrompt(deps))
		r.Post("/analyze", handleAnalyze(deps))
		r.Post("/compare", handleCompare(deps))

		r.Post("/content", handleCreateContent(deps))
		r.Get("/content", handleListContent(deps))
		r.Get("/content/{id}", handleGetContent(deps))
		r.Delete("/content/{id}", handleDeleteContent(deps))
		r.Post("/content/{id}/analyze", handleAnalyzeContent(deps))
		r.Get("/content/{id}/insights", handleListInsights(deps))

		r.Get("/insights/{id}", handleGetInsight(deps))
		r.Post("/insights/{id}/regenerate", handleRegenerate(deps))
	})

	return r
}

// handleHealth reports database reachability and the analysis queue depth
// per job status.
func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Store == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
			return
		}
		if err := deps.Store.Ping(); err != nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "database unavailable: %v", err)
			return
		}
		jobs, err := deps.Store.CountJobs()
		if err != nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "counting jobs: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "jobs": jobs})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}
