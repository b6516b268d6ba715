// Package insight owns the lifecycle of persisted insights: creating them,
// running the analysis, and recording exactly one terminal outcome.
package insight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/influix/influix/internal/inference"
	"github.com/influix/influix/internal/prompts"
	"github.com/influix/influix/internal/schema"
	"github.com/influix/influix/internal/storage"
)

// JobTypeGenerate is the queue job type that runs a pending insight.
const JobTypeGenerate = "insight_generate"

const (
	DefaultTimeout    = 60 * time.Second
	DefaultConfidence = 0.85
)

// ErrUnsupportedTemplate is returned when a template's output cannot be
// stored as an insight analysis.
var ErrUnsupportedTemplate = errors.New("template does not produce a content analysis")

// Store is the persistence the manager needs.
type Store interface {
	GetContent(id string) (storage.Content, error)
	UpdateContentStatus(id, status string, analyzedAt *time.Time) error
	StartInsight(i storage.Insight, job *storage.Job) error
	GetInsight(id string) (storage.Insight, error)
	CompleteInsight(id string, r storage.InsightResult) error
	FailInsight(id, reason string, r storage.InsightResult) error
	MarkInsightStale(id string) error
}

// Analyzer runs a pinned template version over content.
type Analyzer interface {
	RunVersion(ctx context.Context, templateID string, version int, content string, metadata map[string]any) inference.Outcome
}

// Templates resolves the latest version of a template.
type Templates interface {
	Get(id string) (prompts.Template, error)
}

// Config tunes the manager. Zero values take the package defaults.
type Config struct {
	// Timeout bounds one whole analysis run, retries included.
	Timeout time.Duration
	// Confidence is recorded on every completed insight.
	Confidence float64
	// JobAttempts caps how often a queued run is tried before the insight
	// is failed. Zero uses the queue default.
	JobAttempts int
}

// Manager creates insights and drives them to a terminal status.
type Manager struct {
	store      Store
	engine     Analyzer
	templates  Templates
	timeout    time.Duration
	confidence float64
	attempts   int
	logger     *slog.Logger
	now        func() time.Time
}

func NewManager(store Store, engine Analyzer, templates Templates, cfg Config) *Manager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Confidence <= 0 {
		cfg.Confidence = DefaultConfidence
	}
	return &Manager{
		store:      store,
		engine:     engine,
		templates:  templates,
		timeout:    cfg.Timeout,
		confidence: cfg.Confidence,
		attempts:   cfg.JobAttempts,
		logger:     slog.Default(),
		now:        time.Now,
	}
}

type generatePayload struct {
	InsightID string `json:"insight_id"`
}

// RequestAnalysis creates a generating insight for the content, marks the
// content analyzing, and queues the run. An empty templateID selects the
// default content-analysis template.
func (m *Manager) RequestAnalysis(ctx context.Context, contentID, templateID string) (storage.Insight, error) {
	ins, err := m.create(contentID, templateID, true)
	if err != nil {
		return storage.Insight{}, err
	}
	m.logger.Info("analysis requested", "content_id", contentID, "insight_id", ins.ID, "template", ins.PromptID)
	return ins, nil
}

// AnalyzeNow creates an insight and runs it in the caller's goroutine. There
// is no job to retry it, so a run that cannot record its outcome fails the
// insight.
func (m *Manager) AnalyzeNow(ctx context.Context, contentID, templateID string) (storage.Insight, error) {
	ins, err := m.create(contentID, templateID, false)
	if err != nil {
		return storage.Insight{}, err
	}
	if err := m.Process(ctx, ins.ID); err != nil {
		if abandonErr := m.Abandon(ins.ID, err.Error()); abandonErr != nil {
			m.logger.Error("failed to abandon insight", "insight_id", ins.ID, "error", abandonErr)
		}
		return storage.Insight{}, err
	}
	return m.store.GetInsight(ins.ID)
}

// Abandon fails an insight that will not be run again, and its content with
// it. Insights that already finished are left alone.
func (m *Manager) Abandon(insightID, reason string) error {
	ins, err := m.store.GetInsight(insightID)
	if err != nil {
		return fmt.Errorf("loading insight %s: %w", insightID, err)
	}
	err = m.store.FailInsight(insightID, reason, storage.InsightResult{})
	if errors.Is(err, storage.ErrInvalidTransition) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failing insight %s: %w", insightID, err)
	}
	m.logger.Warn("insight abandoned", "insight_id", insightID, "content_id", ins.ContentID, "reason", reason)

	analyzedAt := m.now()
	if err := m.store.UpdateContentStatus(ins.ContentID, storage.ContentFailed, &analyzedAt); err != nil {
		return fmt.Errorf("marking content %s failed: %w", ins.ContentID, err)
	}
	return nil
}

// Regenerate supersedes an insight: the old one becomes stale and a new
// analysis is requested with the latest version of the same template.
func (m *Manager) Regenerate(ctx context.Context, insightID string) (storage.Insight, error) {
	old, err := m.store.GetInsight(insightID)
	if err != nil {
		return storage.Insight{}, err
	}
	switch old.Status {
	case storage.InsightGenerating:
		return storage.Insight{}, fmt.Errorf("%w: insight %s is still generating", storage.ErrInvalidTransition, insightID)
	case storage.InsightComplete, storage.InsightFailed:
		if err := m.store.MarkInsightStale(insightID); err != nil {
			return storage.Insight{}, fmt.Errorf("marking insight %s stale: %w", insightID, err)
		}
	}
	return m.RequestAnalysis(ctx, old.ContentID, old.PromptID)
}

// create starts a generating insight, with a queued job when queue is set.
func (m *Manager) create(contentID, templateID string, queue bool) (storage.Insight, error) {
	if templateID == "" {
		templateID = inference.DefaultTemplate
	}
	tmpl, err := m.templates.Get(templateID)
	if err != nil {
		return storage.Insight{}, err
	}
	if tmpl.Contract != schema.ContractContentAnalysis {
		return storage.Insight{}, fmt.Errorf("%w: %s", ErrUnsupportedTemplate, templateID)
	}

	content, err := m.store.GetContent(contentID)
	if err != nil {
		return storage.Insight{}, fmt.Errorf("loading content %s: %w", contentID, err)
	}

	ins := storage.Insight{
		ID:            uuid.New().String(),
		ContentID:     content.ID,
		WorkspaceID:   content.WorkspaceID,
		PromptID:      tmpl.ID,
		PromptVersion: tmpl.Version,
	}
	var job *storage.Job
	if queue {
		payload, _ := json.Marshal(generatePayload{InsightID: ins.ID})
		job = &storage.Job{ID: uuid.New().String(), Type: JobTypeGenerate, PayloadJSON: string(payload), MaxAttempts: m.attempts}
	}
	if err := m.store.StartInsight(ins, job); err != nil {
		return storage.Insight{}, fmt.Errorf("starting insight for content %s: %w", content.ID, err)
	}
	return m.store.GetInsight(ins.ID)
}

// Process runs the analysis for a generating insight and records the
// outcome. Insights that already reached a terminal status are left alone,
// so replaying a job is harmless. If ctx is cancelled before the run
// finishes, nothing is recorded and the error is returned so the job can be
// retried.
func (m *Manager) Process(ctx context.Context, insightID string) error {
	ins, err := m.store.GetInsight(insightID)
	if err != nil {
		return fmt.Errorf("loading insight %s: %w", insightID, err)
	}
	if ins.Status != storage.InsightGenerating {
		m.logger.Info("insight already finished, skipping", "insight_id", insightID, "status", ins.Status)
		return nil
	}

	content, err := m.store.GetContent(ins.ContentID)
	if err != nil {
		return fmt.Errorf("loading content %s: %w", ins.ContentID, err)
	}
	text, metadata := AnalysisInput(content)

	runCtx, cancel := context.WithTimeout(ctx, m.timeout)
	outcome := m.engine.RunVersion(runCtx, ins.PromptID, ins.PromptVersion, text, metadata)
	cancel()

	if ctx.Err() != nil {
		return fmt.Errorf("analysis of insight %s interrupted: %w", insightID, ctx.Err())
	}

	result := storage.InsightResult{LatencyMs: outcome.LatencyMs}
	if outcome.Usage != nil {
		result.PromptTokens = outcome.Usage.PromptTokens
		result.CompletionTokens = outcome.Usage.CompletionTokens
	}
	analyzedAt := m.now()

	if !outcome.OK() {
		reason := outcome.Failure.Error()
		m.logger.Warn("insight failed",
			"insight_id", insightID, "content_id", content.ID,
			"reason", outcome.Failure.Reason, "violation", outcome.ViolationKind(), "detail", outcome.Failure.Detail)
		if err := m.store.FailInsight(insightID, reason, result); err != nil {
			return fmt.Errorf("failing insight %s: %w", insightID, err)
		}
		if err := m.store.UpdateContentStatus(content.ID, storage.ContentFailed, &analyzedAt); err != nil {
			return fmt.Errorf("marking content %s failed: %w", content.ID, err)
		}
		return nil
	}

	analysis, err := json.Marshal(outcome.Result)
	if err != nil {
		return fmt.Errorf("encoding analysis: %w", err)
	}
	result.Analysis = string(analysis)
	result.Confidence = m.confidence
	if err := m.store.CompleteInsight(insightID, result); err != nil {
		return fmt.Errorf("completing insight %s: %w", insightID, err)
	}
	if err := m.store.UpdateContentStatus(content.ID, storage.ContentAnalyzed, &analyzedAt); err != nil {
		return fmt.Errorf("marking content %s analyzed: %w", content.ID, err)
	}
	m.logger.Info("insight complete",
		"insight_id", insightID, "content_id", content.ID, "latency_ms", outcome.LatencyMs)
	return nil
}

// AnalysisInput derives the text to analyze and the context block from a
// content record. The transcript is analyzed when present, otherwise the
// title. Remaining metadata is passed through as context.
func AnalysisInput(c storage.Content) (string, map[string]any) {
	metadata := map[string]any{}
	if c.Metadata != "" {
		if err := json.Unmarshal([]byte(c.Metadata), &metadata); err != nil {
			metadata = map[string]any{}
		}
	}

	text := c.Title
	if transcript, ok := metadata["transcript"].(string); ok && transcript != "" {
		text = transcript
	}
	delete(metadata, "transcript")

	metadata["title"] = c.Title
	metadata["platform"] = c.Platform
	metadata["sourceType"] = c.SourceType
	if c.SourceURL != "" {
		metadata["sourceUrl"] = c.SourceURL
	}
	return text, metadata
}
