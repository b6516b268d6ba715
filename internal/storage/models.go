package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a status change is not allowed
	// from the record's current status.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Content statuses.
const (
	ContentPending   = "pending"
	ContentAnalyzing = "analyzing"
	ContentAnalyzed  = "analyzed"
	ContentFailed    = "failed"
)

// Insight statuses. An insight is created generating and moves exactly once
// to complete or failed. Only re-analysis marks a finished insight stale.
const (
	InsightGenerating = "generating"
	InsightComplete   = "complete"
	InsightFailed     = "failed"
	InsightStale      = "stale"
)

var (
	SourceTypes = []string{"video", "image", "text", "audio", "mixed"}
	Platforms   = []string{"youtube", "tiktok", "instagram", "twitter", "linkedin", "other"}
)

type Content struct {
	ID             string
	WorkspaceID    string
	CreatedBy      string
	Title          string
	SourceURL      string
	SourceType     string
	Platform       string
	Metadata       string // JSON object stored as text
	Status         string
	LastAnalyzedAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Insight struct {
	ID               string
	ContentID        string
	WorkspaceID      string
	PromptID         string
	PromptVersion    int
	Analysis         string // validated analysis JSON; empty unless the run completed
	Confidence       float64
	Status           string
	FailureReason    string
	LatencyMs        int64
	PromptTokens     int
	CompletionTokens int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// InsightResult carries the measurements recorded when an insight finishes.
type InsightResult struct {
	Analysis         string
	Confidence       float64
	LatencyMs        int64
	PromptTokens     int
	CompletionTokens int
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
