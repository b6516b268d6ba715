package storage

import (
	"errors"
	"testing"
)

func seedInsight(t *testing.T, s *Store, id string) {
	t.Helper()
	if err := s.CreateInsight(Insight{ID: id, ContentID: "c1", WorkspaceID: "ws1", PromptID: "content-analysis", PromptVersion: 1}); err != nil {
		t.Fatalf("CreateInsight(%s): %v", id, err)
	}
}

func TestCreateInsight_StartsGenerating(t *testing.T) {
	s := openTestStore(t)
	seedContent(t, s, "c1", "ws1")
	seedInsight(t, s, "i1")

	got, err := s.GetInsight("i1")
	if err != nil {
		t.Fatalf("GetInsight: %v", err)
	}
	if got.Status != InsightGenerating {
		t.Errorf("Status = %q, want %q", got.Status, InsightGenerating)
	}
	if got.Analysis != "" {
		t.Errorf("Analysis = %q, want empty", got.Analysis)
	}
	if got.PromptID != "content-analysis" || got.PromptVersion != 1 {
		t.Errorf("prompt = %s v%d", got.PromptID, got.PromptVersion)
	}
}

func TestCompleteInsight(t *testing.T) {
	s := openTestStore(t)
	seedContent(t, s, "c1", "ws1")
	seedInsight(t, s, "i1")

	err := s.CompleteInsight("i1", InsightResult{
		Analysis:         `{"summary":"s"}`,
		Confidence:       0.85,
		LatencyMs:        1234,
		PromptTokens:     900,
		CompletionTokens: 300,
	})
	if err != nil {
		t.Fatalf("CompleteInsight: %v", err)
	}

	got, err := s.GetInsight("i1")
	if err != nil {
		t.Fatalf("GetInsight: %v", err)
	}
	if got.Status != InsightComplete {
		t.Errorf("Status = %q, want %q", got.Status, InsightComplete)
	}
	if got.Analysis != `{"summary":"s"}` {
		t.Errorf("Analysis = %q", got.Analysis)
	}
	if got.Confidence != 0.85 {
		t.Errorf("Confidence = %v, want 0.85", got.Confidence)
	}
	if got.LatencyMs != 1234 || got.PromptTokens != 900 || got.CompletionTokens != 300 {
		t.Errorf("metrics = %d/%d/%d", got.LatencyMs, got.PromptTokens, got.CompletionTokens)
	}
}

func TestFailInsight(t *testing.T) {
	s := openTestStore(t)
	seedContent(t, s, "c1", "ws1")
	seedInsight(t, s, "i1")

	if err := s.FailInsight("i1", "schema_violation: summary: required field is missing", InsightResult{LatencyMs: 50}); err != nil {
		t.Fatalf("FailInsight: %v", err)
	}

	got, _ := s.GetInsight("i1")
	if got.Status != InsightFailed {
		t.Errorf("Status = %q, want %q", got.Status, InsightFailed)
	}
	if got.Analysis != "" {
		t.Errorf("Analysis = %q, want empty for failed insight", got.Analysis)
	}
	if got.FailureReason == "" {
		t.Error("FailureReason is empty")
	}
}

func TestInsightTransitionsExactlyOnce(t *testing.T) {
	s := openTestStore(t)
	seedContent(t, s, "c1", "ws1")
	seedInsight(t, s, "i1")

	if err := s.CompleteInsight("i1", InsightResult{Analysis: "{}", Confidence: 0.85}); err != nil {
		t.Fatalf("CompleteInsight: %v", err)
	}
	if err := s.FailInsight("i1", "late failure", InsightResult{}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("FailInsight after complete = %v, want ErrInvalidTransition", err)
	}
	if err := s.CompleteInsight("i1", InsightResult{Analysis: "{}"}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second CompleteInsight = %v, want ErrInvalidTransition", err)
	}
	if err := s.CompleteInsight("missing", InsightResult{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("CompleteInsight(missing) = %v, want ErrNotFound", err)
	}
}

func TestMarkInsightStale(t *testing.T) {
	s := openTestStore(t)
	seedContent(t, s, "c1", "ws1")
	seedInsight(t, s, "i1")

	if err := s.MarkInsightStale("i1"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("MarkInsightStale(generating) = %v, want ErrInvalidTransition", err)
	}

	if err := s.CompleteInsight("i1", InsightResult{Analysis: "{}", Confidence: 0.85}); err != nil {
		t.Fatalf("CompleteInsight: %v", err)
	}
	// Populate the cache so the stale update has to invalidate it.
	if got, _ := s.GetInsight("i1"); got.Status != InsightComplete {
		t.Fatalf("Status = %q, want complete", got.Status)
	}

	if err := s.MarkInsightStale("i1"); err != nil {
		t.Fatalf("MarkInsightStale: %v", err)
	}
	got, _ := s.GetInsight("i1")
	if got.Status != InsightStale {
		t.Errorf("Status = %q, want %q", got.Status, InsightStale)
	}
	if got.Analysis != "{}" {
		t.Errorf("Analysis = %q, stale insights keep their analysis", got.Analysis)
	}
}

func TestListInsights(t *testing.T) {
	s := openTestStore(t)
	seedContent(t, s, "c1", "ws1")
	seedContent(t, s, "c2", "ws1")
	seedInsight(t, s, "i1")
	seedInsight(t, s, "i2")
	if err := s.CreateInsight(Insight{ID: "i3", ContentID: "c2", WorkspaceID: "ws1", PromptID: "content-analysis", PromptVersion: 1}); err != nil {
		t.Fatalf("CreateInsight: %v", err)
	}

	got, err := s.ListInsights("c1")
	if err != nil {
		t.Fatalf("ListInsights: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d insights, want 2", len(got))
	}
	if got[0].ID != "i2" {
		t.Errorf("first = %q, want newest i2", got[0].ID)
	}
}

func TestStartInsight(t *testing.T) {
	s := openTestStore(t)
	seedContent(t, s, "c1", "ws1")

	job := &Job{ID: "j1", Type: "insight_generate", PayloadJSON: `{"insight_id":"i1"}`}
	if err := s.StartInsight(Insight{ID: "i1", ContentID: "c1", WorkspaceID: "ws1", PromptID: "content-analysis", PromptVersion: 1}, job); err != nil {
		t.Fatalf("StartInsight: %v", err)
	}

	got, err := s.GetInsight("i1")
	if err != nil {
		t.Fatalf("GetInsight: %v", err)
	}
	if got.Status != InsightGenerating {
		t.Errorf("insight status = %q, want %q", got.Status, InsightGenerating)
	}
	c, err := s.GetContent("c1")
	if err != nil {
		t.Fatalf("GetContent: %v", err)
	}
	if c.Status != ContentAnalyzing {
		t.Errorf("content status = %q, want %q", c.Status, ContentAnalyzing)
	}
	counts, err := s.CountJobs()
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if counts["pending"] != 1 {
		t.Errorf("jobs = %v, want one pending", counts)
	}
}

func TestStartInsight_RollsBackOnFailure(t *testing.T) {
	s := openTestStore(t)
	seedContent(t, s, "c1", "ws1")
	if err := s.EnqueueJob(Job{ID: "dup", Type: "insight_generate", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	// The duplicate job id fails the last statement of the transaction.
	err := s.StartInsight(Insight{ID: "i1", ContentID: "c1", WorkspaceID: "ws1", PromptID: "content-analysis", PromptVersion: 1},
		&Job{ID: "dup", Type: "insight_generate", PayloadJSON: `{"insight_id":"i1"}`})
	if err == nil {
		t.Fatal("expected error for duplicate job id")
	}

	if _, err := s.GetInsight("i1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetInsight after rollback = %v, want ErrNotFound", err)
	}
	c, err := s.GetContent("c1")
	if err != nil {
		t.Fatalf("GetContent: %v", err)
	}
	if c.Status != ContentPending {
		t.Errorf("content status = %q, want %q", c.Status, ContentPending)
	}
}

func TestStartInsight_MissingContent(t *testing.T) {
	s := openTestStore(t)
	err := s.StartInsight(Insight{ID: "i1", ContentID: "missing", WorkspaceID: "ws1", PromptID: "content-analysis", PromptVersion: 1}, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("StartInsight(missing content) = %v, want ErrNotFound", err)
	}
	if _, err := s.GetInsight("i1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetInsight after rollback = %v, want ErrNotFound", err)
	}
}
