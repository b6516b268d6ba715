package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

const insightColumns = `id, content_id, workspace_id, prompt_id, prompt_version, analysis, confidence, status, failure_reason, latency_ms, prompt_tokens, completion_tokens, created_at, updated_at`

// CreateInsight inserts a new insight. Insights always start generating.
func (s *Store) CreateInsight(i Insight) error {
	return s.insertInsight(s.db, i)
}

func (s *Store) insertInsight(db execer, i Insight) error {
	ts := now()
	_, err := db.Exec(s.rebind(`
		INSERT INTO insights (id, content_id, workspace_id, prompt_id, prompt_version, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		i.ID, i.ContentID, i.WorkspaceID, i.PromptID, i.PromptVersion, InsightGenerating, ts, ts,
	)
	return err
}

// StartInsight creates a generating insight, marks its content analyzing
// and, when job is non-nil, queues the job, all in one transaction.
func (s *Store) StartInsight(i Insight, job *Job) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.insertInsight(tx, i); err != nil {
		return fmt.Errorf("creating insight: %w", err)
	}
	if err := s.updateContentStatus(tx, i.ContentID, ContentAnalyzing, nil); err != nil {
		return fmt.Errorf("marking content %s analyzing: %w", i.ContentID, err)
	}
	if job != nil {
		if err := s.insertJob(tx, *job); err != nil {
			return fmt.Errorf("enqueueing job: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetInsight(id string) (Insight, error) {
	if cached, ok := s.insights.Get(id); ok {
		return cached, nil
	}
	row := s.db.QueryRow(s.rebind(`SELECT `+insightColumns+` FROM insights WHERE id = ?`), id)
	i, err := scanInsight(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Insight{}, ErrNotFound
	}
	if err != nil {
		return Insight{}, err
	}
	if i.Status == InsightComplete || i.Status == InsightFailed {
		s.insights.Add(id, i)
	}
	return i, nil
}

// ListInsights returns the insights of a content record, newest first.
func (s *Store) ListInsights(contentID string) ([]Insight, error) {
	rows, err := s.db.Query(s.rebind(`SELECT `+insightColumns+` FROM insights WHERE content_id = ? ORDER BY created_at DESC, id DESC`), contentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Insight
	for rows.Next() {
		i, err := scanInsight(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, i)
	}
	return results, rows.Err()
}

// CompleteInsight moves a generating insight to complete and stores its
// analysis.
func (s *Store) CompleteInsight(id string, r InsightResult) error {
	res, err := s.db.Exec(s.rebind(`
		UPDATE insights
		SET status = ?, analysis = ?, confidence = ?, failure_reason = '', latency_ms = ?, prompt_tokens = ?, completion_tokens = ?, updated_at = ?
		WHERE id = ? AND status = ?`),
		InsightComplete, r.Analysis, r.Confidence, r.LatencyMs, r.PromptTokens, r.CompletionTokens, now(),
		id, InsightGenerating,
	)
	if err != nil {
		return err
	}
	return s.checkTransition(res, id)
}

// FailInsight moves a generating insight to failed. The analysis stays
// empty; reason is kept for operators.
func (s *Store) FailInsight(id, reason string, r InsightResult) error {
	res, err := s.db.Exec(s.rebind(`
		UPDATE insights
		SET status = ?, analysis = '', confidence = 0, failure_reason = ?, latency_ms = ?, prompt_tokens = ?, completion_tokens = ?, updated_at = ?
		WHERE id = ? AND status = ?`),
		InsightFailed, reason, r.LatencyMs, r.PromptTokens, r.CompletionTokens, now(),
		id, InsightGenerating,
	)
	if err != nil {
		return err
	}
	return s.checkTransition(res, id)
}

// MarkInsightStale flags a finished insight as superseded by re-analysis.
func (s *Store) MarkInsightStale(id string) error {
	res, err := s.db.Exec(s.rebind(`UPDATE insights SET status = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`),
		InsightStale, now(), id, InsightComplete, InsightFailed)
	if err != nil {
		return err
	}
	s.insights.Remove(id)
	return s.checkTransition(res, id)
}

// checkTransition distinguishes a missing insight from one whose current
// status did not allow the update.
func (s *Store) checkTransition(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var status string
	err = s.db.QueryRow(s.rebind(`SELECT status FROM insights WHERE id = ?`), id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: insight %s is %s", ErrInvalidTransition, id, status)
}

func scanInsight(row scanner) (Insight, error) {
	var i Insight
	var createdAt, updatedAt string
	if err := row.Scan(&i.ID, &i.ContentID, &i.WorkspaceID, &i.PromptID, &i.PromptVersion, &i.Analysis, &i.Confidence,
		&i.Status, &i.FailureReason, &i.LatencyMs, &i.PromptTokens, &i.CompletionTokens, &createdAt, &updatedAt); err != nil {
		return Insight{}, err
	}
	var err error
	if i.CreatedAt, err = parseTime(createdAt); err != nil {
		return Insight{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if i.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Insight{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return i, nil
}
