package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const contentColumns = `id, workspace_id, created_by, title, source_url, source_type, platform, metadata, status, last_analyzed_at, created_at, updated_at`

// CreateContent inserts a new content record. Status defaults to pending and
// timestamps are set to now.
func (s *Store) CreateContent(c Content) error {
	status := c.Status
	if status == "" {
		status = ContentPending
	}
	metadata := c.Metadata
	if metadata == "" {
		metadata = "{}"
	}
	ts := now()
	_, err := s.db.Exec(s.rebind(`
		INSERT INTO contents (id, workspace_id, created_by, title, source_url, source_type, platform, metadata, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		c.ID, c.WorkspaceID, c.CreatedBy, c.Title, c.SourceURL, c.SourceType, c.Platform, metadata, status, ts, ts,
	)
	return err
}

func (s *Store) GetContent(id string) (Content, error) {
	row := s.db.QueryRow(s.rebind(`SELECT `+contentColumns+` FROM contents WHERE id = ?`), id)
	c, err := scanContent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Content{}, ErrNotFound
	}
	return c, err
}

// ListContents returns contents newest first. An empty workspaceID lists
// every workspace.
func (s *Store) ListContents(workspaceID string, limit, offset int) ([]Content, error) {
	query := `SELECT ` + contentColumns + ` FROM contents`
	var args []any
	if workspaceID != "" {
		query += ` WHERE workspace_id = ?`
		args = append(args, workspaceID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.Query(s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Content
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// UpdateContentStatus sets the analysis status of a content record.
// analyzedAt, when non-nil, is stored as last_analyzed_at.
func (s *Store) UpdateContentStatus(id, status string, analyzedAt *time.Time) error {
	return s.updateContentStatus(s.db, id, status, analyzedAt)
}

func (s *Store) updateContentStatus(db execer, id, status string, analyzedAt *time.Time) error {
	var res sql.Result
	var err error
	if analyzedAt != nil {
		res, err = db.Exec(s.rebind(`UPDATE contents SET status = ?, last_analyzed_at = ?, updated_at = ? WHERE id = ?`),
			status, formatTime(*analyzedAt), now(), id)
	} else {
		res, err = db.Exec(s.rebind(`UPDATE contents SET status = ?, updated_at = ? WHERE id = ?`), status, now(), id)
	}
	if err != nil {
		return err
	}
	return expectOne(res)
}

// DeleteContent removes a content record and all of its insights.
func (s *Store) DeleteContent(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(s.rebind(`DELETE FROM insights WHERE content_id = ?`), id); err != nil {
		return fmt.Errorf("deleting insights: %w", err)
	}
	res, err := tx.Exec(s.rebind(`DELETE FROM contents WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("deleting content: %w", err)
	}
	if err := expectOne(res); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.insights.Purge()
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanContent(row scanner) (Content, error) {
	var c Content
	var lastAnalyzed sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&c.ID, &c.WorkspaceID, &c.CreatedBy, &c.Title, &c.SourceURL, &c.SourceType, &c.Platform,
		&c.Metadata, &c.Status, &lastAnalyzed, &createdAt, &updatedAt); err != nil {
		return Content{}, err
	}
	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return Content{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Content{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	if lastAnalyzed.Valid && lastAnalyzed.String != "" {
		t, err := parseTime(lastAnalyzed.String)
		if err != nil {
			return Content{}, fmt.Errorf("parsing last_analyzed_at: %w", err)
		}
		c.LastAnalyzedAt = &t
	}
	return c, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
