package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const timeLayout = time.RFC3339Nano

// SQLite implements Store over the pages and blocks tables.
type SQLite struct {
	db *sql.DB
}

// NewSQLite wraps an already-open database (see internal/storage.Open).
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

// CreatePage returns the uid of the page with the given title, creating
// it if absent. Title matching is exact.
func (s *SQLite) CreatePage(ctx context.Context, title string) (string, error) {
	existing, err := s.PageUID(ctx, title)
	if err != nil {
		return "", err
	}
	if existing != "" {
		return existing, nil
	}

	uid := uuid.NewString()
	now := time.Now().UTC().Format(timeLayout)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pages (uid, title, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(title) DO NOTHING`,
		uid, title, now,
	)
	if err != nil {
		return "", fmt.Errorf("insert page: %w", err)
	}

	// A concurrent insert may have won the conflict; read back the
	// authoritative uid.
	return s.PageUID(ctx, title)
}

// PageUID returns the uid of the page titled title, or "" when absent.
func (s *SQLite) PageUID(ctx context.Context, title string) (string, error) {
	var uid string
	err := s.db.QueryRowContext(ctx,
		`SELECT uid FROM pages WHERE title = ?`, title,
	).Scan(&uid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query page uid: %w", err)
	}
	return uid, nil
}

// CreateBlock inserts a block under parentUID at the given order index,
// shifting later siblings down by one.
func (s *SQLite) CreateBlock(ctx context.Context, parentUID string, order int, text string, heading int) (string, error) {
	pageUID, err := s.pageOf(ctx, parentUID)
	if err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE blocks SET ord = ord + 1 WHERE parent_uid = ? AND ord >= ?`,
		parentUID, order,
	); err != nil {
		return "", fmt.Errorf("shift siblings: %w", err)
	}

	uid := uuid.NewString()
	now := time.Now().UTC().Format(timeLayout)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO blocks (uid, page_uid, parent_uid, ord, text, heading, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uid, pageUID, parentUID, order, text, heading, now,
	); err != nil {
		return "", fmt.Errorf("insert block: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return uid, nil
}

// Children returns the immediate children of parentUID in order.
func (s *SQLite) Children(ctx context.Context, parentUID string) ([]Block, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT uid, text, heading, ord FROM blocks WHERE parent_uid = ? ORDER BY ord`,
		parentUID,
	)
	if err != nil {
		return nil, fmt.Errorf("query children: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var blocks []Block
	for rows.Next() {
		var b Block
		if err := rows.Scan(&b.UID, &b.Text, &b.Heading, &b.Order); err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// FindBlockOnPage returns the uid of any block on the page whose text is
// exactly exactText, or "" when none exists.
func (s *SQLite) FindBlockOnPage(ctx context.Context, pageUID, exactText string) (string, error) {
	var uid string
	err := s.db.QueryRowContext(ctx,
		`SELECT uid FROM blocks WHERE page_uid = ? AND text = ? LIMIT 1`,
		pageUID, exactText,
	).Scan(&uid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("find block: %w", err)
	}
	return uid, nil
}

// DeleteBlock removes a block and all of its descendants.
func (s *SQLite) DeleteBlock(ctx context.Context, uid string) error {
	_, err := s.db.ExecContext(ctx,
		`WITH RECURSIVE subtree(uid) AS (
		   SELECT uid FROM blocks WHERE uid = ?
		   UNION ALL
		   SELECT b.uid FROM blocks b JOIN subtree s ON b.parent_uid = s.uid
		 )
		 DELETE FROM blocks WHERE uid IN (SELECT uid FROM subtree)`,
		uid,
	)
	if err != nil {
		return fmt.Errorf("delete block subtree: %w", err)
	}
	return nil
}

// pageOf resolves the page a parent uid belongs to: the uid itself when
// it names a page, otherwise the owning page of the parent block.
func (s *SQLite) pageOf(ctx context.Context, parentUID string) (string, error) {
	var uid string
	err := s.db.QueryRowContext(ctx,
		`SELECT uid FROM pages WHERE uid = ?`, parentUID,
	).Scan(&uid)
	if err == nil {
		return uid, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("query page: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT page_uid FROM blocks WHERE uid = ?`, parentUID,
	).Scan(&uid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("parent %q not found", parentUID)
	}
	if err != nil {
		return "", fmt.Errorf("query parent block: %w", err)
	}
	return uid, nil
}
