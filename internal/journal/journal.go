// Package journal records every change the ingest service makes to the
// content store.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"recipebox/pkg/models"
)

const (
	table        = "ingest_journal"
	DefaultLimit = 50
	MaxLimit     = 500
)

type Journal struct {
	DB  *sql.DB
	Now func() time.Time
}

func New(db *sql.DB) *Journal {
	return &Journal{DB: db, Now: time.Now}
}

// Record appends e. CreatedAt is filled in when zero.
func (j *Journal) Record(ctx context.Context, e models.JournalEntry) (int64, error) {
	if strings.TrimSpace(e.Action) == "" {
		return 0, fmt.Errorf("journal entry needs an action")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = j.Now()
	}
	res, err := sq.Insert(table).
		Columns("action", "slug", "title", "source_url", "detail", "created_at").
		Values(e.Action, e.Slug, e.Title, e.SourceURL, e.Detail, e.CreatedAt.UnixMilli()).
		RunWith(j.DB).
		ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("insert journal entry: %w", err)
	}
	return res.LastInsertId()
}

type Query struct {
	Slug   string
	Action string
	Limit  int
}

// Recent lists entries newest first.
func (j *Journal) Recent(ctx context.Context, q Query) ([]models.JournalEntry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	b := sq.Select("id", "action", "slug", "title", "source_url", "detail", "created_at").
		From(table).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit))
	if q.Slug != "" {
		b = b.Where(sq.Eq{"slug": q.Slug})
	}
	if q.Action != "" {
		b = b.Where(sq.Eq{"action": q.Action})
	}

	sqlStr, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build history query: %w", err)
	}
	rows, err := j.DB.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := make([]models.JournalEntry, 0, limit)
	for rows.Next() {
		var (
			e  models.JournalEntry
			ms int64
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.Slug, &e.Title, &e.SourceURL, &e.Detail, &ms); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.CreatedAt = time.UnixMilli(ms).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
