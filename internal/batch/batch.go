// Package batch holds bulk-import scrape results until the caller commits
// or abandons them.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"recipebox/internal/recipe"
	"recipebox/internal/scraper"
)

var ErrBatchNotFound = errors.New("batch expired or unknown")

const (
	DefaultTTL         = time.Hour
	defaultConcurrency = 4
	unsafeURLMessage   = "Unsafe URL"
)

type Scraper interface {
	Scrape(ctx context.Context, url string) (scraper.Draft, error)
}

type URLChecker interface {
	IsSafe(ctx context.Context, raw string) bool
}

// Index answers whether a slug is already taken.
type Index interface {
	Exists(slug string) bool
}

// Item is one line of a bulk submission. ID is the line's position in the
// submitted text, blank lines included.
type Item struct {
	ID           int            `json:"id"`
	URL          string         `json:"url"`
	Success      bool           `json:"success"`
	Message      string         `json:"message,omitempty"`
	Title        string         `json:"title,omitempty"`
	ProposedSlug string         `json:"proposed_slug,omitempty"`
	Duplicate    bool           `json:"is_duplicate"`
	Tags         string         `json:"tags,omitempty"`
	Data         *scraper.Draft `json:"data,omitempty"`
}

type Batch struct {
	ID      string    `json:"batch_id"`
	Created time.Time `json:"created"`
	Items   []Item    `json:"items"`
}

// PersistFunc saves one committed draft and returns its slug.
type PersistFunc func(ctx context.Context, d scraper.Draft) (string, error)

// Report summarizes a commit.
type Report struct {
	Saved   []string    `json:"saved"`
	Skipped int         `json:"skipped"`
	Failed  []ItemError `json:"failed,omitempty"`
}

type ItemError struct {
	ID      int    `json:"id"`
	Message string `json:"message"`
}

type Manager struct {
	Scraper     Scraper
	Checker     URLChecker
	Index       Index
	TTL         time.Duration
	Concurrency int
	Now         func() time.Time
	Logger      *slog.Logger

	mu      sync.Mutex
	batches map[string]*Batch
}

func NewManager(s Scraper, checker URLChecker, index Index, ttl time.Duration, logger *slog.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		Scraper:     s,
		Checker:     checker,
		Index:       index,
		TTL:         ttl,
		Concurrency: defaultConcurrency,
		Now:         time.Now,
		Logger:      logger,
		batches:     make(map[string]*Batch),
	}
}

// Stage sweeps expired batches, scrapes every non-blank line of text and
// registers the results under a new batch id. Per-line failures are recorded
// on their item and never fail the batch.
func (m *Manager) Stage(ctx context.Context, text string) (Batch, error) {
	m.sweep()

	var items []Item
	for idx, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		items = append(items, Item{ID: idx, URL: line})
	}

	limit := m.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range items {
		g.Go(func() error {
			m.stageItem(gctx, &items[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Batch{}, err
	}
	if err := ctx.Err(); err != nil {
		return Batch{}, fmt.Errorf("stage batch: %w", err)
	}

	b := &Batch{ID: uuid.NewString(), Created: m.Now(), Items: items}
	m.mu.Lock()
	m.batches[b.ID] = b
	m.mu.Unlock()

	m.Logger.Info("batch staged", "batch_id", b.ID, "items", len(items))
	return clone(b), nil
}

func (m *Manager) stageItem(ctx context.Context, it *Item) {
	if m.Checker != nil && !m.Checker.IsSafe(ctx, it.URL) {
		it.Message = unsafeURLMessage
		return
	}
	d, err := m.Scraper.Scrape(ctx, it.URL)
	if err != nil {
		m.Logger.Warn("bulk scrape failed", "url", it.URL, "error", err)
		it.Message = err.Error()
		return
	}
	it.Success = true
	it.Title = d.Title
	it.ProposedSlug = recipe.Slugify(d.Title)
	it.Duplicate = m.Index != nil && m.Index.Exists(it.ProposedSlug)
	it.Tags = strings.Join(d.Tags, ", ")
	it.Data = &d
}

// Get returns a copy of a registered batch. It does not sweep.
func (m *Manager) Get(id string) (Batch, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return Batch{}, false
	}
	return clone(b), true
}

// Len reports how many batches are registered.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

// Commit removes the batch and persists every successful item that was not
// flagged duplicate at staging time. overrides maps item ids to a
// comma-separated tag string that replaces the scraped tags.
func (m *Manager) Commit(ctx context.Context, id string, overrides map[int]string, persist PersistFunc) (Report, error) {
	m.mu.Lock()
	b, ok := m.batches[id]
	if ok {
		delete(m.batches, id)
	}
	m.mu.Unlock()
	if !ok {
		return Report{}, ErrBatchNotFound
	}

	var rep Report
	for _, it := range b.Items {
		if !it.Success || it.Duplicate || it.Data == nil {
			rep.Skipped++
			continue
		}
		d := *it.Data
		if tags, ok := overrides[it.ID]; ok {
			d.Tags = recipe.ParseTags(tags)
		}
		slug, err := persist(ctx, d)
		if err != nil {
			m.Logger.Warn("bulk item not saved", "batch_id", id, "item", it.ID, "error", err)
			rep.Failed = append(rep.Failed, ItemError{ID: it.ID, Message: err.Error()})
			continue
		}
		rep.Saved = append(rep.Saved, slug)
	}
	return rep, nil
}

// sweep drops batches older than TTL.
func (m *Manager) sweep() {
	now := m.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, b := range m.batches {
		if now.Sub(b.Created) > m.TTL {
			delete(m.batches, id)
		}
	}
}

func clone(b *Batch) Batch {
	out := *b
	out.Items = append([]Item(nil), b.Items...)
	return out
}
