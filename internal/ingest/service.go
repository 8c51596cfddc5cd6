// Package ingest wires scraping, image handling, persistence, the tag cache
// and site publication into the operations exposed over HTTP.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"recipebox/internal/batch"
	"recipebox/internal/cover"
	"recipebox/internal/journal"
	"recipebox/internal/publish"
	"recipebox/internal/recipe"
	"recipebox/internal/scraper"
	"recipebox/internal/taxonomy"
	"recipebox/pkg/models"
)

var (
	ErrUnsafeURL      = errors.New("unsafe or malformed url")
	ErrMissingContent = errors.New("missing content")
)

type URLChecker interface {
	IsSafe(ctx context.Context, raw string) bool
}

type ImageProber interface {
	Probe(ctx context.Context, imageURL, referer string) bool
}

type Rebuilder interface {
	Rebuild()
}

type ReadyWaiter interface {
	Await(ctx context.Context, slug string) publish.Status
	AwaitGone(ctx context.Context, slug string) publish.Status
}

type Recorder interface {
	Record(ctx context.Context, e models.JournalEntry) (int64, error)
	Recent(ctx context.Context, q journal.Query) ([]models.JournalEntry, error)
}

type Broadcaster interface {
	BroadcastJSON(v any)
}

// Service is safe for concurrent use; all shared state lives behind the
// store, the tag cache and the batch manager.
type Service struct {
	Store   *recipe.Store
	Tags    *taxonomy.Cache
	Batches *batch.Manager
	Scraper batch.Scraper
	Checker URLChecker
	Images  ImageProber
	Trigger Rebuilder
	Waiter  ReadyWaiter
	Journal Recorder
	Events  Broadcaster
	Logger  *slog.Logger
	Now     func() time.Time
}

// Init binds the tag cache to the content store and fills it from disk.
func (s *Service) Init() error {
	s.Store.Tags = s.Tags
	if err := s.Tags.Rebuild(s.Store); err != nil {
		return fmt.Errorf("rebuild tag cache: %w", err)
	}
	s.log().Info("tag cache rebuilt", "tags", len(s.Tags.Read()))
	return nil
}

// SaveInput is the editor form.
type SaveInput struct {
	Title         string
	Tags          string
	Ingredients   string
	Instructions  string
	ImageURL      string
	ExistingImage string
	SourceURL     string
	OriginalSlug  string
	Upload        []byte
}

type SaveOutcome struct {
	Slug        string       `json:"slug"`
	RedirectURL string       `json:"redirect_url"`
	Image       cover.Origin `json:"image"`
	Ready       bool         `json:"ready"`
}

// EditForm is a stored record in the shape the editor submits it back.
type EditForm struct {
	Slug          string   `json:"slug"`
	Title         string   `json:"title"`
	Tags          string   `json:"tags"`
	TagList       []string `json:"tag_list"`
	Ingredients   string   `json:"ingredients"`
	Instructions  string   `json:"instructions"`
	ExistingImage string   `json:"existing_image"`
	SourceURL     string   `json:"source_url"`
}

type CommitOutcome struct {
	batch.Report
	Ready bool `json:"ready"`
}

// CheckTitle reports whether title would collide with a record other than
// originalSlug.
func (s *Service) CheckTitle(title, originalSlug string) bool {
	slug := recipe.Slugify(title)
	if slug == "" {
		return false
	}
	if originalSlug != "" && slug == strings.TrimSpace(originalSlug) {
		return false
	}
	return s.Store.Exists(slug)
}

// Stage scrapes rawURL without persisting anything.
func (s *Service) Stage(ctx context.Context, rawURL string) (scraper.Draft, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" || !s.Checker.IsSafe(ctx, rawURL) {
		return scraper.Draft{}, ErrUnsafeURL
	}
	return s.Scraper.Scrape(ctx, rawURL)
}

func (s *Service) Save(ctx context.Context, in SaveInput) (SaveOutcome, error) {
	if strings.TrimSpace(in.Ingredients) == "" || strings.TrimSpace(in.Instructions) == "" {
		return SaveOutcome{}, ErrMissingContent
	}

	d := s.shape(ctx, in.Title, recipe.ParseTags(in.Tags), splitLines(in.Ingredients), in.Instructions, in.SourceURL)
	d.Image = cover.Request{
		Upload:   in.Upload,
		ImageURL: s.safeURL(ctx, in.ImageURL),
		Referer:  d.SourceURL,
		Existing: strings.TrimSpace(in.ExistingImage),
	}

	res, err := s.persist(ctx, d, in.OriginalSlug)
	if err != nil {
		return SaveOutcome{}, err
	}

	s.Trigger.Rebuild()
	status := s.Waiter.Await(ctx, res.Slug)
	return SaveOutcome{
		Slug:        res.Slug,
		RedirectURL: "/recipes/" + res.Slug + "/",
		Image:       res.Image,
		Ready:       status.Ready(),
	}, nil
}

// persist saves d. The store applies the paired tag cache update under its
// write lock.
func (s *Service) persist(ctx context.Context, d recipe.Draft, originalSlug string) (recipe.Result, error) {
	res, err := s.Store.Save(ctx, d, originalSlug)
	if err != nil {
		return recipe.Result{}, err
	}

	s.record(ctx, models.JournalEntry{
		Action:    models.ActionSave,
		Slug:      res.Slug,
		Title:     d.Title,
		SourceURL: d.SourceURL,
		Detail:    saveDetail(res, originalSlug),
	})
	s.emit(models.RecipeEvent{Type: models.EventRecipeSaved, Slug: res.Slug, Title: d.Title, Tags: res.Tags})
	s.log().Info("recipe saved", "slug", res.Slug, "image", res.Image, "original_slug", originalSlug)
	return res, nil
}

func saveDetail(res recipe.Result, originalSlug string) string {
	var parts []string
	if originalSlug != "" && originalSlug != res.Slug {
		parts = append(parts, "renamed from "+originalSlug)
	}
	if res.StaleSlug != "" {
		parts = append(parts, "stale copy left at "+res.StaleSlug)
	}
	parts = append(parts, "image "+string(res.Image))
	return strings.Join(parts, "; ")
}

// BulkStage scrapes every line of text into a new batch.
func (s *Service) BulkStage(ctx context.Context, text string) (batch.Batch, error) {
	if strings.TrimSpace(text) == "" {
		return batch.Batch{}, ErrMissingContent
	}
	return s.Batches.Stage(ctx, text)
}

// BulkCommit persists the eligible items of a staged batch.
func (s *Service) BulkCommit(ctx context.Context, batchID string, overrides map[int]string) (CommitOutcome, error) {
	rep, err := s.Batches.Commit(ctx, batchID, overrides, func(ctx context.Context, sd scraper.Draft) (string, error) {
		d := s.shape(ctx, sd.Title, recipe.NormalizeTags(sd.Tags), sd.Ingredients, sd.Instructions, sd.SourceURL)
		d.Image = cover.Request{ImageURL: s.safeURL(ctx, sd.ImageURL), Referer: d.SourceURL}
		res, err := s.persist(ctx, d, "")
		return res.Slug, err
	})
	if err != nil {
		return CommitOutcome{}, err
	}

	s.Trigger.Rebuild()
	s.record(ctx, models.JournalEntry{
		Action: models.ActionCommit,
		Slug:   batchID,
		Detail: fmt.Sprintf("saved %d, skipped %d, failed %d", len(rep.Saved), rep.Skipped, len(rep.Failed)),
	})
	s.emit(models.RecipeEvent{Type: models.EventBatchCommitted, BatchID: batchID, Saved: rep.Saved})

	out := CommitOutcome{Report: rep}
	if n := len(rep.Saved); n > 0 {
		out.Ready = s.Waiter.Await(ctx, rep.Saved[n-1]).Ready()
	}
	return out, nil
}

// TestImage reports whether imageURL is safe, reachable and decodable.
func (s *Service) TestImage(ctx context.Context, imageURL, referer string) bool {
	if !s.Checker.IsSafe(ctx, imageURL) {
		return false
	}
	return s.Images.Probe(ctx, imageURL, s.safeURL(ctx, referer))
}

// Delete removes a record. The returned bool reports whether the page was
// observed gone from the site.
func (s *Service) Delete(ctx context.Context, slug string) (bool, error) {
	slug = strings.TrimSpace(slug)
	tags, err := s.Store.Delete(ctx, slug)
	if err != nil {
		return false, err
	}
	s.record(ctx, models.JournalEntry{Action: models.ActionDelete, Slug: slug})
	s.emit(models.RecipeEvent{Type: models.EventRecipeDeleted, Slug: slug, Tags: tags})
	s.log().Info("recipe deleted", "slug", slug)

	s.Trigger.Rebuild()
	return s.Waiter.AwaitGone(ctx, slug).Ready(), nil
}

// Load returns a stored record as editor input, undoing the HTML escaping
// applied on save.
func (s *Service) Load(slug string) (EditForm, error) {
	rec, err := s.Store.Load(strings.TrimSpace(slug))
	if err != nil {
		return EditForm{}, err
	}
	tags := make([]string, len(rec.Tags))
	for i, t := range rec.Tags {
		tags[i] = html.UnescapeString(t)
	}
	ingredients := make([]string, len(rec.Ingredients))
	for i, line := range rec.Ingredients {
		ingredients[i] = html.UnescapeString(line)
	}
	return EditForm{
		Slug:          rec.Slug,
		Title:         rec.Title,
		Tags:          strings.Join(tags, ", "),
		TagList:       tags,
		Ingredients:   strings.Join(ingredients, "\n"),
		Instructions:  html.UnescapeString(rec.Instructions),
		ExistingImage: rec.Image,
		SourceURL:     rec.SourceURL,
	}, nil
}

func (s *Service) KnownTags() []taxonomy.Tag {
	return s.Tags.Read()
}

// History lists recent journal entries. It is empty when no journal is
// configured.
func (s *Service) History(ctx context.Context, q journal.Query) ([]models.JournalEntry, error) {
	if s.Journal == nil {
		return []models.JournalEntry{}, nil
	}
	return s.Journal.Recent(ctx, q)
}

// shape escapes user text and drops an unsafe source URL.
func (s *Service) shape(ctx context.Context, title string, tags, ingredients []string, instructions, sourceURL string) recipe.Draft {
	escTags := make([]string, 0, len(tags))
	for _, t := range tags {
		escTags = append(escTags, html.EscapeString(t))
	}
	escIngredients := make([]string, 0, len(ingredients))
	for _, line := range ingredients {
		if line = strings.TrimSpace(line); line != "" {
			escIngredients = append(escIngredients, html.EscapeString(line))
		}
	}
	return recipe.Draft{
		Title:        strings.TrimSpace(title),
		Tags:         escTags,
		Ingredients:  escIngredients,
		Instructions: html.EscapeString(instructions),
		SourceURL:    s.safeURL(ctx, sourceURL),
	}
}

func (s *Service) safeURL(ctx context.Context, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !s.Checker.IsSafe(ctx, raw) {
		return ""
	}
	return raw
}

func (s *Service) record(ctx context.Context, e models.JournalEntry) {
	if s.Journal == nil {
		return
	}
	if s.Now != nil && e.CreatedAt.IsZero() {
		e.CreatedAt = s.Now()
	}
	if _, err := s.Journal.Record(ctx, e); err != nil {
		s.log().Warn("journal write failed", "action", e.Action, "slug", e.Slug, "error", err)
	}
}

func (s *Service) emit(ev models.RecipeEvent) {
	if s.Events == nil {
		return
	}
	if s.Now != nil {
		ev.At = s.Now()
	} else {
		ev.At = time.Now()
	}
	s.Events.BroadcastJSON(ev)
}

func (s *Service) log() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func splitLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
