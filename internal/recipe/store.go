package recipe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"recipebox/internal/cover"
	"recipebox/internal/fileutil"
)

var (
	ErrDuplicateTitle = errors.New("a recipe with this title already exists")
	ErrNotFound       = errors.New("recipe not found")
	ErrInvalidSlug    = errors.New("invalid slug")
	ErrEmptyTitle     = errors.New("title is required")
)

const (
	lockFile      = ".recipebox.lock"
	stagingPrefix = ".staging-"
	lockRetry     = 50 * time.Millisecond
)

// CoverResolver picks the cover for a save.
type CoverResolver interface {
	Resolve(ctx context.Context, req cover.Request) cover.Outcome
}

// TagIndex receives the tag delta of every committed change. Store calls
// it while still holding the write lock, so updates arrive in disk order.
type TagIndex interface {
	Update(removed, added []string)
}

// Draft is the validated input to Save. Fields are stored as given apart
// from tag normalization.
type Draft struct {
	Title        string
	Tags         []string
	Ingredients  []string
	Instructions string
	SourceURL    string
	Image        cover.Request
}

// Result describes a completed save. RetiredTags are the tags of the record
// the save replaced, if any; callers apply them to the tag cache together
// with Tags.
type Result struct {
	Slug        string
	Tags        []string
	RetiredTags []string
	Image       cover.Origin
	// StaleSlug is set when a rename succeeded but the old directory could
	// not be removed.
	StaleSlug string
}

// Store keeps one directory per record under Root.
type Store struct {
	Root   string
	Covers CoverResolver
	Tags   TagIndex
	Logger *slog.Logger
	Now    func() time.Time

	mu   sync.Mutex
	lock *flock.Flock
}

func NewStore(root string, covers CoverResolver, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("content root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create content root: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		Root:   root,
		Covers: covers,
		Logger: logger,
		Now:    time.Now,
		lock:   flock.New(filepath.Join(root, lockFile)),
	}, nil
}

// acquire serializes writers inside this process and against other
// processes sharing Root.
func (s *Store) acquire(ctx context.Context) (func(), error) {
	s.mu.Lock()
	ok, err := s.lock.TryLockContext(ctx, lockRetry)
	if err != nil || !ok {
		s.mu.Unlock()
		if err == nil {
			err = errors.New("content lock not acquired")
		}
		return nil, fmt.Errorf("lock content root: %w", err)
	}
	return func() {
		if err := s.lock.Unlock(); err != nil {
			s.Logger.Warn("content unlock failed", "error", err)
		}
		s.mu.Unlock()
	}, nil
}

func (s *Store) dir(slug string) string {
	return filepath.Join(s.Root, slug)
}

// Exists reports whether a record directory named slug is present.
func (s *Store) Exists(slug string) bool {
	if !ValidSlug(slug) {
		return false
	}
	info, err := os.Stat(s.dir(slug))
	return err == nil && info.IsDir()
}

// TitleTaken reports whether title would collide with a stored record.
func (s *Store) TitleTaken(title string) bool {
	slug := Slugify(title)
	return slug != "" && s.Exists(slug)
}

// Load reads the record stored under slug.
func (s *Store) Load(slug string) (Recipe, error) {
	if !ValidSlug(slug) {
		return Recipe{}, ErrInvalidSlug
	}
	data, err := os.ReadFile(filepath.Join(s.dir(slug), IndexFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Recipe{}, ErrNotFound
		}
		return Recipe{}, fmt.Errorf("read recipe %s: %w", slug, err)
	}
	r, err := Parse(data)
	if err != nil {
		return Recipe{}, fmt.Errorf("parse recipe %s: %w", slug, err)
	}
	r.Slug = slug
	return r, nil
}

// Save writes d under the slug derived from its title. originalSlug names
// the record being edited; it is empty for new records. A save whose slug
// differs from originalSlug moves the record, carrying its stored cover
// across when no new image was supplied.
//
// The cover is resolved before the write lock is taken; image downloads
// never block other writers.
func (s *Store) Save(ctx context.Context, d Draft, originalSlug string) (Result, error) {
	title := strings.TrimSpace(d.Title)
	if title == "" {
		return Result{}, ErrEmptyTitle
	}
	slug := Slugify(title)
	if slug == "" {
		return Result{}, fmt.Errorf("%w: %q has no usable characters", ErrEmptyTitle, title)
	}
	originalSlug = strings.TrimSpace(originalSlug)
	if originalSlug != "" && !ValidSlug(originalSlug) {
		return Result{}, ErrInvalidSlug
	}

	inPlace := originalSlug == slug
	if s.Exists(slug) && !inPlace {
		return Result{}, fmt.Errorf("%w: %q", ErrDuplicateTitle, title)
	}

	outcome := cover.Outcome{Origin: cover.OriginNone}
	if s.Covers != nil {
		outcome = s.Covers.Resolve(ctx, d.Image)
	}

	release, err := s.acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	defer release()

	// re-check: the slug may have been taken while the cover resolved
	if s.Exists(slug) && !inPlace {
		return Result{}, fmt.Errorf("%w: %q", ErrDuplicateTitle, title)
	}

	res := Result{Slug: slug, Tags: NormalizeTags(d.Tags)}
	oldDir := ""
	if originalSlug != "" {
		old, err := s.Load(originalSlug)
		switch {
		case err == nil:
			res.RetiredTags = old.Tags
			oldDir = s.dir(originalSlug)
		case errors.Is(err, ErrNotFound):
			if inPlace && s.Exists(slug) {
				oldDir = s.dir(slug)
			} else {
				inPlace = false
			}
		default:
			return Result{}, err
		}
	}

	rec := Recipe{
		Slug:         slug,
		Title:        title,
		Created:      s.Now(),
		Tags:         res.Tags,
		SourceURL:    strings.TrimSpace(d.SourceURL),
		Ingredients:  d.Ingredients,
		Instructions: d.Instructions,
	}
	res.Image = outcome.Origin

	if inPlace {
		err = s.writeInPlace(oldDir, &rec, outcome)
	} else {
		err = s.writeStaged(slug, oldDir, &rec, outcome)
	}
	if err != nil {
		return Result{}, err
	}

	if oldDir != "" && !inPlace {
		if err := os.RemoveAll(oldDir); err != nil {
			s.Logger.Error("old recipe directory not removed", "slug", originalSlug, "error", err)
			res.StaleSlug = originalSlug
			res.RetiredTags = nil
		}
	}
	if s.Tags != nil {
		s.Tags.Update(res.RetiredTags, res.Tags)
	}
	return res, nil
}

func (s *Store) writeInPlace(dir string, rec *Recipe, outcome cover.Outcome) error {
	switch {
	case outcome.Image != nil:
		if err := cover.WriteVariants(dir, outcome.Image); err != nil {
			return err
		}
		rec.Image = cover.FullName
	case outcome.Origin == cover.OriginExisting:
		rec.Image = outcome.Existing
	default:
		if err := cover.RemoveVariants(dir); err != nil {
			return err
		}
	}
	return writeIndex(dir, *rec)
}

// writeStaged builds the record in a hidden sibling directory and renames it
// into place so a failed save never leaves a half-written record behind.
func (s *Store) writeStaged(slug, oldDir string, rec *Recipe, outcome cover.Outcome) error {
	tmp := filepath.Join(s.Root, stagingPrefix+uuid.NewString())
	if err := os.Mkdir(tmp, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	switch {
	case outcome.Image != nil:
		if err := cover.WriteVariants(tmp, outcome.Image); err != nil {
			return err
		}
		rec.Image = cover.FullName
	case outcome.Origin == cover.OriginExisting && oldDir != "":
		if err := cover.CopyVariants(oldDir, tmp); err != nil {
			return err
		}
		if fileExists(filepath.Join(tmp, outcome.Existing)) {
			rec.Image = outcome.Existing
		}
	}

	if err := writeIndex(tmp, *rec); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.dir(slug)); err != nil {
		return fmt.Errorf("publish recipe %s: %w", slug, err)
	}
	return nil
}

func writeIndex(dir string, rec Recipe) error {
	data, err := Render(rec)
	if err != nil {
		return err
	}
	return fileutil.WriteAtomic(filepath.Join(dir, IndexFile), 0o644, func(w io.Writer) error {
		_, err := io.Copy(w, bytes.NewReader(data))
		return err
	})
}

// Delete removes the record stored under slug and returns the tags it held.
// The tags are retired from Tags before the lock is released.
func (s *Store) Delete(ctx context.Context, slug string) ([]string, error) {
	slug = strings.TrimSpace(slug)
	if !ValidSlug(slug) {
		return nil, ErrInvalidSlug
	}

	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if !s.Exists(slug) {
		return nil, ErrNotFound
	}
	var tags []string
	if rec, err := s.Load(slug); err == nil {
		tags = rec.Tags
	} else {
		s.Logger.Warn("deleting unreadable recipe", "slug", slug, "error", err)
	}
	if err := os.RemoveAll(s.dir(slug)); err != nil {
		return nil, fmt.Errorf("delete recipe %s: %w", slug, err)
	}
	if s.Tags != nil {
		s.Tags.Update(tags, nil)
	}
	return tags, nil
}

// Slugs lists record directories in name order, skipping hidden entries.
func (s *Store) Slugs() ([]string, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list content root: %w", err)
	}
	var slugs []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		slugs = append(slugs, e.Name())
	}
	sort.Strings(slugs)
	return slugs, nil
}

// List loads every readable record. Unreadable records are logged and skipped.
func (s *Store) List() ([]Recipe, error) {
	slugs, err := s.Slugs()
	if err != nil {
		return nil, err
	}
	out := make([]Recipe, 0, len(slugs))
	for _, slug := range slugs {
		rec, err := s.Load(slug)
		if err != nil {
			s.Logger.Warn("skipping unreadable recipe", "slug", slug, "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// EachTagSet calls fn with the tags of every record, reading only the
// frontmatter of each index file.
func (s *Store) EachTagSet(fn func(slug string, tags []string)) error {
	slugs, err := s.Slugs()
	if err != nil {
		return err
	}
	for _, slug := range slugs {
		tags, err := s.readTags(slug)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				s.Logger.Warn("tags unreadable", "slug", slug, "error", err)
			}
			continue
		}
		fn(slug, tags)
	}
	return nil
}

func (s *Store) readTags(slug string) ([]string, error) {
	f, err := os.Open(filepath.Join(s.dir(slug), IndexFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadTags(f)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
