package batch

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"recipebox/internal/logging"
	"recipebox/internal/scraper"
)

type fakeScraper struct{}

func (fakeScraper) Scrape(_ context.Context, url string) (scraper.Draft, error) {
	if strings.Contains(url, "broken") {
		return scraper.Draft{}, &scraper.ExtractionError{URL: url, Err: scraper.ErrNoRecipe}
	}
	title := url[strings.LastIndex(url, "/")+1:]
	return scraper.Draft{
		Title:        title,
		SourceURL:    url,
		Tags:         []string{"example.com", "dessert"},
		Ingredients:  []string{"1 egg"},
		Instructions: "Cook.",
	}, nil
}

type hostChecker struct{}

func (hostChecker) IsSafe(_ context.Context, raw string) bool {
	return strings.HasPrefix(raw, "https://example.com/")
}

type slugSet map[string]bool

func (s slugSet) Exists(slug string) bool { return s[slug] }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newTestManager(index Index) (*Manager, *clock) {
	clk := &clock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	m := NewManager(fakeScraper{}, hostChecker{}, index, time.Hour, logging.NewNop())
	m.Now = clk.Now
	return m, clk
}

func TestStageRecordsPerItemOutcome(t *testing.T) {
	m, _ := newTestManager(slugSet{"pie": true})
	text := "https://example.com/pie\n\n  https://example.com/cake  \nhttp://10.0.0.1/x\nhttps://example.com/broken\n"

	b, err := m.Stage(context.Background(), text)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if b.ID == "" || len(b.Items) != 4 {
		t.Fatalf("unexpected batch %+v", b)
	}

	pie, cake, unsafe, broken := b.Items[0], b.Items[1], b.Items[2], b.Items[3]
	if pie.ID != 0 || !pie.Success || !pie.Duplicate || pie.ProposedSlug != "pie" {
		t.Errorf("pie item = %+v", pie)
	}
	if cake.ID != 2 || !cake.Success || cake.Duplicate || cake.Tags != "example.com, dessert" {
		t.Errorf("cake item = %+v", cake)
	}
	if unsafe.ID != 3 || unsafe.Success || unsafe.Message != "Unsafe URL" {
		t.Errorf("unsafe item = %+v", unsafe)
	}
	if broken.ID != 4 || broken.Success || broken.Message == "" {
		t.Errorf("broken item = %+v", broken)
	}

	if _, ok := m.Get(b.ID); !ok {
		t.Fatal("batch should be registered")
	}
}

func TestBatchExpiresOnNextStage(t *testing.T) {
	m, clk := newTestManager(slugSet{})
	start := clk.Now()

	b, err := m.Stage(context.Background(), "https://example.com/soup")
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}

	clk.Set(start.Add(time.Hour - time.Second))
	if _, err := m.Stage(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Get(b.ID); !ok {
		t.Fatal("batch should survive until TTL")
	}

	clk.Set(start.Add(time.Hour + time.Second))
	if _, ok := m.Get(b.ID); !ok {
		t.Fatal("expiry is only applied by Stage")
	}
	if _, err := m.Stage(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Get(b.ID); ok {
		t.Fatal("batch should be swept after TTL")
	}
}

func TestCommitSkipsDuplicatesAndAppliesOverrides(t *testing.T) {
	index := slugSet{"pie": true}
	m, _ := newTestManager(index)
	b, err := m.Stage(context.Background(), "https://example.com/pie\nhttps://example.com/cake\nhttps://example.com/broken")
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}

	// the duplicate slug is freed before commit; the item must still be skipped
	delete(index, "pie")

	var saved []scraper.Draft
	persist := func(_ context.Context, d scraper.Draft) (string, error) {
		saved = append(saved, d)
		return d.Title, nil
	}
	rep, err := m.Commit(context.Background(), b.ID, map[int]string{0: "new, tags", 1: "Weeknight, Baking"}, persist)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if len(saved) != 1 || saved[0].Title != "cake" {
		t.Fatalf("saved = %+v", saved)
	}
	if !reflect.DeepEqual(saved[0].Tags, []string{"weeknight", "baking"}) {
		t.Fatalf("override not applied: %v", saved[0].Tags)
	}
	if !reflect.DeepEqual(rep.Saved, []string{"cake"}) || rep.Skipped != 2 {
		t.Fatalf("report = %+v", rep)
	}

	if _, ok := m.Get(b.ID); ok {
		t.Fatal("batch should be removed on commit")
	}
	if _, err := m.Commit(context.Background(), b.ID, nil, persist); !errors.Is(err, ErrBatchNotFound) {
		t.Fatalf("expected ErrBatchNotFound, got %v", err)
	}
}

func TestCommitCollectsPersistFailures(t *testing.T) {
	m, _ := newTestManager(slugSet{})
	b, err := m.Stage(context.Background(), "https://example.com/a\nhttps://example.com/b")
	if err != nil {
		t.Fatal(err)
	}
	persist := func(_ context.Context, d scraper.Draft) (string, error) {
		if d.Title == "a" {
			return "", errors.New("disk full")
		}
		return d.Title, nil
	}
	rep, err := m.Commit(context.Background(), b.ID, nil, persist)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if len(rep.Failed) != 1 || rep.Failed[0].ID != 0 || !reflect.DeepEqual(rep.Saved, []string{"b"}) {
		t.Fatalf("report = %+v", rep)
	}
}

func TestConcurrentCommitRunsOnce(t *testing.T) {
	m, _ := newTestManager(slugSet{})
	b, err := m.Stage(context.Background(), "https://example.com/a")
	if err != nil {
		t.Fatal(err)
	}
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		calls int
	)
	persist := func(_ context.Context, d scraper.Draft) (string, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return d.Title, nil
	}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Commit(context.Background(), b.ID, nil, persist)
		}()
	}
	wg.Wait()
	if calls != 1 {
		t.Fatalf("persist called %d times", calls)
	}
}
