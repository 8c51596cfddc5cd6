// Package scraper turns a third-party recipe page into a normalized draft.
//
// The extraction itself sits behind Extractor so the parsing strategy can be
// swapped without touching the normalization rules applied here.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Recipe is the fixed-shape view of an extracted page.
type Recipe interface {
	Title() string
	Ingredients() []string
	Instructions() string
	Image() string
	Host() string
	// Cuisine and Category report false when the page simply has no such field.
	Cuisine() (string, bool)
	Category() (string, bool)
}

// Extractor pulls a Recipe out of the page at a URL.
type Extractor interface {
	Extract(ctx context.Context, pageURL string) (Recipe, error)
}

// ErrNoRecipe means the page was fetched but carried no recognizable recipe.
var ErrNoRecipe = errors.New("no recipe found on page")

// ExtractionError wraps any failure to obtain a recipe from a page.
type ExtractionError struct {
	URL string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract recipe from %s: %v", e.URL, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Draft is a scraped recipe before it is persisted.
type Draft struct {
	Title        string   `json:"title"`
	ImageURL     string   `json:"image_url"`
	SourceURL    string   `json:"source_url"`
	Tags         []string `json:"tags"`
	Ingredients  []string `json:"ingredients"`
	Instructions string   `json:"instructions"`
}

// Adapter applies ingredient cleanup and tag derivation on top of an Extractor.
type Adapter struct {
	Extractor Extractor
}

func NewAdapter(extractor Extractor) *Adapter {
	return &Adapter{Extractor: extractor}
}

// Scrape extracts the recipe at pageURL. Every failure is an *ExtractionError.
func (a *Adapter) Scrape(ctx context.Context, pageURL string) (Draft, error) {
	rec, err := a.Extractor.Extract(ctx, pageURL)
	if err != nil {
		var ee *ExtractionError
		if errors.As(err, &ee) {
			return Draft{}, ee
		}
		return Draft{}, &ExtractionError{URL: pageURL, Err: err}
	}
	if rec == nil || strings.TrimSpace(rec.Title()) == "" {
		return Draft{}, &ExtractionError{URL: pageURL, Err: ErrNoRecipe}
	}

	ingredients := make([]string, 0, len(rec.Ingredients()))
	for _, line := range rec.Ingredients() {
		if cleaned := NormalizeIngredient(line); cleaned != "" {
			ingredients = append(ingredients, cleaned)
		}
	}

	return Draft{
		Title:        strings.TrimSpace(rec.Title()),
		ImageURL:     strings.TrimSpace(rec.Image()),
		SourceURL:    pageURL,
		Tags:         DeriveTags(rec),
		Ingredients:  ingredients,
		Instructions: strings.TrimSpace(rec.Instructions()),
	}, nil
}

var (
	digitLetterRe = regexp.MustCompile(`(\d)([a-zA-Z])`)
	spaceRe       = regexp.MustCompile(`\s+`)
)

// NormalizeIngredient splits a quantity glued to its unit ("1cup" -> "1 cup")
// and collapses whitespace.
func NormalizeIngredient(text string) string {
	text = digitLetterRe.ReplaceAllString(text, "${1} ${2}")
	return strings.TrimSpace(spaceRe.ReplaceAllString(text, " "))
}

// DeriveTags builds the tag list: source host, then cuisine terms, then
// category terms. Entries are lowercased with hyphens turned into spaces and
// deduplicated in first-seen order.
func DeriveTags(rec Recipe) []string {
	raw := []string{rec.Host()}

	if cuisine, ok := rec.Cuisine(); ok {
		for _, c := range strings.Split(cuisine, ",") {
			raw = append(raw, strings.TrimSpace(c))
		}
	}
	if category, ok := rec.Category(); ok {
		for _, c := range strings.Split(category, ",") {
			if c = strings.TrimSpace(c); c != "" {
				raw = append(raw, strings.ToLower(c))
			}
		}
	}

	out := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.ToLower(strings.TrimSpace(strings.ReplaceAll(t, "-", " ")))
		if t == "" {
			continue
		}
		out = appendIfMissing(out, t)
	}
	return out
}

func appendIfMissing(slice []string, v string) []string {
	for _, x := range slice {
		if x == v {
			return slice
		}
	}
	return append(slice, v)
}
