package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"recipebox/internal/fetcher"
)

// PageExtractor reads schema.org Recipe data (JSON-LD) from a fetched page,
// falling back to OpenGraph tags for the title and image.
type PageExtractor struct {
	Fetcher fetcher.Fetcher
}

func NewPageExtractor(f fetcher.Fetcher) *PageExtractor {
	return &PageExtractor{Fetcher: f}
}

func (p *PageExtractor) Extract(ctx context.Context, pageURL string) (Recipe, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, &ExtractionError{URL: pageURL, Err: err}
	}

	body, err := p.Fetcher.Fetch(ctx, pageURL, "")
	if err != nil {
		return nil, &ExtractionError{URL: pageURL, Err: err}
	}

	rec, err := ParsePage(body, u.Hostname())
	if err != nil {
		return nil, &ExtractionError{URL: pageURL, Err: err}
	}
	return rec, nil
}

// ParsePage extracts a recipe from raw HTML served by host.
func ParsePage(body []byte, host string) (Recipe, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	rec := &pageRecipe{host: strings.TrimPrefix(strings.ToLower(host), "www.")}

	var node map[string]any
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var payload any
		if err := json.Unmarshal([]byte(s.Text()), &payload); err != nil {
			return true
		}
		node = findRecipeNode(payload)
		return node == nil
	})

	if node != nil {
		rec.title = plainText(node["name"])
		rec.ingredients = textList(node["recipeIngredient"])
		if len(rec.ingredients) == 0 {
			rec.ingredients = textList(node["ingredients"])
		}
		rec.instructions = instructionText(node["recipeInstructions"])
		rec.image = imageURL(node["image"])
		rec.cuisine = joinedText(node["recipeCuisine"])
		rec.category = joinedText(node["recipeCategory"])
	}

	if rec.title == "" {
		rec.title = metaContent(doc, "og:title")
	}
	if rec.image == "" {
		rec.image = metaContent(doc, "og:image")
	}
	if node == nil || rec.title == "" {
		return nil, ErrNoRecipe
	}
	return rec, nil
}

type pageRecipe struct {
	host         string
	title        string
	ingredients  []string
	instructions string
	image        string
	cuisine      string
	category     string
}

func (r *pageRecipe) Title() string { return r.title }

func (r *pageRecipe) Ingredients() []string { return r.ingredients }

func (r *pageRecipe) Instructions() string { return r.instructions }

func (r *pageRecipe) Image() string { return r.image }

func (r *pageRecipe) Host() string { return r.host }

func (r *pageRecipe) Cuisine() (string, bool) { return r.cuisine, r.cuisine != "" }

func (r *pageRecipe) Category() (string, bool) { return r.category, r.category != "" }

// findRecipeNode walks a JSON-LD payload (object, array or @graph) looking
// for the first node typed Recipe.
func findRecipeNode(v any) map[string]any {
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if n := findRecipeNode(item); n != nil {
				return n
			}
		}
	case map[string]any:
		if isRecipeType(t["@type"]) {
			return t
		}
		if graph, ok := t["@graph"]; ok {
			return findRecipeNode(graph)
		}
		if main, ok := t["mainEntity"]; ok {
			return findRecipeNode(main)
		}
	}
	return nil
}

func isRecipeType(v any) bool {
	switch t := v.(type) {
	case string:
		return strings.EqualFold(t, "Recipe")
	case []any:
		for _, item := range t {
			if isRecipeType(item) {
				return true
			}
		}
	}
	return false
}

func plainText(v any) string {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]any:
		for _, key := range []string{"text", "name", "@value"} {
			if inner, ok := t[key]; ok {
				return plainText(inner)
			}
		}
	}
	s = html.UnescapeString(s)
	if strings.Contains(s, "<") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			s = doc.Text()
		}
	}
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

func textList(v any) []string {
	var out []string
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if s := plainText(item); s != "" {
				out = append(out, s)
			}
		}
	default:
		if s := plainText(t); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func joinedText(v any) string {
	return strings.Join(textList(v), ", ")
}

// instructionText flattens HowToStep / HowToSection structures into one line
// per step.
func instructionText(v any) string {
	var lines []string
	var walk func(any)
	walk = func(v any) {
		switch t := v.(type) {
		case []any:
			for _, item := range t {
				walk(item)
			}
		case map[string]any:
			if items, ok := t["itemListElement"]; ok {
				if name := plainText(t["name"]); name != "" {
					lines = append(lines, name+":")
				}
				walk(items)
				return
			}
			if s := plainText(t); s != "" {
				lines = append(lines, s)
			}
		default:
			if s := plainText(t); s != "" {
				lines = append(lines, s)
			}
		}
	}
	walk(v)
	return strings.Join(lines, "\n")
}

func imageURL(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []any:
		for _, item := range t {
			if s := imageURL(item); s != "" {
				return s
			}
		}
	case map[string]any:
		if s, ok := t["url"].(string); ok {
			return strings.TrimSpace(s)
		}
		if s, ok := t["contentUrl"].(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func metaContent(doc *goquery.Document, key string) string {
	if v, ok := doc.Find(fmt.Sprintf(`meta[property="%s"]`, key)).Attr("content"); ok {
		return strings.TrimSpace(v)
	}
	if v, ok := doc.Find(fmt.Sprintf(`meta[name="%s"]`, key)).Attr("content"); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
