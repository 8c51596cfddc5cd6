package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"recipebox/internal/fetcher"
)

type fakeRecipe struct {
	title, instructions, image, host string
	ingredients                      []string
	cuisine, category                string
}

func (f fakeRecipe) Title() string            { return f.title }
func (f fakeRecipe) Ingredients() []string    { return f.ingredients }
func (f fakeRecipe) Instructions() string     { return f.instructions }
func (f fakeRecipe) Image() string            { return f.image }
func (f fakeRecipe) Host() string             { return f.host }
func (f fakeRecipe) Cuisine() (string, bool)  { return f.cuisine, f.cuisine != "" }
func (f fakeRecipe) Category() (string, bool) { return f.category, f.category != "" }

type fakeExtractor struct {
	rec Recipe
	err error
}

func (f fakeExtractor) Extract(context.Context, string) (Recipe, error) { return f.rec, f.err }

func TestNormalizeIngredient(t *testing.T) {
	tests := map[string]string{
		"1cup flour":          "1 cup flour",
		"  2  tbsp\tbutter  ": "2 tbsp butter",
		"250g sugar":          "250 g sugar",
		"salt":                "salt",
		"2x3cm pieces":        "2 x3 cm pieces",
	}
	for in, want := range tests {
		if got := NormalizeIngredient(in); got != want {
			t.Errorf("NormalizeIngredient(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDeriveTags(t *testing.T) {
	rec := fakeRecipe{
		host:     "allrecipes.com",
		cuisine:  "American, Tex-Mex",
		category: "Dessert, Main-Course, dessert, ",
	}
	got := DeriveTags(rec)
	want := []string{"allrecipes.com", "american", "tex mex", "dessert", "main course"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("DeriveTags = %v, want %v", got, want)
	}

	if got := DeriveTags(fakeRecipe{host: "example.com"}); !reflect.DeepEqual(got, []string{"example.com"}) {
		t.Fatalf("expected host-only tags, got %v", got)
	}
}

func TestAdapterScrape(t *testing.T) {
	a := NewAdapter(fakeExtractor{rec: fakeRecipe{
		title:        "  Apple Pie ",
		host:         "example.com",
		ingredients:  []string{"2cups apples", "   ", "1 tsp  cinnamon"},
		instructions: "Bake.\n",
		image:        "https://example.com/pie.jpg",
		category:     "Dessert",
	}})

	d, err := a.Scrape(context.Background(), "https://example.com/pie")
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if d.Title != "Apple Pie" || d.SourceURL != "https://example.com/pie" || d.Instructions != "Bake." {
		t.Fatalf("unexpected draft: %+v", d)
	}
	if !reflect.DeepEqual(d.Ingredients, []string{"2 cups apples", "1 tsp cinnamon"}) {
		t.Fatalf("unexpected ingredients: %v", d.Ingredients)
	}
	if !reflect.DeepEqual(d.Tags, []string{"example.com", "dessert"}) {
		t.Fatalf("unexpected tags: %v", d.Tags)
	}
}

func TestAdapterWrapsFailures(t *testing.T) {
	a := NewAdapter(fakeExtractor{err: errors.New("boom")})
	_, err := a.Scrape(context.Background(), "https://example.com/x")
	var ee *ExtractionError
	if !errors.As(err, &ee) || ee.URL != "https://example.com/x" {
		t.Fatalf("expected ExtractionError, got %v", err)
	}

	a = NewAdapter(fakeExtractor{rec: fakeRecipe{title: " "}})
	if _, err := a.Scrape(context.Background(), "https://example.com/x"); !errors.Is(err, ErrNoRecipe) {
		t.Fatalf("expected ErrNoRecipe for empty title, got %v", err)
	}
}

const recipePage = `<!doctype html>
<html><head>
<meta property="og:image" content="https://cdn.example.com/og.jpg">
<script type="application/ld+json">{"@context":"https://schema.org","@type":"WebSite","name":"Site"}</script>
<script type="application/ld+json">
{"@context":"https://schema.org","@graph":[
  {"@type":"BreadcrumbList"},
  {"@type":["Recipe","NewsArticle"],
   "name":"Grandma&#39;s Apple Pie",
   "image":[{"@type":"ImageObject","url":"https://cdn.example.com/pie.jpg"}],
   "recipeCuisine":["American"],
   "recipeCategory":"Dessert, Pie",
   "recipeIngredient":["6 apples","1cup sugar"],
   "recipeInstructions":[
     {"@type":"HowToSection","name":"Crust","itemListElement":[{"@type":"HowToStep","text":"Roll <b>dough</b>."}]},
     {"@type":"HowToStep","text":"Bake 45 minutes."}
   ]}
]}
</script>
</head><body></body></html>`

func TestParsePage(t *testing.T) {
	rec, err := ParsePage([]byte(recipePage), "www.Example.com")
	if err != nil {
		t.Fatalf("ParsePage: %v", err)
	}
	if rec.Title() != "Grandma's Apple Pie" {
		t.Fatalf("unexpected title %q", rec.Title())
	}
	if rec.Host() != "example.com" {
		t.Fatalf("unexpected host %q", rec.Host())
	}
	if rec.Image() != "https://cdn.example.com/pie.jpg" {
		t.Fatalf("unexpected image %q", rec.Image())
	}
	if !reflect.DeepEqual(rec.Ingredients(), []string{"6 apples", "1cup sugar"}) {
		t.Fatalf("unexpected ingredients %v", rec.Ingredients())
	}
	if want := "Crust:\nRoll dough.\nBake 45 minutes."; rec.Instructions() != want {
		t.Fatalf("instructions = %q, want %q", rec.Instructions(), want)
	}
	if c, ok := rec.Cuisine(); !ok || c != "American" {
		t.Fatalf("unexpected cuisine %q %v", c, ok)
	}
	if c, ok := rec.Category(); !ok || c != "Dessert, Pie" {
		t.Fatalf("unexpected category %q %v", c, ok)
	}
}

func TestParsePageWithoutRecipe(t *testing.T) {
	page := `<html><head><meta property="og:title" content="Blog"></head></html>`
	if _, err := ParsePage([]byte(page), "example.com"); !errors.Is(err, ErrNoRecipe) {
		t.Fatalf("expected ErrNoRecipe, got %v", err)
	}
}

func TestPageExtractorEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pie" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(recipePage))
	}))
	defer srv.Close()

	a := NewAdapter(NewPageExtractor(fetcher.NewHTTPFetcher(fetcher.Options{})))
	d, err := a.Scrape(context.Background(), srv.URL+"/pie")
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if d.Title != "Grandma's Apple Pie" || d.Ingredients[1] != "1 cup sugar" {
		t.Fatalf("unexpected draft %+v", d)
	}
	if !reflect.DeepEqual(d.Tags, []string{"127.0.0.1", "american", "dessert", "pie"}) {
		t.Fatalf("unexpected tags %v", d.Tags)
	}

	_, err = a.Scrape(context.Background(), srv.URL+"/missing")
	var ee *ExtractionError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExtractionError for 404, got %v", err)
	}
}
