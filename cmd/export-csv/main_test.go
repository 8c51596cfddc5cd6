package main

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"recipebox/internal/logging"
	"recipebox/internal/recipe"
)

func TestExportRecipes(t *testing.T) {
	store, err := recipe.NewStore(filepath.Join(t.TempDir(), "recipes"), nil, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Save(context.Background(), recipe.Draft{
		Title:        "Pancakes",
		Tags:         []string{"breakfast", "sweet"},
		Ingredients:  []string{"flour", "milk"},
		Instructions: "Fry.",
	}, ""); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(t.TempDir(), "out", "recipes.csv")
	n, err := exportRecipes(store, out)
	if err != nil || n != 1 {
		t.Fatalf("exportRecipes: n=%d err=%v", n, err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[1][0] != "pancakes" || rows[1][3] != "breakfast, sweet" || rows[1][6] != "flour; milk" {
		t.Fatalf("rows = %v", rows)
	}
}
