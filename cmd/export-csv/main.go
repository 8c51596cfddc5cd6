package main

import (
	"encoding/csv"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"recipebox/internal/logging"
	"recipebox/internal/recipe"
	"recipebox/pkg/utils"
)

func main() {
	out := flag.String("out", "data/recipes.csv", "output CSV path")
	contentDir := flag.String("content", "", "content root (defaults to the configured content_dir)")
	flag.Parse()

	logger, err := logging.New(logging.Options{Level: "info"})
	if err != nil {
		slog.Error("init logger", "error", err)
		os.Exit(1)
	}

	cfg, err := utils.LoadConfig()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	root := cfg.ContentDir
	if *contentDir != "" {
		root = *contentDir
	}

	store, err := recipe.NewStore(root, nil, logger)
	if err != nil {
		logger.Error("open content store", "error", err)
		os.Exit(1)
	}
	n, err := exportRecipes(store, *out)
	if err != nil {
		logger.Error("export recipes failed", "error", err)
		os.Exit(1)
	}
	logger.Info("exported recipes", "count", n, "path", *out)
}

func exportRecipes(store *recipe.Store, outPath string) (int, error) {
	recs, err := store.List()
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return 0, err
	}

	f, err := os.Create(outPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"slug", "title", "date", "tags", "image", "source_url", "ingredients"}); err != nil {
		return 0, err
	}
	for _, r := range recs {
		date := ""
		if !r.Created.IsZero() {
			date = r.Created.Format("2006-01-02")
		}
		if err := w.Write([]string{
			r.Slug,
			r.Title,
			date,
			strings.Join(r.Tags, ", "),
			r.Image,
			r.SourceURL,
			strings.Join(r.Ingredients, "; "),
		}); err != nil {
			return 0, err
		}
	}

	w.Flush()
	return len(recs), w.Error()
}
