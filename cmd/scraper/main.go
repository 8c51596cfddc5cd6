package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"recipebox/internal/fetcher"
	"recipebox/internal/logging"
	"recipebox/internal/recipe"
	"recipebox/internal/scraper"
	"recipebox/internal/urlsafe"
)

func main() {
	var (
		timeout = flag.Duration("timeout", 30*time.Second, "overall scrape timeout")
		unsafe  = flag.Bool("allow-private", false, "skip the public-address check")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <recipe-url>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	pageURL := flag.Arg(0)

	logger, err := logging.New(logging.Options{Level: "warn", Output: os.Stderr})
	if err != nil {
		slog.Error("init logger", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	guard := urlsafe.New()
	opts := fetcher.Options{AllowRedirect: guard.IsSafe}
	if *unsafe {
		opts.AllowRedirect = nil
	} else if !guard.IsSafe(ctx, pageURL) {
		logger.Error("url rejected", "url", pageURL)
		os.Exit(1)
	}

	adapter := scraper.NewAdapter(scraper.NewPageExtractor(fetcher.NewHTTPFetcher(opts)))
	draft, err := adapter.Scrape(ctx, pageURL)
	if err != nil {
		logger.Error("scrape failed", "url", pageURL, "error", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(struct {
		scraper.Draft
		Slug string `json:"slug"`
	}{Draft: draft, Slug: recipe.Slugify(draft.Title)}); err != nil {
		logger.Error("encode draft", "error", err)
		os.Exit(1)
	}
}
