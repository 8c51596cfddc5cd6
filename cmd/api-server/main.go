package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"recipebox/internal/batch"
	"recipebox/internal/cover"
	"recipebox/internal/events"
	"recipebox/internal/fetcher"
	"recipebox/internal/ingest"
	"recipebox/internal/journal"
	"recipebox/internal/logging"
	"recipebox/internal/publish"
	"recipebox/internal/recipe"
	"recipebox/internal/scraper"
	"recipebox/internal/taxonomy"
	"recipebox/internal/urlsafe"
	"recipebox/pkg/database"
	"recipebox/pkg/utils"
)

func main() {
	cfg, err := utils.LoadConfig()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		slog.Error("init logger", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("api server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg utils.Config, logger *slog.Logger) error {
	db, err := database.Open(database.Config{Path: cfg.DBPath})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		return err
	}

	hub := events.NewHub()
	svc, err := newService(cfg, logger, journal.New(db), hub)
	if err != nil {
		return err
	}
	if err := svc.Init(); err != nil {
		return err
	}

	router := gin.Default()
	router.MaxMultipartMemory = cfg.MaxUploadBytes
	_ = router.SetTrustedProxies([]string{"127.0.0.1"})

	router.GET("/ws", events.WSHandler(hub, logger))

	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		stats := hub.Stats()
		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":     "not_ready",
				"db_error":   err.Error(),
				"ws_clients": stats.Clients,
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"content_dir": cfg.ContentDir,
			"tags":        len(svc.KnownTags()),
			"ws_clients":  stats.Clients,
		})
	})

	ingest.NewHandler(svc, cfg.MaxUploadBytes).RegisterRoutes(router.Group(""))

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP API server listening", "addr", cfg.ListenAddr, "content_dir", cfg.ContentDir)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", "error", err)
	}
	logger.Info("server stopped")
	return nil
}

func newService(cfg utils.Config, logger *slog.Logger, j *journal.Journal, hub *events.Hub) (*ingest.Service, error) {
	guard := urlsafe.New()

	pages := fetcher.NewHTTPFetcher(fetcher.Options{
		Timeout:       cfg.FetchTimeout(),
		AllowRedirect: guard.IsSafe,
	})
	curl := fetcher.NewCurlFetcher(cfg.CurlTimeout())
	curl.AllowRedirect = guard.IsSafe
	images := fetcher.Chain{
		fetcher.NewHTTPFetcher(fetcher.Options{
			Timeout:       cfg.FetchTimeout(),
			AllowRedirect: guard.IsSafe,
			Headers:       map[string]string{"Accept": "image/avif,image/webp,image/apng,image/*,*/*;q=0.8"},
		}),
		curl,
	}

	covers := cover.NewResolver(images, guard, cfg.DefaultImage, logger.With("component", "cover"))
	store, err := recipe.NewStore(cfg.ContentDir, covers, logger.With("component", "store"))
	if err != nil {
		return nil, err
	}

	adapter := scraper.NewAdapter(scraper.NewPageExtractor(pages))
	batches := batch.NewManager(adapter, guard, store, cfg.BatchTTL(), logger.With("component", "batch"))
	batches.Concurrency = cfg.BulkConcurrency

	return &ingest.Service{
		Store:   store,
		Tags:    taxonomy.New(),
		Batches: batches,
		Scraper: adapter,
		Checker: guard,
		Images:  covers,
		Trigger: publish.NewTrigger(cfg.SiteConfigPath, logger),
		Waiter:  publish.NewPoller(cfg.SiteBaseURL, cfg.ReadyPollInterval(), cfg.ReadyPollAttempts, logger),
		Journal: j,
		Events:  hub,
		Logger:  logger,
	}, nil
}
