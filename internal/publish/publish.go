// Package publish signals the static-site builder after content changes and
// waits, within a fixed budget, for the result to be served.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	DefaultInterval = 500 * time.Millisecond
	DefaultAttempts = 20
	requestTimeout  = 500 * time.Millisecond
)

// Trigger touches the builder's watched config file.
type Trigger struct {
	ConfigPath string
	Now        func() time.Time
	Logger     *slog.Logger
}

func NewTrigger(configPath string, logger *slog.Logger) *Trigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trigger{ConfigPath: configPath, Now: time.Now, Logger: logger}
}

// Rebuild bumps the modification time of ConfigPath. A missing file is
// ignored and any other failure is logged.
func (t *Trigger) Rebuild() {
	if strings.TrimSpace(t.ConfigPath) == "" {
		return
	}
	if _, err := os.Stat(t.ConfigPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			t.Logger.Warn("rebuild trigger unavailable", "path", t.ConfigPath, "error", err)
		}
		return
	}
	now := t.Now()
	if err := os.Chtimes(t.ConfigPath, now, now); err != nil {
		t.Logger.Warn("rebuild trigger failed", "path", t.ConfigPath, "error", err)
	}
}

// Status is the outcome of a readiness wait.
type Status string

const (
	StatusReady   Status = "ready"
	StatusPending Status = "pending"
)

// Ready reports whether the wait converged.
func (s Status) Ready() bool { return s == StatusReady }

// Poller checks the public site for a record's page. Its answer is advisory:
// StatusPending only means the page was not observed within the budget.
type Poller struct {
	BaseURL  string
	Client   *http.Client
	Interval time.Duration
	Attempts int
	Logger   *slog.Logger
}

func NewPoller(baseURL string, interval time.Duration, attempts int, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Client:   &http.Client{Timeout: requestTimeout},
		Interval: interval,
		Attempts: attempts,
		Logger:   logger,
	}
}

// PageURL is the public location of slug.
func (p *Poller) PageURL(slug string) string {
	return fmt.Sprintf("%s/recipes/%s/", p.BaseURL, url.PathEscape(slug))
}

// Await waits for the page of slug to be served.
func (p *Poller) Await(ctx context.Context, slug string) Status {
	return p.poll(ctx, slug, func(code int) bool { return code == http.StatusOK })
}

// AwaitGone waits for the page of slug to stop being served.
func (p *Poller) AwaitGone(ctx context.Context, slug string) Status {
	return p.poll(ctx, slug, func(code int) bool { return code == http.StatusNotFound || code == http.StatusGone })
}

func (p *Poller) poll(ctx context.Context, slug string, done func(code int) bool) Status {
	if p.Attempts <= 0 || p.BaseURL == "" {
		return StatusPending
	}
	target := p.PageURL(slug)
	for i := 0; i < p.Attempts; i++ {
		if code, err := p.status(ctx, target); err == nil && done(code) {
			return StatusReady
		}
		if i == p.Attempts-1 {
			break
		}
		timer := time.NewTimer(p.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return StatusPending
		case <-timer.C:
		}
	}
	p.Logger.Info("page not observed in time", "url", target, "attempts", p.Attempts)
	return StatusPending
}

func (p *Poller) status(ctx context.Context, target string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
