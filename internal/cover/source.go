// Package cover acquires a recipe's cover image from the first source that
// yields a decodable picture and renders its fixed-size variants.
package cover

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"strings"

	"recipebox/internal/fetcher"
)

// ErrNoImage marks a source that had nothing to offer. It is an expected
// outcome, not a failure.
var ErrNoImage = errors.New("no image available")

// URLChecker guards remote fetches.
type URLChecker interface {
	IsSafe(ctx context.Context, raw string) bool
}

// Request lists the candidate sources for one save, in precedence order:
// uploaded bytes, remote URL, the image already stored for the record, and
// finally the bundled default.
type Request struct {
	Upload   []byte
	ImageURL string
	Referer  string
	Existing string
}

// Origin names where a resolved cover came from.
type Origin string

const (
	OriginUpload   Origin = "upload"
	OriginRemote   Origin = "remote"
	OriginExisting Origin = "existing"
	OriginDefault  Origin = "default"
	OriginNone     Origin = "none"
)

// Outcome is the result of Resolve. Image is set for upload, remote and
// default origins; Existing is set for OriginExisting.
type Outcome struct {
	Image    image.Image
	Existing string
	Origin   Origin
}

// Resolver walks the source chain.
type Resolver struct {
	Fetcher     fetcher.Fetcher
	Checker     URLChecker
	DefaultPath string
	Logger      *slog.Logger
}

func NewResolver(f fetcher.Fetcher, checker URLChecker, defaultPath string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{Fetcher: f, Checker: checker, DefaultPath: defaultPath, Logger: logger}
}

// Resolve never fails: every source error degrades to the next source and,
// ultimately, to OriginNone.
func (r *Resolver) Resolve(ctx context.Context, req Request) Outcome {
	if img, err := Decode(req.Upload); err == nil {
		return Outcome{Image: img, Origin: OriginUpload}
	} else if !errors.Is(err, ErrNoImage) {
		r.Logger.Warn("uploaded image rejected", "error", err)
	}

	if img, err := r.Remote(ctx, req.ImageURL, req.Referer); err == nil {
		return Outcome{Image: img, Origin: OriginRemote}
	} else if !errors.Is(err, ErrNoImage) {
		r.Logger.Warn("remote image unavailable", "url", req.ImageURL, "error", err)
	}

	if existing := strings.TrimSpace(req.Existing); existing != "" {
		return Outcome{Existing: existing, Origin: OriginExisting}
	}

	if img, err := r.defaultImage(); err == nil {
		return Outcome{Image: img, Origin: OriginDefault}
	} else if !errors.Is(err, ErrNoImage) {
		r.Logger.Warn("default image unusable", "path", r.DefaultPath, "error", err)
	}

	return Outcome{Origin: OriginNone}
}

// Remote downloads and decodes imageURL. The fetcher chain handles the
// HTTP-then-curl fallback.
func (r *Resolver) Remote(ctx context.Context, imageURL, referer string) (image.Image, error) {
	imageURL = strings.TrimSpace(imageURL)
	if imageURL == "" || r.Fetcher == nil {
		return nil, ErrNoImage
	}
	if r.Checker != nil && !r.Checker.IsSafe(ctx, imageURL) {
		return nil, fmt.Errorf("image url %q failed the safety check", imageURL)
	}
	data, err := r.Fetcher.Fetch(ctx, imageURL, referer)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// Probe reports whether imageURL can be fetched and decoded.
func (r *Resolver) Probe(ctx context.Context, imageURL, referer string) bool {
	_, err := r.Remote(ctx, imageURL, referer)
	if err != nil && !errors.Is(err, ErrNoImage) {
		r.Logger.Info("image probe failed", "url", imageURL, "error", err)
	}
	return err == nil
}

func (r *Resolver) defaultImage() (image.Image, error) {
	if strings.TrimSpace(r.DefaultPath) == "" {
		return nil, ErrNoImage
	}
	data, err := os.ReadFile(r.DefaultPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoImage
		}
		return nil, err
	}
	return Decode(data)
}
