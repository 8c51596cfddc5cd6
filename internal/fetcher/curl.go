package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const curlMaxRedirects = 5

// CurlFetcher shells out to curl. It gets past some TLS fingerprinting and
// anti-bot setups that reject the Go client.
//
// curl never follows redirects on its own; each hop is returned to Fetch and
// checked with AllowRedirect before the next request is made.
type CurlFetcher struct {
	Binary  string
	Timeout time.Duration
	// AllowRedirect, when set, is consulted for every redirect hop.
	AllowRedirect func(ctx context.Context, rawURL string) bool
}

// NewCurlFetcher returns a curl-backed fetcher with the given hard timeout.
func NewCurlFetcher(timeout time.Duration) *CurlFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &CurlFetcher{Binary: "curl", Timeout: timeout}
}

func (c *CurlFetcher) Fetch(ctx context.Context, rawURL, referer string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout+time.Second)
	defer cancel()

	target := rawURL
	for hop := 0; ; hop++ {
		code, next, body, err := c.fetchOnce(ctx, target, referer)
		if err != nil {
			return nil, err
		}
		if code >= 300 && code < 400 && next != "" {
			if hop >= curlMaxRedirects {
				return nil, fmt.Errorf("curl %s: stopped after %d redirects", rawURL, curlMaxRedirects)
			}
			if c.AllowRedirect != nil && !c.AllowRedirect(ctx, next) {
				return nil, fmt.Errorf("%w: %s", ErrUnsafeRedirect, next)
			}
			target = next
			continue
		}
		if code != 200 {
			return nil, &StatusError{URL: target, StatusCode: code}
		}
		if len(body) == 0 {
			return nil, errors.New("curl returned an empty body")
		}
		return body, nil
	}
}

// fetchOnce runs a single curl request. The body goes to a temp file so
// stdout only carries the status line written by -w.
func (c *CurlFetcher) fetchOnce(ctx context.Context, target, referer string) (int, string, []byte, error) {
	out, err := os.CreateTemp("", "recipebox-curl-*")
	if err != nil {
		return 0, "", nil, fmt.Errorf("curl temp file: %w", err)
	}
	path := out.Name()
	out.Close()
	defer os.Remove(path)

	cmd := exec.CommandContext(ctx, c.Binary, c.args(target, referer, path)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return 0, "", nil, fmt.Errorf("curl %s: %s", target, msg)
	}

	code, next, err := parseWriteOut(stdout.String())
	if err != nil {
		return 0, "", nil, fmt.Errorf("curl %s: %w", target, err)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return 0, "", nil, fmt.Errorf("curl %s: read body: %w", target, err)
	}
	return code, next, body, nil
}

func parseWriteOut(s string) (int, string, error) {
	status, next, _ := strings.Cut(strings.TrimSpace(s), "\n")
	code, err := strconv.Atoi(strings.TrimSpace(status))
	if err != nil {
		return 0, "", fmt.Errorf("unreadable status %q", status)
	}
	return code, strings.TrimSpace(next), nil
}

func (c *CurlFetcher) args(rawURL, referer, outPath string) []string {
	args := []string{
		"-sS",
		"--proto", "=http,https",
		"--max-redirs", "0",
		"-A", BrowserUserAgent,
		"--max-time", strconv.Itoa(int(c.Timeout / time.Second)),
		"-o", outPath,
		"-w", "%{http_code}\\n%{redirect_url}",
	}
	if referer != "" {
		args = append(args, "-e", referer)
	}
	return append(args, rawURL)
}

// Chain tries each fetcher in order and returns the first success. A
// rejected redirect ends the chain.
type Chain []Fetcher

func (c Chain) Fetch(ctx context.Context, rawURL, referer string) ([]byte, error) {
	var errs []error
	for _, f := range c {
		body, err := f.Fetch(ctx, rawURL, referer)
		if err == nil {
			return body, nil
		}
		errs = append(errs, err)
		if errors.Is(err, ErrUnsafeRedirect) {
			break
		}
	}
	if len(errs) == 0 {
		return nil, errors.New("no fetchers configured")
	}
	return nil, errors.Join(errs...)
}
