// Package fetch downloads remote datasets over HTTP(S) and FTP so the
// loaders can read them from local paths.
package fetch

import (
	"context"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Fetcher retrieves a remote resource as a stream.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	RPS        float64 // requests per second; 0 = unlimited
}

// HTTPFetcher implements Fetcher using net/http with retry and rate
// limiting.
type HTTPFetcher struct {
	client  *http.Client
	opts    HTTPOptions
	limiter *rate.Limiter
}

// NewHTTPFetcher creates an HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "UrbanMapper/1.0"
	}
	f := &HTTPFetcher{
		client: &http.Client{Timeout: opts.Timeout},
		opts:   opts,
	}
	if opts.RPS > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(opts.RPS), int(math.Ceil(opts.RPS)))
	}
	return f
}

// Fetch implements Fetcher. Retries 5xx and transport errors with
// exponential backoff.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	var lastErr error
	for attempt := 0; attempt <= f.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			zap.L().Debug("fetch: retrying",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, eris.Wrap(ctx.Err(), "fetch: cancelled")
			}
		}

		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "fetch: rate limit")
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, eris.Wrapf(err, "fetch: build request %s", rawURL)
		}
		req.Header.Set("User-Agent", f.opts.UserAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			_ = resp.Body.Close()
			lastErr = eris.Errorf("fetch: %s returned status %d", rawURL, resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return nil, eris.Errorf("fetch: %s returned status %d", rawURL, resp.StatusCode)
		}
		return resp.Body, nil
	}
	return nil, eris.Wrapf(lastErr, "fetch: %s failed after %d attempts", rawURL, f.opts.MaxRetries+1)
}

// Download fetches a URL into destDir, picking the fetcher by scheme,
// and returns the local file path.
func Download(ctx context.Context, httpF *HTTPFetcher, ftpF *FTPFetcher, rawURL, destDir string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", eris.Wrapf(err, "fetch: parse url %s", rawURL)
	}

	var body io.ReadCloser
	switch u.Scheme {
	case "http", "https":
		if httpF == nil {
			return "", eris.Errorf("fetch: no HTTP fetcher configured for %s", rawURL)
		}
		body, err = httpF.Fetch(ctx, rawURL)
	case "ftp":
		if ftpF == nil {
			return "", eris.Errorf("fetch: no FTP fetcher configured for %s", rawURL)
		}
		body, err = ftpF.Fetch(ctx, rawURL)
	default:
		return "", eris.Errorf("fetch: unsupported scheme %q", u.Scheme)
	}
	if err != nil {
		return "", err
	}
	defer func() { _ = body.Close() }()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", eris.Wrapf(err, "fetch: mkdir %s", destDir)
	}
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		name = "download"
	}
	dest := filepath.Join(destDir, name)

	out, err := os.Create(dest)
	if err != nil {
		return "", eris.Wrapf(err, "fetch: create %s", dest)
	}
	written, err := io.Copy(out, body)
	closeErr := out.Close()
	if err != nil {
		return "", eris.Wrapf(err, "fetch: write %s", dest)
	}
	if closeErr != nil {
		return "", eris.Wrapf(closeErr, "fetch: close %s", dest)
	}

	zap.L().Info("fetch: downloaded",
		zap.String("url", rawURL),
		zap.String("dest", dest),
		zap.Int64("bytes", written),
	)
	return dest, nil
}
