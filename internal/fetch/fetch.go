// Package fetch is the reference HTTP fetcher. Production deployments front
// the pipeline with a headless-browser fetcher; this implementation covers
// plain HTML and PDF sources, with retry/backoff and body-size limits, and
// produces the snippet stream the extraction cascade consumes.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"specfactory/internal/types"
)

// Options configures the HTTP fetcher.
type Options struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
	MaxRetries   int
}

// HTTPFetcher fetches sources over plain HTTP and extracts snippets.
type HTTPFetcher struct {
	client *http.Client
	opts   Options
}

// New creates an HTTPFetcher. Zero options get sane defaults.
func New(opts Options) *HTTPFetcher {
	if opts.UserAgent == "" {
		opts.UserAgent = "specfactory/1.0"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 2 << 20
	}
	return &HTTPFetcher{
		client: &http.Client{Timeout: opts.Timeout},
		opts:   opts,
	}
}

// Fetch downloads one source and turns it into a SourceResult with snippets.
// Transient failures (5xx, network) are retried with exponential backoff;
// 4xx responses are permanent. Fetch errors are reported in the result's
// Status/Error, not as a Go error, so the pipeline can continue.
func (f *HTTPFetcher) Fetch(ctx context.Context, src types.Source) (*types.SourceResult, error) {
	result := &types.SourceResult{
		Source:    src,
		FinalURL:  src.URL,
		FetchedAt: time.Now().UTC(),
	}

	var body []byte
	var contentType string
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", f.opts.UserAgent)
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf;q=0.9,*/*;q=0.8")

		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("http %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("http %d", resp.StatusCode))
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes))
		if err != nil {
			return err
		}
		body = data
		contentType = resp.Header.Get("Content-Type")
		result.FinalURL = resp.Request.URL.String()
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(f.opts.MaxRetries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		result.Status = "error"
		result.Error = err.Error()
		return result, nil
	}

	result.Status = "ok"
	result.ContentType = contentType
	if isPDF(contentType, src.URL) {
		text, err := extractPDFText(body)
		if err != nil {
			result.Status = "error"
			result.Error = fmt.Sprintf("pdf extract: %v", err)
			return result, nil
		}
		result.Snippets = SnippetsFromText(src, result.FinalURL, text)
		return result, nil
	}

	result.HTML = string(body)
	result.Snippets = ExtractSnippets(src, result.FinalURL, result.HTML)
	return result, nil
}

func isPDF(contentType, url string) bool {
	if strings.Contains(contentType, "application/pdf") {
		return true
	}
	return strings.HasSuffix(strings.ToLower(strings.SplitN(url, "?", 2)[0]), ".pdf")
}
