package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"askdocs/internal/retrieval"
)

const userAgent = "askdocs/1.0 (+retrieval ingestion)"

// Fetcher downloads web pages and extracts their text.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

func NewFetcher(timeout time.Duration, maxBytes int64) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Fetcher{client: &http.Client{Timeout: timeout}, maxBytes: maxBytes}
}

// IsURL reports whether s looks like an http(s) URL.
func IsURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Fetch retrieves rawURL. The origin is the URL as given.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (retrieval.Source, error) {
	if !IsURL(rawURL) {
		return retrieval.Source{}, retrieval.NewIngestError(rawURL, "invalid url", retrieval.ErrInvalidSource)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return retrieval.Source{}, retrieval.NewIngestError(rawURL, "invalid url", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,text/plain,text/markdown,application/pdf;q=0.9,*/*;q=0.5")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return retrieval.Source{}, retrieval.NewIngestError(rawURL, "request failed", fmt.Errorf("%w: %w", ErrFetch, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return retrieval.Source{}, retrieval.NewIngestError(rawURL, "unexpected status", fmt.Errorf("%w: %s", ErrFetch, resp.Status))
	}

	contentType := resp.Header.Get("Content-Type")
	format, err := FormatFor(resp.Request.URL.Path, contentType)
	if err != nil {
		if contentType != "" && !strings.HasPrefix(contentType, "text/") {
			return retrieval.Source{}, retrieval.NewIngestError(rawURL, "unsupported content type", err)
		}
		format = FormatHTML
	}

	data, err := readLimited(resp.Body, f.maxBytes)
	if err != nil {
		return retrieval.Source{}, retrieval.NewIngestError(rawURL, "cannot read body", err)
	}
	txt, err := Extract(format, data)
	if err != nil {
		return retrieval.Source{}, retrieval.NewIngestError(rawURL, "cannot extract text", err)
	}

	slog.InfoContext(ctx, "page fetched", "url", rawURL, "format", format, "bytes", len(data), "duration_ms", time.Since(start).Milliseconds())
	return retrieval.Source{Origin: rawURL, Kind: retrieval.KindURL, Text: txt}, nil
}
