package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"

	"ResearchRadar/internal/domain"
)

const userAgent = "ResearchRadar/1.0"

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 20 * time.Second}
}

// fetchDocument loads and parses an HTML page. Transport and server-side
// failures come back as retryable FetchErrors; an unparseable body is a
// non-retryable one.
func fetchDocument(ctx context.Context, client *http.Client, source, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, &domain.FetchError{Source: source, Retryable: false, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, &domain.FetchError{Source: source, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.FetchError{
			Source:    source,
			Retryable: resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests,
			Err:       fmt.Errorf("%s returned %s", pageURL, resp.Status),
		}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &domain.FetchError{Source: source, Retryable: false, Err: fmt.Errorf("parse document: %w", err)}
	}

	return doc, nil
}

// fetchJSON loads and decodes a JSON endpoint with the same error
// classification as fetchDocument.
func fetchJSON(ctx context.Context, client *http.Client, source, pageURL string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return &domain.FetchError{Source: source, Retryable: false, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return &domain.FetchError{Source: source, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &domain.FetchError{
			Source:    source,
			Retryable: resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests,
			Err:       fmt.Errorf("%s returned %s", pageURL, resp.Status),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &domain.FetchError{Source: source, Retryable: false, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// afterSince reports whether a publication time qualifies for the cursor.
// Items without a known publication date always qualify; dedup catches
// repeats.
func afterSince(published time.Time, since *time.Time) bool {
	if since == nil || published.IsZero() {
		return true
	}
	return published.After(*since)
}
