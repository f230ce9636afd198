package source

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"ResearchRadar/internal/config"
	"ResearchRadar/internal/domain"
	"ResearchRadar/internal/ports"
)

// BookSource pulls book records from a JSON catalog API. Book entries
// rarely carry stable URLs, so normalization falls back to the
// title-plus-excerpt fingerprint for them.
type BookSource struct {
	name   string
	apiURL string
	query  string
	client *http.Client
	logger *slog.Logger
}

var _ ports.Fetchable = (*BookSource)(nil)

// NewBookSource wires the adapter from configuration. The "query" option
// narrows the catalog search.
func NewBookSource(cfg config.SourceConfig, client *http.Client, logger *slog.Logger) *BookSource {
	if client == nil {
		client = defaultHTTPClient()
	}
	return &BookSource{
		name:   cfg.Name,
		apiURL: cfg.URL,
		query:  cfg.Options["query"],
		client: client,
		logger: logger,
	}
}

// Name identifies the configured provider instance.
func (b *BookSource) Name() string {
	return b.name
}

// Type reports the provider family.
func (b *BookSource) Type() domain.SourceType {
	return domain.SourceBook
}

type bookEntry struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Excerpt     string `json:"excerpt"`
	URL         string `json:"url"`
	Author      string `json:"author"`
	PublishedAt string `json:"published_at"`
}

type bookCatalogPage struct {
	Items []bookEntry `json:"items"`
}

// Fetch queries the catalog once per run. Entries without usable text are
// skipped; transport failures are retryable.
func (b *BookSource) Fetch(ctx context.Context, since *time.Time, limit int) ([]domain.RawItem, error) {
	endpoint, err := b.buildURL(limit)
	if err != nil {
		return nil, &domain.FetchError{Source: b.name, Retryable: false, Err: err}
	}

	var page bookCatalogPage
	if err := fetchJSON(ctx, b.client, b.name, endpoint, &page); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	results := make([]domain.RawItem, 0, len(page.Items))
	for _, entry := range page.Items {
		body := entry.Excerpt
		if body == "" {
			body = entry.Description
		}
		if entry.Title == "" && body == "" {
			b.debug("skipping empty catalog entry")
			continue
		}

		var publishedAt time.Time
		if entry.PublishedAt != "" {
			if parsed, perr := time.Parse(time.RFC3339, entry.PublishedAt); perr == nil {
				publishedAt = parsed.UTC()
			}
		}
		if !afterSince(publishedAt, since) {
			continue
		}

		results = append(results, domain.RawItem{
			SourceName:  b.name,
			SourceType:  domain.SourceBook,
			Title:       entry.Title,
			Body:        body,
			URL:         entry.URL,
			Author:      entry.Author,
			PublishedAt: publishedAt,
			FetchedAt:   now,
		})
		if limit > 0 && len(results) >= limit {
			break
		}
	}

	b.debug("book fetch done", "count", len(results))
	return results, nil
}

func (b *BookSource) buildURL(limit int) (string, error) {
	parsed, err := url.Parse(b.apiURL)
	if err != nil {
		return "", err
	}

	query := parsed.Query()
	if b.query != "" {
		query.Set("q", b.query)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func (b *BookSource) debug(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, args...)
	}
}
