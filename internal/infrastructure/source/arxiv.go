package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"ResearchRadar/internal/config"
	"ResearchRadar/internal/domain"
	"ResearchRadar/internal/ports"
)

const arxivBaseURL = "https://arxiv.org"

var dateExpr = regexp.MustCompile(`\d{1,2} [A-Za-z]{3} \d{4}`)

// ArxivSource crawls arxiv listing pages for scientific articles. Pages
// are walked with skip/show pagination until entries fall behind the
// since cursor or the fetch limit is reached.
type ArxivSource struct {
	name     string
	listURL  string
	client   *http.Client
	pageSize int
	logger   *slog.Logger
}

var _ ports.Fetchable = (*ArxivSource)(nil)

// NewArxivSource wires the adapter from configuration.
func NewArxivSource(cfg config.SourceConfig, client *http.Client, logger *slog.Logger) *ArxivSource {
	if client == nil {
		client = defaultHTTPClient()
	}
	return &ArxivSource{
		name:     cfg.Name,
		listURL:  cfg.URL,
		client:   client,
		pageSize: 200,
		logger:   logger,
	}
}

// Name identifies the configured provider instance.
func (a *ArxivSource) Name() string {
	return a.name
}

// Type reports the provider family.
func (a *ArxivSource) Type() domain.SourceType {
	return domain.SourceScientific
}

// Fetch walks listing pages newest-first and returns entries published
// after since, up to limit. Malformed entries are skipped, not fatal.
func (a *ArxivSource) Fetch(ctx context.Context, since *time.Time, limit int) ([]domain.RawItem, error) {
	results := make([]domain.RawItem, 0)
	seen := map[string]struct{}{}
	skip := 0

	for {
		pageURL, err := buildPageURL(a.listURL, skip, a.pageSize)
		if err != nil {
			return nil, &domain.FetchError{Source: a.name, Retryable: false, Err: err}
		}

		doc, err := fetchDocument(ctx, a.client, a.name, pageURL)
		if err != nil {
			return nil, err
		}

		pageItems, keepGoing := a.extractEntries(doc, since)
		for _, item := range pageItems {
			if _, dup := seen[item.URL]; dup {
				continue
			}
			seen[item.URL] = struct{}{}
			results = append(results, item)
			if limit > 0 && len(results) >= limit {
				return results, nil
			}
		}

		if !keepGoing {
			break
		}
		skip += a.pageSize
	}

	a.debug("arxiv fetch done", "count", len(results))
	return results, nil
}

func (a *ArxivSource) extractEntries(doc *goquery.Document, since *time.Time) ([]domain.RawItem, bool) {
	var (
		collected []domain.RawItem
		keepGoing = true
		processed int
	)

	now := time.Now().UTC()

	doc.Find("dl > dt").EachWithBreak(func(i int, dt *goquery.Selection) bool {
		dd := dt.Next()
		processed++

		item, ok := parseArxivEntry(dt, dd, a.name, now)
		if !ok {
			a.debug("skipping malformed arxiv entry", "index", i)
			return true
		}

		if since != nil && !item.PublishedAt.IsZero() && !item.PublishedAt.After(*since) {
			keepGoing = false
			return false
		}

		collected = append(collected, item)
		return true
	})

	if processed < a.pageSize {
		keepGoing = false
	}

	return collected, keepGoing
}

// parseArxivEntry reads one dt/dd listing pair. Returns ok=false when the
// entry lacks both link and title, which is the skip condition.
func parseArxivEntry(dt, dd *goquery.Selection, sourceName string, fetchedAt time.Time) (domain.RawItem, bool) {
	link := dt.Find("a[href*=\"/abs/\"]").First()
	href, _ := link.Attr("href")
	if href != "" && !strings.HasPrefix(href, "http") {
		href = strings.TrimSuffix(arxivBaseURL, "/") + href
	}

	title := strings.TrimSpace(dd.Find(".list-title").First().Text())
	title = strings.TrimSpace(strings.TrimPrefix(title, "Title:"))

	abstract := dd.Find(".mathjax").First().Text()
	abstract = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(abstract), "Abstract:"))

	if href == "" && title == "" {
		return domain.RawItem{}, false
	}

	authors := strings.TrimSpace(dd.Find(".list-authors").First().Text())
	authors = strings.TrimSpace(strings.TrimPrefix(authors, "Authors:"))

	dateText := strings.TrimSpace(dd.Find(".list-date").First().Text())
	if dateText == "" {
		dateText = strings.TrimSpace(dd.Find(".list-dateline").First().Text())
	}

	var publishedAt time.Time
	if match := dateExpr.FindString(dateText); match != "" {
		if parsed, err := time.Parse("2 Jan 2006", match); err == nil {
			publishedAt = parsed.UTC()
		}
	}

	return domain.RawItem{
		SourceName:  sourceName,
		SourceType:  domain.SourceScientific,
		Title:       title,
		Body:        abstract,
		URL:         href,
		Author:      authors,
		PublishedAt: publishedAt,
		FetchedAt:   fetchedAt,
	}, true
}

func buildPageURL(base string, skip, pageSize int) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid listing url %s: %w", base, err)
	}

	query := parsed.Query()
	query.Set("skip", strconv.Itoa(skip))
	query.Set("show", strconv.Itoa(pageSize))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func (a *ArxivSource) debug(msg string, args ...any) {
	if a.logger != nil {
		a.logger.Debug(msg, args...)
	}
}
