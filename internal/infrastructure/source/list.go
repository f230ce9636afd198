package source

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"ResearchRadar/internal/domain"
	"ResearchRadar/internal/ports"
)

// listSelectors drive generic index-page scraping. News and blog adapters
// share the mechanics and differ only in defaults and source type.
type listSelectors struct {
	Item  string
	Title string
	Link  string
	Body  string
	Date  string
	// DateFormat is a time.Parse layout for the Date selector's text.
	DateFormat string
}

// listSource scrapes an index page of articles with configurable CSS
// selectors.
type listSource struct {
	name       string
	sourceType domain.SourceType
	indexURL   string
	selectors  listSelectors
	client     *http.Client
	logger     *slog.Logger
}

var _ ports.Fetchable = (*listSource)(nil)

func (l *listSource) Name() string {
	return l.name
}

func (l *listSource) Type() domain.SourceType {
	return l.sourceType
}

// Fetch scrapes the index page and returns entries published after since,
// in page order, up to limit. Entries missing both link and title are
// skipped.
func (l *listSource) Fetch(ctx context.Context, since *time.Time, limit int) ([]domain.RawItem, error) {
	doc, err := fetchDocument(ctx, l.client, l.name, l.indexURL)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	results := make([]domain.RawItem, 0)

	doc.Find(l.selectors.Item).EachWithBreak(func(i int, sel *goquery.Selection) bool {
		item, ok := l.parseEntry(sel, now)
		if !ok {
			l.debug("skipping malformed entry", "index", i)
			return true
		}
		if !afterSince(item.PublishedAt, since) {
			return true
		}

		results = append(results, item)
		return limit <= 0 || len(results) < limit
	})

	l.debug("list fetch done", "count", len(results))
	return results, nil
}

func (l *listSource) parseEntry(sel *goquery.Selection, fetchedAt time.Time) (domain.RawItem, bool) {
	title := strings.TrimSpace(sel.Find(l.selectors.Title).First().Text())

	href, _ := sel.Find(l.selectors.Link).First().Attr("href")
	href = strings.TrimSpace(href)
	if href != "" && !strings.HasPrefix(href, "http") {
		href = strings.TrimSuffix(l.indexBase(), "/") + "/" + strings.TrimPrefix(href, "/")
	}

	if title == "" && href == "" {
		return domain.RawItem{}, false
	}

	bodySel := sel.Find(l.selectors.Body).First()
	body, err := bodySel.Html()
	if err != nil || strings.TrimSpace(body) == "" {
		body = bodySel.Text()
	}

	var publishedAt time.Time
	if l.selectors.Date != "" {
		dateText := strings.TrimSpace(sel.Find(l.selectors.Date).First().Text())
		if dateText != "" && l.selectors.DateFormat != "" {
			if parsed, perr := time.Parse(l.selectors.DateFormat, dateText); perr == nil {
				publishedAt = parsed.UTC()
			}
		}
	}

	return domain.RawItem{
		SourceName:  l.name,
		SourceType:  l.sourceType,
		Title:       title,
		Body:        body,
		URL:         href,
		PublishedAt: publishedAt,
		FetchedAt:   fetchedAt,
	}, true
}

func (l *listSource) indexBase() string {
	idx := strings.Index(l.indexURL, "://")
	if idx < 0 {
		return l.indexURL
	}
	rest := l.indexURL[idx+3:]
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		return l.indexURL[:idx+3+slash]
	}
	return l.indexURL
}

func (l *listSource) debug(msg string, args ...any) {
	if l.logger != nil {
		l.logger.Debug(msg, args...)
	}
}

func selectorsFromOptions(defaults listSelectors, options map[string]string) listSelectors {
	if v := options["itemSelector"]; v != "" {
		defaults.Item = v
	}
	if v := options["titleSelector"]; v != "" {
		defaults.Title = v
	}
	if v := options["linkSelector"]; v != "" {
		defaults.Link = v
	}
	if v := options["bodySelector"]; v != "" {
		defaults.Body = v
	}
	if v := options["dateSelector"]; v != "" {
		defaults.Date = v
	}
	if v := options["dateFormat"]; v != "" {
		defaults.DateFormat = v
	}
	return defaults
}
