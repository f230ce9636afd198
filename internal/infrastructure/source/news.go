package source

import (
	"log/slog"
	"net/http"

	"ResearchRadar/internal/config"
	"ResearchRadar/internal/domain"
	"ResearchRadar/internal/ports"
)

// NewNewsSource scrapes a news site's article index. Selector defaults
// match common news-listing markup and can be overridden per source via
// config options.
func NewNewsSource(cfg config.SourceConfig, client *http.Client, logger *slog.Logger) ports.Fetchable {
	if client == nil {
		client = defaultHTTPClient()
	}

	defaults := listSelectors{
		Item:       "article",
		Title:      "h2, h3",
		Link:       "a",
		Body:       "p, .teaser, .summary",
		Date:       "time",
		DateFormat: "2006-01-02",
	}

	return &listSource{
		name:       cfg.Name,
		sourceType: domain.SourceNews,
		indexURL:   cfg.URL,
		selectors:  selectorsFromOptions(defaults, cfg.Options),
		client:     client,
		logger:     logger,
	}
}
