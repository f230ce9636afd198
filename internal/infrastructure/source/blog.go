package source

import (
	"log/slog"
	"net/http"

	"ResearchRadar/internal/config"
	"ResearchRadar/internal/domain"
	"ResearchRadar/internal/ports"
)

// NewBlogSource scrapes a blog's post index. Blogs tend to inline the
// full post body in the listing, so the body selector is wider than the
// news default.
func NewBlogSource(cfg config.SourceConfig, client *http.Client, logger *slog.Logger) ports.Fetchable {
	if client == nil {
		client = defaultHTTPClient()
	}

	defaults := listSelectors{
		Item:       ".post, article",
		Title:      ".post-title, h1, h2",
		Link:       "a",
		Body:       ".post-content, .entry-content, p",
		Date:       ".post-date, time",
		DateFormat: "January 2, 2006",
	}

	return &listSource{
		name:       cfg.Name,
		sourceType: domain.SourceBlog,
		indexURL:   cfg.URL,
		selectors:  selectorsFromOptions(defaults, cfg.Options),
		client:     client,
		logger:     logger,
	}
}
