package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"ResearchRadar/internal/domain"
)

// identityBodyPrefix is how much cleaned body text participates in the
// fingerprint when no stable URL exists.
const identityBodyPrefix = 512

var (
	spaceExpr = regexp.MustCompile(`\s+`)
	tagExpr   = regexp.MustCompile(`<[^>]+>`)
)

// boilerplateSelectors are stripped from markup bodies per source type.
// News and blog pages carry navigation and ad blocks that scientific
// listings and book excerpts do not.
var boilerplateSelectors = map[domain.SourceType][]string{
	domain.SourceNews: {
		"nav", "header", "footer", "aside",
		".advertisement", ".ads", ".ad", ".cookie-banner",
		".newsletter-signup", ".related-articles", ".share-buttons",
	},
	domain.SourceBlog: {
		"nav", "header", "footer", "aside",
		".sidebar", ".comments", ".subscribe", ".author-bio",
	},
}

// Normalizer canonicalizes raw items into the pipeline's uniform shape.
type Normalizer struct{}

// New builds a Normalizer.
func New() *Normalizer {
	return &Normalizer{}
}

// Normalize cleans the raw item and computes its identity fingerprint.
// The fingerprint is deterministic for identical raw input and never
// depends on fetch time.
func (n *Normalizer) Normalize(raw domain.RawItem) (domain.CanonicalItem, error) {
	title := CleanText(raw.Title)
	body := cleanBody(raw.Body, raw.SourceType)

	if body == "" {
		return domain.CanonicalItem{}, &domain.NormalizationError{
			Source: raw.SourceName,
			Reason: "empty body after cleanup",
		}
	}

	canonicalURL := CanonicalURL(raw.URL)
	if title == "" && canonicalURL == "" {
		return domain.CanonicalItem{}, &domain.NormalizationError{
			Source: raw.SourceName,
			Reason: "item has neither title nor url",
		}
	}

	return domain.CanonicalItem{
		Identity:    Identity(raw.SourceType, canonicalURL, title, body),
		SourceName:  raw.SourceName,
		SourceType:  raw.SourceType,
		Title:       title,
		Body:        body,
		URL:         canonicalURL,
		PublishedAt: raw.PublishedAt,
		FetchedAt:   raw.FetchedAt,
	}, nil
}

// Identity fingerprints an item. The URL is preferred when present and
// stable; otherwise the title plus a bounded body prefix stands in.
func Identity(sourceType domain.SourceType, canonicalURL, title, body string) string {
	h := sha256.New()
	h.Write([]byte(sourceType))
	h.Write([]byte{0})
	if canonicalURL != "" {
		h.Write([]byte(canonicalURL))
	} else {
		h.Write([]byte(strings.ToLower(title)))
		h.Write([]byte{0})
		prefix := body
		if len(prefix) > identityBodyPrefix {
			prefix = prefix[:identityBodyPrefix]
		}
		h.Write([]byte(prefix))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CanonicalURL normalizes a URL for fingerprinting: lower-cased scheme and
// host, no fragment, tracking parameters removed. Returns "" for
// unparseable or relative URLs.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	q := u.Query()
	for key := range q {
		if strings.HasPrefix(strings.ToLower(key), "utm_") || key == "ref" || key == "fbclid" {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()

	return strings.TrimSuffix(u.String(), "/")
}

// CleanText collapses whitespace and strips any leftover markup tags.
func CleanText(s string) string {
	s = tagExpr.ReplaceAllString(s, " ")
	s = spaceExpr.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func cleanBody(body string, sourceType domain.SourceType) string {
	body = strings.TrimSpace(body)
	if body == "" {
		return ""
	}

	if strings.Contains(body, "<") && strings.Contains(body, ">") {
		if stripped, ok := stripBoilerplate(body, sourceType); ok {
			body = stripped
		}
	}

	return CleanText(body)
}

// stripBoilerplate parses a markup body and removes per-source-type
// navigation/ad blocks before extracting text.
func stripBoilerplate(markup string, sourceType domain.SourceType) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return "", false
	}

	for _, sel := range boilerplateSelectors[sourceType] {
		doc.Find(sel).Remove()
	}
	doc.Find("script, style, noscript, iframe").Remove()

	return doc.Text(), true
}
