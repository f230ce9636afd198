package extract

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"ResearchRadar/internal/domain"
	"ResearchRadar/internal/ports"
)

// Extractor produces summaries and keyword sets for relevant items.
// Extraction failure is non-fatal: the item is still delivered with an
// empty insight and the Failed flag set.
type Extractor struct {
	model       ports.ModelClient
	minWords    int
	maxWords    int
	maxKeywords int
	callTimeout time.Duration
	logger      *slog.Logger
}

var _ ports.Extractor = (*Extractor)(nil)

// Options bound summary length, keyword count and per-call time.
type Options struct {
	SummaryMinWords int
	SummaryMaxWords int
	MaxKeywords     int
	CallTimeout     time.Duration
}

// New wires the model client with output bounds.
func New(model ports.ModelClient, opts Options, logger *slog.Logger) *Extractor {
	if opts.SummaryMinWords <= 0 {
		opts.SummaryMinWords = 40
	}
	if opts.SummaryMaxWords <= 0 {
		opts.SummaryMaxWords = 120
	}
	if opts.MaxKeywords <= 0 {
		opts.MaxKeywords = 8
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	return &Extractor{
		model:       model,
		minWords:    opts.SummaryMinWords,
		maxWords:    opts.SummaryMaxWords,
		maxKeywords: opts.MaxKeywords,
		callTimeout: opts.CallTimeout,
		logger:      logger,
	}
}

// Extract asks the model for a bounded summary and keywords. The call runs
// under its own timeout; on any failure short of ctx being cancelled it
// returns a degraded insight rather than an error so delivery proceeds.
func (e *Extractor) Extract(ctx context.Context, item domain.CanonicalItem) (domain.ExtractedInsight, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	summary, keywords, err := e.model.Summarize(callCtx, item.Title, item.Body, e.minWords, e.maxWords)
	if err != nil {
		if ctx.Err() != nil {
			return domain.ExtractedInsight{}, ctx.Err()
		}
		e.warn("extraction failed", "identity", item.Identity, "error", err)
		return domain.ExtractedInsight{
			Identity:    item.Identity,
			Failed:      true,
			ExtractedAt: time.Now().UTC(),
		}, nil
	}

	return domain.ExtractedInsight{
		Identity:    item.Identity,
		Summary:     strings.TrimSpace(summary),
		Keywords:    NormalizeKeywords(keywords, e.maxKeywords),
		ExtractedAt: time.Now().UTC(),
	}, nil
}

// NormalizeKeywords lower-cases, deduplicates and truncates the keyword set
// to at most limit entries, preserving the model's salience order.
func NormalizeKeywords(raw []string, limit int) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(raw))
	for _, kw := range raw {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
		if len(out) == limit {
			break
		}
	}
	return out
}

func (e *Extractor) warn(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Warn(msg, args...)
	}
}
