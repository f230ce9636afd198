package relevance

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"ResearchRadar/internal/domain"
	"ResearchRadar/internal/ports"
)

// prefilterVersion labels verdicts produced without a model call.
const prefilterVersion = "prefilter"

// Filter is the two-stage relevance classifier: a cheap keyword prefilter
// rejects obviously off-topic items before the model is consulted.
type Filter struct {
	model       ports.ModelClient
	keywords    []string
	threshold   float64
	maxAttempts int
	baseDelay   time.Duration
	callTimeout time.Duration
	logger      *slog.Logger
}

var _ ports.Classifier = (*Filter)(nil)

// Options tune the filter; zero values fall back to safe defaults.
type Options struct {
	Keywords    []string
	Threshold   float64
	MaxAttempts int
	BaseDelay   time.Duration
	CallTimeout time.Duration
}

// NewFilter wires the model client behind the keyword prefilter.
func NewFilter(model ports.ModelClient, opts Options, logger *slog.Logger) *Filter {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 4
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}

	lowered := make([]string, 0, len(opts.Keywords))
	for _, kw := range opts.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			lowered = append(lowered, kw)
		}
	}

	return &Filter{
		model:       model,
		keywords:    lowered,
		threshold:   opts.Threshold,
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.BaseDelay,
		callTimeout: opts.CallTimeout,
		logger:      logger,
	}
}

// Classify scores the item against the topic rubric. Each model attempt
// runs under its own timeout, so a hung backend counts as a transient
// failure; exhausting retries yields a degraded negative verdict, never a
// dropped item. Only cancellation of ctx itself surfaces as an error.
func (f *Filter) Classify(ctx context.Context, item domain.CanonicalItem) (domain.RelevanceVerdict, error) {
	if !f.prefilterHit(item) {
		return domain.RelevanceVerdict{
			Identity:     item.Identity,
			Relevant:     false,
			Score:        0,
			ModelVersion: prefilterVersion,
			DecidedAt:    time.Now().UTC(),
		}, nil
	}

	score, err := f.scoreWithRetry(ctx, item)
	if err != nil {
		if ctx.Err() != nil {
			return domain.RelevanceVerdict{}, ctx.Err()
		}
		f.warn("classification degraded", "identity", item.Identity, "error", err)
		return domain.RelevanceVerdict{
			Identity:     item.Identity,
			Relevant:     false,
			Score:        0,
			ModelVersion: f.model.Version(),
			Degraded:     true,
			DecidedAt:    time.Now().UTC(),
		}, nil
	}

	return domain.RelevanceVerdict{
		Identity:     item.Identity,
		Relevant:     score >= f.threshold,
		Score:        score,
		ModelVersion: f.model.Version(),
		DecidedAt:    time.Now().UTC(),
	}, nil
}

// prefilterHit reports whether any topic keyword occurs in the title or
// body. An empty keyword list disables the prefilter.
func (f *Filter) prefilterHit(item domain.CanonicalItem) bool {
	if len(f.keywords) == 0 {
		return true
	}

	haystack := strings.ToLower(item.Title + " " + item.Body)
	for _, kw := range f.keywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

func (f *Filter) scoreWithRetry(ctx context.Context, item domain.CanonicalItem) (float64, error) {
	var score float64

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = f.baseDelay

	operation := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, f.callTimeout)
		s, err := f.model.Score(attemptCtx, item.Title, item.Body)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return err
			}
			var ce *domain.ClassificationError
			if errors.As(err, &ce) && !ce.Retryable {
				return backoff.Permanent(err)
			}
			return err
		}
		score = clamp(s)
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(f.maxAttempts-1)), ctx))
	if err != nil {
		return 0, &domain.ClassificationError{Identity: item.Identity, Err: err}
	}
	return score, nil
}

func clamp(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

func (f *Filter) warn(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Warn(msg, args...)
	}
}
