package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"ResearchRadar/internal/domain"
	"ResearchRadar/internal/ports"
)

// normalizer is the slice of the normalize package the pipeline consumes.
type normalizer interface {
	Normalize(raw domain.RawItem) (domain.CanonicalItem, error)
}

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Sources    []ports.Fetchable
	Limits     map[string]int
	Normalizer normalizer
	Dedup      ports.DedupStore
	Cursors    ports.CursorStore
	Classifier ports.Classifier
	Verdicts   ports.VerdictStore
	Extractor  ports.Extractor
	Sinks      []ports.Notifiable

	// CallTimeout bounds fetch and sink delivery calls. Classifier and
	// extractor carry their own per-attempt timeouts.
	MaxAttempts int
	BaseDelay   time.Duration
	CallTimeout time.Duration

	Logger *slog.Logger
}

// Pipeline implements the ingestion-and-relevance workflow: fetch,
// normalize, dedup, classify, extract, deliver, commit. Item-level
// failures are isolated; only store unavailability aborts a run.
type Pipeline struct {
	deps PipelineDeps
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	if deps.MaxAttempts <= 0 {
		deps.MaxAttempts = 4
	}
	if deps.BaseDelay <= 0 {
		deps.BaseDelay = 500 * time.Millisecond
	}
	if deps.CallTimeout <= 0 {
		deps.CallTimeout = 30 * time.Second
	}
	return &Pipeline{deps: deps}
}

// Run executes one pipeline pass over every configured source and returns
// the run report. The error is non-nil only for run-level failures (store
// unavailable, every source failing, cancellation); the report is valid
// either way.
func (p *Pipeline) Run(ctx context.Context) (domain.RunReport, error) {
	report := domain.RunReport{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	log := p.deps.Logger
	if log != nil {
		log = log.With("run_id", report.RunID)
	}

	var failedSources int
	for _, src := range p.deps.Sources {
		if err := ctx.Err(); err != nil {
			return p.abort(report, err)
		}

		srcReport, err := p.runSource(ctx, src, log)
		report.Sources = append(report.Sources, srcReport)

		if err != nil {
			if domain.IsStoreError(err) || errors.Is(err, context.Canceled) {
				return p.abort(report, err)
			}
			failedSources++
			p.warn(log, "source failed", "source", src.Name(), "error", err)
		}
	}

	if len(p.deps.Sources) > 0 && failedSources == len(p.deps.Sources) {
		return p.abort(report, fmt.Errorf("all %d sources failed", failedSources))
	}

	report.FinishedAt = time.Now().UTC()
	p.info(log, "run complete",
		"elapsed", report.Elapsed().Round(time.Millisecond).String(),
		"fetched", report.Totals().Fetched,
		"delivered", report.Totals().Delivered)
	return report, nil
}

func (p *Pipeline) abort(report domain.RunReport, err error) (domain.RunReport, error) {
	report.FinishedAt = time.Now().UTC()
	report.Aborted = true
	report.Err = err.Error()
	return report, err
}

// runSource processes one provider end to end, preserving fetch order so
// the since cursor stays monotonic.
func (p *Pipeline) runSource(ctx context.Context, src ports.Fetchable, log *slog.Logger) (domain.SourceReport, error) {
	srcReport := domain.SourceReport{Source: src.Name()}

	since, err := p.deps.Cursors.Cursor(ctx, src.Name())
	if err != nil {
		srcReport.Err = err.Error()
		return srcReport, err
	}

	items, err := p.fetchWithRetry(ctx, src, since)
	if err != nil {
		srcReport.Err = err.Error()
		return srcReport, err
	}
	srcReport.Fetched = len(items)
	p.debug(log, "source fetched", "source", src.Name(), "count", len(items))

	var maxPublished time.Time
	if since != nil {
		maxPublished = *since
	}

	for _, raw := range items {
		if err := ctx.Err(); err != nil {
			return srcReport, err
		}

		if raw.PublishedAt.After(maxPublished) {
			maxPublished = raw.PublishedAt
		}

		if err := p.processItem(ctx, raw, &srcReport, log); err != nil {
			return srcReport, err
		}
	}

	if !maxPublished.IsZero() {
		if err := p.deps.Cursors.SaveCursor(ctx, src.Name(), maxPublished); err != nil {
			srcReport.Err = err.Error()
			return srcReport, err
		}
	}

	return srcReport, nil
}

// processItem drives one raw item through normalize, dedup, classify,
// extract and deliver. A returned error is run-fatal; everything
// item-level is recorded in the report instead.
func (p *Pipeline) processItem(ctx context.Context, raw domain.RawItem, srcReport *domain.SourceReport, log *slog.Logger) error {
	item, err := p.deps.Normalizer.Normalize(raw)
	if err != nil {
		srcReport.Skipped++
		p.warn(log, "item skipped", "source", raw.SourceName, "error", err)
		return nil
	}

	seen, err := p.deps.Dedup.HasSeen(ctx, item.Identity)
	if err != nil {
		return err
	}
	if seen {
		redeliver, err := p.pendingRedelivery(ctx, item.Identity)
		if err != nil {
			return err
		}
		if !redeliver {
			srcReport.Deduped++
			p.debug(log, "item deduplicated", "identity", item.Identity)
			return nil
		}
		p.info(log, "retrying undelivered item", "identity", item.Identity)
		return p.deliverRelevant(ctx, item, srcReport, log)
	}

	if err := p.deps.Dedup.MarkSeen(ctx, domain.SeenRecord{
		Identity:    item.Identity,
		SourceType:  item.SourceType,
		Title:       item.Title,
		URL:         item.URL,
		FirstSeenAt: item.FetchedAt,
	}); err != nil {
		return err
	}

	verdict, err := p.deps.Classifier.Classify(ctx, item)
	if err != nil {
		return err
	}
	if verdict.Degraded {
		srcReport.Degraded++
		p.warn(log, "classification degraded", "identity", item.Identity)
	}
	if p.deps.Verdicts != nil {
		if err := p.deps.Verdicts.SaveVerdict(ctx, verdict); err != nil {
			return err
		}
	}

	if !verdict.Relevant {
		srcReport.Filtered++
		p.debug(log, "item filtered out", "identity", item.Identity, "score", verdict.Score)
		return nil
	}
	srcReport.Relevant++
	return p.deliverRelevant(ctx, item, srcReport, log)
}

// deliverRelevant runs extraction and sink delivery for an accepted item.
func (p *Pipeline) deliverRelevant(ctx context.Context, item domain.CanonicalItem, srcReport *domain.SourceReport, log *slog.Logger) error {
	insight, err := p.deps.Extractor.Extract(ctx, item)
	if err != nil {
		return err
	}
	if insight.Failed {
		srcReport.ExtractionFailed++
	}

	delivered, err := p.deliver(ctx, item, insight, log)
	if err != nil {
		return err
	}
	if delivered > 0 {
		srcReport.Delivered++
	} else {
		srcReport.Failed++
	}
	return nil
}

// pendingRedelivery reports whether a previously seen identity carries a
// relevant verdict yet never reached one of the configured sinks, in which
// case delivery is retried without reclassifying.
func (p *Pipeline) pendingRedelivery(ctx context.Context, identity string) (bool, error) {
	if p.deps.Verdicts == nil {
		return false, nil
	}
	verdict, err := p.deps.Verdicts.Latest(ctx, identity)
	if err != nil {
		return false, err
	}
	if verdict == nil || !verdict.Relevant {
		return false, nil
	}
	for _, sink := range p.deps.Sinks {
		done, err := p.deps.Dedup.IsDelivered(ctx, identity, sink.Name())
		if err != nil {
			return false, err
		}
		if !done {
			return true, nil
		}
	}
	return false, nil
}

// deliver pushes the item to every enabled sink, skipping sinks that
// already hold this identity. Returns the number of successful
// deliveries; a permanent sink failure affects that sink only.
func (p *Pipeline) deliver(ctx context.Context, item domain.CanonicalItem, insight domain.ExtractedInsight, log *slog.Logger) (int, error) {
	delivered := 0
	for _, sink := range p.deps.Sinks {
		done, err := p.deps.Dedup.IsDelivered(ctx, item.Identity, sink.Name())
		if err != nil {
			return delivered, err
		}
		if done {
			delivered++
			continue
		}

		err = p.retryTransient(ctx, func(callCtx context.Context) error {
			return sink.Deliver(callCtx, item, insight)
		})
		if err != nil {
			if domain.IsStoreError(err) {
				return delivered, err
			}
			p.warn(log, "sink delivery failed", "sink", sink.Name(), "identity", item.Identity, "error", err)
			continue
		}

		if err := p.deps.Dedup.MarkDelivered(ctx, item.Identity, sink.Name(), time.Now().UTC()); err != nil {
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}

func (p *Pipeline) fetchWithRetry(ctx context.Context, src ports.Fetchable, since *time.Time) ([]domain.RawItem, error) {
	limit := p.deps.Limits[src.Name()]

	var items []domain.RawItem
	err := p.retryTransient(ctx, func(callCtx context.Context) error {
		fetched, err := src.Fetch(callCtx, since, limit)
		if err != nil {
			return err
		}
		items = fetched
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// retryTransient runs fn under the per-call timeout with bounded
// exponential backoff. Non-retryable errors fail fast; a timed-out call
// counts as transient.
func (p *Pipeline) retryTransient(ctx context.Context, fn func(ctx context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.deps.BaseDelay

	operation := func() error {
		callCtx, cancel := context.WithTimeout(ctx, p.deps.CallTimeout)
		defer cancel()

		err := fn(callCtx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return err
		}
		if domain.IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	return backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(p.deps.MaxAttempts-1)), ctx))
}

func (p *Pipeline) debug(log *slog.Logger, msg string, args ...any) {
	if log != nil {
		log.Debug(msg, args...)
	}
}

func (p *Pipeline) info(log *slog.Logger, msg string, args ...any) {
	if log != nil {
		log.Info(msg, args...)
	}
}

func (p *Pipeline) warn(log *slog.Logger, msg string, args ...any) {
	if log != nil {
		log.Warn(msg, args...)
	}
}
