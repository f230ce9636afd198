package ports

import (
	"context"
	"time"

	"ResearchRadar/internal/domain"
)

// Fetchable pulls raw candidate items from one provider. Implementations
// handle provider pagination and rate limits; "no new items" is an empty
// slice, not an error.
type Fetchable interface {
	Name() string
	Type() domain.SourceType
	Fetch(ctx context.Context, since *time.Time, limit int) ([]domain.RawItem, error)
}

// DedupStore is the durable record of previously seen identities and
// per-sink delivery flags. MarkSeen and MarkDelivered must be atomic per
// identity.
type DedupStore interface {
	HasSeen(ctx context.Context, identity string) (bool, error)
	MarkSeen(ctx context.Context, rec domain.SeenRecord) error
	IsDelivered(ctx context.Context, identity, sink string) (bool, error)
	MarkDelivered(ctx context.Context, identity, sink string, at time.Time) error
}

// CursorStore persists the per-source resume marker between runs.
type CursorStore interface {
	Cursor(ctx context.Context, source string) (*time.Time, error)
	SaveCursor(ctx context.Context, source string, marker time.Time) error
}

// Classifier decides topical relevance for a normalized item.
type Classifier interface {
	Classify(ctx context.Context, item domain.CanonicalItem) (domain.RelevanceVerdict, error)
}

// VerdictStore keeps the per-model-version verdict history for audit.
// Latest returns nil when no verdict was ever recorded for the identity.
type VerdictStore interface {
	SaveVerdict(ctx context.Context, v domain.RelevanceVerdict) error
	Latest(ctx context.Context, identity string) (*domain.RelevanceVerdict, error)
}

// Extractor produces summary and keywords for relevant items.
type Extractor interface {
	Extract(ctx context.Context, item domain.CanonicalItem) (domain.ExtractedInsight, error)
}

// Notifiable delivers an accepted item to one destination. Deliver must be
// safe to call twice for the same identity.
type Notifiable interface {
	Name() string
	Deliver(ctx context.Context, item domain.CanonicalItem, insight domain.ExtractedInsight) error
}

// ModelClient is the raw LLM backend shared by classifier and extractor.
type ModelClient interface {
	Score(ctx context.Context, title, body string) (float64, error)
	Summarize(ctx context.Context, title, body string, minWords, maxWords int) (string, []string, error)
	Version() string
}

// Scheduler controls when pipeline runs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
