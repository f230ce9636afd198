package storage

import (
	"context"
	"strings"

	"ResearchRadar/internal/domain"
	"ResearchRadar/internal/ports"
)

// LocalSinkName identifies the archive sink in delivery records.
const LocalSinkName = "local"

// LocalSink archives accepted items into the shared database. Upsert makes
// a second delivery of the same identity a harmless overwrite. A failure
// here means the database itself is unhealthy, so it surfaces as a
// StoreError and aborts the run.
type LocalSink struct {
	store *Store
}

var _ ports.Notifiable = (*LocalSink)(nil)

// NewLocalSink builds the archive sink on the shared store.
func NewLocalSink(store *Store) *LocalSink {
	return &LocalSink{store: store}
}

// Name identifies the sink in delivery flags.
func (l *LocalSink) Name() string {
	return LocalSinkName
}

// Deliver writes the item and its insight into the archive table.
func (l *LocalSink) Deliver(ctx context.Context, item domain.CanonicalItem, insight domain.ExtractedInsight) error {
	keywords := strings.Join(insight.Keywords, ",")
	if err := l.store.archive(ctx, item, insight, keywords); err != nil {
		return &domain.StoreError{Op: "archive", Err: err}
	}
	return nil
}
