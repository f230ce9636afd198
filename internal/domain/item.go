package domain

import "time"

// SourceType discriminates provider families with distinct fetch and
// cleanup behavior.
type SourceType string

const (
	SourceScientific SourceType = "scientific"
	SourceBook       SourceType = "book"
	SourceNews       SourceType = "news"
	SourceBlog       SourceType = "blog"
)

// RawItem is the provider-native payload handed over by a source adapter.
// It is consumed by normalization and discarded afterwards.
type RawItem struct {
	SourceName  string
	SourceType  SourceType
	Title       string
	Body        string
	URL         string
	Author      string
	PublishedAt time.Time
	FetchedAt   time.Time
}

// CanonicalItem is the normalized record the pipeline operates on.
// Identity is deterministic for identical raw input; the struct is never
// mutated after creation.
type CanonicalItem struct {
	Identity    string
	SourceName  string
	SourceType  SourceType
	Title       string
	Body        string
	URL         string
	PublishedAt time.Time
	FetchedAt   time.Time
}

// RelevanceVerdict is the filter decision for one item under one model
// version. Re-running with a new model version produces a new verdict.
type RelevanceVerdict struct {
	Identity     string
	Relevant     bool
	Score        float64
	ModelVersion string
	Degraded     bool
	DecidedAt    time.Time
}

// ExtractedInsight carries the summary and keyword set for a relevant item.
// Failed marks items delivered without extraction output.
type ExtractedInsight struct {
	Identity    string
	Summary     string
	Keywords    []string
	Failed      bool
	ExtractedAt time.Time
}

// SeenRecord is the durable dedup row for one identity.
type SeenRecord struct {
	Identity    string
	SourceType  SourceType
	Title       string
	URL         string
	FirstSeenAt time.Time
}

// ItemOutcome enumerates terminal per-item results within a run.
type ItemOutcome string

const (
	OutcomeDelivered ItemOutcome = "delivered"
	OutcomeDuplicate ItemOutcome = "duplicate"
	OutcomeFiltered  ItemOutcome = "filtered"
	OutcomeSkipped   ItemOutcome = "skipped"
	OutcomeFailed    ItemOutcome = "failed"
)

// SourceReport aggregates per-source counters for one run.
type SourceReport struct {
	Source           string
	Fetched          int
	Deduped          int
	Filtered         int
	Relevant         int
	Delivered        int
	Skipped          int
	Failed           int
	Degraded         int
	ExtractionFailed int
	Err              string
}

// RunReport is the terminal summary of one pipeline run.
type RunReport struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Sources    []SourceReport
	Aborted    bool
	Err        string
}

// Elapsed returns the wall-clock duration of the run.
func (r RunReport) Elapsed() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Totals sums the per-source counters into one SourceReport.
func (r RunReport) Totals() SourceReport {
	var t SourceReport
	t.Source = "total"
	for _, s := range r.Sources {
		t.Fetched += s.Fetched
		t.Deduped += s.Deduped
		t.Filtered += s.Filtered
		t.Relevant += s.Relevant
		t.Delivered += s.Delivered
		t.Skipped += s.Skipped
		t.Failed += s.Failed
		t.Degraded += s.Degraded
		t.ExtractionFailed += s.ExtractionFailed
	}
	return t
}
