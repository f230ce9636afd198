package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"ResearchRadar/internal/domain"
	"ResearchRadar/internal/normalize"
	"ResearchRadar/internal/ports"
)

type fakeSource struct {
	name  string
	typ   domain.SourceType
	items []domain.RawItem
	err   error
}

func (s *fakeSource) Name() string            { return s.name }
func (s *fakeSource) Type() domain.SourceType { return s.typ }

func (s *fakeSource) Fetch(ctx context.Context, since *time.Time, limit int) ([]domain.RawItem, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.items, nil
}

// memStore is an in-memory stand-in for the postgres store. failing makes
// every call return a StoreError, simulating an outage.
type memStore struct {
	mu        sync.Mutex
	seen      map[string]domain.SeenRecord
	delivered map[string]time.Time
	cursors   map[string]time.Time
	verdicts  []domain.RelevanceVerdict
	failing   bool
}

func newMemStore() *memStore {
	return &memStore{
		seen:      map[string]domain.SeenRecord{},
		delivered: map[string]time.Time{},
		cursors:   map[string]time.Time{},
	}
}

func (m *memStore) fail(op string) error {
	if m.failing {
		return &domain.StoreError{Op: op, Err: fmt.Errorf("connection refused")}
	}
	return nil
}

func (m *memStore) HasSeen(ctx context.Context, identity string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("has_seen"); err != nil {
		return false, err
	}
	_, ok := m.seen[identity]
	return ok, nil
}

func (m *memStore) MarkSeen(ctx context.Context, rec domain.SeenRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("mark_seen"); err != nil {
		return err
	}
	if _, ok := m.seen[rec.Identity]; !ok {
		m.seen[rec.Identity] = rec
	}
	return nil
}

func (m *memStore) IsDelivered(ctx context.Context, identity, sink string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("is_delivered"); err != nil {
		return false, err
	}
	_, ok := m.delivered[identity+"|"+sink]
	return ok, nil
}

func (m *memStore) MarkDelivered(ctx context.Context, identity, sink string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("mark_delivered"); err != nil {
		return err
	}
	key := identity + "|" + sink
	if _, ok := m.delivered[key]; !ok {
		m.delivered[key] = at
	}
	return nil
}

func (m *memStore) Cursor(ctx context.Context, source string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("cursor"); err != nil {
		return nil, err
	}
	if marker, ok := m.cursors[source]; ok {
		return &marker, nil
	}
	return nil, nil
}

func (m *memStore) SaveCursor(ctx context.Context, source string, marker time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("save_cursor"); err != nil {
		return err
	}
	m.cursors[source] = marker
	return nil
}

func (m *memStore) SaveVerdict(ctx context.Context, v domain.RelevanceVerdict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("save_verdict"); err != nil {
		return err
	}
	m.verdicts = append(m.verdicts, v)
	return nil
}

func (m *memStore) Latest(ctx context.Context, identity string) (*domain.RelevanceVerdict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("latest_verdict"); err != nil {
		return nil, err
	}
	for i := len(m.verdicts) - 1; i >= 0; i-- {
		if m.verdicts[i].Identity == identity {
			v := m.verdicts[i]
			return &v, nil
		}
	}
	return nil, nil
}

// titleClassifier marks items relevant when the title contains "relevant"
// and degrades items whose title contains "degraded".
type titleClassifier struct {
	calls int
}

func (c *titleClassifier) Classify(ctx context.Context, item domain.CanonicalItem) (domain.RelevanceVerdict, error) {
	c.calls++
	v := domain.RelevanceVerdict{
		Identity:     item.Identity,
		ModelVersion: "model-v1",
		DecidedAt:    time.Now().UTC(),
	}
	if strings.Contains(strings.ToLower(item.Title), "degraded") {
		v.Degraded = true
		return v, nil
	}
	if strings.Contains(strings.ToLower(item.Title), "relevant") {
		v.Relevant = true
		v.Score = 0.9
	}
	return v, nil
}

type recordingExtractor struct {
	calls []string
}

func (e *recordingExtractor) Extract(ctx context.Context, item domain.CanonicalItem) (domain.ExtractedInsight, error) {
	e.calls = append(e.calls, item.Identity)
	return domain.ExtractedInsight{
		Identity:    item.Identity,
		Summary:     "summary of " + item.Title,
		Keywords:    []string{"kw"},
		ExtractedAt: time.Now().UTC(),
	}, nil
}

type fakeSink struct {
	name  string
	err   error
	mu    sync.Mutex
	calls []string
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Deliver(ctx context.Context, item domain.CanonicalItem, insight domain.ExtractedInsight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.calls = append(s.calls, item.Identity)
	return nil
}

func rawItem(source string, typ domain.SourceType, title, url string) domain.RawItem {
	return domain.RawItem{
		SourceName:  source,
		SourceType:  typ,
		Title:       title,
		Body:        "Body text for " + title,
		URL:         url,
		PublishedAt: time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
		FetchedAt:   time.Date(2026, 8, 21, 6, 0, 0, 0, time.UTC),
	}
}

func newTestPipeline(store *memStore, classifier ports.Classifier, extractor ports.Extractor, sinks []ports.Notifiable, sources ...ports.Fetchable) *Pipeline {
	return NewPipeline(PipelineDeps{
		Sources:     sources,
		Normalizer:  normalize.New(),
		Dedup:       store,
		Cursors:     store,
		Classifier:  classifier,
		Verdicts:    store,
		Extractor:   extractor,
		Sinks:       sinks,
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		CallTimeout: time.Second,
	})
}

func TestRunScenarioRelevantIrrelevantDuplicate(t *testing.T) {
	t.Parallel()

	// A relevant, B irrelevant, C shares A's identity via the same URL
	// but arrives from a different outlet of the same type.
	src := &fakeSource{name: "news-a", typ: domain.SourceNews, items: []domain.RawItem{
		rawItem("news-a", domain.SourceNews, "Relevant chatbot study", "https://example.com/a"),
		rawItem("news-a", domain.SourceNews, "Quarterly earnings", "https://example.com/b"),
		rawItem("news-b", domain.SourceNews, "Relevant chatbot study (syndicated)", "https://example.com/a"),
	}}

	store := newMemStore()
	classifier := &titleClassifier{}
	extractor := &recordingExtractor{}
	sink := &fakeSink{name: "local"}

	p := newTestPipeline(store, classifier, extractor, []ports.Notifiable{sink}, src)

	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	got := report.Sources[0]
	if got.Fetched != 3 || got.Deduped != 1 || got.Filtered != 1 || got.Relevant != 1 || got.Delivered != 1 {
		t.Fatalf("unexpected counts: %+v", got)
	}
	if len(sink.calls) != 1 {
		t.Fatalf("sink called %d times, want 1", len(sink.calls))
	}
	// The duplicate must be rejected at the dedup stage, before the
	// classifier ever sees it.
	if classifier.calls != 2 {
		t.Fatalf("classifier called %d times, want 2", classifier.calls)
	}
}

func TestRunIsIdempotentAcrossRuns(t *testing.T) {
	t.Parallel()

	src := &fakeSource{name: "news", typ: domain.SourceNews, items: []domain.RawItem{
		rawItem("news", domain.SourceNews, "Relevant item", "https://example.com/a"),
	}}

	store := newMemStore()
	sink := &fakeSink{name: "local"}
	p := newTestPipeline(store, &titleClassifier{}, &recordingExtractor{}, []ports.Notifiable{sink}, src)

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	got := report.Sources[0]
	if got.Delivered != 0 || got.Deduped != 1 {
		t.Fatalf("second run not idempotent: %+v", got)
	}
	if len(sink.calls) != 1 {
		t.Fatalf("sink called %d times across two runs, want 1", len(sink.calls))
	}
}

func TestRunIsolatesNormalizationFailures(t *testing.T) {
	t.Parallel()

	items := make([]domain.RawItem, 0, 10)
	for i := 0; i < 9; i++ {
		items = append(items, rawItem("news", domain.SourceNews,
			fmt.Sprintf("Relevant story %d", i), fmt.Sprintf("https://example.com/%d", i)))
	}
	broken := rawItem("news", domain.SourceNews, "Broken", "https://example.com/broken")
	broken.Body = "   "
	items = append(items, broken)

	src := &fakeSource{name: "news", typ: domain.SourceNews, items: items}
	store := newMemStore()
	sink := &fakeSink{name: "local"}
	p := newTestPipeline(store, &titleClassifier{}, &recordingExtractor{}, []ports.Notifiable{sink}, src)

	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	got := report.Sources[0]
	if got.Skipped != 1 {
		t.Fatalf("skipped = %d, want 1", got.Skipped)
	}
	if got.Delivered != 9 {
		t.Fatalf("delivered = %d, want 9", got.Delivered)
	}
}

func TestGatekeepingIrrelevantItemsNeverExtractedNorDelivered(t *testing.T) {
	t.Parallel()

	src := &fakeSource{name: "news", typ: domain.SourceNews, items: []domain.RawItem{
		rawItem("news", domain.SourceNews, "Off topic piece", "https://example.com/a"),
	}}

	store := newMemStore()
	extractor := &recordingExtractor{}
	sink := &fakeSink{name: "local"}
	p := newTestPipeline(store, &titleClassifier{}, extractor, []ports.Notifiable{sink}, src)

	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if len(extractor.calls) != 0 {
		t.Fatalf("extractor called for irrelevant item: %v", extractor.calls)
	}
	if len(sink.calls) != 0 {
		t.Fatalf("sink called for irrelevant item: %v", sink.calls)
	}
	if report.Sources[0].Filtered != 1 {
		t.Fatalf("unexpected counts: %+v", report.Sources[0])
	}
}

func TestDegradedClassificationIsCountedAndNegative(t *testing.T) {
	t.Parallel()

	src := &fakeSource{name: "news", typ: domain.SourceNews, items: []domain.RawItem{
		rawItem("news", domain.SourceNews, "Degraded call", "https://example.com/a"),
	}}

	store := newMemStore()
	sink := &fakeSink{name: "local"}
	p := newTestPipeline(store, &titleClassifier{}, &recordingExtractor{}, []ports.Notifiable{sink}, src)

	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	got := report.Sources[0]
	if got.Degraded != 1 {
		t.Fatalf("degraded = %d, want 1", got.Degraded)
	}
	if got.Delivered != 0 {
		t.Fatal("degraded item was delivered")
	}
	if len(store.verdicts) != 1 || !store.verdicts[0].Degraded {
		t.Fatalf("degraded verdict not persisted: %+v", store.verdicts)
	}
}

func TestPermanentSinkFailureDoesNotAbortRun(t *testing.T) {
	t.Parallel()

	src := &fakeSource{name: "news", typ: domain.SourceNews, items: []domain.RawItem{
		rawItem("news", domain.SourceNews, "Relevant story", "https://example.com/a"),
	}}

	store := newMemStore()
	local := &fakeSink{name: "local"}
	tg := &fakeSink{name: "telegram", err: &domain.DeliveryError{
		Sink: "telegram", Retryable: false, Err: fmt.Errorf("unauthorized"),
	}}

	p := newTestPipeline(store, &titleClassifier{}, &recordingExtractor{}, []ports.Notifiable{local, tg}, src)

	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if report.Aborted {
		t.Fatal("run aborted on a per-sink failure")
	}

	got := report.Sources[0]
	if got.Delivered != 1 {
		t.Fatalf("delivered = %d, want 1 (local still succeeds)", got.Delivered)
	}

	if ok, _ := store.IsDelivered(context.Background(), localIdentity(store), "local"); !ok {
		t.Fatal("local delivery flag missing")
	}
	if ok, _ := store.IsDelivered(context.Background(), localIdentity(store), "telegram"); ok {
		t.Fatal("failed telegram delivery was marked delivered")
	}
}

func TestSeenButUndeliveredItemIsRedelivered(t *testing.T) {
	t.Parallel()

	src := &fakeSource{name: "news", typ: domain.SourceNews, items: []domain.RawItem{
		rawItem("news", domain.SourceNews, "Relevant story", "https://example.com/a"),
	}}

	store := newMemStore()
	sink := &fakeSink{name: "local", err: &domain.DeliveryError{
		Sink: "local", Retryable: false, Err: fmt.Errorf("disk full"),
	}}
	classifier := &titleClassifier{}
	p := newTestPipeline(store, classifier, &recordingExtractor{}, []ports.Notifiable{sink}, src)

	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if report.Sources[0].Failed != 1 {
		t.Fatalf("first run counts: %+v", report.Sources[0])
	}

	// Sink heals; the next run must retry delivery without reclassifying.
	sink.mu.Lock()
	sink.err = nil
	sink.mu.Unlock()

	report, err = p.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	got := report.Sources[0]
	if got.Delivered != 1 || got.Deduped != 0 {
		t.Fatalf("undelivered item not retried: %+v", got)
	}
	if classifier.calls != 1 {
		t.Fatalf("classifier calls = %d, want 1", classifier.calls)
	}
	if len(sink.calls) != 1 {
		t.Fatalf("sink deliveries = %d, want 1", len(sink.calls))
	}
}

// localIdentity pulls the single seen identity out of the store.
func localIdentity(store *memStore) string {
	store.mu.Lock()
	defer store.mu.Unlock()
	for id := range store.seen {
		return id
	}
	return ""
}

func TestStoreOutageAbortsRun(t *testing.T) {
	t.Parallel()

	src := &fakeSource{name: "news", typ: domain.SourceNews, items: []domain.RawItem{
		rawItem("news", domain.SourceNews, "Relevant story", "https://example.com/a"),
	}}

	store := newMemStore()
	store.failing = true
	p := newTestPipeline(store, &titleClassifier{}, &recordingExtractor{}, []ports.Notifiable{&fakeSink{name: "local"}}, src)

	report, err := p.Run(context.Background())
	if err == nil {
		t.Fatal("expected run-level error")
	}
	if !domain.IsStoreError(err) {
		t.Fatalf("expected StoreError, got %v", err)
	}
	if !report.Aborted {
		t.Fatal("report not marked aborted")
	}
}

func TestAllSourcesFailingAbortsRun(t *testing.T) {
	t.Parallel()

	bad := &domain.FetchError{Source: "news", Retryable: false, Err: fmt.Errorf("dns failure")}
	srcA := &fakeSource{name: "news-a", typ: domain.SourceNews, err: bad}
	srcB := &fakeSource{name: "news-b", typ: domain.SourceNews, err: bad}

	store := newMemStore()
	p := newTestPipeline(store, &titleClassifier{}, &recordingExtractor{}, []ports.Notifiable{&fakeSink{name: "local"}}, srcA, srcB)

	report, err := p.Run(context.Background())
	if err == nil {
		t.Fatal("expected run-level error")
	}
	if !report.Aborted {
		t.Fatal("report not marked aborted")
	}
}

func TestOneFailingSourceDoesNotAbortRun(t *testing.T) {
	t.Parallel()

	srcA := &fakeSource{name: "news-a", typ: domain.SourceNews, err: &domain.FetchError{
		Source: "news-a", Retryable: false, Err: fmt.Errorf("dns failure"),
	}}
	srcB := &fakeSource{name: "news-b", typ: domain.SourceNews, items: []domain.RawItem{
		rawItem("news-b", domain.SourceNews, "Relevant story", "https://example.com/a"),
	}}

	store := newMemStore()
	p := newTestPipeline(store, &titleClassifier{}, &recordingExtractor{}, []ports.Notifiable{&fakeSink{name: "local"}}, srcA, srcB)

	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if report.Sources[0].Err == "" {
		t.Fatal("failing source error not recorded")
	}
	if report.Sources[1].Delivered != 1 {
		t.Fatalf("healthy source did not deliver: %+v", report.Sources[1])
	}
}

func TestCursorAdvancesToNewestPublication(t *testing.T) {
	t.Parallel()

	older := rawItem("news", domain.SourceNews, "Relevant old", "https://example.com/a")
	older.PublishedAt = time.Date(2026, 8, 18, 0, 0, 0, 0, time.UTC)
	newer := rawItem("news", domain.SourceNews, "Relevant new", "https://example.com/b")
	newer.PublishedAt = time.Date(2026, 8, 22, 0, 0, 0, 0, time.UTC)

	src := &fakeSource{name: "news", typ: domain.SourceNews, items: []domain.RawItem{older, newer}}
	store := newMemStore()
	p := newTestPipeline(store, &titleClassifier{}, &recordingExtractor{}, []ports.Notifiable{&fakeSink{name: "local"}}, src)

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	marker, err := store.Cursor(context.Background(), "news")
	if err != nil {
		t.Fatalf("Cursor error: %v", err)
	}
	if marker == nil || !marker.Equal(newer.PublishedAt) {
		t.Fatalf("cursor = %v, want %v", marker, newer.PublishedAt)
	}
}

func TestCancellationStopsBetweenItems(t *testing.T) {
	t.Parallel()

	src := &fakeSource{name: "news", typ: domain.SourceNews, items: []domain.RawItem{
		rawItem("news", domain.SourceNews, "Relevant one", "https://example.com/a"),
		rawItem("news", domain.SourceNews, "Relevant two", "https://example.com/b"),
	}}

	store := newMemStore()
	ctx, cancel := context.WithCancel(context.Background())

	cancelling := &cancellingClassifier{inner: &titleClassifier{}, cancel: cancel}
	p := newTestPipeline(store, cancelling, &recordingExtractor{}, []ports.Notifiable{&fakeSink{name: "local"}}, src)

	report, err := p.Run(ctx)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if !report.Aborted {
		t.Fatal("report not marked aborted")
	}
	// The first item completed its classify/deliver before the signal was
	// honored; the second never started.
	if cancelling.inner.calls != 1 {
		t.Fatalf("classifier calls = %d, want 1", cancelling.inner.calls)
	}
}

// cancellingClassifier cancels the run context after its first decision.
type cancellingClassifier struct {
	inner  *titleClassifier
	cancel context.CancelFunc
}

func (c *cancellingClassifier) Classify(ctx context.Context, item domain.CanonicalItem) (domain.RelevanceVerdict, error) {
	v, err := c.inner.Classify(ctx, item)
	c.cancel()
	return v, err
}
