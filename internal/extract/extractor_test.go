package extract

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"ResearchRadar/internal/domain"
)

type fakeModel struct {
	summary  string
	keywords []string
	err      error
}

func (m *fakeModel) Score(ctx context.Context, title, body string) (float64, error) {
	return 0, nil
}

func (m *fakeModel) Summarize(ctx context.Context, title, body string, minWords, maxWords int) (string, []string, error) {
	if m.err != nil {
		return "", nil, m.err
	}
	return m.summary, m.keywords, nil
}

func (m *fakeModel) Version() string { return "model-v1" }

func TestExtractNormalizesKeywords(t *testing.T) {
	t.Parallel()

	model := &fakeModel{
		summary:  " A study of chatbot therapy. ",
		keywords: []string{"Chatbot", "THERAPY", "chatbot", "", "llm", "mental health", "screening"},
	}
	e := New(model, Options{MaxKeywords: 4}, nil)

	insight, err := e.Extract(context.Background(), domain.CanonicalItem{Identity: "id-1"})
	if err != nil {
		t.Fatalf("Extract error: %v", err)
	}

	if insight.Failed {
		t.Fatal("insight unexpectedly flagged failed")
	}
	if insight.Summary != "A study of chatbot therapy." {
		t.Fatalf("unexpected summary: %q", insight.Summary)
	}

	want := []string{"chatbot", "therapy", "llm", "mental health"}
	if !reflect.DeepEqual(insight.Keywords, want) {
		t.Fatalf("keywords = %v, want %v", insight.Keywords, want)
	}
}

func TestExtractFailureIsDegradedNotFatal(t *testing.T) {
	t.Parallel()

	e := New(&fakeModel{err: fmt.Errorf("model down")}, Options{}, nil)

	insight, err := e.Extract(context.Background(), domain.CanonicalItem{Identity: "id-1"})
	if err != nil {
		t.Fatalf("Extract returned error instead of degraded insight: %v", err)
	}

	if !insight.Failed {
		t.Fatal("insight not flagged failed")
	}
	if insight.Summary != "" || len(insight.Keywords) != 0 {
		t.Fatalf("degraded insight carries content: %+v", insight)
	}
}

// stalledModel blocks until the call context expires.
type stalledModel struct{}

func (m *stalledModel) Score(ctx context.Context, title, body string) (float64, error) {
	return 0, nil
}

func (m *stalledModel) Summarize(ctx context.Context, title, body string, minWords, maxWords int) (string, []string, error) {
	<-ctx.Done()
	return "", nil, ctx.Err()
}

func (m *stalledModel) Version() string { return "model-v1" }

func TestExtractTimeoutIsDegradedNotFatal(t *testing.T) {
	t.Parallel()

	e := New(&stalledModel{}, Options{CallTimeout: 20 * time.Millisecond}, nil)

	insight, err := e.Extract(context.Background(), domain.CanonicalItem{Identity: "id-1"})
	if err != nil {
		t.Fatalf("Extract returned error instead of degraded insight: %v", err)
	}
	if !insight.Failed {
		t.Fatal("insight not flagged failed")
	}
}

func TestExtractPropagatesCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := New(&stalledModel{}, Options{}, nil)
	_, err := e.Extract(ctx, domain.CanonicalItem{Identity: "id-1"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNormalizeKeywordsEmptyInput(t *testing.T) {
	t.Parallel()

	if got := NormalizeKeywords(nil, 5); len(got) != 0 {
		t.Fatalf("expected empty set, got %v", got)
	}
}
