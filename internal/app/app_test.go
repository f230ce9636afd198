package app

import (
	"context"
	"strings"
	"testing"

	"ResearchRadar/internal/config"
)

func TestNewRejectsMissingLLMKey(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	cfg.LLM.Endpoint = "https://api.example.com/v1/chat/completions"
	cfg.LLM.Model = "gpt-4o-mini"

	_, err := New(context.Background(), cfg, nil)
	if err == nil {
		t.Fatal("expected configuration error")
	}
	if !strings.Contains(err.Error(), "LLM_API_KEY") {
		t.Fatalf("error does not name the missing credential: %v", err)
	}
}

func TestNewRejectsMissingLLMModel(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	cfg.LLM.Endpoint = "https://api.example.com/v1/chat/completions"
	cfg.LLM.APIKey = "secret"

	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected configuration error")
	}
}
