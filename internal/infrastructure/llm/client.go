package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ResearchRadar/internal/config"
	"ResearchRadar/internal/domain"
	"ResearchRadar/internal/ports"
)

const scoringRubric = `You review content items for a researcher tracking ` +
	`applications of large language models in mental health care. Rate how ` +
	`relevant the item is to that topic on a scale from 0.0 (unrelated) to ` +
	`1.0 (directly about LLMs in mental health). Respond with JSON: ` +
	`{"score": <number>}`

const extractionPrompt = `Summarize the following item in %d to %d words ` +
	`and list up to 10 salient keywords. Respond with JSON: ` +
	`{"summary": "<text>", "keywords": ["<kw>", ...]}`

// Client talks to an OpenAI-compatible chat completions API for relevance
// scoring and insight extraction. Temperature is pinned to 0 so verdicts
// are reproducible for a fixed model version.
type Client struct {
	endpoint   string
	model      string
	apiKey     string
	httpClient *http.Client
}

var _ ports.ModelClient = (*Client)(nil)

// NewClient builds a client from configuration.
func NewClient(cfg config.LLMConfig, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint:   cfg.Endpoint,
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Version identifies the pinned model for verdict audit.
func (c *Client) Version() string {
	return c.model
}

// Score rates topical relevance in [0,1].
func (c *Client) Score(ctx context.Context, title, body string) (float64, error) {
	content, err := c.complete(ctx, scoringRubric, userPayload(title, body))
	if err != nil {
		return 0, err
	}

	var parsed struct {
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal(extractJSON(content), &parsed); err != nil {
		return 0, &domain.ClassificationError{
			Retryable: false,
			Err:       fmt.Errorf("malformed score response: %w", err),
		}
	}
	return parsed.Score, nil
}

// Summarize produces a bounded summary and keyword candidates.
func (c *Client) Summarize(ctx context.Context, title, body string, minWords, maxWords int) (string, []string, error) {
	prompt := fmt.Sprintf(extractionPrompt, minWords, maxWords)
	content, err := c.complete(ctx, prompt, userPayload(title, body))
	if err != nil {
		return "", nil, err
	}

	var parsed struct {
		Summary  string   `json:"summary"`
		Keywords []string `json:"keywords"`
	}
	if err := json.Unmarshal(extractJSON(content), &parsed); err != nil {
		return "", nil, fmt.Errorf("malformed extraction response: %w", err)
	}
	return parsed.Summary, parsed.Keywords, nil
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return "", &domain.ClassificationError{
			Retryable: false,
			Err:       fmt.Errorf("llm client misconfigured"),
		}
	}

	body, err := json.Marshal(map[string]any{
		"model":       c.model,
		"temperature": 0,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal llm payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &domain.ClassificationError{Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		apiErr := fmt.Errorf("llm error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
		return "", &domain.ClassificationError{
			Retryable: resp.StatusCode >= http.StatusInternalServerError ||
				resp.StatusCode == http.StatusTooManyRequests,
			Err: apiErr,
		}
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", &domain.ClassificationError{
			Retryable: true,
			Err:       fmt.Errorf("completion has no choices"),
		}
	}

	return completion.Choices[0].Message.Content, nil
}

func userPayload(title, body string) string {
	const bodyLimit = 6000
	if len(body) > bodyLimit {
		body = body[:bodyLimit]
	}
	raw, _ := json.Marshal(map[string]string{"title": title, "body": body})
	return string(raw)
}

// extractJSON tolerates models that wrap JSON in markdown fences or prose.
func extractJSON(content string) []byte {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start >= 0 && end > start {
		return []byte(content[start : end+1])
	}
	return []byte(content)
}
