package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/semantic-explorer/viz-worker/pkg/types"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// cohereChat performs a single-shot chat completion against Cohere's v2
// chat API. No retries: external provider errors fall through to the
// per-cluster fallback.
func (n *Namer) cohereChat(ctx context.Context, prompt string, cfg *types.LLMConfig, opts Options) (string, error) {
	body := map[string]any{
		"model":       cfg.Model,
		"messages":    []chatMessage{{Role: "user", Content: prompt}},
		"max_tokens":  opts.MaxTokens,
		"temperature": opts.Temperature,
	}

	var res struct {
		Message struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"message"`
	}
	headers := map[string]string{"Authorization": "Bearer " + cfg.APIKey}
	if err := n.post(ctx, n.cohereURL, headers, body, &res); err != nil {
		return "", fmt.Errorf("cohere chat: %w", err)
	}

	for _, item := range res.Message.Content {
		if item.Type == "text" && item.Text != "" {
			return item.Text, nil
		}
	}
	return "", fmt.Errorf("cohere chat: response carried no text content")
}

// openaiChat performs a single-shot chat completion against OpenAI's chat
// completions API. No retries.
func (n *Namer) openaiChat(ctx context.Context, prompt string, cfg *types.LLMConfig, opts Options) (string, error) {
	body := map[string]any{
		"model":       cfg.Model,
		"messages":    []chatMessage{{Role: "user", Content: prompt}},
		"max_tokens":  opts.MaxTokens,
		"temperature": opts.Temperature,
	}

	var res struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	headers := map[string]string{"Authorization": "Bearer " + cfg.APIKey}
	if err := n.post(ctx, n.openaiURL, headers, body, &res); err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}

	if len(res.Choices) == 0 || res.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("openai chat: response carried no choices")
	}
	return res.Choices[0].Message.Content, nil
}

// internalChat posts to the in-cluster inference endpoint. A 503 means the
// generation queue is congested and is retried with exponential backoff
// (2^attempt seconds, ±10% jitter) up to 5 attempts; any other HTTP error
// is terminal for the call.
func (n *Namer) internalChat(ctx context.Context, prompt string, cfg *types.LLMConfig, opts Options) (string, error) {
	body := map[string]any{
		"model":       cfg.Model,
		"messages":    []chatMessage{{Role: "user", Content: prompt}},
		"max_tokens":  opts.MaxTokens,
		"temperature": opts.Temperature,
	}

	var res struct {
		Message chatMessage `json:"message"`
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = n.retryInterval
	policy.Multiplier = 2
	policy.RandomizationFactor = 0.1
	policy.MaxInterval = 30 * time.Second

	attempt := 0
	operation := func() error {
		attempt++
		err := n.post(ctx, n.internalBaseURL+"/api/chat", nil, body, &res)
		if err == nil {
			return nil
		}
		var herr *httpError
		if errors.As(err, &herr) && herr.status == http.StatusServiceUnavailable {
			n.logger.Warn().Int("attempt", attempt).Msg("internal llm endpoint congested, retrying")
			return err
		}
		return backoff.Permanent(err)
	}

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, 4), ctx)); err != nil {
		return "", fmt.Errorf("internal chat: %w", err)
	}
	if res.Message.Content == "" {
		return "", fmt.Errorf("internal chat: response carried no content")
	}
	return res.Message.Content, nil
}

// httpError carries the status code for retry classification.
type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("status %d: %s", e.status, e.body)
}

func (n *Namer) post(ctx context.Context, url string, headers map[string]string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &httpError{status: resp.StatusCode, body: strings.TrimSpace(string(raw))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
