package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adpilot/adpilot-backend/internal/logger"
)

// GenerateRequest is the narrow contract with the content-generation
// collaborator. Content in the response is untrusted text: callers must go
// through ExtractJSON (or equivalent) with a fallback path.
type GenerateRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
	UserID    string `json:"user_id"`
}

type GenerateResponse struct {
	Content       string  `json:"content"`
	TokensUsed    int64   `json:"tokens_used"`
	EstimatedCost float64 `json:"estimated_cost"`
	Model         string  `json:"model"`
	FallbackUsed  bool    `json:"fallback_used"`
}

type AIClient interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

type aiClient struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
}

func NewAIClient(log *logger.Logger) (AIClient, error) {
	apiKey := os.Getenv("AI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("missing AI_API_KEY")
	}
	baseURL := os.Getenv("AI_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	timeoutSec := 60
	if v := os.Getenv("AI_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}
	maxRetries := 3
	if v := os.Getenv("AI_MAX_RETRIES"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed >= 0 {
			maxRetries = parsed
		}
	}
	return &aiClient{
		log:        log.With("service", "AIClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries: maxRetries,
	}, nil
}

type aiHTTPError struct {
	StatusCode int
	Body       string
}

func (e *aiHTTPError) Error() string {
	return fmt.Sprintf("ai http %d: %s", e.StatusCode, e.Body)
}

func isRetryableHTTP(code int) bool {
	if code == 408 || code == 429 {
		return true
	}
	return code >= 500 && code <= 599
}

func isRetryableErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var httpErr *aiHTTPError
	if errors.As(err, &httpErr) {
		return isRetryableHTTP(httpErr.StatusCode)
	}
	return false
}

func jitterSleep(base time.Duration) time.Duration {
	// +/- 20%
	if base <= 0 {
		return 0
	}
	delta := base.Seconds() * 0.2
	low := base.Seconds() - delta
	v := low + rand.Float64()*2*delta
	return time.Duration(v * float64(time.Second))
}

// Per-1M-token prices, used only for the usage ledger. Unknown models get
// the default rate.
var modelCostPerMillionTokens = map[string]float64{
	"gpt-4o":      5.00,
	"gpt-4o-mini": 0.30,
}

const defaultCostPerMillionTokens = 2.00

func estimateCost(model string, tokens int64) float64 {
	rate, ok := modelCostPerMillionTokens[model]
	if !ok {
		rate = defaultCostPerMillionTokens
	}
	return rate * float64(tokens) / 1000000
}

type completionRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	Messages  []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	User string `json:"user,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int64 `json:"total_tokens"`
	} `json:"usage"`
}

func (c *aiClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	if req.Model == "" {
		return nil, errors.New("model required")
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = 1024
	}
	body := completionRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		User:      req.UserID,
	}
	body.Messages = []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{
		{Role: "user", Content: req.Prompt},
	}

	var resp completionResponse
	if err := c.do(ctx, "/v1/chat/completions", body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("ai returned no choices")
	}
	return &GenerateResponse{
		Content:       resp.Choices[0].Message.Content,
		TokensUsed:    resp.Usage.TotalTokens,
		EstimatedCost: estimateCost(req.Model, resp.Usage.TotalTokens),
		Model:         req.Model,
	}, nil
}

func (c *aiClient) do(ctx context.Context, path string, body interface{}, out interface{}) error {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, path, body)
		if err == nil {
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("ai decode error: %w", uErr)
			}
			return nil
		}
		if !isRetryableErr(err) {
			return err
		}
		if attempt == c.maxRetries {
			return err
		}

		sleepFor := backoff
		if resp != nil {
			if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
				if secs, parseErr := strconv.Atoi(ra); parseErr == nil && secs > 0 {
					sleepFor = time.Duration(secs) * time.Second
				}
			}
		}
		if sleepFor > 10*time.Second {
			sleepFor = 10 * time.Second
		}
		sleepFor = jitterSleep(sleepFor)

		c.log.Warn("AI request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		time.Sleep(sleepFor)
		backoff *= 2
	}
	return fmt.Errorf("unreachable retry loop")
}

func (c *aiClient) doOnce(ctx context.Context, path string, body interface{}) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &aiHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

// ExtractJSON pulls a JSON object out of untrusted model output. It tolerates
// markdown fences and leading prose, and reports an error (never panics) when
// no parseable object is present.
func ExtractJSON(content string) (map[string]interface{}, error) {
	trimmed := strings.TrimSpace(content)
	if fenced := extractFenced(trimmed); fenced != "" {
		trimmed = fenced
	}
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object in content")
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &obj); err != nil {
		return nil, fmt.Errorf("malformed JSON in content: %w", err)
	}
	return obj, nil
}

func extractFenced(s string) string {
	open := strings.Index(s, "```")
	if open == -1 {
		return ""
	}
	rest := s[open+3:]
	if nl := strings.Index(rest, "\n"); nl != -1 {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end == -1 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}
