package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adpilot/adpilot-backend/internal/logger"
)

type Client interface {
	CreateContact(ctx context.Context, req CreateContactRequest) (*Contact, error)
}

type CreateContactRequest struct {
	Email      string                 `json:"email"`
	Name       string                 `json:"name,omitempty"`
	Source     string                 `json:"source,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

type Contact struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// RateLimitedError carries the remote's Retry-After so the queue scheduler
// can honor it instead of guessing a backoff.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("crm rate limited, retry after %s", e.RetryAfter)
}

// ValidationError is a 4xx rejection: terminal, never retried.
type ValidationError struct {
	StatusCode int
	Body       string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("crm rejected request (%d): %s", e.StatusCode, e.Body)
}

// ServerError is a 5xx failure: retried with standard backoff.
type ServerError struct {
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("crm server error (%d): %s", e.StatusCode, e.Body)
}

type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

func ConfigFromEnv() Config {
	timeout := 30 * time.Second
	if v := strings.TrimSpace(os.Getenv("CRM_TIMEOUT_SECONDS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			timeout = time.Duration(parsed) * time.Second
		}
	}
	return Config{
		APIKey:  strings.TrimSpace(os.Getenv("CRM_API_KEY")),
		BaseURL: strings.TrimSpace(os.Getenv("CRM_BASE_URL")),
		Timeout: timeout,
	}
}

type client struct {
	log        *logger.Logger
	cfg        Config
	httpClient *http.Client
}

func New(log *logger.Logger, cfg Config) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing CRM_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.crm.example.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &client{
		log:        log.With("client", "CRM"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func NewFromEnv(log *logger.Logger) (Client, error) {
	return New(log, ConfigFromEnv())
}

func (c *client) CreateContact(ctx context.Context, req CreateContactRequest) (*Contact, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(req); err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/contacts", &buf)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &ServerError{StatusCode: 0, Body: err.Error()}
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, &ServerError{StatusCode: resp.StatusCode, Body: readErr.Error()}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := 60 * time.Second
		if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
			if secs, parseErr := strconv.Atoi(ra); parseErr == nil && secs > 0 {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return nil, &RateLimitedError{RetryAfter: retryAfter}
	case resp.StatusCode >= 500:
		return nil, &ServerError{StatusCode: resp.StatusCode, Body: string(raw)}
	case resp.StatusCode >= 400:
		return nil, &ValidationError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var contact Contact
	if err := json.Unmarshal(raw, &contact); err != nil {
		return nil, fmt.Errorf("crm decode error: %w", err)
	}
	return &contact, nil
}
