package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrorKind classifies a ProviderError for caller branching (§7).
type ErrorKind string

const (
	// ErrKindTransient covers 429/5xx/timeout — retried, then fell back.
	ErrKindTransient ErrorKind = "transient"
	// ErrKindAuth, ErrKindInvalidRequest, ErrKindContentPolicy are
	// non-retryable; the adapter surfaces them immediately (§4.6).
	ErrKindAuth           ErrorKind = "auth"
	ErrKindInvalidRequest ErrorKind = "invalid_request"
	ErrKindContentPolicy  ErrorKind = "content_policy"
	ErrKindExhausted      ErrorKind = "exhausted"
)

// ProviderError wraps a failed generation call with its classification and
// the correlation ID the caller can use to locate logs.
type ProviderError struct {
	Kind          ErrorKind
	CorrelationID string
	Err           error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error [%s] (correlation=%s): %v", e.Kind, e.CorrelationID, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsRetryable reports whether this error class should trigger a retry or
// provider fallback.
func (e *ProviderError) IsRetryable() bool {
	return e.Kind == ErrKindTransient || e.Kind == ErrKindExhausted
}

// RetryConfig bounds the retry/backoff/fallback behavior of RetryingClient.
// Defaults match §5's resource ceilings: at most 2 retries per provider,
// exponential backoff with jitter.
type RetryConfig struct {
	MaxAttemptsPerProvider int
	BaseBackoff            time.Duration
	MaxBackoff              time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttemptsPerProvider <= 0 {
		c.MaxAttemptsPerProvider = 3 // initial attempt + 2 retries
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 200 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	return c
}

// RetryingClient wraps a Primary client and an optional Secondary fallback,
// generalizing the bounded-retry-with-backoff pattern used elsewhere in this
// codebase for transient I/O failures to LLM chat completions. Suspension
// only happens inside CreateChatCompletion calls, preserving the
// single-suspension-point ordering guarantee of §5.
type RetryingClient struct {
	Primary   Client
	Secondary Client // optional; used after Primary is exhausted
	Config    RetryConfig
}

// CreateChatCompletion implements Client, retrying transient failures on
// Primary, then falling back to Secondary (if configured) with its own
// bounded retries. Non-retryable errors (auth, invalid-request,
// content-policy) return immediately without consuming a retry.
func (c *RetryingClient) CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	cfg := c.Config.withDefaults()
	correlationID := uuid.NewString()
	ctx = withCorrelationID(ctx, correlationID)

	resp, err := c.callWithRetry(ctx, c.Primary, request, cfg, correlationID)
	if err == nil {
		return resp, nil
	}
	var pe *ProviderError
	if !errors.As(err, &pe) || !pe.IsRetryable() || c.Secondary == nil {
		return openai.ChatCompletionResponse{}, err
	}
	log.Ctx(ctx).Warn().Str("correlation_id", correlationID).Msg("primary provider exhausted, falling back to secondary")
	return c.callWithRetry(ctx, c.Secondary, request, cfg, correlationID)
}

func (c *RetryingClient) callWithRetry(ctx context.Context, client Client, request openai.ChatCompletionRequest, cfg RetryConfig, correlationID string) (openai.ChatCompletionResponse, error) {
	if client == nil {
		return openai.ChatCompletionResponse{}, &ProviderError{Kind: ErrKindExhausted, CorrelationID: correlationID, Err: errors.New("no client configured")}
	}
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttemptsPerProvider; attempt++ {
		resp, err := client.CreateChatCompletion(ctx, request)
		if err == nil {
			return resp, nil
		}
		kind := classify(err)
		wrapped := &ProviderError{Kind: kind, CorrelationID: correlationID, Err: err}
		if kind != ErrKindTransient {
			return openai.ChatCompletionResponse{}, wrapped
		}
		lastErr = wrapped
		if attempt == cfg.MaxAttemptsPerProvider-1 {
			break
		}
		if sleepErr := sleepBackoff(ctx, attempt, cfg); sleepErr != nil {
			return openai.ChatCompletionResponse{}, sleepErr
		}
	}
	if lastErr == nil {
		lastErr = &ProviderError{Kind: ErrKindExhausted, CorrelationID: correlationID, Err: errors.New("unknown error")}
	} else if pe, ok := lastErr.(*ProviderError); ok {
		pe.Kind = ErrKindExhausted
	}
	return openai.ChatCompletionResponse{}, lastErr
}

func sleepBackoff(ctx context.Context, attempt int, cfg RetryConfig) error {
	backoff := cfg.BaseBackoff * time.Duration(1<<uint(attempt))
	if backoff > cfg.MaxBackoff {
		backoff = cfg.MaxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(backoff) + 1))
	select {
	case <-time.After(backoff/2 + jitter/2):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// classify maps an underlying error to a ProviderError kind. It inspects
// the error's string form for the status markers OpenAI-compatible servers
// report, since go-openai's APIError is not always available (e.g. from a
// local stub server).
func classify(err error) ErrorKind {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			return ErrKindAuth
		case apiErr.HTTPStatusCode == 400 || apiErr.HTTPStatusCode == 422:
			return ErrKindInvalidRequest
		case apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500:
			return ErrKindTransient
		}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "content_policy") || strings.Contains(msg, "content policy"):
		return ErrKindContentPolicy
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key"):
		return ErrKindAuth
	case strings.Contains(msg, "invalid request") || strings.Contains(msg, "bad request"):
		return ErrKindInvalidRequest
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "429") || strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "connection reset") || strings.Contains(msg, "eof"):
		return ErrKindTransient
	default:
		return ErrKindTransient
	}
}

type correlationIDKey struct{}

func withCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationID extracts the per-request correlation ID attached by
// RetryingClient, if any.
func CorrelationID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(correlationIDKey{}).(string)
	return v, ok
}
