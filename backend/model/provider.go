package model

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/autoglm/autoagent/shared/resilience"
)

// Provider sends a conversation to one model endpoint and returns its
// free-text reply. Implementations must honor context cancellation.
type Provider interface {
	Name() string
	Invoke(ctx context.Context, model, systemPrompt string, messages []*Message, opts ...InvokeOption) (*Response, error)
}

type InvokeOptions struct {
	MaxTokens   int64
	Temperature float64
}

type InvokeOption func(*InvokeOptions)

func WithMaxTokens(n int64) InvokeOption {
	return func(o *InvokeOptions) {
		o.MaxTokens = n
	}
}

func WithTemperature(t float64) InvokeOption {
	return func(o *InvokeOptions) {
		o.Temperature = t
	}
}

func defaultInvokeOptions() *InvokeOptions {
	return &InvokeOptions{
		MaxTokens:   4096,
		Temperature: 0.3,
	}
}

type ProviderOptions struct {
	BaseURL        string
	RetryConfig    *resilience.RetryConfig
	CircuitBreaker *resilience.CircuitBreaker
}

type ProviderOption func(*ProviderOptions)

func WithBaseURL(url string) ProviderOption {
	return func(o *ProviderOptions) {
		o.BaseURL = url
	}
}

func WithRetryConfig(cfg *resilience.RetryConfig) ProviderOption {
	return func(o *ProviderOptions) {
		o.RetryConfig = cfg
	}
}

func WithCircuitBreaker(cb *resilience.CircuitBreaker) ProviderOption {
	return func(o *ProviderOptions) {
		o.CircuitBreaker = cb
	}
}

func DefaultProviderOptions(name string) *ProviderOptions {
	return &ProviderOptions{
		RetryConfig: &resilience.RetryConfig{
			MaxAttempts:       3,
			InitialDelay:      1 * time.Second,
			MaxDelay:          10 * time.Second,
			BackoffMultiplier: 2,
		},
		CircuitBreaker: resilience.NewCircuitBreaker(name, 5, 30*time.Second),
	}
}

// invokeWithResilience runs one provider call through the circuit breaker and
// retry policy. Only errors the provider classified as retryable are retried.
func invokeWithResilience(ctx context.Context, opts *ProviderOptions, fn func(context.Context) (*Response, error)) (*Response, error) {
	if opts.CircuitBreaker != nil && !opts.CircuitBreaker.Allow() {
		return nil, &ProviderError{
			Provider: opts.CircuitBreaker.Provider(),
			Kind:     ProviderErrorKindUnavailable,
			Err:      errors.New("circuit breaker open"),
		}
	}

	resp, err := resilience.Retry(ctx, opts.RetryConfig, func(ctx context.Context) (*Response, error) {
		resp, err := fn(ctx)
		if err != nil {
			var pe *ProviderError
			if errors.As(err, &pe) && !pe.Retryable() {
				return nil, resilience.Permanent(err)
			}
			return nil, err
		}
		return resp, nil
	})

	if opts.CircuitBreaker != nil {
		opts.CircuitBreaker.RecordResult(err)
	}

	return resp, err
}

type ProviderError struct {
	Provider   string
	Kind       ProviderErrorKind
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

type ProviderErrorKind string

const (
	ProviderErrorKindInvalidRequest    ProviderErrorKind = "invalid_request"
	ProviderErrorKindAuth              ProviderErrorKind = "auth"
	ProviderErrorKindRateLimitExceeded ProviderErrorKind = "rate_limit_exceeded"
	ProviderErrorKindOverloaded        ProviderErrorKind = "overloaded"
	ProviderErrorKindInternal          ProviderErrorKind = "internal"
	ProviderErrorKindTimeout           ProviderErrorKind = "timeout"
	ProviderErrorKindUnavailable       ProviderErrorKind = "unavailable"
	ProviderErrorKindUnknown           ProviderErrorKind = "unknown"
)

func NewProviderError(provider string, kind ProviderErrorKind, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}

// kindFromStatus maps an HTTP status to the error taxonomy shared by all
// chat-completion style providers.
func kindFromStatus(status int) ProviderErrorKind {
	switch {
	case status == 400 || status == 404 || status == 422:
		return ProviderErrorKindInvalidRequest
	case status == 401 || status == 403:
		return ProviderErrorKindAuth
	case status == 429:
		return ProviderErrorKindRateLimitExceeded
	case status == 503 || status == 529:
		return ProviderErrorKindOverloaded
	case status == 408 || status == 504:
		return ProviderErrorKindTimeout
	case status >= 500:
		return ProviderErrorKindInternal
	default:
		return ProviderErrorKindUnknown
	}
}

func (pe *ProviderError) Retryable() bool {
	switch pe.Kind {
	case ProviderErrorKindRateLimitExceeded,
		ProviderErrorKindOverloaded,
		ProviderErrorKindInternal,
		ProviderErrorKindTimeout:
		return true
	default:
		return false
	}
}

func (pe *ProviderError) Error() string {
	if pe.Err != nil {
		return fmt.Sprintf("%s: %s: %s", pe.Provider, pe.Kind, pe.Err.Error())
	}
	return fmt.Sprintf("%s: %s", pe.Provider, pe.Kind)
}

func (pe *ProviderError) Unwrap() error {
	return pe.Err
}
