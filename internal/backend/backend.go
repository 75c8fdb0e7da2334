// Package backend wraps the LLM services a unit prompt can be sent to.
//
// Every backend implements Generator: one prompt in, one raw completion out.
// Transport failures, timeouts and non-2xx answers are reported as *Error so
// the unit processor can treat them as retry triggers.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

const (
	NameOllama = "ollama"
	NameOpenAI = "openai"
	NameGemini = "gemini"
)

// ErrEmptyResponse is returned when a backend answers 2xx with no text.
var ErrEmptyResponse = errors.New("backend returned an empty response")

// Params are the per-call generation parameters.
type Params struct {
	Model       string
	Temperature float64
	MaxTokens   int
	// Timeout bounds a single call; zero means the caller's context only.
	Timeout time.Duration
}

// Generator sends a prompt to an LLM and returns the raw completion.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string, p Params) (string, error)
}

// Pinger reports whether a backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Error describes a failed backend call.
type Error struct {
	Backend    string
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("%s: request timed out: %v", e.Backend, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: API returned status %d: %v", e.Backend, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Backend, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// wrapErr converts a transport error into *Error, detecting timeouts.
func wrapErr(backend string, err error) error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return err
	}
	timeout := errors.Is(err, context.DeadlineExceeded)
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		timeout = true
	}
	return &Error{Backend: backend, Timeout: timeout, Err: err}
}

// Config selects and configures a backend.
type Config struct {
	Name    string        `mapstructure:"name" json:"name"`
	BaseURL string        `mapstructure:"base_url" json:"base_url"`
	APIKey  string        `mapstructure:"api_key" json:"api_key"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
	// MaxRetries is the SDK transport retry count for hosted APIs. The unit
	// processor has its own retry loop, so the default is 0.
	MaxRetries int `mapstructure:"max_retries" json:"max_retries"`
	// Ollama-only options.
	NumCtx        int     `mapstructure:"num_ctx" json:"num_ctx"`
	KeepAlive     string  `mapstructure:"keep_alive" json:"keep_alive"`
	RepeatPenalty float64 `mapstructure:"repeat_penalty" json:"repeat_penalty"`
}

// Backend is a Generator that can also be health-checked.
type Backend interface {
	Generator
	Pinger
}

// New builds the backend named by cfg.Name.
func New(cfg Config) (Backend, error) {
	switch strings.ToLower(cfg.Name) {
	case NameOllama, "":
		return NewOllama(cfg), nil
	case NameOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai backend requires an API key")
		}
		return NewOpenAI(cfg), nil
	case NameGemini:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("gemini backend requires an API key")
		}
		if cfg.BaseURL == "" {
			cfg.BaseURL = GeminiBaseURL
		}
		c := NewOpenAI(cfg)
		c.name = NameGemini
		return c, nil
	}
	return nil, fmt.Errorf("unknown backend %q (want ollama, openai or gemini)", cfg.Name)
}

// WaitReady polls p until it answers or attempts run out, one delay apart.
func WaitReady(ctx context.Context, p Pinger, attempts uint, delay time.Duration, onRetry func(n uint, err error)) error {
	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	}
	if onRetry != nil {
		opts = append(opts, retry.OnRetry(onRetry))
	}
	return retry.Do(func() error { return p.Ping(ctx) }, opts...)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
