package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// GeminiBaseURL is Google's OpenAI-compatible endpoint.
const GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// OpenAI talks to any OpenAI-compatible chat completions API through the
// official SDK. It also serves Gemini via GeminiBaseURL.
type OpenAI struct {
	name   string
	client openai.Client
}

func NewOpenAI(cfg Config) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	return &OpenAI{name: NameOpenAI, client: openai.NewClient(opts...)}
}

func (c *OpenAI) Name() string {
	return c.name
}

func (c *OpenAI) Generate(ctx context.Context, prompt string, p Params) (string, error) {
	if p.Model == "" {
		return "", &Error{Backend: c.name, Err: fmt.Errorf("model is required")}
	}
	ctx, cancel := withTimeout(ctx, p.Timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: p.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(p.Temperature),
	}
	if p.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.MaxTokens))
	}

	res, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", c.mapError(err)
	}
	if len(res.Choices) == 0 || strings.TrimSpace(res.Choices[0].Message.Content) == "" {
		return "", &Error{Backend: c.name, Err: ErrEmptyResponse}
	}
	return res.Choices[0].Message.Content, nil
}

// Ping lists models, which also validates the API key.
func (c *OpenAI) Ping(ctx context.Context) error {
	page, err := c.client.Models.List(ctx)
	if err != nil {
		return c.mapError(err)
	}
	if page == nil {
		return &Error{Backend: c.name, Err: fmt.Errorf("models list returned nil response")}
	}
	return nil
}

func (c *OpenAI) mapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.StatusCode)
		}
		return &Error{Backend: c.name, StatusCode: apiErr.StatusCode, Err: errors.New(msg)}
	}
	return wrapErr(c.name, err)
}
