package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const DefaultOllamaURL = "http://localhost:11434"

type Ollama struct {
	baseURL       string
	numCtx        int
	keepAlive     string
	repeatPenalty float64
	client        *http.Client
}

// NewOllama returns a client for a local Ollama server. Per-call timeouts
// come from Params, so the HTTP client itself has none.
func NewOllama(cfg Config) *Ollama {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	return &Ollama{
		baseURL:       baseURL,
		numCtx:        cfg.NumCtx,
		keepAlive:     cfg.KeepAlive,
		repeatPenalty: cfg.RepeatPenalty,
		client:        &http.Client{},
	}
}

func (s *Ollama) Name() string {
	return NameOllama
}

type ollamaRequest struct {
	Model     string         `json:"model"`
	Prompt    string         `json:"prompt"`
	Stream    bool           `json:"stream"`
	KeepAlive string         `json:"keep_alive,omitempty"`
	Options   map[string]any `json:"options"`
}

func (s *Ollama) Generate(ctx context.Context, prompt string, p Params) (string, error) {
	if p.Model == "" {
		return "", &Error{Backend: s.Name(), Err: fmt.Errorf("model is required")}
	}
	ctx, cancel := withTimeout(ctx, p.Timeout)
	defer cancel()

	options := map[string]any{"temperature": p.Temperature}
	if p.MaxTokens > 0 {
		options["num_predict"] = p.MaxTokens
	}
	if s.numCtx > 0 {
		options["num_ctx"] = s.numCtx
	}
	if s.repeatPenalty > 0 {
		options["repeat_penalty"] = s.repeatPenalty
	}

	jsonData, err := json.Marshal(ollamaRequest{
		Model:     p.Model,
		Prompt:    prompt,
		Stream:    false,
		KeepAlive: s.keepAlive,
		Options:   options,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/generate", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", wrapErr(s.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &Error{Backend: s.Name(), StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", strings.TrimSpace(string(body)))}
	}

	var ollamaResp struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return "", wrapErr(s.Name(), fmt.Errorf("failed to decode response: %w", err))
	}
	if strings.TrimSpace(ollamaResp.Response) == "" {
		return "", &Error{Backend: s.Name(), Err: ErrEmptyResponse}
	}
	return ollamaResp.Response, nil
}

// Ping checks that the server answers /api/tags.
func (s *Ollama) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return wrapErr(s.Name(), fmt.Errorf("Ollama not available: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &Error{Backend: s.Name(), StatusCode: resp.StatusCode, Err: fmt.Errorf("Ollama returned status %d", resp.StatusCode)}
	}
	return nil
}
