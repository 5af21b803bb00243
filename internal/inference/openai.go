// Package inference is the language-model collaborator used by llm nodes.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/vk/flowgridgo/internal/ctxlog"
	"github.com/vk/flowgridgo/internal/flowerr"
)

const (
	DefaultBaseURL          = "https://api.openai.com/v1"
	DefaultModel            = "gpt-4o-mini"
	chatCompletionsEndpoint = "/chat/completions"
)

// ErrNotConfigured is returned by a provider that has no API key.
var ErrNotConfigured = errors.New("API key is not set")

// Request is a single-turn generation request.
type Request struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
	// JSONOutput asks the model for a JSON object response.
	JSONOutput bool
}

// Response is the generated text and the model that produced it.
type Response struct {
	Text  string
	Model string
}

// Provider generates text. Every failure it returns wraps flowerr.ErrProvider.
type Provider interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Config configures an OpenAI-compatible client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAI calls an OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// NewOpenAI creates a client. Empty fields fall back to the public API and
// DefaultModel.
func NewOpenAI(cfg Config) *OpenAI {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &OpenAI{apiKey: cfg.APIKey, baseURL: baseURL, model: model, client: &http.Client{}}
}

// WithHTTPClient sets a custom HTTP client.
func (p *OpenAI) WithHTTPClient(c *http.Client) *OpenAI {
	p.client = c
	return p
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate implements Provider.
func (p *OpenAI) Generate(ctx context.Context, req Request) (*Response, error) {
	logger := ctxlog.FromContext(ctx)
	if p.apiKey == "" {
		return nil, fmt.Errorf("%w: %w", flowerr.ErrProvider, ErrNotConfigured)
	}

	model := req.Model
	if model == "" {
		model = p.model
	}
	body := chatRequest{
		Model:       model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.Prompt})
	if req.JSONOutput {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode request: %w", flowerr.ErrProvider, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+chatCompletionsEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %w", flowerr.ErrProvider, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	logger.Debug("Sending chat completion request.", "model", model)
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", flowerr.ErrProvider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", flowerr.ErrProvider, err)
	}

	var parsed chatResponse
	decodeErr := json.Unmarshal(raw, &parsed)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(raw))
		if decodeErr == nil && parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, fmt.Errorf("%w: status %d: %s", flowerr.ErrProvider, resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %w", flowerr.ErrProvider, decodeErr)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in response", flowerr.ErrProvider)
	}

	if parsed.Model != "" {
		model = parsed.Model
	}
	return &Response{Text: parsed.Choices[0].Message.Content, Model: model}, nil
}
