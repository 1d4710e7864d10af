package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"counselor/models"
)

const maxErrorBody = 2048

// PerplexityService handles communication with the Perplexity chat completions API
type PerplexityService struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// PerplexityRequest represents a request to the chat completions endpoint
type PerplexityRequest struct {
	Model    string               `json:"model"`
	Messages []models.ChatMessage `json:"messages"`
}

// Citation is one web source returned with a completion. The API sends
// either {"url","title"} objects or bare URL strings.
type Citation struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// UnmarshalJSON accepts both citation shapes.
func (c *Citation) UnmarshalJSON(data []byte) error {
	var url string
	if err := json.Unmarshal(data, &url); err == nil {
		c.URL = url
		return nil
	}
	type plain Citation
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = Citation(p)
	return nil
}

// PerplexityResponse represents a response from the chat completions endpoint
type PerplexityResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role      string     `json:"role"`
			Content   string     `json:"content"`
			Citations []Citation `json:"citations,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Citations     []Citation `json:"citations,omitempty"`
	SearchResults []Citation `json:"search_results,omitempty"`
	Usage         struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Completion is the useful part of a successful call.
type Completion struct {
	Content   string
	Citations []Citation
}

// NewPerplexityService creates a client from cfg. Per-call deadlines come
// from the caller's context, so the http.Client has no timeout of its own.
func NewPerplexityService(cfg models.PerplexityConfig, client *http.Client) *PerplexityService {
	if client == nil {
		client = &http.Client{}
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.perplexity.ai"
	}
	model := cfg.Model
	if model == "" {
		model = "sonar-pro"
	}
	return &PerplexityService{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: client,
	}
}

// Complete sends messages and returns the first choice.
func (p *PerplexityService) Complete(ctx context.Context, messages []models.ChatMessage) (*Completion, error) {
	if p.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	jsonData, err := json.Marshal(PerplexityRequest{Model: p.model, Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
		}
		return nil, fmt.Errorf("failed to make request to Perplexity: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
		}
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text := strings.TrimSpace(string(body))
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return nil, newUpstreamError(resp.StatusCode, text)
	}

	var parsed PerplexityResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, ErrEmptyCompletion
	}

	msg := parsed.Choices[0].Message
	citations := msg.Citations
	if len(citations) == 0 {
		citations = parsed.Citations
	}
	if len(citations) == 0 {
		citations = parsed.SearchResults
	}

	return &Completion{Content: msg.Content, Citations: citations}, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsAvailable reports whether an API key is configured
func (p *PerplexityService) IsAvailable() bool {
	return p.apiKey != ""
}

// GetModel returns the current model
func (p *PerplexityService) GetModel() string {
	return p.model
}

// GetStatus returns the status of the Perplexity client
func (p *PerplexityService) GetStatus() map[string]interface{} {
	status := map[string]interface{}{
		"base_url": p.baseURL,
		"model":    p.model,
	}

	if p.IsAvailable() {
		status["status"] = "available"
		status["api_key"] = maskKey(p.apiKey)
	} else {
		status["status"] = "unavailable"
		status["error"] = "PERPLEXITY_API_KEY not set"
	}
	return status
}

func maskKey(key string) string {
	if len(key) > 8 {
		return key[:4] + "..." + key[len(key)-4:]
	}
	return "***"
}
