// Package llm is a minimal client for OpenAI-compatible chat completion APIs.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/clipmill/clipmill-agent/internal/httpx"
	"github.com/clipmill/clipmill-agent/internal/logging"
)

const chatCompletionsPath = "/chat/completions"

// ErrEmptyCompletion is returned when the upstream answered without content.
var ErrEmptyCompletion = errors.New("empty upstream completion")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func System(content string) Message { return Message{Role: "system", Content: content} }

func User(content string) Message { return Message{Role: "user", Content: content} }

func Assistant(content string) Message { return Message{Role: "assistant", Content: content} }

type Options struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	TopP        float64
	MaxTokens   int
	Timeout     time.Duration
}

type Client struct {
	baseURL string
	apiKey  string
	model   string
	temp    float64
	topP    float64
	maxTok  int
	http    *http.Client
	logger  *slog.Logger
}

func New(opts Options, logger *slog.Logger) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("llm: base_url required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("llm: model required")
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(opts.APIKey),
		model:   opts.Model,
		temp:    opts.Temperature,
		topP:    opts.TopP,
		maxTok:  opts.MaxTokens,
		http:    httpx.NewClient(opts.Timeout),
		logger:  logging.WithComponent(logger, "llm"),
	}, nil
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []Message      `json:"messages"`
	Temperature    float64        `json:"temperature"`
	TopP           float64        `json:"top_p,omitempty"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete sends messages and returns the first choice's content. With
// jsonMode the server is asked for a JSON object response.
func (c *Client) Complete(ctx context.Context, messages []Message, jsonMode bool) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("llm: no messages")
	}
	reqBody := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temp,
		TopP:        c.topP,
		MaxTokens:   c.maxTok,
	}
	if jsonMode {
		reqBody.ResponseFormat = map[string]any{"type": "json_object"}
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(reqBody); err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatCompletionsPath, &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", httpx.NewStatusError("llm", resp)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	for _, ch := range out.Choices {
		if strings.TrimSpace(ch.Message.Content) != "" {
			c.logger.Debug("completion received",
				"model", c.model,
				"finish_reason", ch.FinishReason,
				"prompt_tokens", out.Usage.PromptTokens,
				"completion_tokens", out.Usage.CompletionTokens,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return ch.Message.Content, nil
		}
	}
	return "", ErrEmptyCompletion
}
