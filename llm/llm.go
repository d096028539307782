package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"guru.chat/chat"
)

// ErrNotConfigured reports that the client could not be constructed, most
// commonly a missing API key. The server starts degraded in that case.
var ErrNotConfigured = errors.New("llm: OPENAI_API_KEY not configured")

// Message is the wire-format message for the chat completions API.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Config holds everything needed to talk to an OpenAI-compatible
// chat completions endpoint.
type Config struct {
	APIKey           string
	URL              string
	Model            string
	Temperature      float64
	MaxTokens        int
	TitleInstruction string
	Timeout          time.Duration
}

// Client calls an OpenAI-compatible chat completions endpoint. It holds no
// conversation state: every call carries the full history.
type Client struct {
	cfg        Config
	httpClient *http.Client
	audit      *Audit
	counter    *TokenCounter
}

// New constructs a client, or ErrNotConfigured when no API key is present.
// audit may be nil to disable interaction logging.
func New(cfg Config, audit *Audit) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	if cfg.URL == "" {
		cfg.URL = "https://api.openai.com/v1/chat/completions"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		audit:      audit,
		counter:    NewTokenCounter(),
	}, nil
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete sends the full ordered history plus the system instruction and
// returns the model's reply.
func (c *Client) Complete(ctx context.Context, history []chat.Turn, systemInstruction string) (string, error) {
	messages := make([]Message, 0, len(history)+1)
	if systemInstruction != "" {
		messages = append(messages, Message{Role: "system", Content: systemInstruction})
	}
	for _, t := range history {
		messages = append(messages, Message{Role: wireRole(t.Role), Content: t.Text})
	}
	return c.call(ctx, messages, c.cfg.MaxTokens, "")
}

// SummarizeTitle condenses the first user message into a short sidebar
// label via an independent completion call.
func (c *Client) SummarizeTitle(ctx context.Context, firstUserMessage string) (string, error) {
	const promptBudget = 100
	runes := []rune(firstUserMessage)
	if len(runes) > promptBudget {
		firstUserMessage = string(runes[:promptBudget])
	}
	messages := []Message{
		{Role: "system", Content: c.cfg.TitleInstruction},
		{Role: "user", Content: firstUserMessage},
	}
	title, err := c.call(ctx, messages, 16, "title")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.ReplaceAll(title, `"`, "")), nil
}

// call runs one completion request. kind tags the audit entry.
func (c *Client) call(ctx context.Context, messages []Message, maxTokens int, kind string) (string, error) {
	reqBody := chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   maxTokens,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.audit.Log(kind, c.cfg.Model, messages, "", 0, 0, err)
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read completion response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("completion API error (status %d): %s", resp.StatusCode, truncateBody(body))
		c.audit.Log(kind, c.cfg.Model, messages, "", 0, 0, err)
		return "", err
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parse completion response: %s", truncateBody(body))
	}
	if len(parsed.Choices) == 0 {
		err := errors.New("completion response held no choices")
		c.audit.Log(kind, c.cfg.Model, messages, "", 0, 0, err)
		return "", err
	}
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		err := errors.New("completion response was empty")
		c.audit.Log(kind, c.cfg.Model, messages, "", 0, 0, err)
		return "", err
	}

	inTok, outTok := c.usage(parsed, messages, content)
	c.audit.Log(kind, c.cfg.Model, messages, content, inTok, outTok, nil)
	return content, nil
}

// usage prefers the API's reported token counts and falls back to local
// tokenization when the endpoint omits them.
func (c *Client) usage(parsed chatResponse, messages []Message, content string) (int, int) {
	if parsed.Usage != nil {
		return parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens
	}
	in := 0
	for _, m := range messages {
		in += c.counter.Count(m.Content)
	}
	return in, c.counter.Count(content)
}

func wireRole(r chat.Role) string {
	if r == chat.RoleModel {
		return "assistant"
	}
	return "user"
}

func truncateBody(body []byte) string {
	const max = 400
	s := string(body)
	if len(s) > max {
		return s[:max]
	}
	return s
}
