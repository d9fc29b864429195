package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kyra-dev/kyra/pkg/httpclient"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion        = "2023-06-01"
	anthropicDefaultMax     = 4096
)

// AnthropicProvider speaks the messages API. System messages are lifted
// out of the conversation into the top-level system field; tool results
// travel as tool_result content blocks on user turns.
type AnthropicProvider struct {
	apiKey  string
	baseURL string
	client  *httpclient.Client
}

type AnthropicOption func(*AnthropicProvider)

func WithAnthropicBaseURL(baseURL string) AnthropicOption {
	return func(p *AnthropicProvider) {
		p.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

func WithAnthropicHTTPClient(client *httpclient.Client) AnthropicOption {
	return func(p *AnthropicProvider) {
		p.client = client
	}
}

func NewAnthropicProvider(apiKey string, opts ...AnthropicOption) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	p := &AnthropicProvider{
		apiKey:  apiKey,
		baseURL: defaultAnthropicBaseURL,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 120 * time.Second}),
			httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
		),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Close() error { return nil }

type anthropicContent struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	Temperature float64            `json:"temperature"`
	MaxTokens   int                `json:"max_tokens"`
}

type anthropicResponse struct {
	Model      string             `json:"model"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *AnthropicProvider) Chat(ctx context.Context, req *Request) (*Response, error) {
	wire := anthropicRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if wire.MaxTokens <= 0 {
		wire.MaxTokens = anthropicDefaultMax
	}

	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			if wire.System != "" {
				wire.System += "\n\n"
			}
			wire.System += m.Content

		case RoleTool:
			wire.Messages = append(wire.Messages, anthropicMessage{
				Role: "user",
				Content: []anthropicContent{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.Content,
				}},
			})

		case RoleAssistant:
			var content []anthropicContent
			if m.Content != "" {
				content = append(content, anthropicContent{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				content = append(content, anthropicContent{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: tc.Arguments,
				})
			}
			wire.Messages = append(wire.Messages, anthropicMessage{Role: "assistant", Content: content})

		default:
			wire.Messages = append(wire.Messages, anthropicMessage{
				Role:    "user",
				Content: []anthropicContent{{Type: "text", Text: m.Content}},
			})
		}
	}

	for _, t := range req.Tools {
		wire.Tools = append(wire.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.client.Do(httpReq)
	// Same contract as the other providers: a response alongside an error
	// still carries the API error body.
	if resp == nil {
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var out anthropicResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || out.Error != nil {
		apiErr := &APIError{Provider: "anthropic", StatusCode: resp.StatusCode}
		if out.Error != nil {
			apiErr.Type = out.Error.Type
			apiErr.Message = out.Error.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return nil, apiErr
	}

	result := &Response{
		Model:        out.Model,
		FinishReason: out.StopReason,
		Usage: Usage{
			PromptTokens:     out.Usage.InputTokens,
			CompletionTokens: out.Usage.OutputTokens,
			TotalTokens:      out.Usage.InputTokens + out.Usage.OutputTokens,
		},
	}
	for _, block := range out.Content {
		switch block.Type {
		case "text":
			result.Text += block.Text
		case "tool_use":
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}
	return result, nil
}

var _ Provider = (*AnthropicProvider)(nil)
