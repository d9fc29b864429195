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

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider speaks the chat completions API.
type OpenAIProvider struct {
	apiKey  string
	baseURL string
	client  *httpclient.Client
}

type OpenAIOption func(*OpenAIProvider)

// WithOpenAIBaseURL points the provider at a proxy or compatible server.
func WithOpenAIBaseURL(baseURL string) OpenAIOption {
	return func(p *OpenAIProvider) {
		p.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

func WithOpenAIHTTPClient(client *httpclient.Client) OpenAIOption {
	return func(p *OpenAIProvider) {
		p.client = client
	}
}

func NewOpenAIProvider(apiKey string, opts ...OpenAIOption) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	p := &OpenAIProvider{
		apiKey:  apiKey,
		baseURL: defaultOpenAIBaseURL,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 120 * time.Second}),
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
		),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Close() error { return nil }

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

type openaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openaiTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Tools       []openaiTool    `json:"tools,omitempty"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_completion_tokens,omitempty"`
}

type openaiResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      openaiMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (p *OpenAIProvider) Chat(ctx context.Context, req *Request) (*Response, error) {
	wire := openaiRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	for _, m := range req.Messages {
		om := openaiMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Arguments)
			if err != nil {
				return nil, fmt.Errorf("failed to encode tool call arguments: %w", err)
			}
			otc := openaiToolCall{ID: tc.ID, Type: "function"}
			otc.Function.Name = tc.Name
			otc.Function.Arguments = string(args)
			om.ToolCalls = append(om.ToolCalls, otc)
		}
		wire.Messages = append(wire.Messages, om)
	}

	for _, t := range req.Tools {
		ot := openaiTool{Type: "function"}
		ot.Function.Name = t.Name
		ot.Function.Description = t.Description
		ot.Function.Parameters = t.Parameters
		wire.Tools = append(wire.Tools, ot)
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	// Non-2xx responses arrive with an error attached; the body still
	// carries the API error detail, so decode whenever a response exists.
	if resp == nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var out openaiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || out.Error != nil {
		apiErr := &APIError{Provider: "openai", StatusCode: resp.StatusCode}
		if out.Error != nil {
			apiErr.Type = out.Error.Type
			apiErr.Message = out.Error.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return nil, apiErr
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	choice := out.Choices[0]
	result := &Response{
		Text:         choice.Message.Content,
		Model:        out.Model,
		FinishReason: choice.FinishReason,
		Usage: Usage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		args := make(map[string]any)
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("failed to decode tool call arguments for %s: %w", tc.Function.Name, err)
			}
		}
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return result, nil
}

var _ Provider = (*OpenAIProvider)(nil)
