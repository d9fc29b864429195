package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kyra-dev/kyra/pkg/handler"
	"github.com/kyra-dev/kyra/pkg/httpclient"
)

const defaultSlackBaseURL = "https://slack.com/api"

// SlackHandler posts messages via chat.postMessage.
type SlackHandler struct {
	baseURL string
	client  *httpclient.Client
}

func NewSlackHandler(baseURL string) *SlackHandler {
	if baseURL == "" {
		baseURL = defaultSlackBaseURL
	}
	return &SlackHandler{
		baseURL: baseURL,
		client: httpclient.New(
			httpclient.WithMaxRetries(2),
			httpclient.WithHeaderParser(httpclient.ParseSlackHeaders),
		),
	}
}

func (h *SlackHandler) Info() handler.Info {
	return handler.Info{
		Name:        "Slack.post_message",
		Description: "Post a message to a Slack channel",
		Kind:        handler.KindBoth,
		Parameters: []handler.ParameterSpec{
			{Name: "channel", Type: handler.TypeString, Required: true,
				Description: "Channel id or name"},
			{Name: "text", Type: handler.TypeString, Required: true,
				Description: "Message text"},
			{Name: "thread_ts", Type: handler.TypeString,
				Description: "Parent message ts for threaded replies"},
		},
		Capabilities: []string{handler.CapabilityConnector},
	}
}

func (h *SlackHandler) Execute(ctx context.Context, params, creds map[string]any) (*handler.Result, error) {
	token, _ := creds["bot_token"].(string)
	if token == "" {
		return handler.Errorf("slack bot_token credential is required"), nil
	}
	channel, _ := params["channel"].(string)
	text, _ := params["text"].(string)
	if channel == "" || text == "" {
		return handler.Errorf("channel and text are required"), nil
	}

	payload := map[string]any{"channel": channel, "text": text}
	if ts, _ := params["thread_ts"].(string); ts != "" {
		payload["thread_ts"] = ts
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/chat.postMessage", bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := h.client.Do(req)
	// Slack reports errors as {ok: false} bodies; decode whenever a
	// response exists.
	if resp == nil {
		return handler.Errorf("slack request failed: %v", err), nil
	}
	defer resp.Body.Close()

	var apiResp struct {
		OK      bool   `json:"ok"`
		Error   string `json:"error"`
		Channel string `json:"channel"`
		TS      string `json:"ts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return handler.Errorf("slack returned unreadable response: %v", err), nil
	}
	if !apiResp.OK {
		return handler.Errorf("slack API error: %s", apiResp.Error), nil
	}

	return handler.Success(map[string]any{
		"channel": apiResp.Channel,
		"ts":      apiResp.TS,
	}), nil
}

var _ handler.Handler = (*SlackHandler)(nil)
