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

const defaultTelegramBaseURL = "https://api.telegram.org"

// TelegramHandler sends messages through the Telegram Bot API. The bot
// token arrives via creds, never via params.
type TelegramHandler struct {
	baseURL string
	client  *httpclient.Client
}

func NewTelegramHandler(baseURL string) *TelegramHandler {
	if baseURL == "" {
		baseURL = defaultTelegramBaseURL
	}
	return &TelegramHandler{
		baseURL: baseURL,
		client:  httpclient.New(httpclient.WithMaxRetries(2)),
	}
}

func (h *TelegramHandler) Info() handler.Info {
	return handler.Info{
		Name:        "Telegram.send_message",
		Description: "Send a message to a Telegram chat",
		Kind:        handler.KindBoth,
		Parameters: []handler.ParameterSpec{
			{Name: "chat_id", Type: handler.TypeString, Required: true,
				Description: "Target chat id or @channelusername"},
			{Name: "message", Type: handler.TypeString, Required: true,
				Description: "Message text"},
			{Name: "parse_mode", Type: handler.TypeString,
				Description: "Markdown, MarkdownV2, or HTML"},
		},
		Capabilities: []string{handler.CapabilityConnector},
	}
}

func (h *TelegramHandler) Execute(ctx context.Context, params, creds map[string]any) (*handler.Result, error) {
	token, _ := creds["bot_token"].(string)
	if token == "" {
		return handler.Errorf("telegram bot_token credential is required"), nil
	}
	chatID := fmt.Sprintf("%v", params["chat_id"])
	text, _ := params["message"].(string)
	if chatID == "" || chatID == "<nil>" || text == "" {
		return handler.Errorf("chat_id and message are required"), nil
	}

	// The Bot API field is named text.
	payload := map[string]any{"chat_id": chatID, "text": text}
	if mode, _ := params["parse_mode"].(string); mode != "" {
		payload["parse_mode"] = mode
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", h.baseURL, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	// Telegram sends error details in the body of non-2xx responses, so
	// decode whenever a response exists.
	if resp == nil {
		return handler.Errorf("telegram request failed: %v", err), nil
	}
	defer resp.Body.Close()

	var apiResp struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
		Result      struct {
			MessageID int64 `json:"message_id"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return handler.Errorf("telegram returned unreadable response: %v", err), nil
	}
	if !apiResp.OK {
		return handler.Errorf("telegram API error: %s", apiResp.Description), nil
	}

	return handler.Success(map[string]any{
		"message_id": apiResp.Result.MessageID,
		"chat_id":    chatID,
	}), nil
}

var _ handler.Handler = (*TelegramHandler)(nil)
