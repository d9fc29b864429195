package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/kyra-dev/kyra/pkg/httpclient"
	"github.com/kyra-dev/kyra/pkg/trigger"
)

const maxPollResponseSize = 4 << 20

// HTTPPoller is the generic polling backend for JSON cursor APIs. Each
// poll issues GET url?since=<resume_token> and expects a response of the
// form {"items": [...], "next_token": "..."}; field names are
// configurable per registration.
type HTTPPoller struct {
	client *httpclient.Client
}

func NewHTTPPoller() *HTTPPoller {
	return &HTTPPoller{client: httpclient.New(httpclient.WithMaxRetries(0))}
}

// NewHTTPPollerWithClient wraps an existing client. Used by tests.
func NewHTTPPollerWithClient(client *httpclient.Client) *HTTPPoller {
	return &HTTPPoller{client: client}
}

func (p *HTTPPoller) Poll(ctx context.Context, resumeToken string, args, creds map[string]any) ([]map[string]any, string, bool, error) {
	endpoint, _ := args["url"].(string)
	if endpoint == "" {
		return nil, "", false, fmt.Errorf("poll url is required")
	}

	tokenParam := stringOr(args, "token_param", "since")
	itemsField := stringOr(args, "items_field", "items")
	nextField := stringOr(args, "next_field", "next_token")

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, "", false, fmt.Errorf("invalid poll url: %w", err)
	}
	if resumeToken != "" {
		q := u.Query()
		q.Set(tokenParam, resumeToken)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", false, err
	}
	req.Header.Set("Accept", "application/json")
	if bearer, ok := creds["bearer_token"].(string); ok && bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := p.client.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	// The client reports exhausted retries as an error alongside the last
	// response; a 429 there still means back off, not fail.
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		return nil, "", true, nil
	}
	if err != nil {
		return nil, "", false, fmt.Errorf("poll request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", false, fmt.Errorf("poll returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPollResponseSize))
	if err != nil {
		return nil, "", false, fmt.Errorf("failed to read poll response: %w", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, "", false, fmt.Errorf("poll response is not JSON: %w", err)
	}

	var items []map[string]any
	if raw, ok := decoded[itemsField].([]any); ok {
		for _, entry := range raw {
			if item, ok := entry.(map[string]any); ok {
				items = append(items, item)
			}
		}
	}
	nextToken, _ := decoded[nextField].(string)
	return items, nextToken, false, nil
}

func stringOr(m map[string]any, key, fallback string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

var _ trigger.Poller = (*HTTPPoller)(nil)
