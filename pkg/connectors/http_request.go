package connectors

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kyra-dev/kyra/pkg/handler"
	"github.com/kyra-dev/kyra/pkg/httpclient"
)

// HTTPRequestConfig bounds what the http_request handler may reach.
type HTTPRequestConfig struct {
	Timeout         time.Duration
	MaxRetries      int
	MaxRequestSize  int64
	MaxResponseSize int64
	AllowedDomains  []string
	DeniedDomains   []string
	AllowedMethods  []string
	AllowRedirects  bool
	MaxRedirects    int
	UserAgent       string
}

func DefaultHTTPRequestConfig() HTTPRequestConfig {
	return HTTPRequestConfig{
		Timeout:         30 * time.Second,
		MaxRetries:      2,
		MaxRequestSize:  1 << 20,
		MaxResponseSize: 4 << 20,
		AllowRedirects:  true,
		MaxRedirects:    5,
		UserAgent:       "kyra/1.0",
	}
}

// HTTPRequestHandler performs outbound HTTP calls for flows and agents.
type HTTPRequestHandler struct {
	config HTTPRequestConfig
	client *httpclient.Client
}

func NewHTTPRequestHandler(cfg HTTPRequestConfig) *HTTPRequestHandler {
	base := &http.Client{
		Timeout: cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if !cfg.AllowRedirects {
				return http.ErrUseLastResponse
			}
			if len(via) >= cfg.MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", cfg.MaxRedirects)
			}
			return nil
		},
	}

	return &HTTPRequestHandler{
		config: cfg,
		client: httpclient.New(
			httpclient.WithHTTPClient(base),
			httpclient.WithMaxRetries(cfg.MaxRetries),
		),
	}
}

func (h *HTTPRequestHandler) Info() handler.Info {
	return handler.Info{
		Name:        "http_request",
		Description: "Make HTTP requests to external APIs and web services",
		Kind:        handler.KindBoth,
		Parameters: []handler.ParameterSpec{
			{Name: "url", Type: handler.TypeString, Required: true,
				Description: "The URL to request"},
			{Name: "method", Type: handler.TypeString,
				Description: "HTTP method, default GET"},
			{Name: "headers", Type: handler.TypeObject,
				Description: "Request headers as key-value pairs"},
			{Name: "body", Type: handler.TypeString,
				Description: "Request body for POST, PUT, PATCH"},
		},
		Capabilities: []string{handler.CapabilityConnector},
	}
}

func (h *HTTPRequestHandler) Execute(ctx context.Context, params, creds map[string]any) (*handler.Result, error) {
	urlStr, _ := params["url"].(string)
	if urlStr == "" {
		return handler.Errorf("url parameter is required"), nil
	}

	parsed, err := url.Parse(urlStr)
	if err != nil {
		return handler.Errorf("invalid URL: %v", err), nil
	}
	if err := h.validateDomain(parsed.Host); err != nil {
		return handler.Errorf("%v", err), nil
	}

	method := "GET"
	if m, ok := params["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	if err := h.validateMethod(method); err != nil {
		return handler.Errorf("%v", err), nil
	}

	var body io.Reader
	if raw, ok := params["body"].(string); ok && raw != "" {
		if int64(len(raw)) > h.config.MaxRequestSize {
			return handler.Errorf("request body too large: %d bytes (max %d)",
				len(raw), h.config.MaxRequestSize), nil
		}
		body = bytes.NewReader([]byte(raw))
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return handler.Errorf("failed to build request: %v", err), nil
	}
	req.Header.Set("User-Agent", h.config.UserAgent)
	if headers, ok := params["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}
	if token, _ := creds["bearer_token"].(string); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := h.client.Do(req)
	// The client pairs non-2xx responses with an error; the response is
	// still the authoritative outcome when present.
	if resp == nil {
		return handler.Errorf("request failed: %v", err), nil
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, h.config.MaxResponseSize+1)
	responseBody, err := io.ReadAll(limited)
	if err != nil {
		return handler.Errorf("failed to read response: %v", err), nil
	}
	if int64(len(responseBody)) > h.config.MaxResponseSize {
		return handler.Errorf("response too large: exceeds %d bytes", h.config.MaxResponseSize), nil
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) > 0 {
			respHeaders[k] = v[0]
		}
	}

	result := handler.Success(map[string]any{
		"status_code": resp.StatusCode,
		"body":        string(responseBody),
		"headers":     respHeaders,
	})
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		result = handler.Errorf("upstream returned %s", resp.Status)
		result.Output = map[string]any{
			"status_code": resp.StatusCode,
			"body":        string(responseBody),
		}
	}
	return result.WithMeta("content_type", resp.Header.Get("Content-Type")), nil
}

func (h *HTTPRequestHandler) validateDomain(host string) error {
	if len(h.config.AllowedDomains) == 0 && len(h.config.DeniedDomains) == 0 {
		return nil
	}

	// Deny rules take precedence.
	for _, denied := range h.config.DeniedDomains {
		if matchesDomain(host, denied) {
			return fmt.Errorf("domain not allowed: %s (matches deny rule %s)", host, denied)
		}
	}
	if len(h.config.AllowedDomains) > 0 {
		for _, allowed := range h.config.AllowedDomains {
			if matchesDomain(host, allowed) {
				return nil
			}
		}
		return fmt.Errorf("domain not allowed: %s", host)
	}
	return nil
}

func (h *HTTPRequestHandler) validateMethod(method string) error {
	if len(h.config.AllowedMethods) == 0 {
		return nil
	}
	for _, allowed := range h.config.AllowedMethods {
		if strings.EqualFold(method, allowed) {
			return nil
		}
	}
	return fmt.Errorf("HTTP method not allowed: %s", method)
}

func matchesDomain(host, pattern string) bool {
	if idx := strings.Index(host, ":"); idx != -1 {
		host = host[:idx]
	}
	if host == pattern {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		return strings.HasSuffix(host, pattern[1:])
	}
	return false
}

var _ handler.Handler = (*HTTPRequestHandler)(nil)
