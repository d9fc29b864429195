package trigger

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kyra-dev/kyra/pkg/handler"
)

const (
	// MaxTimestampSkew bounds how stale a signed webhook timestamp may be.
	MaxTimestampSkew = 5 * time.Minute

	webhookTokenBytes = 16 // 128-bit URL-safe token
)

type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthBearer AuthType = "bearer"
	AuthHMAC   AuthType = "hmac"
)

type RespondMode string

const (
	RespondImmediate RespondMode = "immediate"
	RespondDelayed   RespondMode = "delayed"
)

// WebhookTrigger arms HTTP webhook endpoints. Each registration gets a
// production path and a test path, both routed solely by a random token.
type WebhookTrigger struct {
	store      Store
	baseURL    string
	signingKey string
	now        func() time.Time
}

func NewWebhookTrigger(store Store, publicBaseURL, signingSecret string) *WebhookTrigger {
	return &WebhookTrigger{
		store:      store,
		baseURL:    strings.TrimSuffix(publicBaseURL, "/"),
		signingKey: signingSecret,
		now:        time.Now,
	}
}

func (t *WebhookTrigger) Info() handler.Info {
	return handler.Info{
		Name:        "Webhook.receive",
		Description: "Run a flow when an HTTP webhook fires",
		Kind:        handler.KindNode,
		Parameters: []handler.ParameterSpec{
			{Name: "flow_id", Type: handler.TypeString, Required: true},
			{Name: "user_id", Type: handler.TypeString, Required: true},
			{Name: "methods", Type: handler.TypeArray, Items: handler.TypeString,
				Description: "Accepted HTTP methods, default POST"},
			{Name: "respond_mode", Type: handler.TypeString,
				Description: "immediate or delayed"},
			{Name: "auth_type", Type: handler.TypeString,
				Description: "none, bearer, or hmac"},
			{Name: "allowed_origins", Type: handler.TypeArray, Items: handler.TypeString},
			{Name: "form_provider", Type: handler.TypeString,
				Description: "typeform, google_forms, jotform, tally, or generic; parses the body into form_data"},
		},
		Capabilities: []string{handler.CapabilitySchedule},
	}
}

func (t *WebhookTrigger) Execute(ctx context.Context, params, creds map[string]any) (*handler.Result, error) {
	return t.Schedule(ctx, params, creds)
}

func (t *WebhookTrigger) Schedule(ctx context.Context, params, creds map[string]any) (*handler.Result, error) {
	flowID, _ := params["flow_id"].(string)
	userID, _ := params["user_id"].(string)
	if flowID == "" || userID == "" {
		return handler.Errorf("flow_id and user_id are required"), nil
	}

	authType := AuthNone
	if v, ok := params["auth_type"].(string); ok && v != "" {
		authType = AuthType(v)
		switch authType {
		case AuthNone, AuthBearer, AuthHMAC:
		default:
			return handler.Errorf("auth_type %q unsupported (none, bearer, hmac)", v), nil
		}
	}

	respondMode := RespondImmediate
	if v, ok := params["respond_mode"].(string); ok && v != "" {
		respondMode = RespondMode(v)
		switch respondMode {
		case RespondImmediate, RespondDelayed:
		default:
			return handler.Errorf("respond_mode %q unsupported (immediate, delayed)", v), nil
		}
	}

	methods := []string{"POST"}
	if raw, ok := params["methods"].([]any); ok && len(raw) > 0 {
		methods = methods[:0]
		for _, m := range raw {
			s, ok := m.(string)
			if !ok {
				return handler.Errorf("methods must be strings"), nil
			}
			methods = append(methods, strings.ToUpper(s))
		}
	}

	formProvider := ""
	if v, ok := params["form_provider"].(string); ok && v != "" {
		formProvider = strings.ToLower(v)
		switch formProvider {
		case "typeform", "google_forms", "jotform", "tally", "generic":
		default:
			return handler.Errorf("form_provider %q unsupported", v), nil
		}
	}

	token, err := NewWebhookToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate webhook token: %w", err)
	}

	regType := TypeWebhook
	if formProvider != "" {
		regType = TypeForm
	}
	reg := &Registration{
		ID:     uuid.NewString(),
		FlowID: flowID,
		UserID: userID,
		Type:   regType,
		State:  StateNew,
		Args: map[string]any{
			"methods":      methods,
			"respond_mode": string(respondMode),
			"auth_type":    string(authType),
		},
		Tokens: map[string]any{"token": token},
	}
	if origins, ok := params["allowed_origins"].([]any); ok {
		reg.Args["allowed_origins"] = origins
	}
	if formProvider != "" {
		reg.Args["form_provider"] = formProvider
	}
	if bearer, ok := creds["bearer_token"].(string); ok && bearer != "" {
		reg.Args["bearer_token"] = bearer
	}

	if err := reg.SetState(StateArmed); err != nil {
		return nil, err
	}
	if err := t.store.Save(ctx, reg); err != nil {
		return nil, fmt.Errorf("failed to persist webhook registration: %w", err)
	}

	return handler.Success(map[string]any{
		"registration_id": reg.ID,
		"token":           token,
		"production_path": t.baseURL + "/webhooks/" + token,
		"test_path":       t.baseURL + "/webhooks-test/" + token,
	}), nil
}

func (t *WebhookTrigger) Unschedule(ctx context.Context, registrationID string) (*handler.Result, error) {
	if err := t.store.SetState(ctx, registrationID, StateDisarmed); err != nil {
		return nil, err
	}
	return handler.Success(map[string]any{"registration_id": registrationID, "state": StateDisarmed}), nil
}

// InboundRequest is the transport-independent view of an incoming webhook
// call that Authorize and BuildEvent consume.
type InboundRequest struct {
	Method  string
	Headers map[string]string
	Body    []byte
	IsTest  bool
}

// Authorize checks the request against the registration's auth settings.
func (t *WebhookTrigger) Authorize(reg *Registration, req *InboundRequest) error {
	allowed := false
	if methods, ok := reg.Args["methods"].([]any); ok {
		for _, m := range methods {
			if s, _ := m.(string); strings.EqualFold(s, req.Method) {
				allowed = true
				break
			}
		}
	} else if methods, ok := reg.Args["methods"].([]string); ok {
		for _, m := range methods {
			if strings.EqualFold(m, req.Method) {
				allowed = true
				break
			}
		}
	}
	if !allowed {
		return fmt.Errorf("method %s not accepted", req.Method)
	}

	authType, _ := reg.Args["auth_type"].(string)
	switch AuthType(authType) {
	case AuthNone, "":
		return nil

	case AuthBearer:
		want, _ := reg.Args["bearer_token"].(string)
		got := strings.TrimPrefix(headerValue(req.Headers, "Authorization"), "Bearer ")
		if want == "" || !hmac.Equal([]byte(got), []byte(want)) {
			return fmt.Errorf("bearer token mismatch")
		}
		return nil

	case AuthHMAC:
		return t.verifyHMAC(req)

	default:
		return fmt.Errorf("unknown auth_type %q", authType)
	}
}

// verifyHMAC checks X-Webhook-Signature = hex(hmac-sha256(secret, ts+body))
// with X-Webhook-Timestamp inside the skew window.
func (t *WebhookTrigger) verifyHMAC(req *InboundRequest) error {
	tsHeader := headerValue(req.Headers, "X-Webhook-Timestamp")
	sig := headerValue(req.Headers, "X-Webhook-Signature")
	if tsHeader == "" || sig == "" {
		return fmt.Errorf("missing signature headers")
	}

	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp header")
	}
	skew := t.now().Sub(time.Unix(ts, 0))
	if skew < -MaxTimestampSkew || skew > MaxTimestampSkew {
		return fmt.Errorf("timestamp outside allowed window")
	}

	mac := hmac.New(sha256.New, []byte(t.signingKey))
	mac.Write([]byte(tsHeader))
	mac.Write(req.Body)
	want := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

// BuildEvent converts an authorized request into a trigger event. Form
// registrations get their body normalized into {form_data, metadata};
// an unparseable form body falls back to the raw payload. The caller
// persists the raw request before flow code runs.
func (t *WebhookTrigger) BuildEvent(reg *Registration, req *InboundRequest) *Event {
	token, _ := reg.Tokens["token"].(string)
	payload := map[string]any{
		"method":  req.Method,
		"body":    string(req.Body),
		"is_test": req.IsTest,
	}

	if provider, _ := reg.Args["form_provider"].(string); provider != "" {
		form, err := ParseFormPayload(provider, headerValue(req.Headers, "Content-Type"), req.Body)
		if err == nil {
			payload["form_data"] = form.FormData
			payload["metadata"] = form.Metadata
		}
	}

	return &Event{
		TriggerType:     reg.Type,
		FlowID:          reg.FlowID,
		UserID:          reg.UserID,
		SourceHeaders:   req.Headers,
		UpstreamEventID: fmt.Sprintf("%s:%d", token, t.now().Unix()),
		Payload:         payload,
	}
}

// RespondMode reports the registration's configured response mode.
func (t *WebhookTrigger) RespondMode(reg *Registration) RespondMode {
	if mode, ok := reg.Args["respond_mode"].(string); ok && mode != "" {
		return RespondMode(mode)
	}
	return RespondImmediate
}

// NewWebhookToken returns a 128-bit URL-safe random token.
func NewWebhookToken() (string, error) {
	buf := make([]byte, webhookTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

var _ handler.Schedulable = (*WebhookTrigger)(nil)
