package trigger

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kyra-dev/kyra/pkg/handler"
	"github.com/kyra-dev/kyra/pkg/observability"
	"github.com/kyra-dev/kyra/pkg/scheduler"
)

// PushService names an upstream push integration.
type PushService string

const (
	ServiceDrive  PushService = "drive"
	ServiceGmail  PushService = "gmail"
	ServiceGitHub PushService = "github"
	ServiceSlack  PushService = "slack"
)

// renewalFraction schedules channel renewal at 6/7 of the upstream
// expiration interval.
const renewalFraction = 6.0 / 7.0

// pushExpiry maps services to their channel lifetimes. Zero means the
// subscription never expires and needs no renewal job.
var pushExpiry = map[PushService]time.Duration{
	ServiceDrive: 7 * 24 * time.Hour,
	ServiceGmail: 7 * 24 * time.Hour,
}

// Armer registers a channel with the upstream service and returns the
// channel id plus the initial resume token. Production armers call the
// vendor APIs; tests stub this out.
type Armer interface {
	Arm(ctx context.Context, service PushService, args, creds map[string]any) (channelID string, resumeToken string, err error)
}

// ArmerFunc adapts a function to Armer.
type ArmerFunc func(ctx context.Context, service PushService, args, creds map[string]any) (string, string, error)

func (f ArmerFunc) Arm(ctx context.Context, service PushService, args, creds map[string]any) (string, string, error) {
	return f(ctx, service, args, creds)
}

// PushTrigger arms push-notification channels for one upstream service.
// Notifications arrive on token-scoped endpoints; the resume token in the
// registration advances only after successful processing.
type PushTrigger struct {
	service   PushService
	store     Store
	sched     *scheduler.Scheduler
	submitter Submitter
	armer     Armer
	secret    string
	now       func() time.Time
}

func NewPushTrigger(service PushService, store Store, sched *scheduler.Scheduler, submitter Submitter, armer Armer, signingSecret string) *PushTrigger {
	return &PushTrigger{
		service:   service,
		store:     store,
		sched:     sched,
		submitter: submitter,
		armer:     armer,
		secret:    signingSecret,
		now:       time.Now,
	}
}

func (t *PushTrigger) triggerType() Type {
	switch t.service {
	case ServiceDrive:
		return TypeDrive
	case ServiceGmail:
		return TypeGmail
	case ServiceGitHub:
		return TypeGitHub
	case ServiceSlack:
		return TypeSlack
	}
	return TypePolling
}

func (t *PushTrigger) Info() handler.Info {
	return handler.Info{
		Name:        fmt.Sprintf("%s.watch", pushDomain(t.service)),
		Description: fmt.Sprintf("Run a flow on %s push notifications", t.service),
		Kind:        handler.KindNode,
		Parameters: []handler.ParameterSpec{
			{Name: "flow_id", Type: handler.TypeString, Required: true},
			{Name: "user_id", Type: handler.TypeString, Required: true},
			{Name: "resource", Type: handler.TypeString,
				Description: "Service resource to watch (folder id, label, repo, channel)"},
		},
		Capabilities: []string{handler.CapabilitySchedule, handler.CapabilityConnector},
	}
}

func pushDomain(service PushService) string {
	switch service {
	case ServiceDrive:
		return "Drive"
	case ServiceGmail:
		return "Gmail"
	case ServiceGitHub:
		return "GitHub"
	case ServiceSlack:
		return "Slack"
	}
	return "Push"
}

func (t *PushTrigger) Execute(ctx context.Context, params, creds map[string]any) (*handler.Result, error) {
	return t.Schedule(ctx, params, creds)
}

// Schedule arms the upstream channel and persists the registration with
// its initial resume token. Expiring services also get a renewal job at
// 6/7 of the channel lifetime.
func (t *PushTrigger) Schedule(ctx context.Context, params, creds map[string]any) (*handler.Result, error) {
	flowID, _ := params["flow_id"].(string)
	userID, _ := params["user_id"].(string)
	if flowID == "" || userID == "" {
		return handler.Errorf("flow_id and user_id are required"), nil
	}

	reg := &Registration{
		ID:     uuid.NewString(),
		FlowID: flowID,
		UserID: userID,
		Type:   t.triggerType(),
		State:  StateNew,
		Args:   params,
	}

	channelID, resumeToken, err := t.armer.Arm(ctx, t.service, params, creds)
	if err != nil {
		reg.State = StateFailed
		if saveErr := t.store.Save(ctx, reg); saveErr != nil {
			slog.Error("Failed to persist failed push registration", "error", saveErr)
		}
		return handler.Errorf("failed to arm %s channel: %v", t.service, err), nil
	}

	routingToken, err := NewWebhookToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate routing token: %w", err)
	}
	reg.Tokens = map[string]any{
		"token":        routingToken,
		"channel_id":   channelID,
		"resume_token": resumeToken,
	}
	if err := reg.SetState(StateArmed); err != nil {
		return nil, err
	}
	if err := t.store.Save(ctx, reg); err != nil {
		return nil, fmt.Errorf("failed to persist push registration: %w", err)
	}

	if expiry := pushExpiry[t.service]; expiry > 0 {
		renewAt := time.Duration(float64(expiry) * renewalFraction)
		regID := reg.ID
		err := t.sched.Replace(scheduler.Job{
			ID:   fmt.Sprintf("renew:%s:%s", t.service, regID),
			Next: scheduler.Every(renewAt),
			Run: func(jobCtx context.Context) {
				t.renew(jobCtx, regID, params, creds)
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to schedule channel renewal: %w", err)
		}
	}

	return handler.Success(map[string]any{
		"registration_id": reg.ID,
		"channel_id":      channelID,
		"hook_path":       fmt.Sprintf("/hooks/%s/%s", t.service, routingToken),
	}), nil
}

func (t *PushTrigger) Unschedule(ctx context.Context, registrationID string) (*handler.Result, error) {
	t.sched.Remove(fmt.Sprintf("renew:%s:%s", t.service, registrationID))
	if err := t.store.SetState(ctx, registrationID, StateDisarmed); err != nil {
		return nil, err
	}
	return handler.Success(map[string]any{"registration_id": registrationID, "state": StateDisarmed}), nil
}

// renew re-arms the upstream channel, keeping the channel id stable so
// the endpoint binding survives.
func (t *PushTrigger) renew(ctx context.Context, regID string, args, creds map[string]any) {
	reg, err := t.store.Get(ctx, regID)
	if err != nil || !reg.Accepting() {
		return
	}

	channelID, _ := reg.Tokens["channel_id"].(string)
	armArgs := make(map[string]any, len(args)+1)
	for k, v := range args {
		armArgs[k] = v
	}
	armArgs["channel_id"] = channelID

	if _, _, err := t.armer.Arm(ctx, t.service, armArgs, creds); err != nil {
		observability.GetGlobalMetrics().RecordTriggerError(ctx, string(t.triggerType()), "renew")
		slog.Error("Push channel renewal failed", "service", t.service, "registration", regID, "error", err)
		return
	}
	slog.Info("Push channel renewed", "service", t.service, "registration", regID)
}

// Notification is a decoded upstream push notification.
type Notification struct {
	Headers map[string]string
	Body    []byte
}

// Receive verifies an upstream notification, fires the event, and
// advances the resume token. On any failure after verification the token
// stays put so the next notification re-fetches the same window.
func (t *PushTrigger) Receive(ctx context.Context, reg *Registration, n *Notification) error {
	if !reg.Accepting() {
		slog.Debug("Dropping push notification", "registration", reg.ID, "state", reg.State)
		return nil
	}

	payload, nextToken, eventID, err := t.verify(reg, n)
	if err != nil {
		observability.GetGlobalMetrics().RecordTriggerError(ctx, string(t.triggerType()), "verify")
		return fmt.Errorf("push verification failed: %w", err)
	}
	if payload == nil {
		// Sync / handshake notifications carry no change set.
		return nil
	}

	event := &Event{
		TriggerType:     t.triggerType(),
		FlowID:          reg.FlowID,
		UserID:          reg.UserID,
		Payload:         payload,
		SourceHeaders:   n.Headers,
		UpstreamEventID: eventID,
	}
	if err := t.submitter.Submit(ctx, event); err != nil {
		observability.GetGlobalMetrics().RecordTriggerError(ctx, string(t.triggerType()), "submit")
		return fmt.Errorf("push event submission failed: %w", err)
	}
	observability.GetGlobalMetrics().RecordTriggerFire(ctx, string(t.triggerType()), reg.FlowID)

	if nextToken != "" {
		return t.advance(ctx, reg, nextToken)
	}
	return nil
}

// advance moves the resume token forward, never backward.
func (t *PushTrigger) advance(ctx context.Context, reg *Registration, nextToken string) error {
	current, _ := reg.Tokens["resume_token"].(string)
	if !tokenAdvances(current, nextToken) {
		slog.Debug("Ignoring non-advancing resume token",
			"registration", reg.ID, "current", current, "next", nextToken)
		return nil
	}

	tokens := make(map[string]any, len(reg.Tokens))
	for k, v := range reg.Tokens {
		tokens[k] = v
	}
	tokens["resume_token"] = nextToken
	if err := t.store.SaveTokens(ctx, reg.ID, tokens); err != nil {
		return fmt.Errorf("failed to advance resume token: %w", err)
	}
	reg.Tokens = tokens
	return nil
}

// tokenAdvances compares resume tokens, numerically when both parse as
// integers (Drive page tokens, Gmail history ids, Slack ts seconds) and
// by inequality otherwise (ETags).
func tokenAdvances(current, next string) bool {
	if current == "" {
		return true
	}
	if next == current {
		return false
	}
	ci, errC := strconv.ParseFloat(current, 64)
	ni, errN := strconv.ParseFloat(next, 64)
	if errC == nil && errN == nil {
		return ni > ci
	}
	return true
}

// verify dispatches to the per-service verification and extraction.
// Returns a nil payload for handshake notifications that must be ignored.
func (t *PushTrigger) verify(reg *Registration, n *Notification) (payload map[string]any, nextToken, eventID string, err error) {
	switch t.service {
	case ServiceDrive:
		return t.verifyDrive(reg, n)
	case ServiceGmail:
		return t.verifyGmail(n)
	case ServiceGitHub:
		return t.verifyGitHub(n)
	case ServiceSlack:
		return t.verifySlack(n)
	}
	return nil, "", "", fmt.Errorf("unknown push service %q", t.service)
}

func (t *PushTrigger) verifyDrive(reg *Registration, n *Notification) (map[string]any, string, string, error) {
	channelID := headerValue(n.Headers, "X-Goog-Channel-ID")
	wantChannel, _ := reg.Tokens["channel_id"].(string)
	if channelID == "" || channelID != wantChannel {
		return nil, "", "", fmt.Errorf("channel id mismatch")
	}

	state := headerValue(n.Headers, "X-Goog-Resource-State")
	if state == "sync" {
		return nil, "", "", nil
	}
	if state != "update" && state != "change" {
		return nil, "", "", nil
	}

	resourceID := headerValue(n.Headers, "X-Goog-Resource-ID")
	payload := map[string]any{
		"resource_id":    resourceID,
		"resource_state": state,
	}
	return payload, "", resourceID, nil
}

func (t *PushTrigger) verifyGmail(n *Notification) (map[string]any, string, string, error) {
	// Pub/Sub envelope: message.data is base64 JSON {emailAddress, historyId}.
	var envelope struct {
		Message struct {
			Data      string `json:"data"`
			MessageID string `json:"messageId"`
		} `json:"message"`
	}
	if err := json.Unmarshal(n.Body, &envelope); err != nil {
		return nil, "", "", fmt.Errorf("invalid pubsub envelope: %w", err)
	}

	decoded, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		decoded, err = base64.URLEncoding.DecodeString(envelope.Message.Data)
		if err != nil {
			return nil, "", "", fmt.Errorf("invalid pubsub data encoding: %w", err)
		}
	}

	var change struct {
		EmailAddress string      `json:"emailAddress"`
		HistoryID    json.Number `json:"historyId"`
	}
	if err := json.Unmarshal(decoded, &change); err != nil {
		return nil, "", "", fmt.Errorf("invalid gmail change payload: %w", err)
	}

	payload := map[string]any{
		"email_address": change.EmailAddress,
		"history_id":    change.HistoryID.String(),
	}
	return payload, change.HistoryID.String(), envelope.Message.MessageID, nil
}

func (t *PushTrigger) verifyGitHub(n *Notification) (map[string]any, string, string, error) {
	sig := headerValue(n.Headers, "X-Hub-Signature-256")
	if len(sig) < 8 || sig[:7] != "sha256=" {
		return nil, "", "", fmt.Errorf("missing sha256 signature")
	}
	mac := hmac.New(sha256.New, []byte(t.secret))
	mac.Write(n.Body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return nil, "", "", fmt.Errorf("signature mismatch")
	}

	var body map[string]any
	if err := json.Unmarshal(n.Body, &body); err != nil {
		return nil, "", "", fmt.Errorf("invalid github payload: %w", err)
	}
	payload := map[string]any{
		"event": headerValue(n.Headers, "X-GitHub-Event"),
		"body":  body,
	}
	return payload, "", headerValue(n.Headers, "X-GitHub-Delivery"), nil
}

func (t *PushTrigger) verifySlack(n *Notification) (map[string]any, string, string, error) {
	tsHeader := headerValue(n.Headers, "X-Slack-Request-Timestamp")
	sig := headerValue(n.Headers, "X-Slack-Signature")
	if tsHeader == "" || sig == "" {
		return nil, "", "", fmt.Errorf("missing slack signature headers")
	}

	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return nil, "", "", fmt.Errorf("invalid slack timestamp")
	}
	skew := t.now().Sub(time.Unix(ts, 0))
	if skew < -MaxTimestampSkew || skew > MaxTimestampSkew {
		return nil, "", "", fmt.Errorf("slack timestamp outside allowed window")
	}

	mac := hmac.New(sha256.New, []byte(t.secret))
	fmt.Fprintf(mac, "v0:%s:%s", tsHeader, n.Body)
	want := "v0=" + hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return nil, "", "", fmt.Errorf("slack signature mismatch")
	}

	var body map[string]any
	if err := json.Unmarshal(n.Body, &body); err != nil {
		return nil, "", "", fmt.Errorf("invalid slack payload: %w", err)
	}

	var eventTS string
	if ev, ok := body["event"].(map[string]any); ok {
		eventTS, _ = ev["ts"].(string)
	}
	payload := map[string]any{"body": body}
	return payload, eventTS, eventTS, nil
}

var _ handler.Schedulable = (*PushTrigger)(nil)
