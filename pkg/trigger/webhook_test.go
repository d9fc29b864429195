package trigger

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"
	"time"
)

func newTestWebhookTrigger(t *testing.T) (*WebhookTrigger, *SQLStore) {
	t.Helper()
	st := newTestSQLStore(t)
	wt := NewWebhookTrigger(st, "https://kyra.example.com", "shh-signing-secret")
	return wt, st
}

func TestWebhookSchedule(t *testing.T) {
	wt, _ := newTestWebhookTrigger(t)

	res, err := wt.Schedule(context.Background(), map[string]any{
		"flow_id": "flow-1",
		"user_id": "user-1",
	}, nil)
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if !res.OK() {
		t.Fatalf("result = %+v", res)
	}

	out := res.Output.(map[string]any)
	token := out["token"].(string)
	if len(token) < 20 {
		t.Errorf("token %q too short for 128 bits", token)
	}
	if out["production_path"] != "https://kyra.example.com/webhooks/"+token {
		t.Errorf("production path = %v", out["production_path"])
	}
	if out["test_path"] != "https://kyra.example.com/webhooks-test/"+token {
		t.Errorf("test path = %v", out["test_path"])
	}
}

func TestWebhookAuthorize_Methods(t *testing.T) {
	wt, st := newTestWebhookTrigger(t)
	ctx := context.Background()

	res, err := wt.Schedule(ctx, map[string]any{
		"flow_id": "flow-1",
		"user_id": "user-1",
		"methods": []any{"POST", "PUT"},
	}, nil)
	if err != nil || !res.OK() {
		t.Fatalf("Schedule() = %+v, %v", res, err)
	}
	token := res.Output.(map[string]any)["token"].(string)

	reg, err := st.FindByToken(ctx, token)
	if err != nil {
		t.Fatalf("FindByToken() error = %v", err)
	}

	if err := wt.Authorize(reg, &InboundRequest{Method: "PUT"}); err != nil {
		t.Errorf("PUT rejected: %v", err)
	}
	if err := wt.Authorize(reg, &InboundRequest{Method: "DELETE"}); err == nil {
		t.Error("DELETE must be rejected")
	}
}

func TestWebhookAuthorize_Bearer(t *testing.T) {
	wt, st := newTestWebhookTrigger(t)
	ctx := context.Background()

	res, err := wt.Schedule(ctx, map[string]any{
		"flow_id":   "flow-1",
		"user_id":   "user-1",
		"auth_type": "bearer",
	}, map[string]any{"bearer_token": "sekrit"})
	if err != nil || !res.OK() {
		t.Fatalf("Schedule() = %+v, %v", res, err)
	}
	token := res.Output.(map[string]any)["token"].(string)
	reg, _ := st.FindByToken(ctx, token)

	ok := &InboundRequest{Method: "POST",
		Headers: map[string]string{"Authorization": "Bearer sekrit"}}
	if err := wt.Authorize(reg, ok); err != nil {
		t.Errorf("valid bearer rejected: %v", err)
	}

	bad := &InboundRequest{Method: "POST",
		Headers: map[string]string{"Authorization": "Bearer wrong"}}
	if err := wt.Authorize(reg, bad); err == nil {
		t.Error("wrong bearer accepted")
	}
}

func TestWebhookAuthorize_HMAC(t *testing.T) {
	wt, st := newTestWebhookTrigger(t)
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	wt.now = func() time.Time { return now }

	res, err := wt.Schedule(ctx, map[string]any{
		"flow_id":   "flow-1",
		"user_id":   "user-1",
		"auth_type": "hmac",
	}, nil)
	if err != nil || !res.OK() {
		t.Fatalf("Schedule() = %+v, %v", res, err)
	}
	token := res.Output.(map[string]any)["token"].(string)
	reg, _ := st.FindByToken(ctx, token)

	body := []byte(`{"value": 7}`)
	sign := func(ts int64) map[string]string {
		tsStr := fmt.Sprintf("%d", ts)
		mac := hmac.New(sha256.New, []byte("shh-signing-secret"))
		mac.Write([]byte(tsStr))
		mac.Write(body)
		return map[string]string{
			"X-Webhook-Timestamp": tsStr,
			"X-Webhook-Signature": hex.EncodeToString(mac.Sum(nil)),
		}
	}

	fresh := &InboundRequest{Method: "POST", Body: body, Headers: sign(now.Unix())}
	if err := wt.Authorize(reg, fresh); err != nil {
		t.Errorf("valid signature rejected: %v", err)
	}

	// Outside the five minute window.
	stale := &InboundRequest{Method: "POST", Body: body, Headers: sign(now.Add(-6 * time.Minute).Unix())}
	if err := wt.Authorize(reg, stale); err == nil {
		t.Error("stale timestamp accepted")
	}

	tampered := &InboundRequest{Method: "POST", Body: []byte(`{"value": 8}`), Headers: sign(now.Unix())}
	if err := wt.Authorize(reg, tampered); err == nil {
		t.Error("tampered body accepted")
	}
}

func TestWebhookBuildEvent(t *testing.T) {
	wt, st := newTestWebhookTrigger(t)
	ctx := context.Background()

	res, _ := wt.Schedule(ctx, map[string]any{"flow_id": "flow-1", "user_id": "user-1"}, nil)
	token := res.Output.(map[string]any)["token"].(string)
	reg, _ := st.FindByToken(ctx, token)

	event := wt.BuildEvent(reg, &InboundRequest{
		Method: "POST",
		Body:   []byte(`{"n": 7}`),
		IsTest: true,
	})

	if event.FlowID != "flow-1" || event.UserID != "user-1" {
		t.Errorf("event = %+v", event)
	}
	if event.Payload["is_test"] != true || event.Payload["body"] != `{"n": 7}` {
		t.Errorf("payload = %+v", event.Payload)
	}
	if !strings.HasPrefix(event.UpstreamEventID, token+":") {
		t.Errorf("upstream event id = %q, want token-scoped", event.UpstreamEventID)
	}
}

func TestWebhookSchedule_BadArgs(t *testing.T) {
	wt, _ := newTestWebhookTrigger(t)
	ctx := context.Background()

	res, err := wt.Schedule(ctx, map[string]any{"flow_id": "f", "user_id": "u", "auth_type": "kerberos"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.OK() {
		t.Error("unknown auth_type accepted")
	}

	res, err = wt.Schedule(ctx, map[string]any{"flow_id": "f", "user_id": "u", "respond_mode": "sometime"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.OK() {
		t.Error("unknown respond_mode accepted")
	}
}
