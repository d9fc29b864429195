package handler

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeHandler struct {
	name   string
	kind   Kind
	params []ParameterSpec
	run    func(ctx context.Context, params, creds map[string]any) (*Result, error)
}

func (f *fakeHandler) Info() Info {
	return Info{
		Name:       f.name,
		Kind:       f.kind,
		Parameters: f.params,
	}
}

func (f *fakeHandler) Execute(ctx context.Context, params, creds map[string]any) (*Result, error) {
	if f.run != nil {
		return f.run(ctx, params, creds)
	}
	return Success(nil), nil
}

func TestRegistry_RegisterAndResolveTool(t *testing.T) {
	r := NewRegistry()
	h := &fakeHandler{name: "http_get", kind: KindTool}

	if err := r.RegisterTool("http_get", h); err != nil {
		t.Fatalf("RegisterTool() error = %v", err)
	}

	got, err := r.Tool("http_get")
	if err != nil {
		t.Fatalf("Tool() error = %v", err)
	}
	if got != Handler(h) {
		t.Error("Tool() returned wrong handler")
	}
}

func TestRegistry_RegisterDuplicateTool(t *testing.T) {
	r := NewRegistry()
	h := &fakeHandler{name: "http_get", kind: KindTool}

	if err := r.RegisterTool("http_get", h); err != nil {
		t.Fatalf("RegisterTool() error = %v", err)
	}
	if err := r.RegisterTool("http_get", h); err == nil {
		t.Error("expected error registering duplicate tool")
	}
}

func TestRegistry_SameNameInBothNamespaces(t *testing.T) {
	r := NewRegistry()
	h := &fakeHandler{name: "HTTP_Request", kind: KindBoth}

	if err := r.RegisterTool("HTTP_Request", h); err != nil {
		t.Fatalf("RegisterTool() error = %v", err)
	}
	if err := r.RegisterNode("HTTP_Request", h); err != nil {
		t.Fatalf("RegisterNode() error = %v", err)
	}
}

func TestRegistry_NodeTripleFallback(t *testing.T) {
	tests := []struct {
		name       string
		registered string
		node       string
		action     string
	}{
		{"long key", "Telegram.send_message", "Telegram", "send_message"},
		{"node only", "Telegram", "Telegram", "send_message"},
		{"action only", "send_message", "Telegram", "send_message"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			h := &fakeHandler{name: tt.registered, kind: KindNode}
			if err := r.RegisterNode(tt.registered, h); err != nil {
				t.Fatalf("RegisterNode() error = %v", err)
			}

			got, err := r.Node(tt.node, tt.action)
			if err != nil {
				t.Fatalf("Node(%q, %q) error = %v", tt.node, tt.action, err)
			}
			if got != Handler(h) {
				t.Error("Node() returned wrong handler")
			}
		})
	}
}

func TestRegistry_NodeNotFoundListsAttemptedKeys(t *testing.T) {
	r := NewRegistry()
	_ = r.RegisterNode("Slack.post", &fakeHandler{name: "Slack.post", kind: KindNode})

	_, err := r.Node("Telegram", "send_message")
	if err == nil {
		t.Fatal("expected not-found error")
	}

	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %T", err)
	}

	wantKeys := []string{"Telegram.send_message", "Telegram", "send_message"}
	if len(nf.Attempted) != len(wantKeys) {
		t.Fatalf("attempted keys = %v, want %v", nf.Attempted, wantKeys)
	}
	for i, key := range wantKeys {
		if nf.Attempted[i] != key {
			t.Errorf("attempted[%d] = %q, want %q", i, nf.Attempted[i], key)
		}
	}
	if len(nf.Candidates) != 1 || nf.Candidates[0] != "Slack.post" {
		t.Errorf("candidates = %v, want [Slack.post]", nf.Candidates)
	}
	if !strings.Contains(err.Error(), "Slack.post") {
		t.Errorf("error message should list candidates: %v", err)
	}
}

func TestRegistry_ResolveToolFirstThenNode(t *testing.T) {
	r := NewRegistry()
	toolH := &fakeHandler{name: "search", kind: KindTool}
	nodeH := &fakeHandler{name: "search", kind: KindNode}

	_ = r.RegisterTool("search", toolH)
	_ = r.RegisterNode("search", nodeH)

	got, err := r.Resolve("search")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != Handler(toolH) {
		t.Error("Resolve() should prefer the tool namespace")
	}
}

func TestRegistry_Status(t *testing.T) {
	r := NewRegistry()
	_ = r.RegisterTool("a", &fakeHandler{name: "a"})
	_ = r.RegisterTool("b", &fakeHandler{name: "b"})
	_ = r.RegisterNode("c", &fakeHandler{name: "c"})

	status := r.Status()
	if len(status.Tools) != 2 {
		t.Errorf("status.Tools = %v, want 2 entries", status.Tools)
	}
	if len(status.Nodes) != 1 {
		t.Errorf("status.Nodes = %v, want 1 entry", status.Nodes)
	}
	if status.Scanned != 3 {
		t.Errorf("status.Scanned = %d, want 3", status.Scanned)
	}
}

func TestSplitName(t *testing.T) {
	tests := []struct {
		in         string
		node, action string
	}{
		{"Telegram.send_message", "Telegram", "send_message"},
		{"http_get", "http_get", ""},
		{"Gmail.messages.get", "Gmail", "messages.get"},
	}
	for _, tt := range tests {
		node, action := SplitName(tt.in)
		if node != tt.node || action != tt.action {
			t.Errorf("SplitName(%q) = (%q, %q), want (%q, %q)",
				tt.in, node, action, tt.node, tt.action)
		}
	}
}
