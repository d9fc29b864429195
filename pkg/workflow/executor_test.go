package workflow

import (
	"context"
	"strings"
	"testing"

	"github.com/kyra-dev/kyra/pkg/dispatcher"
	"github.com/kyra-dev/kyra/pkg/handler"
	"github.com/kyra-dev/kyra/pkg/trigger"
)

type stubHandler struct {
	name string
	fn   func(ctx context.Context, params, creds map[string]any) (*handler.Result, error)
}

func (h *stubHandler) Info() handler.Info {
	return handler.Info{Name: h.name, Kind: handler.KindNode}
}

func (h *stubHandler) Execute(ctx context.Context, params, creds map[string]any) (*handler.Result, error) {
	return h.fn(ctx, params, creds)
}

func newTestExecutor(t *testing.T, handlers ...*stubHandler) (*Executor, *SQLStore) {
	t.Helper()
	reg := handler.NewRegistry()
	for _, h := range handlers {
		if err := reg.RegisterNode(h.name, h); err != nil {
			t.Fatal(err)
		}
	}
	flows := newTestFlowStore(t)
	return NewExecutor(flows, dispatcher.New(reg), nil), flows
}

func saveFlow(t *testing.T, flows *SQLStore, flow *Flow) {
	t.Helper()
	if err := flows.Save(context.Background(), flow); err != nil {
		t.Fatal(err)
	}
}

func TestExecute_FlowNotFound(t *testing.T) {
	ex, _ := newTestExecutor(t)

	res := ex.Execute(context.Background(), "ghost", "user-1", nil, nil)
	if res.Status != StatusError || res.Reason != ReasonFlowNotFound {
		t.Errorf("result = %+v", res)
	}
}

func TestExecute_InactiveSkipped(t *testing.T) {
	ex, flows := newTestExecutor(t)
	saveFlow(t, flows, &Flow{ID: "flow-1", OwnerID: "user-1", IsActive: false,
		Spec: Spec{Steps: []Step{{Node: "Log"}}}})

	res := ex.Execute(context.Background(), "flow-1", "user-1", nil, nil)
	if res.Status != StatusSkipped || res.Reason != ReasonInactive {
		t.Errorf("result = %+v", res)
	}
}

func TestExecute_OwnershipEnforced(t *testing.T) {
	ex, flows := newTestExecutor(t)
	saveFlow(t, flows, &Flow{ID: "flow-1", OwnerID: "user-1", IsActive: true,
		Spec: Spec{Steps: []Step{{Node: "Log"}}}})

	res := ex.Execute(context.Background(), "flow-1", "intruder", nil, nil)
	if res.Status != StatusError || res.Reason != ReasonForbidden {
		t.Errorf("result = %+v", res)
	}
}

func TestExecute_NoSteps(t *testing.T) {
	ex, flows := newTestExecutor(t)
	saveFlow(t, flows, &Flow{ID: "flow-1", OwnerID: "user-1", IsActive: true})

	res := ex.Execute(context.Background(), "flow-1", "user-1", nil, nil)
	if res.Status != StatusError || res.Reason != ReasonNoSteps {
		t.Errorf("result = %+v", res)
	}
}

func TestExecute_ThreadsOutputBetweenSteps(t *testing.T) {
	double := &stubHandler{name: "Math.double",
		fn: func(ctx context.Context, params, creds map[string]any) (*handler.Result, error) {
			td, _ := params["trigger_data"].(map[string]any)
			n, _ := td["n"].(float64)
			return handler.Success(map[string]any{"n": n * 2}), nil
		}}
	relay := &stubHandler{name: "Relay.forward",
		fn: func(ctx context.Context, params, creds map[string]any) (*handler.Result, error) {
			return handler.Success(params["payload"]), nil
		}}

	ex, flows := newTestExecutor(t, double, relay)
	saveFlow(t, flows, &Flow{ID: "flow-1", OwnerID: "user-1", IsActive: true,
		Spec: Spec{Steps: []Step{
			{Name: "double", Node: "Math", Action: "double"},
			{Name: "relay", Node: "Relay", Action: "forward", InputKey: "payload"},
		}}})

	res := ex.Execute(context.Background(), "flow-1", "user-1", map[string]any{"n": float64(7)}, nil)
	if res.Status != StatusSuccess {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Steps) != 2 {
		t.Fatalf("steps = %+v", res.Steps)
	}

	out, _ := res.Output.(map[string]any)
	if out["n"] != float64(14) {
		t.Errorf("final output = %+v, want n doubled to 14", res.Output)
	}
}

func TestExecute_ShortCircuitAndContinue(t *testing.T) {
	boom := &stubHandler{name: "Boom.fail",
		fn: func(ctx context.Context, params, creds map[string]any) (*handler.Result, error) {
			return handler.Errorf("kaput"), nil
		}}
	after := 0
	probe := &stubHandler{name: "Probe.count",
		fn: func(ctx context.Context, params, creds map[string]any) (*handler.Result, error) {
			after++
			return handler.Success("ok"), nil
		}}

	ex, flows := newTestExecutor(t, boom, probe)

	saveFlow(t, flows, &Flow{ID: "strict", OwnerID: "u", IsActive: true,
		Spec: Spec{Steps: []Step{
			{Node: "Boom", Action: "fail"},
			{Node: "Probe", Action: "count"},
		}}})
	res := ex.Execute(context.Background(), "strict", "u", nil, nil)
	if res.Status != StatusError || res.Reason != ReasonStepFailed {
		t.Errorf("result = %+v", res)
	}
	if after != 0 {
		t.Error("step ran after short-circuit")
	}

	saveFlow(t, flows, &Flow{ID: "lenient", OwnerID: "u", IsActive: true,
		Spec: Spec{Steps: []Step{
			{Node: "Boom", Action: "fail", OnError: "continue"},
			{Node: "Probe", Action: "count"},
		}}})
	res = ex.Execute(context.Background(), "lenient", "u", nil, nil)
	if res.Status != StatusSuccess {
		t.Errorf("result = %+v", res)
	}
	if after != 1 {
		t.Error("on_error: continue did not reach the next step")
	}
}

func TestExecutionID_Stable(t *testing.T) {
	a := ExecutionID("flow-1", "webhook", "tok:1714000000")
	b := ExecutionID("flow-1", "webhook", "tok:1714000000")
	if a != b {
		t.Errorf("same delivery produced different ids: %s vs %s", a, b)
	}

	c := ExecutionID("flow-1", "webhook", "tok:1714000060")
	if a == c {
		t.Error("different deliveries collided")
	}

	// Without an upstream id every execution is distinct.
	if ExecutionID("flow-1", "cron", "") == ExecutionID("flow-1", "cron", "") {
		t.Error("expected fresh ids when no upstream event id exists")
	}
}

func TestSubmit_RoutesTriggerEvents(t *testing.T) {
	var seenSource string
	echo := &stubHandler{name: "Echo.print",
		fn: func(ctx context.Context, params, creds map[string]any) (*handler.Result, error) {
			seenSource, _ = params["trigger_source"].(string)
			return handler.Success(params["trigger_data"]), nil
		}}

	ex, flows := newTestExecutor(t, echo)
	saveFlow(t, flows, &Flow{ID: "flow-1", OwnerID: "user-1", IsActive: true,
		Spec: Spec{Steps: []Step{{Node: "Echo", Action: "print"}}}})

	err := ex.Submit(context.Background(), &trigger.Event{
		TriggerType:     trigger.TypeWebhook,
		FlowID:          "flow-1",
		UserID:          "user-1",
		Payload:         map[string]any{"n": 7},
		UpstreamEventID: "tok:1714000000",
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if seenSource != string(trigger.TypeWebhook) {
		t.Errorf("trigger_source = %q", seenSource)
	}

	// A misrouted event surfaces as a submit error.
	err = ex.Submit(context.Background(), &trigger.Event{
		TriggerType: trigger.TypeWebhook, FlowID: "ghost", UserID: "user-1",
	})
	if err == nil || !strings.Contains(err.Error(), ReasonFlowNotFound) {
		t.Errorf("Submit(ghost) error = %v", err)
	}
}
