package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kyra-dev/kyra/pkg/handler"
)

type stubHandler struct {
	info handler.Info
	run  func(ctx context.Context, params, creds map[string]any) (*handler.Result, error)
}

func (s *stubHandler) Info() handler.Info { return s.info }

func (s *stubHandler) Execute(ctx context.Context, params, creds map[string]any) (*handler.Result, error) {
	return s.run(ctx, params, creds)
}

func newTestDispatcher(t *testing.T, handlers map[string]*stubHandler) *Dispatcher {
	t.Helper()
	reg := handler.NewRegistry()
	for name, h := range handlers {
		if err := reg.RegisterTool(name, h); err != nil {
			t.Fatalf("RegisterTool(%q) error = %v", name, err)
		}
	}
	return New(reg)
}

func TestDispatch_Success(t *testing.T) {
	d := newTestDispatcher(t, map[string]*stubHandler{
		"echo": {
			info: handler.Info{Name: "echo", Parameters: []handler.ParameterSpec{
				{Name: "value", Type: handler.TypeString, Required: true},
			}},
			run: func(ctx context.Context, params, creds map[string]any) (*handler.Result, error) {
				return handler.Success(params["value"]), nil
			},
		},
	})

	outcome := d.Dispatch(context.Background(), "echo", map[string]any{"value": "hi"}, nil, Options{})

	if outcome.Kind != OutcomeResult {
		t.Fatalf("kind = %v, want result", outcome.Kind)
	}
	if !outcome.OK() {
		t.Fatalf("result = %+v, want success", outcome.Result)
	}
	if outcome.Result.Output != "hi" {
		t.Errorf("output = %v, want hi", outcome.Result.Output)
	}
	if outcome.Result.DurationMS < 0 {
		t.Error("duration_ms must be backfilled")
	}
}

func TestDispatch_NotFound(t *testing.T) {
	d := newTestDispatcher(t, nil)

	outcome := d.Dispatch(context.Background(), "ghost", nil, nil, Options{})

	if outcome.Kind != OutcomeNotFound {
		t.Fatalf("kind = %v, want not_found", outcome.Kind)
	}
	var nf *handler.NotFoundError
	if !errors.As(outcome.Err, &nf) {
		t.Fatalf("err = %T, want NotFoundError", outcome.Err)
	}
}

func TestDispatch_ValidationFailed(t *testing.T) {
	d := newTestDispatcher(t, map[string]*stubHandler{
		"count": {
			info: handler.Info{Name: "count", Parameters: []handler.ParameterSpec{
				{Name: "n", Type: handler.TypeInteger, Required: true},
			}},
			run: func(ctx context.Context, params, creds map[string]any) (*handler.Result, error) {
				t.Fatal("handler must not run when validation fails")
				return nil, nil
			},
		},
	})

	outcome := d.Dispatch(context.Background(), "count", map[string]any{"n": "nope"}, nil, Options{})

	if outcome.Kind != OutcomeInvalid {
		t.Fatalf("kind = %v, want validation_failed", outcome.Kind)
	}
	if len(outcome.Validation.InvalidTypes) != 1 {
		t.Errorf("validation = %+v", outcome.Validation)
	}
}

func TestDispatch_SmartInputRequiresUser(t *testing.T) {
	d := newTestDispatcher(t, map[string]*stubHandler{
		"Telegram.send_message": {
			info: handler.Info{
				Name: "Telegram.send_message",
				Parameters: []handler.ParameterSpec{
					{Name: "chat_id", Type: handler.TypeString, Required: true},
					{Name: "message", Type: handler.TypeString, Required: true},
				},
			},
			run: func(ctx context.Context, params, creds map[string]any) (*handler.Result, error) {
				return handler.Success("sent"), nil
			},
		},
	})

	outcome := d.Dispatch(context.Background(), "Telegram.send_message",
		map[string]any{"chat_id": "@kyra"}, nil, Options{SmartInput: true})

	if outcome.Kind != OutcomeNeedsInput {
		t.Fatalf("kind = %v, want needs_user_input", outcome.Kind)
	}
	required := outcome.FormSchema["required"].([]string)
	if len(required) != 1 || required[0] != "message" {
		t.Errorf("form required = %v, want [message]", required)
	}
	props := outcome.FormSchema["properties"].(map[string]any)
	msg := props["message"].(map[string]any)
	if msg["type"] != "string" {
		t.Errorf("properties.message.type = %v, want string", msg["type"])
	}

	// Second round with the user overlay merged in proceeds.
	retry := d.Dispatch(context.Background(), "Telegram.send_message",
		map[string]any{"chat_id": "@kyra"}, nil,
		Options{SmartInput: true, UserSupplied: map[string]any{"message": "hello"}})

	if retry.Kind != OutcomeResult || !retry.OK() {
		t.Fatalf("retry outcome = %+v, want success", retry)
	}
}

func TestDispatch_HandlerErrorWrapped(t *testing.T) {
	d := newTestDispatcher(t, map[string]*stubHandler{
		"flaky": {
			info: handler.Info{Name: "flaky"},
			run: func(ctx context.Context, params, creds map[string]any) (*handler.Result, error) {
				return nil, errors.New("connection refused")
			},
		},
	})

	outcome := d.Dispatch(context.Background(), "flaky", nil, nil, Options{})

	if outcome.Kind != OutcomeResult {
		t.Fatalf("kind = %v, want result", outcome.Kind)
	}
	if outcome.Result.Status != handler.StatusError {
		t.Fatalf("status = %v, want error", outcome.Result.Status)
	}
	if outcome.Result.Error != "connection refused" {
		t.Errorf("error = %q", outcome.Result.Error)
	}
}

func TestDispatch_PanicContained(t *testing.T) {
	d := newTestDispatcher(t, map[string]*stubHandler{
		"boom": {
			info: handler.Info{Name: "boom"},
			run: func(ctx context.Context, params, creds map[string]any) (*handler.Result, error) {
				panic("kaboom")
			},
		},
	})

	outcome := d.Dispatch(context.Background(), "boom", nil, nil, Options{})

	if outcome.Kind != OutcomeResult || outcome.Result.Status != handler.StatusError {
		t.Fatalf("outcome = %+v, want contained error result", outcome)
	}
}

func TestDispatch_DeadlineApplied(t *testing.T) {
	d := newTestDispatcher(t, map[string]*stubHandler{
		"slow": {
			info: handler.Info{Name: "slow"},
			run: func(ctx context.Context, params, creds map[string]any) (*handler.Result, error) {
				select {
				case <-ctx.Done():
					return handler.Errorf("deadline exceeded"), nil
				case <-time.After(5 * time.Second):
					return handler.Success("too late"), nil
				}
			},
		},
	})

	outcome := d.Dispatch(context.Background(), "slow", nil, nil,
		Options{Deadline: 20 * time.Millisecond})

	if outcome.Result.Status != handler.StatusError {
		t.Fatalf("result = %+v, want deadline error", outcome.Result)
	}
}
