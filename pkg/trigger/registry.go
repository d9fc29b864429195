package trigger

import (
	"context"
	"fmt"

	"github.com/kyra-dev/kyra/pkg/handler"
	"github.com/kyra-dev/kyra/pkg/registry"
)

// Registry maps trigger type tags to their schedulable handlers.
type Registry struct {
	*registry.BaseRegistry[handler.Schedulable]
}

func NewRegistry() *Registry {
	return &Registry{
		BaseRegistry: registry.NewBaseRegistry[handler.Schedulable](),
	}
}

func (r *Registry) RegisterTrigger(typ Type, t handler.Schedulable) error {
	if t == nil {
		return fmt.Errorf("trigger handler cannot be nil")
	}
	return r.Register(string(typ), t)
}

// Arm schedules a trigger of the given type.
func (r *Registry) Arm(ctx context.Context, typ Type, params, creds map[string]any) (*handler.Result, error) {
	t, ok := r.Get(string(typ))
	if !ok {
		return nil, fmt.Errorf("unknown trigger type %q", typ)
	}
	return t.Schedule(ctx, params, creds)
}

// Disarm unschedules a registration through its owning trigger type.
func (r *Registry) Disarm(ctx context.Context, typ Type, registrationID string) (*handler.Result, error) {
	t, ok := r.Get(string(typ))
	if !ok {
		return nil, fmt.Errorf("unknown trigger type %q", typ)
	}
	return t.Unschedule(ctx, registrationID)
}
