package connectors

import (
	"context"

	"github.com/kyra-dev/kyra/pkg/handler"
	"github.com/kyra-dev/kyra/pkg/memory"
)

// memoryHandlers builds the memory tool set from whichever stores are
// configured.
func memoryHandlers(deps Deps) map[string]handler.Handler {
	handlers := make(map[string]handler.Handler)
	if deps.Episodic != nil {
		handlers["Memory.remember"] = &rememberHandler{store: deps.Episodic}
		handlers["Memory.recall"] = &recallHandler{store: deps.Episodic}
	}
	if deps.Core != nil {
		handlers["Memory.core_set"] = &coreSetHandler{store: deps.Core}
		handlers["Memory.core_get"] = &coreGetHandler{store: deps.Core}
	}
	if deps.ShortTerm != nil {
		handlers["Memory.recent"] = &recentHandler{store: deps.ShortTerm}
	}
	return handlers
}

type rememberHandler struct {
	store *memory.EpisodicStore
}

func (h *rememberHandler) Info() handler.Info {
	return handler.Info{
		Name:        "Memory.remember",
		Description: "Record an episodic memory with an importance weight",
		Kind:        handler.KindTool,
		Parameters: []handler.ParameterSpec{
			{Name: "agent_id", Type: handler.TypeString, Required: true},
			{Name: "content", Type: handler.TypeString, Required: true},
			{Name: "importance", Type: handler.TypeNumber,
				Description: "0..1, clamped"},
			{Name: "tags", Type: handler.TypeArray, Items: handler.TypeString},
		},
		Capabilities: []string{handler.CapabilityMemory},
	}
}

func (h *rememberHandler) Execute(ctx context.Context, params, creds map[string]any) (*handler.Result, error) {
	agentID, _ := params["agent_id"].(string)
	content, _ := params["content"].(string)
	if agentID == "" || content == "" {
		return handler.Errorf("agent_id and content are required"), nil
	}

	importance := 0.5
	if v, ok := params["importance"].(float64); ok {
		importance = v
	}
	tags, _ := stringSlice(params["tags"])

	ep, err := h.store.Record(ctx, agentID, content, importance, tags)
	if err != nil {
		return handler.Errorf("failed to record memory: %v", err), nil
	}
	return handler.Success(map[string]any{"id": ep.ID, "importance": ep.Importance}), nil
}

type recallHandler struct {
	store *memory.EpisodicStore
}

func (h *recallHandler) Info() handler.Info {
	return handler.Info{
		Name:        "Memory.recall",
		Description: "Retrieve episodic memories ranked by decayed importance",
		Kind:        handler.KindTool,
		Parameters: []handler.ParameterSpec{
			{Name: "agent_id", Type: handler.TypeString, Required: true},
			{Name: "query", Type: handler.TypeString},
			{Name: "time_window_hours", Type: handler.TypeNumber},
			{Name: "top_k", Type: handler.TypeInteger},
		},
		Capabilities: []string{handler.CapabilityMemory},
	}
}

func (h *recallHandler) Execute(ctx context.Context, params, creds map[string]any) (*handler.Result, error) {
	agentID, _ := params["agent_id"].(string)
	if agentID == "" {
		return handler.Errorf("agent_id is required"), nil
	}
	query, _ := params["query"].(string)
	window, _ := params["time_window_hours"].(float64)
	topK := 0
	if v, ok := params["top_k"].(float64); ok {
		topK = int(v)
	}

	episodes, err := h.store.Retrieve(ctx, agentID, query, window, topK)
	if err != nil {
		return handler.Errorf("failed to retrieve memories: %v", err), nil
	}

	items := make([]map[string]any, 0, len(episodes))
	for _, ep := range episodes {
		items = append(items, map[string]any{
			"id":         ep.ID,
			"content":    ep.Content,
			"importance": ep.Importance,
			"tags":       ep.Tags,
		})
	}
	return handler.Success(map[string]any{"memories": items, "count": len(items)}), nil
}

type coreSetHandler struct {
	store *memory.CoreStore
}

func (h *coreSetHandler) Info() handler.Info {
	return handler.Info{
		Name:        "Memory.core_set",
		Description: "Set or append an always-in-context core section",
		Kind:        handler.KindTool,
		Parameters: []handler.ParameterSpec{
			{Name: "agent_id", Type: handler.TypeString, Required: true},
			{Name: "section", Type: handler.TypeString, Required: true},
			{Name: "content", Type: handler.TypeString, Required: true},
			{Name: "append", Type: handler.TypeBoolean},
		},
		Capabilities: []string{handler.CapabilityMemory},
	}
}

func (h *coreSetHandler) Execute(ctx context.Context, params, creds map[string]any) (*handler.Result, error) {
	agentID, _ := params["agent_id"].(string)
	section, _ := params["section"].(string)
	content, _ := params["content"].(string)
	if agentID == "" || section == "" {
		return handler.Errorf("agent_id and section are required"), nil
	}

	var err error
	if doAppend, _ := params["append"].(bool); doAppend {
		err = h.store.Append(ctx, agentID, section, content)
	} else {
		err = h.store.Set(ctx, agentID, section, content)
	}
	if err != nil {
		return handler.Errorf("%v", err), nil
	}
	return handler.Success(map[string]any{"section": section}), nil
}

type coreGetHandler struct {
	store *memory.CoreStore
}

func (h *coreGetHandler) Info() handler.Info {
	return handler.Info{
		Name:        "Memory.core_get",
		Description: "Read a core memory section, or all sections rendered",
		Kind:        handler.KindTool,
		Parameters: []handler.ParameterSpec{
			{Name: "agent_id", Type: handler.TypeString, Required: true},
			{Name: "section", Type: handler.TypeString,
				Description: "Empty returns every section rendered"},
		},
		Capabilities: []string{handler.CapabilityMemory},
	}
}

func (h *coreGetHandler) Execute(ctx context.Context, params, creds map[string]any) (*handler.Result, error) {
	agentID, _ := params["agent_id"].(string)
	if agentID == "" {
		return handler.Errorf("agent_id is required"), nil
	}

	if section, _ := params["section"].(string); section != "" {
		content, err := h.store.Get(ctx, agentID, section)
		if err != nil {
			return handler.Errorf("%v", err), nil
		}
		return handler.Success(map[string]any{"section": section, "content": content}), nil
	}

	rendered, err := h.store.Render(ctx, agentID)
	if err != nil {
		return handler.Errorf("%v", err), nil
	}
	return handler.Success(map[string]any{"content": rendered}), nil
}

type recentHandler struct {
	store memory.Store
}

func (h *recentHandler) Info() handler.Info {
	return handler.Info{
		Name:        "Memory.recent",
		Description: "List the current run's recorded tool interactions",
		Kind:        handler.KindTool,
		Parameters: []handler.ParameterSpec{
			{Name: "agent_id", Type: handler.TypeString, Required: true},
		},
		Capabilities: []string{handler.CapabilityMemory},
	}
}

func (h *recentHandler) Execute(ctx context.Context, params, creds map[string]any) (*handler.Result, error) {
	agentID, _ := params["agent_id"].(string)
	if agentID == "" {
		return handler.Errorf("agent_id is required"), nil
	}

	items, err := h.store.Load(ctx, agentID)
	if err != nil {
		return handler.Errorf("failed to load short-term memory: %v", err), nil
	}
	return handler.Success(map[string]any{"items": items, "count": len(items)}), nil
}
