package handler

import (
	"fmt"

	"github.com/kyra-dev/kyra/pkg/registry"
)

// Registry holds the two handler namespaces. Tools are invoked by the
// agent loop; nodes are invoked by workflow steps. A handler may be
// registered in both under the same name with identical semantics.
type Registry struct {
	tools *registry.BaseRegistry[Handler]
	nodes *registry.BaseRegistry[Handler]
}

// RegistryStatus enumerates registry state for observability.
type RegistryStatus struct {
	Tools   []string `json:"tools"`
	Nodes   []string `json:"nodes"`
	Scanned int      `json:"scanned"`
}

func NewRegistry() *Registry {
	return &Registry{
		tools: registry.NewBaseRegistry[Handler](),
		nodes: registry.NewBaseRegistry[Handler](),
	}
}

// RegisterTool adds a handler to the tool namespace.
func (r *Registry) RegisterTool(name string, h Handler) error {
	if h == nil {
		return fmt.Errorf("handler for tool '%s' cannot be nil", name)
	}
	if err := r.tools.Register(name, h); err != nil {
		return fmt.Errorf("failed to register tool: %w", err)
	}
	return nil
}

// RegisterNode adds a handler to the node namespace.
func (r *Registry) RegisterNode(name string, h Handler) error {
	if h == nil {
		return fmt.Errorf("handler for node '%s' cannot be nil", name)
	}
	if err := r.nodes.Register(name, h); err != nil {
		return fmt.Errorf("failed to register node: %w", err)
	}
	return nil
}

// Tool resolves a handler in the tool namespace.
func (r *Registry) Tool(name string) (Handler, error) {
	h, exists := r.tools.Get(name)
	if !exists {
		return nil, &NotFoundError{
			Namespace:  "tool",
			Attempted:  []string{name},
			Candidates: r.tools.Names(),
		}
	}
	return h, nil
}

// Node resolves a handler in the node namespace. Three keys are tried in
// order: "node.action", "node", "action". Repositories persist either the
// long or the short form, so both must keep resolving.
func (r *Registry) Node(node, action string) (Handler, error) {
	attempted := make([]string, 0, 3)

	if node != "" && action != "" {
		key := node + "." + action
		attempted = append(attempted, key)
		if h, exists := r.nodes.Get(key); exists {
			return h, nil
		}
	}
	if node != "" {
		attempted = append(attempted, node)
		if h, exists := r.nodes.Get(node); exists {
			return h, nil
		}
	}
	if action != "" {
		attempted = append(attempted, action)
		if h, exists := r.nodes.Get(action); exists {
			return h, nil
		}
	}

	return nil, &NotFoundError{
		Namespace:  "node",
		Attempted:  attempted,
		Candidates: r.nodes.Names(),
	}
}

// Resolve looks up name in the tool namespace first, then falls back to
// the node namespace with the triple-key strategy. This is the dispatcher's
// entry point.
func (r *Registry) Resolve(name string) (Handler, error) {
	if h, exists := r.tools.Get(name); exists {
		return h, nil
	}

	node, action := SplitName(name)
	h, err := r.Node(node, action)
	if err == nil {
		return h, nil
	}

	nf := err.(*NotFoundError)
	return nil, &NotFoundError{
		Namespace:  "tool+node",
		Attempted:  append([]string{name}, nf.Attempted...),
		Candidates: append(r.tools.Names(), nf.Candidates...),
	}
}

// Status enumerates registered names per namespace.
func (r *Registry) Status() RegistryStatus {
	tools := r.tools.Names()
	nodes := r.nodes.Names()
	return RegistryStatus{
		Tools:   tools,
		Nodes:   nodes,
		Scanned: len(tools) + len(nodes),
	}
}

// ToolNames returns the tool namespace contents in sorted order.
func (r *Registry) ToolNames() []string {
	return r.tools.Names()
}

// SplitName splits "Domain.action" into its node and action parts.
// A single token yields (token, "").
func SplitName(name string) (node, action string) {
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			return name[:i], name[i+1:]
		}
	}
	return name, ""
}
