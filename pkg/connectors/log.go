package connectors

import (
	"context"
	"log/slog"

	"github.com/kyra-dev/kyra/pkg/handler"
	"github.com/kyra-dev/kyra/pkg/redact"
)

// LogHandler writes a structured log line from a flow or agent. Params
// are redacted before logging.
type LogHandler struct{}

func (h *LogHandler) Info() handler.Info {
	return handler.Info{
		Name:        "log",
		Description: "Write a structured log entry",
		Kind:        handler.KindBoth,
		Parameters: []handler.ParameterSpec{
			{Name: "message", Type: handler.TypeString, Required: true},
			{Name: "level", Type: handler.TypeString,
				Description: "debug, info, warn, or error; default info"},
			{Name: "data", Type: handler.TypeObject},
		},
	}
}

func (h *LogHandler) Execute(ctx context.Context, params, creds map[string]any) (*handler.Result, error) {
	message, _ := params["message"].(string)
	if message == "" {
		return handler.Errorf("message is required"), nil
	}

	data, _ := params["data"].(map[string]any)
	attrs := []any{"source", "flow"}
	if len(data) > 0 {
		attrs = append(attrs, "data", redact.Map(data))
	}

	level, _ := params["level"].(string)
	switch level {
	case "debug":
		slog.Debug(message, attrs...)
	case "warn":
		slog.Warn(message, attrs...)
	case "error":
		slog.Error(message, attrs...)
	default:
		level = "info"
		slog.Info(message, attrs...)
	}

	return handler.Success(map[string]any{"logged": true, "level": level}), nil
}

var _ handler.Handler = (*LogHandler)(nil)
