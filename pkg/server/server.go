// Package server exposes the engine's HTTP surface: webhook intake,
// push-notification endpoints, health, and metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kyra-dev/kyra/pkg/observability"
	"github.com/kyra-dev/kyra/pkg/trigger"
	"github.com/kyra-dev/kyra/pkg/workflow"
)

const (
	// DefaultSyncTimeout bounds a delayed-mode webhook response; past it
	// the request is answered as received and the flow keeps running in
	// the background.
	DefaultSyncTimeout = 30 * time.Second

	maxWebhookBody = 1 << 20
)

// FlowRunner executes the flow a trigger event targets. The workflow
// executor satisfies it.
type FlowRunner interface {
	ExecuteEvent(ctx context.Context, event *trigger.Event) *workflow.ExecutionResult
}

// Registrations is the slice of the trigger store the server routes with.
type Registrations interface {
	FindByToken(ctx context.Context, token string) (*trigger.Registration, error)
	LogWebhookEvent(ctx context.Context, event *trigger.WebhookEvent) error
}

// Receiver handles verified push notifications for one service.
type Receiver interface {
	Receive(ctx context.Context, reg *trigger.Registration, n *trigger.Notification) error
}

// Config tunes the HTTP server.
type Config struct {
	Host        string
	Port        int
	SyncTimeout time.Duration
}

// Server is the engine's HTTP front end.
type Server struct {
	cfg      Config
	router   *chi.Mux
	regs     Registrations
	webhooks *trigger.WebhookTrigger
	pushes   map[trigger.PushService]Receiver
	runner   FlowRunner
	metrics  http.Handler

	httpServer *http.Server
}

func New(cfg Config, regs Registrations, webhooks *trigger.WebhookTrigger, runner FlowRunner) *Server {
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = DefaultSyncTimeout
	}

	s := &Server{
		cfg:      cfg,
		regs:     regs,
		webhooks: webhooks,
		pushes:   make(map[trigger.PushService]Receiver),
		runner:   runner,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", http.HandlerFunc(s.handleMetrics))

	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch} {
		r.Method(method, "/webhooks/{token}", http.HandlerFunc(s.handleWebhook(false)))
		r.Method(method, "/webhooks-test/{token}", http.HandlerFunc(s.handleWebhook(true)))
	}
	r.Post("/hooks/{service}/{token}", s.handlePush)

	s.router = r
	return s
}

// RegisterPush binds a push trigger to its /hooks/{service} endpoint.
func (s *Server) RegisterPush(service trigger.PushService, receiver Receiver) {
	s.pushes[service] = receiver
}

// WithMetricsHandler serves the given handler at /metrics.
func (s *Server) WithMetricsHandler(h http.Handler) *Server {
	s.metrics = h
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start blocks serving HTTP until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		http.NotFound(w, r)
		return
	}
	s.metrics.ServeHTTP(w, r)
}

// handleWebhook runs the intake sequence: resolve the token, persist the
// raw request, authorize, then hand the event to the flow runner per the
// registration's respond mode.
func (s *Server) handleWebhook(isTest bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		token := chi.URLParam(r, "token")

		reg, err := s.regs.FindByToken(ctx, token)
		if err != nil {
			s.respondStatus(ctx, w, r, http.StatusNotFound, map[string]any{"error": "unknown webhook"})
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
		if err != nil || len(body) > maxWebhookBody {
			s.respondStatus(ctx, w, r, http.StatusRequestEntityTooLarge, map[string]any{"error": "body too large"})
			return
		}

		headers := flattenHeaders(r.Header)

		// The raw request is durable before any flow code runs.
		logErr := s.regs.LogWebhookEvent(ctx, &trigger.WebhookEvent{
			FlowID:  reg.FlowID,
			Path:    r.URL.Path,
			Method:  r.Method,
			Body:    string(body),
			Headers: headers,
		})
		if logErr != nil {
			slog.Error("Failed to persist webhook event", "flow", reg.FlowID, "error", logErr)
			s.respondStatus(ctx, w, r, http.StatusInternalServerError, map[string]any{"error": "persistence failure"})
			return
		}

		inbound := &trigger.InboundRequest{
			Method:  r.Method,
			Headers: headers,
			Body:    body,
			IsTest:  isTest,
		}
		if err := s.webhooks.Authorize(reg, inbound); err != nil {
			slog.Debug("Webhook rejected", "flow", reg.FlowID, "error", err)
			s.respondStatus(ctx, w, r, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
			return
		}

		event := s.webhooks.BuildEvent(reg, inbound)

		// Test deliveries and delayed-mode registrations answer with the
		// flow outcome; immediate mode acknowledges right away.
		if !isTest && s.webhooks.RespondMode(reg) == trigger.RespondImmediate {
			go s.runDetached(event)
			s.respondStatus(ctx, w, r, http.StatusOK, map[string]any{"status": "received"})
			return
		}

		s.respondWithOutcome(ctx, w, r, event)
	}
}

// respondWithOutcome runs the flow synchronously up to the sync timeout,
// then converts to a delayed acknowledgement while the flow finishes in
// the background.
func (s *Server) respondWithOutcome(ctx context.Context, w http.ResponseWriter, r *http.Request, event *trigger.Event) {
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan *workflow.ExecutionResult, 1)
	go func() {
		defer cancel()
		done <- s.runner.ExecuteEvent(runCtx, event)
	}()

	timer := time.NewTimer(s.cfg.SyncTimeout)
	defer timer.Stop()

	select {
	case res := <-done:
		status := http.StatusOK
		if res.Status == workflow.StatusError {
			status = http.StatusUnprocessableEntity
		}
		s.respondStatus(ctx, w, r, status, map[string]any{
			"status":       res.Status,
			"reason":       res.Reason,
			"execution_id": res.ExecutionID,
			"output":       res.Output,
		})
	case <-timer.C:
		slog.Info("Webhook response converted to delayed", "flow", event.FlowID)
		s.respondStatus(ctx, w, r, http.StatusOK, map[string]any{"status": "received"})
	}
}

func (s *Server) runDetached(event *trigger.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	res := s.runner.ExecuteEvent(ctx, event)
	if res.Status == workflow.StatusError {
		slog.Warn("Webhook flow failed", "flow", event.FlowID, "reason", res.Reason)
	}
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	service := trigger.PushService(chi.URLParam(r, "service"))
	token := chi.URLParam(r, "token")

	receiver, ok := s.pushes[service]
	if !ok {
		s.respondStatus(ctx, w, r, http.StatusNotFound, map[string]any{"error": "unknown service"})
		return
	}
	reg, err := s.regs.FindByToken(ctx, token)
	if err != nil {
		s.respondStatus(ctx, w, r, http.StatusNotFound, map[string]any{"error": "unknown channel"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.respondStatus(ctx, w, r, http.StatusBadRequest, map[string]any{"error": "unreadable body"})
		return
	}

	n := &trigger.Notification{Headers: flattenHeaders(r.Header), Body: body}
	if err := receiver.Receive(ctx, reg, n); err != nil {
		slog.Debug("Push notification rejected", "service", service, "error", err)
		s.respondStatus(ctx, w, r, http.StatusBadRequest, map[string]any{"error": "rejected"})
		return
	}
	s.respondStatus(ctx, w, r, http.StatusOK, map[string]any{"status": "received"})
}

func (s *Server) respondStatus(ctx context.Context, w http.ResponseWriter, r *http.Request, status int, payload map[string]any) {
	observability.GetGlobalMetrics().RecordWebhookRequest(ctx, r.URL.Path, status)
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
