package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kyra-dev/kyra/pkg/agent"
	"github.com/kyra-dev/kyra/pkg/config"
	"github.com/kyra-dev/kyra/pkg/connectors"
	"github.com/kyra-dev/kyra/pkg/dispatcher"
	"github.com/kyra-dev/kyra/pkg/handler"
	"github.com/kyra-dev/kyra/pkg/llm"
	"github.com/kyra-dev/kyra/pkg/memory"
	"github.com/kyra-dev/kyra/pkg/observability"
	"github.com/kyra-dev/kyra/pkg/scheduler"
	"github.com/kyra-dev/kyra/pkg/server"
	"github.com/kyra-dev/kyra/pkg/store"
	"github.com/kyra-dev/kyra/pkg/trigger"
	"github.com/kyra-dev/kyra/pkg/workflow"
)

// ServeCmd starts the engine: HTTP intake, scheduler, and the handler
// runtime.
type ServeCmd struct {
	Port    int  `help:"Port to listen on (overrides config)."`
	Observe bool `help:"Enable tracing (metrics are always on)."`
	Watch   bool `help:"Watch the config file for changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadEnvFiles(); err != nil {
		return err
	}

	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	cleanup, err := cli.initLogger(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	obs := observability.NewManager(observability.Config{
		Tracing: observability.TracerConfig{Enabled: c.Observe, ServiceName: "kyra"},
		Metrics: observability.MetricsConfig{Enabled: true},
	})
	if err := obs.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	triggerStore, err := trigger.NewSQLStore(db, cfg.Database.Driver)
	if err != nil {
		return err
	}
	flowStore, err := workflow.NewSQLStore(db, cfg.Database.Driver)
	if err != nil {
		return err
	}
	agentStore, err := agent.NewSQLStore(db, cfg.Database.Driver)
	if err != nil {
		return err
	}
	longTerm, err := memory.NewSQLLongTermStore(db, cfg.Database.Driver)
	if err != nil {
		return err
	}

	var shortTerm memory.Store = memory.NewBufferStore()
	if cfg.Redis.URL != "" {
		redisStore, err := memory.NewRedisStore(memory.RedisStoreConfig{
			URL: cfg.Redis.URL,
			TTL: cfg.RedisTTL(),
		})
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		shortTerm = redisStore
		slog.Info("Short-term memory backed by redis")
	}
	core := memory.NewCoreStore()
	episodic := memory.NewEpisodicStore()

	providers, err := buildProviders(cfg)
	if err != nil {
		return err
	}
	defer providers.Close()

	registry := handler.NewRegistry()
	disp := dispatcher.New(registry)

	agentExec := agent.NewExecutor(agentStore, providers, disp, shortTerm, agent.Defaults{
		Model:         cfg.LLM.DefaultModel,
		Temperature:   cfg.LLM.Temperature,
		MaxIterations: cfg.Agent.MaxIterations,
		MemoryWindow:  cfg.Agent.MemoryWindow,
		LoopDeadline:  time.Duration(cfg.Agent.LoopDeadline) * time.Second,
	}).WithLongTerm(longTerm).WithUsageRecorder(agentStore)

	flowExec := workflow.NewExecutor(flowStore, disp, envCredentials{}).
		WithStepDeadline(time.Duration(cfg.Dispatch.DefaultDeadline) * time.Second)

	sched := scheduler.New()
	defer sched.Stop()

	cron := trigger.NewCronTrigger(triggerStore, sched, flowExec)
	webhooks := trigger.NewWebhookTrigger(triggerStore, cfg.Server.PublicBaseURL, cfg.Triggers.SigningSecret)
	polling := trigger.NewPollingTrigger("http", triggerStore, sched, flowExec,
		connectors.NewHTTPPoller(), trigger.DefaultPollCap)

	pushServices := []trigger.PushService{
		trigger.ServiceDrive, trigger.ServiceGmail, trigger.ServiceGitHub, trigger.ServiceSlack,
	}
	pushes := make(map[trigger.PushService]*trigger.PushTrigger, len(pushServices))
	for _, svc := range pushServices {
		pushes[svc] = trigger.NewPushTrigger(svc, triggerStore, sched, flowExec,
			localArmer(), cfg.Triggers.SigningSecret)
	}

	if err := connectors.Register(registry, connectors.Deps{
		ShortTerm: shortTerm,
		Core:      core,
		Episodic:  episodic,
		Agent:     agentExec,
	}); err != nil {
		return fmt.Errorf("failed to register handlers: %w", err)
	}

	triggers := trigger.NewRegistry()
	schedulables := map[trigger.Type]handler.Schedulable{
		trigger.TypeCron:    cron,
		trigger.TypeWebhook: webhooks,
		trigger.TypePolling: polling,
	}
	for svc, pt := range pushes {
		schedulables[pushType(svc)] = pt
	}
	for typ, t := range schedulables {
		if err := triggers.RegisterTrigger(typ, t); err != nil {
			return err
		}
		if err := registry.RegisterNode(t.Info().Name, t); err != nil {
			return err
		}
	}

	// Armed registrations survive restarts; rebuild their scheduler jobs.
	if err := cron.Restore(ctx); err != nil {
		return &schedulerInitError{err}
	}
	if err := polling.Restore(ctx); err != nil {
		return &schedulerInitError{err}
	}

	srv := server.New(server.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, triggerStore, webhooks, flowExec).WithMetricsHandler(obs.GetMetrics().Handler())
	for svc, pt := range pushes {
		srv.RegisterPush(svc, pt)
	}

	status := registry.Status()
	slog.Info("Engine starting",
		"tools", status.Tools, "nodes", status.Nodes,
		"llm_providers", providers.Providers(),
		"driver", cfg.Database.Driver)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	if c.Watch && cli.Config != "" {
		g.Go(func() error {
			return watchConfig(gctx, cli.Config)
		})
	}
	return g.Wait()
}

// buildProviders registers every LLM provider whose API key is present.
func buildProviders(cfg *config.Config) (*llm.Registry, error) {
	providers := llm.NewRegistry()
	cacheTTL := time.Duration(cfg.LLM.CacheTTL) * time.Second

	wrap := func(p llm.Provider) llm.Provider {
		if cacheTTL > 0 {
			return llm.NewCachingProvider(p, cacheTTL)
		}
		return p
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		p, err := llm.NewOpenAIProvider(key)
		if err != nil {
			return nil, err
		}
		if err := providers.RegisterProvider(wrap(p), "gpt-", "o1", "o3", "o4"); err != nil {
			return nil, err
		}
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		p, err := llm.NewAnthropicProvider(key)
		if err != nil {
			return nil, err
		}
		if err := providers.RegisterProvider(wrap(p), "claude-"); err != nil {
			return nil, err
		}
	}

	if len(providers.Providers()) == 0 {
		slog.Warn("No LLM API keys found; agent runs will fail until one is configured")
	}
	return providers, nil
}

// schedulerInitError marks failures while rebuilding scheduler jobs at
// startup; main maps it to its own exit code.
type schedulerInitError struct {
	err error
}

func (e *schedulerInitError) Error() string {
	return "scheduler initialization failed: " + e.err.Error()
}

func (e *schedulerInitError) Unwrap() error {
	return e.err
}

// localArmer issues channel identity locally. Services whose channels are
// configured on the provider side (GitHub webhooks, Slack event
// subscriptions) need nothing more; the initial resume token comes from
// the arm parameters.
func localArmer() trigger.Armer {
	return trigger.ArmerFunc(func(ctx context.Context, svc trigger.PushService, args, creds map[string]any) (string, string, error) {
		token, err := trigger.NewWebhookToken()
		if err != nil {
			return "", "", err
		}
		resume, _ := args["resume_token"].(string)
		return token, resume, nil
	})
}

func pushType(svc trigger.PushService) trigger.Type {
	switch svc {
	case trigger.ServiceDrive:
		return trigger.TypeDrive
	case trigger.ServiceGmail:
		return trigger.TypeGmail
	case trigger.ServiceGitHub:
		return trigger.TypeGitHub
	default:
		return trigger.TypeSlack
	}
}

// watchConfig logs config file changes. Most settings require a restart;
// the log line tells the operator the running process is stale.
func watchConfig(ctx context.Context, path string) error {
	changes, err := config.Watch(ctx, path)
	if err != nil {
		return err
	}
	for range changes {
		if _, err := config.Load(path); err != nil {
			slog.Error("Config file changed but no longer validates", "error", err)
			continue
		}
		slog.Info("Config file changed; restart to apply", "path", path)
	}
	return nil
}

// envCredentials resolves a step's creds_ref from the environment. The
// variable KYRA_CRED_<REF> holds either a JSON object or a bare token.
type envCredentials struct{}

func (envCredentials) Resolve(ctx context.Context, userID, ref string) (map[string]any, error) {
	name := "KYRA_CRED_" + strings.ToUpper(strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, ref))

	value := os.Getenv(name)
	if value == "" {
		return nil, fmt.Errorf("credential %q not found (set %s)", ref, name)
	}

	var creds map[string]any
	if err := json.Unmarshal([]byte(value), &creds); err == nil {
		return creds, nil
	}
	return map[string]any{"token": value}, nil
}
