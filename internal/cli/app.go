package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/soyeahso/switchboard/internal/agent"
	"github.com/soyeahso/switchboard/internal/config"
	"github.com/soyeahso/switchboard/internal/conversation"
	"github.com/soyeahso/switchboard/internal/events"
	"github.com/soyeahso/switchboard/internal/hooks"
	"github.com/soyeahso/switchboard/internal/lease"
	"github.com/soyeahso/switchboard/internal/llm"
	"github.com/soyeahso/switchboard/internal/logging"
	"github.com/soyeahso/switchboard/internal/orchestrator"
	"github.com/soyeahso/switchboard/internal/store"
	"github.com/soyeahso/switchboard/internal/store/postgres"
	"github.com/soyeahso/switchboard/internal/tools"
	"github.com/soyeahso/switchboard/internal/tools/calendar"
	"github.com/soyeahso/switchboard/internal/tools/policy"
	"github.com/soyeahso/switchboard/internal/workflow"
)

// backend is a store holding both the event log and the conversation records.
type backend interface {
	events.Log
	conversation.Store
}

// app is the assembled turn pipeline shared by serve and the local commands.
type app struct {
	cfg     config.Config
	hooks   *hooks.Manager
	orch    *orchestrator.Orchestrator
	closers []func()
}

// Close releases the store and lease connections.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// loadConfig loads and validates the config file.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}
	if issues := config.Validate(&cfg); len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return cfg, fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}
	return cfg, nil
}

// newApp builds the orchestrator and its collaborators from cfg.
func newApp(ctx context.Context, cfg config.Config, log *logging.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, hooks: hooks.NewManager(log)}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := events.InitIDs(cfg.Orchestrator.NodeID); err != nil {
		return nil, fmt.Errorf("initializing event ids: %w", err)
	}

	st, err := a.openStore(ctx, log)
	if err != nil {
		return nil, err
	}
	leaser, err := a.openLeaser(ctx, log)
	if err != nil {
		return nil, err
	}

	exec, err := newExecutor(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	agents, err := agent.NewRegistryFromConfig(cfg.Agents)
	if err != nil {
		return nil, fmt.Errorf("building agents: %w", err)
	}
	wfs, err := workflow.NewRegistryFromConfig(cfg.Workflows)
	if err != nil {
		return nil, fmt.Errorf("building workflows: %w", err)
	}
	models := llm.NewRegistryFromConfig(cfg.LLM, log)

	a.orch = orchestrator.New(orchestrator.Deps{
		Events:     st,
		Store:      st,
		Leaser:     leaser,
		Classifier: agent.NewKeywordClassifier(),
		Router: agent.NewRouter(agents, agent.RouterOptions{
			FallbackThreshold: cfg.Agents.FallbackThreshold,
			FallbackTurns:     cfg.Agents.FallbackTurns,
		}, log),
		Workflows: workflow.NewEngine(wfs, exec, log),
		Responder: agent.NewResponder(models, exec, log),
		Hooks:     a.hooks,
	}, orchestrator.OptionsFromConfig(&cfg), log)

	log.Info().
		Str("store", cfg.Store.Driver).
		Str("lease", cfg.Lease.Driver).
		Strs("agents", agents.IDs()).
		Strs("workflows", wfs.Names()).
		Strs("providers", models.Providers()).
		Msg("turn pipeline ready")
	return a, nil
}

func (a *app) openStore(ctx context.Context, log *logging.Logger) (backend, error) {
	switch a.cfg.Store.Driver {
	case "memory":
		log.Warn().Msg("using in-memory store, conversations are lost on restart")
		return store.NewMemoryStore(), nil
	case "postgres":
		pg, err := postgres.New(ctx, postgres.Config{
			DSN:      a.cfg.Store.DSN,
			MaxConns: int32(a.cfg.Store.MaxConns),
		}, log)
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		return pg, nil
	default:
		path := a.cfg.Store.Path
		if path == "" {
			path = paths.Database
		}
		db, err := store.Open(path, log)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		return store.NewSQLiteStore(db), nil
	}
}

func (a *app) openLeaser(ctx context.Context, log *logging.Logger) (lease.Leaser, error) {
	if a.cfg.Lease.Driver != "redis" {
		return lease.NewMemoryLeaser(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Lease.RedisAddr,
		Password: a.cfg.Lease.RedisPassword,
		DB:       a.cfg.Lease.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", a.cfg.Lease.RedisAddr, err)
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	log.Info().Str("addr", a.cfg.Lease.RedisAddr).Msg("using redis leases")
	return lease.NewRedisLeaser(client, a.cfg.Lease.Prefix), nil
}

// newExecutor registers the builtin tools over the configured booking
// backend and guards them with the tool policy.
func newExecutor(ctx context.Context, cfg config.Config, log *logging.Logger) (*tools.Executor, error) {
	var booker tools.Booker = tools.NewMemoryBooker()
	if cfg.Calendar != nil {
		b, err := calendar.New(ctx, calendarConfig(cfg.Calendar))
		if err != nil {
			return nil, fmt.Errorf("opening calendar: %w", err)
		}
		booker = b
		log.Info().Str("calendar", cfg.Calendar.CalendarID).Msg("booking into google calendar")
	}

	var hours tools.BusinessHours
	if len(cfg.Tools.BusinessHours) > 0 {
		hours = tools.BusinessHours(cfg.Tools.BusinessHours)
	}
	dir := make(tools.StaticDirectory, 0, len(cfg.Tools.Customers))
	for _, c := range cfg.Tools.Customers {
		dir = append(dir, tools.Customer{
			ID:            c.ID,
			Name:          c.Name,
			Phone:         c.Phone,
			Email:         c.Email,
			AccountStatus: c.AccountStatus,
		})
	}

	var kb tools.KnowledgeBase
	if len(cfg.Tools.Knowledge) > 0 {
		articles := make(tools.StaticKnowledgeBase, 0, len(cfg.Tools.Knowledge))
		for _, a := range cfg.Tools.Knowledge {
			articles = append(articles, tools.Article{
				ID:       a.ID,
				Category: a.Category,
				Question: a.Question,
				Answer:   a.Answer,
				Keywords: a.Keywords,
			})
		}
		kb = articles
	}

	reg := tools.NewRegistry()
	reg.MustRegister(tools.Builtins(booker, hours, dir)...)
	reg.MustRegister(tools.DeskTools(tools.NewMemoryDesk(), kb)...)

	var rules string
	if cfg.Tools.PolicyFile != "" {
		b, err := os.ReadFile(cfg.Tools.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("reading tool policy: %w", err)
		}
		rules = string(b)
	}
	engine, err := policy.NewEngine(ctx, rules)
	if err != nil {
		return nil, err
	}

	return tools.NewExecutor(reg, tools.Options{
		Timeout:     time.Duration(cfg.Tools.TimeoutSeconds) * time.Second,
		MaxAttempts: cfg.Tools.MaxAttempts,
		Backoff:     time.Duration(cfg.Tools.BackoffMs) * time.Millisecond,
		Authorizer:  engine,
	}, log), nil
}

func calendarConfig(c *config.CalendarConfig) calendar.Config {
	token := c.TokenFile
	if token == "" {
		token = paths.CalendarToken()
	}
	return calendar.Config{
		CredentialsFile: c.CredentialsFile,
		TokenFile:       token,
		CalendarID:      c.CalendarID,
		TimeZone:        c.TimeZone,
		SlotDuration:    time.Duration(c.SlotMinutes) * time.Minute,
	}
}
