package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/joss/codecrew/internal/agent"
	"github.com/joss/codecrew/internal/config"
	"github.com/joss/codecrew/internal/event"
	"github.com/joss/codecrew/internal/journal"
	"github.com/joss/codecrew/internal/logging"
	"github.com/joss/codecrew/internal/metrics"
	"github.com/joss/codecrew/internal/orchestrator"
	"github.com/joss/codecrew/internal/permission"
	"github.com/joss/codecrew/internal/process"
	"github.com/joss/codecrew/internal/provider"
	"github.com/joss/codecrew/internal/render"
	"github.com/joss/codecrew/internal/runtime"
	"github.com/joss/codecrew/internal/tokens"
	"github.com/joss/codecrew/internal/tool"
	"github.com/joss/codecrew/internal/workspace"
	"github.com/joss/codecrew/pkg/llm"
)

// appOptions are the run flags that shape wiring. A non-nil invoker
// replaces the OpenAI client.
type appOptions struct {
	mode    render.ApprovalMode
	verbose bool
	in      *bufio.Reader
	out     io.Writer
	invoker llm.Invoker
}

// app is one wired session: every collaborator of a run and the shutdown
// manager that tears them down in reverse order.
type app struct {
	shutdown *runtime.ShutdownManager
	bus      *event.Bus
	gate     *permission.Gate
	session  *orchestrator.Session
	log      *logging.Logger
}

func newApp(cfg *config.Config, opts appOptions) (a *app, err error) {
	log := logging.New("cli")
	sm := runtime.NewShutdownManager(runtime.DefaultShutdownTimeout)
	defer func() {
		if err != nil {
			sm.Shutdown()
		}
	}()

	sb, err := workspace.New(cfg.Workspace)
	if err != nil {
		return nil, err
	}

	invoker := opts.invoker
	if invoker == nil {
		if cfg.LLM.APIKey == "" && cfg.LLM.BaseURL == "" {
			return nil, errors.New("no model endpoint: set OPENAI_API_KEY or llm.base_url")
		}
		invoker = provider.NewOpenAI(provider.Config{
			APIKey:        cfg.LLM.APIKey,
			BaseURL:       cfg.LLM.BaseURL,
			Model:         cfg.LLM.Model,
			RatePerSecond: cfg.LLM.RatePerSecond,
			Timeout:       cfg.LLM.Timeout,
			MaxRetries:    cfg.LLM.MaxRetries,
		})
	}

	m := metrics.New()
	if cfg.Metrics.Addr != "" {
		srv := metrics.NewServer(cfg.Metrics.Addr, m)
		if err := srv.Start(); err != nil {
			return nil, fmt.Errorf("start metrics server: %w", err)
		}
		sm.Register("metrics server", srv.Stop)
	}

	procs := process.NewManager(process.WithActiveGauge(m.SetProcesses))
	procs.RegisterShutdown(sm)

	jr, err := journal.Open(cfg.DataDir, cfg.Workspace)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	sm.Register("journal", func(context.Context) error { return jr.Close() })

	jsonl := event.NewJSONLSink(filepath.Join(cfg.Workspace, "logs", "events"))
	sm.Register("event log", func(context.Context) error { return jsonl.Close() })

	console := render.NewConsole(opts.out, opts.verbose)
	bus := event.NewBus(cfg.Events.Buffer, event.WithDropHook(m.Dropped))
	busCtx, stopBus := context.WithCancel(context.Background())
	busDone := make(chan struct{})
	go func() {
		defer close(busDone)
		bus.Run(busCtx, jsonl, jr, console, m)
	}()
	// Registered after the sinks so the queue drains before they close.
	sm.Register("event bus", func(ctx context.Context) error {
		stopBus()
		select {
		case <-busDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	store, err := permission.Open(permission.FileFor(cfg.DataDir, cfg.Workspace))
	if err != nil {
		return nil, err
	}
	if err := store.Watch(sm.Context(), func(ps permission.PatternSet) {
		log.Info("permission patterns reloaded",
			zap.Int("allow", len(ps.Allow)), zap.Int("deny", len(ps.Deny)), zap.Int("ask", len(ps.Ask)))
	}); err != nil {
		log.Warn("pattern file not watched", zap.Error(err))
	}

	prompter := render.NewPrompter(opts.in, opts.out, opts.mode)
	runner := tool.NewRunner(tool.Policy{
		Timeout:    cfg.Tools.Timeout,
		MaxRetries: cfg.Tools.MaxRetries,
		BackoffMin: cfg.Tools.BackoffMin,
		BackoffMax: cfg.Tools.BackoffMax,
	})
	gate := permission.NewGate(store, runner, bus,
		permission.WithNotify(prompter.Notify),
		permission.WithRecorder(m))
	prompter.Bind(gate)

	tools := tool.Builtins(tool.Env{
		Sandbox:        sb,
		Processes:      procs,
		Events:         bus,
		ShellTimeout:   cfg.Tools.ShellTimeout,
		SearchEndpoint: cfg.Tools.SearchEndpoint,
		HTTP:           &http.Client{Timeout: 30 * time.Second},
	})

	rt := agent.New(invoker, gate, tools,
		agent.WithLimits(agent.Limits{
			TokenBudget:     cfg.Context.TokenBudget,
			KeepLast:        cfg.Context.KeepLast,
			KeepLastPlanner: cfg.Context.KeepLastPlanner,
			MaxSteps:        cfg.Orchestrator.MaxSteps,
		}),
		agent.WithEstimator(tokens.ForName(cfg.Context.Estimator)))

	orch := orchestrator.New(rt,
		orchestrator.WithTurnRecorder(m),
		orchestrator.WithRunStore(jr),
		orchestrator.WithObserver(console.Observe))

	return &app{
		shutdown: sm,
		bus:      bus,
		gate:     gate,
		session:  orchestrator.NewSession(orch, cfg.Orchestrator.MaxIterations),
		log:      log,
	}, nil
}

// Close runs every shutdown hook.
func (a *app) Close() error {
	pending := len(a.gate.Pending())
	err := a.shutdown.Shutdown()
	a.log.Info("session closed",
		zap.Int64("events_dropped", a.bus.Dropped()),
		zap.Int("abandoned_approvals", pending))
	return err
}
