package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"genrelay/internal/adapter/gateway"
	"genrelay/internal/adapter/llm"
	"genrelay/internal/adapter/notify"
	"genrelay/internal/catalog"
	"genrelay/internal/domain"
	"genrelay/internal/infra/config"
	"genrelay/internal/infra/logger"
	"genrelay/internal/infra/metrics"
	"genrelay/internal/infra/tracer"
	"genrelay/internal/usecase/dispatch"
	"genrelay/internal/usecase/eventbus"
)

// loadConfig reads the config file and then the env file it names, so
// credentials kept there are visible to the adapter factory. Variables
// already set in the process environment win over the env file.
func loadConfig(g *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(g.resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigLoad, err)
	}
	if g.logLevel != "" {
		cfg.Logger.Level = g.logLevel
	}
	if cfg.EnvFile != "" {
		if err := godotenv.Load(cfg.EnvFile); err != nil {
			return nil, fmt.Errorf("%w: env file %s: %v", domain.ErrConfigLoad, cfg.EnvFile, err)
		}
	}
	return cfg, nil
}

// loadTable assembles the descriptor table: the built-in table (unless
// disabled) followed by the configured file, with credential overrides
// applied last.
func loadTable(cfg config.CatalogConfig) (catalog.Table, error) {
	var table catalog.Table
	if cfg.IncludeDefaults {
		t, err := catalog.Default()
		if err != nil {
			return catalog.Table{}, fmt.Errorf("built-in descriptor table: %w", err)
		}
		table = t
	}
	if cfg.Path != "" {
		extra, err := catalog.Load(cfg.Path)
		if err != nil {
			return catalog.Table{}, err
		}
		if cfg.IncludeDefaults {
			table = table.Merge(extra)
		} else {
			table = extra
		}
	}
	if table.Len() == 0 {
		return catalog.Table{}, fmt.Errorf("%w: descriptor table is empty", domain.ErrConfiguration)
	}
	return table.WithCredentialEnv(cfg.Credentials), nil
}

func newFactory(cfg *config.Config, log *slog.Logger) *llm.Factory {
	return llm.NewFactory(log,
		llm.WithProviders(cfg.Providers),
		llm.WithCircuitBreaker(cfg.Dispatch.CircuitBreaker),
		llm.WithDisabledLibraries(cfg.Catalog.DisableLibraries),
	)
}

func chainConfig(cfg config.DispatchConfig) dispatch.ChainConfig {
	return dispatch.ChainConfig{
		Primary:      cfg.Primary,
		Fallbacks:    cfg.Fallbacks,
		AutoDiscover: cfg.AutoDiscover,
	}
}

// app holds everything a dispatching command needs.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	table      catalog.Table
	chain      *dispatch.Chain
	bus        *eventbus.Bus
	metrics    *metrics.Collector
	dispatcher *dispatch.Dispatcher

	closers []func(context.Context) error
}

// newApp wires config, logging, tracing, the chain, notification sinks and
// the dispatcher. Call Close when done.
func newApp(ctx context.Context, g *globalFlags) (*app, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(log)

	a := &app{cfg: cfg, logger: log}
	a.closers = append(a.closers, func(context.Context) error { return closeLog() })

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("tracer: %w", err)
	}
	a.closers = append(a.closers, shutdownTracer)

	a.table, err = loadTable(cfg.Catalog)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.chain, err = dispatch.BuildChain(a.table, newFactory(cfg, log), chainConfig(cfg.Dispatch), log)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.metrics = metrics.New(cfg.Metrics, prometheus.NewRegistry())
	a.metrics.SetChainSize(a.chain.Len())

	a.bus = eventbus.New(log)
	sinks, err := notify.Sinks(cfg.Notify, log)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	detach := notify.AttachAll(a.bus, sinks, log)

	a.dispatcher = dispatch.New(a.chain, dispatch.Options{
		Retry:    dispatch.RetryPolicyFromConfig(cfg.Dispatch),
		Timeout:  cfg.Dispatch.Timeout,
		Notifier: eventbus.NewNotifier(a.bus),
		Recorder: a.metrics,
		Logger:   log,
	})

	// Closers run in reverse: dispatcher first so pending notifications
	// reach the bus, then the bus drains into the sinks.
	a.closers = append(a.closers,
		func(context.Context) error { detach(); return nil },
		func(context.Context) error { a.bus.Close(); return nil },
		func(context.Context) error { a.dispatcher.Close(); return nil },
	)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// chainEntries describes the chain for display and for the gateway.
func chainEntries(chain *dispatch.Chain) []gateway.ChainEntry {
	entries := chain.Entries()
	out := make([]gateway.ChainEntry, len(entries))
	for i, e := range entries {
		desc := e.Adapter.Descriptor()
		out[i] = gateway.ChainEntry{
			Position: i,
			Provider: desc.Provider,
			Model:    desc.Model,
			Kind:     desc.Kind,
			Tasks:    servedTasks(e.Adapter),
			Origin:   string(e.Origin),
		}
	}
	return out
}

func servedTasks(a domain.Adapter) []domain.TaskKind {
	var tasks []domain.TaskKind
	for _, t := range domain.TaskKinds {
		if a.Supports(t) {
			tasks = append(tasks, t)
		}
	}
	return tasks
}
