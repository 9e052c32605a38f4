package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mtzanidakis/crew/internal/config"
	"github.com/mtzanidakis/crew/internal/coordinator"
	"github.com/mtzanidakis/crew/internal/export"
	"github.com/mtzanidakis/crew/internal/metrics"
	"github.com/mtzanidakis/crew/internal/natsbus"
	"github.com/mtzanidakis/crew/internal/registry"
	"github.com/mtzanidakis/crew/internal/router"
	"github.com/mtzanidakis/crew/internal/scheduler"
	"github.com/mtzanidakis/crew/internal/store"
	"github.com/mtzanidakis/crew/internal/telegram"
	"github.com/mtzanidakis/crew/internal/web"
)

const runHistoryAge = 7 * 24 * time.Hour

// gateway holds the long-lived components that a config reload updates.
type gateway struct {
	cfg    *config.Config
	db     *store.Store
	client *natsbus.Client
	coord  *coordinator.Coordinator
	router *router.Router
	sched  *scheduler.Scheduler
	web    *web.Server
}

func runGateway() error {
	cfg, db, secrets, err := loadConfig()
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("starting crew gateway", "version", version)
	slog.Info("store initialized", "path", cfg.Store.Path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Embedded NATS
	bus, err := natsbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()
	slog.Info("nats started", "port", bus.Port())

	client, err := natsbus.NewClient(bus)
	if err != nil {
		return fmt.Errorf("init nats client: %w", err)
	}
	defer client.Close()
	if err := client.EnsureRunHistory(ctx, runHistoryAge); err != nil {
		return fmt.Errorf("init run history: %w", err)
	}

	// Crew definitions
	reg, err := registry.New(cfg.Crews.Dir)
	if err != nil {
		return fmt.Errorf("load crews: %w", err)
	}
	slog.Info("crews loaded", "count", len(reg.List()), "dir", reg.Dir())

	exporter, err := export.New(cfg.Export)
	if err != nil {
		return fmt.Errorf("init exporter: %w", err)
	}

	m := metrics.New()
	providers := registry.NewProviders(cfg, db)

	// Coordinator
	coord := coordinator.New(reg, providers,
		coordinator.WithExporter(exporter),
		coordinator.WithBus(client),
		coordinator.WithRetry(retryPolicy(cfg.Retry)),
		coordinator.WithListener(m),
		coordinator.WithMaxConcurrent(cfg.Crews.MaxConcurrent),
	)
	if err := coord.ServeIPC(ctx, client); err != nil {
		return fmt.Errorf("serve ipc: %w", err)
	}

	if cfg.Crews.Watch {
		err := reg.Watch(ctx, func(ch registry.Changes) {
			_ = client.PublishNotice(natsbus.TopicEventsCrews, "crews_reloaded", ch)
		})
		if err != nil {
			return fmt.Errorf("watch crews: %w", err)
		}
	}

	// Message router
	rtr := router.New(reg, cfg.Router)
	setRouterModel(rtr, cfg, providers)

	// Scheduler
	sched := scheduler.New(db, coord, client, cfg.Scheduler)
	go sched.Start(ctx)

	g := &gateway{cfg: cfg, db: db, client: client, coord: coord, router: rtr, sched: sched}

	// Telegram bot
	if cfg.Telegram.Token != "" {
		bot, err := telegram.NewBot(cfg.Telegram, coord, rtr)
		if err != nil {
			return fmt.Errorf("init telegram bot: %w", err)
		}
		go func() {
			if err := bot.Start(ctx); err != nil {
				slog.Error("telegram bot error", "error", err)
			}
		}()
		slog.Info("telegram bot started")
	} else {
		slog.Warn("telegram token not set, bot disabled")
	}

	// Web API
	if cfg.Web.Enabled {
		g.web = web.NewServer(db, client, coord, secrets, m, cfg.Web, version)
		go func() {
			if err := g.web.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
		slog.Info("web server started", "port", cfg.Web.Port)
	}

	// Wait for shutdown signal, reload on SIGHUP
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			g.reload()
			continue
		}
		slog.Info("shutting down", "signal", sig)
		break
	}
	cancel()
	return nil
}

func setRouterModel(rtr *router.Router, cfg *config.Config, providers *registry.Providers) {
	if cfg.Router.Provider == "" {
		rtr.SetModel(nil)
		return
	}
	p, err := providers.Get(cfg.Router.Provider)
	if err != nil {
		slog.Warn("router model unavailable, routing to default crew only", "provider", cfg.Router.Provider, "error", err)
		rtr.SetModel(nil)
		return
	}
	rtr.SetModel(p)
}

// reload re-reads the config file and applies what can change at runtime.
func (g *gateway) reload() {
	next, err := config.Load()
	if err != nil {
		slog.Error("config reload failed, keeping current config", "error", err)
		return
	}
	if _, err := openSecrets(next, g.db); err != nil {
		slog.Error("config reload failed, keeping current config", "error", err)
		return
	}

	diff := config.Diff(g.cfg, next)
	for _, field := range diff.NonReloadable {
		slog.Warn("config field changed but needs a restart", "field", field)
	}
	if g.web != nil {
		g.web.UpdateConfig(next.Web)
	}
	if !diff.HasChanges() {
		slog.Info("config reloaded, nothing to apply")
		g.cfg = next
		return
	}

	providers := registry.NewProviders(next, g.db)
	if len(diff.ProvidersAdded)+len(diff.ProvidersRemoved)+len(diff.ProvidersChanged) > 0 || diff.DefaultProviderChanged {
		g.coord.UpdateProviders(providers)
	}
	if diff.RetryChanged {
		g.coord.UpdateRetry(retryPolicy(diff.NewRetry))
	}
	if diff.RouterChanged {
		g.router.SetDefaultCrew(diff.NewRouter.DefaultCrew)
	}
	setRouterModel(g.router, next, providers)
	if diff.SchedulerChanged {
		g.sched.UpdateConfig(diff.NewScheduler)
	}
	g.cfg = next

	slog.Info("config reloaded",
		"providers_added", diff.ProvidersAdded,
		"providers_removed", diff.ProvidersRemoved,
		"providers_changed", diff.ProvidersChanged,
		"retry", diff.RetryChanged,
		"router", diff.RouterChanged,
		"scheduler", diff.SchedulerChanged,
	)
	_ = g.client.PublishNotice(natsbus.TopicEventsConfig, "config_reloaded", nil)
}
