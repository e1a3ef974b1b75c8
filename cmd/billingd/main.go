// Command billingd serves the billing API, receives provider webhooks and runs
// the reconciliation sweep.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/billing/pkg/checkout"
	"github.com/dmitrymomot/billing/pkg/config"
	"github.com/dmitrymomot/billing/pkg/email"
	"github.com/dmitrymomot/billing/pkg/gateway"
	"github.com/dmitrymomot/billing/pkg/httpserver"
	"github.com/dmitrymomot/billing/pkg/logger"
	"github.com/dmitrymomot/billing/pkg/metrics"
	"github.com/dmitrymomot/billing/pkg/notify"
	"github.com/dmitrymomot/billing/pkg/pg"
	"github.com/dmitrymomot/billing/pkg/reconcile"
	"github.com/dmitrymomot/billing/pkg/redis"
	"github.com/dmitrymomot/billing/pkg/subscription"
	"github.com/dmitrymomot/billing/pkg/subscription/pgstore"
	"github.com/dmitrymomot/billing/pkg/webhook"
	"github.com/dmitrymomot/billing/pkg/webhook/outbound"
)

type appConfig struct {
	PlansFile              string        `env:"BILLING_PLANS_FILE"`
	PrimaryGateway         string        `env:"BILLING_PRIMARY_GATEWAY" envDefault:"stripe"`
	CheckoutTimeout        time.Duration `env:"BILLING_CHECKOUT_TIMEOUT" envDefault:"20s"`
	WebhookRecentCapacity  int           `env:"BILLING_WEBHOOK_RECENT_CAPACITY" envDefault:"1024"`
	BreakerFailures        int           `env:"BILLING_BREAKER_FAILURES" envDefault:"5"`
	BreakerRecoveryTimeout time.Duration `env:"BILLING_BREAKER_RECOVERY" envDefault:"30s"`
	BreakerSuccesses       int           `env:"BILLING_BREAKER_SUCCESSES" envDefault:"2"`
	ReadinessTimeout       time.Duration `env:"BILLING_READINESS_TIMEOUT" envDefault:"2s"`
	OutboundTimeout        time.Duration `env:"BILLING_OUTBOUND_TIMEOUT" envDefault:"10s"`
	OutboundAttempts       int           `env:"BILLING_OUTBOUND_ATTEMPTS" envDefault:"4"`
}

func main() {
	if err := run(); err != nil {
		slog.Error("billingd stopped", logger.Error(err))
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		logCfg    logger.Config
		appCfg    appConfig
		httpCfg   httpserver.Config
		pgCfg     pg.Config
		redisCfg  redis.Config
		stripeCfg gateway.StripeConfig
		paddleCfg gateway.PaddleConfig
		recCfg    reconcile.Config
		emailCfg  email.Config
	)
	if err := errors.Join(
		config.Load(&logCfg),
		config.Load(&appCfg),
		config.Load(&httpCfg),
		config.Load(&pgCfg),
		config.Load(&redisCfg),
		config.Load(&stripeCfg),
		config.Load(&paddleCfg),
		config.Load(&recCfg),
		config.Load(&emailCfg),
	); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.NewFromConfig(logCfg, logger.WithContextExtractors(
		logger.RequestIDExtractor,
		subscription.LoggerExtractor,
	))
	logger.SetAsDefault(log)

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if pgCfg.AutoMigrate {
		if err := pg.Migrate(ctx, pool, pgstore.Migrations, pgCfg, log); err != nil {
			return err
		}
	}

	checks := []httpserver.Check{{Name: "postgres", Fn: pg.Healthcheck(pool)}}

	var idempotency gateway.IdempotencyStore = gateway.NewMemoryIdempotencyStore()
	if redisCfg.Enabled() {
		client, err := redis.Connect(ctx, redisCfg)
		if err != nil {
			return err
		}
		defer client.Close()
		idempotency = gateway.NewRedisIdempotencyStore(client, "")
		checks = append(checks, httpserver.Check{Name: "redis", Fn: redis.Healthcheck(client)})
	}

	catalog := subscription.MustCatalog(subscription.DefaultPlans())
	if appCfg.PlansFile != "" {
		if catalog, err = subscription.LoadCatalog(ctx, subscription.NewYAMLSource(appCfg.PlansFile)); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	store := pgstore.New(pool)
	orgs := pgstore.NewOrganizations(pool)
	dispatcher := outbound.New(orgs,
		outbound.WithLogger(log),
		outbound.WithTimeout(appCfg.OutboundTimeout),
		outbound.WithRetry(appCfg.OutboundAttempts, time.Second),
		outbound.WithDeliveryHook(m.OutboundDelivery()),
	)
	serviceOpts := []subscription.ServiceOption{
		subscription.WithLogger(log),
		subscription.WithObserver(m.Transition()),
		subscription.WithObserver(dispatcher.Observer()),
	}

	sender, err := email.SenderFromConfig(emailCfg)
	if err != nil {
		return err
	}
	var notifier *notify.Notifier
	if sender != nil {
		notifier = notify.New(orgs, catalog, sender,
			notify.WithLogger(log),
			notify.WithSupportEmail(emailCfg.SupportEmail),
		)
		serviceOpts = append(serviceOpts, subscription.WithObserver(notifier.Observer()))
	}
	subs := subscription.NewService(store, orgs, catalog, serviceOpts...)

	gws, err := newGateways(appCfg, stripeCfg, paddleCfg, idempotency, m, log)
	if err != nil {
		return err
	}

	checkoutOpts := []checkout.Option{
		checkout.WithTimeout(appCfg.CheckoutTimeout),
		checkout.WithLogger(log),
		checkout.WithAttemptHook(m.CheckoutAttempt()),
	}
	if gws.secondary != nil {
		checkoutOpts = append(checkoutOpts, checkout.WithSecondary(gws.secondary))
	}
	orch := checkout.New(subs, gws.primary, checkoutOpts...)

	processor := webhook.NewProcessor(subs, gws.parsers,
		webhook.WithLogger(log),
		webhook.WithRecentCapacity(appCfg.WebhookRecentCapacity),
		webhook.WithOnProcessed(m.WebhookProcessed()),
	)

	scheduler := reconcile.New(subs, store, gws.all(), recCfg,
		reconcile.WithLogger(log),
		reconcile.WithSweepHook(m.Sweep()),
		reconcile.WithRunOnStart(),
	)

	r := httpserver.NewRouter(log)
	r.Get("/healthz", httpserver.Liveness())
	r.Get("/readyz", httpserver.Readiness(log, appCfg.ReadinessTimeout, checks...))
	r.Handle("/metrics", metrics.Handler(reg))
	r.Mount("/webhooks", processor.Handler())
	r.Mount("/", orch.Handler())

	srv := httpserver.NewFromConfig(httpCfg, httpserver.WithLogger(log))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Runner(gctx, r))
	g.Go(scheduler.Run(gctx))
	g.Go(dispatcher.Run(gctx))
	if notifier != nil {
		g.Go(notifier.Run(gctx))
	}

	log.InfoContext(ctx, "billingd started",
		slog.String("addr", httpCfg.Addr),
		slog.String("primary_gateway", string(gws.primary.Provider())),
	)
	return g.Wait()
}
